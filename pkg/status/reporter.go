package status

import (
	"fmt"
	"io"
	"sync"

	"github.com/Veraticus/ptyjig/pkg/interfaces"
	"github.com/Veraticus/ptyjig/pkg/process"
)

const prefix = "jig"

// Reporter writes diagnostics for the user, one line each, prefixed with
// the program name.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReporter creates a reporter writing to w, normally stderr.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Ensure Reporter implements DiagnosticReporter
var _ interfaces.DiagnosticReporter = (*Reporter)(nil)

// Errorf reports a failure of the controller itself.
func (r *Reporter) Errorf(format string, args ...any) {
	r.println(fmt.Sprintf(format, args...))
}

// Error reports err. Errors carrying an exit code report their message.
func (r *Reporter) Error(err error) {
	if err == nil {
		return
	}
	r.println(err.Error())
}

// Termination reports how the target named prog ended. Normal exits are
// silent; deaths by signal print the signal description.
func (r *Reporter) Termination(prog string, st process.Status) {
	if !st.Signaled() {
		return
	}
	_, desc := Describe(st.Signal)
	if st.CoreDump {
		desc += " (core dumped)"
	}
	r.println(fmt.Sprintf("%s: %s", prog, desc))
}

func (r *Reporter) println(msg string) {
	if r == nil || r.w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.w, "%s: %s\n", prefix, msg)
}

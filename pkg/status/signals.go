// Package status turns target terminations into exit codes and the
// one-line diagnostics printed on stderr.
package status

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/Veraticus/ptyjig/pkg/exitcode"
	"github.com/Veraticus/ptyjig/pkg/process"
	"golang.org/x/sys/unix"
)

// descriptions is keyed by the platform's own signal numbers.
var descriptions = map[syscall.Signal]string{
	unix.SIGHUP:    "Hangup",
	unix.SIGINT:    "Interrupt",
	unix.SIGQUIT:   "Quit",
	unix.SIGILL:    "Illegal instruction",
	unix.SIGTRAP:   "Trace/breakpoint trap",
	unix.SIGABRT:   "Aborted",
	unix.SIGBUS:    "Bus error",
	unix.SIGFPE:    "Floating point exception",
	unix.SIGKILL:   "Killed",
	unix.SIGUSR1:   "User defined signal 1",
	unix.SIGSEGV:   "Segmentation fault",
	unix.SIGUSR2:   "User defined signal 2",
	unix.SIGPIPE:   "Broken pipe",
	unix.SIGALRM:   "Alarm clock",
	unix.SIGTERM:   "Terminated",
	unix.SIGCHLD:   "Child exited",
	unix.SIGCONT:   "Continued",
	unix.SIGSTOP:   "Stopped (signal)",
	unix.SIGTSTP:   "Stopped",
	unix.SIGTTIN:   "Stopped (tty input)",
	unix.SIGTTOU:   "Stopped (tty output)",
	unix.SIGURG:    "Urgent I/O condition",
	unix.SIGXCPU:   "CPU time limit exceeded",
	unix.SIGXFSZ:   "File size limit exceeded",
	unix.SIGVTALRM: "Virtual timer expired",
	unix.SIGPROF:   "Profiling timer expired",
	unix.SIGWINCH:  "Window changed",
	unix.SIGIO:     "I/O possible",
	unix.SIGSYS:    "Bad system call",
}

// Describe returns the short name ("SEGV") and the human description
// ("Segmentation fault") of sig. Signals the table does not know get
// their platform name, if any, and "Signal N".
func Describe(sig syscall.Signal) (name, description string) {
	name = strings.TrimPrefix(unix.SignalName(sig), "SIG")
	if name == "" {
		name = fmt.Sprintf("%d", int(sig))
	}
	if d, ok := descriptions[sig]; ok {
		return name, d
	}
	return name, fmt.Sprintf("Signal %d", int(sig))
}

// ExitCode maps a termination status to the session exit code: the exit
// status itself, or 128+N for death by signal N.
func ExitCode(st process.Status) int {
	if st.Signaled() {
		return exitcode.FromSignal(int(st.Signal))
	}
	return st.Code
}

package process

import (
	"fmt"
	"os"
	"syscall"
)

// Target is a launched command running on the slave side of a pty.
type Target interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	// Exited is closed once the target has been reaped.
	Exited() <-chan struct{}
	// Status reports how the target ended; ok is false while it runs.
	Status() (st Status, ok bool)
}

// Status is the termination status of a reaped target.
type Status struct {
	Exited   bool
	Code     int
	Signal   syscall.Signal
	CoreDump bool
}

// Signaled reports whether the target was killed by a signal.
func (s Status) Signaled() bool {
	return !s.Exited && s.Signal != 0
}

func (s Status) String() string {
	if s.Signaled() {
		if s.CoreDump {
			return fmt.Sprintf("signal %d (core dumped)", int(s.Signal))
		}
		return fmt.Sprintf("signal %d", int(s.Signal))
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

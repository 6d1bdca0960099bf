package process

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Child is a Target started by a Launcher. It is reaped by its own
// goroutine rather than through exec.Cmd so that stops can be undone.
type Child struct {
	proc   *os.Process
	logger *slog.Logger
	exited chan struct{}

	mu     sync.Mutex
	status Status
	reaped bool
}

// Ensure Child implements Target
var _ Target = (*Child)(nil)

func newChild(name string, proc *os.Process, logger *slog.Logger) *Child {
	c := &Child{
		proc:   proc,
		logger: logger.With("command", name),
		exited: make(chan struct{}),
	}
	go c.reap()
	return c
}

// Pid returns the process id of the child.
func (c *Child) Pid() int {
	return c.proc.Pid
}

// Signal sends sig to the child. It returns os.ErrProcessDone once the
// child has been reaped.
func (c *Child) Signal(sig os.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reaped {
		return os.ErrProcessDone
	}
	return c.proc.Signal(sig)
}

// Kill sends SIGKILL to the child.
func (c *Child) Kill() error {
	return c.Signal(syscall.SIGKILL)
}

// Exited is closed once the child has been reaped.
func (c *Child) Exited() <-chan struct{} {
	return c.exited
}

// Status returns the termination status once the child has been reaped.
func (c *Child) Status() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.reaped
}

func (c *Child) reap() {
	defer close(c.exited)

	pid := c.proc.Pid
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			c.logger.Warn("wait for target failed", "pid", pid, "error", err)
			c.finish(Status{Exited: true, Code: 1})
			return
		}

		if ws.Stopped() {
			// A keyboard stop would leave the session wedged with nobody
			// to resume the target.
			if ws.StopSignal() == unix.SIGTSTP {
				c.logger.Debug("target stopped, resuming", "pid", pid)
				if err := c.proc.Signal(syscall.SIGCONT); err != nil {
					c.logger.Warn("resume target failed", "pid", pid, "error", err)
				}
			}
			continue
		}

		var st Status
		if ws.Signaled() {
			st.Signal = ws.Signal()
			st.CoreDump = ws.CoreDump()
		} else {
			st.Exited = true
			st.Code = ws.ExitStatus()
		}
		c.logger.Debug("target reaped", "pid", pid, "status", st.String())
		c.finish(st)
		return
	}
}

func (c *Child) finish(st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = st
	c.reaped = true
	_ = c.proc.Release()
}

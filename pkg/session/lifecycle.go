package session

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Veraticus/ptyjig/pkg/capture"
	"golang.org/x/sys/unix"
)

// State is the lifecycle phase of a session. Phases only move forward;
// any of them may jump to StateFinalizing.
type State int32

const (
	StateInit State = iota
	StateAllocated
	StateLaunched
	StateStreaming
	StateDraining
	StateFinalizing
	StateExited
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAllocated:
		return "allocated"
	case StateLaunched:
		return "launched"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateFinalizing:
		return "finalizing"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// terminating are the signals that end a session early.
var terminating = []os.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}

// interrupted ends a session on a terminating signal.
type interrupted struct {
	sig syscall.Signal
}

func (i *interrupted) Error() string {
	return "interrupted by " + i.sig.String()
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	s.logger.Debug("session state", "from", prev.String(), "to", next.String())
}

func (s *Session) handleSignal(sig os.Signal) error {
	ssig, ok := sig.(syscall.Signal)
	if !ok {
		return nil
	}
	switch ssig {
	case syscall.SIGWINCH:
		s.resize()
		return nil
	case syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
		return &interrupted{sig: ssig}
	}
	s.logger.Debug("ignoring signal", "signal", ssig.String())
	return nil
}

// resize copies the controlling terminal's window size to the pty and
// tells the target.
func (s *Session) resize() {
	if s.resizable && s.pair != nil {
		if err := s.pair.InheritSize(s.tty); err != nil {
			s.logger.Debug("copy window size failed", "error", err)
		}
	}
	if s.target == nil {
		return
	}
	if err := s.target.Signal(syscall.SIGWINCH); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("forward window change failed", "error", err)
	}
}

// finalize releases everything the session holds: a still running target
// is killed, both captures are closed and the pty is released. It runs
// at most once.
func (s *Session) finalize() {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}
	s.setState(StateFinalizing)
	close(s.stop)
	s.timer.Stop()

	if s.target != nil {
		if _, reaped := s.target.Status(); !reaped {
			if err := s.target.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.logger.Warn("kill target failed", "error", err)
			}
		}
	}

	for _, sink := range []*capture.Sink{s.inSink, s.outSink} {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil {
			s.logger.Warn("close capture failed", "file", sink.Name(), "error", err)
		}
	}

	if s.pair != nil {
		if err := s.pair.Close(); err != nil {
			s.logger.Debug("close pty failed", "error", err)
		}
	}
	s.setState(StateExited)
}

// Reraise ends the process the way sig would have: the default
// disposition is restored and sig is sent to the process. If the process
// survives it exits with code.
func Reraise(sig syscall.Signal, code int) {
	signal.Reset(sig)
	if err := unix.Kill(os.Getpid(), sig); err == nil {
		time.Sleep(time.Second)
	}
	os.Exit(code)
}

package session

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/Veraticus/ptyjig/pkg/capture"
	"github.com/Veraticus/ptyjig/pkg/exitcode"
)

const (
	readSize = 8192

	// drainWindow bounds the wait for trailing output once the target
	// has been reaped but the pty has not reported end of file.
	drainWindow = 100 * time.Millisecond
	// killWait bounds the wait for a killed target to be reaped.
	killWait = 5 * time.Second
)

// pump reads the master into fresh chunks until end of file.
func (s *Session) pump(chunks chan<- []byte) {
	defer close(chunks)

	buf := make([]byte, readSize)
	for {
		n, err := s.pair.Master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !isEOF(err) {
				s.logger.Debug("read pty failed", "error", err)
			}
			return
		}
	}
}

// isEOF reports whether err is how a master reports a vanished slave.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

// stream relays output until the pty ends, the target dies, the idle
// timer fires or something goes wrong.
func (s *Session) stream(ctx context.Context) error {
	chunks := make(chan []byte, 16)
	go s.pump(chunks)

	inputDone := s.inputDone
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				s.logger.Debug("pty reached end of file")
				return s.settle(ctx, nil)
			}
			if err := s.deliver(chunk); err != nil {
				return err
			}
			s.timer.Touch()
		case <-inputDone:
			inputDone = nil
			s.setState(StateDraining)
			s.timer.Arm()
		case <-s.timer.C():
			s.logger.Debug("output idle", "timeout", s.cfg.IdleTimeout)
			return s.settle(ctx, chunks)
		case <-s.target.Exited():
			return s.settle(ctx, chunks)
		case err := <-s.faults:
			return err
		case sig := <-s.signals:
			if err := s.handleSignal(sig); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// settle waits for the target to be reaped while delivering whatever
// output is left. A target still running after the grace period is
// killed.
func (s *Session) settle(ctx context.Context, chunks <-chan []byte) error {
	s.timer.Stop()

	exited := s.target.Exited()
	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()

	var drained <-chan time.Time
	killed := false
	for {
		if chunks == nil && exited == nil {
			return nil
		}
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := s.deliver(chunk); err != nil {
				return err
			}
		case <-exited:
			exited = nil
			grace.Stop()
			drained = time.After(drainWindow)
		case <-drained:
			return nil
		case <-grace.C:
			if killed {
				return exitcode.Newf(exitcode.ErrGeneral, "%s: still running after kill", s.name)
			}
			s.logger.Debug("target still running, killing", "pid", s.target.Pid())
			if err := s.target.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.logger.Warn("kill target failed", "error", err)
			}
			killed = true
			grace.Reset(killWait)
		case sig := <-s.signals:
			if err := s.handleSignal(sig); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// deliver writes chunk to stdout and the output capture. Output is the
// product of the session, so either failing ends it.
func (s *Session) deliver(chunk []byte) error {
	if !s.cfg.NoStdout {
		n, err := s.stdout.Write(chunk)
		if err == nil && n != len(chunk) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return exitcode.Wrap(exitcode.ErrGeneral, "write stdout", err)
		}
	}
	if s.outSink != nil {
		if _, err := s.outSink.Write(chunk); err != nil && !errors.Is(err, capture.ErrClosed) {
			return exitcode.Wrap(exitcode.ErrGeneral, "output capture", err)
		}
	}
	return nil
}

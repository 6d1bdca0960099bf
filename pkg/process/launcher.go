// Package process launches the target command on a pty and tracks it
// until it is reaped.
package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/Veraticus/ptyjig/pkg/config"
	"github.com/Veraticus/ptyjig/pkg/exitcode"
)

// Launcher starts targets through the launch shim: the running binary is
// re-executed with the slave as its controlling terminal, prepares itself
// and then replaces itself with the target.
type Launcher struct {
	// Executable is the binary run as the shim. Empty means the running
	// binary, which must call RunShim first thing in main.
	Executable string
	// NoSignals makes the target ignore the keyboard signals.
	NoSignals bool
	// StartWait is slept after the target reported ready.
	StartWait time.Duration
	// Env is the target environment, os.Environ() if nil.
	Env []string

	Logger *slog.Logger
}

// NewLauncher creates a launcher configured from cfg.
func NewLauncher(cfg *config.Config, logger *slog.Logger) *Launcher {
	return &Launcher{
		NoSignals: cfg.NoSignals,
		StartWait: cfg.StartWait,
		Logger:    logger,
	}
}

// Launch starts name with args on slave and blocks until the target is
// ready and the start wait has passed. If the context ends first the
// target, when it was started, is returned alongside the context error so
// the caller can dispose of it.
//
// A target that cannot be executed still yields a Target: it exits with
// status 127 after printing its own diagnostic.
func (l *Launcher) Launch(ctx context.Context, slave *os.File, name string, args []string) (Target, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	self := l.Executable
	if self == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, exitcode.Wrap(exitcode.ErrLaunch, "locate launch shim", err)
		}
		self = exe
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrLaunch, "create ready pipe", err)
	}
	defer func() { _ = readyR.Close() }()

	env := l.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(env[:len(env):len(env)], shimEnv+"=1")
	if l.NoSignals {
		env = append(env, shimNoSignalsEnv+"=1")
	}

	// #nosec G204 - the shim is this binary; the target comes from the command line
	cmd := exec.Command(self, append([]string{name}, args...)...)
	cmd.Env = env
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.ExtraFiles = []*os.File{readyW, os.Stderr}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	err = cmd.Start()
	_ = readyW.Close()
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrLaunch, fmt.Sprintf("start %s", name), err)
	}

	child := newChild(name, cmd.Process, logger)
	logger.Debug("target started", "pid", child.Pid(), "command", name)

	ready := make(chan bool, 1)
	go func() {
		var b [1]byte
		n, _ := readyR.Read(b[:])
		ready <- n == 1 && b[0] == readyByte
	}()

	select {
	case ok := <-ready:
		if !ok {
			// The shim died before exec; the reaper reports how.
			logger.Debug("target exited before it was ready", "pid", child.Pid())
			return child, nil
		}
	case <-ctx.Done():
		return child, ctx.Err()
	}

	if l.StartWait > 0 {
		t := time.NewTimer(l.StartWait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return child, ctx.Err()
		}
	}

	return child, nil
}

// Package session wires a pty, a launched target and the two byte pumps
// between them, and decides how the whole thing ends.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/Veraticus/ptyjig/pkg/capture"
	"github.com/Veraticus/ptyjig/pkg/config"
	"github.com/Veraticus/ptyjig/pkg/exitcode"
	"github.com/Veraticus/ptyjig/pkg/idle"
	"github.com/Veraticus/ptyjig/pkg/interfaces"
	"github.com/Veraticus/ptyjig/pkg/process"
	"github.com/Veraticus/ptyjig/pkg/status"
	"github.com/Veraticus/ptyjig/pkg/terminal"
	"golang.org/x/term"
)

// Options are the collaborators of a session. Zero values fall back to
// the process's own stdio and the real launcher.
type Options struct {
	// Stdin is read one byte at a time by a goroutine of its own. A read
	// blocked when the session ends is not interrupted, so the goroutine
	// lives until Stdin returns; pass a reader that is closed afterwards
	// when Run is used as a library.
	Stdin  io.Reader
	Stdout io.Writer
	// Terminal is the terminal whose window size the pty follows.
	// Nothing is resized when it is nil or not a terminal.
	Terminal *os.File

	Launcher interfaces.Launcher
	Reporter interfaces.DiagnosticReporter
	Logger   *slog.Logger

	// Signals replaces the subscription to the process's signals.
	Signals <-chan os.Signal
	// Candidates replaces the default pty scan order.
	Candidates []terminal.Candidate
}

// Result is how a session ended.
type Result struct {
	// Code is the exit status for the controller.
	Code int
	// Signal is set when the session was ended by a terminating signal,
	// which the caller should re-raise on itself.
	Signal syscall.Signal
}

// Session runs one target under a pty.
type Session struct {
	cfg  *config.Config
	name string
	args []string

	stdin      io.Reader
	stdout     io.Writer
	tty        *os.File
	resizable  bool
	launcher   interfaces.Launcher
	reporter   interfaces.DiagnosticReporter
	logger     *slog.Logger
	signals    <-chan os.Signal
	candidates []terminal.Candidate

	state     atomic.Int32
	finalized atomic.Bool
	stop      chan struct{}

	pair      *terminal.Pair
	target    process.Target
	inSink    *capture.Sink
	outSink   *capture.Sink
	timer     *idle.Timer
	inputDone chan struct{}
	faults    chan error
}

// New creates a session that will run name with args.
func New(cfg *config.Config, name string, args []string, opts Options) *Session {
	s := &Session{
		cfg:        cfg,
		name:       name,
		args:       args,
		stdin:      opts.Stdin,
		stdout:     opts.Stdout,
		tty:        opts.Terminal,
		launcher:   opts.Launcher,
		reporter:   opts.Reporter,
		logger:     opts.Logger,
		signals:    opts.Signals,
		candidates: opts.Candidates,
		stop:       make(chan struct{}),
		timer:      idle.NewTimer(cfg.IdleTimeout),
		inputDone:  make(chan struct{}),
		faults:     make(chan error, 1),
	}

	if s.stdin == nil {
		s.stdin = os.Stdin
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.reporter == nil {
		s.reporter = status.NewReporter(os.Stderr)
	}
	if s.launcher == nil {
		s.launcher = process.NewLauncher(cfg, s.logger)
	}
	if s.tty != nil {
		s.resizable = term.IsTerminal(int(s.tty.Fd()))
	}
	return s
}

// Run runs the session to completion. Diagnostics have already been
// reported when it returns; the error is for callers that want the cause.
func (s *Session) Run(ctx context.Context) (Result, error) {
	// With SIGPIPE subscribed a write to a broken stdout fails with EPIPE
	// instead of killing the process. Unlike an ignored SIGPIPE, this is
	// not inherited by the target.
	pipe := make(chan os.Signal, 1)
	signal.Notify(pipe, syscall.SIGPIPE)
	defer signal.Stop(pipe)

	if s.signals == nil {
		ch := make(chan os.Signal, 4)
		signal.Notify(ch, append([]os.Signal{syscall.SIGWINCH}, terminating...)...)
		defer signal.Stop(ch)
		s.signals = ch
	}

	err := s.run(ctx)
	s.finalize()
	return s.result(err)
}

func (s *Session) run(ctx context.Context) error {
	if err := s.openSinks(); err != nil {
		return err
	}

	pair, err := terminal.Allocate(s.candidates...)
	if err != nil {
		s.logger.Debug("pty allocation failed", "error", err)
		return exitcode.New(exitcode.ErrNoPTY, terminal.ErrNoPTY.Error())
	}
	s.pair = pair
	s.setState(StateAllocated)
	s.logger.Debug("pty allocated", "slave", pair.SlavePath)

	mode, err := terminal.ParseLineMode(s.cfg.LineMode)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "line mode", err)
	}
	if err := pair.Configure(mode); err != nil {
		s.logger.Warn("configure pty failed", "error", err)
	}
	if s.resizable {
		if err := pair.InheritSize(s.tty); err != nil {
			s.logger.Debug("copy window size failed", "error", err)
		}
	}
	eof := pair.EOFChar()

	if err := s.launch(ctx); err != nil {
		return err
	}
	s.setState(StateLaunched)
	if err := pair.ReleaseSlave(); err != nil {
		s.logger.Debug("release slave failed", "error", err)
	}

	fwd := &forwarder{
		in:       s.stdin,
		master:   pair.Master,
		delay:    s.cfg.KeystrokeDelay,
		eof:      eof,
		sendEOF:  !s.cfg.NoEOF,
		endInput: s.endInput,
		logger:   s.logger,
		stop:     s.stop,
		done:     s.inputDone,
		faults:   s.faults,
	}
	if s.inSink != nil {
		fwd.sink = s.inSink
	}
	go fwd.run()

	s.setState(StateStreaming)
	return s.stream(ctx)
}

// endInput switches line editing back on for the end-of-input character
// unless the target has taken over the line discipline.
func (s *Session) endInput() {
	if _, err := s.pair.EndInput(); err != nil {
		s.logger.Debug("restore line editing failed", "error", err)
	}
}

func (s *Session) openSinks() error {
	if path := s.cfg.InputCapture; path != "" {
		sink, err := capture.OpenInput(path)
		if err != nil {
			return exitcode.Wrap(exitcode.ErrGeneral, "input capture", err)
		}
		s.inSink = sink
	}
	if path := s.cfg.OutputCapture; path != "" {
		sink, err := capture.OpenOutput(path)
		if err != nil {
			return exitcode.Wrap(exitcode.ErrGeneral, "output capture", err)
		}
		s.outSink = sink
	}
	return nil
}

// launch starts the target while still answering signals. A terminating
// signal cancels the launch; the target, if it got started, is kept so
// finalize can kill it.
func (s *Session) launch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type launched struct {
		target process.Target
		err    error
	}
	done := make(chan launched, 1)
	slave := s.pair.Slave()
	go func() {
		t, err := s.launcher.Launch(ctx, slave, s.name, s.args)
		done <- launched{target: t, err: err}
	}()

	var pending error
	resized := false
	for {
		select {
		case l := <-done:
			if l.target != nil {
				s.target = l.target
			}
			if pending != nil {
				return pending
			}
			if l.err == nil && l.target == nil {
				return exitcode.Newf(exitcode.ErrLaunch, "launch %s: no target", s.name)
			}
			if l.err != nil {
				var coded *exitcode.Error
				if errors.As(l.err, &coded) || errors.Is(l.err, context.Canceled) || errors.Is(l.err, context.DeadlineExceeded) {
					return l.err
				}
				return exitcode.Wrap(exitcode.ErrLaunch, "launch "+s.name, l.err)
			}
			s.logger.Debug("target ready", "pid", l.target.Pid())
			if resized {
				s.resize()
			}
			return nil
		case sig := <-s.signals:
			if sig == syscall.SIGWINCH {
				// Forwarded once there is a target to tell.
				resized = true
				continue
			}
			if err := s.handleSignal(sig); err != nil && pending == nil {
				pending = err
				cancel()
			}
		}
	}
}

func (s *Session) result(err error) (Result, error) {
	var intr *interrupted
	switch {
	case err == nil:
		st, ok := s.target.Status()
		if !ok {
			s.reporter.Errorf("%s: exit status unknown", s.name)
			return Result{Code: exitcode.ErrGeneral}, nil
		}
		s.reporter.Termination(s.name, st)
		return Result{Code: status.ExitCode(st)}, nil
	case errors.As(err, &intr):
		s.logger.Debug("session interrupted", "signal", intr.sig.String())
		return Result{Code: exitcode.FromSignal(int(intr.sig)), Signal: intr.sig}, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result{Code: exitcode.ErrGeneral}, err
	default:
		s.reporter.Error(err)
		return Result{Code: exitcode.Code(err)}, err
	}
}

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Veraticus/ptyjig/pkg/config"
	"github.com/Veraticus/ptyjig/pkg/interfaces"
	"github.com/Veraticus/ptyjig/pkg/process"
	"github.com/Veraticus/ptyjig/pkg/session"
	"github.com/Veraticus/ptyjig/pkg/status"
	"github.com/google/uuid"
)

// Dependencies holds all the dependencies for the application
type Dependencies struct {
	Config    *config.Config
	SessionID string
	Logger    *slog.Logger
	Reporter  interfaces.DiagnosticReporter
	Launcher  interfaces.Launcher

	Stdin    io.Reader
	Stdout   io.Writer
	Terminal *os.File
}

// NewDependencies creates all dependencies with the given configuration,
// wired to the process's own stdio.
func NewDependencies(cfg *config.Config) *Dependencies {
	deps := &Dependencies{
		Config:    cfg,
		SessionID: uuid.NewString(),
		Reporter:  status.NewReporter(os.Stderr),
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Terminal:  os.Stdin,
	}
	deps.Logger = newLogger(os.Stderr, cfg.Debug, deps.SessionID)
	deps.Launcher = process.NewLauncher(cfg, deps.Logger)
	return deps
}

// Application represents the main application
type Application struct {
	deps *Dependencies
}

// NewApplication creates a new application with the given dependencies
func NewApplication(deps *Dependencies) *Application {
	return &Application{
		deps: deps,
	}
}

// Run runs command with args under a pty until the session ends.
func (a *Application) Run(ctx context.Context, command string, args []string) (session.Result, error) {
	a.deps.Logger.Debug("starting session", "command", command, "args", args)

	s := session.New(a.deps.Config, command, args, session.Options{
		Stdin:    a.deps.Stdin,
		Stdout:   a.deps.Stdout,
		Terminal: a.deps.Terminal,
		Launcher: a.deps.Launcher,
		Reporter: a.deps.Reporter,
		Logger:   a.deps.Logger,
	})

	res, err := s.Run(ctx)
	a.deps.Logger.Debug("session ended", "code", res.Code, "error", err)
	return res, err
}

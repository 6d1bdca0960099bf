// Package interfaces defines the seams between the session and the
// components it drives.
package interfaces

import (
	"context"
	"os"

	"github.com/Veraticus/ptyjig/pkg/process"
)

// Launcher starts a target on the slave side of a pty.
type Launcher interface {
	Launch(ctx context.Context, slave *os.File, name string, args []string) (process.Target, error)
}

// DiagnosticReporter prints user-facing diagnostics.
type DiagnosticReporter interface {
	Errorf(format string, args ...any)
	Error(err error)
	Termination(prog string, st process.Status)
}

// ByteSink records a copy of a byte stream.
type ByteSink interface {
	Write(p []byte) (int, error)
	Close() error
}

package process

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/Veraticus/ptyjig/pkg/exitcode"
	"golang.org/x/sys/unix"
)

const (
	shimEnv          = "JIG_SHIM"
	shimNoSignalsEnv = "JIG_SHIM_NOSIG"

	// Descriptors handed to the shim after stdio.
	readyFD = 3
	diagFD  = 4

	readyByte = 'R'
)

// RunShim returns immediately unless the process was started by a
// Launcher, in which case it execs the target and never returns. Call it
// before anything else in main, and in TestMain of packages that launch.
func RunShim() {
	if os.Getenv(shimEnv) != "1" {
		return
	}
	os.Exit(runShim(os.Args[1:]))
}

func runShim(argv []string) int {
	ready := os.NewFile(readyFD, "ready")
	diag := os.NewFile(diagFD, "stderr")

	noSignals := os.Getenv(shimNoSignalsEnv) == "1"
	_ = os.Unsetenv(shimEnv)
	_ = os.Unsetenv(shimNoSignalsEnv)

	if len(argv) == 0 {
		_, _ = fmt.Fprintln(diag, "jig: no command to launch")
		return exitcode.ErrLaunch
	}
	fail := func(err error) int {
		_, _ = fmt.Fprintf(diag, "jig: %s: %v\n", argv[0], err)
		return exitcode.ErrLaunch
	}

	if noSignals {
		// Ignored dispositions survive exec.
		signal.Ignore(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fail(err)
	}

	unix.CloseOnExec(readyFD)
	unix.CloseOnExec(diagFD)

	if _, err := ready.Write([]byte{readyByte}); err != nil {
		return fail(fmt.Errorf("report ready: %w", err))
	}

	// #nosec G204 - running the user's command is the point
	err = unix.Exec(path, argv, os.Environ())
	return fail(err)
}

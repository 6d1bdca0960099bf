package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Veraticus/ptyjig/pkg/config"
	"github.com/Veraticus/ptyjig/pkg/exitcode"
	"github.com/Veraticus/ptyjig/pkg/process"
	"github.com/Veraticus/ptyjig/pkg/session"
	flag "github.com/spf13/pflag"
)

func main() {
	// A launched target passes through here first.
	process.RunShim()

	cfg, command, args, err := parseArgs(os.Args[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(exitcode.Success)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "jig: %v\n", err)
		if exitcode.Is(err, exitcode.ErrUsage) {
			printUsage(os.Stderr, nil)
		}
		os.Exit(exitcode.Code(err))
	}

	app := NewApplication(NewDependencies(cfg))
	res, _ := app.Run(context.Background(), command, args)

	if res.Signal != 0 {
		session.Reraise(res.Signal, res.Code)
	}
	os.Exit(res.Code)
}

// parseArgs loads the configuration and applies the command line on top
// of it. Help is printed to out and reported as flag.ErrHelp.
func parseArgs(argv []string, out io.Writer) (*config.Config, string, []string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", nil, exitcode.Wrap(exitcode.ErrGeneral, "config", err)
	}

	fs := flag.NewFlagSet("jig", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.BindFlags(fs)
	help := fs.BoolP("help", "h", false, "show this help")

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, fs)
			return nil, "", nil, err
		}
		return nil, "", nil, exitcode.Usage("%v", err)
	}
	if *help {
		printUsage(out, fs)
		return nil, "", nil, flag.ErrHelp
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", nil, exitcode.Usage("%v", err)
	}
	if fs.NArg() == 0 {
		return nil, "", nil, exitcode.Usage("no command given")
	}

	return cfg, fs.Arg(0), fs.Args()[1:], nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: jig [-esxc] [-i FILE] [-o FILE] [-d SEC] [-t SEC] [-w SEC] command [args...]")
	if fs == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Runs command on a pseudo-terminal, feeding it stdin and copying its output.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  JIG_CONFIG       Path to config file")
	fmt.Fprintln(w, "  JIG_WAIT         Start wait in seconds")
	fmt.Fprintln(w, "  JIG_DELAY        Keystroke delay in seconds")
	fmt.Fprintln(w, "  JIG_TIMEOUT      Idle timeout in seconds (0 disables)")
	fmt.Fprintln(w, "  JIG_LINE_MODE    raw or canonical")
	fmt.Fprintln(w, "  JIG_NO_EOF       Do not send the EOF character (true/false)")
	fmt.Fprintln(w, "  JIG_NO_SIGNALS   Target ignores keyboard signals (true/false)")
	fmt.Fprintln(w, "  JIG_NO_STDOUT    Do not copy output to stdout (true/false)")
	fmt.Fprintln(w, "  JIG_DEBUG        Log session internals to stderr (true/false)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration file: ~/.config/ptyjig/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit status is the command's, 128+N if it died of signal N,")
	fmt.Fprintln(w, "2 if no pty was available and 127 if it could not be run.")
}

package config

import (
	"strconv"
	"time"

	"github.com/Veraticus/ptyjig/pkg/terminal"
	flag "github.com/spf13/pflag"
)

// secondsValue adapts a time.Duration to a flag that takes seconds.
type secondsValue struct {
	dst *time.Duration
}

func (s secondsValue) String() string {
	if s.dst == nil {
		return "0"
	}
	return formatSeconds(*s.dst)
}

func (s secondsValue) Set(v string) error {
	d, err := ParseSeconds(v)
	if err != nil {
		return err
	}
	*s.dst = d
	return nil
}

func (s secondsValue) Type() string {
	return "seconds"
}

// canonicalValue is a boolean flag that switches LineMode to canonical.
type canonicalValue struct {
	dst *string
}

func (c canonicalValue) String() string {
	return strconv.FormatBool(c.dst != nil && *c.dst == string(terminal.Canonical))
}

func (c canonicalValue) Set(v string) error {
	on, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	if on {
		*c.dst = string(terminal.Canonical)
	} else {
		*c.dst = string(terminal.Raw)
	}
	return nil
}

func (c canonicalValue) Type() string {
	return "bool"
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// BindFlags registers the jig command line on fs, using the current values
// of c as defaults. Parsing stops at the first non-flag argument so the
// target's own flags are left alone.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.SetInterspersed(false)

	fs.BoolVarP(&c.NoEOF, "no-eof", "e", c.NoEOF, "suppress sending the EOF character after stdin is exhausted")
	fs.BoolVarP(&c.NoSignals, "no-signals", "s", c.NoSignals, "suppress interrupt, quit and stop signals within the target")
	fs.BoolVarP(&c.NoStdout, "no-stdout", "x", c.NoStdout, "suppress copying the target's output to stdout")
	canonical := fs.VarPF(canonicalValue{&c.LineMode}, "canonical", "c", "keep the pty driver's line editing on for the whole session")
	canonical.NoOptDefVal = "true"
	fs.StringVarP(&c.InputCapture, "input", "i", c.InputCapture, "save forwarded standard input to `FILE`")
	fs.StringVarP(&c.OutputCapture, "output", "o", c.OutputCapture, "save the target's output to `FILE`")
	fs.VarP(secondsValue{&c.KeystrokeDelay}, "delay", "d", "delay between keystrokes (fractional seconds accepted)")
	fs.VarP(secondsValue{&c.IdleTimeout}, "timeout", "t", "kill the target if stdin is exhausted and it is silent this long")
	fs.VarP(secondsValue{&c.StartWait}, "wait", "w", "wait this long before streaming input to the target")
}

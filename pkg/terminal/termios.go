package terminal

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// LineMode selects how much of the pty driver's line discipline stays on.
type LineMode string

const (
	// Raw passes every byte through untouched except that characters are
	// echoed. Line editing comes back only to deliver the end of input,
	// see Pair.EndInput.
	Raw LineMode = "raw"
	// Canonical is Raw with line editing kept, so the driver turns the
	// end-of-input character into a zero-length read.
	Canonical LineMode = "canonical"
)

// ParseLineMode parses a mode name; the empty string means Raw.
func ParseLineMode(s string) (LineMode, error) {
	switch LineMode(s) {
	case "", Raw:
		return Raw, nil
	case Canonical:
		return Canonical, nil
	}
	return "", fmt.Errorf("unknown line mode %q (use raw or canonical)", s)
}

// defaultEOF is ^D, used when the driver does not report one.
const defaultEOF = 0x04

// Configure sets the line discipline of the pair through the master.
func (p *Pair) Configure(mode LineMode) error {
	return control(p.Master, func(fd int) error {
		termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
		if err != nil {
			return fmt.Errorf("get attributes of %s: %w", p.SlavePath, err)
		}

		makeRaw(termios)
		termios.Lflag |= unix.ECHO
		if mode == Canonical {
			termios.Lflag |= unix.ICANON
		}

		if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
			return fmt.Errorf("set attributes of %s: %w", p.SlavePath, err)
		}

		// Read back what the driver kept, to recognize it later.
		set, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
		if err != nil {
			return fmt.Errorf("get attributes of %s: %w", p.SlavePath, err)
		}
		p.mu.Lock()
		p.configured = set
		p.mu.Unlock()
		return nil
	})
}

// EndInput prepares the line discipline for the end-of-input character.
// A pair still in the raw mode Configure left it in gets line editing
// back, so the character ends the target's next read instead of arriving
// as data. Bytes already queued are handed to the target as one line. A
// target that set its own attributes is left alone.
//
// A read the target started before the switch keeps raw semantics and
// does not see the end; its next read does.
func (p *Pair) EndInput() (canonical bool, err error) {
	p.mu.Lock()
	configured := p.configured
	p.mu.Unlock()

	err = control(p.Master, func(fd int) error {
		t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
		if err != nil {
			return fmt.Errorf("get attributes of %s: %w", p.SlavePath, err)
		}
		if t.Lflag&unix.ICANON != 0 {
			canonical = true
			return nil
		}
		if configured == nil || !sameMode(t, configured) {
			return nil
		}

		t.Lflag |= unix.ICANON
		if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
			return fmt.Errorf("set attributes of %s: %w", p.SlavePath, err)
		}
		canonical = true
		return nil
	})
	return canonical, err
}

func sameMode(a, b *unix.Termios) bool {
	return a.Iflag == b.Iflag && a.Oflag == b.Oflag && a.Cflag == b.Cflag && a.Lflag == b.Lflag
}

// control runs fn on the descriptor of f without switching f to blocking
// mode, which f.Fd() would do.
func control(f *os.File, fn func(fd int) error) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var fnErr error
	if err := raw.Control(func(fd uintptr) { fnErr = fn(int(fd)) }); err != nil {
		return err
	}
	return fnErr
}

// makeRaw is cfmakeraw(3).
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

// EOFChar returns the end-of-input character of the line discipline.
func (p *Pair) EOFChar() byte {
	eof := byte(defaultEOF)
	_ = control(p.Master, func(fd int) error {
		termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
		if err != nil {
			return err
		}
		if c := termios.Cc[unix.VEOF]; c != 0 {
			eof = c
		}
		return nil
	})
	return eof
}

// Attributes returns the current line discipline of the pair.
func (p *Pair) Attributes() (*unix.Termios, error) {
	var out *unix.Termios
	err := control(p.Master, func(fd int) error {
		t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
		out = t
		return err
	})
	return out, err
}

// InheritSize copies the window size of from, normally the controlling
// terminal, onto the pair.
func (p *Pair) InheritSize(from *os.File) error {
	return pty.InheritSize(from, p.Master)
}

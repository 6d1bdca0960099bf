// Package terminal allocates pseudo-terminal pairs and configures their
// line discipline.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ErrNoPTY is returned when no candidate pair could be opened.
var ErrNoPTY = errors.New("no pty's available")

var (
	// errBusy marks a candidate that exists but cannot be used right now.
	errBusy = errors.New("pty busy")
	// errNamespaceEnd marks a candidate whose existence cannot be checked,
	// which ends the scan.
	errNamespaceEnd = errors.New("pty namespace exhausted")
)

// Candidate is one possible master/slave pair.
type Candidate interface {
	Name() string
	Open() (master, slave *os.File, err error)
}

// Pair is an allocated master/slave pseudo-terminal pair.
type Pair struct {
	Master    *os.File
	SlavePath string

	mu         sync.Mutex
	slave      *os.File
	configured *unix.Termios
	closeOnce sync.Once
	closeErr  error
}

// Slave returns the parent's handle on the slave side, or nil once it has
// been released.
func (p *Pair) Slave() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slave
}

// ReleaseSlave closes the parent's handle on the slave side. The target
// keeps its own descriptors; once they are gone reads on the master report
// end of file.
func (p *Pair) ReleaseSlave() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slave == nil {
		return nil
	}
	err := p.slave.Close()
	p.slave = nil
	return err
}

// Close releases both sides of the pair. Only the first call has an effect.
func (p *Pair) Close() error {
	p.closeOnce.Do(func() {
		slaveErr := p.ReleaseSlave()
		p.closeErr = errors.Join(p.Master.Close(), slaveErr)
	})
	return p.closeErr
}

// Allocate returns the first candidate that can be opened. The scan stops
// early if a candidate's device node cannot be checked at all.
func Allocate(candidates ...Candidate) (*Pair, error) {
	if len(candidates) == 0 {
		candidates = DefaultCandidates()
	}

	for _, c := range candidates {
		master, slave, err := c.Open()
		if err == nil {
			return &Pair{Master: master, SlavePath: slave.Name(), slave: slave}, nil
		}
		if errors.Is(err, errNamespaceEnd) {
			return nil, fmt.Errorf("%s: %w", c.Name(), ErrNoPTY)
		}
	}

	return nil, ErrNoPTY
}

// DefaultCandidates lists the Unix98 multiplexer followed by the legacy BSD
// device names /dev/ptyp0 to /dev/ptyr9.
func DefaultCandidates() []Candidate {
	candidates := []Candidate{multiplexer{}}
	return append(candidates, LegacyNamespace()...)
}

// LegacyNamespace returns the BSD-style pairs /dev/pty[p-r][0-9] and their
// /dev/tty counterparts, in scan order.
func LegacyNamespace() []Candidate {
	var out []Candidate
	for bank := 'p'; bank <= 'r'; bank++ {
		for i := 0; i <= 9; i++ {
			out = append(out, Legacy{
				MasterPath: fmt.Sprintf("/dev/pty%c%x", bank, i),
				SlavePath:  fmt.Sprintf("/dev/tty%c%x", bank, i),
			})
		}
	}
	return out
}

// multiplexer opens a pair through /dev/ptmx.
type multiplexer struct{}

func (multiplexer) Name() string { return "/dev/ptmx" }

func (multiplexer) Open() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBusy, err)
	}
	return master, slave, nil
}

// Legacy is a fixed BSD-style pair of device nodes.
type Legacy struct {
	MasterPath string
	SlavePath  string
}

// Name returns the master device path.
func (l Legacy) Name() string { return l.MasterPath }

// Open opens the master, then checks and opens the slave.
func (l Legacy) Open() (*os.File, *os.File, error) {
	if _, err := os.Stat(l.MasterPath); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errNamespaceEnd, err)
	}

	master, err := os.OpenFile(l.MasterPath, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBusy, err)
	}

	if err := unix.Access(l.SlavePath, unix.R_OK|unix.W_OK); err != nil {
		_ = master.Close()
		return nil, nil, fmt.Errorf("%w: %s: %v", errBusy, l.SlavePath, err)
	}

	slave, err := os.OpenFile(l.SlavePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		_ = master.Close()
		return nil, nil, fmt.Errorf("%w: %s: %v", errBusy, l.SlavePath, err)
	}

	return master, slave, nil
}

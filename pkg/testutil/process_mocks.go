package testutil

import (
	"context"
	"os"
	"sync"
	"syscall"

	"github.com/Veraticus/ptyjig/pkg/process"
	"golang.org/x/sys/unix"
)

// MockTarget is a thread-safe mock implementation of process.Target for testing
type MockTarget struct {
	mu         sync.Mutex
	pid        int
	signals    []os.Signal
	status     process.Status
	reaped     bool
	exited     chan struct{}
	exitOnKill bool
	signalErr  error
}

// Ensure MockTarget implements Target
var _ process.Target = (*MockTarget)(nil)

// NewMockTarget creates a running mock target. By default SIGKILL makes
// it exit.
func NewMockTarget(pid int) *MockTarget {
	return &MockTarget{
		pid:        pid,
		exited:     make(chan struct{}),
		exitOnKill: true,
	}
}

// Pid implements the Target interface
func (m *MockTarget) Pid() int {
	return m.pid
}

// Signal implements the Target interface
func (m *MockTarget) Signal(sig os.Signal) error {
	m.mu.Lock()
	if m.reaped {
		m.mu.Unlock()
		return os.ErrProcessDone
	}
	m.signals = append(m.signals, sig)
	err := m.signalErr
	kill := sig == syscall.SIGKILL && m.exitOnKill
	m.mu.Unlock()

	if kill {
		m.Exit(process.Status{Signal: syscall.SIGKILL})
	}
	return err
}

// Kill implements the Target interface
func (m *MockTarget) Kill() error {
	return m.Signal(syscall.SIGKILL)
}

// Exited implements the Target interface
func (m *MockTarget) Exited() <-chan struct{} {
	return m.exited
}

// Status implements the Target interface
func (m *MockTarget) Status() (process.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.reaped
}

// Exit marks the target reaped with st. Only the first call has an effect.
func (m *MockTarget) Exit(st process.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reaped {
		return
	}
	m.status = st
	m.reaped = true
	close(m.exited)
}

// GetSignals returns a copy of the signals sent to the target
func (m *MockTarget) GetSignals() []os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]os.Signal, len(m.signals))
	copy(result, m.signals)
	return result
}

// SetExitOnKill sets whether SIGKILL makes the target exit
func (m *MockTarget) SetExitOnKill(exit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitOnKill = exit
}

// SetSignalError sets the error to return from Signal
func (m *MockTarget) SetSignalError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalErr = err
}

// Script plays a target: it gets its own handle on the slave, which it
// must close, and the mock target it stands behind.
type Script func(tty *os.File, target *MockTarget)

// MockLauncher is a mock implementation of interfaces.Launcher for testing
type MockLauncher struct {
	mu        sync.Mutex
	target    *MockTarget
	script    Script
	launchErr error
	launches  int
	name      string
	args      []string
}

// NewMockLauncher creates a launcher that hands out target and runs
// script, if any, in its own goroutine.
func NewMockLauncher(target *MockTarget, script Script) *MockLauncher {
	return &MockLauncher{target: target, script: script}
}

// Launch implements the Launcher interface
func (m *MockLauncher) Launch(ctx context.Context, slave *os.File, name string, args []string) (process.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.launches++
	m.name = name
	m.args = append([]string(nil), args...)

	if m.launchErr != nil {
		return nil, m.launchErr
	}

	if m.script != nil {
		tty, err := dup(slave)
		if err != nil {
			return nil, err
		}
		go m.script(tty, m.target)
	}

	if err := ctx.Err(); err != nil {
		return m.target, err
	}
	return m.target, nil
}

// SetLaunchError sets the error to return from Launch
func (m *MockLauncher) SetLaunchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launchErr = err
}

// GetLaunchCount returns how many times Launch was called
func (m *MockLauncher) GetLaunchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launches
}

// GetCommand returns the name and arguments of the last launch
func (m *MockLauncher) GetCommand() (string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name, append([]string(nil), m.args...)
}

func dup(f *os.File) (*os.File, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	var dupErr error
	if err := raw.Control(func(old uintptr) {
		fd, dupErr = unix.Dup(int(old))
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), f.Name()), nil
}

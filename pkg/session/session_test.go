package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/Veraticus/ptyjig/pkg/config"
	"github.com/Veraticus/ptyjig/pkg/interfaces"
	"github.com/Veraticus/ptyjig/pkg/process"
	"github.com/Veraticus/ptyjig/pkg/status"
	"github.com/Veraticus/ptyjig/pkg/terminal"
	"github.com/Veraticus/ptyjig/pkg/testutil"
)

// brokenStdoutEnv makes the test binary run a session whose stdout is
// the process's own fd 1.
const brokenStdoutEnv = "JIG_TEST_BROKEN_STDOUT"

func TestMain(m *testing.M) {
	process.RunShim()
	if os.Getenv(brokenStdoutEnv) == "1" {
		os.Exit(runOnProcessStdout())
	}
	os.Exit(m.Run())
}

// runOnProcessStdout runs a chatty target with the real stdio.
func runOnProcessStdout() int {
	cfg := config.DefaultConfig()
	cfg.IdleTimeout = time.Hour
	cfg.GracePeriod = 50 * time.Millisecond

	target := testutil.NewMockTarget(100)
	script := func(tty *os.File, tgt *testutil.MockTarget) {
		for {
			select {
			case <-tgt.Exited():
				_ = tty.Close()
				return
			default:
			}
			_, _ = tty.Write([]byte("output\n"))
			time.Sleep(time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, _ := New(cfg, "chatty", nil, Options{
		Stdin:    strings.NewReader(""),
		Launcher: testutil.NewMockLauncher(target, script),
	}).Run(ctx)
	return res.Code
}

func requirePTY(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" || os.Getenv("CI") == "true" {
		t.Skip("PTY tests require Unix environment")
	}
	pair, err := terminal.Allocate()
	if err != nil {
		t.Skipf("no pty available in this environment: %v", err)
	}
	_ = pair.Close()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	cfg.GracePeriod = 50 * time.Millisecond
	return cfg
}

type harness struct {
	stdout  *testutil.MockWriteCloser
	stderr  *bytes.Buffer
	signals chan os.Signal
	opts    Options
}

func newHarness(launcher interfaces.Launcher, stdin io.Reader) *harness {
	h := &harness{
		stdout:  testutil.NewMockWriteCloser(),
		stderr:  &bytes.Buffer{},
		signals: make(chan os.Signal, 4),
	}
	h.opts = Options{
		Stdin:    stdin,
		Stdout:   h.stdout,
		Reporter: status.NewReporter(h.stderr),
		Logger:   discardLogger(),
		Signals:  h.signals,
	}
	if launcher != nil {
		h.opts.Launcher = launcher
	}
	return h
}

func (h *harness) run(t *testing.T, cfg *config.Config, name string, args ...string) (Result, *Session, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s := New(cfg, name, args, h.opts)
	res, err := s.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("session did not end")
	}
	return res, s, err
}

// emit writes output, hangs up and exits with st.
func emit(output string, st process.Status) testutil.Script {
	return func(tty *os.File, target *testutil.MockTarget) {
		_, _ = tty.Write([]byte(output))
		_ = tty.Close()
		target.Exit(st)
	}
}

// hang holds the terminal until the target is killed.
func hang(tty *os.File, target *testutil.MockTarget) {
	<-target.Exited()
	_ = tty.Close()
}

func TestSession_RelaysExitStatus(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	launcher := testutil.NewMockLauncher(target, emit("hello\n", process.Status{Exited: true, Code: 3}))
	h := newHarness(launcher, strings.NewReader(""))

	res, s, err := h.run(t, testConfig(), "vi", "-R", "file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != 3 || res.Signal != 0 {
		t.Errorf("expected exit status 3 but got %+v", res)
	}
	if !strings.Contains(h.stdout.String(), "hello\n") {
		t.Errorf("expected target output on stdout, got %q", h.stdout.String())
	}
	if h.stderr.Len() != 0 {
		t.Errorf("expected no diagnostics, got %q", h.stderr.String())
	}
	if s.State() != StateExited {
		t.Errorf("expected state exited but got %v", s.State())
	}

	name, args := launcher.GetCommand()
	if name != "vi" || strings.Join(args, " ") != "-R file" {
		t.Errorf("unexpected command %q %v", name, args)
	}
}

func TestSession_SignalDeath(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	st := process.Status{Signal: syscall.SIGSEGV, CoreDump: true}
	h := newHarness(testutil.NewMockLauncher(target, emit("", st)), strings.NewReader(""))

	res, _, _ := h.run(t, testConfig(), "crasher")
	if res.Code != 139 {
		t.Errorf("expected status 139 but got %d", res.Code)
	}
	if res.Signal != 0 {
		t.Errorf("target death must not be re-raised, got %v", res.Signal)
	}
	if want := "jig: crasher: Segmentation fault (core dumped)\n"; h.stderr.String() != want {
		t.Errorf("expected %q but got %q", want, h.stderr.String())
	}
}

func TestSession_IdleTimeoutKillsTarget(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	h := newHarness(testutil.NewMockLauncher(target, hang), strings.NewReader(""))
	cfg := testConfig()

	start := time.Now()
	res, _, _ := h.run(t, cfg, "cat")
	if elapsed := time.Since(start); elapsed < cfg.IdleTimeout+cfg.GracePeriod {
		t.Errorf("expected the idle timeout and grace period to pass, ended after %v", elapsed)
	}

	if res.Code != 137 {
		t.Errorf("expected status 137 but got %d", res.Code)
	}
	if want := "jig: cat: Killed\n"; h.stderr.String() != want {
		t.Errorf("expected %q but got %q", want, h.stderr.String())
	}
	signals := target.GetSignals()
	if len(signals) == 0 || signals[0] != syscall.SIGKILL {
		t.Errorf("expected the target to be killed, got %v", signals)
	}
}

func TestSession_OutputDefersIdleTimeout(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	script := func(tty *os.File, tgt *testutil.MockTarget) {
		for i := 0; i < 10; i++ {
			time.Sleep(20 * time.Millisecond)
			_, _ = tty.Write([]byte("."))
		}
		_ = tty.Close()
		tgt.Exit(process.Status{Exited: true})
	}
	h := newHarness(testutil.NewMockLauncher(target, script), strings.NewReader(""))
	cfg := testConfig()
	cfg.IdleTimeout = 150 * time.Millisecond

	res, _, _ := h.run(t, cfg, "slow")
	if res.Code != 0 {
		t.Errorf("expected status 0 but got %d (%q)", res.Code, h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "..........") {
		t.Errorf("expected all output, got %q", h.stdout.String())
	}
}

func TestSession_IdleTimeoutDisabled(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	script := func(tty *os.File, tgt *testutil.MockTarget) {
		time.Sleep(200 * time.Millisecond)
		_ = tty.Close()
		tgt.Exit(process.Status{Exited: true, Code: 9})
	}
	h := newHarness(testutil.NewMockLauncher(target, script), strings.NewReader(""))
	cfg := testConfig()
	cfg.IdleTimeout = 0

	res, _, _ := h.run(t, cfg, "quiet")
	if res.Code != 9 {
		t.Errorf("expected status 9 but got %d", res.Code)
	}
}

func TestSession_InputReachesTarget(t *testing.T) {
	requirePTY(t)

	dir := t.TempDir()
	cfg := testConfig()
	cfg.InputCapture = filepath.Join(dir, "saved.in")

	cfg.IdleTimeout = 5 * time.Second

	received := make(chan []byte, 1)
	target := testutil.NewMockTarget(100)
	script := func(tty *os.File, tgt *testutil.MockTarget) {
		var got []byte
		buf := make([]byte, 64)
		for !bytes.Contains(got, []byte("ls\r")) {
			n, err := tty.Read(buf)
			got = append(got, buf[:n]...)
			if err != nil {
				break
			}
		}
		// Whatever follows must be the end of input, not more data.
		_ = tty.SetReadDeadline(time.Now().Add(time.Second))
		for {
			n, err := tty.Read(buf)
			got = append(got, buf[:n]...)
			if err != nil {
				break
			}
		}
		received <- got
		_ = tty.Close()
		tgt.Exit(process.Status{Exited: true})
	}
	h := newHarness(testutil.NewMockLauncher(target, script), strings.NewReader("ls\r"))

	res, _, err := h.run(t, cfg, "sh")
	if err != nil || res.Code != 0 {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}

	if got := <-received; string(got) != "ls\r" {
		t.Errorf("expected target to read %q but got %q", "ls\r", got)
	}
	saved, err := os.ReadFile(cfg.InputCapture)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if string(saved) != "ls\n" {
		t.Errorf("expected recorded input %q but got %q", "ls\n", saved)
	}
}

func TestSession_OutputCapture(t *testing.T) {
	requirePTY(t)

	tests := []struct {
		name     string
		noStdout bool
	}{
		{name: "mirrors stdout", noStdout: false},
		{name: "without stdout", noStdout: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.NoStdout = tt.noStdout
			cfg.OutputCapture = filepath.Join(t.TempDir(), "out")

			target := testutil.NewMockTarget(100)
			script := emit("hello\r\nworld\x1b[0m", process.Status{Exited: true})
			h := newHarness(testutil.NewMockLauncher(target, script), strings.NewReader(""))

			if res, _, _ := h.run(t, cfg, "prog"); res.Code != 0 {
				t.Fatalf("expected success, got %d", res.Code)
			}

			saved, err := os.ReadFile(cfg.OutputCapture)
			if err != nil {
				t.Fatalf("read capture: %v", err)
			}
			if !bytes.Contains(saved, []byte("hello\r\nworld\x1b[0m")) {
				t.Errorf("expected verbatim output in capture, got %q", saved)
			}
			if tt.noStdout {
				if h.stdout.WriteCount() != 0 {
					t.Errorf("expected nothing on stdout, got %q", h.stdout.String())
				}
				return
			}
			if !bytes.Equal(saved, h.stdout.Bytes()) {
				t.Errorf("expected capture %q to equal stdout %q", saved, h.stdout.Bytes())
			}
		})
	}
}

func TestSession_Interrupt(t *testing.T) {
	requirePTY(t)

	tests := []struct {
		sig  syscall.Signal
		code int
	}{
		{sig: syscall.SIGINT, code: 130},
		{sig: syscall.SIGQUIT, code: 131},
		{sig: syscall.SIGTERM, code: 143},
	}

	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.IdleTimeout = time.Hour
			cfg.OutputCapture = filepath.Join(t.TempDir(), "out")

			target := testutil.NewMockTarget(100)
			h := newHarness(testutil.NewMockLauncher(target, hang), strings.NewReader(""))
			h.signals <- tt.sig

			res, s, err := h.run(t, cfg, "vi")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Code != tt.code || res.Signal != tt.sig {
				t.Errorf("expected %d/%v but got %+v", tt.code, tt.sig, res)
			}
			if _, reaped := target.Status(); !reaped {
				t.Error("expected the target to be killed")
			}
			if s.State() != StateExited {
				t.Errorf("expected state exited but got %v", s.State())
			}
			if _, err := os.Stat(cfg.OutputCapture); err != nil {
				t.Errorf("expected capture file to exist: %v", err)
			}
			if h.stderr.Len() != 0 {
				t.Errorf("expected no diagnostics, got %q", h.stderr.String())
			}
		})
	}
}

func TestSession_InterruptWhileStreaming(t *testing.T) {
	requirePTY(t)

	cfg := testConfig()
	cfg.IdleTimeout = time.Hour
	cfg.OutputCapture = filepath.Join(t.TempDir(), "out")

	target := testutil.NewMockTarget(100)
	script := func(tty *os.File, tgt *testutil.MockTarget) {
		_, _ = tty.Write([]byte("partial screen\r\n"))
		hang(tty, tgt)
	}
	h := newHarness(testutil.NewMockLauncher(target, script), strings.NewReader(""))

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for !strings.Contains(h.stdout.String(), "partial screen") && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		h.signals <- syscall.SIGINT
	}()

	res, s, err := h.run(t, cfg, "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != 130 || res.Signal != syscall.SIGINT {
		t.Errorf("expected 130/interrupt but got %+v", res)
	}
	if !strings.Contains(h.stdout.String(), "partial screen\r\n") {
		t.Fatalf("expected output before the interrupt, got %q", h.stdout.String())
	}
	if _, reaped := target.Status(); !reaped {
		t.Error("expected the target to be killed")
	}
	if !s.outSink.Closed() {
		t.Error("expected the output capture to be closed")
	}

	saved, err := os.ReadFile(cfg.OutputCapture)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if !bytes.Equal(saved, h.stdout.Bytes()) {
		t.Errorf("expected capture %q to equal stdout %q", saved, h.stdout.Bytes())
	}
}

func TestSession_WindowChange(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	script := func(tty *os.File, tgt *testutil.MockTarget) {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if signals := tgt.GetSignals(); len(signals) > 0 && signals[0] == syscall.SIGWINCH {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		_ = tty.Close()
		tgt.Exit(process.Status{Exited: true})
	}
	h := newHarness(testutil.NewMockLauncher(target, script), strings.NewReader(""))
	h.signals <- syscall.SIGWINCH
	cfg := testConfig()
	cfg.IdleTimeout = time.Hour

	res, _, _ := h.run(t, cfg, "vi")
	if res.Code != 0 {
		t.Errorf("expected the session to go on after a window change, got %d", res.Code)
	}
	signals := target.GetSignals()
	if len(signals) == 0 || signals[0] != syscall.SIGWINCH {
		t.Errorf("expected SIGWINCH to be forwarded, got %v", signals)
	}
}

func TestSession_NoPTY(t *testing.T) {
	launcher := testutil.NewMockLauncher(testutil.NewMockTarget(100), nil)
	h := newHarness(launcher, strings.NewReader(""))
	dir := t.TempDir()
	h.opts.Candidates = []terminal.Candidate{
		terminal.Legacy{MasterPath: filepath.Join(dir, "ptyp0"), SlavePath: filepath.Join(dir, "ttyp0")},
	}

	res, s, err := h.run(t, testConfig(), "vi")
	if err == nil {
		t.Error("expected an error")
	}
	if res.Code != 2 {
		t.Errorf("expected status 2 but got %d", res.Code)
	}
	if want := "jig: no pty's available\n"; h.stderr.String() != want {
		t.Errorf("expected %q but got %q", want, h.stderr.String())
	}
	if launcher.GetLaunchCount() != 0 {
		t.Error("expected nothing to be launched")
	}
	if s.State() != StateExited {
		t.Errorf("expected state exited but got %v", s.State())
	}
}

func TestSession_LaunchFailure(t *testing.T) {
	requirePTY(t)

	launcher := testutil.NewMockLauncher(nil, nil)
	launcher.SetLaunchError(errors.New("exec format error"))
	h := newHarness(launcher, strings.NewReader(""))

	res, _, _ := h.run(t, testConfig(), "vi")
	if res.Code != 127 {
		t.Errorf("expected status 127 but got %d", res.Code)
	}
	if want := "jig: launch vi: exec format error\n"; h.stderr.String() != want {
		t.Errorf("expected %q but got %q", want, h.stderr.String())
	}
}

func TestSession_CaptureOpenFailure(t *testing.T) {
	launcher := testutil.NewMockLauncher(testutil.NewMockTarget(100), nil)
	h := newHarness(launcher, strings.NewReader(""))
	cfg := testConfig()
	cfg.OutputCapture = filepath.Join(t.TempDir(), "missing", "out")

	res, _, _ := h.run(t, cfg, "vi")
	if res.Code != 1 {
		t.Errorf("expected status 1 but got %d", res.Code)
	}
	if !strings.HasPrefix(h.stderr.String(), "jig: output capture: ") {
		t.Errorf("unexpected diagnostic %q", h.stderr.String())
	}
	if launcher.GetLaunchCount() != 0 {
		t.Error("expected nothing to be launched")
	}
}

func TestSession_StdoutFailureIsFatal(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	script := func(tty *os.File, tgt *testutil.MockTarget) {
		_, _ = tty.Write([]byte("x"))
		hang(tty, tgt)
	}
	h := newHarness(testutil.NewMockLauncher(target, script), strings.NewReader(""))
	h.stdout.SetError(errors.New("broken pipe"))
	cfg := testConfig()
	cfg.IdleTimeout = time.Hour

	res, _, err := h.run(t, cfg, "vi")
	if err == nil {
		t.Error("expected an error")
	}
	if res.Code != 1 {
		t.Errorf("expected status 1 but got %d", res.Code)
	}
	if want := "jig: write stdout: broken pipe\n"; h.stderr.String() != want {
		t.Errorf("expected %q but got %q", want, h.stderr.String())
	}
	if _, reaped := target.Status(); !reaped {
		t.Error("expected the target to be killed")
	}
}

func TestSession_BrokenStdoutPipe(t *testing.T) {
	requirePTY(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	_ = r.Close()

	var stderr bytes.Buffer
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), brokenStdoutEnv+"=1")
	cmd.Stdout = w
	cmd.Stderr = &stderr
	err = cmd.Run()
	_ = w.Close()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected a failed session, got %v (%q)", err, stderr.String())
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		t.Fatalf("expected an exit status, process died of %v", ws.Signal())
	}
	if exitErr.ExitCode() != 1 {
		t.Errorf("expected status 1 but got %d", exitErr.ExitCode())
	}
	if !strings.HasPrefix(stderr.String(), "jig: write stdout: ") || !strings.Contains(stderr.String(), "broken pipe") {
		t.Errorf("unexpected diagnostic %q", stderr.String())
	}
}

func TestSession_ForwarderFault(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	stdin := testutil.NewFailingReader(nil, errors.New("stdin vanished"))
	h := newHarness(testutil.NewMockLauncher(target, hang), stdin)
	cfg := testConfig()
	cfg.IdleTimeout = time.Hour

	res, _, _ := h.run(t, cfg, "vi")
	if res.Code != 1 {
		t.Errorf("expected status 1 but got %d", res.Code)
	}
	if !strings.Contains(h.stderr.String(), "jig: input forwarder: read input: stdin vanished") {
		t.Errorf("unexpected diagnostic %q", h.stderr.String())
	}
	if _, reaped := target.Status(); !reaped {
		t.Error("expected the target to be killed")
	}
}

func TestSession_ContextCanceled(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	h := newHarness(testutil.NewMockLauncher(target, hang), strings.NewReader(""))
	cfg := testConfig()
	cfg.IdleTimeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := New(cfg, "vi", nil, h.opts).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled but got %v", err)
	}
	if res.Code != 1 {
		t.Errorf("expected status 1 but got %d", res.Code)
	}
	if _, reaped := target.Status(); !reaped {
		t.Error("expected the target to be killed")
	}
}

func TestSession_FinalizeIsIdempotent(t *testing.T) {
	requirePTY(t)

	target := testutil.NewMockTarget(100)
	h := newHarness(testutil.NewMockLauncher(target, emit("", process.Status{Exited: true})), strings.NewReader(""))

	_, s, _ := h.run(t, testConfig(), "true")
	s.finalize()
	s.finalize()

	if s.State() != StateExited {
		t.Errorf("expected state exited but got %v", s.State())
	}
}

func TestState_String(t *testing.T) {
	states := []State{StateInit, StateAllocated, StateLaunched, StateStreaming, StateDraining, StateFinalizing, StateExited}
	seen := map[string]bool{}
	for _, st := range states {
		name := st.String()
		if name == "unknown" || seen[name] {
			t.Errorf("state %d has a bad name %q", st, name)
		}
		seen[name] = true
	}
	if State(99).String() != "unknown" {
		t.Error("expected unknown for an invalid state")
	}
}

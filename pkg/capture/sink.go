// Package capture records verbatim copies of the session's byte streams.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// ErrClosed is returned by writes that arrive after the sink was closed.
var ErrClosed = errors.New("capture sink closed")

// ErrLocked is returned when another session holds the capture file.
var ErrLocked = errors.New("capture file in use by another session")

// Sink is a capture file. It has a single writer but may be closed from
// another goroutine at any time; writes after Close fail with ErrClosed.
type Sink struct {
	name      string
	normalize bool

	mu     sync.Mutex
	w      io.WriteCloser
	lock   *flock.Flock
	closed bool
	buf    []byte
}

// OpenInput creates (or truncates) path for recording input. Carriage
// returns are recorded as newlines.
func OpenInput(path string) (*Sink, error) {
	return open(path, true)
}

// OpenOutput creates (or truncates) path for a verbatim output transcript.
func OpenOutput(path string) (*Sink, error) {
	return open(path, false)
}

func open(path string, normalize bool) (*Sink, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	// #nosec G304 - capture paths are chosen by the user on the command line
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	s := NewSink(path, f, normalize)
	s.lock = lock
	return s, nil
}

// NewSink wraps w. If normalize is set, carriage returns are rewritten to
// newlines before being written.
func NewSink(name string, w io.WriteCloser, normalize bool) *Sink {
	return &Sink{name: name, w: w, normalize: normalize}
}

// Name returns the file name of the sink.
func (s *Sink) Name() string {
	return s.name
}

// Write records p. A short write is reported as io.ErrShortWrite.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	data := p
	if s.normalize {
		s.buf = append(s.buf[:0], p...)
		for i, c := range s.buf {
			if c == '\r' {
				s.buf[i] = '\n'
			}
		}
		data = s.buf
	}

	n, err := s.w.Write(data)
	if err == nil && n != len(data) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close closes the file and releases its lock. Later calls return nil.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.w.Close()
	if s.lock != nil {
		err = errors.Join(err, s.lock.Unlock())
	}
	return err
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

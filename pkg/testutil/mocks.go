package testutil

import (
	"bytes"
	"errors"
	"sync"
)

// ErrMockClosed is returned by MockWriteCloser writes after Close.
var ErrMockClosed = errors.New("mock writer closed")

// MockWriteCloser is a thread-safe in-memory io.WriteCloser for testing
type MockWriteCloser struct {
	mu          sync.Mutex
	buf         bytes.Buffer
	writes      int
	closeCount  int
	writeErr    error
	failAfter   int
	shortWrites bool
}

// NewMockWriteCloser creates a new mock writer
func NewMockWriteCloser() *MockWriteCloser {
	return &MockWriteCloser{failAfter: -1}
}

// Write implements io.Writer
func (m *MockWriteCloser) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeCount > 0 {
		return 0, ErrMockClosed
	}
	if m.writeErr != nil && (m.failAfter < 0 || m.writes >= m.failAfter) {
		return 0, m.writeErr
	}
	m.writes++

	if m.shortWrites && len(p) > 1 {
		p = p[:len(p)/2]
	}
	return m.buf.Write(p)
}

// Close implements io.Closer
func (m *MockWriteCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return nil
}

// Bytes returns a copy of everything written
func (m *MockWriteCloser) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.buf.Bytes())
}

// String returns everything written as a string
func (m *MockWriteCloser) String() string {
	return string(m.Bytes())
}

// CloseCount returns how many times Close was called
func (m *MockWriteCloser) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// WriteCount returns how many writes succeeded
func (m *MockWriteCloser) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetError sets the error to return on Write calls
func (m *MockWriteCloser) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
	m.failAfter = -1
}

// SetErrorAfter makes writes fail with err once n writes have succeeded
func (m *MockWriteCloser) SetErrorAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
	m.failAfter = n
}

// SetShortWrites makes every multi-byte write accept only half its input
func (m *MockWriteCloser) SetShortWrites(short bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortWrites = short
}

// FailingReader is an io.Reader that returns data and then an error
type FailingReader struct {
	mu   sync.Mutex
	data []byte
	err  error
}

// NewFailingReader creates a reader yielding data and then err
func NewFailingReader(data []byte, err error) *FailingReader {
	return &FailingReader{data: data, err: err}
}

// Read implements io.Reader
func (r *FailingReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

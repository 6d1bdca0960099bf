package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Veraticus/ptyjig/pkg/capture"
	"github.com/Veraticus/ptyjig/pkg/exitcode"
	"github.com/Veraticus/ptyjig/pkg/interfaces"
)

// forwarder copies the controller's input to the pty one byte at a time,
// pacing the bytes and recording them, and ends the input with the line
// discipline's end-of-input character.
type forwarder struct {
	in      io.Reader
	master  io.Writer
	sink    interfaces.ByteSink
	delay   time.Duration
	eof     byte
	sendEOF bool
	logger  *slog.Logger

	// endInput, if set, readies the pty for the end-of-input character.
	endInput func()

	stop   <-chan struct{}
	done   chan struct{}
	faults chan<- error
}

func (f *forwarder) run() {
	defer func() {
		if r := recover(); r != nil {
			f.fault(fmt.Errorf("panic: %v", r))
		}
	}()

	in := bufio.NewReader(f.in)
	for sent := 0; ; sent++ {
		c, err := in.ReadByte()
		if errors.Is(err, io.EOF) {
			f.finish(true)
			return
		}
		if err != nil {
			f.fault(fmt.Errorf("read input: %w", err))
			return
		}
		// The delay separates keystrokes; none follows the last one.
		if sent > 0 && !f.pause() {
			return
		}
		if f.stopped() {
			return
		}

		if _, err := f.master.Write([]byte{c}); err != nil {
			f.logger.Debug("pty no longer accepts input", "error", err)
			f.finish(false)
			return
		}
		f.record(c)
	}
}

// record copies c to the input capture. A failing capture is reported
// once and then dropped; forwarding goes on without it.
func (f *forwarder) record(c byte) {
	if f.sink == nil {
		return
	}
	if _, err := f.sink.Write([]byte{c}); err != nil {
		if !errors.Is(err, capture.ErrClosed) {
			f.logger.Warn("input capture failed, no longer recording", "error", err)
		}
		f.sink = nil
	}
}

func (f *forwarder) pause() bool {
	if f.delay <= 0 {
		return !f.stopped()
	}
	t := time.NewTimer(f.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-f.stop:
		return false
	}
}

func (f *forwarder) finish(writeEOF bool) {
	if writeEOF && f.sendEOF && !f.stopped() {
		if f.endInput != nil {
			f.endInput()
		}
		if _, err := f.master.Write([]byte{f.eof}); err != nil {
			f.logger.Debug("write end of input failed", "error", err)
		}
	}
	f.logger.Debug("input exhausted")
	close(f.done)
}

func (f *forwarder) fault(err error) {
	select {
	case f.faults <- exitcode.Wrap(exitcode.ErrGeneral, "input forwarder", err):
	default:
	}
}

func (f *forwarder) stopped() bool {
	select {
	case <-f.stop:
		return true
	default:
		return false
	}
}

package h4

import (
	"fmt"
	"time"
)

const (
	commandPacket = 0x01
	eventPacket   = 0x04

	headerOffsetEventType  = 1
	headerOffsetDataLength = 2
	headerLength           = 3

	frameTimeout = 500 * time.Millisecond
)

// frame reassembles event packets out of an arbitrarily chunked byte stream.
type frame struct {
	b       []byte
	timeout time.Time
	out     chan []byte
	done    <-chan struct{}
}

func newFrame(c chan []byte, done <-chan struct{}) *frame {
	return &frame{
		b:    make([]byte, 0, 256),
		out:  c,
		done: done,
	}
}

func (f *frame) Assemble(b []byte) {
	switch {
	case len(b) == 0:
		return

	case !f.timeout.IsZero() && time.Now().After(f.timeout):
		// stale partial frame
		fallthrough
	case f.b == nil:
		f.reset()

	default:
	}

	if len(f.b) == 0 {
		if err := f.waitStart(b); err != nil {
			return
		}
	} else {
		f.b = append(f.b, b...)
	}

	rf, err := f.frame()
	if err != nil {
		return
	}
	out := make([]byte, len(rf))
	copy(out, rf)
	select {
	case f.out <- out:
	case <-f.done:
		return
	}

	if len(f.b) > len(rf) {
		rem := make([]byte, len(f.b)-len(rf))
		copy(rem, f.b[len(rf):])
		f.reset()
		f.Assemble(rem)
	} else {
		f.reset()
	}
}

func (f *frame) reset() {
	f.b = make([]byte, 0, 256)
	f.timeout = time.Time{}
}

func (f *frame) waitStart(b []byte) error {
	for i, v := range b {
		if v != eventPacket {
			continue
		}
		f.timeout = time.Now().Add(frameTimeout)
		f.b = append(f.b, b[i:]...)
		return nil
	}
	return fmt.Errorf("couldnt find start byte")
}

func (f *frame) frame() ([]byte, error) {
	if len(f.b) < headerLength {
		return nil, fmt.Errorf("not enough bytes")
	}
	tl := int(f.b[headerOffsetDataLength]) + headerLength
	if len(f.b) < tl {
		return nil, fmt.Errorf("not enough bytes")
	}
	return f.b[:tl], nil
}

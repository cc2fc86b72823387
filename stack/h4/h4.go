// Package h4 carries stack command and event packets over a byte stream.
// Each Read returns exactly one event packet, including its indicator byte.
package h4

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
)

const (
	rxQueueSize = 64
	readTimeout = time.Second
)

// ErrReadTimeout is returned by Read when no packet arrives in time.
var ErrReadTimeout = errors.New("h4 read timeout")

type h4 struct {
	rwc io.ReadWriteCloser
	rmu sync.Mutex
	wmu sync.Mutex

	rxQueue chan []byte
	fr      *frame

	done chan struct{}
	cmu  sync.Mutex

	logger bleshim.Logger
}

func newH4(rwc io.ReadWriteCloser, name string) *h4 {
	h := &h4{
		rwc:     rwc,
		rxQueue: make(chan []byte, rxQueueSize),
		done:    make(chan struct{}),
		logger:  bleshim.PkgLogger("h4").ChildLogger(map[string]interface{}{"port": name}),
	}
	h.fr = newFrame(h.rxQueue, h.done)

	go h.rxLoop()
	return h
}

func (h *h4) Read(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.rmu.Lock()
	defer h.rmu.Unlock()

	var n int
	select {
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, fmt.Errorf("buffer too small (%d < %d)", len(p), len(t))
		}
		n = copy(p, t)
	case <-h.done:
		return 0, io.EOF
	case <-time.After(readTimeout):
		return 0, ErrReadTimeout
	}

	h.logger.Debugf("read [% 0x]", p[:n])
	return n, nil
}

func (h *h4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.rwc.Write(p)
	h.logger.Debugf("write [% 0x], %v, %v", p, n, err)

	return n, errors.Wrap(err, "can't write h4")
}

func (h *h4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
		h.logger.Debug("closing h4")
		return errors.Wrap(h.rwc.Close(), "can't close h4")
	}
}

func (h *h4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return h.rwc != nil
	}
}

func (h *h4) rxLoop() {
	tmp := make([]byte, 512)
	for {
		select {
		case <-h.done:
			return
		default:
		}

		n, err := h.rwc.Read(tmp)
		switch {
		case err == io.EOF:
			h.Close()
			return
		case err != nil || n == 0:
			if !h.isOpen() {
				return
			}
			continue
		}

		h.fr.Assemble(tmp[:n])
	}
}

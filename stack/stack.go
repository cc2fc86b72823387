// Package stack is the host side of the link to the vendor BLE stack.
// Commands are sent one at a time and answered by a command status or a
// command complete event; every other event is decoded and queued in
// arrival order.
package stack

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/rigado/bleshim/stack/h4"
)

type pkt struct {
	cmd  cmd.Command
	done chan evt.Event
}

// Stack is a command/event link to the vendor BLE stack.
type Stack struct {
	transport transport
	skt       io.ReadWriteCloser

	cmdTimeout time.Duration
	queueSize  int

	// one command in flight at a time
	muSend sync.Mutex
	muSent sync.Mutex
	sent   *pkt

	events  chan evt.Event
	sktRxCh chan []byte

	errorHandler func(error)
	muErr        sync.Mutex
	err          error

	muClose sync.Mutex
	done    chan struct{}

	logger bleshim.Logger
}

// New returns a stack link; call Init to open the transport.
func New(opts ...bleshim.Option) (*Stack, error) {
	s := &Stack{
		cmdTimeout: defaultTimeout,
		queueSize:  defaultQueueSize,
		sktRxCh:    make(chan []byte, 16),
		done:       make(chan struct{}),
		logger:     bleshim.PkgLogger("stack"),
	}
	if err := s.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	return s, nil
}

// Option applies opts to the link.
func (s *Stack) Option(opts ...bleshim.Option) error {
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return err
		}
	}
	return nil
}

// Init opens the transport and starts the read and process loops.
func (s *Stack) Init() error {
	s.events = make(chan evt.Event, s.queueSize)

	var err error
	s.skt, err = getTransport(s.transport)
	if err != nil {
		return err
	}

	go s.sktReadLoop()
	go s.sktProcessLoop()
	return nil
}

// Events returns the event FIFO. It is closed when the link shuts down;
// Err reports why.
func (s *Stack) Events() <-chan evt.Event {
	return s.events
}

// Err returns the error that closed the link, if any.
func (s *Stack) Err() error {
	s.muErr.Lock()
	defer s.muErr.Unlock()
	return s.err
}

func (s *Stack) setErr(err error) {
	s.muErr.Lock()
	defer s.muErr.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close shuts down the link.
func (s *Stack) Close() error {
	s.muClose.Lock()
	defer s.muClose.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	s.setErr(ErrClosed)
	close(s.done)
	if s.skt == nil {
		return nil
	}
	return errors.Wrap(s.skt.Close(), "can't close transport")
}

func (s *Stack) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.skt != nil
	}
}

// Send writes c and waits for its response. A non-zero status is returned
// as ErrCommand. r, if not nil, receives the return parameters.
func (s *Stack) Send(c cmd.Command, r cmd.CommandRP) error {
	e, err := s.send(c)
	if err != nil {
		return err
	}

	switch e := e.(type) {
	case evt.CommandStatus:
		if e.Status != 0 {
			return errors.Wrap(ErrCommand(e.Status), c.String())
		}
		if r != nil {
			return fmt.Errorf("%v: status without return parameters", c)
		}
	case evt.CommandComplete:
		if e.Status != 0 {
			return errors.Wrap(ErrCommand(e.Status), c.String())
		}
		if r != nil {
			return errors.Wrap(r.Unmarshal(e.Return), c.String())
		}
	}
	return nil
}

func (s *Stack) send(c cmd.Command) (evt.Event, error) {
	if !s.isOpen() {
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}

	s.muSend.Lock()
	defer s.muSend.Unlock()

	b := make([]byte, cmdBufSize)
	b[0] = pktTypeCommand
	b[1] = byte(c.OpCode())
	b[2] = byte(c.OpCode() >> 8)
	b[3] = byte(c.Len())
	if c.Len() > cmdBufSize-cmdHeaderLen {
		return nil, fmt.Errorf("%v: parameters too long (%d)", c, c.Len())
	}
	if err := c.Marshal(b[cmdHeaderLen:]); err != nil {
		return nil, errors.Wrapf(err, "can't marshal %v", c)
	}
	b = b[:cmdHeaderLen+c.Len()]

	p := &pkt{cmd: c, done: make(chan evt.Event, 1)}
	s.muSent.Lock()
	s.sent = p
	s.muSent.Unlock()
	defer func() {
		s.muSent.Lock()
		s.sent = nil
		s.muSent.Unlock()
	}()

	s.logger.Debugf("cmd %v [% X]", c, b)
	if n, err := s.skt.Write(b); err != nil {
		err = errors.Wrapf(err, "can't write %v", c)
		s.close(err)
		return nil, err
	} else if n != len(b) {
		err := fmt.Errorf("short write of %v: %d/%d", c, n, len(b))
		s.close(err)
		return nil, err
	}

	select {
	case e := <-p.done:
		return e, nil
	case <-s.done:
		return nil, s.Err()
	case <-time.After(s.cmdTimeout):
		s.logger.Errorf("no response to %v [% X]", c, b)
		err := errors.Wrap(ErrNoResponse, c.String())
		s.dispatchError(err)
		return nil, err
	}
}

func (s *Stack) sktReadLoop() {
	defer close(s.sktRxCh)

	b := make([]byte, 512)
	for {
		n, err := s.skt.Read(b)
		switch {
		case n == 0 && err == nil:
			if !s.isOpen() {
				return
			}
			continue

		case err == io.EOF:
			s.setErr(err)
			return

		case err != nil:
			if !s.isOpen() {
				return
			}
			// transports surface read timeouts as errors; keep waiting
			if isTimeout(err) {
				continue
			}
			s.setErr(errors.Wrap(err, "read error"))
			return

		default:
			p := make([]byte, n)
			copy(p, b)
			select {
			case s.sktRxCh <- p:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Stack) sktProcessLoop() {
	defer close(s.events)
	defer func() {
		if err := s.Err(); err != nil && err != ErrClosed {
			s.dispatchError(err)
		}
	}()

	for {
		var p []byte
		var ok bool

		select {
		case <-s.done:
			return
		case p, ok = <-s.sktRxCh:
			if !ok {
				s.setErr(io.EOF)
				s.close(nil)
				return
			}
		}

		if err := s.handlePkt(p); err != nil {
			s.close(err)
			return
		}
	}
}

func (s *Stack) handlePkt(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	t, b := b[0], b[1:]
	if t != pktTypeEvent {
		return fmt.Errorf("invalid packet: 0x%02X % X", t, b)
	}

	e, err := evt.Decode(b)
	switch {
	case errors.Cause(err) == evt.ErrUnsupported:
		s.logger.Warnf("ignoring event: %v", err)
		return nil
	case err != nil:
		return errors.Wrap(err, "can't decode event")
	}

	switch e := e.(type) {
	case evt.CommandStatus:
		return s.handleResponse(int(e.Opcode), e)
	case evt.CommandComplete:
		return s.handleResponse(int(e.Opcode), e)
	default:
		return s.queue(e)
	}
}

func (s *Stack) handleResponse(opcode int, e evt.Event) error {
	s.muSent.Lock()
	p := s.sent
	s.muSent.Unlock()

	// late responses for timed out commands land here
	if p == nil || p.cmd.OpCode() != opcode {
		s.logger.Warnf("response for unknown opcode 0x%04X", opcode)
		return nil
	}

	select {
	case p.done <- e:
	default:
	}
	return nil
}

func (s *Stack) queue(e evt.Event) error {
	select {
	case s.events <- e:
		return nil
	default:
		return errors.Wrapf(ErrEventQueueFull, "dropping %v", evt.Name(e.Code()))
	}
}

func (s *Stack) close(err error) {
	if err != nil {
		s.setErr(err)
	}
	s.Close()
}

func (s *Stack) dispatchError(e error) {
	if s.errorHandler == nil {
		s.logger.Error(e)
		return
	}
	s.errorHandler(e)
}

func isTimeout(err error) bool {
	if errors.Cause(err) == h4.ErrReadTimeout {
		return true
	}
	te, ok := errors.Cause(err).(interface{ Timeout() bool })
	return ok && te.Timeout()
}

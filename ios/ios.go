// Package ios is the custom I/O GATT service: a write-only "in"
// characteristic feeding a handler and a notify-only "out" characteristic.
package ios

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/sliceops"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrNotifyOff     = errors.New("notifications not enabled")
	ErrTooLong       = errors.New("payload too long")
	ErrRateLimited   = errors.New("notify rate exceeded")
	ErrNotRegistered = errors.New("service not registered")
)

// cccdNotify is the notification bit of a client characteristic
// configuration descriptor.
const cccdNotify = 0x0001

// Sender issues one command and waits for its response.
type Sender interface {
	Send(c cmd.Command, r cmd.CommandRP) error
}

// InHandler receives payloads written to the in characteristic.
type InHandler func(data []byte)

type Config struct {
	Base      uuid.UUID
	UUID16    uint16
	InUUID16  uint16
	OutUUID16 uint16
	InLen     int
	OutLen    int

	NotifyRate  float64 // per second
	NotifyBurst int
}

// Handles are the attribute handles assigned at registration.
type Handles struct {
	UUIDType uint8
	Service  uint16
	InValue  uint16
	OutValue uint16
	OutCCCD  uint16
}

type Service struct {
	cfg     Config
	onIn    InHandler
	limiter *rate.Limiter
	now     func() time.Time

	h          Handles
	registered bool

	conn     bleshim.ConnHandle
	notifyOn bool

	logger bleshim.Logger
}

type Option func(*Service)

func WithInHandler(fn InHandler) Option {
	return func(s *Service) { s.onIn = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.NotifyRate), cfg.NotifyBurst),
		now:     time.Now,
		conn:    bleshim.InvalidConnHandle,
		logger:  bleshim.PkgLogger("ios"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the vendor base, the service and both characteristics,
// each step using handles returned by the one before.
func (s *Service) Register(snd Sender) error {
	base := sliceops.SwapBuf(s.cfg.Base[:])
	// the stack substitutes the 16-bit uuid into these bytes
	sliceops.Zero(base[12:14])

	vu := &cmd.VendorUUIDAdd{}
	copy(vu.Base[:], base)
	var vrp cmd.VendorUUIDAddRP
	if err := snd.Send(vu, &vrp); err != nil {
		return errors.Wrap(err, "can't add vendor uuid")
	}

	var srp cmd.ServiceAddRP
	if err := snd.Send(&cmd.ServiceAdd{UUIDType: vrp.UUIDType, UUID16: s.cfg.UUID16}, &srp); err != nil {
		return errors.Wrap(err, "can't add service")
	}

	var in cmd.CharAddRP
	if err := snd.Send(&cmd.CharAdd{
		ServiceHandle: srp.Handle,
		UUIDType:      vrp.UUIDType,
		UUID16:        s.cfg.InUUID16,
		Props:         cmd.CharWrite | cmd.CharWriteNR,
		MaxLen:        uint16(s.cfg.InLen),
		VarLen:        true,
	}, &in); err != nil {
		return errors.Wrap(err, "can't add in characteristic")
	}

	var out cmd.CharAddRP
	if err := snd.Send(&cmd.CharAdd{
		ServiceHandle: srp.Handle,
		UUIDType:      vrp.UUIDType,
		UUID16:        s.cfg.OutUUID16,
		Props:         cmd.CharNotify,
		MaxLen:        uint16(s.cfg.OutLen),
		VarLen:        true,
	}, &out); err != nil {
		return errors.Wrap(err, "can't add out characteristic")
	}

	s.h = Handles{
		UUIDType: vrp.UUIDType,
		Service:  srp.Handle,
		InValue:  in.ValueHandle,
		OutValue: out.ValueHandle,
		OutCCCD:  out.CCCDHandle,
	}
	s.registered = true
	s.logger.Infof("registered service %04x: %+v", s.cfg.UUID16, s.h)
	return nil
}

func (s *Service) Handles() Handles {
	return s.h
}

// Handle observes one stack event. The service never replies to events, so
// the returned action list is always empty; it shares the handler shape of
// the other event consumers.
func (s *Service) Handle(e evt.Event) []bleshim.Action {
	switch e := e.(type) {
	case evt.Connected:
		s.conn = e.Handle
		s.notifyOn = false
	case evt.Disconnected:
		s.conn = bleshim.InvalidConnHandle
		s.notifyOn = false
	case evt.Write:
		if e.Handle != s.conn || !s.registered {
			return nil
		}
		s.onWrite(e)
	}
	return nil
}

func (s *Service) onWrite(e evt.Write) {
	// only whole values are delivered, partial writes are not reassembled
	if e.Offset != 0 {
		s.logger.Debugf("write to 0x%04X at offset %d dropped", e.AttrHandle, e.Offset)
		return
	}
	switch e.AttrHandle {
	case s.h.OutCCCD:
		if len(e.Data) != 2 {
			s.logger.Warnf("cccd write of %d bytes ignored", len(e.Data))
			return
		}
		s.notifyOn = binary.LittleEndian.Uint16(e.Data)&cccdNotify != 0
		s.logger.Debugf("notifications enabled=%v", s.notifyOn)

	case s.h.InValue:
		if len(e.Data) > s.cfg.InLen {
			s.logger.Warnf("in write of %d bytes exceeds %d, dropped", len(e.Data), s.cfg.InLen)
			return
		}
		if s.onIn != nil {
			s.onIn(e.Data)
		}
	}
}

// NotifyEnabled reports whether the peer subscribed to the out
// characteristic on the current connection.
func (s *Service) NotifyEnabled() bool {
	return s.conn.Valid() && s.notifyOn
}

// Notify builds a notification of data on the out characteristic.
func (s *Service) Notify(data []byte) ([]bleshim.Action, error) {
	switch {
	case !s.registered:
		return nil, ErrNotRegistered
	case !s.conn.Valid():
		return nil, ErrNotConnected
	case !s.notifyOn:
		return nil, ErrNotifyOff
	case len(data) > s.cfg.OutLen:
		return nil, errors.Wrapf(ErrTooLong, "%d > %d", len(data), s.cfg.OutLen)
	case !s.limiter.AllowN(s.now(), 1):
		return nil, ErrRateLimited
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return []bleshim.Action{&cmd.HVX{Handle: s.conn, AttrHandle: s.h.OutValue, Data: buf}}, nil
}

package ios

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/stretchr/testify/require"
)

const (
	conn     = bleshim.ConnHandle(3)
	inValue  = 0x0E
	outValue = 0x10
	outCCCD  = 0x11
)

// fakeStack answers registration commands like the chip would.
type fakeStack struct {
	sent  []cmd.Command
	chars int
	fail  int
}

func (f *fakeStack) Send(c cmd.Command, r cmd.CommandRP) error {
	f.sent = append(f.sent, c)
	if f.fail > 0 && len(f.sent) == f.fail {
		return errors.New("boom")
	}
	var ret []byte
	switch c.(type) {
	case *cmd.VendorUUIDAdd:
		ret = []byte{cmd.UUIDTypeVendorBegin}
	case *cmd.ServiceAdd:
		ret = []byte{0x0C, 0x00}
	case *cmd.CharAdd:
		f.chars++
		if f.chars == 1 {
			ret = []byte{inValue, 0x00, 0x00, 0x00}
		} else {
			ret = []byte{outValue, 0x00, outCCCD, 0x00}
		}
	}
	if r != nil {
		return r.Unmarshal(ret)
	}
	return nil
}

func testConfig() Config {
	return Config{
		Base:        uuid.MustParse("6e400000-b5a3-f393-e0a9-e50e24dcca9e"),
		UUID16:      1,
		InUUID16:    2,
		OutUUID16:   3,
		InLen:       64,
		OutLen:      32,
		NotifyRate:  1,
		NotifyBurst: 2,
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRegistered(t *testing.T, opts ...Option) (*Service, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(1000, 0)}
	s := New(testConfig(), append([]Option{WithClock(c.now)}, opts...)...)
	require.NoError(t, s.Register(&fakeStack{}))
	return s, c
}

func subscribe(s *Service) {
	s.Handle(evt.Connected{Handle: conn})
	s.Handle(evt.Write{Handle: conn, AttrHandle: outCCCD, Data: []byte{0x01, 0x00}})
}

func TestRegister(t *testing.T) {
	f := &fakeStack{}
	s := New(testConfig())
	require.NoError(t, s.Register(f))

	require.Len(t, f.sent, 4)
	vu := f.sent[0].(*cmd.VendorUUIDAdd)
	// little endian, with the 16-bit slot cleared
	require.Equal(t, [16]byte{
		0x9e, 0xca, 0xdc, 0x24, 0x0e, 0xe5, 0xa9, 0xe0,
		0x93, 0xf3, 0xa3, 0xb5, 0x00, 0x00, 0x40, 0x6e,
	}, vu.Base)

	require.Equal(t, &cmd.ServiceAdd{UUIDType: cmd.UUIDTypeVendorBegin, UUID16: 1}, f.sent[1])
	require.Equal(t, &cmd.CharAdd{
		ServiceHandle: 0x0C, UUIDType: cmd.UUIDTypeVendorBegin, UUID16: 2,
		Props: cmd.CharWrite | cmd.CharWriteNR, MaxLen: 64, VarLen: true,
	}, f.sent[2])
	require.Equal(t, &cmd.CharAdd{
		ServiceHandle: 0x0C, UUIDType: cmd.UUIDTypeVendorBegin, UUID16: 3,
		Props: cmd.CharNotify, MaxLen: 32, VarLen: true,
	}, f.sent[3])

	require.Equal(t, Handles{
		UUIDType: cmd.UUIDTypeVendorBegin,
		Service:  0x0C,
		InValue:  inValue,
		OutValue: outValue,
		OutCCCD:  outCCCD,
	}, s.Handles())
}

func TestRegisterFails(t *testing.T) {
	s := New(testConfig())
	err := s.Register(&fakeStack{fail: 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "can't add service")

	_, err = s.Notify([]byte{1})
	require.Equal(t, ErrNotRegistered, err)
}

func TestInHandler(t *testing.T) {
	var got [][]byte
	s, _ := newRegistered(t, WithInHandler(func(b []byte) { got = append(got, b) }))
	s.Handle(evt.Connected{Handle: conn})

	s.Handle(evt.Write{Handle: conn, AttrHandle: inValue, Data: []byte("hello")})
	s.Handle(evt.Write{Handle: conn, AttrHandle: inValue, Data: make([]byte, 65)})
	s.Handle(evt.Write{Handle: conn, AttrHandle: inValue, Data: make([]byte, 64)})
	// other connection
	s.Handle(evt.Write{Handle: conn + 1, AttrHandle: inValue, Data: []byte("x")})

	require.Len(t, got, 2)
	require.Equal(t, []byte("hello"), got[0])
	require.Len(t, got[1], 64)
}

func TestOffsetWritesDropped(t *testing.T) {
	var got [][]byte
	s, _ := newRegistered(t, WithInHandler(func(b []byte) { got = append(got, b) }))
	s.Handle(evt.Connected{Handle: conn})

	s.Handle(evt.Write{Handle: conn, AttrHandle: inValue, Offset: 4, Data: []byte("tail")})
	s.Handle(evt.Write{Handle: conn, AttrHandle: outCCCD, Offset: 1, Data: []byte{0x01, 0x00}})
	require.Empty(t, got)
	require.False(t, s.NotifyEnabled())

	s.Handle(evt.Write{Handle: conn, AttrHandle: inValue, Data: []byte("head")})
	require.Equal(t, [][]byte{[]byte("head")}, got)
}

func TestNotify(t *testing.T) {
	s, _ := newRegistered(t)

	_, err := s.Notify([]byte{1})
	require.Equal(t, ErrNotConnected, err)

	s.Handle(evt.Connected{Handle: conn})
	_, err = s.Notify([]byte{1})
	require.Equal(t, ErrNotifyOff, err)

	s.Handle(evt.Write{Handle: conn, AttrHandle: outCCCD, Data: []byte{0x01, 0x00}})
	require.True(t, s.NotifyEnabled())

	aa, err := s.Notify([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	require.Equal(t, []bleshim.Action{&cmd.HVX{Handle: conn, AttrHandle: outValue, Data: []byte{0xAA, 0xBB}}}, aa)

	_, err = s.Notify(make([]byte, 33))
	require.Equal(t, ErrTooLong, errors.Cause(err))
}

func TestNotifyRateLimited(t *testing.T) {
	s, c := newRegistered(t)
	subscribe(s)

	for i := 0; i < 2; i++ {
		_, err := s.Notify([]byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := s.Notify([]byte{2})
	require.Equal(t, ErrRateLimited, err)

	c.t = c.t.Add(time.Second)
	_, err = s.Notify([]byte{3})
	require.NoError(t, err)
}

func TestCCCDDisableAndDisconnect(t *testing.T) {
	s, _ := newRegistered(t)
	subscribe(s)
	require.True(t, s.NotifyEnabled())

	s.Handle(evt.Write{Handle: conn, AttrHandle: outCCCD, Data: []byte{0x00, 0x00}})
	require.False(t, s.NotifyEnabled())

	// malformed cccd write leaves state alone
	s.Handle(evt.Write{Handle: conn, AttrHandle: outCCCD, Data: []byte{0x01}})
	require.False(t, s.NotifyEnabled())

	subscribe(s)
	s.Handle(evt.Disconnected{Handle: conn})
	require.False(t, s.NotifyEnabled())

	// a new connection starts unsubscribed
	s.Handle(evt.Connected{Handle: conn})
	require.False(t, s.NotifyEnabled())
}

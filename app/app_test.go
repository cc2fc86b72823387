package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/config"
	"github.com/rigado/bleshim/indicator"
	"github.com/rigado/bleshim/ios"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/rigado/bleshim/stack/smp"
	"github.com/stretchr/testify/require"
)

const (
	conn    = bleshim.ConnHandle(0x0021)
	inValue = 0x0E
	outCCCD = 0x11
)

type fakeStack struct {
	mu     sync.Mutex
	sent   []cmd.Command
	chars  int
	onSend func(cmd.Command) error

	events chan evt.Event
}

func newFakeStack() *fakeStack {
	return &fakeStack{events: make(chan evt.Event)}
}

func (f *fakeStack) Send(c cmd.Command, r cmd.CommandRP) error {
	f.mu.Lock()
	f.sent = append(f.sent, c)
	hook := f.onSend
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
			ret = []byte{0x10, 0x00, outCCCD, 0x00}
		}
	}
	f.mu.Unlock()

	if hook != nil {
		if err := hook(c); err != nil {
			return err
		}
	}
	if r != nil {
		return r.Unmarshal(ret)
	}
	return nil
}

func (f *fakeStack) Events() <-chan evt.Event { return f.events }
func (f *fakeStack) Err() error               { return nil }

func (f *fakeStack) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, c := range f.sent {
		out[i] = fmt.Sprintf("%T", c)
	}
	return out
}

func (f *fakeStack) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeStack) last() cmd.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type harness struct {
	app   *App
	stack *fakeStack
	board *indicator.Board

	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, cfg *config.Config, opts ...Option) *harness {
	t.Helper()
	board, err := indicator.NewBoard(indicator.NewMemDriver(), indicator.Pins{Advertising: 21, Connected: 26, Assert: 27}, true)
	require.NoError(t, err)

	fs := newFakeStack()
	a, err := New(cfg, fs, board, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Init())
	return &harness{app: a, stack: fs, board: board}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	n := h.stack.count()
	go func() { h.done <- h.app.Run(ctx) }()
	require.Eventually(t, func() bool { return h.stack.count() > n }, time.Second, time.Millisecond)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(time.Second):
		t.Fatal("run loop did not return")
		return nil
	}
}

// push feeds an event and returns once the loop has handled it. The events
// channel is unbuffered, so the loop taking the no-op that follows means e
// is done.
func (h *harness) push(t *testing.T, e evt.Event) {
	t.Helper()
	h.stack.events <- e
	h.stack.events <- evt.TxComplete{Handle: conn, Count: 1}
}

func connected() evt.Connected {
	return evt.Connected{Handle: conn, Role: evt.RolePeripheral, Params: config.Defaults().PPCP()}
}

func TestInitSequence(t *testing.T) {
	h := newHarness(t, config.Defaults())
	require.Equal(t, []string{
		"*cmd.Enable",
		"*cmd.DeviceNameSet",
		"*cmd.AppearanceSet",
		"*cmd.PPCPSet",
		"*cmd.VendorUUIDAdd",
		"*cmd.ServiceAdd",
		"*cmd.CharAdd",
		"*cmd.CharAdd",
		"*cmd.AdvDataSet",
	}, h.stack.types())

	for _, l := range []indicator.LED{indicator.Advertising, indicator.Connected, indicator.Assert} {
		require.False(t, h.board.IsOn(l))
	}
}

func TestInitWithoutAppearance(t *testing.T) {
	cfg := config.Defaults()
	cfg.Device.Appearance = config.AppearanceNone
	h := newHarness(t, cfg)
	require.Equal(t, "*cmd.PPCPSet", h.stack.types()[2])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Conn.SupTimeoutMs = 10
	_, err := New(cfg, newFakeStack(), nil)
	require.IsType(t, &config.ValidationError{}, err)
}

func TestConnectDisconnectRestartsAdvertising(t *testing.T) {
	h := newHarness(t, config.Defaults())
	h.run(t)
	require.IsType(t, &cmd.AdvStart{}, h.stack.last())
	require.True(t, h.board.IsOn(indicator.Advertising))

	h.push(t, connected())
	require.True(t, h.board.IsOn(indicator.Connected))
	require.False(t, h.board.IsOn(indicator.Advertising))
	require.True(t, h.app.Reactor().Connected())

	n := h.stack.count()
	h.push(t, evt.Disconnected{Handle: conn, Reason: 0x13})
	require.Equal(t, n+1, h.stack.count())
	require.IsType(t, &cmd.AdvStart{}, h.stack.last())
	require.False(t, h.board.IsOn(indicator.Connected))
	require.True(t, h.board.IsOn(indicator.Advertising))
	require.Equal(t, bleshim.InvalidConnHandle, h.app.Reactor().ConnHandle())

	h.cancel()
	require.Equal(t, context.Canceled, h.wait(t))
}

func TestPairingReplies(t *testing.T) {
	h := newHarness(t, config.Defaults())
	h.run(t)
	h.push(t, connected())
	h.push(t, evt.SecParamsRequest{Handle: conn})

	spr, ok := h.stack.last().(*cmd.SecParamsReply)
	require.True(t, ok)
	require.Equal(t, conn, spr.Handle)
	require.Equal(t, uint8(smp.StatusSuccess), spr.Status)
	h.cancel()
	h.wait(t)
}

func TestAdvertisingTimeoutPowersOff(t *testing.T) {
	h := newHarness(t, config.Defaults())
	var ledAtPowerOff bool
	h.stack.onSend = func(c cmd.Command) error {
		if _, ok := c.(*cmd.PowerSystemOff); ok {
			ledAtPowerOff = h.board.IsOn(indicator.Advertising)
		}
		return nil
	}
	h.run(t)
	require.True(t, h.board.IsOn(indicator.Advertising))

	h.stack.events <- evt.Timeout{Handle: bleshim.InvalidConnHandle, Source: evt.TimeoutSrcAdvertising}
	require.Equal(t, ErrPoweredOff, h.wait(t))
	require.IsType(t, &cmd.PowerSystemOff{}, h.stack.last())
	require.False(t, ledAtPowerOff)
}

func TestSendFailureIsFatal(t *testing.T) {
	h := newHarness(t, config.Defaults())
	h.stack.onSend = func(c cmd.Command) error {
		if _, ok := c.(*cmd.SecParamsReply); ok {
			return errors.New("NRF_ERROR_INVALID_STATE")
		}
		return nil
	}
	h.run(t)
	h.stack.events <- connected()
	h.stack.events <- evt.SecParamsRequest{Handle: conn}

	err := h.wait(t)
	require.IsType(t, &FatalError{}, err)
	require.Contains(t, err.Error(), "NRF_ERROR_INVALID_STATE")
}

func TestEventStreamClosedIsFatal(t *testing.T) {
	h := newHarness(t, config.Defaults())
	h.run(t)
	close(h.stack.events)
	require.IsType(t, &FatalError{}, h.wait(t))
}

func TestConnParamNegotiation(t *testing.T) {
	cfg := config.Defaults()
	cfg.Conn.FirstUpdateDelay = 5 * time.Millisecond
	cfg.Conn.NextUpdateDelay = 5 * time.Millisecond
	cfg.Conn.MaxUpdateCount = 2
	h := newHarness(t, cfg)
	h.run(t)

	bad := connected()
	bad.Params = evt.ConnParams{MinInterval: 6, MaxInterval: 6, SupTimeout: 100}
	h.stack.events <- bad

	require.Eventually(t, func() bool {
		d, ok := h.stack.last().(*cmd.Disconnect)
		return ok && d.Reason == cmd.ReasonConnIntervalUnacceptable
	}, time.Second, time.Millisecond)

	updates := 0
	for _, ty := range h.stack.types() {
		if ty == "*cmd.ConnParamUpdate" {
			updates++
		}
	}
	require.Equal(t, 2, updates)
	h.cancel()
	h.wait(t)
}

func TestNotify(t *testing.T) {
	var in []byte
	h := newHarness(t, config.Defaults(), WithInHandler(func(b []byte) { in = append(in, b...) }))
	h.run(t)
	ctx := context.Background()

	require.Equal(t, ios.ErrNotConnected, h.app.Notify(ctx, []byte{1}))

	h.push(t, connected())
	h.push(t, evt.Write{Handle: conn, AttrHandle: outCCCD, Data: []byte{0x01, 0x00}})
	h.push(t, evt.Write{Handle: conn, AttrHandle: inValue, Data: []byte("ping")})
	require.Equal(t, []byte("ping"), in)

	require.NoError(t, h.app.Notify(ctx, []byte("pong")))
	hvx, ok := h.stack.last().(*cmd.HVX)
	require.True(t, ok)
	require.Equal(t, []byte("pong"), hvx.Data)

	h.cancel()
	h.wait(t)
}

func TestFirmwareUpdate(t *testing.T) {
	h := newHarness(t, config.Defaults())
	h.run(t)
	h.push(t, connected())

	require.NoError(t, h.app.EnterFirmwareUpdate(context.Background()))
	require.Equal(t, &cmd.Disconnect{Handle: conn, Reason: cmd.ReasonRemoteUserTerminated}, h.stack.last())

	h.push(t, evt.Disconnected{Handle: conn, Reason: 0x16})
	require.IsType(t, &cmd.AdvStop{}, h.stack.last())
	require.False(t, h.board.IsOn(indicator.Advertising))

	h.cancel()
	h.wait(t)
}

func TestHalt(t *testing.T) {
	h := newHarness(t, config.Defaults())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.app.Halt(ctx, errors.New("boom"))
		close(done)
	}()

	require.Eventually(t, func() bool { return h.board.IsOn(indicator.Assert) }, time.Second, time.Millisecond)
	cancel()
	<-done
}

package connparams

import (
	"testing"
	"time"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/stretchr/testify/require"
)

const h = bleshim.ConnHandle(1)

var ppcp = evt.ConnParams{MinInterval: 80, MaxInterval: 160, SlaveLatency: 0, SupTimeout: 400}

// what a phone typically picks
var fast = evt.ConnParams{MinInterval: 24, MaxInterval: 24, SlaveLatency: 0, SupTimeout: 72}

func newTestNegotiator() *Negotiator {
	return New(Config{
		PPCP:             ppcp,
		FirstUpdateDelay: 5 * time.Second,
		NextUpdateDelay:  30 * time.Second,
		MaxUpdateCount:   3,
	})
}

func TestAcceptable(t *testing.T) {
	n := newTestNegotiator()
	require.True(t, n.Acceptable(evt.ConnParams{MinInterval: 80, MaxInterval: 80, SupTimeout: 400}))
	require.True(t, n.Acceptable(evt.ConnParams{MinInterval: 160, MaxInterval: 160, SupTimeout: 400}))
	require.False(t, n.Acceptable(evt.ConnParams{MinInterval: 161, MaxInterval: 161, SupTimeout: 400}))
	require.False(t, n.Acceptable(evt.ConnParams{MinInterval: 100, MaxInterval: 100, SlaveLatency: 1, SupTimeout: 400}))
	require.False(t, n.Acceptable(evt.ConnParams{MinInterval: 100, MaxInterval: 100, SupTimeout: 300}))
	require.False(t, n.Acceptable(fast))
}

func TestConnectedAcceptableNoTimer(t *testing.T) {
	n := newTestNegotiator()
	require.Empty(t, n.Handle(evt.Connected{Handle: h, Params: evt.ConnParams{MinInterval: 100, MaxInterval: 100, SupTimeout: 400}}))
	require.Equal(t, Succeeded, n.Result())
	require.Empty(t, n.Expired())
}

func TestNegotiationSucceeds(t *testing.T) {
	n := newTestNegotiator()
	require.Equal(t, []bleshim.Action{StartTimer{Delay: 5 * time.Second}}, n.Handle(evt.Connected{Handle: h, Params: fast}))

	require.Equal(t, []bleshim.Action{
		&cmd.ConnParamUpdate{Handle: h, Params: ppcp},
		StartTimer{Delay: 30 * time.Second},
	}, n.Expired())
	require.Equal(t, 1, n.Count())

	require.Equal(t, []bleshim.Action{StopTimer{}},
		n.Handle(evt.ConnParamUpdate{Handle: h, Params: evt.ConnParams{MinInterval: 120, MaxInterval: 120, SupTimeout: 400}}))
	require.Equal(t, Succeeded, n.Result())
	require.Empty(t, n.Expired())
}

func TestNegotiationFails(t *testing.T) {
	n := newTestNegotiator()
	n.Handle(evt.Connected{Handle: h, Params: fast})

	for i := 1; i <= 3; i++ {
		aa := n.Expired()
		require.Len(t, aa, 2)
		require.IsType(t, &cmd.ConnParamUpdate{}, aa[0])
		require.Empty(t, n.Handle(evt.ConnParamUpdate{Handle: h, Params: fast}))
		require.Equal(t, i, n.Count())
	}

	require.Equal(t, []bleshim.Action{&cmd.Disconnect{Handle: h, Reason: cmd.ReasonConnIntervalUnacceptable}}, n.Expired())
	require.Equal(t, Failed, n.Result())
	require.Empty(t, n.Expired())
}

func TestDisconnectStopsTimer(t *testing.T) {
	n := newTestNegotiator()
	n.Handle(evt.Connected{Handle: h, Params: fast})
	require.Equal(t, []bleshim.Action{StopTimer{}}, n.Handle(evt.Disconnected{Handle: h}))
	require.Empty(t, n.Expired())

	// nothing running, nothing to stop
	require.Empty(t, n.Handle(evt.Disconnected{Handle: h}))
	require.Empty(t, n.Stop())
}

func TestUpdateOnOtherHandleIgnored(t *testing.T) {
	n := newTestNegotiator()
	n.Handle(evt.Connected{Handle: h, Params: fast})
	require.Empty(t, n.Handle(evt.ConnParamUpdate{Handle: h + 1, Params: ppcp}))
	require.Equal(t, Pending, n.Result())
}

func TestReconnectResetsCount(t *testing.T) {
	n := newTestNegotiator()
	n.Handle(evt.Connected{Handle: h, Params: fast})
	n.Expired()
	n.Expired()
	n.Handle(evt.Disconnected{Handle: h})
	n.Handle(evt.Connected{Handle: h, Params: fast})
	require.Equal(t, 0, n.Count())
}

// Package connparams negotiates the connection parameters the peripheral
// prefers once a central has connected with something else.
package connparams

import (
	"fmt"
	"time"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
)

// StartTimer arms the negotiation timer, replacing any pending expiry.
type StartTimer struct {
	Delay time.Duration
}

func (s StartTimer) String() string { return fmt.Sprintf("start update timer %v", s.Delay) }

// StopTimer cancels the negotiation timer.
type StopTimer struct{}

func (StopTimer) String() string { return "stop update timer" }

type Config struct {
	PPCP             evt.ConnParams
	FirstUpdateDelay time.Duration
	NextUpdateDelay  time.Duration
	MaxUpdateCount   int
}

// Result of the last negotiation.
type Result int

const (
	Pending Result = iota
	Succeeded
	Failed
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Negotiator requests PPCP from the central a bounded number of times and
// drops the link when it never agrees.
type Negotiator struct {
	cfg Config

	handle  bleshim.ConnHandle
	count   int
	running bool
	result  Result

	logger bleshim.Logger
}

func New(cfg Config) *Negotiator {
	return &Negotiator{
		cfg:    cfg,
		handle: bleshim.InvalidConnHandle,
		logger: bleshim.PkgLogger("connparams"),
	}
}

// Acceptable reports whether p satisfies the preferred parameters: the
// interval falls inside the preferred range and latency and supervision
// timeout match exactly.
func (n *Negotiator) Acceptable(p evt.ConnParams) bool {
	pp := n.cfg.PPCP
	return p.MaxInterval >= pp.MinInterval &&
		p.MaxInterval <= pp.MaxInterval &&
		p.SlaveLatency == pp.SlaveLatency &&
		p.SupTimeout == pp.SupTimeout
}

// Handle observes one stack event.
func (n *Negotiator) Handle(e evt.Event) []bleshim.Action {
	switch e := e.(type) {
	case evt.Connected:
		n.reset()
		n.handle = e.Handle
		if n.Acceptable(e.Params) {
			n.result = Succeeded
			return nil
		}
		n.running = true
		n.logger.Debugf("connected with %v, want %v", e.Params, n.cfg.PPCP)
		return []bleshim.Action{StartTimer{Delay: n.cfg.FirstUpdateDelay}}

	case evt.ConnParamUpdate:
		if !n.running || e.Handle != n.handle {
			return nil
		}
		if n.Acceptable(e.Params) {
			n.logger.Infof("parameters accepted after %d request(s): %v", n.count, e.Params)
			n.running = false
			n.result = Succeeded
			return []bleshim.Action{StopTimer{}}
		}
		n.logger.Debugf("central chose %v, retrying", e.Params)
		return nil

	case evt.Disconnected:
		return n.Stop()
	}
	return nil
}

// Expired handles the negotiation timer firing.
func (n *Negotiator) Expired() []bleshim.Action {
	if !n.running {
		return nil
	}
	if n.count < n.cfg.MaxUpdateCount {
		n.count++
		return []bleshim.Action{
			&cmd.ConnParamUpdate{Handle: n.handle, Params: n.cfg.PPCP},
			StartTimer{Delay: n.cfg.NextUpdateDelay},
		}
	}

	n.logger.Warnf("central refused %v after %d request(s), disconnecting", n.cfg.PPCP, n.count)
	h := n.handle
	n.reset()
	n.result = Failed
	return []bleshim.Action{&cmd.Disconnect{Handle: h, Reason: cmd.ReasonConnIntervalUnacceptable}}
}

// Stop abandons any negotiation in progress.
func (n *Negotiator) Stop() []bleshim.Action {
	wasRunning := n.running
	n.reset()
	if wasRunning {
		return []bleshim.Action{StopTimer{}}
	}
	return nil
}

// Result reports the outcome of the latest negotiation.
func (n *Negotiator) Result() Result {
	return n.result
}

// Count is the number of update requests sent on this connection.
func (n *Negotiator) Count() int {
	return n.count
}

func (n *Negotiator) reset() {
	n.handle = bleshim.InvalidConnHandle
	n.count = 0
	n.running = false
	n.result = Pending
}

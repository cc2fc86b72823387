// Package reactor maps connection and security events from the stack to the
// replies and indicator changes they require. It performs no I/O: every
// decision comes back as an ordered list of actions for the caller to run.
package reactor

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/adv"
	"github.com/rigado/bleshim/indicator"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/rigado/bleshim/stack/smp"
)

// TimeoutPolicy decides what an advertising timeout does.
type TimeoutPolicy int

const (
	// PowerOff ends this power cycle.
	PowerOff TimeoutPolicy = iota
	// Restart advertises again.
	Restart
)

// ParseTimeoutPolicy maps "power_off" and "restart".
func ParseTimeoutPolicy(s string) (TimeoutPolicy, error) {
	switch s {
	case "power_off", "":
		return PowerOff, nil
	case "restart":
		return Restart, nil
	default:
		return PowerOff, errors.Errorf("invalid timeout policy %q", s)
	}
}

// Reactor owns the connection session, the last auth status and the key set
// the stack writes distributed keys into.
type Reactor struct {
	session *Session
	auth    *evt.AuthStatus
	keys    *smp.KeySet

	sec    smp.SecParams
	adv    *adv.Controller
	policy TimeoutPolicy

	updating bool

	entropy io.Reader
	now     func() time.Time
	logger  bleshim.Logger
}

// Option configures a Reactor.
type Option func(*Reactor)

func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(r *Reactor) { r.policy = p }
}

// WithEntropy sets the source of session id randomness.
func WithEntropy(e io.Reader) Option {
	return func(r *Reactor) { r.entropy = e }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reactor) { r.now = now }
}

// New returns an idle reactor replying to pairing with sec.
func New(a *adv.Controller, sec smp.SecParams, opts ...Option) *Reactor {
	r := &Reactor{
		keys:    &smp.KeySet{},
		sec:     sec,
		adv:     a,
		policy:  PowerOff,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
		logger:  bleshim.PkgLogger("reactor"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle consumes one event.
func (r *Reactor) Handle(e evt.Event) ([]bleshim.Action, error) {
	switch e := e.(type) {
	case evt.Connected:
		return r.handleConnected(e)
	case evt.Disconnected:
		return r.handleDisconnected(e), nil
	case evt.SecParamsRequest:
		return r.handleSecParamsRequest(e), nil
	case evt.AuthStatus:
		return r.handleAuthStatus(e), nil
	case evt.SecInfoRequest:
		return r.handleSecInfoRequest(e), nil
	case evt.Timeout:
		return r.handleTimeout(e), nil
	case evt.SysAttrMissing:
		return r.handleSysAttrMissing(e), nil
	default:
		return nil, nil
	}
}

func (r *Reactor) handleConnected(e evt.Connected) ([]bleshim.Action, error) {
	if r.session != nil {
		r.logger.Warnf("connect on %v while %v, replacing session", e.Handle, r.session)
	}

	id, err := ulid.New(ulid.Timestamp(r.now()), r.entropy)
	if err != nil {
		return nil, errors.Wrap(err, "can't make session id")
	}
	r.session = &Session{Handle: e.Handle, State: Connected, ID: id}
	r.adv.Stopped()
	r.log().Infof("connected to %v (%v)", e.Peer, e.Params)

	return []bleshim.Action{
		indicator.On(indicator.Connected),
		indicator.Off(indicator.Advertising),
	}, nil
}

func (r *Reactor) handleDisconnected(e evt.Disconnected) []bleshim.Action {
	if r.session == nil {
		r.logger.Warnf("disconnect on %v while idle", e.Handle)
	} else {
		r.log().Infof("disconnected, reason 0x%02X", e.Reason)
	}
	r.session = nil

	aa := []bleshim.Action{indicator.Off(indicator.Connected)}
	if r.updating {
		return append(aa, r.adv.Stop()...)
	}
	return append(aa, r.adv.Start()...)
}

func (r *Reactor) handleSecParamsRequest(e evt.SecParamsRequest) []bleshim.Action {
	if !r.live("security parameters request", e.Handle) {
		return nil
	}
	r.session.State = Pairing
	r.log().Debugf("pairing requested, peer flags=%02x io=%v", e.Peer.Flags(), e.Peer.IOCaps)

	return []bleshim.Action{&cmd.SecParamsReply{
		Handle: r.session.Handle,
		Status: smp.StatusSuccess,
		Params: r.sec,
	}}
}

func (r *Reactor) handleAuthStatus(e evt.AuthStatus) []bleshim.Action {
	r.storeKeys(e)

	snap := e
	snap.Keys = nil
	r.auth = &snap

	if r.session != nil && r.session.Handle == e.Handle {
		r.session.State = AuthComplete
	}
	r.log().Infof("auth status %v bonded=%v kdist=%02x", smp.StatusText(e.Status), e.Bonded, e.KDistPeriph.Byte())
	return nil
}

// storeKeys copies each distributed kind from the event's snapshot into
// the key set. Kinds not distributed keep their previous contents.
func (r *Reactor) storeKeys(e evt.AuthStatus) {
	if e.Keys == nil {
		return
	}
	if e.KDistPeriph.Enc {
		r.keys.Enc = e.Keys.Enc
	}
	if e.KDistPeriph.ID {
		r.keys.ID = e.Keys.ID
	}
	if e.KDistPeriph.Sign {
		r.keys.Sign = e.Keys.Sign
	}
}

func (r *Reactor) handleSecInfoRequest(e evt.SecInfoRequest) []bleshim.Action {
	if !r.live("security info request", e.Handle) {
		return nil
	}

	var kd smp.KeyDist
	if r.auth != nil {
		kd = r.auth.KDistPeriph
	}
	match := e.MasterID.Equal(r.keys.Enc.MasterID)

	reply := &cmd.SecInfoReply{Handle: r.session.Handle}
	if kd.Enc && match {
		reply.Enc = &r.keys.Enc.Info
	}
	if kd.ID && match {
		reply.ID = &r.keys.ID
	}
	if kd.Sign && match {
		reply.Sign = &r.keys.Sign
	}
	if !match {
		r.log().Warnf("master id %v does not match stored key", e.MasterID)
	}
	return []bleshim.Action{reply}
}

func (r *Reactor) handleTimeout(e evt.Timeout) []bleshim.Action {
	switch e.Source {
	case evt.TimeoutSrcAdvertising:
		r.adv.Stopped()
		aa := []bleshim.Action{indicator.Off(indicator.Advertising)}
		if r.policy == Restart && !r.updating {
			r.logger.Info("advertising timed out, restarting")
			return append(aa, r.adv.Start()...)
		}
		r.logger.Info("advertising timed out, powering off")
		return append(aa, &cmd.PowerSystemOff{})

	case evt.TimeoutSrcSecurityRequest:
		r.log().Info("security request timed out")
	default:
		r.logger.Debugf("timeout source %d", e.Source)
	}
	return nil
}

func (r *Reactor) handleSysAttrMissing(e evt.SysAttrMissing) []bleshim.Action {
	if !r.live("system attributes missing", e.Handle) {
		return nil
	}
	// attributes are never stored, so none are restored
	return []bleshim.Action{&cmd.SysAttrSet{
		Handle: r.session.Handle,
		Flags:  cmd.SysAttrFlagSysSrvcs | cmd.SysAttrFlagUsrSrvcs,
	}}
}

// EnterFirmwareUpdate tears the link down ahead of a firmware update. From
// here on a disconnect stops advertising instead of restarting it.
func (r *Reactor) EnterFirmwareUpdate() []bleshim.Action {
	r.updating = true
	if r.session != nil {
		r.log().Info("firmware update, disconnecting")
		return []bleshim.Action{&cmd.Disconnect{Handle: r.session.Handle, Reason: cmd.ReasonRemoteUserTerminated}}
	}
	if r.adv.Active() {
		r.logger.Info("firmware update, stopping advertising")
		return r.adv.Stop()
	}
	return nil
}

// Updating reports whether firmware update mode is active.
func (r *Reactor) Updating() bool {
	return r.updating
}

// Session returns a copy of the live session, or nil when idle.
func (r *Reactor) Session() *Session {
	if r.session == nil {
		return nil
	}
	s := *r.session
	return &s
}

// ConnHandle returns the live connection handle or InvalidConnHandle.
func (r *Reactor) ConnHandle() bleshim.ConnHandle {
	if r.session == nil {
		return bleshim.InvalidConnHandle
	}
	return r.session.Handle
}

func (r *Reactor) Connected() bool {
	return r.session != nil
}

// Keys is the key set filled from distributed keys. It is owned by the
// reactor and must only be read from the goroutine calling Handle.
func (r *Reactor) Keys() *smp.KeySet {
	return r.keys
}

// AuthStatus returns the last auth status received, on any connection.
func (r *Reactor) AuthStatus() (evt.AuthStatus, bool) {
	if r.auth == nil {
		return evt.AuthStatus{}, false
	}
	return *r.auth, true
}

// live reports whether an event needing a connection can be served.
func (r *Reactor) live(what string, h bleshim.ConnHandle) bool {
	switch {
	case r.session == nil:
		r.logger.Warnf("%v on %v while idle, ignored", what, h)
		return false
	case r.session.Handle != h:
		r.log().Warnf("%v on unknown handle %v, ignored", what, h)
		return false
	}
	return true
}

func (r *Reactor) log() bleshim.Logger {
	if r.session == nil {
		return r.logger
	}
	return r.logger.ChildLogger(map[string]interface{}{"session": r.session.ID.String()})
}

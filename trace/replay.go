package trace

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/app"
	"github.com/rigado/bleshim/config"
	"github.com/rigado/bleshim/indicator"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/rigado/bleshim/stack/smp"
)

// Recorder stands in for the stack link. It answers registration commands
// with fixed handles.
type Recorder struct {
	mu    sync.Mutex
	sent  []cmd.Command
	chars int

	events chan evt.Event
}

// Fixed handles assigned by the Recorder.
const (
	ServiceHandle = 0x000C
	InHandle      = 0x000E
	OutHandle     = 0x0010
	OutCCCDHandle = 0x0011
)

func NewRecorder() *Recorder {
	return &Recorder{events: make(chan evt.Event)}
}

func (r *Recorder) Send(c cmd.Command, rp cmd.CommandRP) error {
	r.mu.Lock()
	r.sent = append(r.sent, c)
	var ret []byte
	switch c.(type) {
	case *cmd.VendorUUIDAdd:
		ret = []byte{cmd.UUIDTypeVendorBegin}
	case *cmd.ServiceAdd:
		ret = []byte{ServiceHandle, 0x00}
	case *cmd.CharAdd:
		r.chars++
		if r.chars%2 == 1 {
			ret = []byte{InHandle, 0x00, 0x00, 0x00}
		} else {
			ret = []byte{OutHandle, 0x00, OutCCCDHandle, 0x00}
		}
	}
	r.mu.Unlock()

	if rp != nil {
		return rp.Unmarshal(ret)
	}
	return nil
}

func (r *Recorder) Events() <-chan evt.Event { return r.events }
func (r *Recorder) Err() error               { return nil }

// Sent returns the commands sent so far.
func (r *Recorder) Sent() []cmd.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cmd.Command(nil), r.sent...)
}

// withKeys attaches the scripted keys to an auth status the way the link
// attaches decoded key material.
func withKeys(e evt.AuthStatus, k *Keys) (evt.AuthStatus, error) {
	if k == nil {
		return e, nil
	}
	ks := &smp.KeySet{}
	if err := k.apply(e.KDistPeriph, ks); err != nil {
		return e, err
	}
	e.Keys = ks
	return e, nil
}

// Result is what a replay produced.
type Result struct {
	mu         sync.Mutex
	Actions    []string
	PoweredOff bool
	Err        error
}

func (r *Result) add(s string) {
	r.mu.Lock()
	r.Actions = append(r.Actions, s)
	r.mu.Unlock()
}

// Compare checks the recorded actions against expect.
func (r *Result) Compare(expect []string) error {
	for i := 0; i < len(expect) || i < len(r.Actions); i++ {
		var got, want string
		if i < len(r.Actions) {
			got = r.Actions[i]
		}
		if i < len(expect) {
			want = expect[i]
		}
		if got != want {
			return errors.Errorf("action %d: got %q, want %q", i, got, want)
		}
	}
	return nil
}

// Replay runs s through a fresh app built from cfg. Actions are recorded
// from the start of advertising on.
func Replay(ctx context.Context, cfg *config.Config, s *Script) (*Result, error) {
	rec := NewRecorder()
	board, err := indicator.NewBoard(indicator.NewMemDriver(), indicator.Pins{
		Advertising: cfg.LEDs.Advertising,
		Connected:   cfg.LEDs.Connected,
		Assert:      cfg.LEDs.Assert,
	}, cfg.LEDs.ActiveLow)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	recording := false
	a, err := app.New(cfg, rec, board, app.WithActionHook(func(act bleshim.Action) {
		if recording {
			res.add(act.String())
		}
	}))
	if err != nil {
		return nil, err
	}
	if err := a.Init(); err != nil {
		return nil, err
	}
	recording = true

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	stopped := make(chan struct{})
	go func() {
		runErr = a.Run(ctx)
		close(stopped)
		cancel()
	}()

	bleshim.PkgLogger("trace").Infof("replaying %q, %d steps", s.Name, len(s.Steps))
	if err := feed(ctx, a, rec, s, res, stopped); err != nil {
		cancel()
		<-stopped
		return res, err
	}

	// the loop has handled every event once it takes one more
	select {
	case rec.events <- evt.TxComplete{}:
	case <-stopped:
	}
	cancel()
	<-stopped

	switch {
	case runErr == app.ErrPoweredOff:
		res.PoweredOff = true
	case errors.Cause(runErr) == context.Canceled:
	default:
		res.Err = runErr
	}
	return res, nil
}

// feed plays the script until it ends or the run loop stops.
func feed(ctx context.Context, a *app.App, rec *Recorder, s *Script, res *Result, stopped <-chan struct{}) error {
	for i, st := range s.Steps {
		switch st.Type {
		case StepSleep:
			select {
			case <-time.After(st.sleep()):
			case <-stopped:
				return nil
			}
			continue

		case StepNotify:
			data, err := hex.DecodeString(st.Data)
			if err != nil {
				return errors.Wrapf(err, "step %d data", i)
			}
			if err := a.Notify(ctx, data); err != nil {
				res.add("notify failed: " + err.Error())
			}
			continue

		case StepFirmwareUpdate:
			if err := a.EnterFirmwareUpdate(ctx); err != nil {
				res.add("firmware update failed: " + err.Error())
			}
			continue
		}

		e, err := st.Event()
		if err != nil {
			return errors.Wrapf(err, "step %d", i)
		}
		if as, ok := e.(evt.AuthStatus); ok {
			if e, err = withKeys(as, st.Keys); err != nil {
				return errors.Wrapf(err, "step %d keys", i)
			}
		}

		select {
		case rec.events <- e:
		case <-stopped:
			return nil
		}
	}
	return nil
}

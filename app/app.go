// Package app wires the stack link, the event consumers and the indicator
// board into the peripheral's run loop.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/adv"
	"github.com/rigado/bleshim/config"
	"github.com/rigado/bleshim/connparams"
	"github.com/rigado/bleshim/indicator"
	"github.com/rigado/bleshim/ios"
	"github.com/rigado/bleshim/reactor"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
)

// ErrPoweredOff is returned by Run once the stack was told to power down.
var ErrPoweredOff = errors.New("system powered off")

// Stack is the part of the stack link the app drives.
type Stack interface {
	Send(c cmd.Command, r cmd.CommandRP) error
	Events() <-chan evt.Event
	Err() error
}

// FatalError ends the run loop. The device can't continue once a stack
// call fails.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v: %v", e.Op, e.Err) }
func (e *FatalError) Cause() error  { return e.Err }
func (e *FatalError) Unwrap() error { return e.Err }

type request struct {
	data []byte
	done chan error
}

type App struct {
	cfg   *config.Config
	stack Stack
	board *indicator.Board

	reactor *reactor.Reactor
	adv     *adv.Controller
	cp      *connparams.Negotiator
	ios     *ios.Service

	timer  *time.Timer
	timerC <-chan time.Time

	notifyCh chan request
	updateCh chan request

	reactorOpts []reactor.Option
	iosOpts     []ios.Option
	hook        func(bleshim.Action)

	logger bleshim.Logger
}

type Option func(*App)

// WithInHandler receives writes to the I/O service's in characteristic.
// It runs on the event loop and must not block.
func WithInHandler(fn ios.InHandler) Option {
	return func(a *App) { a.iosOpts = append(a.iosOpts, ios.WithInHandler(fn)) }
}

// WithActionHook observes every action just before it runs.
func WithActionHook(fn func(bleshim.Action)) Option {
	return func(a *App) { a.hook = fn }
}

func WithReactorOptions(opts ...reactor.Option) Option {
	return func(a *App) { a.reactorOpts = append(a.reactorOpts, opts...) }
}

// New builds the app from a validated config.
func New(cfg *config.Config, s Stack, board *indicator.Board, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := reactor.ParseTimeoutPolicy(cfg.Advertising.TimeoutPolicy)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		stack:    s,
		board:    board,
		notifyCh: make(chan request),
		updateCh: make(chan request),
		logger:   bleshim.PkgLogger("app"),
	}
	for _, o := range opts {
		o(a)
	}

	a.adv = adv.NewController(cfg.AdvParams())
	a.reactor = reactor.New(a.adv, cfg.SecParams(),
		append([]reactor.Option{reactor.WithTimeoutPolicy(policy)}, a.reactorOpts...)...)
	a.cp = connparams.New(connparams.Config{
		PPCP:             cfg.PPCP(),
		FirstUpdateDelay: cfg.Conn.FirstUpdateDelay,
		NextUpdateDelay:  cfg.Conn.NextUpdateDelay,
		MaxUpdateCount:   cfg.Conn.MaxUpdateCount,
	})
	a.ios = ios.New(ios.Config{
		Base:        cfg.ServiceBase(),
		UUID16:      cfg.Service.UUID16,
		InUUID16:    cfg.Service.InUUID16,
		OutUUID16:   cfg.Service.OutUUID16,
		InLen:       cfg.Service.InLen,
		OutLen:      cfg.Service.OutLen,
		NotifyRate:  cfg.Service.NotifyRate,
		NotifyBurst: cfg.Service.NotifyBurst,
	}, a.iosOpts...)

	return a, nil
}

// Init runs the startup sequence up to, but not including, advertising.
func (a *App) Init() error {
	if err := a.board.AllOff(); err != nil {
		return errors.Wrap(err, "can't reset indicators")
	}

	aa := []bleshim.Action{
		&cmd.Enable{},
		&cmd.DeviceNameSet{Name: a.cfg.Device.Name},
	}
	if a.cfg.Device.Appearance != config.AppearanceNone {
		aa = append(aa, &cmd.AppearanceSet{Appearance: uint16(a.cfg.Device.Appearance)})
	}
	aa = append(aa, &cmd.PPCPSet{Params: a.cfg.PPCP()})
	if err := a.exec(aa); err != nil {
		return err
	}

	if err := a.ios.Register(a.stack); err != nil {
		return &FatalError{Op: "service registration", Err: err}
	}

	setup, err := a.adv.Setup()
	if err != nil {
		return errors.Wrap(err, "can't build advertising data")
	}
	if err := a.exec(setup); err != nil {
		return err
	}

	a.logger.Infof("initialized %q, ppcp %v", a.cfg.Device.Name, a.cfg.PPCP())
	return nil
}

// Run starts advertising and serves events until ctx ends, the device
// powers off, or a stack call fails.
func (a *App) Run(ctx context.Context) error {
	defer a.stopTimer()

	if err := a.exec(a.adv.Start()); err != nil {
		return err
	}

	events := a.stack.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-events:
			if !ok {
				err := a.stack.Err()
				if err == nil {
					err = errors.New("event stream closed")
				}
				return &FatalError{Op: "event link", Err: err}
			}
			if err := a.dispatch(e); err != nil {
				return err
			}

		case <-a.timerC:
			a.timerC = nil
			if err := a.exec(a.cp.Expired()); err != nil {
				return err
			}

		case r := <-a.notifyCh:
			aa, err := a.ios.Notify(r.data)
			if err == nil {
				err = a.exec(aa)
			}
			r.done <- err
			if _, fatal := err.(*FatalError); fatal {
				return err
			}

		case r := <-a.updateCh:
			aa := bleshim.Actions(a.cp.Stop(), a.reactor.EnterFirmwareUpdate())
			err := a.exec(aa)
			r.done <- err
			if err != nil {
				return err
			}
		}
	}
}

func (a *App) dispatch(e evt.Event) error {
	a.logger.Debugf("event %v on %v", evt.Name(e.Code()), e.ConnHandle())

	ra, err := a.reactor.Handle(e)
	if err != nil {
		return &FatalError{Op: evt.Name(e.Code()), Err: err}
	}
	return a.exec(bleshim.Actions(ra, a.cp.Handle(e), a.ios.Handle(e)))
}

// exec runs actions in order, stopping at the first failed stack call.
func (a *App) exec(aa []bleshim.Action) error {
	for _, act := range aa {
		if a.hook != nil {
			a.hook(act)
		}
		switch act := act.(type) {
		case indicator.Set:
			if err := a.board.Apply(act); err != nil {
				a.logger.Warnf("%v: %v", act, err)
			}

		case connparams.StartTimer:
			a.startTimer(act.Delay)
		case connparams.StopTimer:
			a.stopTimer()

		case cmd.Command:
			a.logger.Debugf("send %v", act)
			if err := a.stack.Send(act, nil); err != nil {
				return &FatalError{Op: act.String(), Err: err}
			}
			if _, ok := act.(*cmd.PowerSystemOff); ok {
				return ErrPoweredOff
			}

		default:
			a.logger.Warnf("unknown action %v", act)
		}
	}
	return nil
}

func (a *App) startTimer(d time.Duration) {
	a.stopTimer()
	a.timer = time.NewTimer(d)
	a.timerC = a.timer.C
}

func (a *App) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = nil
	a.timerC = nil
}

// Notify sends data on the out characteristic from any goroutine.
func (a *App) Notify(ctx context.Context, data []byte) error {
	return a.call(ctx, a.notifyCh, data)
}

// EnterFirmwareUpdate disconnects the peer or stops advertising so the
// device can be handed to a bootloader.
func (a *App) EnterFirmwareUpdate(ctx context.Context) error {
	return a.call(ctx, a.updateCh, nil)
}

func (a *App) call(ctx context.Context, ch chan request, data []byte) error {
	r := request{data: data, done: make(chan error, 1)}
	select {
	case ch <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Halt lights the assert indicator, logs err and waits for ctx to end.
// The peripheral has no way to recover without a restart.
func (a *App) Halt(ctx context.Context, err error) {
	if lerr := a.board.Apply(indicator.On(indicator.Assert)); lerr != nil {
		a.logger.Warnf("can't light assert indicator: %v", lerr)
	}
	a.logger.Errorf("halted: %v", err)
	<-ctx.Done()
}

func (a *App) Reactor() *reactor.Reactor { return a.reactor }

func (a *App) Service() *ios.Service { return a.ios }

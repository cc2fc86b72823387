package adv

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/indicator"
	"github.com/rigado/bleshim/stack/cmd"
)

// Params are the fixed advertising parameters. Interval is in 0.625 ms
// units and Timeout in seconds.
type Params struct {
	Interval uint16
	Timeout  uint16
	Channels cmd.ChannelMask

	Name       string
	Appearance int // negative leaves it out
	Services   []uuid.UUID

	// scan response extras, left out when nil
	TxPower      *int8
	Manufacturer *Manufacturer
}

// Manufacturer is manufacturer specific data under a company id.
type Manufacturer struct {
	ID   uint16
	Data []byte
}

// Controller starts and stops connectable undirected advertising.
type Controller struct {
	p      Params
	active bool
	logger bleshim.Logger
}

func NewController(p Params) *Controller {
	return &Controller{p: p, logger: bleshim.PkgLogger("adv")}
}

// Setup builds the advertising data and scan response.
func (c *Controller) Setup() ([]bleshim.Action, error) {
	fields := []Field{Flags(FlagsLEOnlyLimitedDisc)}
	if c.p.Appearance >= 0 {
		fields = append(fields, Appearance(uint16(c.p.Appearance)))
	}
	fields = append(fields, Name(c.p.Name))

	ad, err := NewPacket(fields...)
	if err != nil {
		return nil, errors.Wrap(err, "advertising data")
	}

	var srf []Field
	if len(c.p.Services) > 0 {
		srf = append(srf, AllUUID(c.p.Services...))
	}
	if c.p.TxPower != nil {
		srf = append(srf, TxPower(*c.p.TxPower))
	}
	if m := c.p.Manufacturer; m != nil {
		srf = append(srf, ManufacturerData(m.ID, m.Data))
	}

	var sr []byte
	if len(srf) > 0 {
		p, err := NewPacket(srf...)
		if err != nil {
			return nil, errors.Wrap(err, "scan response")
		}
		sr = p.Bytes()
	}

	return []bleshim.Action{&cmd.AdvDataSet{AdvData: ad.Bytes(), ScanResp: sr}}, nil
}

// Start begins advertising and lights the advertising LED.
func (c *Controller) Start() []bleshim.Action {
	c.active = true
	c.logger.Debugf("start interval=%d timeout=%ds", c.p.Interval, c.p.Timeout)
	return []bleshim.Action{
		&cmd.AdvStart{
			Type:         cmd.AdvTypeInd,
			FilterPolicy: cmd.AdvFilterPolicyAny,
			Interval:     c.p.Interval,
			Timeout:      c.p.Timeout,
			Channels:     c.p.Channels,
		},
		indicator.On(indicator.Advertising),
	}
}

// Stop ends advertising and turns the advertising LED off.
func (c *Controller) Stop() []bleshim.Action {
	c.active = false
	return []bleshim.Action{&cmd.AdvStop{}, indicator.Off(indicator.Advertising)}
}

// Stopped records that the stack ended advertising on its own, on a
// connection or a timeout.
func (c *Controller) Stopped() {
	c.active = false
}

// Active reports whether advertising is believed to be running.
func (c *Controller) Active() bool {
	return c.active
}

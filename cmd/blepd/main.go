package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/adv"
	"github.com/rigado/bleshim/app"
	"github.com/rigado/bleshim/config"
	"github.com/rigado/bleshim/indicator"
	"github.com/rigado/bleshim/stack"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/trace"
)

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Value: "blepd.yaml",
	Usage: "configuration file; missing means defaults",
}

func main() {
	a := cli.NewApp()
	a.Name = "blepd"
	a.Usage = "BLE peripheral host for a vendor stack"
	a.Flags = []cli.Flag{
		cli.StringFlag{Name: "log-level", Usage: "override log.level"},
	}
	a.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "advertise and serve connections",
			Flags: []cli.Flag{
				configFlag,
				cli.StringFlag{Name: "uart", Usage: "serial device of the stack"},
				cli.StringFlag{Name: "socket", Usage: "host:port of an H4 socket"},
			},
			Action: cmdRun,
		},
		{
			Name:   "check",
			Usage:  "validate the configuration and print native units",
			Flags:  []cli.Flag{configFlag},
			Action: cmdCheck,
		},
		{
			Name:      "replay",
			Usage:     "replay a JSON event trace and print the actions",
			ArgsUsage: "trace.json",
			Flags: []cli.Flag{
				configFlag,
				cli.BoolFlag{Name: "verify", Usage: "fail unless the actions match the trace's expect list"},
			},
			Action: cmdReplay,
		},
	}

	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := bleshim.SetLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		bleshim.GetLogger().Warn(w)
	}
	return cfg, nil
}

func newBoard(cfg *config.Config) (*indicator.Board, error) {
	var d indicator.Driver = indicator.NewMemDriver()
	if cfg.LEDs.Driver == "sysfs" {
		d = indicator.NewSysfsDriver(cfg.LEDs.SysfsRoot)
	}
	return indicator.NewBoard(d, indicator.Pins{
		Advertising: cfg.LEDs.Advertising,
		Connected:   cfg.LEDs.Connected,
		Assert:      cfg.LEDs.Assert,
	}, cfg.LEDs.ActiveLow)
}

func cmdRun(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("uart"); v != "" {
		cfg.Transport.UART, cfg.Transport.Socket = v, ""
	}
	if v := c.String("socket"); v != "" {
		cfg.Transport.UART, cfg.Transport.Socket = "", v
	}

	opts := []bleshim.Option{
		bleshim.OptCommandTimeout(cfg.Transport.CommandTimeout),
		bleshim.OptEventQueueSize(cfg.Transport.EventQueueSize),
	}
	switch {
	case cfg.Transport.Socket != "":
		opts = append(opts, bleshim.OptTransportH4Socket(cfg.Transport.Socket, cfg.Transport.CommandTimeout))
	case cfg.Transport.UART != "":
		opts = append(opts, bleshim.OptTransportH4Uart(cfg.Transport.UART, cfg.Transport.Baud))
	default:
		return cli.NewExitError("no transport: set --uart or --socket", 2)
	}

	s, err := stack.New(opts...)
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return errors.Wrap(err, "can't open stack link")
	}
	defer s.Close()

	board, err := newBoard(cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	log := bleshim.PkgLogger("blepd")
	a, err := app.New(cfg, s, board, app.WithInHandler(func(b []byte) {
		log.Infof("in: % X", b)
	}))
	if err != nil {
		return err
	}

	ctx := bleshim.WithSigHandler(context.WithCancel(context.Background()))
	err = a.Init()
	if err == nil {
		err = a.Run(ctx)
	}

	switch errors.Cause(err) {
	case nil, context.Canceled:
		return nil
	case app.ErrPoweredOff:
		log.Info("powered off")
		return nil
	}
	if _, fatal := err.(*app.FatalError); fatal {
		a.Halt(ctx, err)
	}
	return cli.NewExitError(err.Error(), 1)
}

func cmdCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	fmt.Printf("advertising interval  %v ms = 0x%04X units\n", cfg.Advertising.IntervalMs, cfg.AdvInterval())
	fmt.Printf("advertising timeout   %d s\n", cfg.AdvTimeout())
	p := cfg.PPCP()
	fmt.Printf("min conn interval     %v ms = 0x%04X units\n", cfg.Conn.MinIntervalMs, p.MinInterval)
	fmt.Printf("max conn interval     %v ms = 0x%04X units\n", cfg.Conn.MaxIntervalMs, p.MaxInterval)
	fmt.Printf("slave latency         %d\n", p.SlaveLatency)
	fmt.Printf("supervision timeout   %v ms = 0x%04X units\n", cfg.Conn.SupTimeoutMs, p.SupTimeout)
	sp := cfg.SecParams()
	fmt.Printf("security              flags=%02x io=%v key=[%d,%d]\n", sp.Flags(), sp.IOCaps, sp.MinKeySize, sp.MaxKeySize)
	fmt.Printf("service               %v\n", cfg.ServiceUUID())

	ctl := adv.NewController(cfg.AdvParams())
	aa, err := ctl.Setup()
	if err != nil {
		return err
	}
	ads, ok := aa[0].(*cmd.AdvDataSet)
	if !ok {
		return errors.Errorf("unexpected setup action %v", aa[0])
	}
	for _, d := range []struct {
		name string
		b    []byte
	}{{"advertising data", ads.AdvData}, {"scan response", ads.ScanResp}} {
		pkt, err := adv.NewRawPacket(d.b)
		if err != nil {
			return errors.Wrap(err, d.name)
		}
		fmt.Printf("%-21s [% X]\n", d.name, d.b)
		if f, ok := pkt.Flags(); ok {
			fmt.Printf("  flags               %02x\n", f)
		}
		if n := pkt.LocalName(); n != "" {
			fmt.Printf("  name                %q\n", n)
		}
		if ap, ok := pkt.Appearance(); ok {
			fmt.Printf("  appearance          0x%04X\n", ap)
		}
		for _, u := range pkt.UUIDs() {
			fmt.Printf("  service             %v\n", u)
		}
		if p, ok := pkt.TxPower(); ok {
			fmt.Printf("  tx power            %d dBm\n", p)
		}
		if id, b, ok := pkt.Manufacturer(); ok {
			fmt.Printf("  manufacturer        0x%04X [% X]\n", id, b)
		}
	}
	return nil
}

func cmdReplay(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("replay needs one trace file", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := trace.Load(c.Args().First())
	if err != nil {
		return err
	}

	res, err := trace.Replay(context.Background(), cfg, s)
	if err != nil {
		return err
	}
	for _, a := range res.Actions {
		fmt.Println(a)
	}
	if res.PoweredOff {
		fmt.Println("(powered off)")
	}
	if res.Err != nil {
		return cli.NewExitError(res.Err.Error(), 1)
	}
	if c.Bool("verify") {
		if err := res.Compare(s.Expect); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}
	return nil
}

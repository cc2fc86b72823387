// Package config holds the device configuration tables: advertising,
// preferred connection parameters, security policy and identity.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/bleshim/adv"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/rigado/bleshim/stack/smp"
	"gopkg.in/yaml.v3"
)

// Advertising timeout policies.
const (
	PolicyPowerOff = "power_off"
	PolicyRestart  = "restart"
)

// AppearanceNone leaves the appearance out of the GAP service and
// advertising data.
const AppearanceNone = -1

type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Conn        ConnConfig        `yaml:"conn"`
	Security    SecurityConfig    `yaml:"security"`
	Service     ServiceConfig     `yaml:"service"`
	LEDs        LEDConfig         `yaml:"leds"`
	Transport   TransportConfig   `yaml:"transport"`
	Log         LogConfig         `yaml:"log"`
}

type DeviceConfig struct {
	Name       string `yaml:"name"`
	Appearance int    `yaml:"appearance"`
	// TxPower is advertised in the scan response when set.
	TxPower      *int                `yaml:"tx_power"`
	Manufacturer *ManufacturerConfig `yaml:"manufacturer"`
}

// ManufacturerConfig is manufacturer specific data for the scan response.
// Data is hex encoded.
type ManufacturerConfig struct {
	CompanyID uint16 `yaml:"company_id"`
	Data      string `yaml:"data"`
}

type AdvertisingConfig struct {
	IntervalMs      float64 `yaml:"interval_ms"`
	TimeoutS        int     `yaml:"timeout_s"`
	DisableChannels []int   `yaml:"disable_channels"`
	TimeoutPolicy   string  `yaml:"timeout_policy"`
}

type ConnConfig struct {
	MinIntervalMs    float64       `yaml:"min_interval_ms"`
	MaxIntervalMs    float64       `yaml:"max_interval_ms"`
	SlaveLatency     int           `yaml:"slave_latency"`
	SupTimeoutMs     float64       `yaml:"sup_timeout_ms"`
	FirstUpdateDelay time.Duration `yaml:"first_update_delay"`
	NextUpdateDelay  time.Duration `yaml:"next_update_delay"`
	MaxUpdateCount   int           `yaml:"max_update_count"`
}

type SecurityConfig struct {
	Bond       bool   `yaml:"bond"`
	MITM       bool   `yaml:"mitm"`
	OOB        bool   `yaml:"oob"`
	IOCaps     string `yaml:"io_caps"`
	MinKeySize int    `yaml:"min_key_size"`
	MaxKeySize int    `yaml:"max_key_size"`
}

// ServiceConfig describes the I/O service. The 16-bit aliases are placed
// into the vendor base UUID.
type ServiceConfig struct {
	BaseUUID    string  `yaml:"base_uuid"`
	UUID16      uint16  `yaml:"uuid16"`
	InUUID16    uint16  `yaml:"in_uuid16"`
	OutUUID16   uint16  `yaml:"out_uuid16"`
	InLen       int     `yaml:"in_len"`
	OutLen      int     `yaml:"out_len"`
	NotifyRate  float64 `yaml:"notify_rate"`
	NotifyBurst int     `yaml:"notify_burst"`
}

// LEDConfig maps indicators to GPIO lines. Driver is "sysfs" or "mem".
type LEDConfig struct {
	Driver      string `yaml:"driver"`
	SysfsRoot   string `yaml:"sysfs_root"`
	Advertising int    `yaml:"advertising"`
	Connected   int    `yaml:"connected"`
	Assert      int    `yaml:"assert"`
	ActiveLow   bool   `yaml:"active_low"`
}

type TransportConfig struct {
	UART           string        `yaml:"uart"`
	Baud           uint          `yaml:"baud"`
	Socket         string        `yaml:"socket"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	EventQueueSize int           `yaml:"event_queue_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:       "BLE_TEMPLATE",
			Appearance: 0,
		},
		Advertising: AdvertisingConfig{
			IntervalMs:    1000,
			TimeoutS:      60,
			TimeoutPolicy: PolicyPowerOff,
		},
		Conn: ConnConfig{
			MinIntervalMs:    500,
			MaxIntervalMs:    1000,
			SlaveLatency:     0,
			SupTimeoutMs:     4000,
			FirstUpdateDelay: 5 * time.Second,
			NextUpdateDelay:  30 * time.Second,
			MaxUpdateCount:   3,
		},
		Security: SecurityConfig{
			IOCaps:     "none",
			MinKeySize: smp.KeySizeMin,
			MaxKeySize: smp.KeySizeMax,
		},
		Service: ServiceConfig{
			BaseUUID:    "6e400000-b5a3-f393-e0a9-e50e24dcca9e",
			UUID16:      0x0001,
			InUUID16:    0x0002,
			OutUUID16:   0x0003,
			InLen:       64,
			OutLen:      32,
			NotifyRate:  20,
			NotifyBurst: 4,
		},
		LEDs: LEDConfig{
			Driver:      "mem",
			SysfsRoot:   "/sys/class/gpio",
			Advertising: 21,
			Connected:   26,
			Assert:      27,
			ActiveLow:   true,
		},
		Transport: TransportConfig{
			Baud:           1000000,
			CommandTimeout: 3 * time.Second,
			EventQueueSize: 10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Defaults()
			return cfg, cfg.Validate()
		}
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// AdvInterval is the advertising interval in 0.625 ms units.
func (c *Config) AdvInterval() uint16 {
	return uint16(MsecToUnits(c.Advertising.IntervalMs, Unit0625ms))
}

// AdvTimeout is the advertising timeout in seconds, 0 for none.
func (c *Config) AdvTimeout() uint16 {
	return uint16(c.Advertising.TimeoutS)
}

func (c *Config) ChannelMask() cmd.ChannelMask {
	var m cmd.ChannelMask
	for _, ch := range c.Advertising.DisableChannels {
		switch ch {
		case 37:
			m.Ch37Off = true
		case 38:
			m.Ch38Off = true
		case 39:
			m.Ch39Off = true
		}
	}
	return m
}

// PPCP returns the preferred connection parameters in native units.
func (c *Config) PPCP() evt.ConnParams {
	return evt.ConnParams{
		MinInterval:  uint16(MsecToUnits(c.Conn.MinIntervalMs, Unit1250ms)),
		MaxInterval:  uint16(MsecToUnits(c.Conn.MaxIntervalMs, Unit1250ms)),
		SlaveLatency: uint16(c.Conn.SlaveLatency),
		SupTimeout:   uint16(MsecToUnits(c.Conn.SupTimeoutMs, Unit10ms)),
	}
}

// SecParams is the policy sent in every security parameters reply.
// Only the encryption key is requested for distribution by the peripheral.
func (c *Config) SecParams() smp.SecParams {
	io, err := smp.ParseIOCaps(c.Security.IOCaps)
	if err != nil {
		io = smp.IOCapsNone
	}
	return smp.SecParams{
		Bond:        c.Security.Bond,
		MITM:        c.Security.MITM,
		OOB:         c.Security.OOB,
		IOCaps:      io,
		MinKeySize:  uint8(c.Security.MinKeySize),
		MaxKeySize:  uint8(c.Security.MaxKeySize),
		KDistPeriph: smp.KeyDist{Enc: c.Security.Bond},
	}
}

// ManufacturerData returns the configured company id and data.
func (c *Config) ManufacturerData() (id uint16, data []byte, ok bool) {
	m := c.Device.Manufacturer
	if m == nil {
		return 0, nil, false
	}
	b, err := hex.DecodeString(m.Data)
	if err != nil {
		return 0, nil, false
	}
	return m.CompanyID, b, true
}

// AdvParams are the advertising controller parameters.
func (c *Config) AdvParams() adv.Params {
	p := adv.Params{
		Interval:   c.AdvInterval(),
		Timeout:    c.AdvTimeout(),
		Channels:   c.ChannelMask(),
		Name:       c.Device.Name,
		Appearance: c.Device.Appearance,
		Services:   []uuid.UUID{c.ServiceUUID()},
	}
	if c.Device.TxPower != nil {
		tx := int8(*c.Device.TxPower)
		p.TxPower = &tx
	}
	if id, data, ok := c.ManufacturerData(); ok {
		p.Manufacturer = &adv.Manufacturer{ID: id, Data: data}
	}
	return p
}

// ServiceBase returns the vendor base UUID.
func (c *Config) ServiceBase() uuid.UUID {
	u, err := uuid.Parse(c.Service.BaseUUID)
	if err != nil {
		return uuid.Nil
	}
	return u
}

// ServiceUUID is the full 128-bit UUID of the I/O service: the base with
// the service's 16-bit value in bytes 2 and 3.
func (c *Config) ServiceUUID() uuid.UUID {
	u := c.ServiceBase()
	u[2] = byte(c.Service.UUID16 >> 8)
	u[3] = byte(c.Service.UUID16)
	return u
}

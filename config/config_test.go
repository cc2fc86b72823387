package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rigado/bleshim/adv"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	require.Equal(t, uint16(1600), cfg.AdvInterval())
	require.Equal(t, uint16(60), cfg.AdvTimeout())
	require.Equal(t, evt.ConnParams{MinInterval: 400, MaxInterval: 800, SlaveLatency: 0, SupTimeout: 400}, cfg.PPCP())
	require.Equal(t, PolicyPowerOff, cfg.Advertising.TimeoutPolicy)

	sp := cfg.SecParams()
	require.False(t, sp.Bond)
	require.False(t, sp.MITM)
	require.Equal(t, uint8(7), sp.MinKeySize)
	require.Equal(t, uint8(16), sp.MaxKeySize)
}

func TestMsecToUnits(t *testing.T) {
	for _, tc := range []struct {
		ms   float64
		u    Unit
		want uint32
	}{
		{1000, Unit0625ms, 1600},
		{20, Unit0625ms, 32},
		{10240, Unit0625ms, 16384},
		{1, Unit0625ms, 1},
		{7.5, Unit1250ms, 6},
		{4000, Unit1250ms, 3200},
		{4000, Unit10ms, 400},
		{2009, Unit10ms, 200},
		{0, Unit10ms, 0},
	} {
		require.Equal(t, tc.want, MsecToUnits(tc.ms, tc.u), "%v ms / %d us", tc.ms, tc.u)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blepd.yaml")
	content := `
device:
  name: sensor
  appearance: -1
advertising:
  interval_ms: 250
  disable_channels: [38]
  timeout_policy: restart
conn:
  min_interval_ms: 7.5
  max_interval_ms: 30
  slave_latency: 4
  sup_timeout_ms: 2000
  first_update_delay: 1s
security:
  bond: true
  io_caps: display_only
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sensor", cfg.Device.Name)
	require.Equal(t, AppearanceNone, cfg.Device.Appearance)
	require.Equal(t, uint16(400), cfg.AdvInterval())
	require.Equal(t, cmd.ChannelMask{Ch38Off: true}, cfg.ChannelMask())
	require.Equal(t, PolicyRestart, cfg.Advertising.TimeoutPolicy)
	require.Equal(t, time.Second, cfg.Conn.FirstUpdateDelay)
	require.Equal(t, 30*time.Second, cfg.Conn.NextUpdateDelay)
	require.Equal(t, evt.ConnParams{MinInterval: 6, MaxInterval: 24, SlaveLatency: 4, SupTimeout: 200}, cfg.PPCP())
	require.True(t, cfg.SecParams().Bond)
	require.True(t, cfg.SecParams().KDistPeriph.Enc)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "BLE_TEMPLATE", cfg.Device.Name)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("conn:\n  sup_timeout_ms: 1000\n"))
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	require.True(t, ve.HasErrors())
}

func TestConnParamRelations(t *testing.T) {
	for _, tc := range []struct {
		name    string
		maxMs   float64
		latency int
		supMs   float64
		ok      bool
	}{
		{"equal to bound", 1000, 0, 2000, false},
		{"just above bound", 1000, 0, 2010, true},
		{"truncation breaks native relation", 1000, 0, 2001, false},
		{"max latency min interval", 7.5, 499, 7510, true},
		{"max latency at bound", 7.5, 499, 7500, false},
		{"max interval zero latency", 4000, 0, 8010, true},
		{"max interval too short timeout", 4000, 0, 8000, false},
		{"latency doubles requirement", 100, 1, 400, false},
		{"latency satisfied", 100, 1, 410, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckConnParams(tc.maxMs, tc.latency, tc.supMs)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestValidateBoundaries(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(c *Config)
		ok   bool
	}{
		{"tx power min", func(c *Config) { c.Device.TxPower = intp(-127) }, true},
		{"tx power below min", func(c *Config) { c.Device.TxPower = intp(-128) }, false},
		{"mfg data fills scan response", func(c *Config) {
			c.Device.TxPower = intp(0)
			c.Device.Manufacturer = &ManufacturerConfig{CompanyID: 0x0059, Data: "010203040506"}
		}, true},
		{"mfg data one byte too long", func(c *Config) {
			c.Device.TxPower = intp(0)
			c.Device.Manufacturer = &ManufacturerConfig{CompanyID: 0x0059, Data: "01020304050607"}
		}, false},
		{"mfg data not hex", func(c *Config) { c.Device.Manufacturer = &ManufacturerConfig{Data: "zz"} }, false},
		{"adv interval min", func(c *Config) { c.Advertising.IntervalMs = 20 }, true},
		{"adv interval below min", func(c *Config) { c.Advertising.IntervalMs = 19.9 }, false},
		{"adv interval max", func(c *Config) { c.Advertising.IntervalMs = 10240 }, true},
		{"adv interval above max", func(c *Config) { c.Advertising.IntervalMs = 10241 }, false},
		{"conn interval min", func(c *Config) { c.Conn.MinIntervalMs = 7.5 }, true},
		{"conn interval below min", func(c *Config) { c.Conn.MinIntervalMs = 7.4 }, false},
		{"conn interval max", func(c *Config) {
			c.Conn.MaxIntervalMs = 4000
			c.Conn.SupTimeoutMs = 8010
		}, true},
		{"conn interval above max", func(c *Config) {
			c.Conn.MaxIntervalMs = 4001
			c.Conn.SupTimeoutMs = 32000
		}, false},
		{"min above max", func(c *Config) { c.Conn.MinIntervalMs = 1001 }, false},
		{"latency max", func(c *Config) {
			c.Conn.MinIntervalMs = 7.5
			c.Conn.MaxIntervalMs = 7.5
			c.Conn.SlaveLatency = 499
			c.Conn.SupTimeoutMs = 7510
		}, true},
		{"latency above max", func(c *Config) { c.Conn.SlaveLatency = 500 }, false},
		{"sup timeout above max", func(c *Config) { c.Conn.SupTimeoutMs = 32001 }, false},
		{"key size below min", func(c *Config) { c.Security.MinKeySize = 6 }, false},
		{"key size above max", func(c *Config) { c.Security.MaxKeySize = 17 }, false},
		{"key sizes crossed", func(c *Config) {
			c.Security.MinKeySize = 16
			c.Security.MaxKeySize = 8
		}, false},
		{"mitm without io", func(c *Config) { c.Security.MITM = true }, false},
		{"bad io caps", func(c *Config) { c.Security.IOCaps = "telepathy" }, false},
		{"empty name", func(c *Config) { c.Device.Name = "" }, false},
		{"long name", func(c *Config) { c.Device.Name = "abcdefghijklmnopqrstu" }, false},
		{"all channels off", func(c *Config) { c.Advertising.DisableChannels = []int{37, 38, 39} }, false},
		{"bad channel", func(c *Config) { c.Advertising.DisableChannels = []int{36} }, false},
		{"bad policy", func(c *Config) { c.Advertising.TimeoutPolicy = "sleep" }, false},
		{"bad base uuid", func(c *Config) { c.Service.BaseUUID = "xyz" }, false},
		{"shared led pin", func(c *Config) { c.LEDs.Assert = 21 }, false},
		{"two transports", func(c *Config) {
			c.Transport.UART = "/dev/ttyACM0"
			c.Transport.Socket = "localhost:9000"
		}, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mod(cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := Defaults()
	require.Empty(t, cfg.Warnings())

	cfg.Advertising.IntervalMs = 50
	cfg.Advertising.TimeoutS = 0
	require.Len(t, cfg.Warnings(), 2)
}

func TestServiceUUID(t *testing.T) {
	c := Defaults()
	require.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", c.ServiceUUID().String())
	c.Service.UUID16 = 0xABCD
	require.Equal(t, "6e40abcd-b5a3-f393-e0a9-e50e24dcca9e", c.ServiceUUID().String())
}

func intp(v int) *int { return &v }

func TestAdvParams(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  tx_power: -4\n  manufacturer:\n    company_id: 89\n    data: cafe\n"))
	require.NoError(t, err)

	p := cfg.AdvParams()
	require.Equal(t, cfg.AdvInterval(), p.Interval)
	require.Equal(t, cfg.Device.Name, p.Name)
	require.Equal(t, []uuid.UUID{cfg.ServiceUUID()}, p.Services)
	require.NotNil(t, p.TxPower)
	require.Equal(t, int8(-4), *p.TxPower)
	require.Equal(t, &adv.Manufacturer{ID: 89, Data: []byte{0xCA, 0xFE}}, p.Manufacturer)

	p = Defaults().AdvParams()
	require.Nil(t, p.TxPower)
	require.Nil(t, p.Manufacturer)
}

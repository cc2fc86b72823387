package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rigado/bleshim/stack/smp"
	"github.com/sirupsen/logrus"
)

const maxDeviceNameLen = 20

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the tables once at startup. It returns a *ValidationError
// listing every problem found.
func (c *Config) Validate() error {
	ve := &ValidationError{}
	validateDevice(c, ve)
	validateAdvertising(c, ve)
	validateConn(c, ve)
	validateSecurity(c, ve)
	validateService(c, ve)
	validateLEDs(c, ve)
	validateTransport(c, ve)
	validateLog(c, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// Warnings lists settings that are accepted but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.Advertising.IntervalMs < 100 {
		w = append(w, fmt.Sprintf("advertising.interval_ms %v below 100 ms drains power quickly", c.Advertising.IntervalMs))
	}
	switch {
	case c.Advertising.TimeoutS == 0:
		w = append(w, "advertising.timeout_s 0 never ends limited discoverable advertising")
	case c.Advertising.TimeoutS > limitedDiscoverableMax:
		w = append(w, fmt.Sprintf("advertising.timeout_s %d exceeds the %d s limited discoverable window",
			c.Advertising.TimeoutS, limitedDiscoverableMax))
	}
	return w
}

func validateDevice(c *Config, ve *ValidationError) {
	n := c.Device.Name
	switch {
	case len(n) == 0:
		ve.Add("device.name must not be empty")
	case len(n) > maxDeviceNameLen:
		ve.Add("device.name %q longer than %d bytes", n, maxDeviceNameLen)
	case strings.IndexByte(n, 0) >= 0:
		ve.Add("device.name must not contain NUL")
	}

	if a := c.Device.Appearance; a != AppearanceNone && (a < 0 || a > 0xFFFF) {
		ve.Add("device.appearance %d out of range [0, 65535]", a)
	}

	// scan response: 31 bytes less the 128-bit service uuid field
	room := 31 - 18
	if p := c.Device.TxPower; p != nil {
		if *p < -127 || *p > 127 {
			ve.Add("device.tx_power %d out of range [-127, 127]", *p)
		}
		room -= 3
	}
	if m := c.Device.Manufacturer; m != nil {
		b, err := hex.DecodeString(m.Data)
		switch {
		case err != nil:
			ve.Add("device.manufacturer.data: %v", err)
		case len(b) > room-4:
			ve.Add("device.manufacturer.data %d bytes does not fit the scan response (max %d)", len(b), room-4)
		}
	}
}

func validateAdvertising(c *Config, ve *ValidationError) {
	a := c.Advertising
	if a.IntervalMs < 20 || a.IntervalMs > 10240 {
		ve.Add("advertising.interval_ms %v out of range [20, 10240]", a.IntervalMs)
	} else if u := MsecToUnits(a.IntervalMs, Unit0625ms); u < advIntervalMin || u > advIntervalMax {
		ve.Add("advertising.interval_ms %v is 0x%04X units, outside [0x%04X, 0x%04X]",
			a.IntervalMs, u, advIntervalMin, advIntervalMax)
	}

	if a.TimeoutS < 0 || a.TimeoutS > advTimeoutMax {
		ve.Add("advertising.timeout_s %d out of range [0, %d]", a.TimeoutS, advTimeoutMax)
	}

	seen := map[int]bool{}
	for _, ch := range a.DisableChannels {
		if ch < 37 || ch > 39 {
			ve.Add("advertising.disable_channels: %d is not an advertising channel", ch)
			continue
		}
		if seen[ch] {
			ve.Add("advertising.disable_channels: %d listed twice", ch)
		}
		seen[ch] = true
	}
	if len(seen) == 3 {
		ve.Add("advertising.disable_channels must leave one channel enabled")
	}

	switch a.TimeoutPolicy {
	case PolicyPowerOff, PolicyRestart:
	default:
		ve.Add("advertising.timeout_policy %q must be %q or %q", a.TimeoutPolicy, PolicyPowerOff, PolicyRestart)
	}
}

func validateConn(c *Config, ve *ValidationError) {
	cc := c.Conn
	ok := true
	for _, iv := range []struct {
		name string
		ms   float64
	}{
		{"conn.min_interval_ms", cc.MinIntervalMs},
		{"conn.max_interval_ms", cc.MaxIntervalMs},
	} {
		if iv.ms < 7.5 || iv.ms > 4000 {
			ve.Add("%s %v out of range [7.5, 4000]", iv.name, iv.ms)
			ok = false
		}
	}
	if ok && cc.MinIntervalMs > cc.MaxIntervalMs {
		ve.Add("conn.min_interval_ms %v > conn.max_interval_ms %v", cc.MinIntervalMs, cc.MaxIntervalMs)
		ok = false
	}

	if cc.SlaveLatency < 0 || cc.SlaveLatency > slaveLatencyMax {
		ve.Add("conn.slave_latency %d out of range [0, %d]", cc.SlaveLatency, slaveLatencyMax)
		ok = false
	}
	if cc.SupTimeoutMs < 100 || cc.SupTimeoutMs > 32000 {
		ve.Add("conn.sup_timeout_ms %v out of range [100, 32000]", cc.SupTimeoutMs)
		ok = false
	}

	if ok {
		p := c.PPCP()
		switch {
		case p.MinInterval < connIntervalMin || p.MaxInterval > connIntervalMax:
			ve.Add("conn interval [0x%04X, 0x%04X] units outside [0x%04X, 0x%04X]",
				p.MinInterval, p.MaxInterval, connIntervalMin, connIntervalMax)
		case p.SupTimeout < supTimeoutMin || p.SupTimeout > supTimeoutMax:
			ve.Add("conn.sup_timeout_ms is 0x%04X units, outside [0x%04X, 0x%04X]",
				p.SupTimeout, supTimeoutMin, supTimeoutMax)
		}
		if err := CheckConnParams(cc.MaxIntervalMs, cc.SlaveLatency, cc.SupTimeoutMs); err != nil {
			ve.Add("%v", err)
		}
	}

	if cc.FirstUpdateDelay <= 0 {
		ve.Add("conn.first_update_delay must be > 0")
	}
	if cc.NextUpdateDelay <= 0 {
		ve.Add("conn.next_update_delay must be > 0")
	}
	if cc.MaxUpdateCount < 1 {
		ve.Add("conn.max_update_count must be >= 1")
	}
}

// CheckConnParams enforces the relations between supervision timeout,
// slave latency and the maximum connection interval.
func CheckConnParams(maxIntervalMs float64, latency int, supMs float64) error {
	if supMs <= 2*float64(1+latency)*maxIntervalMs {
		return fmt.Errorf("conn.sup_timeout_ms %v must exceed 2 x (1 + %d) x %v ms",
			supMs, latency, maxIntervalMs)
	}

	// same relation in native units, which truncation can break
	sup := MsecToUnits(supMs, Unit10ms)
	maxInt := MsecToUnits(maxIntervalMs, Unit1250ms)
	if sup*4 <= maxInt*uint32(latency+1) {
		return fmt.Errorf("conn.sup_timeout_ms: %d x 4 units must exceed %d x (%d + 1) units",
			sup, maxInt, latency)
	}
	return nil
}

func validateSecurity(c *Config, ve *ValidationError) {
	s := c.Security
	if _, err := smp.ParseIOCaps(s.IOCaps); err != nil {
		ve.Add("security.io_caps: %v", err)
		return
	}
	if s.MinKeySize < 0 || s.MaxKeySize < 0 || s.MinKeySize > 255 || s.MaxKeySize > 255 {
		ve.Add("security key sizes out of range")
		return
	}
	if err := c.SecParams().Validate(); err != nil {
		ve.Add("security: %v", err)
	}
}

func validateService(c *Config, ve *ValidationError) {
	s := c.Service
	if u, err := uuid.Parse(s.BaseUUID); err != nil {
		ve.Add("service.base_uuid: %v", err)
	} else if u == uuid.Nil {
		ve.Add("service.base_uuid must not be nil")
	}

	if s.InUUID16 == s.OutUUID16 || s.InUUID16 == s.UUID16 || s.OutUUID16 == s.UUID16 {
		ve.Add("service 16-bit uuids must be distinct")
	}
	if s.InLen < 1 || s.InLen > 244 {
		ve.Add("service.in_len %d out of range [1, 244]", s.InLen)
	}
	if s.OutLen < 1 || s.OutLen > 244 {
		ve.Add("service.out_len %d out of range [1, 244]", s.OutLen)
	}
	if s.NotifyRate <= 0 {
		ve.Add("service.notify_rate must be > 0")
	}
	if s.NotifyBurst < 1 {
		ve.Add("service.notify_burst must be >= 1")
	}
}

func validateLEDs(c *Config, ve *ValidationError) {
	l := c.LEDs
	switch l.Driver {
	case "mem":
	case "sysfs":
		if l.SysfsRoot == "" {
			ve.Add("leds.sysfs_root must be set for the sysfs driver")
		}
	default:
		ve.Add("leds.driver %q must be \"mem\" or \"sysfs\"", l.Driver)
	}

	pins := map[int]string{}
	for _, p := range []struct {
		name string
		pin  int
	}{
		{"advertising", l.Advertising},
		{"connected", l.Connected},
		{"assert", l.Assert},
	} {
		if p.pin < 0 {
			ve.Add("leds.%s pin %d must be >= 0", p.name, p.pin)
			continue
		}
		if other, dup := pins[p.pin]; dup {
			ve.Add("leds.%s shares pin %d with leds.%s", p.name, p.pin, other)
		}
		pins[p.pin] = p.name
	}
}

func validateTransport(c *Config, ve *ValidationError) {
	t := c.Transport
	if t.UART != "" && t.Socket != "" {
		ve.Add("transport.uart and transport.socket are exclusive")
	}
	if t.CommandTimeout <= 0 {
		ve.Add("transport.command_timeout must be > 0")
	}
	if t.EventQueueSize < 1 {
		ve.Add("transport.event_queue_size must be >= 1")
	}
}

func validateLog(c *Config, ve *ValidationError) {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		ve.Add("log.level: %v", err)
	}
}

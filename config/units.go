package config

// Unit is a native time unit in microseconds.
type Unit uint32

const (
	Unit0625ms Unit = 625   // advertising interval
	Unit1250ms Unit = 1250  // connection interval
	Unit10ms   Unit = 10000 // supervision timeout
)

// MsecToUnits converts milliseconds to native units, truncating toward zero.
func MsecToUnits(ms float64, u Unit) uint32 {
	if ms <= 0 {
		return 0
	}
	return uint32(ms*1000) / uint32(u)
}

// UnitsToMsec is the inverse of MsecToUnits.
func UnitsToMsec(n uint32, u Unit) float64 {
	return float64(n) * float64(u) / 1000
}

// Native ranges accepted by the stack.
const (
	advIntervalMin = 0x0020
	advIntervalMax = 0x4000
	advTimeoutMax  = 0x3FFF

	connIntervalMin = 0x0006
	connIntervalMax = 0x0C80
	slaveLatencyMax = 0x01F3
	supTimeoutMin   = 0x000A
	supTimeoutMax   = 0x0C80

	// limited discoverable mode ends after this many seconds
	limitedDiscoverableMax = 180
)

package adv

import "github.com/pkg/errors"

// MaxEIRPacketLength is the maximum length of advertising data or a scan response.
const MaxEIRPacketLength = 31

// Advertising flags.
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagLEOnly              = 0x04

	// limited discoverable, BR/EDR not supported
	FlagsLEOnlyLimitedDisc = FlagLimitedDiscoverable | FlagLEOnly
	FlagsLEOnlyGeneralDisc = FlagGeneralDiscoverable | FlagLEOnly
)

var (
	// ErrNotFit is returned when a field does not fit into the packet.
	ErrNotFit = errors.New("field does not fit into the packet")

	// ErrInvalid is returned for a field with invalid contents.
	ErrInvalid = errors.New("invalid field")
)

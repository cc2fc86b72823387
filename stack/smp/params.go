package smp

import (
	"fmt"
	"strings"
)

// IOCaps is the local input/output capability announced during pairing.
type IOCaps uint8

const (
	IOCapsDisplayOnly     IOCaps = 0x00
	IOCapsDisplayYesNo    IOCaps = 0x01
	IOCapsKeyboardOnly    IOCaps = 0x02
	IOCapsNone            IOCaps = 0x03
	IOCapsKeyboardDisplay IOCaps = 0x04
)

var ioCapsNames = map[string]IOCaps{
	"display_only":     IOCapsDisplayOnly,
	"display_yesno":    IOCapsDisplayYesNo,
	"keyboard_only":    IOCapsKeyboardOnly,
	"none":             IOCapsNone,
	"keyboard_display": IOCapsKeyboardDisplay,
}

// ParseIOCaps maps a config name such as "none" to its IOCaps value.
func ParseIOCaps(s string) (IOCaps, error) {
	c, ok := ioCapsNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("invalid io capabilities %q", s)
	}
	return c, nil
}

func (c IOCaps) String() string {
	for k, v := range ioCapsNames {
		if v == c {
			return k
		}
	}
	return fmt.Sprintf("iocaps(%d)", uint8(c))
}

// KeyDist says which key kinds a side distributes.
type KeyDist struct {
	Enc  bool
	ID   bool
	Sign bool
}

// KeyDistFromByte decodes the wire bitfield (enc, id, sign from bit 0).
func KeyDistFromByte(b byte) KeyDist {
	return KeyDist{
		Enc:  b&keyDistEnc != 0,
		ID:   b&keyDistID != 0,
		Sign: b&keyDistSign != 0,
	}
}

// Byte encodes the distribution flags.
func (k KeyDist) Byte() byte {
	var b byte
	if k.Enc {
		b |= keyDistEnc
	}
	if k.ID {
		b |= keyDistID
	}
	if k.Sign {
		b |= keyDistSign
	}
	return b
}

// SecParams is the security capability policy sent in reply to a
// security parameters request.
type SecParams struct {
	Bond       bool
	MITM       bool
	OOB        bool
	IOCaps     IOCaps
	MinKeySize uint8
	MaxKeySize uint8

	KDistPeriph  KeyDist
	KDistCentral KeyDist
}

// Flags packs bond, mitm and oob into the wire flag byte.
func (p SecParams) Flags() byte {
	var b byte
	if p.Bond {
		b |= secFlagBond
	}
	if p.MITM {
		b |= secFlagMITM
	}
	if p.OOB {
		b |= secFlagOOB
	}
	return b
}

// SetFlags is the inverse of Flags.
func (p *SecParams) SetFlags(b byte) {
	p.Bond = b&secFlagBond != 0
	p.MITM = b&secFlagMITM != 0
	p.OOB = b&secFlagOOB != 0
}

func (p SecParams) Validate() error {
	switch {
	case p.IOCaps > IOCapsKeyboardDisplay:
		return fmt.Errorf("invalid IOCaps %v", p.IOCaps)

	case p.MinKeySize < KeySizeMin || p.MinKeySize > KeySizeMax:
		return fmt.Errorf("invalid MinKeySize %v", p.MinKeySize)

	case p.MaxKeySize < KeySizeMin || p.MaxKeySize > KeySizeMax:
		return fmt.Errorf("invalid MaxKeySize %v", p.MaxKeySize)

	case p.MinKeySize > p.MaxKeySize:
		return fmt.Errorf("MinKeySize %v > MaxKeySize %v", p.MinKeySize, p.MaxKeySize)

	case p.MITM && p.IOCaps == IOCapsNone && !p.OOB:
		return fmt.Errorf("MITM protection needs io capabilities or oob")
	}

	return nil
}

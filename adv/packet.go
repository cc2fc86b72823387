package adv

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/bleshim/sliceops"
)

// Packet is used for crafting or parsing advertising data or a scan response.
// Refer to Supplement to Bluetooth Core Specification | CSSv6, Part A.
type Packet struct {
	b []byte
	m map[string]interface{}
}

// Bytes returns the bytes of the packet.
func (p *Packet) Bytes() []byte {
	return p.b
}

// Len returns the length of the packet.
func (p *Packet) Len() int {
	return len(p.b)
}

// NewPacket returns a new advertising Packet.
func NewPacket(fields ...Field) (*Packet, error) {
	p := &Packet{b: make([]byte, 0, MaxEIRPacketLength)}
	for _, f := range fields {
		if err := f(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NewRawPacket parses advertising data.
func NewRawPacket(bytes ...[]byte) (*Packet, error) {
	b := make([]byte, 0, MaxEIRPacketLength)
	for _, bb := range bytes {
		b = append(b, bb...)
	}

	m, err := decode(b)
	if err != nil {
		return nil, errors.Wrap(err, "pdu decode")
	}
	return &Packet{b: b, m: m}, nil
}

// Field is an advertising field which can be appended to a packet.
type Field func(p *Packet) error

// Append appends a field to the packet. It returns ErrNotFit if the field
// doesn't fit into the packet, and leaves the packet intact.
func (p *Packet) Append(f Field) error {
	return f(p)
}

func (p *Packet) append(typ byte, b []byte) error {
	if p.Len()+1+1+len(b) > MaxEIRPacketLength {
		return ErrNotFit
	}
	p.b = append(p.b, byte(len(b)+1))
	p.b = append(p.b, typ)
	p.b = append(p.b, b...)
	return nil
}

// Flags is a flags.
func Flags(f byte) Field {
	return func(p *Packet) error {
		return p.append(types.flags, []byte{f})
	}
}

// ShortName is a short local name.
func ShortName(n string) Field {
	return func(p *Packet) error {
		return p.append(types.nameshort, []byte(n))
	}
}

// CompleteName is a complete local name.
func CompleteName(n string) Field {
	return func(p *Packet) error {
		return p.append(types.namecomp, []byte(n))
	}
}

// Name appends the complete name, or as much of it as fits as a short name.
func Name(n string) Field {
	return func(p *Packet) error {
		if err := CompleteName(n)(p); err != ErrNotFit {
			return err
		}
		room := MaxEIRPacketLength - p.Len() - 2
		if room < 1 {
			return ErrNotFit
		}
		return ShortName(n[:room])(p)
	}
}

// Appearance is the GAP appearance value.
func Appearance(a uint16) Field {
	return func(p *Packet) error {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, a)
		return p.append(types.appearance, b)
	}
}

// TxPower is the transmit power level in dBm.
func TxPower(dbm int8) Field {
	return func(p *Packet) error {
		return p.append(types.txpwr, []byte{byte(dbm)})
	}
}

// ManufacturerData is manufacturer specific data.
func ManufacturerData(id uint16, b []byte) Field {
	return func(p *Packet) error {
		d := append([]byte{uint8(id), uint8(id >> 8)}, b...)
		return p.append(types.mfgdata, d)
	}
}

// AllUUID16 is a complete list of 16-bit service UUIDs.
func AllUUID16(uu ...uint16) Field {
	return func(p *Packet) error {
		if len(uu) == 0 {
			return ErrInvalid
		}
		b := make([]byte, 0, 2*len(uu))
		for _, u := range uu {
			b = append(b, byte(u), byte(u>>8))
		}
		return p.append(types.uuid16comp, b)
	}
}

// AllUUID is a complete list of 128-bit service UUIDs, sent little endian.
func AllUUID(uu ...uuid.UUID) Field {
	return func(p *Packet) error {
		if len(uu) == 0 {
			return ErrInvalid
		}
		b := make([]byte, 0, 16*len(uu))
		for _, u := range uu {
			b = append(b, sliceops.SwapBuf(u[:])...)
		}
		return p.append(types.uuid128comp, b)
	}
}

// Flags returns the flags of the packet.
func (p *Packet) Flags() (flags byte, present bool) {
	if b, ok := p.m[keys.flags].([]byte); ok {
		return b[0], true
	}
	return 0, false
}

// LocalName returns the ShortName or CompleteName if it presents.
func (p *Packet) LocalName() string {
	if b, ok := p.m[keys.name].([]byte); ok {
		return string(b)
	}
	return ""
}

// Appearance returns the appearance, if present.
func (p *Packet) Appearance() (uint16, bool) {
	if b, ok := p.m[keys.appearance].([]byte); ok {
		return binary.LittleEndian.Uint16(b), true
	}
	return 0, false
}

// TxPower returns the TxPower, if it presents.
func (p *Packet) TxPower() (power int, present bool) {
	if b, ok := p.m[keys.txpwr].([]byte); ok {
		return int(int8(b[0])), true
	}
	return 0, false
}

// UUID16s returns the 16-bit service UUIDs.
func (p *Packet) UUID16s() []uint16 {
	var u []uint16
	v, _ := p.m[keys.uuid16].([]interface{})
	for _, vv := range v {
		if b, ok := vv.([]byte); ok {
			u = append(u, binary.LittleEndian.Uint16(b))
		}
	}
	return u
}

// UUIDs returns the 128-bit service UUIDs.
func (p *Packet) UUIDs() []uuid.UUID {
	var u []uuid.UUID
	v, _ := p.m[keys.uuid128].([]interface{})
	for _, vv := range v {
		b, ok := vv.([]byte)
		if !ok {
			continue
		}
		id, err := uuid.FromBytes(sliceops.SwapBuf(b))
		if err != nil {
			continue
		}
		u = append(u, id)
	}
	return u
}

// ManufacturerData returns the ManufacturerData field if it presents. The
// first two bytes are the company id.
func (p *Packet) ManufacturerData() []byte {
	v, _ := p.m[keys.mfgdata].([]byte)
	return v
}

// Manufacturer splits the ManufacturerData field into company id and data.
func (p *Packet) Manufacturer() (id uint16, data []byte, present bool) {
	b := p.ManufacturerData()
	if len(b) < 2 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(b), b[2:], true
}

package bleshim

import (
	"encoding/hex"
	"net"
	"strings"

	"github.com/rigado/bleshim/sliceops"
)

// Addr represents a peer device address.
type Addr interface {
	String() string
	Bytes() []byte
}

// Address types as reported by the stack.
const (
	AddrTypePublic       = 0x00
	AddrTypeRandomStatic = 0x01
	AddrTypeRandomPRA    = 0x02 // private resolvable
	AddrTypeRandomPNRA   = 0x03 // private non-resolvable
)

// NewAddr creates an Addr from string
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

// AddrFromWire converts the little endian address found in stack events.
func AddrFromWire(b [6]byte) Addr {
	be := sliceops.SwapBuf(b[:])
	return NewAddr(net.HardwareAddr(be).String())
}

type addr string

func (a addr) String() string {
	return string(a)
}

func (a addr) Bytes() []byte {
	hexStr := strings.Replace(a.String(), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		GetLogger().Warnf("can't decode address %v: %v", a.String(), err)
	}

	return out
}

// PeerAddr is an address together with its type.
type PeerAddr struct {
	Addr
	Type uint8
}

// Wire returns the little endian form used on the stack link.
func (p PeerAddr) Wire() [6]byte {
	var out [6]byte
	if p.Addr == nil {
		return out
	}
	copy(out[:], sliceops.SwapBuf(p.Bytes()))
	return out
}

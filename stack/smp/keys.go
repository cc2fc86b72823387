package smp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rigado/bleshim"
)

// MasterID identifies the pairing session an encryption key belongs to.
type MasterID struct {
	EDiv uint16
	Rand [8]byte
}

// Bytes returns the wire form: ediv (le16) followed by rand.
func (m MasterID) Bytes() []byte {
	b := make([]byte, 10)
	binary.LittleEndian.PutUint16(b, m.EDiv)
	copy(b[2:], m.Rand[:])
	return b
}

// Equal compares two master ids byte for byte.
func (m MasterID) Equal(o MasterID) bool {
	return bytes.Equal(m.Bytes(), o.Bytes())
}

func (m MasterID) String() string {
	return fmt.Sprintf("ediv=%04x rand=%x", m.EDiv, m.Rand[:])
}

// EncInfo is the long term key and its properties.
type EncInfo struct {
	LTK    [16]byte
	LTKLen uint8
	Auth   bool
}

// EncKey pairs the encryption info with its master id.
type EncKey struct {
	Info     EncInfo
	MasterID MasterID
}

// IDKey is the identity resolving key and identity address.
type IDKey struct {
	IRK  [16]byte
	Addr bleshim.PeerAddr
}

// SignKey holds the connection signature resolving key.
type SignKey struct {
	CSRK [16]byte
}

// KeySet is the buffer the stack writes distributed peripheral keys into.
// Its contents are stale until a pairing populates them.
type KeySet struct {
	Enc  EncKey
	ID   IDKey
	Sign SignKey
}

// Clear zeroes every key record.
func (k *KeySet) Clear() {
	*k = KeySet{}
}

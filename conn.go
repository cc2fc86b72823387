package bleshim

import "fmt"

// ConnHandle identifies the single live peer connection.
type ConnHandle uint16

// InvalidConnHandle means no connection.
const InvalidConnHandle ConnHandle = 0xFFFF

// Valid reports whether h names a connection.
func (h ConnHandle) Valid() bool {
	return h != InvalidConnHandle
}

func (h ConnHandle) String() string {
	if !h.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%04X", uint16(h))
}

package reactor

import (
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rigado/bleshim"
)

// State of a live connection.
type State int

const (
	Connected State = iota
	Pairing
	AuthComplete
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Pairing:
		return "pairing"
	case AuthComplete:
		return "auth-complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the one live connection. A nil *Session means idle.
type Session struct {
	Handle bleshim.ConnHandle
	State  State
	// ID tags the log lines of one connection.
	ID ulid.ULID
}

func (s *Session) String() string {
	if s == nil {
		return "idle"
	}
	return fmt.Sprintf("%v handle=%v id=%v", s.State, s.Handle, s.ID)
}

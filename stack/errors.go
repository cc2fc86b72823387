package stack

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCommand is a non-zero status returned for a command.
type ErrCommand uint8

// Status codes reported by the stack.
const (
	ErrSVCHandlerMissing ErrCommand = 0x01
	ErrSoftdeviceOff     ErrCommand = 0x02
	ErrInternal          ErrCommand = 0x03
	ErrNoMem             ErrCommand = 0x04
	ErrNotFound          ErrCommand = 0x05
	ErrNotSupported      ErrCommand = 0x06
	ErrInvalidParam      ErrCommand = 0x07
	ErrInvalidState      ErrCommand = 0x08
	ErrInvalidLength     ErrCommand = 0x09
	ErrInvalidFlags      ErrCommand = 0x0A
	ErrInvalidData       ErrCommand = 0x0B
	ErrDataSize          ErrCommand = 0x0C
	ErrTimeout           ErrCommand = 0x0D
	ErrNull              ErrCommand = 0x0E
	ErrForbidden         ErrCommand = 0x0F
	ErrInvalidAddr       ErrCommand = 0x10
	ErrBusy              ErrCommand = 0x11
	ErrInvalidConnHandle ErrCommand = 0x30
	ErrSysAttrMissing    ErrCommand = 0x31
)

var errStr = map[ErrCommand]string{
	ErrSVCHandlerMissing: "SVC handler missing",
	ErrSoftdeviceOff:     "stack not enabled",
	ErrInternal:          "internal error",
	ErrNoMem:             "no memory for operation",
	ErrNotFound:          "not found",
	ErrNotSupported:      "not supported",
	ErrInvalidParam:      "invalid parameter",
	ErrInvalidState:      "invalid state, operation disallowed in this state",
	ErrInvalidLength:     "invalid length",
	ErrInvalidFlags:      "invalid flags",
	ErrInvalidData:       "invalid data",
	ErrDataSize:          "data size exceeds limit",
	ErrTimeout:           "operation timed out",
	ErrNull:              "null pointer",
	ErrForbidden:         "forbidden operation",
	ErrInvalidAddr:       "bad memory address",
	ErrBusy:              "busy",
	ErrInvalidConnHandle: "invalid connection handle",
	ErrSysAttrMissing:    "system attributes missing",
}

func (e ErrCommand) Error() string {
	if s, ok := errStr[e]; ok {
		return s
	}
	return fmt.Sprintf("stack error code 0x%02X", uint8(e))
}

var (
	// ErrClosed is returned once the link has shut down.
	ErrClosed = errors.New("stack link closed")

	// ErrEventQueueFull is fatal: an event arrived with the FIFO full.
	ErrEventQueueFull = errors.New("event queue full")

	// ErrNoResponse means a command got neither status nor completion in time.
	ErrNoResponse = errors.New("no response to command")
)

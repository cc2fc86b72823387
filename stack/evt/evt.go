package evt

import (
	"fmt"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/smp"
)

// Event codes on the stack link.
const (
	TxCompleteCode       = 0x02
	CommandCompleteCode  = 0x0E
	CommandStatusCode    = 0x0F
	ConnectedCode        = 0x10
	DisconnectedCode     = 0x11
	ConnParamUpdateCode  = 0x12
	SecParamsRequestCode = 0x13
	SecInfoRequestCode   = 0x14
	AuthStatusCode       = 0x17
	ConnSecUpdateCode    = 0x18
	TimeoutCode          = 0x19
	WriteCode            = 0x50
	SysAttrMissingCode   = 0x52
	HVCCode              = 0x53
)

// Timeout sources.
const (
	TimeoutSrcAdvertising     = 0x00
	TimeoutSrcSecurityRequest = 0x01
	TimeoutSrcScan            = 0x02
	TimeoutSrcConn            = 0x03
)

// Roles reported in Connected.
const (
	RoleCentral    = 0x00
	RolePeripheral = 0x01
)

// Event is a decoded stack notification.
type Event interface {
	Code() uint8
	ConnHandle() bleshim.ConnHandle
}

// ConnParams are connection parameters in native units
// (1.25 ms intervals, 10 ms supervision timeout).
type ConnParams struct {
	MinInterval  uint16
	MaxInterval  uint16
	SlaveLatency uint16
	SupTimeout   uint16
}

func (p ConnParams) String() string {
	return fmt.Sprintf("interval=[%d,%d] latency=%d timeout=%d",
		p.MinInterval, p.MaxInterval, p.SlaveLatency, p.SupTimeout)
}

type Connected struct {
	Handle bleshim.ConnHandle
	Role   uint8
	Peer   bleshim.PeerAddr
	Params ConnParams
}

type Disconnected struct {
	Handle bleshim.ConnHandle
	Reason uint8
}

type ConnParamUpdate struct {
	Handle bleshim.ConnHandle
	Params ConnParams
}

// SecParamsRequest carries the peer's pairing request parameters.
type SecParamsRequest struct {
	Handle bleshim.ConnHandle
	Peer   smp.SecParams
}

// SecInfoRequest asks for the keys matching MasterID.
type SecInfoRequest struct {
	Handle   bleshim.ConnHandle
	Peer     bleshim.PeerAddr
	MasterID smp.MasterID
	EncInfo  bool
	IDInfo   bool
	SignInfo bool
}

// AuthStatus reports the end of a pairing procedure. Keys holds the key
// material the peer distributed, if any was carried on the link.
type AuthStatus struct {
	Handle       bleshim.ConnHandle
	Status       uint8
	Bonded       bool
	KDistPeriph  smp.KeyDist
	KDistCentral smp.KeyDist
	Keys         *smp.KeySet
}

type ConnSecUpdate struct {
	Handle  bleshim.ConnHandle
	SecMode uint8
	Level   uint8
	KeySize uint8
}

type Timeout struct {
	Handle bleshim.ConnHandle
	Source uint8
}

// Write is a GATT server write from the peer.
type Write struct {
	Handle     bleshim.ConnHandle
	AttrHandle uint16
	Op         uint8
	Offset     uint16
	Data       []byte
}

type SysAttrMissing struct {
	Handle bleshim.ConnHandle
	Hint   uint8
}

type TxComplete struct {
	Handle bleshim.ConnHandle
	Count  uint8
}

type HVC struct {
	Handle     bleshim.ConnHandle
	AttrHandle uint16
}

// CommandComplete answers a command with return parameters.
type CommandComplete struct {
	Opcode uint16
	Status uint8
	Return []byte
}

// CommandStatus answers a command without return parameters.
type CommandStatus struct {
	Status uint8
	Opcode uint16
}

func (Connected) Code() uint8        { return ConnectedCode }
func (Disconnected) Code() uint8     { return DisconnectedCode }
func (ConnParamUpdate) Code() uint8  { return ConnParamUpdateCode }
func (SecParamsRequest) Code() uint8 { return SecParamsRequestCode }
func (SecInfoRequest) Code() uint8   { return SecInfoRequestCode }
func (AuthStatus) Code() uint8       { return AuthStatusCode }
func (ConnSecUpdate) Code() uint8    { return ConnSecUpdateCode }
func (Timeout) Code() uint8          { return TimeoutCode }
func (Write) Code() uint8            { return WriteCode }
func (SysAttrMissing) Code() uint8   { return SysAttrMissingCode }
func (TxComplete) Code() uint8       { return TxCompleteCode }
func (HVC) Code() uint8              { return HVCCode }
func (CommandComplete) Code() uint8  { return CommandCompleteCode }
func (CommandStatus) Code() uint8    { return CommandStatusCode }

func (e Connected) ConnHandle() bleshim.ConnHandle        { return e.Handle }
func (e Disconnected) ConnHandle() bleshim.ConnHandle     { return e.Handle }
func (e ConnParamUpdate) ConnHandle() bleshim.ConnHandle  { return e.Handle }
func (e SecParamsRequest) ConnHandle() bleshim.ConnHandle { return e.Handle }
func (e SecInfoRequest) ConnHandle() bleshim.ConnHandle   { return e.Handle }
func (e AuthStatus) ConnHandle() bleshim.ConnHandle       { return e.Handle }
func (e ConnSecUpdate) ConnHandle() bleshim.ConnHandle    { return e.Handle }
func (e Timeout) ConnHandle() bleshim.ConnHandle          { return e.Handle }
func (e Write) ConnHandle() bleshim.ConnHandle            { return e.Handle }
func (e SysAttrMissing) ConnHandle() bleshim.ConnHandle   { return e.Handle }
func (e TxComplete) ConnHandle() bleshim.ConnHandle       { return e.Handle }
func (e HVC) ConnHandle() bleshim.ConnHandle              { return e.Handle }
func (CommandComplete) ConnHandle() bleshim.ConnHandle    { return bleshim.InvalidConnHandle }
func (CommandStatus) ConnHandle() bleshim.ConnHandle      { return bleshim.InvalidConnHandle }

var names = map[uint8]string{
	TxCompleteCode:       "TX_COMPLETE",
	CommandCompleteCode:  "COMMAND_COMPLETE",
	CommandStatusCode:    "COMMAND_STATUS",
	ConnectedCode:        "GAP_CONNECTED",
	DisconnectedCode:     "GAP_DISCONNECTED",
	ConnParamUpdateCode:  "GAP_CONN_PARAM_UPDATE",
	SecParamsRequestCode: "GAP_SEC_PARAMS_REQUEST",
	SecInfoRequestCode:   "GAP_SEC_INFO_REQUEST",
	AuthStatusCode:       "GAP_AUTH_STATUS",
	ConnSecUpdateCode:    "GAP_CONN_SEC_UPDATE",
	TimeoutCode:          "GAP_TIMEOUT",
	WriteCode:            "GATTS_WRITE",
	SysAttrMissingCode:   "GATTS_SYS_ATTR_MISSING",
	HVCCode:              "GATTS_HVC",
}

// Name returns the log name of an event code.
func Name(code uint8) string {
	if n, ok := names[code]; ok {
		return n
	}
	return fmt.Sprintf("EVT_%02X", code)
}

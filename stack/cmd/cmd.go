// Package cmd defines the configuration and reply calls sent to the vendor
// stack. Each command marshals into the parameter block of one command packet.
package cmd

import (
	"encoding/binary"
	"fmt"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/rigado/bleshim/stack/smp"
)

// Command ...
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
	String() string
}

// CommandRP ...
type CommandRP interface {
	Unmarshal(b []byte) error
}

const (
	EnableOp           = 0x0001
	VendorUUIDAddOp    = 0x0002
	DeviceNameSetOp    = 0x0101
	AppearanceSetOp    = 0x0102
	PPCPSetOp          = 0x0103
	AdvDataSetOp       = 0x0104
	AdvStartOp         = 0x0105
	AdvStopOp          = 0x0106
	DisconnectOp       = 0x0107
	ConnParamUpdateOp  = 0x0108
	SecParamsReplyOp   = 0x0109
	SecInfoReplyOp     = 0x010A
	SysAttrSetOp       = 0x0201
	ServiceAddOp       = 0x0202
	CharAddOp          = 0x0203
	HVXOp              = 0x0204
	PowerSystemOffOp   = 0x0301
	maxParamLen        = 255
	maxDeviceNameLen   = 20
	maxAdvDataLen      = 31
	sysAttrHeaderLen   = 8
	secInfoPresentEnc  = 0x01
	secInfoPresentID   = 0x02
	secInfoPresentSign = 0x04
)

// Disconnect reasons.
const (
	ReasonRemoteUserTerminated     = 0x13
	ReasonConnIntervalUnacceptable = 0x3B
)

// Advertising types and filter policies.
const (
	AdvTypeInd         = 0x00
	AdvTypeDirectInd   = 0x01
	AdvTypeScanInd     = 0x02
	AdvTypeNonconnInd  = 0x03
	AdvFilterPolicyAny = 0x00
)

// System attribute flags.
const (
	SysAttrFlagSysSrvcs = 0x00000001
	SysAttrFlagUsrSrvcs = 0x00000002
)

// UUID types. Vendor bases registered with VendorUUIDAdd start at UUIDTypeVendorBegin.
const (
	UUIDTypeBLE         = 0x01
	UUIDTypeVendorBegin = 0x02
)

// Characteristic properties.
const (
	CharWriteNR = 0x04
	CharWrite   = 0x08
	CharNotify  = 0x10
)

const hvxTypeNotification = 0x01

func errShort(c Command, n int) error {
	return fmt.Errorf("%v: buffer too small (%d < %d)", c, n, c.Len())
}

// Enable turns on the BLE stack.
type Enable struct {
	ServiceChanged bool
}

func (c *Enable) OpCode() int    { return EnableOp }
func (c *Enable) Len() int       { return 1 }
func (c *Enable) String() string { return "ENABLE" }
func (c *Enable) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	b[0] = boolByte(c.ServiceChanged)
	return nil
}

// VendorUUIDAdd registers a 128-bit base UUID, given little endian.
type VendorUUIDAdd struct {
	Base [16]byte
}

func (c *VendorUUIDAdd) OpCode() int    { return VendorUUIDAddOp }
func (c *VendorUUIDAdd) Len() int       { return 16 }
func (c *VendorUUIDAdd) String() string { return "VENDOR_UUID_ADD" }
func (c *VendorUUIDAdd) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	copy(b, c.Base[:])
	return nil
}

// VendorUUIDAddRP returns the uuid type assigned to the base.
type VendorUUIDAddRP struct {
	UUIDType uint8
}

func (r *VendorUUIDAddRP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("vendor uuid add: short return")
	}
	r.UUIDType = b[0]
	return nil
}

// DeviceNameSet sets the GAP device name with an open write permission.
type DeviceNameSet struct {
	Name string
}

func (c *DeviceNameSet) OpCode() int    { return DeviceNameSetOp }
func (c *DeviceNameSet) Len() int       { return 2 + len(c.Name) }
func (c *DeviceNameSet) String() string { return fmt.Sprintf("DEVICE_NAME_SET %q", c.Name) }
func (c *DeviceNameSet) Marshal(b []byte) error {
	if len(c.Name) > maxDeviceNameLen {
		return fmt.Errorf("device name %q longer than %d", c.Name, maxDeviceNameLen)
	}
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	b[0] = 0x11 // security mode 1 level 1: open link
	b[1] = uint8(len(c.Name))
	copy(b[2:], c.Name)
	return nil
}

type AppearanceSet struct {
	Appearance uint16
}

func (c *AppearanceSet) OpCode() int    { return AppearanceSetOp }
func (c *AppearanceSet) Len() int       { return 2 }
func (c *AppearanceSet) String() string { return fmt.Sprintf("APPEARANCE_SET %d", c.Appearance) }
func (c *AppearanceSet) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, c.Appearance)
	return nil
}

// PPCPSet sets the peripheral preferred connection parameters.
type PPCPSet struct {
	Params evt.ConnParams
}

func (c *PPCPSet) OpCode() int    { return PPCPSetOp }
func (c *PPCPSet) Len() int       { return 8 }
func (c *PPCPSet) String() string { return "PPCP_SET " + c.Params.String() }
func (c *PPCPSet) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	putConnParams(b, c.Params)
	return nil
}

// AdvDataSet sets advertising data and scan response.
type AdvDataSet struct {
	AdvData  []byte
	ScanResp []byte
}

func (c *AdvDataSet) OpCode() int    { return AdvDataSetOp }
func (c *AdvDataSet) Len() int       { return 2 + len(c.AdvData) + len(c.ScanResp) }
func (c *AdvDataSet) String() string { return fmt.Sprintf("ADV_DATA_SET ad=[% X] sr=[% X]", c.AdvData, c.ScanResp) }
func (c *AdvDataSet) Marshal(b []byte) error {
	if len(c.AdvData) > maxAdvDataLen || len(c.ScanResp) > maxAdvDataLen {
		return fmt.Errorf("advertising data too long")
	}
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	b[0] = uint8(len(c.AdvData))
	n := 1 + copy(b[1:], c.AdvData)
	b[n] = uint8(len(c.ScanResp))
	copy(b[n+1:], c.ScanResp)
	return nil
}

// ChannelMask disables individual primary advertising channels.
type ChannelMask struct {
	Ch37Off bool
	Ch38Off bool
	Ch39Off bool
}

func (m ChannelMask) Byte() byte {
	var b byte
	if m.Ch37Off {
		b |= 0x01
	}
	if m.Ch38Off {
		b |= 0x02
	}
	if m.Ch39Off {
		b |= 0x04
	}
	return b
}

// AdvStart starts advertising. Interval is in 0.625 ms units, Timeout in seconds.
type AdvStart struct {
	Type         uint8
	FilterPolicy uint8
	Interval     uint16
	Timeout      uint16
	Channels     ChannelMask
}

func (c *AdvStart) OpCode() int { return AdvStartOp }
func (c *AdvStart) Len() int    { return 7 }
func (c *AdvStart) String() string {
	return fmt.Sprintf("ADV_START type=%d fp=%d interval=%d timeout=%d chmask=%02x",
		c.Type, c.FilterPolicy, c.Interval, c.Timeout, c.Channels.Byte())
}
func (c *AdvStart) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	b[0] = c.Type
	b[1] = c.FilterPolicy
	binary.LittleEndian.PutUint16(b[2:], c.Interval)
	binary.LittleEndian.PutUint16(b[4:], c.Timeout)
	b[6] = c.Channels.Byte()
	return nil
}

type AdvStop struct{}

func (c *AdvStop) OpCode() int            { return AdvStopOp }
func (c *AdvStop) Len() int               { return 0 }
func (c *AdvStop) String() string         { return "ADV_STOP" }
func (c *AdvStop) Marshal(b []byte) error { return nil }

type Disconnect struct {
	Handle bleshim.ConnHandle
	Reason uint8
}

func (c *Disconnect) OpCode() int { return DisconnectOp }
func (c *Disconnect) Len() int    { return 3 }
func (c *Disconnect) String() string {
	return fmt.Sprintf("DISCONNECT handle=%v reason=%02x", c.Handle, c.Reason)
}
func (c *Disconnect) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, uint16(c.Handle))
	b[2] = c.Reason
	return nil
}

// ConnParamUpdate asks the central for new connection parameters.
type ConnParamUpdate struct {
	Handle bleshim.ConnHandle
	Params evt.ConnParams
}

func (c *ConnParamUpdate) OpCode() int { return ConnParamUpdateOp }
func (c *ConnParamUpdate) Len() int    { return 10 }
func (c *ConnParamUpdate) String() string {
	return fmt.Sprintf("CONN_PARAM_UPDATE handle=%v %v", c.Handle, c.Params)
}
func (c *ConnParamUpdate) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, uint16(c.Handle))
	putConnParams(b[2:], c.Params)
	return nil
}

// SecParamsReply answers a security parameters request. Keys distributed
// during the pairing come back in the AuthStatus event.
type SecParamsReply struct {
	Handle bleshim.ConnHandle
	Status uint8
	Params smp.SecParams
}

func (c *SecParamsReply) OpCode() int { return SecParamsReplyOp }
func (c *SecParamsReply) Len() int    { return 9 }
func (c *SecParamsReply) String() string {
	return fmt.Sprintf("SEC_PARAMS_REPLY handle=%v status=%02x flags=%02x io=%v key=[%d,%d]",
		c.Handle, c.Status, c.Params.Flags(), c.Params.IOCaps, c.Params.MinKeySize, c.Params.MaxKeySize)
}
func (c *SecParamsReply) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, uint16(c.Handle))
	b[2] = c.Status
	b[3] = c.Params.Flags()
	b[4] = uint8(c.Params.IOCaps)
	b[5] = c.Params.MinKeySize
	b[6] = c.Params.MaxKeySize
	b[7] = c.Params.KDistPeriph.Byte()
	b[8] = c.Params.KDistCentral.Byte()
	return nil
}

// SecInfoReply hands keys back to the stack. A nil record means the key is
// not available to this peer.
type SecInfoReply struct {
	Handle bleshim.ConnHandle
	Enc    *smp.EncInfo
	ID     *smp.IDKey
	Sign   *smp.SignKey
}

func (c *SecInfoReply) OpCode() int { return SecInfoReplyOp }
func (c *SecInfoReply) Len() int {
	n := 3
	if c.Enc != nil {
		n += 18
	}
	if c.ID != nil {
		n += 16
	}
	if c.Sign != nil {
		n += 16
	}
	return n
}
func (c *SecInfoReply) String() string {
	return fmt.Sprintf("SEC_INFO_REPLY handle=%v enc=%v id=%v sign=%v",
		c.Handle, c.Enc != nil, c.ID != nil, c.Sign != nil)
}
func (c *SecInfoReply) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, uint16(c.Handle))
	var present byte
	i := 3
	if c.Enc != nil {
		present |= secInfoPresentEnc
		copy(b[i:], c.Enc.LTK[:])
		b[i+16] = c.Enc.LTKLen
		b[i+17] = boolByte(c.Enc.Auth)
		i += 18
	}
	if c.ID != nil {
		present |= secInfoPresentID
		copy(b[i:], c.ID.IRK[:])
		i += 16
	}
	if c.Sign != nil {
		present |= secInfoPresentSign
		copy(b[i:], c.Sign.CSRK[:])
	}
	b[2] = present
	return nil
}

// SysAttrSet restores system attributes; nil Data means none stored.
type SysAttrSet struct {
	Handle bleshim.ConnHandle
	Data   []byte
	Flags  uint32
}

func (c *SysAttrSet) OpCode() int { return SysAttrSetOp }
func (c *SysAttrSet) Len() int    { return sysAttrHeaderLen + len(c.Data) }
func (c *SysAttrSet) String() string {
	return fmt.Sprintf("SYS_ATTR_SET handle=%v len=%d flags=%x", c.Handle, len(c.Data), c.Flags)
}
func (c *SysAttrSet) Marshal(b []byte) error {
	if c.Len() > maxParamLen {
		return fmt.Errorf("system attributes too long: %d", len(c.Data))
	}
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, uint16(c.Handle))
	binary.LittleEndian.PutUint32(b[2:], c.Flags)
	binary.LittleEndian.PutUint16(b[6:], uint16(len(c.Data)))
	copy(b[8:], c.Data)
	return nil
}

// ServiceAdd adds a primary service.
type ServiceAdd struct {
	UUIDType uint8
	UUID16   uint16
}

func (c *ServiceAdd) OpCode() int { return ServiceAddOp }
func (c *ServiceAdd) Len() int    { return 4 }
func (c *ServiceAdd) String() string {
	return fmt.Sprintf("SERVICE_ADD type=%d uuid=%04x", c.UUIDType, c.UUID16)
}
func (c *ServiceAdd) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	b[0] = 0x01 // primary
	b[1] = c.UUIDType
	binary.LittleEndian.PutUint16(b[2:], c.UUID16)
	return nil
}

// ServiceAddRP returns the service handle.
type ServiceAddRP struct {
	Handle uint16
}

func (r *ServiceAddRP) Unmarshal(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("service add: short return")
	}
	r.Handle = binary.LittleEndian.Uint16(b)
	return nil
}

// CharAdd adds a characteristic to the service at ServiceHandle.
type CharAdd struct {
	ServiceHandle uint16
	UUIDType      uint8
	UUID16        uint16
	Props         uint8
	MaxLen        uint16
	VarLen        bool
}

func (c *CharAdd) OpCode() int { return CharAddOp }
func (c *CharAdd) Len() int    { return 9 }
func (c *CharAdd) String() string {
	return fmt.Sprintf("CHAR_ADD svc=%04x uuid=%04x props=%02x len=%d", c.ServiceHandle, c.UUID16, c.Props, c.MaxLen)
}
func (c *CharAdd) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, c.ServiceHandle)
	b[2] = c.UUIDType
	binary.LittleEndian.PutUint16(b[3:], c.UUID16)
	b[5] = c.Props
	binary.LittleEndian.PutUint16(b[6:], c.MaxLen)
	b[8] = boolByte(c.VarLen)
	return nil
}

// CharAddRP returns the value and CCCD handles of a new characteristic.
type CharAddRP struct {
	ValueHandle uint16
	CCCDHandle  uint16
}

func (r *CharAddRP) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("char add: short return")
	}
	r.ValueHandle = binary.LittleEndian.Uint16(b)
	r.CCCDHandle = binary.LittleEndian.Uint16(b[2:])
	return nil
}

// HVX sends a notification.
type HVX struct {
	Handle     bleshim.ConnHandle
	AttrHandle uint16
	Data       []byte
}

func (c *HVX) OpCode() int { return HVXOp }
func (c *HVX) Len() int    { return 5 + len(c.Data) }
func (c *HVX) String() string {
	return fmt.Sprintf("HVX handle=%v attr=%04x len=%d", c.Handle, c.AttrHandle, len(c.Data))
}
func (c *HVX) Marshal(b []byte) error {
	if c.Len() > maxParamLen {
		return fmt.Errorf("notification too long: %d", len(c.Data))
	}
	if len(b) < c.Len() {
		return errShort(c, len(b))
	}
	binary.LittleEndian.PutUint16(b, uint16(c.Handle))
	binary.LittleEndian.PutUint16(b[2:], c.AttrHandle)
	b[4] = hvxTypeNotification
	copy(b[5:], c.Data)
	return nil
}

// PowerSystemOff puts the chip into its lowest power state. It does not
// come back without an external wake.
type PowerSystemOff struct{}

func (c *PowerSystemOff) OpCode() int            { return PowerSystemOffOp }
func (c *PowerSystemOff) Len() int               { return 0 }
func (c *PowerSystemOff) String() string         { return "POWER_SYSTEM_OFF" }
func (c *PowerSystemOff) Marshal(b []byte) error { return nil }

func putConnParams(b []byte, p evt.ConnParams) {
	binary.LittleEndian.PutUint16(b[0:], p.MinInterval)
	binary.LittleEndian.PutUint16(b[2:], p.MaxInterval)
	binary.LittleEndian.PutUint16(b[4:], p.SlaveLatency)
	binary.LittleEndian.PutUint16(b[6:], p.SupTimeout)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

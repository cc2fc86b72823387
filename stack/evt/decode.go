package evt

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/smp"
)

type decodeFn func(p []byte) (Event, error)

var decoders = map[uint8]decodeFn{
	TxCompleteCode:       decodeTxComplete,
	CommandCompleteCode:  decodeCommandComplete,
	CommandStatusCode:    decodeCommandStatus,
	ConnectedCode:        decodeConnected,
	DisconnectedCode:     decodeDisconnected,
	ConnParamUpdateCode:  decodeConnParamUpdate,
	SecParamsRequestCode: decodeSecParamsRequest,
	SecInfoRequestCode:   decodeSecInfoRequest,
	AuthStatusCode:       decodeAuthStatus,
	ConnSecUpdateCode:    decodeConnSecUpdate,
	TimeoutCode:          decodeTimeout,
	WriteCode:            decodeWrite,
	SysAttrMissingCode:   decodeSysAttrMissing,
	HVCCode:              decodeHVC,
}

// ErrUnsupported is returned for event codes without a decoder.
var ErrUnsupported = errors.New("unsupported event")

// Decode parses an event packet: code, parameter length, parameters.
func Decode(b []byte) (Event, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("event too short: % X", b)
	}
	code, plen := b[0], int(b[1])
	if plen != len(b[2:]) {
		return nil, fmt.Errorf("invalid event packet: % X", b)
	}

	f, ok := decoders[code]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "code 0x%02X", code)
	}
	e, err := f(b[2:])
	if err != nil {
		return nil, errors.Wrap(err, Name(code))
	}
	return e, nil
}

func decodeConnParams(p []byte, i int) (ConnParams, error) {
	bb, err := getBytes(p, i, 8)
	if err != nil {
		return ConnParams{}, err
	}
	return ConnParams{
		MinInterval:  binary.LittleEndian.Uint16(bb[0:]),
		MaxInterval:  binary.LittleEndian.Uint16(bb[2:]),
		SlaveLatency: binary.LittleEndian.Uint16(bb[4:]),
		SupTimeout:   binary.LittleEndian.Uint16(bb[6:]),
	}, nil
}

func decodePeerAddr(p []byte, i int) (bleshim.PeerAddr, error) {
	t, err := getByte(p, i, 0)
	if err != nil {
		return bleshim.PeerAddr{}, err
	}
	bb, err := getBytes(p, i+1, 6)
	if err != nil {
		return bleshim.PeerAddr{}, err
	}
	var a [6]byte
	copy(a[:], bb)
	return bleshim.PeerAddr{Addr: bleshim.AddrFromWire(a), Type: t}, nil
}

func getHandle(p []byte) (bleshim.ConnHandle, error) {
	h, err := getUint16LE(p, 0, uint16(bleshim.InvalidConnHandle))
	return bleshim.ConnHandle(h), err
}

// handle(2) role(1) peer(7) params(8)
func decodeConnected(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	role, err := getByte(p, 2, 0xff)
	if err != nil {
		return nil, err
	}
	peer, err := decodePeerAddr(p, 3)
	if err != nil {
		return nil, err
	}
	cp, err := decodeConnParams(p, 10)
	if err != nil {
		return nil, err
	}
	return Connected{Handle: h, Role: role, Peer: peer, Params: cp}, nil
}

func decodeDisconnected(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	r, err := getByte(p, 2, 0)
	if err != nil {
		return nil, err
	}
	return Disconnected{Handle: h, Reason: r}, nil
}

func decodeConnParamUpdate(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	cp, err := decodeConnParams(p, 2)
	if err != nil {
		return nil, err
	}
	return ConnParamUpdate{Handle: h, Params: cp}, nil
}

// handle(2) flags(1) iocaps(1) minkey(1) maxkey(1) kdist periph(1) kdist central(1)
func decodeSecParamsRequest(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	bb, err := getBytes(p, 2, 6)
	if err != nil {
		return nil, err
	}
	sp := smp.SecParams{
		IOCaps:       smp.IOCaps(bb[1]),
		MinKeySize:   bb[2],
		MaxKeySize:   bb[3],
		KDistPeriph:  smp.KeyDistFromByte(bb[4]),
		KDistCentral: smp.KeyDistFromByte(bb[5]),
	}
	sp.SetFlags(bb[0])
	return SecParamsRequest{Handle: h, Peer: sp}, nil
}

// handle(2) peer(7) ediv(2) rand(8) flags(1)
func decodeSecInfoRequest(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	peer, err := decodePeerAddr(p, 2)
	if err != nil {
		return nil, err
	}
	ediv, err := getUint16LE(p, 9, 0)
	if err != nil {
		return nil, err
	}
	rb, err := getBytes(p, 11, 8)
	if err != nil {
		return nil, err
	}
	f, err := getByte(p, 19, 0)
	if err != nil {
		return nil, err
	}
	e := SecInfoRequest{Handle: h, Peer: peer}
	e.MasterID.EDiv = ediv
	copy(e.MasterID.Rand[:], rb)
	kd := smp.KeyDistFromByte(f)
	e.EncInfo, e.IDInfo, e.SignInfo = kd.Enc, kd.ID, kd.Sign
	return e, nil
}

// handle(2) status(1) bonded(1) kdist periph(1) kdist central(1), then the
// peripheral keys present in kdist periph, in enc, id, sign order.
func decodeAuthStatus(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	bb, err := getBytes(p, 2, 4)
	if err != nil {
		return nil, err
	}
	e := AuthStatus{
		Handle:       h,
		Status:       bb[0],
		Bonded:       bb[1] != 0,
		KDistPeriph:  smp.KeyDistFromByte(bb[2]),
		KDistCentral: smp.KeyDistFromByte(bb[3]),
	}

	i := 6
	if i == len(p) {
		return e, nil
	}

	ks := &smp.KeySet{}
	if e.KDistPeriph.Enc {
		// ltk(16) ltklen(1) auth(1) ediv(2) rand(8)
		kb, err := getBytes(p, i, 28)
		if err != nil {
			return nil, errors.Wrap(err, "enc key")
		}
		copy(ks.Enc.Info.LTK[:], kb[0:16])
		ks.Enc.Info.LTKLen = kb[16]
		ks.Enc.Info.Auth = kb[17] != 0
		ks.Enc.MasterID.EDiv = binary.LittleEndian.Uint16(kb[18:])
		copy(ks.Enc.MasterID.Rand[:], kb[20:28])
		i += 28
	}
	if e.KDistPeriph.ID {
		// irk(16) addr type(1) addr(6)
		kb, err := getBytes(p, i, 16)
		if err != nil {
			return nil, errors.Wrap(err, "id key")
		}
		copy(ks.ID.IRK[:], kb)
		ks.ID.Addr, err = decodePeerAddr(p, i+16)
		if err != nil {
			return nil, errors.Wrap(err, "id addr")
		}
		i += 23
	}
	if e.KDistPeriph.Sign {
		kb, err := getBytes(p, i, 16)
		if err != nil {
			return nil, errors.Wrap(err, "sign key")
		}
		copy(ks.Sign.CSRK[:], kb)
		i += 16
	}
	if i != len(p) {
		return nil, fmt.Errorf("%d trailing bytes", len(p)-i)
	}
	e.Keys = ks
	return e, nil
}

func decodeConnSecUpdate(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	bb, err := getBytes(p, 2, 3)
	if err != nil {
		return nil, err
	}
	return ConnSecUpdate{Handle: h, SecMode: bb[0], Level: bb[1], KeySize: bb[2]}, nil
}

func decodeTimeout(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	src, err := getByte(p, 2, 0xff)
	if err != nil {
		return nil, err
	}
	return Timeout{Handle: h, Source: src}, nil
}

// handle(2) attr(2) op(1) offset(2) data
func decodeWrite(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	ah, err := getUint16LE(p, 2, 0)
	if err != nil {
		return nil, err
	}
	op, err := getByte(p, 4, 0)
	if err != nil {
		return nil, err
	}
	off, err := getUint16LE(p, 5, 0)
	if err != nil {
		return nil, err
	}
	data := []byte{}
	if len(p) > 7 {
		data = make([]byte, len(p)-7)
		copy(data, p[7:])
	}
	return Write{Handle: h, AttrHandle: ah, Op: op, Offset: off, Data: data}, nil
}

func decodeSysAttrMissing(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	hint, err := getByte(p, 2, 0)
	if err != nil {
		return nil, err
	}
	return SysAttrMissing{Handle: h, Hint: hint}, nil
}

func decodeTxComplete(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	n, err := getByte(p, 2, 0)
	if err != nil {
		return nil, err
	}
	return TxComplete{Handle: h, Count: n}, nil
}

func decodeHVC(p []byte) (Event, error) {
	h, err := getHandle(p)
	if err != nil {
		return nil, err
	}
	ah, err := getUint16LE(p, 2, 0)
	if err != nil {
		return nil, err
	}
	return HVC{Handle: h, AttrHandle: ah}, nil
}

// opcode(2) status(1) return params
func decodeCommandComplete(p []byte) (Event, error) {
	op, err := getUint16LE(p, 0, 0xffff)
	if err != nil {
		return nil, err
	}
	st, err := getByte(p, 2, 0xff)
	if err != nil {
		return nil, err
	}
	var ret []byte
	if len(p) > 3 {
		ret = make([]byte, len(p)-3)
		copy(ret, p[3:])
	}
	return CommandComplete{Opcode: op, Status: st, Return: ret}, nil
}

// status(1) opcode(2)
func decodeCommandStatus(p []byte) (Event, error) {
	st, err := getByte(p, 0, 0xff)
	if err != nil {
		return nil, err
	}
	op, err := getUint16LE(p, 1, 0xffff)
	if err != nil {
		return nil, err
	}
	return CommandStatus{Status: st, Opcode: op}, nil
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	return bytes[start:end], nil
}

// Package trace replays scripted stack events through the app against a
// recording stack.
package trace

import (
	"encoding/hex"
	"io/ioutil"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/stack/evt"
	"github.com/rigado/bleshim/stack/smp"
)

// Step kinds that are not stack events.
const (
	StepSleep          = "sleep"
	StepNotify         = "notify"
	StepFirmwareUpdate = "firmware_update"
)

// Script is a named sequence of steps with the actions it should produce.
type Script struct {
	Name   string   `json:"name"`
	Steps  []Step   `json:"steps"`
	Expect []string `json:"expect,omitempty"`
}

// Step is one scripted event or app call. Byte fields are hex strings.
type Step struct {
	Type   string `json:"type"`
	Handle uint16 `json:"handle,omitempty"`
	Peer   string `json:"peer,omitempty"` // random static, aa:bb:cc:dd:ee:ff

	Reason uint8       `json:"reason,omitempty"`
	Source string      `json:"source,omitempty"`
	Params *ConnParams `json:"params,omitempty"`

	Status   uint8     `json:"status,omitempty"`
	Bonded   bool      `json:"bonded,omitempty"`
	KDist    string    `json:"kdist,omitempty"`
	Keys     *Keys     `json:"keys,omitempty"`
	MasterID *MasterID `json:"master_id,omitempty"`

	Attr uint16 `json:"attr,omitempty"`
	Data string `json:"data,omitempty"`

	Ms int `json:"ms,omitempty"`
}

type ConnParams struct {
	MinInterval  uint16 `json:"min_interval"`
	MaxInterval  uint16 `json:"max_interval"`
	SlaveLatency uint16 `json:"slave_latency"`
	SupTimeout   uint16 `json:"sup_timeout"`
}

type MasterID struct {
	EDiv uint16 `json:"ediv"`
	Rand string `json:"rand"`
}

// Keys is the key material a central distributes during pairing.
type Keys struct {
	LTK      string   `json:"ltk,omitempty"`
	MasterID MasterID `json:"master_id"`
	IRK      string   `json:"irk,omitempty"`
	CSRK     string   `json:"csrk,omitempty"`
}

func Parse(data []byte) (*Script, error) {
	var s Script
	if err := jsoniter.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "can't parse trace")
	}
	for i, st := range s.Steps {
		if _, err := st.Event(); err != nil && !st.isCall() {
			return nil, errors.Wrapf(err, "step %d", i)
		}
	}
	return &s, nil
}

func Load(path string) (*Script, error) {
	in, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(in)
}

func Save(path string, s *Script) error {
	out, err := jsoniter.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0644)
}

func (st Step) isCall() bool {
	switch st.Type {
	case StepSleep, StepNotify, StepFirmwareUpdate:
		return true
	}
	return false
}

func (st Step) sleep() time.Duration {
	return time.Duration(st.Ms) * time.Millisecond
}

// Event builds the stack event for st.
func (st Step) Event() (evt.Event, error) {
	h := bleshim.ConnHandle(st.Handle)
	switch st.Type {
	case "connected":
		e := evt.Connected{Handle: h, Role: evt.RolePeripheral, Params: st.Params.native()}
		if st.Peer != "" {
			e.Peer = bleshim.PeerAddr{Addr: bleshim.NewAddr(st.Peer), Type: bleshim.AddrTypeRandomStatic}
		}
		return e, nil
	case "disconnected":
		return evt.Disconnected{Handle: h, Reason: st.Reason}, nil
	case "conn_param_update":
		return evt.ConnParamUpdate{Handle: h, Params: st.Params.native()}, nil
	case "sec_params_request":
		return evt.SecParamsRequest{Handle: h}, nil
	case "auth_status":
		kd, err := parseKDist(st.KDist)
		if err != nil {
			return nil, err
		}
		return evt.AuthStatus{Handle: h, Status: st.Status, Bonded: st.Bonded, KDistPeriph: kd}, nil
	case "sec_info_request":
		var mid smp.MasterID
		if st.MasterID != nil {
			var err error
			if mid, err = st.MasterID.native(); err != nil {
				return nil, err
			}
		}
		return evt.SecInfoRequest{Handle: h, MasterID: mid, EncInfo: true}, nil
	case "timeout":
		src, err := parseSource(st.Source)
		if err != nil {
			return nil, err
		}
		return evt.Timeout{Handle: h, Source: src}, nil
	case "write":
		b, err := hex.DecodeString(st.Data)
		if err != nil {
			return nil, errors.Wrap(err, "write data")
		}
		return evt.Write{Handle: h, AttrHandle: st.Attr, Data: b}, nil
	case "sys_attr_missing":
		return evt.SysAttrMissing{Handle: h}, nil
	}
	return nil, errors.Errorf("unknown step type %q", st.Type)
}

func (p *ConnParams) native() evt.ConnParams {
	if p == nil {
		return evt.ConnParams{}
	}
	return evt.ConnParams{
		MinInterval:  p.MinInterval,
		MaxInterval:  p.MaxInterval,
		SlaveLatency: p.SlaveLatency,
		SupTimeout:   p.SupTimeout,
	}
}

func (m MasterID) native() (smp.MasterID, error) {
	mid := smp.MasterID{EDiv: m.EDiv}
	if err := decodeInto(mid.Rand[:], m.Rand); err != nil {
		return mid, errors.Wrap(err, "master id rand")
	}
	return mid, nil
}

// apply writes the keys flagged in kd into ks.
func (k *Keys) apply(kd smp.KeyDist, ks *smp.KeySet) error {
	if kd.Enc {
		mid, err := k.MasterID.native()
		if err != nil {
			return err
		}
		ks.Enc.MasterID = mid
		if err := decodeInto(ks.Enc.Info.LTK[:], k.LTK); err != nil {
			return errors.Wrap(err, "ltk")
		}
		ks.Enc.Info.LTKLen = uint8(len(ks.Enc.Info.LTK))
	}
	if kd.ID {
		if err := decodeInto(ks.ID.IRK[:], k.IRK); err != nil {
			return errors.Wrap(err, "irk")
		}
	}
	if kd.Sign {
		if err := decodeInto(ks.Sign.CSRK[:], k.CSRK); err != nil {
			return errors.Wrap(err, "csrk")
		}
	}
	return nil
}

// decodeInto fills dst from hex; an empty string leaves it zero.
func decodeInto(dst []byte, s string) error {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return errors.Errorf("want %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// parseKDist reads a comma separated subset of "enc", "id" and "sign".
func parseKDist(s string) (smp.KeyDist, error) {
	var kd smp.KeyDist
	if s == "" {
		return kd, nil
	}
	for _, f := range strings.Split(s, ",") {
		switch strings.TrimSpace(f) {
		case "enc":
			kd.Enc = true
		case "id":
			kd.ID = true
		case "sign":
			kd.Sign = true
		default:
			return kd, errors.Errorf("unknown key kind %q", f)
		}
	}
	return kd, nil
}

func parseSource(s string) (uint8, error) {
	switch s {
	case "advertising", "":
		return evt.TimeoutSrcAdvertising, nil
	case "security":
		return evt.TimeoutSrcSecurityRequest, nil
	case "conn":
		return evt.TimeoutSrcConn, nil
	}
	return 0, errors.Errorf("unknown timeout source %q", s)
}

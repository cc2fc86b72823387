package adv

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
)

// https://www.bluetooth.org/en-us/specification/assigned-numbers/generic-access-profile
var types = struct {
	flags       byte
	uuid16inc   byte
	uuid16comp  byte
	uuid128inc  byte
	uuid128comp byte
	nameshort   byte
	namecomp    byte
	txpwr       byte
	appearance  byte
	mfgdata     byte
}{
	flags:       0x01,
	uuid16inc:   0x02,
	uuid16comp:  0x03,
	uuid128inc:  0x06,
	uuid128comp: 0x07,
	nameshort:   0x08,
	namecomp:    0x09,
	txpwr:       0x0a,
	appearance:  0x19,
	mfgdata:     0xff,
}

var keys = struct {
	flags      string
	uuid16     string
	uuid128    string
	name       string
	txpwr      string
	appearance string
	mfgdata    string
}{
	flags:      "flags",
	uuid16:     "uuid16",
	uuid128:    "uuid128",
	name:       "name",
	txpwr:      "txpwr",
	appearance: "appearance",
	mfgdata:    "mfg",
}

type pduRecord struct {
	arrayElementSz int
	minSz          int
	key            string
}

var pduDecodeMap = map[byte]pduRecord{
	types.uuid16inc:   {2, 2, keys.uuid16},
	types.uuid16comp:  {2, 2, keys.uuid16},
	types.uuid128inc:  {16, 16, keys.uuid128},
	types.uuid128comp: {16, 16, keys.uuid128},
	types.namecomp:    {0, 1, keys.name},
	types.nameshort:   {0, 1, keys.name},
	types.txpwr:       {0, 1, keys.txpwr},
	types.appearance:  {0, 2, keys.appearance},
	types.mfgdata:     {0, 2, keys.mfgdata},
	types.flags:       {0, 1, keys.flags},
}

func getArray(size int, bytes []byte) ([]interface{}, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size")
	}
	if len(bytes) == 0 {
		return nil, fmt.Errorf("nil/empty bytes")
	}

	count := len(bytes) / size
	if len(bytes)%size != 0 || count == 0 {
		return nil, fmt.Errorf("incorrect size")
	}

	arr := make([]interface{}, 0, count)
	for j := 0; j < len(bytes); j += size {
		arr = append(arr, bytes[j:j+size])
	}
	return arr, nil
}

func decode(pdu []byte) (map[string]interface{}, error) {
	if pdu == nil {
		return nil, fmt.Errorf("nil pdu")
	}

	m := make(map[string]interface{})
	for i := 0; i < len(pdu); {
		// length @ offset 0, type @ offset 1, data after
		length := int(pdu[i])
		if length < 1 {
			return nil, fmt.Errorf("invalid record length %d", length)
		}
		if i+length >= len(pdu) {
			return nil, fmt.Errorf("buffer overflow: want %v, have %v", i+length, len(pdu))
		}

		typ := pdu[i+1]
		start := i + 2
		end := start + length - 1
		bytes := pdu[start:end]

		dec, ok := pduDecodeMap[typ]
		switch {
		case !ok:
			bleshim.PkgLogger("adv").Debugf("ignored unsupported adv type %v", typ)

		case dec.minSz > len(bytes):
			return nil, fmt.Errorf("adv type %v: min length %v, have %v", typ, dec.minSz, len(bytes))

		case dec.arrayElementSz > 0:
			arr, err := getArray(dec.arrayElementSz, bytes)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("adv type %v", typ))
			}
			if prev, ok := m[dec.key].([]interface{}); ok {
				arr = append(prev, arr...)
			}
			m[dec.key] = arr

		default:
			m[dec.key] = bytes
		}

		i += length + 1
	}

	return m, nil
}

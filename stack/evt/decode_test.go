package evt

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/stretchr/testify/require"
)

func TestDecodeConnected(t *testing.T) {
	b := []byte{ConnectedCode, 18,
		0x05, 0x00, RolePeripheral,
		0x01, 0x01, 0x02, 0x03, 0x04, 0x05, 0xC6,
		0x90, 0x01, 0x20, 0x03, 0x00, 0x00, 0x90, 0x01}

	e, err := Decode(b)
	require.NoError(t, err)
	c, ok := e.(Connected)
	require.True(t, ok)
	require.Equal(t, bleshim.ConnHandle(5), c.Handle)
	require.Equal(t, uint8(RolePeripheral), c.Role)
	require.Equal(t, "c6:05:04:03:02:01", c.Peer.String())
	require.Equal(t, uint8(1), c.Peer.Type)
	require.Equal(t, ConnParams{MinInterval: 400, MaxInterval: 800, SlaveLatency: 0, SupTimeout: 400}, c.Params)
}

func TestDecodeSecInfoRequest(t *testing.T) {
	b := []byte{SecInfoRequestCode, 20,
		0x01, 0x00,
		0x00, 1, 2, 3, 4, 5, 6,
		0x34, 0x12,
		8, 7, 6, 5, 4, 3, 2, 1,
		0x05}

	e, err := Decode(b)
	require.NoError(t, err)
	r := e.(SecInfoRequest)
	require.Equal(t, uint16(0x1234), r.MasterID.EDiv)
	require.Equal(t, [8]byte{8, 7, 6, 5, 4, 3, 2, 1}, r.MasterID.Rand)
	require.True(t, r.EncInfo)
	require.False(t, r.IDInfo)
	require.True(t, r.SignInfo)
}

func TestDecodeAuthStatusWithoutKeys(t *testing.T) {
	e, err := Decode([]byte{AuthStatusCode, 6, 0x01, 0x00, 0x00, 0x01, 0x07, 0x00})
	require.NoError(t, err)
	as := e.(AuthStatus)
	require.True(t, as.Bonded)
	require.True(t, as.KDistPeriph.Enc && as.KDistPeriph.ID && as.KDistPeriph.Sign)
	require.Nil(t, as.Keys)
}

func TestDecodeAuthStatusKeys(t *testing.T) {
	b := []byte{AuthStatusCode, 0, 0x01, 0x00, 0x00, 0x00, 0x06, 0x00}
	irk := make([]byte, 16)
	irk[0] = 0x11
	csrk := make([]byte, 16)
	csrk[15] = 0x22
	b = append(b, irk...)
	b = append(b, 0x00, 1, 2, 3, 4, 5, 6)
	b = append(b, csrk...)
	b[1] = byte(len(b) - 2)

	e, err := Decode(b)
	require.NoError(t, err)
	as := e.(AuthStatus)
	require.NotNil(t, as.Keys)
	require.Equal(t, byte(0x11), as.Keys.ID.IRK[0])
	require.Equal(t, "06:05:04:03:02:01", as.Keys.ID.Addr.String())
	require.Equal(t, byte(0x22), as.Keys.Sign.CSRK[15])
}

func TestDecodeAuthStatusTrailing(t *testing.T) {
	b := []byte{AuthStatusCode, 8, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0xAA, 0xBB}
	_, err := Decode(b)
	require.Error(t, err)
}

func TestDecodeWrite(t *testing.T) {
	e, err := Decode([]byte{WriteCode, 9, 0x01, 0x00, 0x0E, 0x00, 0x01, 0x00, 0x00, 0x01, 0x00})
	require.NoError(t, err)
	require.Equal(t, Write{Handle: 1, AttrHandle: 0x0E, Op: 1, Data: []byte{0x01, 0x00}}, e)
}

func TestDecodeCommandResponses(t *testing.T) {
	e, err := Decode([]byte{CommandStatusCode, 3, 0x08, 0x05, 0x01})
	require.NoError(t, err)
	require.Equal(t, CommandStatus{Status: 0x08, Opcode: 0x0105}, e)

	e, err = Decode([]byte{CommandCompleteCode, 5, 0x02, 0x02, 0x00, 0x0B, 0x00})
	require.NoError(t, err)
	require.Equal(t, CommandComplete{Opcode: 0x0202, Status: 0, Return: []byte{0x0B, 0x00}}, e)
}

func TestDecodeErrors(t *testing.T) {
	for _, b := range [][]byte{
		{},
		{DisconnectedCode},
		{DisconnectedCode, 3, 0x01, 0x00},
		{DisconnectedCode, 1, 0x01},
		{ConnectedCode, 3, 0x01, 0x00, 0x01},
	} {
		_, err := Decode(b)
		require.Error(t, err, "% X", b)
	}

	_, err := Decode([]byte{0x7F, 0})
	require.Equal(t, ErrUnsupported, errors.Cause(err))
}

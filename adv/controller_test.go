package adv

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/bleshim"
	"github.com/rigado/bleshim/indicator"
	"github.com/rigado/bleshim/stack/cmd"
	"github.com/stretchr/testify/require"
)

func testController() *Controller {
	return NewController(Params{
		Interval:   1600,
		Timeout:    60,
		Channels:   cmd.ChannelMask{Ch39Off: true},
		Name:       "BLE_TEMPLATE",
		Appearance: 0,
		Services:   []uuid.UUID{testService},
	})
}

func TestStart(t *testing.T) {
	c := testController()
	require.False(t, c.Active())

	aa := c.Start()
	require.Equal(t, []bleshim.Action{
		&cmd.AdvStart{
			Type:         cmd.AdvTypeInd,
			FilterPolicy: cmd.AdvFilterPolicyAny,
			Interval:     1600,
			Timeout:      60,
			Channels:     cmd.ChannelMask{Ch39Off: true},
		},
		indicator.On(indicator.Advertising),
	}, aa)
	require.True(t, c.Active())
}

func TestStop(t *testing.T) {
	c := testController()
	c.Start()

	require.Equal(t, []bleshim.Action{&cmd.AdvStop{}, indicator.Off(indicator.Advertising)}, c.Stop())
	require.False(t, c.Active())
}

func TestSetup(t *testing.T) {
	aa, err := testController().Setup()
	require.NoError(t, err)
	require.Len(t, aa, 1)

	ads, ok := aa[0].(*cmd.AdvDataSet)
	require.True(t, ok)

	ad, err := NewRawPacket(ads.AdvData)
	require.NoError(t, err)
	f, _ := ad.Flags()
	require.Equal(t, byte(FlagsLEOnlyLimitedDisc), f)
	require.Equal(t, "BLE_TEMPLATE", ad.LocalName())
	_, ok = ad.Appearance()
	require.True(t, ok)

	sr, err := NewRawPacket(ads.ScanResp)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{testService}, sr.UUIDs())
}

func TestSetupWithoutAppearance(t *testing.T) {
	c := NewController(Params{Name: "x", Appearance: -1})
	aa, err := c.Setup()
	require.NoError(t, err)

	ads := aa[0].(*cmd.AdvDataSet)
	ad, err := NewRawPacket(ads.AdvData)
	require.NoError(t, err)
	_, ok := ad.Appearance()
	require.False(t, ok)
	require.Nil(t, ads.ScanResp)
}

func TestSetupScanResponseExtras(t *testing.T) {
	tx := int8(4)
	c := NewController(Params{
		Name:         "x",
		Appearance:   -1,
		Services:     []uuid.UUID{testService},
		TxPower:      &tx,
		Manufacturer: &Manufacturer{ID: 0x0059, Data: []byte{1, 2, 3}},
	})
	aa, err := c.Setup()
	require.NoError(t, err)

	sr, err := NewRawPacket(aa[0].(*cmd.AdvDataSet).ScanResp)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{testService}, sr.UUIDs())
	p, ok := sr.TxPower()
	require.True(t, ok)
	require.Equal(t, 4, p)
	id, data, ok := sr.Manufacturer()
	require.True(t, ok)
	require.Equal(t, uint16(0x0059), id)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func TestSetupScanResponseTooLong(t *testing.T) {
	c := NewController(Params{
		Name:         "x",
		Appearance:   -1,
		Services:     []uuid.UUID{testService},
		Manufacturer: &Manufacturer{ID: 0x0059, Data: make([]byte, 10)},
	})
	_, err := c.Setup()
	require.Error(t, err)
	require.Equal(t, ErrNotFit, errors.Cause(err))
}

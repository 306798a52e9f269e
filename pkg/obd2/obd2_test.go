package obd2

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dtc"
	"github.com/roffe/ecudiag/pkg/ecusim"
)

func TestCodecSessionless(t *testing.T) {
	c := NewCodec()

	assert.Empty(t, c.Sessions())
	assert.False(t, c.BasicSessionMode().TesterPresent)

	_, err := c.SessionEnter(ecudiag.SessionMode{ID: 0x01})
	assert.ErrorIs(t, err, ecudiag.ErrNotSupported)

	_, ok := c.SessionControl(ecudiag.NewRequest(0x10, []byte{0x01}, true))
	assert.False(t, ok)

	req := c.TesterPresent(true)
	assert.Equal(t, []byte{ServiceShowCurrentData, 0x00}, req.Bytes())
}

func TestProcessResponse(t *testing.T) {
	c := NewCodec()
	req := ecudiag.NewRequest(ServiceShowCurrentData, []byte{0x0C}, true)

	resp, err := c.ProcessResponse(req, []byte{0x41, 0x0C, 0x0C, 0x80})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0C, 0x0C, 0x80}, resp.Data)

	_, err = c.ProcessResponse(req, []byte{0x7F, 0x01, 0x12})
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x12), ecuErr.Code)

	_, err = c.ProcessResponse(req, []byte{0x49, 0x0C})
	assert.ErrorIs(t, err, ecudiag.ErrWrongMessage)
}

func TestNRCClassification(t *testing.T) {
	assert.True(t, NRC(0x21).Busy())
	assert.True(t, NRC(0x78).Pending())
	assert.True(t, NRC(0x11).WrongSession())
	assert.True(t, NRC(0x12).WrongSession())
	assert.False(t, NRC(0x22).WrongSession())
	assert.Equal(t, "SAE J1979 reserved", NRC(0x99).Desc())
}

func TestBitmapHas(t *testing.T) {
	// PIDs 5, 12 and 13 announced
	bitmap := []byte{0x08, 0x18, 0x00, 0x00}
	assert.True(t, bitmapHas(bitmap, 0x05))
	assert.True(t, bitmapHas(bitmap, 0x0C))
	assert.True(t, bitmapHas(bitmap, 0x0D))
	assert.False(t, bitmapHas(bitmap, 0x01))
	assert.False(t, bitmapHas(bitmap, 0x20))
	assert.False(t, bitmapHas(bitmap, 0x00))
	assert.False(t, bitmapHas(bitmap, 0xFF))
}

func newTestClient(t *testing.T, opts ...ecusim.Option) (*Client, *ecusim.ECU) {
	t.Helper()
	ecu := ecusim.NewOBD2(opts...)
	srv, err := ecudiag.NewServer(NewCodec(), ecu.Channel(), ecudiag.DiagServerOptions{
		SendID: 0x7DF,
		RecvID: 0x7E8,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return NewClient(srv), ecu
}

func TestClientService01(t *testing.T) {
	cli, _ := newTestClient(t)

	pids, err := cli.SupportedPIDs()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x0C, 0x0D}, pids)

	temp, err := cli.CoolantTemperature()
	require.NoError(t, err)
	assert.Equal(t, 90, temp)

	rpm, err := cli.EngineSpeed()
	require.NoError(t, err)
	assert.Equal(t, 800.0, rpm)

	speed, err := cli.VehicleSpeed()
	require.NoError(t, err)
	assert.Equal(t, 60, speed)

	_, err = cli.ReadPID(0x10)
	assert.ErrorIs(t, err, ecudiag.ErrNotSupported)
}

func TestClientDTCs(t *testing.T) {
	cli, _ := newTestClient(t,
		ecusim.WithDTCs(
			ecusim.StoredDTC{Raw: 0x0122},
			ecusim.StoredDTC{Raw: 0xE103},
		),
	)

	codes, err := cli.ReadStoredDTCs()
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "P0122", codes[0].Code())
	assert.Equal(t, "U2103", codes[1].Code())
	assert.Equal(t, dtc.StatusStored, codes[0].Status)

	// pending codes are not part of the simulated engine ECU
	_, err = cli.ReadPendingDTCs()
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)

	require.NoError(t, cli.ClearDTCs())
	codes, err = cli.ReadStoredDTCs()
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestClientVehicleInfo(t *testing.T) {
	cli, _ := newTestClient(t, ecusim.WithVIN("W0L000051T2123456"))

	vin, err := cli.VIN()
	require.NoError(t, err)
	assert.Equal(t, "W0L000051T2123456", vin)

	calIDs, err := cli.CalibrationIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"CAL07R32"}, calIDs)

	cvns, err := cli.CVNs()
	require.NoError(t, err)
	assert.Equal(t, []string{"11223344"}, cvns)

	// ECU name is not in the simulated support bitmap
	_, err = cli.readInfo(InfoECUName)
	assert.ErrorIs(t, err, ecudiag.ErrNotSupported)
}

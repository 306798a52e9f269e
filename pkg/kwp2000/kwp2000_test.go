package kwp2000

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dtc"
	"github.com/roffe/ecudiag/pkg/ecusim"
)

func TestSessionControl(t *testing.T) {
	c := NewCodec()

	mode, ok := c.SessionControl(ecudiag.NewRequest(ServiceStartDiagnosticSession, []byte{0x92}, true))
	assert.True(t, ok)
	assert.Equal(t, SessionExtendedDiagnostics, mode)

	mode, ok = c.SessionControl(ecudiag.NewRequest(ServiceStartDiagnosticSession, []byte{0x83}, true))
	assert.True(t, ok)
	assert.Equal(t, byte(0x83), mode.ID)
	assert.True(t, mode.TesterPresent)

	_, ok = c.SessionControl(ecudiag.NewRequest(ServiceTesterPresent, []byte{0x01}, true))
	assert.False(t, ok)

	_, ok = c.SessionControl(ecudiag.NewRequest(ServiceStartDiagnosticSession, nil, true))
	assert.False(t, ok)
}

func TestTesterPresent(t *testing.T) {
	c := NewCodec()

	req := c.TesterPresent(true)
	assert.Equal(t, []byte{ServiceTesterPresent, responseRequired}, req.Bytes())
	assert.True(t, req.Respond)

	req = c.TesterPresent(false)
	assert.Equal(t, []byte{ServiceTesterPresent, responseSuppressed}, req.Bytes())
	assert.False(t, req.Respond)
}

func TestProcessResponse(t *testing.T) {
	c := NewCodec()
	req := ecudiag.NewRequest(ServiceReadECUIdentification, []byte{0x86}, true)

	resp, err := c.ProcessResponse(req, []byte{0x5A, 0x86, 0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, byte(ServiceReadECUIdentification), resp.Service)
	assert.Equal(t, []byte{0x86, 0x01, 0x02}, resp.Data)

	_, err = c.ProcessResponse(req, []byte{0x7F, 0x1A, 0x80})
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x80), ecuErr.Code)
	assert.True(t, c.DecodeNRC(ecuErr.Code).WrongSession())

	_, err = c.ProcessResponse(req, []byte{0x50, 0x86})
	assert.ErrorIs(t, err, ecudiag.ErrWrongMessage)

	_, err = c.ProcessResponse(req, []byte{0x7F, 0x1A})
	assert.ErrorIs(t, err, ecudiag.ErrInvalidResponseLength)

	_, err = c.ProcessResponse(req, nil)
	assert.ErrorIs(t, err, ecudiag.ErrEmptyResponse)
}

func TestNRCClassification(t *testing.T) {
	assert.True(t, NRC(0x21).Busy())
	assert.True(t, NRC(0x78).Pending())
	assert.True(t, NRC(0x80).WrongSession())
	assert.False(t, NRC(0x7F).WrongSession())

	assert.Equal(t, "security access allowed", NRC(0x34).Desc())
	assert.Equal(t, "ready for download", NRC(0x44).Desc())
	assert.Equal(t, "manufacturer specific", NRC(0x95).Desc())
	assert.Equal(t, "ISO 14230 reserved", NRC(0x85).Desc())
}

func TestBCDString(t *testing.T) {
	assert.Equal(t, "0034471230", bcdString([]byte{0x00, 0x34, 0x47, 0x12, 0x30}, ""))
	assert.Equal(t, "12.34", bcdString([]byte{0x12, 0x34}, "."))
	assert.Equal(t, "15/03/22", bcdString([]byte{0x15, 0x03, 0x22}, "/"))
	assert.Equal(t, "", bcdString(nil, "."))
}

func TestDecodeDaimlerIdentification(t *testing.T) {
	data := []byte{
		0x86,
		0x00, 0x34, 0x47, 0x12, 0x30,
		0x12, 0x21, 0x45, 0x22,
		0x42, 0x01, 0x02, 0x00,
		0x22, 0x03, 0x15,
	}
	id, err := decodeECUIdentification(data)
	require.NoError(t, err)
	assert.Equal(t, "0034471230", id.PartNumber)
	assert.Equal(t, "12/21", id.HardwareDate())
	assert.Equal(t, "45/22", id.SoftwareDate())
	assert.Equal(t, byte(0x42), id.Supplier)
	assert.True(t, id.DiagInfo.Production())
	assert.Equal(t, byte(0x01), id.DiagInfo.ECUID())
	assert.False(t, id.DiagInfo.BootSoftware())
	assert.Equal(t, uint16(0x0102), id.DiagInfo.InfoID())
	assert.Equal(t, "15/03/22", id.ProductionDate())

	_, err = decodeECUIdentification(data[:10])
	assert.ErrorIs(t, err, ecudiag.ErrInvalidResponseLength)
}

func TestDecodeMMCIdentification(t *testing.T) {
	data := append([]byte{0x87, 0x01, 0x42, 0x81, 0xE2, 0x00, 0x12, 0x34, 0x01, 0x02, 0x03}, []byte("KWP1234567")...)
	id, err := decodeMMCIdentification(data)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), id.Origin)
	assert.Equal(t, byte(0x42), id.Supplier)
	assert.False(t, id.DiagInfo.Production())
	assert.True(t, id.DiagInfo.BootSoftware())
	assert.Equal(t, "12.34", id.HardwareVersion)
	assert.Equal(t, "01.02.03", id.SoftwareVersion)
	assert.Equal(t, "KWP1234567", id.PartNumber)
}

func TestDecodeModuleInformation(t *testing.T) {
	data := []byte{
		0x9A, 0x00, 0x02,
		0x42, 0x23, 0x08, 0x15, 0xDE, 0xAD, 0xBE, 0xEF,
		0x43, 0x24, 0x01, 0x02, 0x00, 0x11, 0x22, 0x33,
	}
	mi, err := decodeModuleInformation(data)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), mi.ActiveLogicalBlocks)
	require.Len(t, mi.Blocks, 2)
	assert.Equal(t, byte(0x42), mi.Blocks[0].ToolSupplier)
	assert.Equal(t, uint8(23), mi.Blocks[0].ProgrammedYear)
	assert.Equal(t, uint8(8), mi.Blocks[0].ProgrammedMonth)
	assert.Equal(t, uint8(15), mi.Blocks[0].ProgrammedDay)
	assert.Equal(t, "DEADBEEF", mi.Blocks[0].TesterSerial)
	assert.Equal(t, "00112233", mi.Blocks[1].TesterSerial)

	_, err = decodeModuleInformation(data[:7])
	assert.ErrorIs(t, err, ecudiag.ErrInvalidResponseLength)
}

func TestDecodeSoftwareBlockIdentification(t *testing.T) {
	data := []byte{
		0x9C, 0x00, 0x01,
		0x42, 0x01, 0x02, 0x00, 0x01, 0x02, 0x03, 0x00,
		0x00, 0x34, 0x47, 0x12, 0x30, 0x99, 0x88, 0x77, 0x66,
	}
	id, err := decodeSoftwareBlockIdentification(data)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), id.Origin)
	require.Len(t, id.Blocks, 1)
	assert.Equal(t, byte(0x42), id.Blocks[0].Supplier)
	assert.Equal(t, "01.02.03", id.Blocks[0].SoftwareVersion)
	assert.Equal(t, "003447123099887766", id.Blocks[0].PartNumber)
}

func newTestClient(t *testing.T, opts ...ecusim.Option) (*Client, *ecusim.ECU) {
	t.Helper()
	ecu := ecusim.NewKWP(opts...)
	srv, err := ecudiag.NewServer(NewCodec(), ecu.Channel(), ecudiag.DiagServerOptions{
		SendID: 0x7E0,
		RecvID: 0x7E8,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return NewClient(srv), ecu
}

func TestClientIdentification(t *testing.T) {
	cli, _ := newTestClient(t, ecusim.WithVIN("WDB2110261A123456"))

	id, err := cli.ReadDaimlerIdentification()
	require.NoError(t, err)
	assert.Equal(t, "0034471230", id.PartNumber)
	assert.Equal(t, byte(0x42), id.Supplier)

	mmc, err := cli.ReadMMCIdentification()
	require.NoError(t, err)
	assert.Equal(t, "KWP1234567", mmc.PartNumber)

	vin, err := cli.ReadCurrentVIN()
	require.NoError(t, err)
	assert.Equal(t, "WDB2110261A123456", vin)

	variant, err := cli.ReadDiagnosticVariantCode()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), variant)

	calID, err := cli.ReadCalibrationID()
	require.NoError(t, err)
	assert.Equal(t, "CAL07R32", calID)

	cvn, err := cli.ReadCVN()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, cvn)

	_, err = cli.ReadECUIdentificationPage(0x42)
	var ecuErr *ecudiag.ECUError
	require.True(t, errors.As(err, &ecuErr))
}

func TestClientDTCs(t *testing.T) {
	cli, _ := newTestClient(t,
		ecusim.WithDTCs(
			ecusim.StoredDTC{Raw: 0x2050, Status: 0xA4},
			ecusim.StoredDTC{Raw: 0x1234, Status: 0x30},
		),
	)

	codes, err := cli.ReadStoredDTCs(RangeAll)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "2050", codes[0].Code())
	assert.Equal(t, dtc.StatusStored, codes[0].Status)
	assert.True(t, codes[0].MILOn)
	assert.False(t, codes[0].Readiness)
	assert.Equal(t, dtc.StatusStored, codes[1].Status)
	assert.False(t, codes[1].MILOn)
	assert.True(t, codes[1].Readiness)

	iso, err := cli.ReadStoredDTCsISO15031(RangeAll)
	require.NoError(t, err)
	require.Len(t, iso, 2)
	assert.Equal(t, "P2050", iso[0].Code())

	require.NoError(t, cli.ClearDTCs(RangeAll))
	codes, err = cli.ReadStoredDTCs(RangeAll)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestClientMemory(t *testing.T) {
	img := make([]byte, 128)
	for i := range img {
		img[i] = byte(0xFF - i)
	}
	cli, _ := newTestClient(t, ecusim.WithMemory(0x060000, img))

	data, err := cli.ReadMemoryByAddress(0x060020, 32)
	require.NoError(t, err)
	assert.Equal(t, img[0x20:0x40], data)

	_, err = cli.ReadMemoryByAddress(0x070000, 1)
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x31), ecuErr.Code)
}

func TestClientSessionBoundServices(t *testing.T) {
	cli, ecu := newTestClient(t)

	// local identifier writes need a non default session
	err := cli.WriteDataByLocalIdentifier(0x10, []byte{0xAA, 0xBB})
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x80), ecuErr.Code)

	require.NoError(t, cli.EnterExtendedDiagnostics())
	assert.Equal(t, byte(0x92), ecu.Session())

	require.NoError(t, cli.WriteDataByLocalIdentifier(0x10, []byte{0xAA, 0xBB}))
	data, err := cli.ReadDataByLocalIdentifier(0x10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, data)

	require.NoError(t, cli.StartRoutine(0x05, 0x01))
	require.NoError(t, cli.StopRoutine(0x05))

	seed, err := cli.RequestSeed()
	require.NoError(t, err)
	require.Len(t, seed, 2)
	key := []byte{^seed[0], ^seed[1]}
	require.NoError(t, cli.SendKey(key))
}

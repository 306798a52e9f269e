package uds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dtc"
	"github.com/roffe/ecudiag/pkg/ecusim"
)

func TestSessionControl(t *testing.T) {
	c := NewCodec()

	mode, ok := c.SessionControl(ecudiag.NewRequest(ServiceDiagnosticSessionControl, []byte{0x03}, true))
	assert.True(t, ok)
	assert.Equal(t, SessionExtended, mode)

	// suppress bit stripped before the lookup
	mode, ok = c.SessionControl(ecudiag.NewRequest(ServiceDiagnosticSessionControl, []byte{0x83}, false))
	assert.True(t, ok)
	assert.Equal(t, SessionExtended, mode)

	mode, ok = c.SessionControl(ecudiag.NewRequest(ServiceDiagnosticSessionControl, []byte{0x60}, true))
	assert.True(t, ok)
	assert.Equal(t, byte(0x60), mode.ID)
	assert.True(t, mode.TesterPresent)

	_, ok = c.SessionControl(ecudiag.NewRequest(ServiceTesterPresent, []byte{0x00}, true))
	assert.False(t, ok)

	_, ok = c.SessionControl(ecudiag.NewRequest(ServiceDiagnosticSessionControl, nil, true))
	assert.False(t, ok)
}

func TestTesterPresent(t *testing.T) {
	c := NewCodec()

	req := c.TesterPresent(true)
	assert.Equal(t, []byte{ServiceTesterPresent, 0x00}, req.Bytes())
	assert.True(t, req.Respond)

	req = c.TesterPresent(false)
	assert.Equal(t, []byte{ServiceTesterPresent, suppressReply}, req.Bytes())
	assert.False(t, req.Respond)
}

func TestSessionEnter(t *testing.T) {
	c := NewCodec()

	req, err := c.SessionEnter(SessionProgramming)
	require.NoError(t, err)
	assert.Equal(t, []byte{ServiceDiagnosticSessionControl, 0x02}, req.Bytes())
	assert.True(t, req.Respond)

	_, err = c.SessionEnter(ecudiag.SessionMode{})
	assert.ErrorIs(t, err, ecudiag.ErrInvalidParameter)
}

func TestProcessResponse(t *testing.T) {
	c := NewCodec()
	req := ecudiag.NewRequest(ServiceReadDataByIdentifier, []byte{0xF1, 0x90}, true)

	resp, err := c.ProcessResponse(req, []byte{0x62, 0xF1, 0x90, 0x57})
	require.NoError(t, err)
	assert.Equal(t, byte(ServiceReadDataByIdentifier), resp.Service)
	assert.Equal(t, []byte{0xF1, 0x90, 0x57}, resp.Data)

	_, err = c.ProcessResponse(req, []byte{0x7F, 0x22, 0x31})
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x31), ecuErr.Code)
	assert.Equal(t, "request out of range", ecuErr.Desc)

	_, err = c.ProcessResponse(req, []byte{0x50, 0x03})
	assert.ErrorIs(t, err, ecudiag.ErrWrongMessage)

	_, err = c.ProcessResponse(req, []byte{0x7F, 0x22})
	assert.ErrorIs(t, err, ecudiag.ErrInvalidResponseLength)

	_, err = c.ProcessResponse(req, nil)
	assert.ErrorIs(t, err, ecudiag.ErrEmptyResponse)
}

func TestNRCClassification(t *testing.T) {
	assert.True(t, NRC(0x21).Busy())
	assert.True(t, NRC(0x78).Pending())
	assert.True(t, NRC(0x7F).WrongSession())
	assert.False(t, NRC(0x7E).WrongSession())

	assert.Equal(t, "security access denied", NRC(0x33).Desc())
	assert.Equal(t, "voltage too low", NRC(0x93).Desc())
	assert.Equal(t, "reserved for specific conditions not correct", NRC(0xA0).Desc())
	assert.Equal(t, "ISO/SAE reserved", NRC(0x00).Desc())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "ReadDataByIdentifier", ServiceName(ServiceReadDataByIdentifier))
	assert.Equal(t, "0xBA", ServiceName(0xBA))

	assert.Equal(t, "VIN", DIDName(DIDVIN))
	assert.Equal(t, "ECUSerialNumber", DIDName(DIDECUSerialNumber))
	assert.Equal(t, "0x1234", DIDName(0x1234))
}

func newTestClient(t *testing.T, opts ...ecusim.Option) (*Client, *ecusim.ECU) {
	t.Helper()
	ecu := ecusim.New(opts...)
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
	cli, _ := newTestClient(t,
		ecusim.WithDID(DIDActiveDiagnosticSession, []byte{0x01}),
		ecusim.WithDID(DIDECUSerialNumber, []byte("1337A420")),
	)

	vin, err := cli.VIN()
	require.NoError(t, err)
	assert.Equal(t, "W0L000051T2123456", vin)

	session, err := cli.ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), session)

	serial, err := cli.ReadDataByIdentifier(DIDECUSerialNumber)
	require.NoError(t, err)
	assert.Equal(t, "1337A420", string(serial))

	_, err = cli.ReadDataByIdentifier(DIDSystemName)
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x31), ecuErr.Code)
}

func TestClientVINLength(t *testing.T) {
	cli, _ := newTestClient(t, ecusim.WithVIN("TOOSHORT"))

	_, err := cli.VIN()
	assert.ErrorIs(t, err, ecudiag.ErrInvalidResponseLength)
}

func TestClientDTCs(t *testing.T) {
	cli, _ := newTestClient(t,
		ecusim.WithDTCs(
			ecusim.StoredDTC{Raw: 0x01221F, Status: 0x2F},
			ecusim.StoredDTC{Raw: 0xC07300, Status: 0x88},
		),
	)

	avail, format, count, err := cli.NumberOfDTCs(0xFF)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), avail)
	assert.Equal(t, dtc.FormatISO14229, format)
	assert.Equal(t, uint16(2), count)

	codes, err := cli.ReadDTCs(0xFF)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "P0122-1F", codes[0].Code())
	assert.Equal(t, dtc.StatusStored, codes[0].Status)
	assert.False(t, codes[0].MILOn)
	assert.Equal(t, "U0073-00", codes[1].Code())
	assert.True(t, codes[1].MILOn)

	supported, err := cli.SupportedDTCs()
	require.NoError(t, err)
	assert.Len(t, supported, 2)

	require.NoError(t, cli.ClearDTCs(ClearAllDTCs))
	codes, err = cli.ReadDTCs(0xFF)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestClientMemory(t *testing.T) {
	img := make([]byte, 256)
	for i := range img {
		img[i] = byte(i)
	}
	cli, _ := newTestClient(t, ecusim.WithMemory(0x4000, img))

	data, err := cli.ReadMemoryByAddress(0x4010, 16)
	require.NoError(t, err)
	assert.Equal(t, img[0x10:0x20], data)

	// large enough to come back segmented
	data, err = cli.ReadMemoryByAddress(0x4000, 200)
	require.NoError(t, err)
	assert.Equal(t, img[:200], data)

	_, err = cli.ReadMemoryByAddress(0x4000, 512)
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x31), ecuErr.Code)
}

func TestClientSessionBoundServices(t *testing.T) {
	cli, ecu := newTestClient(t)

	// identifier writes need a non default session
	err := cli.WriteDataByIdentifier(0x0102, []byte{0xAA, 0xBB})
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x7F), ecuErr.Code)

	require.NoError(t, cli.EnterExtendedSession())
	assert.Equal(t, byte(0x03), ecu.Session())

	require.NoError(t, cli.WriteDataByIdentifier(0x0102, []byte{0xAA, 0xBB}))
	data, err := cli.ReadDataByIdentifier(0x0102)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, data)

	seed, err := cli.RequestSeed()
	require.NoError(t, err)
	require.Len(t, seed, 2)

	err = cli.SendKey([]byte{0x00, 0x00})
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x35), ecuErr.Code)

	require.NoError(t, cli.SendKey([]byte{^seed[0], ^seed[1]}))

	result, err := cli.StartRoutineByID(0x0203, 0x01)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, result)
}

func TestClientECUReset(t *testing.T) {
	cli, ecu := newTestClient(t)

	require.NoError(t, cli.EnterExtendedSession())
	assert.Equal(t, byte(0x03), ecu.Session())

	// any reset drops the ECU back into its power-on session
	require.NoError(t, cli.ECUReset(HardReset))
	assert.Equal(t, byte(0x01), ecu.Session())

	downtime, err := cli.EnableRapidPowerShutdown()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, downtime)
}

package ecusim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/isotp"
	"github.com/roffe/ecudiag/pkg/uds"
)

func TestSimAdapterRegistered(t *testing.T) {
	info, found := ecudiag.GetAdapterInfo("Sim")
	require.True(t, found)
	assert.False(t, info.RequiresSerialPort)
	assert.True(t, info.Capabilities.CAN)
}

func TestSimAdapterConfig(t *testing.T) {
	_, err := NewSimAdapter(&ecudiag.AdapterConfig{
		AdditionalConfig: map[string]string{"dialect": "canopen"},
	})
	assert.ErrorIs(t, err, ecudiag.ErrInvalidParameter)

	_, err = NewSimAdapter(&ecudiag.AdapterConfig{
		AdditionalConfig: map[string]string{"rx": "not-an-id"},
	})
	assert.ErrorIs(t, err, ecudiag.ErrInvalidParameter)
}

// simStack brings up a diagnostic server over the registered adapter, so
// requests really cross the bus frame by frame.
func simStack(t *testing.T, extra map[string]string) (*ecudiag.Server, *ECU) {
	t.Helper()
	adapter, err := ecudiag.NewAdapter("Sim", &ecudiag.AdapterConfig{
		AdditionalConfig: extra,
	})
	require.NoError(t, err)
	sa, ok := adapter.(*SimAdapter)
	require.True(t, ok)

	tp, err := isotp.New(adapter)
	require.NoError(t, err)

	srv, err := ecudiag.NewServer(uds.NewCodec(), tp, ecudiag.DiagServerOptions{
		SendID:       defaultSimRx,
		RecvID:       defaultSimTx,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv, sa.ECU()
}

func TestSimAdapterExchange(t *testing.T) {
	srv, _ := simStack(t, map[string]string{"vin": "WDB2110261A123456"})

	// the 20 byte answer comes back segmented
	data, err := uds.NewClient(srv).ReadDataByIdentifier(0xF190)
	require.NoError(t, err)
	assert.Equal(t, "WDB2110261A123456", string(data))
}

func TestSimAdapterPreloadedDTCs(t *testing.T) {
	srv, ecu := simStack(t, nil)

	resp, err := srv.ExecuteCommand(0x19, 0x02, 0xFF)
	require.NoError(t, err)
	// sub function, availability mask and two 4 byte records
	require.Len(t, resp.Data, 10)
	assert.Equal(t, []byte{0x01, 0x22, 0x1F, 0x2F}, resp.Data[2:6])

	_, err = srv.ExecuteCommand(0x14, 0xFF, 0xFF, 0xFF)
	require.NoError(t, err)
	resp, err = srv.ExecuteCommand(0x19, 0x02, 0xFF)
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, 3, ecu.RequestCount())
}

func TestSimAdapterDelayedReply(t *testing.T) {
	srv, ecu := simStack(t, nil)

	ecu.RespondPendingFor(300 * time.Millisecond)
	start := time.Now()
	resp, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, byte(0x22), resp.Service)
}

func TestSimAdapterKWPDialect(t *testing.T) {
	adapter, err := ecudiag.NewAdapter("Sim", &ecudiag.AdapterConfig{
		AdditionalConfig: map[string]string{"dialect": "kwp2000"},
	})
	require.NoError(t, err)
	sa := adapter.(*SimAdapter)
	assert.Equal(t, byte(0x81), sa.ECU().Session())
	require.NoError(t, adapter.Close())
}

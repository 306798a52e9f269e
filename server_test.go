package ecudiag_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/ecusim"
	"github.com/roffe/ecudiag/pkg/uds"
)

const testVIN = "W0L000051T2123456"

func newTestServer(t *testing.T, ecu *ecusim.ECU, mod func(*ecudiag.DiagServerOptions)) *ecudiag.Server {
	t.Helper()
	opts := ecudiag.DiagServerOptions{
		SendID:       0x7E0,
		RecvID:       0x7E8,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	if mod != nil {
		mod(&opts)
	}
	srv, err := ecudiag.NewServer(uds.NewCodec(), ecu.Channel(), opts)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestNewServerValidation(t *testing.T) {
	ch := ecusim.New().Channel()
	opts := ecudiag.DiagServerOptions{SendID: 0x7E0, RecvID: 0x7E8}

	_, err := ecudiag.NewServer(nil, ch, opts)
	assert.ErrorIs(t, err, ecudiag.ErrInvalidParameter)

	_, err = ecudiag.NewServer(uds.NewCodec(), nil, opts)
	assert.ErrorIs(t, err, ecudiag.ErrInvalidParameter)

	_, err = ecudiag.NewServer(uds.NewCodec(), ch, ecudiag.DiagServerOptions{SendID: 0x7E0})
	assert.ErrorIs(t, err, ecudiag.ErrInvalidParameter)
}

func TestServerLifecycle(t *testing.T) {
	srv, err := ecudiag.NewServer(uds.NewCodec(), ecusim.New().Channel(), ecudiag.DiagServerOptions{
		SendID: 0x7E0,
		RecvID: 0x7E8,
	})
	require.NoError(t, err)
	assert.Equal(t, ecudiag.StateStopped, srv.State())

	_, err = srv.ExecuteCommand(0x3E, 0x00)
	assert.ErrorIs(t, err, ecudiag.ErrServerNotRunning)

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, ecudiag.StateRunning, srv.State())
	assert.Equal(t, "UDS", srv.Protocol().Name())
	assert.ErrorIs(t, srv.Start(context.Background()), ecudiag.ErrServerRunning)

	require.NoError(t, srv.Stop())
	assert.Equal(t, ecudiag.StateStopped, srv.State())
	require.NoError(t, srv.Stop())

	_, err = srv.ExecuteCommand(0x3E, 0x00)
	assert.ErrorIs(t, err, ecudiag.ErrServerNotRunning)
}

func TestServerExchange(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, nil)

	resp, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.Equal(t, byte(0x22), resp.Service)
	assert.Equal(t, testVIN, string(resp.Data[2:]))
	assert.True(t, srv.Connected())

	// suppressed tester present goes out without reading anything back
	require.NoError(t, srv.ExecuteCommandNoResponse(0x3E, 0x80))

	_, err = srv.ExecuteCommand(0xBA)
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x11), ecuErr.Code)
	assert.Equal(t, byte(0x11), srv.GetLastErrorCode())

	assert.Equal(t, 3, ecu.RequestCount())
}

func TestServerEvents(t *testing.T) {
	srv := newTestServer(t, ecusim.New(), nil)

	select {
	case evt := <-srv.Events():
		assert.Equal(t, ecudiag.EventTypeInfo, evt.Type)
		assert.Contains(t, evt.Details, "running")
	case <-time.After(time.Second):
		t.Fatal("no start event")
	}
}

func TestServerHooks(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, nil)

	assert.ErrorIs(t, srv.OnRequestSent(nil), ecudiag.ErrInvalidParameter)
	assert.ErrorIs(t, srv.OnPending(nil), ecudiag.ErrInvalidParameter)

	var sent atomic.Int32
	var lastService atomic.Int32
	require.NoError(t, srv.OnRequestSent(func(req *ecudiag.Request) {
		sent.Add(1)
		lastService.Store(int32(req.Service))
	}))
	assert.ErrorIs(t, srv.OnRequestSent(func(*ecudiag.Request) {}), ecudiag.ErrCallbackExists)

	var pending atomic.Int32
	require.NoError(t, srv.OnPending(func() { pending.Add(1) }))
	assert.ErrorIs(t, srv.OnPending(func() {}), ecudiag.ErrCallbackExists)

	_, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.Equal(t, int32(1), sent.Load())
	assert.Equal(t, int32(0x22), lastService.Load())

	ecu.RespondPendingFor(200 * time.Millisecond)
	_, err = srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pending.Load(), int32(1))
	assert.Equal(t, int32(2), sent.Load())
}

func TestServerBusyRepeat(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, nil)

	ecu.RespondBusyTimes(2)
	resp, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.Equal(t, testVIN, string(resp.Data[2:]))
	assert.Equal(t, 3, ecu.RequestCount())
}

func TestServerBusyExhausted(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, nil)

	ecu.RespondBusyTimes(5)
	_, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x21), ecuErr.Code)
	assert.Equal(t, byte(0x21), srv.GetLastErrorCode())
	// the initial write plus three repeats
	assert.Equal(t, 4, ecu.RequestCount())
}

func TestServerSessionRecovery(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, nil)

	_, err := srv.EnterSession(uds.SessionExtended)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), srv.CurrentSession().ID)

	_, err = srv.ExecuteCommand(0x2E, 0x10, 0x20, 0xAB)
	require.NoError(t, err)

	// the ECU silently falls back, the next request is rejected and the
	// server re-enters the recorded session and retries it
	ecu.DropSession()
	_, err = srv.ExecuteCommand(0x2E, 0x10, 0x20, 0xCD)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), ecu.Session())
	assert.Equal(t, byte(0x03), srv.CurrentSession().ID)
	assert.Equal(t, 2, ecu.SessionControlCount())

	resp, err := srv.ExecuteCommand(0x22, 0x10, 0x20)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCD}, resp.Data[2:])
}

func TestServerNoRecoveryFromBasicSession(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, nil)

	// never entered a session, the rejection surfaces untouched
	_, err := srv.ExecuteCommand(0x2E, 0x10, 0x20, 0xAB)
	var ecuErr *ecudiag.ECUError
	require.ErrorAs(t, err, &ecuErr)
	assert.Equal(t, byte(0x7F), ecuErr.Code)
	assert.Zero(t, ecu.SessionControlCount())
	assert.Equal(t, 1, ecu.RequestCount())
}

func TestServerMaxArgumentSize(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, nil)

	args := make([]byte, ecudiag.MaxArgumentSize)
	args[0], args[1] = 0xF1, 0x90
	resp, err := srv.ExecuteCommand(0x22, args...)
	require.NoError(t, err)
	assert.Equal(t, testVIN, string(resp.Data[2:]))
	assert.Equal(t, 1, ecu.RequestCount())

	_, err = srv.ExecuteCommand(0x22, make([]byte, ecudiag.MaxArgumentSize+1)...)
	assert.ErrorIs(t, err, ecudiag.ErrInvalidParameter)
	assert.Equal(t, 1, ecu.RequestCount())
}

func TestServerKeepAliveConfigured(t *testing.T) {
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, func(opts *ecudiag.DiagServerOptions) {
		opts.TesterPresentInterval = 100 * time.Millisecond
	})

	time.Sleep(450 * time.Millisecond)
	assert.GreaterOrEqual(t, ecu.TesterPresentCount(), 3)
	stats := srv.KeepAliveStats()
	assert.GreaterOrEqual(t, stats.Sent, uint64(3))
	assert.Zero(t, stats.Failed)

	// a foreground exchange holds the wire, ticks are skipped instead of
	// queueing behind it
	ecu.RespondPendingFor(500 * time.Millisecond)
	_, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, srv.KeepAliveStats().Skipped, uint64(1))
}

func TestServerKeepAliveSessionArmed(t *testing.T) {
	if testing.Short() {
		t.Skip("session keep-alive scenario needs several seconds")
	}
	ecu := ecusim.New(ecusim.WithSessionTTL(2500 * time.Millisecond))
	srv := newTestServer(t, ecu, nil)

	_, err := srv.EnterSession(uds.SessionExtended)
	require.NoError(t, err)

	// two keep-alive ticks at the default interval keep the 2.5s session
	// alive well past its TTL
	time.Sleep(4300 * time.Millisecond)
	assert.Equal(t, byte(0x03), ecu.Session())
	assert.GreaterOrEqual(t, ecu.TesterPresentCount(), 2)
	assert.GreaterOrEqual(t, srv.KeepAliveStats().Sent, uint64(2))

	// leaving the session parks the task again
	_, err = srv.EnterSession(uds.SessionDefault)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), ecu.Session())
	assert.Zero(t, srv.KeepAliveStats().Sent)
}

func TestServerWrongEcho(t *testing.T) {
	// answers with the echo of a different service
	rogue := func(_ *ecusim.ECU, req []byte) []ecusim.Reply {
		return []ecusim.Reply{{Data: []byte{0xD9, 0x00}}}
	}
	ecu := ecusim.New(ecusim.WithHandler(0x22, rogue))
	srv := newTestServer(t, ecu, nil)

	_, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	assert.ErrorIs(t, err, ecudiag.ErrWrongMessage)
}

func TestServerTesterPresentScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("tester present scenario needs several seconds")
	}
	ecu := ecusim.New()
	srv := newTestServer(t, ecu, func(opts *ecudiag.DiagServerOptions) {
		opts.GlobalTPID = 0x7E0
		opts.TesterPresentInterval = 2500 * time.Millisecond
	})

	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		if ecu.TesterPresentCount() >= 2 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, ecu.TesterPresentCount(), 2)
	assert.GreaterOrEqual(t, srv.KeepAliveStats().Sent, uint64(2))
}

func TestServerConnectedStreak(t *testing.T) {
	silent := func(*ecusim.ECU, []byte) []ecusim.Reply { return nil }
	ecu := ecusim.New(ecusim.WithHandler(0xBB, silent))
	srv := newTestServer(t, ecu, func(opts *ecudiag.DiagServerOptions) {
		opts.ReadTimeout = 100 * time.Millisecond
	})

	_, err := srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.True(t, srv.Connected())

	for i := 0; i < 3; i++ {
		_, err = srv.ExecuteCommand(0xBB)
		assert.ErrorIs(t, err, ecudiag.ErrTimeout)
	}
	assert.False(t, srv.Connected())

	_, err = srv.ExecuteCommand(0x22, 0xF1, 0x90)
	require.NoError(t, err)
	assert.True(t, srv.Connected())
}

package ecudiag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type ServerState int32

const (
	StateStopped ServerState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s ServerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	DefaultReadTimeout           = 1500 * time.Millisecond
	DefaultWriteTimeout          = 1500 * time.Millisecond
	DefaultTesterPresentInterval = 2000 * time.Millisecond

	negativeResponseID = 0x7F

	busyRepeatDelay     = 500 * time.Millisecond
	busyRepeatLimit     = 3
	pendingWindow       = 2000 * time.Millisecond
	pendingPollInterval = 50 * time.Millisecond

	// consecutive wire timeouts before the server considers the ECU gone
	timeoutStreakLimit = 3
)

// DiagServerOptions configures a diagnostic server.
type DiagServerOptions struct {
	// SendID is the identifier the ECU listens on.
	SendID uint32
	// RecvID is the identifier the ECU answers from.
	RecvID uint32
	// ReadTimeout and WriteTimeout bound every wire operation. Zero picks
	// the defaults of 1500ms.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// GlobalTPID is an optional address tester present messages are sent
	// to. 0 sends them to SendID.
	GlobalTPID uint32
	// TesterPresentInterval arms the keep-alive task from start when over
	// zero. Entering a session that needs keep-alive arms it regardless,
	// at the default interval of 2000ms.
	TesterPresentInterval        time.Duration
	TesterPresentRequireResponse bool
	// IsoTP overrides the transport settings applied to the channel on
	// start. nil applies DefaultIsoTPSettings.
	IsoTP *IsoTPSettings
	// Logger receives server logging. nil uses the logrus standard logger.
	Logger *logrus.Logger
}

// Server is the single authoritative path between callers and one ECU. It
// owns an ISO-TP channel and a protocol codec picked at construction and
// serializes all wire traffic, including the keep-alive task, behind one
// lock.
type Server struct {
	proto Protocol
	ch    IsoTPChannel
	opts  DiagServerOptions
	log   *logrus.Logger

	state  atomic.Int32
	wireMu sync.Mutex

	mu            sync.RWMutex
	session       SessionMode
	lastNRC       byte
	connected     bool
	timeoutStreak int

	cbMu      sync.Mutex
	sentCb    func(*Request)
	pendingCb func()

	ka      *keepAlive
	evtChan chan Event
}

func NewServer(proto Protocol, ch IsoTPChannel, opts DiagServerOptions) (*Server, error) {
	if proto == nil {
		return nil, fmt.Errorf("nil protocol: %w", ErrInvalidParameter)
	}
	if ch == nil {
		return nil, fmt.Errorf("nil channel: %w", ErrInvalidParameter)
	}
	if opts.SendID == 0 || opts.RecvID == 0 {
		return nil, fmt.Errorf("send and receive ids must be set: %w", ErrInvalidParameter)
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	srv := &Server{
		proto:   proto,
		ch:      ch,
		opts:    opts,
		log:     opts.Logger,
		session: proto.BasicSessionMode(),
		evtChan: make(chan Event, 100),
	}
	return srv, nil
}

// Start configures and opens the channel and transitions to running. No
// diagnostic traffic is sent, the ECU is assumed to be in its basic
// session.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrServerRunning
	}
	cfg := DefaultIsoTPSettings()
	if s.opts.IsoTP != nil {
		cfg = *s.opts.IsoTP
	}
	if err := s.ch.SetIsoTPConfig(cfg); err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to configure channel: %w", err)
	}
	if err := s.ch.SetIDs(s.opts.SendID, s.opts.RecvID); err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to set channel ids: %w", err)
	}
	if err := s.ch.Open(ctx); err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to open channel: %w", err)
	}

	s.mu.Lock()
	s.session = s.proto.BasicSessionMode()
	s.connected = true
	s.timeoutStreak = 0
	s.mu.Unlock()

	if s.opts.TesterPresentInterval > 0 || s.opts.GlobalTPID != 0 {
		interval := s.opts.TesterPresentInterval
		if interval == 0 {
			interval = DefaultTesterPresentInterval
		}
		s.mu.Lock()
		s.ka = newKeepAlive(s, interval, true)
		s.ka.start()
		s.mu.Unlock()
	}

	s.state.Store(int32(StateRunning))
	s.emit(EventTypeInfo, fmt.Sprintf("%s server running, ECU 0x%03X/0x%03X", s.proto.Name(), s.opts.SendID, s.opts.RecvID))
	s.log.Debugf("[SERVER] %s running send=0x%03X recv=0x%03X", s.proto.Name(), s.opts.SendID, s.opts.RecvID)
	return nil
}

// Stop halts the keep-alive task, waits for any exchange in flight and
// closes the channel. Safe to call more than once.
func (s *Server) Stop() error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	s.mu.Lock()
	if s.ka != nil {
		s.ka.stop()
		s.ka = nil
	}
	s.mu.Unlock()
	s.wireMu.Lock()
	err := s.ch.Close()
	s.state.Store(int32(StateStopped))
	s.wireMu.Unlock()
	s.emit(EventTypeInfo, "server stopped")
	return err
}

// State returns the current lifecycle state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Protocol returns the dialect codec the server was built with.
func (s *Server) Protocol() Protocol {
	return s.proto
}

// Connected reports whether the ECU answered recently. Cleared after
// repeated wire timeouts, set again by any successful exchange including a
// keep-alive reply.
func (s *Server) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// CurrentSession returns the session recorded from the last successful
// session control exchange.
func (s *Server) CurrentSession() SessionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// GetLastErrorCode returns the NRC byte of the most recent negative
// response, zero if none occurred yet.
func (s *Server) GetLastErrorCode() byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastNRC
}

// Events returns the server event stream.
func (s *Server) Events() <-chan Event {
	return s.evtChan
}

// OnRequestSent registers a hook fired when a request write has completed,
// before any response is awaited. Only one hook can be registered.
func (s *Server) OnRequestSent(fn func(*Request)) error {
	if fn == nil {
		return fmt.Errorf("nil callback: %w", ErrInvalidParameter)
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.sentCb != nil {
		return ErrCallbackExists
	}
	s.sentCb = fn
	return nil
}

// OnPending registers a hook fired each time the ECU answers that the
// request was accepted and the response is still being worked on. Only one
// hook can be registered.
func (s *Server) OnPending(fn func()) error {
	if fn == nil {
		return fmt.Errorf("nil callback: %w", ErrInvalidParameter)
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.pendingCb != nil {
		return ErrCallbackExists
	}
	s.pendingCb = fn
	return nil
}

// ExecuteCommand sends one service with arguments and returns the decoded
// response.
func (s *Server) ExecuteCommand(service byte, args ...byte) (*Response, error) {
	return s.Execute(NewRequest(service, args, true))
}

// ExecuteCommandNoResponse sends one service with arguments without
// reading anything back.
func (s *Server) ExecuteCommandNoResponse(service byte, args ...byte) error {
	_, err := s.Execute(NewRequest(service, args, false))
	return err
}

// EnterSession switches the ECU into mode and records it on success.
func (s *Server) EnterSession(mode SessionMode) (*Response, error) {
	req, err := s.proto.SessionEnter(mode)
	if err != nil {
		return nil, err
	}
	return s.Execute(req)
}

// Execute performs one full request/response cycle under the wire lock.
// Busy-repeat and response-pending answers are handled internally, other
// negative responses surface as *ECUError with the NRC retained for
// GetLastErrorCode. When the ECU reports the active session was lost the
// server re-enters the recorded session and retries the request, once.
func (s *Server) Execute(req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request: %w", ErrInvalidParameter)
	}
	if len(req.Args) > MaxArgumentSize {
		return nil, fmt.Errorf("argument size %d over limit %d: %w", len(req.Args), MaxArgumentSize, ErrInvalidParameter)
	}
	if s.State() != StateRunning {
		return nil, ErrServerNotRunning
	}
	s.wireMu.Lock()
	defer s.wireMu.Unlock()
	if s.State() != StateRunning {
		return nil, ErrServerNotRunning
	}

	resp, err := s.exchange(s.opts.SendID, req, true)
	if err != nil {
		if resp2, ok := s.recoverSession(req, err); ok {
			return resp2, nil
		}
		return nil, err
	}
	s.recordSession(req)
	return resp, nil
}

// recoverSession performs the single automatic session re-establishment
// after the ECU rejected a request because it silently fell back to its
// basic session. Returns the retried response and true when recovery made
// the original request succeed.
func (s *Server) recoverSession(req *Request, cause error) (*Response, bool) {
	var ecuErr *ECUError
	if !errors.As(cause, &ecuErr) {
		return nil, false
	}
	if !s.proto.DecodeNRC(ecuErr.Code).WrongSession() {
		return nil, false
	}
	if _, isSessionCtl := s.proto.SessionControl(req); isSessionCtl {
		return nil, false
	}
	mode := s.CurrentSession()
	if mode.ID == s.proto.BasicSessionMode().ID {
		return nil, false
	}

	s.log.Warnf("[SERVER] session %s lost, re-entering", mode)
	s.emit(EventTypeWarning, fmt.Sprintf("session %s lost, re-entering", mode))

	s.mu.Lock()
	s.session = s.proto.BasicSessionMode()
	s.mu.Unlock()

	enterReq, err := s.proto.SessionEnter(mode)
	if err != nil {
		return nil, false
	}
	if _, err := s.exchange(s.opts.SendID, enterReq, false); err != nil {
		s.log.Errorf("[SERVER] session re-entry failed: %v", err)
		return nil, false
	}
	s.mu.Lock()
	s.session = mode
	s.mu.Unlock()

	resp, err := s.exchange(s.opts.SendID, req, false)
	if err != nil {
		s.log.Errorf("[SERVER] retry after session re-entry failed: %v", err)
		return nil, false
	}
	return resp, true
}

// recordSession updates the tracked session when req was a session control
// command, and arms or parks the keep-alive task to match the new mode.
func (s *Server) recordSession(req *Request) {
	mode, ok := s.proto.SessionControl(req)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = mode
	s.log.Debugf("[SERVER] session now %s", mode)

	if s.State() != StateRunning {
		return
	}
	if mode.TesterPresent && s.ka == nil {
		s.ka = newKeepAlive(s, DefaultTesterPresentInterval, false)
		s.ka.start()
		return
	}
	if s.ka != nil && !s.ka.configured && !mode.TesterPresent {
		s.ka.stop()
		s.ka = nil
	}
}

// exchange runs one request/response cycle on the wire. The caller must
// hold the wire lock. fireHooks is false for internal traffic like session
// re-entry.
func (s *Server) exchange(addr uint32, req *Request, fireHooks bool) (*Response, error) {
	if err := s.ch.ClearTx(); err != nil {
		return nil, err
	}
	if err := s.ch.ClearRx(); err != nil {
		return nil, err
	}
	if err := s.ch.WriteBytes(addr, req.Bytes(), s.opts.WriteTimeout); err != nil {
		s.noteFailure(err)
		return nil, err
	}
	if fireHooks {
		s.fireSent(req)
	}
	if !req.Respond {
		return nil, nil
	}

	raw, err := s.ch.ReadBytes(s.opts.ReadTimeout)
	if err != nil {
		s.noteFailure(err)
		return nil, err
	}

	busyRetries := 0
	for {
		if len(raw) == 0 {
			return nil, ErrEmptyResponse
		}
		if raw[0] != negativeResponseID || len(raw) < 3 {
			break
		}
		nrc := s.proto.DecodeNRC(raw[2])
		if nrc.Busy() && busyRetries < busyRepeatLimit {
			busyRetries++
			s.log.Warnf("[SERVER] ECU busy, repeating request in %s (%d/%d)", busyRepeatDelay, busyRetries, busyRepeatLimit)
			time.Sleep(busyRepeatDelay)
			if err := s.ch.ClearRx(); err != nil {
				return nil, err
			}
			if err := s.ch.WriteBytes(addr, req.Bytes(), s.opts.WriteTimeout); err != nil {
				s.noteFailure(err)
				return nil, err
			}
			raw, err = s.ch.ReadBytes(s.opts.ReadTimeout)
			if err != nil {
				s.noteFailure(err)
				return nil, err
			}
			continue
		}
		if nrc.Pending() {
			s.log.Debugf("[SERVER] ECU processing, waiting up to %s for the real response", pendingWindow)
			if fireHooks {
				s.firePending()
			}
			next, ok := s.awaitPending()
			if !ok {
				s.recordNRC(raw[2])
				return nil, &ECUError{Service: req.Service, Code: raw[2], Desc: nrc.Desc()}
			}
			raw = next
			continue
		}
		break
	}

	resp, err := s.proto.ProcessResponse(req, raw)
	if err != nil {
		var ecuErr *ECUError
		if errors.As(err, &ecuErr) {
			s.recordNRC(ecuErr.Code)
		}
		return nil, err
	}
	s.noteSuccess()
	return resp, nil
}

// awaitPending polls for the follow-up response after a response-pending
// answer. Returns false when the window closes without one.
func (s *Server) awaitPending() ([]byte, bool) {
	deadline := time.Now().Add(pendingWindow)
	for time.Now().Before(deadline) {
		raw, err := s.ch.ReadBytes(s.opts.ReadTimeout)
		if err == nil {
			return raw, true
		}
		time.Sleep(pendingPollInterval)
	}
	return nil, false
}

func (s *Server) fireSent(req *Request) {
	s.cbMu.Lock()
	fn := s.sentCb
	s.cbMu.Unlock()
	if fn != nil {
		fn(req)
	}
}

func (s *Server) firePending() {
	s.cbMu.Lock()
	fn := s.pendingCb
	s.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Server) recordNRC(code byte) {
	s.mu.Lock()
	s.lastNRC = code
	s.mu.Unlock()
}

// noteFailure tracks wire timeouts, repeated ones clear the connected
// flag.
func (s *Server) noteFailure(err error) {
	if !errors.Is(err, ErrTimeout) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutStreak++
	if s.timeoutStreak >= timeoutStreakLimit && s.connected {
		s.connected = false
		s.log.Warnf("[SERVER] ECU stopped answering after %d timeouts", s.timeoutStreak)
	}
}

func (s *Server) noteSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutStreak = 0
	if !s.connected {
		s.log.Infof("[SERVER] ECU answering again")
	}
	s.connected = true
}

func (s *Server) emit(eventType EventType, details string) {
	select {
	case s.evtChan <- Event{Type: eventType, Details: details}:
	default:
	}
}

// Package ecusim provides a scriptable ECU double. A simulated ECU
// answers raw diagnostic payloads with the vocabulary of one dialect,
// tracks its active session with a real timeout and can be told to
// misbehave (busy answers, response pending, dropped sessions). It
// backs the "sim" adapter and most of the test suite.
package ecusim

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"

	"github.com/roffe/ecudiag"
)

const sessionKey = "session"

// Reply is one raw response payload. Delay postpones its delivery, the
// zero value is sent immediately.
type Reply struct {
	Data  []byte
	Delay time.Duration
}

// Handler answers one request payload. Returning nil means the ECU
// stays silent.
type Handler func(e *ECU, req []byte) []Reply

// ECU is a simulated control unit. All state is behind one mutex, the
// session TTL cache keeps its own.
type ECU struct {
	log *logrus.Logger

	mu       sync.Mutex
	handlers map[byte]Handler

	defaultSession byte
	sessionTTL     time.Duration
	sessions       *ttlcache.Cache[string, byte]

	dids        map[uint16][]byte
	localIdents map[byte][]byte
	identPages  map[byte][]byte
	vin         string
	dtcs        []StoredDTC
	mem         []byte
	memBase     uint32

	seed     []byte
	seedSent bool
	unlocked bool

	busyCode    byte
	pendingCode byte
	wrongCode   byte

	busyLeft     int
	pendingDelay time.Duration
	dropSession  bool

	testerPresents  int
	sessionControls int
	requests        int
}

// StoredDTC is one trouble code the simulated ECU reports.
type StoredDTC struct {
	// Raw code bytes, 3 for the UDS dialect, 2 for KWP and OBD2.
	Raw    uint32
	Status byte
}

// Option configures a simulated ECU.
type Option func(*ECU)

// WithLogger routes simulator logging to log.
func WithLogger(log *logrus.Logger) Option {
	return func(e *ECU) { e.log = log }
}

// WithSessionTTL sets how long a non-default session survives without
// tester present messages.
func WithSessionTTL(d time.Duration) Option {
	return func(e *ECU) { e.sessionTTL = d }
}

// WithVIN sets the vehicle identification number the ECU reports.
func WithVIN(vin string) Option {
	return func(e *ECU) { e.vin = vin }
}

// WithDID stores a data identifier record.
func WithDID(id uint16, data []byte) Option {
	return func(e *ECU) { e.dids[id] = append([]byte(nil), data...) }
}

// WithLocalIdent stores a record served by ReadDataByLocalIdentifier.
func WithLocalIdent(id byte, data []byte) Option {
	return func(e *ECU) { e.localIdents[id] = append([]byte(nil), data...) }
}

// WithIdentPage stores a raw ECU identification page.
func WithIdentPage(id byte, data []byte) Option {
	return func(e *ECU) { e.identPages[id] = append([]byte(nil), data...) }
}

// WithDTCs loads the trouble codes the ECU reports.
func WithDTCs(codes ...StoredDTC) Option {
	return func(e *ECU) { e.dtcs = append(e.dtcs, codes...) }
}

// WithMemory loads a memory image served by ReadMemoryByAddress,
// starting at base. Reads outside the image are rejected as out of
// range.
func WithMemory(base uint32, data []byte) Option {
	return func(e *ECU) {
		e.memBase = base
		e.mem = append([]byte(nil), data...)
	}
}

// WithSeed sets the security access seed. The expected key is each
// seed byte inverted.
func WithSeed(seed []byte) Option {
	return func(e *ECU) { e.seed = append([]byte(nil), seed...) }
}

// WithHandler installs or overrides the handler for one service id.
func WithHandler(sid byte, h Handler) Option {
	return func(e *ECU) { e.handlers[sid] = h }
}

// New creates a simulated ECU speaking UDS. Use NewKWP or NewOBD2 for
// the other dialects.
func New(opts ...Option) *ECU {
	return newECU(installUDS, opts)
}

// NewBench creates an ECU for the named dialect preloaded with bench
// content: two stored trouble codes and a 4KiB pattern image at address
// 0 so memory reads return something. Empty dialect means UDS.
func NewBench(dialect string, opts ...Option) (*ECU, error) {
	mem := make([]byte, 4096)
	for i := range mem {
		mem[i] = byte(i)
	}
	base := []Option{WithMemory(0, mem)}
	// the fault memory is cleared by the clear services
	switch strings.ToLower(dialect) {
	case "", "uds", "iso14229":
		base = append(base, WithDTCs(
			StoredDTC{Raw: 0x01221F, Status: 0x2F},
			StoredDTC{Raw: 0xC07300, Status: 0x08},
		))
		return New(append(base, opts...)...), nil
	case "kwp2000", "kwp", "iso14230":
		base = append(base, WithDTCs(
			StoredDTC{Raw: 0x2050, Status: 0xA4},
			StoredDTC{Raw: 0x1234, Status: 0x30},
		))
		return NewKWP(append(base, opts...)...), nil
	case "obd2", "obd", "j1979":
		base = append(base, WithDTCs(
			StoredDTC{Raw: 0x0122, Status: 0x00},
			StoredDTC{Raw: 0xE103, Status: 0x00},
		))
		return NewOBD2(append(base, opts...)...), nil
	default:
		return nil, fmt.Errorf("unknown dialect %q: %w", dialect, ecudiag.ErrInvalidParameter)
	}
}

// newECU builds the shared state, installs one dialect personality and
// applies the options before the session cache is created, so the TTL
// option takes effect.
func newECU(install func(*ECU), opts []Option) *ECU {
	e := &ECU{
		log:            logrus.StandardLogger(),
		handlers:       make(map[byte]Handler),
		defaultSession: 0x01,
		sessionTTL:     5 * time.Second,
		dids:           make(map[uint16][]byte),
		localIdents:    make(map[byte][]byte),
		identPages:     make(map[byte][]byte),
		vin:            "W0L000051T2123456",
		seed:           []byte{0x12, 0x34},
		busyCode:       0x21,
		pendingCode:    0x78,
		wrongCode:      0x7F,
	}
	install(e)
	for _, opt := range opts {
		opt(e)
	}
	e.sessions = ttlcache.New[string, byte](
		ttlcache.WithTTL[string, byte](e.sessionTTL),
	)
	return e
}

// RespondBusyTimes makes the ECU answer the next n requests with the
// busy-repeat-request code.
func (e *ECU) RespondBusyTimes(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busyLeft = n
}

// RespondPendingFor makes the ECU answer the next request with a
// response-pending code and deliver the real answer after d.
func (e *ECU) RespondPendingFor(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingDelay = d
}

// DropSession throws the ECU back into its default session, simulating
// a session timeout on the ECU side.
func (e *ECU) DropSession() {
	e.sessions.Delete(sessionKey)
}

// Session returns the active session id, falling back to the default
// session once the TTL ran out.
func (e *ECU) Session() byte {
	if item := e.sessions.Get(sessionKey); item != nil {
		return item.Value()
	}
	return e.defaultSession
}

// TesterPresentCount reports how many keep-alive messages arrived.
func (e *ECU) TesterPresentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.testerPresents
}

// SessionControlCount reports how many session switches arrived.
func (e *ECU) SessionControlCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionControls
}

// RequestCount reports the total number of requests handled.
func (e *ECU) RequestCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// Handle answers one raw request payload.
func (e *ECU) Handle(req []byte) []Reply {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(req) == 0 {
		return nil
	}
	sid := req[0]
	e.requests++

	if sid != 0x3E {
		if e.busyLeft > 0 {
			e.busyLeft--
			e.log.Debugf("[SIM] answering busy to 0x%02X, %d left", sid, e.busyLeft)
			return []Reply{{Data: e.negative(sid, e.busyCode)}}
		}
		if e.pendingDelay > 0 {
			d := e.pendingDelay
			e.pendingDelay = 0
			e.log.Debugf("[SIM] answering pending to 0x%02X, real response in %v", sid, d)
			replies := []Reply{{Data: e.negative(sid, e.pendingCode)}}
			for _, r := range e.dispatch(sid, req) {
				r.Delay += d
				replies = append(replies, r)
			}
			return replies
		}
	}
	return e.dispatch(sid, req)
}

func (e *ECU) dispatch(sid byte, req []byte) []Reply {
	if h, found := e.handlers[sid]; found {
		return h(e, req)
	}
	return []Reply{{Data: e.negative(sid, 0x11)}}
}

func (e *ECU) negative(sid, code byte) []byte {
	return []byte{0x7F, sid, code}
}

func (e *ECU) setSession(id byte) {
	e.sessionControls++
	if id == e.defaultSession {
		e.sessions.Delete(sessionKey)
		return
	}
	e.sessions.Set(sessionKey, id, ttlcache.DefaultTTL)
}

func (e *ECU) touchSession() {
	e.sessions.Touch(sessionKey)
}

// inDefaultSession reports whether the ECU fell back to, or still is
// in, its power-on session.
func (e *ECU) inDefaultSession() bool {
	return e.Session() == e.defaultSession
}

// readMemory serves size bytes at addr from the memory image. The
// second return is false when the window falls outside it.
func (e *ECU) readMemory(addr uint32, size int) ([]byte, bool) {
	if e.mem == nil || size <= 0 || addr < e.memBase {
		return nil, false
	}
	off := int(addr - e.memBase)
	if off+size > len(e.mem) {
		return nil, false
	}
	return e.mem[off : off+size], true
}

func positive(sid byte, data ...byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, sid+0x40)
	out = append(out, data...)
	return out
}

func single(data []byte) []Reply {
	if data == nil {
		return nil
	}
	return []Reply{{Data: data}}
}

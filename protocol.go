package ecudiag

import "fmt"

// SessionMode identifies one diagnostic session of a dialect.
type SessionMode struct {
	ID   byte
	Name string
	// TesterPresent reports whether keep-alive messages are needed to stay
	// in this mode.
	TesterPresent bool
}

func (s SessionMode) String() string {
	return fmt.Sprintf("%s (0x%02X)", s.Name, s.ID)
}

// Request is one diagnostic service invocation. Respond controls whether a
// response is read back after the write.
type Request struct {
	Service byte
	Args    []byte
	Respond bool
}

// NewRequest copies args, the caller keeps ownership of its slice.
func NewRequest(service byte, args []byte, respond bool) *Request {
	a := make([]byte, len(args))
	copy(a, args)
	return &Request{Service: service, Args: a, Respond: respond}
}

// Bytes returns the wire form, service id followed by the arguments.
func (r *Request) Bytes() []byte {
	out := make([]byte, 0, len(r.Args)+1)
	out = append(out, r.Service)
	out = append(out, r.Args...)
	return out
}

func (r *Request) String() string {
	return fmt.Sprintf("service 0x%02X args %X respond %v", r.Service, r.Args, r.Respond)
}

// Response is a decoded positive response. Service is the request service
// id, not the offset echo the ECU sent. Data holds everything after the
// echo byte.
type Response struct {
	Service byte
	Data    []byte
}

// NRC classifies one dialect negative response code.
type NRC interface {
	Code() byte
	Desc() string
	// Busy is the repeat-request code, the ECU wants the same request again
	// after a short delay.
	Busy() bool
	// Pending means the request was accepted and a real response follows.
	Pending() bool
	// WrongSession means the service is not available in the session the
	// ECU is currently in.
	WrongSession() bool
}

// Protocol is the per dialect codec. Implementations are pure byte
// mappings, they perform no I/O and carry no connection state.
type Protocol interface {
	Name() string
	// BasicSessionMode is the session the ECU boots into.
	BasicSessionMode() SessionMode
	// Sessions lists the modes the dialect defines.
	Sessions() []SessionMode
	// TesterPresent builds the dialect keep-alive request.
	TesterPresent(requireResponse bool) *Request
	// SessionEnter builds the session control request for mode. Dialects
	// without sessions return ErrNotSupported.
	SessionEnter(mode SessionMode) (*Request, error)
	// SessionControl reports whether req switches session and into which
	// mode.
	SessionControl(req *Request) (SessionMode, bool)
	// DecodeNRC interprets a raw negative response code.
	DecodeNRC(code byte) NRC
	// ProcessResponse validates raw against req. Negative responses come
	// back as *ECUError, mismatched echoes as ErrWrongMessage.
	ProcessResponse(req *Request, raw []byte) (*Response, error)
}

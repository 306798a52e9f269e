package ecudiag

import "errors"

// MaxArgumentSize is the largest request argument payload accepted by a
// diagnostic server. The service byte rides ahead of the arguments on the
// wire, so a maximum size request encodes to exactly one standard ISO-TP
// transfer of 4095 bytes. Requests over this size are rejected before
// anything is written to the wire.
const MaxArgumentSize = 4094

// ResultCode is the numeric status surface used by FFI bindings and
// external tooling. A non nil error never maps to OK.
type ResultCode uint8

const (
	OK                    ResultCode = 0
	NotSupported          ResultCode = 1
	EmptyResponse         ResultCode = 2
	WrongMessage          ResultCode = 3
	ServerNotRunning      ResultCode = 4
	InvalidResponseLength ResultCode = 5
	NoHandler             ResultCode = 6
	ServerAlreadyRunning  ResultCode = 7
	NoDiagnosticServer    ResultCode = 8
	ParameterInvalid      ResultCode = 9
	HardwareError         ResultCode = 10
	CallbackAlreadyExists ResultCode = 11
	ECUNegativeResponse   ResultCode = 98
	HandlerError          ResultCode = 99
)

func (r ResultCode) String() string {
	switch r {
	case OK:
		return "ok"
	case NotSupported:
		return "not supported"
	case EmptyResponse:
		return "empty response"
	case WrongMessage:
		return "wrong message"
	case ServerNotRunning:
		return "server not running"
	case InvalidResponseLength:
		return "invalid response length"
	case NoHandler:
		return "no handler"
	case ServerAlreadyRunning:
		return "server already running"
	case NoDiagnosticServer:
		return "no diagnostic server"
	case ParameterInvalid:
		return "parameter invalid"
	case HardwareError:
		return "hardware error"
	case CallbackAlreadyExists:
		return "callback already exists"
	case ECUNegativeResponse:
		return "ECU negative response"
	case HandlerError:
		return "handler failure"
	default:
		return "unknown"
	}
}

// ResultFromError maps an error from any layer onto the result code surface.
func ResultFromError(err error) ResultCode {
	if err == nil {
		return OK
	}
	var ecuErr *ECUError
	if errors.As(err, &ecuErr) {
		return ECUNegativeResponse
	}
	switch {
	case errors.Is(err, ErrNotSupported):
		return NotSupported
	case errors.Is(err, ErrEmptyResponse):
		return EmptyResponse
	case errors.Is(err, ErrWrongMessage):
		return WrongMessage
	case errors.Is(err, ErrServerNotRunning):
		return ServerNotRunning
	case errors.Is(err, ErrServerRunning):
		return ServerAlreadyRunning
	case errors.Is(err, ErrInvalidResponseLength):
		return InvalidResponseLength
	case errors.Is(err, ErrInvalidParameter):
		return ParameterInvalid
	case errors.Is(err, ErrCallbackExists):
		return CallbackAlreadyExists
	case errors.Is(err, ErrTimeout):
		return HardwareError
	default:
		return HardwareError
	}
}

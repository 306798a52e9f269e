package uds

import "fmt"

// NRC is an ISO 14229 negative response code.
type NRC byte

// Negative response codes the server acts on.
const (
	NRCBusyRepeatRequest                       NRC = 0x21
	NRCRequestCorrectlyReceivedResponsePending NRC = 0x78
	NRCServiceNotSupportedInActiveSession      NRC = 0x7F
)

func (n NRC) Code() byte { return byte(n) }

// Busy reports the repeat-request code, the request should be sent
// again after a short delay.
func (n NRC) Busy() bool { return n == NRCBusyRepeatRequest }

// Pending means the request was accepted and the real response follows
// within the ECUs P2* window.
func (n NRC) Pending() bool { return n == NRCRequestCorrectlyReceivedResponsePending }

// WrongSession means the service is not available in the session the
// ECU currently runs, typically because an extended session timed out.
func (n NRC) WrongSession() bool { return n == NRCServiceNotSupportedInActiveSession }

func (n NRC) String() string {
	return fmt.Sprintf("0x%02X %s", byte(n), n.Desc())
}

func (n NRC) Desc() string {
	switch byte(n) {
	case 0x10:
		return "general reject"
	case 0x11:
		return "service not supported"
	case 0x12:
		return "sub function not supported"
	case 0x13:
		return "incorrect message length or invalid format"
	case 0x14:
		return "response too long"
	case 0x21:
		return "busy, repeat request"
	case 0x22:
		return "conditions not correct"
	case 0x24:
		return "request sequence error"
	case 0x25:
		return "no response from subnet component"
	case 0x26:
		return "failure prevents execution of requested action"
	case 0x31:
		return "request out of range"
	case 0x33:
		return "security access denied"
	case 0x35:
		return "invalid key"
	case 0x36:
		return "exceeded number of attempts"
	case 0x37:
		return "required time delay not expired"
	case 0x70:
		return "upload/download not accepted"
	case 0x71:
		return "transfer data suspended"
	case 0x72:
		return "general programming failure"
	case 0x73:
		return "wrong block sequence counter"
	case 0x78:
		return "request correctly received, response pending"
	case 0x7E:
		return "sub function not supported in active session"
	case 0x7F:
		return "service not supported in active session"
	case 0x81:
		return "rpm too high"
	case 0x82:
		return "rpm too low"
	case 0x83:
		return "engine is running"
	case 0x84:
		return "engine is not running"
	case 0x85:
		return "engine run time too low"
	case 0x86:
		return "temperature too high"
	case 0x87:
		return "temperature too low"
	case 0x88:
		return "vehicle speed too high"
	case 0x89:
		return "vehicle speed too low"
	case 0x8A:
		return "throttle/pedal too high"
	case 0x8B:
		return "throttle/pedal too low"
	case 0x8C:
		return "transmission range not in neutral"
	case 0x8D:
		return "transmission range not in gear"
	case 0x8F:
		return "brake switch not closed"
	case 0x90:
		return "shifter lever not in park"
	case 0x91:
		return "torque converter clutch locked"
	case 0x92:
		return "voltage too high"
	case 0x93:
		return "voltage too low"
	}
	switch {
	case n >= 0x38 && n <= 0x4F:
		return "reserved by extended data link security documentation"
	case n >= 0x94 && n <= 0xFE:
		return "reserved for specific conditions not correct"
	}
	return "ISO/SAE reserved"
}

package kwp2000

import "fmt"

// NRC is an ISO 14230 negative response code.
type NRC byte

// Negative response codes the server acts on.
const (
	NRCBusyRepeatRequest                       NRC = 0x21
	NRCRequestCorrectlyReceivedResponsePending NRC = 0x78
	NRCServiceNotSupportedInActiveSession      NRC = 0x80
)

func (n NRC) Code() byte { return byte(n) }

// Busy reports the repeat-request code, the request should be sent
// again after a short delay.
func (n NRC) Busy() bool { return n == NRCBusyRepeatRequest }

// Pending means the request was accepted and the real response follows
// within the ECUs P3 window.
func (n NRC) Pending() bool { return n == NRCRequestCorrectlyReceivedResponsePending }

// WrongSession means the service needs a diagnostic session the ECU is
// no longer in, typically because the session timed out.
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
		return "sub function not supported or invalid format"
	case 0x21:
		return "busy, repeat request"
	case 0x22:
		return "conditions not correct or request sequence error"
	case 0x23:
		return "routine not complete"
	case 0x31:
		return "request out of range"
	case 0x33:
		return "security access denied"
	case 0x34:
		return "security access allowed"
	case 0x35:
		return "invalid key supplied"
	case 0x36:
		return "exceeded number of attempts to get security access"
	case 0x37:
		return "required time delay not expired"
	case 0x40:
		return "download not accepted"
	case 0x41:
		return "improper download type"
	case 0x42:
		return "unable to download to specified address"
	case 0x43:
		return "unable to download number of bytes requested"
	case 0x44:
		return "ready for download"
	case 0x50:
		return "upload not accepted"
	case 0x51:
		return "improper upload type"
	case 0x52:
		return "unable to upload from specified address"
	case 0x53:
		return "unable to upload number of bytes requested"
	case 0x54:
		return "ready for upload"
	case 0x61:
		return "normal exit with results available"
	case 0x62:
		return "normal exit without results available"
	case 0x63:
		return "abnormal exit with results"
	case 0x64:
		return "abnormal exit without results"
	case 0x71:
		return "transfer suspended"
	case 0x72:
		return "transfer aborted"
	case 0x74:
		return "illegal address in block transfer"
	case 0x75:
		return "illegal byte count in block transfer"
	case 0x76:
		return "illegal block transfer type"
	case 0x77:
		return "block transfer data checksum error"
	case 0x78:
		return "request correctly received, response pending"
	case 0x79:
		return "incorrect byte count during block transfer"
	case 0x80:
		return "service not supported in current diagnostic session"
	case 0x9A:
		return "data decompression failed"
	case 0x9B:
		return "data decryption failed"
	case 0xA0:
		return "ECU not responding on subnet"
	case 0xA1:
		return "ECU address unknown to gateway"
	}
	switch {
	case n >= 0x81 && n <= 0x8F:
		return "ISO 14230 reserved"
	case n >= 0x90 && n <= 0x99:
		return "manufacturer specific"
	case n >= 0x9C && n <= 0x9F:
		return "manufacturer specific"
	case n >= 0xA2 && n <= 0xF9:
		return "manufacturer specific"
	}
	return "ISO 14230 reserved"
}

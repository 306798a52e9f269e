package obd2

import "fmt"

// NRC is a SAE J1979 negative response code. The vocabulary is a small
// subset of the ISO 14229 one.
type NRC byte

const (
	NRCServiceNotSupported                     NRC = 0x11
	NRCSubFunctionNotSupported                 NRC = 0x12
	NRCBusyRepeatRequest                       NRC = 0x21
	NRCConditionsNotCorrect                    NRC = 0x22
	NRCRequestOutOfRange                       NRC = 0x31
	NRCRequestCorrectlyReceivedResponsePending NRC = 0x78
)

func (n NRC) Code() byte { return byte(n) }

// Busy reports the repeat-request code, the request should be sent
// again after a short delay.
func (n NRC) Busy() bool { return n == NRCBusyRepeatRequest }

// Pending means the request was accepted and the real response
// follows.
func (n NRC) Pending() bool { return n == NRCRequestCorrectlyReceivedResponsePending }

// WrongSession maps to not-supported, there are no sessions to fall
// out of.
func (n NRC) WrongSession() bool {
	return n == NRCServiceNotSupported || n == NRCSubFunctionNotSupported
}

func (n NRC) String() string {
	return fmt.Sprintf("0x%02X %s", byte(n), n.Desc())
}

func (n NRC) Desc() string {
	switch n {
	case NRCServiceNotSupported:
		return "service not supported"
	case NRCSubFunctionNotSupported:
		return "sub function not supported"
	case NRCBusyRepeatRequest:
		return "busy, repeat request"
	case NRCConditionsNotCorrect:
		return "conditions not correct"
	case NRCRequestOutOfRange:
		return "request out of range"
	case NRCRequestCorrectlyReceivedResponsePending:
		return "request correctly received, response pending"
	}
	return "SAE J1979 reserved"
}

// Package kwp2000 implements the ISO 14230-3 dialect as found on CAN
// based Mercedes and Mitsubishi ECUs from the late 90s up to roughly
// 2006. The codec is a pure byte mapping, all wire traffic goes through
// the diagnostic server.
package kwp2000

import (
	"fmt"

	"github.com/roffe/ecudiag"
)

// KWP2000 service ids.
const (
	ServiceStartDiagnosticSession              = 0x10
	ServiceECUReset                            = 0x11
	ServiceClearDiagnosticInformation          = 0x14
	ServiceReadStatusOfDTCs                    = 0x17
	ServiceReadDTCsByStatus                    = 0x18
	ServiceReadECUIdentification               = 0x1A
	ServiceReadDataByLocalIdentifier           = 0x21
	ServiceReadDataByIdentifier                = 0x22
	ServiceReadMemoryByAddress                 = 0x23
	ServiceSecurityAccess                      = 0x27
	ServiceDisableNormalMessageTransmission    = 0x28
	ServiceEnableNormalMessageTransmission     = 0x29
	ServiceDynamicallyDefineLocalIdentifier    = 0x2C
	ServiceWriteDataByIdentifier               = 0x2E
	ServiceInputOutputControlByLocalIdentifier = 0x30
	ServiceStartRoutineByLocalIdentifier       = 0x31
	ServiceStopRoutineByLocalIdentifier        = 0x32
	ServiceRequestRoutineResultsByLocalID      = 0x33
	ServiceRequestDownload                     = 0x34
	ServiceRequestUpload                       = 0x35
	ServiceTransferData                        = 0x36
	ServiceRequestTransferExit                 = 0x37
	ServiceWriteDataByLocalIdentifier          = 0x3B
	ServiceWriteMemoryByAddress                = 0x3D
	ServiceTesterPresent                       = 0x3E
	ServiceControlDTCSettings                  = 0x85
	ServiceResponseOnEvent                     = 0x86
)

var serviceNames = map[byte]string{
	ServiceStartDiagnosticSession:              "StartDiagnosticSession",
	ServiceECUReset:                            "ECUReset",
	ServiceClearDiagnosticInformation:          "ClearDiagnosticInformation",
	ServiceReadStatusOfDTCs:                    "ReadStatusOfDiagnosticTroubleCodes",
	ServiceReadDTCsByStatus:                    "ReadDiagnosticTroubleCodesByStatus",
	ServiceReadECUIdentification:               "ReadECUIdentification",
	ServiceReadDataByLocalIdentifier:           "ReadDataByLocalIdentifier",
	ServiceReadDataByIdentifier:                "ReadDataByIdentifier",
	ServiceReadMemoryByAddress:                 "ReadMemoryByAddress",
	ServiceSecurityAccess:                      "SecurityAccess",
	ServiceDisableNormalMessageTransmission:    "DisableNormalMessageTransmission",
	ServiceEnableNormalMessageTransmission:     "EnableNormalMessageTransmission",
	ServiceDynamicallyDefineLocalIdentifier:    "DynamicallyDefineLocalIdentifier",
	ServiceWriteDataByIdentifier:               "WriteDataByIdentifier",
	ServiceInputOutputControlByLocalIdentifier: "InputOutputControlByLocalIdentifier",
	ServiceStartRoutineByLocalIdentifier:       "StartRoutineByLocalIdentifier",
	ServiceStopRoutineByLocalIdentifier:        "StopRoutineByLocalIdentifier",
	ServiceRequestRoutineResultsByLocalID:      "RequestRoutineResultsByLocalIdentifier",
	ServiceRequestDownload:                     "RequestDownload",
	ServiceRequestUpload:                       "RequestUpload",
	ServiceTransferData:                        "TransferData",
	ServiceRequestTransferExit:                 "RequestTransferExit",
	ServiceWriteDataByLocalIdentifier:          "WriteDataByLocalIdentifier",
	ServiceWriteMemoryByAddress:                "WriteMemoryByAddress",
	ServiceTesterPresent:                       "TesterPresent",
	ServiceControlDTCSettings:                  "ControlDTCSettings",
	ServiceResponseOnEvent:                     "ResponseOnEvent",
}

// ServiceName returns the name of a service id, or its hex value for
// ids outside the standard set.
func ServiceName(sid byte) string {
	if name, found := serviceNames[sid]; found {
		return name
	}
	return fmt.Sprintf("0x%02X", sid)
}

// Diagnostic session modes handled by StartDiagnosticSession. Unlike
// ISO 14229 the mode bytes start at 0x81, but every mode other than
// normal still times out back to it without tester present messages.
var (
	SessionNormal              = ecudiag.SessionMode{ID: 0x81, Name: "normal"}
	SessionReprogramming       = ecudiag.SessionMode{ID: 0x85, Name: "reprogramming", TesterPresent: true}
	SessionStandby             = ecudiag.SessionMode{ID: 0x89, Name: "standby", TesterPresent: true}
	SessionPassive             = ecudiag.SessionMode{ID: 0x90, Name: "passive", TesterPresent: true}
	SessionExtendedDiagnostics = ecudiag.SessionMode{ID: 0x92, Name: "extended diagnostics", TesterPresent: true}
)

// TesterPresent sub functions. responseRequired makes the ECU confirm
// each keep-alive, responseSuppressed keeps the bus quiet.
const (
	responseRequired   = 0x01
	responseSuppressed = 0x02
)

// Codec is the KWP2000 protocol codec.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

func (*Codec) Name() string { return "KWP2000" }

func (*Codec) BasicSessionMode() ecudiag.SessionMode { return SessionNormal }

func (*Codec) Sessions() []ecudiag.SessionMode {
	return []ecudiag.SessionMode{SessionNormal, SessionReprogramming, SessionStandby, SessionPassive, SessionExtendedDiagnostics}
}

func (*Codec) TesterPresent(requireResponse bool) *ecudiag.Request {
	if requireResponse {
		return ecudiag.NewRequest(ServiceTesterPresent, []byte{responseRequired}, true)
	}
	return ecudiag.NewRequest(ServiceTesterPresent, []byte{responseSuppressed}, false)
}

func (*Codec) SessionEnter(mode ecudiag.SessionMode) (*ecudiag.Request, error) {
	if mode.ID == 0 {
		return nil, fmt.Errorf("session id 0: %w", ecudiag.ErrInvalidParameter)
	}
	return ecudiag.NewRequest(ServiceStartDiagnosticSession, []byte{mode.ID}, true), nil
}

func (c *Codec) SessionControl(req *ecudiag.Request) (ecudiag.SessionMode, bool) {
	if req.Service != ServiceStartDiagnosticSession || len(req.Args) < 1 {
		return ecudiag.SessionMode{}, false
	}
	for _, mode := range c.Sessions() {
		if mode.ID == req.Args[0] {
			return mode, true
		}
	}
	// manufacturer specific modes
	return ecudiag.SessionMode{ID: req.Args[0], Name: "custom", TesterPresent: true}, true
}

func (*Codec) DecodeNRC(code byte) ecudiag.NRC { return NRC(code) }

func (c *Codec) ProcessResponse(req *ecudiag.Request, raw []byte) (*ecudiag.Response, error) {
	if len(raw) == 0 {
		return nil, ecudiag.ErrEmptyResponse
	}
	if raw[0] == 0x7F {
		if len(raw) < 3 {
			return nil, fmt.Errorf("negative response of %d bytes: %w", len(raw), ecudiag.ErrInvalidResponseLength)
		}
		nrc := NRC(raw[2])
		return nil, &ecudiag.ECUError{Service: raw[1], Code: raw[2], Desc: nrc.Desc()}
	}
	if raw[0] != req.Service+0x40 {
		return nil, fmt.Errorf("expected echo of %s, got 0x%02X: %w", ServiceName(req.Service), raw[0], ecudiag.ErrWrongMessage)
	}
	data := make([]byte, len(raw)-1)
	copy(data, raw[1:])
	return &ecudiag.Response{Service: req.Service, Data: data}, nil
}

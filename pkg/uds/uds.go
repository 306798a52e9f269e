// Package uds implements the ISO 14229 dialect. Any ECU produced after
// roughly 2006 should speak this. The codec is a pure byte mapping, all
// wire traffic goes through the diagnostic server.
package uds

import (
	"fmt"

	"github.com/roffe/ecudiag"
)

// UDS service ids.
const (
	ServiceDiagnosticSessionControl        = 0x10
	ServiceECUReset                        = 0x11
	ServiceClearDiagnosticInformation      = 0x14
	ServiceReadDTCInformation              = 0x19
	ServiceReadDataByIdentifier            = 0x22
	ServiceReadMemoryByAddress             = 0x23
	ServiceReadScalingDataByIdentifier     = 0x24
	ServiceSecurityAccess                  = 0x27
	ServiceCommunicationControl            = 0x28
	ServiceReadDataByPeriodicIdentifier    = 0x2A
	ServiceDynamicallyDefineDataIdentifier = 0x2C
	ServiceWriteDataByIdentifier           = 0x2E
	ServiceInputOutputControlByIdentifier  = 0x2F
	ServiceRoutineControl                  = 0x31
	ServiceRequestDownload                 = 0x34
	ServiceRequestUpload                   = 0x35
	ServiceTransferData                    = 0x36
	ServiceRequestTransferExit             = 0x37
	ServiceWriteMemoryByAddress            = 0x3D
	ServiceTesterPresent                   = 0x3E
	ServiceAccessTimingParameters          = 0x83
	ServiceSecuredDataTransmission         = 0x84
	ServiceControlDTCSettings              = 0x85
	ServiceResponseOnEvent                 = 0x86
	ServiceLinkControl                     = 0x87
)

var serviceNames = map[byte]string{
	ServiceDiagnosticSessionControl:        "DiagnosticSessionControl",
	ServiceECUReset:                        "ECUReset",
	ServiceClearDiagnosticInformation:      "ClearDiagnosticInformation",
	ServiceReadDTCInformation:              "ReadDTCInformation",
	ServiceReadDataByIdentifier:            "ReadDataByIdentifier",
	ServiceReadMemoryByAddress:             "ReadMemoryByAddress",
	ServiceReadScalingDataByIdentifier:     "ReadScalingDataByIdentifier",
	ServiceSecurityAccess:                  "SecurityAccess",
	ServiceCommunicationControl:            "CommunicationControl",
	ServiceReadDataByPeriodicIdentifier:    "ReadDataByPeriodicIdentifier",
	ServiceDynamicallyDefineDataIdentifier: "DynamicallyDefineDataIdentifier",
	ServiceWriteDataByIdentifier:           "WriteDataByIdentifier",
	ServiceInputOutputControlByIdentifier:  "InputOutputControlByIdentifier",
	ServiceRoutineControl:                  "RoutineControl",
	ServiceRequestDownload:                 "RequestDownload",
	ServiceRequestUpload:                   "RequestUpload",
	ServiceTransferData:                    "TransferData",
	ServiceRequestTransferExit:             "RequestTransferExit",
	ServiceWriteMemoryByAddress:            "WriteMemoryByAddress",
	ServiceTesterPresent:                   "TesterPresent",
	ServiceAccessTimingParameters:          "AccessTimingParameters",
	ServiceSecuredDataTransmission:         "SecuredDataTransmission",
	ServiceControlDTCSettings:              "ControlDTCSettings",
	ServiceResponseOnEvent:                 "ResponseOnEvent",
	ServiceLinkControl:                     "LinkControl",
}

// ServiceName returns the name of a service id, or its hex value for
// ids outside the standard set.
func ServiceName(sid byte) string {
	if name, found := serviceNames[sid]; found {
		return name
	}
	return fmt.Sprintf("0x%02X", sid)
}

// Diagnostic session modes handled by DiagnosticSessionControl. The ECU
// boots into SessionDefault, every other mode times out back to it
// unless tester present messages keep it alive.
var (
	SessionDefault      = ecudiag.SessionMode{ID: 0x01, Name: "default"}
	SessionProgramming  = ecudiag.SessionMode{ID: 0x02, Name: "programming", TesterPresent: true}
	SessionExtended     = ecudiag.SessionMode{ID: 0x03, Name: "extended", TesterPresent: true}
	SessionSafetySystem = ecudiag.SessionMode{ID: 0x04, Name: "safety system", TesterPresent: true}
)

// suppressPosRspMsgIndicationBit on a sub function byte tells the ECU
// not to answer.
const suppressReply = 0x80

// Codec is the UDS protocol codec.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

func (*Codec) Name() string { return "UDS" }

func (*Codec) BasicSessionMode() ecudiag.SessionMode { return SessionDefault }

func (*Codec) Sessions() []ecudiag.SessionMode {
	return []ecudiag.SessionMode{SessionDefault, SessionProgramming, SessionExtended, SessionSafetySystem}
}

func (*Codec) TesterPresent(requireResponse bool) *ecudiag.Request {
	if requireResponse {
		return ecudiag.NewRequest(ServiceTesterPresent, []byte{0x00}, true)
	}
	return ecudiag.NewRequest(ServiceTesterPresent, []byte{suppressReply}, false)
}

func (*Codec) SessionEnter(mode ecudiag.SessionMode) (*ecudiag.Request, error) {
	if mode.ID == 0 {
		return nil, fmt.Errorf("session id 0: %w", ecudiag.ErrInvalidParameter)
	}
	return ecudiag.NewRequest(ServiceDiagnosticSessionControl, []byte{mode.ID}, true), nil
}

func (c *Codec) SessionControl(req *ecudiag.Request) (ecudiag.SessionMode, bool) {
	if req.Service != ServiceDiagnosticSessionControl || len(req.Args) < 1 {
		return ecudiag.SessionMode{}, false
	}
	id := req.Args[0] &^ suppressReply
	for _, mode := range c.Sessions() {
		if mode.ID == id {
			return mode, true
		}
	}
	// vehicleManufacturerSpecific and systemSupplierSpecific modes
	return ecudiag.SessionMode{ID: id, Name: "custom", TesterPresent: true}, true
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

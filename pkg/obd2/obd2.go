// Package obd2 implements the SAE J1979 emissions dialect over CAN.
// OBD2 has no diagnostic sessions and no keep-alive, every legislated
// service answers at any time. The codec is a pure byte mapping, all
// wire traffic goes through the diagnostic server.
package obd2

import (
	"fmt"

	"github.com/roffe/ecudiag"
)

// OBD2 service ids.
const (
	ServiceShowCurrentData     = 0x01
	ServiceFreezeFrameData     = 0x02
	ServiceShowStoredDTCs      = 0x03
	ServiceClearDTCs           = 0x04
	ServiceO2MonitoringResults = 0x05
	ServiceTestResults         = 0x06
	ServiceShowPendingDTCs     = 0x07
	ServiceControlOperation    = 0x08
	ServiceVehicleInformation  = 0x09
	ServiceShowPermanentDTCs   = 0x0A
)

var serviceNames = map[byte]string{
	ServiceShowCurrentData:     "ShowCurrentData",
	ServiceFreezeFrameData:     "FreezeFrameData",
	ServiceShowStoredDTCs:      "ShowStoredDTCs",
	ServiceClearDTCs:           "ClearDTCs",
	ServiceO2MonitoringResults: "O2MonitoringResults",
	ServiceTestResults:         "TestResults",
	ServiceShowPendingDTCs:     "ShowPendingDTCs",
	ServiceControlOperation:    "ControlOperation",
	ServiceVehicleInformation:  "VehicleInformation",
	ServiceShowPermanentDTCs:   "ShowPermanentDTCs",
}

// ServiceName returns the name of a service id, or its hex value for
// ids outside the standard set.
func ServiceName(sid byte) string {
	if name, found := serviceNames[sid]; found {
		return name
	}
	return fmt.Sprintf("0x%02X", sid)
}

// Codec is the OBD2 protocol codec.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

func (*Codec) Name() string { return "OBD2" }

// BasicSessionMode is a placeholder, OBD2 knows no sessions.
func (*Codec) BasicSessionMode() ecudiag.SessionMode {
	return ecudiag.SessionMode{ID: 0x00, Name: "obd"}
}

func (*Codec) Sessions() []ecudiag.SessionMode { return nil }

// TesterPresent builds a supported-PID poll, the closest thing J1979
// has to a keep-alive. Nothing arms it automatically since no session
// requires one.
func (*Codec) TesterPresent(requireResponse bool) *ecudiag.Request {
	return ecudiag.NewRequest(ServiceShowCurrentData, []byte{0x00}, requireResponse)
}

func (*Codec) SessionEnter(mode ecudiag.SessionMode) (*ecudiag.Request, error) {
	return nil, fmt.Errorf("OBD2 has no diagnostic sessions: %w", ecudiag.ErrNotSupported)
}

func (*Codec) SessionControl(req *ecudiag.Request) (ecudiag.SessionMode, bool) {
	return ecudiag.SessionMode{}, false
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

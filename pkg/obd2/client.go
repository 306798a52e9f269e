package obd2

import (
	"errors"
	"fmt"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dtc"
)

// Service 09 information types.
const (
	InfoVINCount   = 0x01
	InfoVIN        = 0x02
	InfoCalIDCount = 0x03
	InfoCalID      = 0x04
	InfoCVNCount   = 0x05
	InfoCVN        = 0x06
	InfoECUName    = 0x0A
)

// Client provides typed OBD2 operations on top of a running diagnostic
// server. Supported-PID bitmaps are fetched once and cached. It is not
// safe for concurrent use, hand each goroutine its own client.
type Client struct {
	srv *ecudiag.Server

	pidSupport  []byte
	infoSupport []byte
}

func NewClient(srv *ecudiag.Server) *Client {
	return &Client{srv: srv}
}

// pidBitmap walks the supported-PID groups of service 01. Groups the
// ECU rejects count as all unsupported, the walk stops once a group
// does not announce a successor.
func (c *Client) pidBitmap() ([]byte, error) {
	if c.pidSupport != nil {
		return c.pidSupport, nil
	}
	var bitmap []byte
	for group := 0x00; group <= 0xE0; group += 0x20 {
		resp, err := c.srv.ExecuteCommand(ServiceShowCurrentData, byte(group))
		if err != nil {
			var ecuErr *ecudiag.ECUError
			if !errors.As(err, &ecuErr) {
				return nil, err
			}
			bitmap = append(bitmap, 0x00, 0x00, 0x00, 0x00)
			break
		}
		if len(resp.Data) < 2 || resp.Data[0] != byte(group) {
			return nil, fmt.Errorf("supported PID response for group 0x%02X: %w", group, ecudiag.ErrWrongMessage)
		}
		bitmap = append(bitmap, resp.Data[1:]...)
		if bitmap[len(bitmap)-1]&0x01 == 0 {
			break
		}
	}
	c.pidSupport = bitmap
	return bitmap, nil
}

// bitmapHas reports whether a one-based id is set in an MSB-first
// bitmap.
func bitmapHas(bitmap []byte, id byte) bool {
	idx := int(id-1) / 8
	if id == 0 || idx >= len(bitmap) {
		return false
	}
	return bitmap[idx]&(0x80>>((id-1)%8)) != 0
}

// SupportedPIDs lists the service 01 data PIDs the ECU announces. The
// group continuation PIDs and the sensor layout bitfields 0x13 and
// 0x1D are left out, they carry no readable data.
func (c *Client) SupportedPIDs() ([]byte, error) {
	bitmap, err := c.pidBitmap()
	if err != nil {
		return nil, err
	}
	var pids []byte
	for i, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>bit) == 0 {
				continue
			}
			pid := byte(i*8 + bit + 1)
			switch pid {
			case 0x13, 0x1D, 0x20, 0x40, 0x60, 0x80, 0xA0, 0xC0, 0xE0:
				continue
			}
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// PIDSupported reports whether the ECU announces one service 01 PID.
func (c *Client) PIDSupported(pid byte) (bool, error) {
	bitmap, err := c.pidBitmap()
	if err != nil {
		return false, err
	}
	return bitmapHas(bitmap, pid), nil
}

// ReadPID reads one service 01 PID and returns its data bytes.
func (c *Client) ReadPID(pid byte) ([]byte, error) {
	supported, err := c.PIDSupported(pid)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, fmt.Errorf("PID 0x%02X not announced by ECU: %w", pid, ecudiag.ErrNotSupported)
	}
	resp, err := c.srv.ExecuteCommand(ServiceShowCurrentData, pid)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 || resp.Data[0] != pid {
		return nil, fmt.Errorf("expected PID 0x%02X echo: %w", pid, ecudiag.ErrWrongMessage)
	}
	return resp.Data[1:], nil
}

// CoolantTemperature reads PID 0x05 in degrees celsius.
func (c *Client) CoolantTemperature() (int, error) {
	data, err := c.ReadPID(0x05)
	if err != nil {
		return 0, err
	}
	return int(data[0]) - 40, nil
}

// EngineSpeed reads PID 0x0C in rpm.
func (c *Client) EngineSpeed() (float64, error) {
	data, err := c.ReadPID(0x0C)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("engine speed of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	return float64(uint16(data[0])<<8|uint16(data[1])) / 4, nil
}

// VehicleSpeed reads PID 0x0D in km/h.
func (c *Client) VehicleSpeed() (int, error) {
	data, err := c.ReadPID(0x0D)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// ReadStoredDTCs returns the confirmed emissions trouble codes.
func (c *Client) ReadStoredDTCs() ([]dtc.DTC, error) {
	return c.readDTCs(ServiceShowStoredDTCs, dtc.StatusStored)
}

// ReadPendingDTCs returns codes detected in the current or last
// driving cycle that are not confirmed yet.
func (c *Client) ReadPendingDTCs() ([]dtc.DTC, error) {
	return c.readDTCs(ServiceShowPendingDTCs, dtc.StatusPending)
}

// ReadPermanentDTCs returns codes only the ECU itself can clear.
func (c *Client) ReadPermanentDTCs() ([]dtc.DTC, error) {
	return c.readDTCs(ServiceShowPermanentDTCs, dtc.StatusPermanent)
}

func (c *Client) readDTCs(service byte, status dtc.Status) ([]dtc.DTC, error) {
	resp, err := c.srv.ExecuteCommand(service)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("DTC response of %d bytes: %w", len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	recs := resp.Data[1:]
	if len(recs)%2 != 0 {
		return nil, fmt.Errorf("DTC records of %d bytes: %w", len(recs), ecudiag.ErrInvalidResponseLength)
	}
	out := make([]dtc.DTC, 0, resp.Data[0])
	for i := 0; i+2 <= len(recs); i += 2 {
		out = append(out, dtc.DTC{
			Format: dtc.FormatISO15031,
			Raw:    uint32(recs[i])<<8 | uint32(recs[i+1]),
			Status: status,
		})
	}
	return out, nil
}

// ClearDTCs clears the stored codes and resets the readiness monitors.
func (c *Client) ClearDTCs() error {
	_, err := c.srv.ExecuteCommand(ServiceClearDTCs)
	return err
}

// infoBitmap fetches the service 09 information type support bitmap.
func (c *Client) infoBitmap() ([]byte, error) {
	if c.infoSupport != nil {
		return c.infoSupport, nil
	}
	resp, err := c.srv.ExecuteCommand(ServiceVehicleInformation, 0x00)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 || resp.Data[0] != 0x00 {
		return nil, fmt.Errorf("vehicle information support response: %w", ecudiag.ErrWrongMessage)
	}
	c.infoSupport = resp.Data[1:]
	return c.infoSupport, nil
}

// readInfo fetches one service 09 information type. The returned data
// starts after the message count byte.
func (c *Client) readInfo(infoType byte) ([]byte, error) {
	bitmap, err := c.infoBitmap()
	if err != nil {
		return nil, err
	}
	if !bitmapHas(bitmap, infoType) {
		return nil, fmt.Errorf("information type 0x%02X not announced by ECU: %w", infoType, ecudiag.ErrNotSupported)
	}
	resp, err := c.srv.ExecuteCommand(ServiceVehicleInformation, infoType)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 || resp.Data[0] != infoType {
		return nil, fmt.Errorf("expected information type 0x%02X echo: %w", infoType, ecudiag.ErrWrongMessage)
	}
	return resp.Data[2:], nil
}

// VIN reads the 17 character vehicle identification number.
func (c *Client) VIN() (string, error) {
	data, err := c.readInfo(InfoVIN)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CalibrationIDs reads the calibration identifications, 16 characters
// each. ECUs may report more than one.
func (c *Client) CalibrationIDs() ([]string, error) {
	data, err := c.readInfo(InfoCalID)
	if err != nil {
		return nil, err
	}
	var out []string
	for len(data) > 0 {
		n := len(data)
		if n > 16 {
			n = 16
		}
		out = append(out, trimZero(data[:n]))
		data = data[n:]
	}
	return out, nil
}

// CVNs reads the calibration verification numbers as 8 character hex
// strings. ECUs may report more than one.
func (c *Client) CVNs() ([]string, error) {
	data, err := c.readInfo(InfoCVN)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("CVN data of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	var out []string
	for ; len(data) >= 4; data = data[4:] {
		out = append(out, fmt.Sprintf("%02X%02X%02X%02X", data[0], data[1], data[2], data[3]))
	}
	return out, nil
}

// trimZero cuts a fixed width field at its first NUL byte.
func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

package kwp2000

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dtc"
)

// ResetType selects how ECUReset restarts the ECU.
type ResetType byte

const (
	// PowerOnReset simulates a power off/on cycle.
	PowerOnReset ResetType = 0x01
	// NonVolatileMemoryReset reinitialises non volatile memory only.
	NonVolatileMemoryReset ResetType = 0x82
)

// DTCRange selects a group of trouble codes for reading and clearing.
// The group value doubles as the single-DTC selector for clearing, any
// value outside the listed groups addresses that one code.
type DTCRange uint16

const (
	RangePowertrain DTCRange = 0x0000
	RangeChassis    DTCRange = 0x4000
	RangeBody       DTCRange = 0x8000
	RangeNetwork    DTCRange = 0xC000
	RangeAll        DTCRange = 0xFF00
)

func (r DTCRange) args(pid byte) []byte {
	return []byte{pid, byte(r >> 8), byte(r)}
}

// ReadDTCsByStatus sub functions.
const (
	pidStoredISO15031 = 0x00
	pidStoredKWP      = 0x02
	pidSupportedKWP   = 0x03
	pidExtendedCount  = 0xE0
)

// Client provides typed KWP2000 operations on top of a running
// diagnostic server. It is not safe for concurrent use, hand each
// goroutine its own client.
type Client struct {
	srv *ecudiag.Server
}

func NewClient(srv *ecudiag.Server) *Client {
	return &Client{srv: srv}
}

// EnterExtendedDiagnostics puts the ECU into the extended diagnostics
// session, required for most adjustment and routine services.
func (c *Client) EnterExtendedDiagnostics() error {
	_, err := c.srv.EnterSession(SessionExtendedDiagnostics)
	return err
}

// EnterNormalSession returns the ECU to its power-on session.
func (c *Client) EnterNormalSession() error {
	_, err := c.srv.EnterSession(SessionNormal)
	return err
}

// EnterReprogrammingSession puts the ECU into the flash session.
func (c *Client) EnterReprogrammingSession() error {
	_, err := c.srv.EnterSession(SessionReprogramming)
	return err
}

// ECUReset asks the ECU to restart itself. The ECU falls back to the
// normal session and loses any security access.
func (c *Client) ECUReset(rt ResetType) error {
	_, err := c.srv.ExecuteCommand(ServiceECUReset, byte(rt))
	return err
}

// RequestSeed asks the ECU for the level 1 security seed. Compute the
// key from it and pass the result to SendKey.
func (c *Client) RequestSeed() ([]byte, error) {
	resp, err := c.srv.ExecuteCommand(ServiceSecurityAccess, 0x01)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("seed response of %d bytes: %w", len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	return resp.Data[1:], nil
}

// SendKey sends the computed security key to the ECU.
func (c *Client) SendKey(key []byte) error {
	args := make([]byte, 0, len(key)+1)
	args = append(args, 0x02)
	args = append(args, key...)
	_, err := c.srv.ExecuteCommand(ServiceSecurityAccess, args...)
	return err
}

// DisableNormalMessageTransmission silences the ECUs periodic bus
// traffic until EnableNormalMessageTransmission or a reset.
func (c *Client) DisableNormalMessageTransmission() error {
	_, err := c.srv.ExecuteCommand(ServiceDisableNormalMessageTransmission, responseRequired)
	return err
}

// EnableNormalMessageTransmission turns the periodic bus traffic back
// on.
func (c *Client) EnableNormalMessageTransmission() error {
	_, err := c.srv.ExecuteCommand(ServiceEnableNormalMessageTransmission, responseRequired)
	return err
}

// readPage fetches one raw identification page. The returned data
// starts with the page echo byte.
func (c *Client) readPage(page byte) ([]byte, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadECUIdentification, page)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 || resp.Data[0] != page {
		return nil, fmt.Errorf("expected identification page 0x%02X: %w", page, ecudiag.ErrWrongMessage)
	}
	return resp.Data, nil
}

// ReadECUIdentificationPage fetches one raw identification page
// without the page echo byte.
func (c *Client) ReadECUIdentificationPage(page byte) ([]byte, error) {
	data, err := c.readPage(page)
	if err != nil {
		return nil, err
	}
	return data[1:], nil
}

// ReadDaimlerIdentification reads the Daimler identification record.
func (c *Client) ReadDaimlerIdentification() (*ECUIdentification, error) {
	data, err := c.readPage(identDaimler)
	if err != nil {
		return nil, err
	}
	return decodeECUIdentification(data)
}

// ReadMMCIdentification reads the Daimler/MMC identification record.
func (c *Client) ReadMMCIdentification() (*MMCIdentification, error) {
	data, err := c.readPage(identDaimlerMMC)
	if err != nil {
		return nil, err
	}
	return decodeMMCIdentification(data)
}

// ReadOriginalVIN reads the VIN the manufacturer programmed.
func (c *Client) ReadOriginalVIN() (string, error) {
	data, err := c.readPage(identOriginalVIN)
	if err != nil {
		return "", err
	}
	return string(data[1:]), nil
}

// ReadCurrentVIN reads the VIN currently stored on the ECU.
func (c *Client) ReadCurrentVIN() (string, error) {
	data, err := c.readPage(identCurrentVIN)
	if err != nil {
		return "", err
	}
	return string(data[1:]), nil
}

// ReadDiagnosticVariantCode reads the diagnostic variant code of the
// ECU.
func (c *Client) ReadDiagnosticVariantCode() (uint32, error) {
	data, err := c.readPage(identVariantCode)
	if err != nil {
		return 0, err
	}
	if len(data) != 5 {
		return 0, fmt.Errorf("variant code of %d bytes: %w", len(data)-1, ecudiag.ErrInvalidResponseLength)
	}
	return binary.BigEndian.Uint32(data[1:]), nil
}

// ReadCalibrationID reads the OBD calibration identification.
func (c *Client) ReadCalibrationID() (string, error) {
	data, err := c.readPage(identCalibrationID)
	if err != nil {
		return "", err
	}
	return string(data[1:]), nil
}

// ReadCVN reads the 4 byte calibration verification number.
func (c *Client) ReadCVN() ([]byte, error) {
	data, err := c.readPage(identCVN)
	if err != nil {
		return nil, err
	}
	if len(data) != 5 {
		return nil, fmt.Errorf("CVN of %d bytes: %w", len(data)-1, ecudiag.ErrInvalidResponseLength)
	}
	return data[1:], nil
}

// ReadCodeFingerprint reads the flash fingerprint of the code block.
func (c *Client) ReadCodeFingerprint() (*ModuleInformation, error) {
	return c.readFingerprint(identCodeFingerprint)
}

// ReadDataFingerprint reads the flash fingerprint of the data block.
func (c *Client) ReadDataFingerprint() (*ModuleInformation, error) {
	return c.readFingerprint(identDataFingerprint)
}

// ReadBootFingerprint reads the flash fingerprint of the boot block.
func (c *Client) ReadBootFingerprint() (*ModuleInformation, error) {
	return c.readFingerprint(identBootFingerprint)
}

func (c *Client) readFingerprint(page byte) (*ModuleInformation, error) {
	data, err := c.readPage(page)
	if err != nil {
		return nil, err
	}
	return decodeModuleInformation(data)
}

// ReadCodeSoftwareID reads the software identification of the code
// block.
func (c *Client) ReadCodeSoftwareID() (*SoftwareBlockIdentification, error) {
	return c.readSoftwareID(identCodeSoftwareID)
}

// ReadDataSoftwareID reads the software identification of the data
// block.
func (c *Client) ReadDataSoftwareID() (*SoftwareBlockIdentification, error) {
	return c.readSoftwareID(identDataSoftwareID)
}

// ReadBootSoftwareID reads the software identification of the boot
// block.
func (c *Client) ReadBootSoftwareID() (*SoftwareBlockIdentification, error) {
	return c.readSoftwareID(identBootSoftwareID)
}

func (c *Client) readSoftwareID(page byte) (*SoftwareBlockIdentification, error) {
	data, err := c.readPage(page)
	if err != nil {
		return nil, err
	}
	return decodeSoftwareBlockIdentification(data)
}

// ReadStoredDTCs returns the stored trouble codes of a group in the
// raw 2 byte KWP2000 format.
func (c *Client) ReadStoredDTCs(r DTCRange) ([]dtc.DTC, error) {
	return c.readDTCs(pidStoredKWP, r, dtc.FormatTwoByteKWP)
}

// ReadStoredDTCsISO15031 returns the stored trouble codes of a group
// in the 2 byte emissions format.
func (c *Client) ReadStoredDTCsISO15031(r DTCRange) ([]dtc.DTC, error) {
	return c.readDTCs(pidStoredISO15031, r, dtc.FormatISO15031)
}

// ReadSupportedDTCs returns every trouble code the ECU can report
// regardless of status. ECUs with more codes than fit one response
// report a remainder count, the read repeats until it reaches zero.
func (c *Client) ReadSupportedDTCs(r DTCRange) ([]dtc.DTC, error) {
	var out []dtc.DTC
	for {
		batch, err := c.readDTCs(pidSupportedKWP, r, dtc.FormatTwoByteKWP)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		left, err := c.ReadExtendedSupportedDTCCount(r)
		if err != nil || left == 0 || int(left) == len(out) {
			return out, nil
		}
	}
}

// ReadExtendedSupportedDTCCount returns how many supported trouble
// codes are left to read. ECUs without the sub function report zero.
func (c *Client) ReadExtendedSupportedDTCCount(r DTCRange) (uint16, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadDTCsByStatus, r.args(pidExtendedCount)...)
	if err != nil {
		var ecuErr *ecudiag.ECUError
		if errors.As(err, &ecuErr) && ecuErr.Code == 0x12 {
			return 0, nil
		}
		return 0, err
	}
	if len(resp.Data) != 2 {
		return 0, nil
	}
	return binary.BigEndian.Uint16(resp.Data), nil
}

func (c *Client) readDTCs(pid byte, r DTCRange, format dtc.Format) ([]dtc.DTC, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadDTCsByStatus, r.args(pid)...)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 4 {
		// no DTCs stored
		return nil, nil
	}
	recs := resp.Data[1:]
	if len(recs)%3 != 0 {
		return nil, fmt.Errorf("DTC records of %d bytes: %w", len(recs), ecudiag.ErrInvalidResponseLength)
	}
	out := make([]dtc.DTC, 0, resp.Data[0])
	for i := 0; i+3 <= len(recs); i += 3 {
		status := recs[i+2]
		out = append(out, dtc.DTC{
			Format:    format,
			Raw:       uint32(recs[i])<<8 | uint32(recs[i+1]),
			Status:    dtc.StatusFromKWP(status),
			MILOn:     status&0x80 != 0,
			Readiness: status&0x10 != 0,
		})
	}
	return out, nil
}

// ClearDTCs clears a group of trouble codes, RangeAll for everything
// the ECU stores. A specific code value clears that one code.
func (c *Client) ClearDTCs(r DTCRange) error {
	_, err := c.srv.ExecuteCommand(ServiceClearDiagnosticInformation, byte(r>>8), byte(r))
	return err
}

// ReadDataByLocalIdentifier reads one local identifier record.
func (c *Client) ReadDataByLocalIdentifier(id byte) ([]byte, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadDataByLocalIdentifier, id)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 || resp.Data[0] != id {
		return nil, fmt.Errorf("expected local identifier 0x%02X: %w", id, ecudiag.ErrWrongMessage)
	}
	return resp.Data[1:], nil
}

// WriteDataByLocalIdentifier writes one local identifier record.
func (c *Client) WriteDataByLocalIdentifier(id byte, data []byte) error {
	args := make([]byte, 0, len(data)+1)
	args = append(args, id)
	args = append(args, data...)
	_, err := c.srv.ExecuteCommand(ServiceWriteDataByLocalIdentifier, args...)
	return err
}

// ReadMemoryByAddress reads size bytes of ECU memory at addr. The
// address is 24 bit and a single request carries at most 255 bytes.
func (c *Client) ReadMemoryByAddress(addr uint32, size byte) ([]byte, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadMemoryByAddress,
		byte(addr>>16), byte(addr>>8), byte(addr), size)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != int(size) {
		return nil, fmt.Errorf("memory read of %d bytes returned %d: %w", size, len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	return resp.Data, nil
}

// StartRoutine starts the routine behind a local identifier with the
// given entry options.
func (c *Client) StartRoutine(id byte, entry ...byte) error {
	args := make([]byte, 0, len(entry)+1)
	args = append(args, id)
	args = append(args, entry...)
	_, err := c.srv.ExecuteCommand(ServiceStartRoutineByLocalIdentifier, args...)
	return err
}

// StopRoutine stops the routine behind a local identifier.
func (c *Client) StopRoutine(id byte) error {
	_, err := c.srv.ExecuteCommand(ServiceStopRoutineByLocalIdentifier, id)
	return err
}

// RoutineResults fetches the results of a finished routine.
func (c *Client) RoutineResults(id byte) ([]byte, error) {
	resp, err := c.srv.ExecuteCommand(ServiceRequestRoutineResultsByLocalID, id)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 || resp.Data[0] != id {
		return nil, fmt.Errorf("expected routine identifier 0x%02X: %w", id, ecudiag.ErrWrongMessage)
	}
	return resp.Data[1:], nil
}

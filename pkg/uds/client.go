package uds

import (
	"fmt"
	"time"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dtc"
)

// ResetType selects how ECUReset restarts the ECU.
type ResetType byte

const (
	// HardReset simulates a forceful power off/on cycle.
	HardReset ResetType = 0x01
	// KeyOffOnReset simulates the usual ignition key cycle, non
	// volatile memory survives.
	KeyOffOnReset ResetType = 0x02
	// SoftReset reboots the running application only.
	SoftReset ResetType = 0x03
	// EnableRapidPowerShutDown arms rapid shutdown on the next key off.
	EnableRapidPowerShutDown ResetType = 0x04
	// DisableRapidPowerShutDown disarms it again.
	DisableRapidPowerShutDown ResetType = 0x05
)

// RoutineOperation is the RoutineControl sub function.
type RoutineOperation byte

const (
	StartRoutine          RoutineOperation = 0x01
	StopRoutine           RoutineOperation = 0x02
	RequestRoutineResults RoutineOperation = 0x03
)

// ReadDTCInformation sub functions.
const (
	reportNumberOfDTCByStatusMask = 0x01
	reportDTCByStatusMask         = 0x02
	reportSupportedDTC            = 0x0A
)

// ClearAllDTCs is the group-of-DTC value matching every stored code.
const ClearAllDTCs uint32 = 0xFFFFFF

// Client provides typed UDS operations on top of a running diagnostic
// server. It is not safe for concurrent use, hand each goroutine its
// own client.
type Client struct {
	srv *ecudiag.Server
	// format as last reported by the ECU, queried lazily
	dtcFormat dtc.Format
	hasFormat bool
}

func NewClient(srv *ecudiag.Server) *Client {
	return &Client{srv: srv}
}

// EnterExtendedSession puts the ECU into the extended diagnostic
// session, required for most adjustment and routine services.
func (c *Client) EnterExtendedSession() error {
	_, err := c.srv.EnterSession(SessionExtended)
	return err
}

// EnterDefaultSession returns the ECU to its power-on session.
func (c *Client) EnterDefaultSession() error {
	_, err := c.srv.EnterSession(SessionDefault)
	return err
}

// EnterProgrammingSession puts the ECU into the flash/reprogramming
// session.
func (c *Client) EnterProgrammingSession() error {
	_, err := c.srv.EnterSession(SessionProgramming)
	return err
}

// ECUReset asks the ECU to restart itself.
func (c *Client) ECUReset(rt ResetType) error {
	_, err := c.srv.ExecuteCommand(ServiceECUReset, byte(rt))
	return err
}

// EnableRapidPowerShutdown arms rapid power shutdown and returns the
// minimum time the ECU stays powered down.
func (c *Client) EnableRapidPowerShutdown() (time.Duration, error) {
	resp, err := c.srv.ExecuteCommand(ServiceECUReset, byte(EnableRapidPowerShutDown))
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 2 {
		return 0, fmt.Errorf("reset response of %d bytes: %w", len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	if resp.Data[1] == 0xFF {
		return 0, &ecudiag.ECUError{Service: ServiceECUReset, Code: 0x10, Desc: NRC(0x10).Desc()}
	}
	return time.Duration(resp.Data[1]) * time.Second, nil
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

// ReadDataByIdentifier reads one data identifier and returns its record
// bytes.
func (c *Client) ReadDataByIdentifier(did uint16) ([]byte, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadDataByIdentifier, byte(did>>8), byte(did))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 {
		return nil, fmt.Errorf("identifier response of %d bytes: %w", len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	if echo := uint16(resp.Data[0])<<8 | uint16(resp.Data[1]); echo != did {
		return nil, fmt.Errorf("asked for identifier 0x%04X, got 0x%04X: %w", did, echo, ecudiag.ErrWrongMessage)
	}
	return resp.Data[2:], nil
}

// VIN reads the vehicle identification number.
func (c *Client) VIN() (string, error) {
	data, err := c.ReadDataByIdentifier(DIDVIN)
	if err != nil {
		return "", err
	}
	if len(data) != 17 {
		return "", fmt.Errorf("vin record of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	return string(data), nil
}

// ActiveSession reads which diagnostic session the ECU believes it is
// in. Useful to detect a session timeout the tester missed.
func (c *Client) ActiveSession() (byte, error) {
	data, err := c.ReadDataByIdentifier(DIDActiveDiagnosticSession)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, fmt.Errorf("session record of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	return data[0], nil
}

// WriteDataByIdentifier writes one data identifier record.
func (c *Client) WriteDataByIdentifier(did uint16, data []byte) error {
	args := make([]byte, 0, len(data)+2)
	args = append(args, byte(did>>8), byte(did))
	args = append(args, data...)
	_, err := c.srv.ExecuteCommand(ServiceWriteDataByIdentifier, args...)
	return err
}

// ReadMemoryByAddress reads size bytes of ECU memory at addr, using
// the 4 byte address, 2 byte size format.
func (c *Client) ReadMemoryByAddress(addr uint32, size uint16) ([]byte, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadMemoryByAddress, 0x24,
		byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr),
		byte(size>>8), byte(size))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != int(size) {
		return nil, fmt.Errorf("memory read of %d bytes returned %d: %w", size, len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	return resp.Data, nil
}

// NumberOfDTCs returns the availability mask, the DTC format the ECU
// reports in and the number of codes matching mask.
func (c *Client) NumberOfDTCs(mask byte) (byte, dtc.Format, uint16, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadDTCInformation, reportNumberOfDTCByStatusMask, mask)
	if err != nil {
		return 0, dtc.FormatUnknown, 0, err
	}
	if len(resp.Data) != 5 {
		return 0, dtc.FormatUnknown, 0, fmt.Errorf("count response of %d bytes: %w", len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	format := dtc.FormatFromUDS(resp.Data[2])
	c.dtcFormat, c.hasFormat = format, true
	return resp.Data[1], format, uint16(resp.Data[3])<<8 | uint16(resp.Data[4]), nil
}

// ReadDTCs returns the codes stored on the ECU whose status matches
// mask. 0xFF matches everything.
func (c *Client) ReadDTCs(mask byte) ([]dtc.DTC, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadDTCInformation, reportDTCByStatusMask, mask)
	if err != nil {
		return nil, err
	}
	return c.parseDTCRecords(resp.Data, mask)
}

// SupportedDTCs returns every code the ECU can report regardless of
// status.
func (c *Client) SupportedDTCs() ([]dtc.DTC, error) {
	resp, err := c.srv.ExecuteCommand(ServiceReadDTCInformation, reportSupportedDTC)
	if err != nil {
		return nil, err
	}
	return c.parseDTCRecords(resp.Data, 0xFF)
}

func (c *Client) parseDTCRecords(data []byte, mask byte) ([]dtc.DTC, error) {
	// sub function echo and availability mask, then 4 byte records
	if len(data) < 2 {
		return nil, fmt.Errorf("dtc response of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	records := data[2:]
	if len(records) < 4 {
		return nil, nil
	}
	if len(records)%4 != 0 {
		return nil, fmt.Errorf("dtc records of %d bytes: %w", len(records), ecudiag.ErrInvalidResponseLength)
	}
	format := c.dtcFormat
	if !c.hasFormat {
		if _, f, _, err := c.NumberOfDTCs(mask); err == nil {
			format = f
		}
	}
	out := make([]dtc.DTC, 0, len(records)/4)
	for i := 0; i < len(records); i += 4 {
		status := records[i+3]
		out = append(out, dtc.DTC{
			Format:    format,
			Raw:       uint32(records[i])<<16 | uint32(records[i+1])<<8 | uint32(records[i+2]),
			Status:    dtc.StatusFromUDS(status),
			MILOn:     status&0x80 != 0,
			Readiness: status&0x10 != 0,
		})
	}
	return out, nil
}

// ClearDTCs erases the diagnostic information of a group of DTCs, use
// ClearAllDTCs for everything.
func (c *Client) ClearDTCs(group uint32) error {
	_, err := c.srv.ExecuteCommand(ServiceClearDiagnosticInformation,
		byte(group>>16), byte(group>>8), byte(group))
	return err
}

// RoutineControl drives one ECU routine and returns the routine status
// record.
func (c *Client) RoutineControl(op RoutineOperation, routineID uint16, args ...byte) ([]byte, error) {
	payload := make([]byte, 0, len(args)+3)
	payload = append(payload, byte(op), byte(routineID>>8), byte(routineID))
	payload = append(payload, args...)
	resp, err := c.srv.ExecuteCommand(ServiceRoutineControl, payload...)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 3 {
		return nil, fmt.Errorf("routine response of %d bytes: %w", len(resp.Data), ecudiag.ErrInvalidResponseLength)
	}
	if echo := uint16(resp.Data[1])<<8 | uint16(resp.Data[2]); echo != routineID {
		return nil, fmt.Errorf("asked for routine 0x%04X, got 0x%04X: %w", routineID, echo, ecudiag.ErrWrongMessage)
	}
	return resp.Data[3:], nil
}

// StartRoutineByID starts routineID with optional arguments.
func (c *Client) StartRoutineByID(routineID uint16, args ...byte) ([]byte, error) {
	return c.RoutineControl(StartRoutine, routineID, args...)
}

// StopRoutineByID stops routineID.
func (c *Client) StopRoutineByID(routineID uint16) ([]byte, error) {
	return c.RoutineControl(StopRoutine, routineID)
}

// RoutineResultsByID fetches the results of routineID.
func (c *Client) RoutineResultsByID(routineID uint16) ([]byte, error) {
	return c.RoutineControl(RequestRoutineResults, routineID)
}

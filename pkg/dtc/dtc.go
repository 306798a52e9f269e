// Package dtc holds the common diagnostic trouble code model shared by
// the UDS, KWP2000 and OBD2 dialects.
package dtc

import "fmt"

// Format tells how the raw DTC value should be interpreted.
type Format uint8

const (
	FormatUnknown Format = iota
	// FormatISO15031 is the 2 byte emissions format (P0122 style).
	FormatISO15031
	// FormatISO14229 is the 3 byte UDS format, 2 code bytes plus a
	// failure type byte.
	FormatISO14229
	// FormatSAEJ1939 is the heavy duty SPN/FMI format.
	FormatSAEJ1939
	// FormatISO11992 is the truck/trailer interface format.
	FormatISO11992
	// FormatTwoByteKWP is a raw 2 byte manufacturer code without the
	// P/C/B/U lettering.
	FormatTwoByteKWP
)

func (f Format) String() string {
	switch f {
	case FormatISO15031:
		return "ISO15031-6"
	case FormatISO14229:
		return "ISO14229-1"
	case FormatSAEJ1939:
		return "SAEJ1939-73"
	case FormatISO11992:
		return "ISO11992-4"
	case FormatTwoByteKWP:
		return "KWP2000"
	}
	return "unknown"
}

// FormatFromUDS maps the DTCFormatIdentifier byte reported by
// ReadDTCInformation to a Format.
func FormatFromUDS(b byte) Format {
	switch b {
	case 0x00:
		return FormatISO15031
	case 0x01:
		return FormatISO14229
	case 0x02:
		return FormatSAEJ1939
	case 0x03:
		return FormatISO11992
	}
	return FormatUnknown
}

// Status is the storage state of a DTC on the ECU.
type Status uint8

const (
	// StatusNone means the test passed or never ran.
	StatusNone Status = iota
	// StatusStored means the fault is confirmed and stored.
	StatusStored
	// StatusPending means the test failed but the fault is not yet
	// confirmed.
	StatusPending
	// StatusPermanent means the fault can only be cleared by the ECU
	// itself.
	StatusPermanent
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusStored:
		return "stored"
	case StatusPending:
		return "pending"
	case StatusPermanent:
		return "permanent"
	}
	return "unknown"
}

// StatusFromKWP decodes the storage state bits 5-6 of a KWP2000
// statusOfDTC byte.
func StatusFromKWP(b byte) Status {
	switch (b >> 5) & 0x03 {
	case 0:
		return StatusNone
	case 1:
		return StatusStored
	case 2:
		return StatusPending
	case 3:
		return StatusPermanent
	}
	return StatusUnknown
}

// StatusFromUDS decodes an ISO14229 DTC status byte. Bit 3 is
// confirmedDTC, bit 2 pendingDTC, bit 0 testFailed.
func StatusFromUDS(b byte) Status {
	switch {
	case b&0x08 != 0:
		return StatusStored
	case b&0x04 != 0, b&0x01 != 0:
		return StatusPending
	}
	return StatusNone
}

// DTC is one diagnostic trouble code as reported by an ECU.
type DTC struct {
	Format Format
	// Raw is the code value as the ECU sent it, 2 or 3 bytes depending
	// on Format.
	Raw    uint32
	Status Status
	// MILOn reports whether this code requests the malfunction
	// indicator lamp.
	MILOn bool
	// Readiness reports the test-not-completed flag where the dialect
	// carries one.
	Readiness bool
}

// Code renders the raw value in the notation of its format.
func (d DTC) Code() string {
	switch d.Format {
	case FormatISO15031:
		return decodeCode(byte(d.Raw>>8), byte(d.Raw))
	case FormatISO14229:
		return fmt.Sprintf("%s-%02X", decodeCode(byte(d.Raw>>16), byte(d.Raw>>8)), byte(d.Raw))
	case FormatTwoByteKWP:
		return fmt.Sprintf("%04X", d.Raw&0xFFFF)
	}
	return fmt.Sprintf("%06X", d.Raw)
}

func (d DTC) String() string {
	out := fmt.Sprintf("%s [%s]", d.Code(), d.Status)
	if d.MILOn {
		out += " MIL"
	}
	return out
}

// How to read the first two DTC bytes
//
//	B0 B1    First DTC character
//	-- --    -------------------
//	 0  0    P - Powertrain
//	 0  1    C - Chassis
//	 1  0    B - Body
//	 1  1    U - Network
//
//	B2 B3    Second DTC character 0-3
//	B4..B7   Third character 0-F, then one hex digit per nibble
//
// Example: E1 03 -> 1110 0001 0000 0011 -> U2103

// decodeCode decodes a 2-byte DTC value (a,b) into a string like
// "P0122". Returns "" if both bytes are zero, which usually means no
// code.
func decodeCode(a, b byte) string {
	if a == 0 && b == 0 {
		return ""
	}

	systemChars := [4]byte{'P', 'C', 'B', 'U'}
	secondDigit := [4]byte{'0', '1', '2', '3'}
	hexDigits := "0123456789ABCDEF"

	code := make([]byte, 5)
	code[0] = systemChars[(a>>6)&0x03]
	code[1] = secondDigit[(a>>4)&0x03]
	code[2] = hexDigits[a&0x0F]
	code[3] = hexDigits[(b>>4)&0x0F]
	code[4] = hexDigits[b&0x0F]
	return string(code)
}

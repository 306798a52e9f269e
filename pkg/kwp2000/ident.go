package kwp2000

import (
	"fmt"
	"strings"

	"github.com/albenik/bcd"

	"github.com/roffe/ecudiag"
)

// ReadECUIdentification pages. The 0x86 and 0x87 layouts follow the
// Daimler/MMC specification, the 0x9A-0x9F pages carry flash
// fingerprints and software block identification.
const (
	identDaimler         = 0x86
	identDaimlerMMC      = 0x87
	identOriginalVIN     = 0x88
	identVariantCode     = 0x89
	identCurrentVIN      = 0x90
	identCalibrationID   = 0x96
	identCVN             = 0x97
	identCodeFingerprint = 0x9A
	identDataFingerprint = 0x9B
	identCodeSoftwareID  = 0x9C
	identDataSoftwareID  = 0x9D
	identBootSoftwareID  = 0x9E
	identBootFingerprint = 0x9F
)

// bcdString renders BCD coded bytes as decimal digit pairs joined by
// sep, two digits per byte.
func bcdString(data []byte, sep string) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteString(sep)
		}
		fmt.Fprintf(&sb, "%02d", bcd.ToUint8(b))
	}
	return sb.String()
}

// DiagnosticInfo is the two byte diagnostic information record carried
// in the Daimler identification pages.
type DiagnosticInfo [2]byte

// Production reports whether the ECU runs production software. False
// means a development build.
func (d DiagnosticInfo) Production() bool { return d[0]&0x80 == 0 }

// ECUID returns the ECU id allocated by Daimler/MMC.
func (d DiagnosticInfo) ECUID() byte { return d[0] & 0x7F }

// BootSoftware reports whether the ECU is stuck in its boot block and
// cannot run the main program.
func (d DiagnosticInfo) BootSoftware() bool { return d[1] >= 0xE0 }

// InfoID returns the record as one 16 bit id.
func (d DiagnosticInfo) InfoID() uint16 { return uint16(d[0])<<8 | uint16(d[1]) }

func (d DiagnosticInfo) String() string {
	kind := "production"
	if !d.Production() {
		kind = "development"
	}
	if d.BootSoftware() {
		kind += ", boot software"
	}
	return fmt.Sprintf("ECU id 0x%02X (%s)", d.ECUID(), kind)
}

// ECUIdentification is the Daimler identification record behind page
// 0x86. The week, year, month and day fields stay BCD coded as the ECU
// sent them, use the date helpers for readable values.
type ECUIdentification struct {
	// PartNumber is the 10 digit part number.
	PartNumber        string
	HardwareBuildWeek byte
	HardwareBuildYear byte
	SoftwareBuildWeek byte
	SoftwareBuildYear byte
	// Supplier identifies who manufactured the ECU.
	Supplier        byte
	DiagInfo        DiagnosticInfo
	ProductionYear  byte
	ProductionMonth byte
	ProductionDay   byte
}

// ProductionDate formats the manufacturing date as dd/mm/yy.
func (i *ECUIdentification) ProductionDate() string {
	return bcdString([]byte{i.ProductionDay, i.ProductionMonth, i.ProductionYear}, "/")
}

// SoftwareDate formats the software build date as ww/yy.
func (i *ECUIdentification) SoftwareDate() string {
	return bcdString([]byte{i.SoftwareBuildWeek, i.SoftwareBuildYear}, "/")
}

// HardwareDate formats the hardware build date as ww/yy.
func (i *ECUIdentification) HardwareDate() string {
	return bcdString([]byte{i.HardwareBuildWeek, i.HardwareBuildYear}, "/")
}

func (i *ECUIdentification) String() string {
	return fmt.Sprintf("part %s supplier 0x%02X produced %s sw %s hw %s (%s)",
		i.PartNumber, i.Supplier, i.ProductionDate(), i.SoftwareDate(), i.HardwareDate(), i.DiagInfo)
}

func decodeECUIdentification(data []byte) (*ECUIdentification, error) {
	if len(data) != 17 {
		return nil, fmt.Errorf("identification page of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	return &ECUIdentification{
		PartNumber:        bcdString(data[1:6], ""),
		HardwareBuildWeek: data[6],
		HardwareBuildYear: data[7],
		SoftwareBuildWeek: data[8],
		SoftwareBuildYear: data[9],
		Supplier:          data[10],
		DiagInfo:          DiagnosticInfo{data[11], data[12]},
		ProductionYear:    data[14],
		ProductionMonth:   data[15],
		ProductionDay:     data[16],
	}, nil
}

// MMCIdentification is the Daimler/MMC identification record behind
// page 0x87.
type MMCIdentification struct {
	Origin   byte
	Supplier byte
	DiagInfo DiagnosticInfo
	// HardwareVersion is formatted as XX.YY
	HardwareVersion string
	// SoftwareVersion is formatted as XX.YY.ZZ
	SoftwareVersion string
	// PartNumber is a 10 character alphanumeric string.
	PartNumber string
}

func (i *MMCIdentification) String() string {
	return fmt.Sprintf("part %s supplier 0x%02X hw %s sw %s (%s)",
		i.PartNumber, i.Supplier, i.HardwareVersion, i.SoftwareVersion, i.DiagInfo)
}

func decodeMMCIdentification(data []byte) (*MMCIdentification, error) {
	if len(data) != 21 {
		return nil, fmt.Errorf("identification page of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	return &MMCIdentification{
		Origin:          data[1],
		Supplier:        data[2],
		DiagInfo:        DiagnosticInfo{data[3], data[4]},
		HardwareVersion: bcdString(data[6:8], "."),
		SoftwareVersion: bcdString(data[8:11], "."),
		PartNumber:      string(data[11:]),
	}, nil
}

// ModuleBlock describes one programmed code or data block.
type ModuleBlock struct {
	// ToolSupplier identifies the tool vendor that programmed the
	// block.
	ToolSupplier    byte
	ProgrammedYear  uint8
	ProgrammedMonth uint8
	ProgrammedDay   uint8
	// TesterSerial is the serial number of the tester that programmed
	// the block, 8 hex characters.
	TesterSerial string
}

// ModuleInformation is the flash fingerprint behind pages 0x9A, 0x9B
// and 0x9F.
type ModuleInformation struct {
	// ActiveLogicalBlocks is the number of blocks marked for erase,
	// 0x00 means none and 0xFE all of them.
	ActiveLogicalBlocks byte
	Blocks              []ModuleBlock
}

func decodeModuleInformation(data []byte) (*ModuleInformation, error) {
	if len(data) < 3 || (len(data)-3)%8 != 0 {
		return nil, fmt.Errorf("module information of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	mi := &ModuleInformation{ActiveLogicalBlocks: data[2]}
	for rest := data[3:]; len(rest) >= 8; rest = rest[8:] {
		mi.Blocks = append(mi.Blocks, ModuleBlock{
			ToolSupplier:    rest[0],
			ProgrammedYear:  bcd.ToUint8(rest[1]),
			ProgrammedMonth: bcd.ToUint8(rest[2]),
			ProgrammedDay:   bcd.ToUint8(rest[3]),
			TesterSerial:    fmt.Sprintf("%X", rest[4:8]),
		})
	}
	return mi, nil
}

// SoftwareBlock identifies one software block.
type SoftwareBlock struct {
	Supplier byte
	DiagInfo DiagnosticInfo
	// SoftwareVersion is formatted as XX.YY.ZZ
	SoftwareVersion string
	PartNumber      string
}

// SoftwareBlockIdentification is the software identification behind
// pages 0x9C, 0x9D and 0x9E.
type SoftwareBlockIdentification struct {
	Origin byte
	Blocks []SoftwareBlock
}

func decodeSoftwareBlockIdentification(data []byte) (*SoftwareBlockIdentification, error) {
	if len(data) < 3 || (len(data)-3)%17 != 0 {
		return nil, fmt.Errorf("software block identification of %d bytes: %w", len(data), ecudiag.ErrInvalidResponseLength)
	}
	id := &SoftwareBlockIdentification{Origin: data[2]}
	for rest := data[3:]; len(rest) >= 17; rest = rest[17:] {
		id.Blocks = append(id.Blocks, SoftwareBlock{
			Supplier:        rest[0],
			DiagInfo:        DiagnosticInfo{rest[1], rest[2]},
			SoftwareVersion: bcdString(rest[4:7], "."),
			PartNumber:      bcdString(rest[8:17], ""),
		})
	}
	return id, nil
}

package uds

import "fmt"

// Standard data identifiers from the ISO 14229 identification range.
// ECUs are free to leave any of them unimplemented, readers should
// treat a requestOutOfRange rejection as "not fitted" rather than a
// fault.
const (
	DIDBootSoftwareIdentification        uint16 = 0xF180
	DIDApplicationSoftwareIdentification uint16 = 0xF181
	DIDApplicationDataIdentification     uint16 = 0xF182
	DIDActiveDiagnosticSession           uint16 = 0xF186
	DIDManufacturerSparePartNumber       uint16 = 0xF187
	DIDManufacturerECUSoftwareNumber     uint16 = 0xF188
	DIDManufacturerECUSoftwareVersion    uint16 = 0xF189
	DIDSystemSupplierIdentifier          uint16 = 0xF18A
	DIDECUManufacturingDate              uint16 = 0xF18B
	DIDECUSerialNumber                   uint16 = 0xF18C
	DIDVIN                               uint16 = 0xF190
	DIDManufacturerECUHardwareNumber     uint16 = 0xF191
	DIDSupplierECUHardwareNumber         uint16 = 0xF192
	DIDSupplierECUHardwareVersion        uint16 = 0xF193
	DIDSupplierECUSoftwareNumber         uint16 = 0xF194
	DIDSupplierECUSoftwareVersion        uint16 = 0xF195
	DIDSystemName                        uint16 = 0xF197
	DIDRepairShopCode                    uint16 = 0xF198
	DIDProgrammingDate                   uint16 = 0xF199
)

var didNames = map[uint16]string{
	DIDBootSoftwareIdentification:        "BootSoftwareIdentification",
	DIDApplicationSoftwareIdentification: "ApplicationSoftwareIdentification",
	DIDApplicationDataIdentification:     "ApplicationDataIdentification",
	DIDActiveDiagnosticSession:           "ActiveDiagnosticSession",
	DIDManufacturerSparePartNumber:       "ManufacturerSparePartNumber",
	DIDManufacturerECUSoftwareNumber:     "ManufacturerECUSoftwareNumber",
	DIDManufacturerECUSoftwareVersion:    "ManufacturerECUSoftwareVersion",
	DIDSystemSupplierIdentifier:          "SystemSupplierIdentifier",
	DIDECUManufacturingDate:              "ECUManufacturingDate",
	DIDECUSerialNumber:                   "ECUSerialNumber",
	DIDVIN:                               "VIN",
	DIDManufacturerECUHardwareNumber:     "ManufacturerECUHardwareNumber",
	DIDSupplierECUHardwareNumber:         "SupplierECUHardwareNumber",
	DIDSupplierECUHardwareVersion:        "SupplierECUHardwareVersion",
	DIDSupplierECUSoftwareNumber:         "SupplierECUSoftwareNumber",
	DIDSupplierECUSoftwareVersion:        "SupplierECUSoftwareVersion",
	DIDSystemName:                        "SystemName",
	DIDRepairShopCode:                    "RepairShopCode",
	DIDProgrammingDate:                   "ProgrammingDate",
}

// DIDName returns the name of a standard data identifier, or its hex
// value for identifiers outside the standard range.
func DIDName(did uint16) string {
	if name, found := didNames[did]; found {
		return name
	}
	return fmt.Sprintf("0x%04X", did)
}

// IdentificationDIDs returns the identification records worth sweeping
// on an unknown ECU, in read order.
func IdentificationDIDs() []uint16 {
	return []uint16{
		DIDVIN,
		DIDManufacturerSparePartNumber,
		DIDManufacturerECUHardwareNumber,
		DIDManufacturerECUSoftwareNumber,
		DIDManufacturerECUSoftwareVersion,
		DIDECUSerialNumber,
		DIDECUManufacturingDate,
		DIDSystemSupplierIdentifier,
		DIDSystemName,
		DIDProgrammingDate,
	}
}

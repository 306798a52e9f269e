package dtc

import "testing"

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		dtc  DTC
		want string
	}{
		{"powertrain", DTC{Format: FormatISO15031, Raw: 0x0122}, "P0122"},
		{"network", DTC{Format: FormatISO15031, Raw: 0xE103}, "U2103"},
		{"chassis", DTC{Format: FormatISO15031, Raw: 0x4123}, "C0123"},
		{"body", DTC{Format: FormatISO15031, Raw: 0x8001}, "B0001"},
		{"no code", DTC{Format: FormatISO15031, Raw: 0}, ""},
		{"uds with failure type", DTC{Format: FormatISO14229, Raw: 0x01221F}, "P0122-1F"},
		{"kwp raw", DTC{Format: FormatTwoByteKWP, Raw: 0x2104}, "2104"},
		{"unknown format", DTC{Format: FormatUnknown, Raw: 0x12345}, "012345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dtc.Code(); got != tt.want {
				t.Errorf("Code() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusFromKWP(t *testing.T) {
	tests := []struct {
		in   byte
		want Status
	}{
		{0x00, StatusNone},
		{0x20, StatusStored},
		{0x40, StatusPending},
		{0x60, StatusPermanent},
		{0xA0, StatusStored}, // MIL bit does not change storage state
	}
	for _, tt := range tests {
		if got := StatusFromKWP(tt.in); got != tt.want {
			t.Errorf("StatusFromKWP(0x%02X) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStatusFromUDS(t *testing.T) {
	tests := []struct {
		in   byte
		want Status
	}{
		{0x00, StatusNone},
		{0x08, StatusStored},
		{0x04, StatusPending},
		{0x01, StatusPending},
		{0x2F, StatusStored},
		{0x10, StatusNone}, // testNotCompleted alone is not a fault
	}
	for _, tt := range tests {
		if got := StatusFromUDS(tt.in); got != tt.want {
			t.Errorf("StatusFromUDS(0x%02X) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatFromUDS(t *testing.T) {
	if got := FormatFromUDS(0x00); got != FormatISO15031 {
		t.Errorf("FormatFromUDS(0x00) = %v", got)
	}
	if got := FormatFromUDS(0x01); got != FormatISO14229 {
		t.Errorf("FormatFromUDS(0x01) = %v", got)
	}
	if got := FormatFromUDS(0x7F); got != FormatUnknown {
		t.Errorf("FormatFromUDS(0x7F) = %v", got)
	}
}

func TestString(t *testing.T) {
	d := DTC{Format: FormatISO15031, Raw: 0x0122, Status: StatusStored, MILOn: true}
	if got := d.String(); got != "P0122 [stored] MIL" {
		t.Errorf("String() = %q", got)
	}
}

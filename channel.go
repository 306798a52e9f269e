package ecudiag

import (
	"context"
	"time"
)

// Channel is a byte level pipe to a single ECU. Implementations are
// configured with SetIDs (and any protocol specific settings) before Open
// is called. Calls after Close or before Open return ErrNotOpen.
type Channel interface {
	// Open brings the underlying interface up. Only called after
	// configuration is complete.
	Open(ctx context.Context) error
	// Close tears the channel down. Safe to call more than once.
	Close() error
	// SetIDs sets the identifier the ECU listens on (send) and the
	// identifier the ECU answers from (recv).
	SetIDs(send, recv uint32) error
	// WriteBytes sends one payload to addr. A zero timeout writes without
	// waiting for completion. The slice is not retained after return.
	WriteBytes(addr uint32, data []byte, timeout time.Duration) error
	// ReadBytes returns the next payload. A zero timeout returns whatever
	// is buffered right away, ErrBufferEmpty if nothing is. The returned
	// slice is owned by the caller.
	ReadBytes(timeout time.Duration) ([]byte, error)
	// ClearTx discards anything queued for transmission.
	ClearTx() error
	// ClearRx discards anything received but not yet read.
	ClearRx() error
}

// IsoTPChannel is a Channel that transfers payloads larger than a single
// CAN frame using ISO 15765-2 segmentation.
type IsoTPChannel interface {
	Channel
	SetIsoTPConfig(cfg IsoTPSettings) error
}

// IsoTPSettings holds the ISO-TP parameters for a channel.
type IsoTPSettings struct {
	// BlockSize is the number of consecutive frames the sender may push
	// before waiting for the next flow control. 0 means no limit.
	BlockSize uint8
	// STMin is the minimum separation time between consecutive frames.
	// 0x00-0x7F milliseconds, 0xF1-0xF9 units of 100 microseconds.
	STMin uint8
	// ExtendedAddressing prepends the extended address byte to every frame,
	// shrinking single frame capacity to 6 bytes.
	ExtendedAddressing bool
	// PadFrame pads every frame to 8 bytes with 0xCC.
	PadFrame bool
	// CANSpeed is the bus speed in bit/s.
	CANSpeed uint32
	// CANExtendedID selects 29bit identifiers.
	CANExtendedID bool
	// EscapeFrames allows transfers over 4095 bytes using the 32bit
	// first frame length encoding.
	EscapeFrames bool
}

// DefaultIsoTPSettings returns the settings used when none are given.
func DefaultIsoTPSettings() IsoTPSettings {
	return IsoTPSettings{
		BlockSize: 8,
		STMin:     20,
		PadFrame:  true,
		CANSpeed:  500_000,
	}
}

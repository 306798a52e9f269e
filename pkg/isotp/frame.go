package isotp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// PCI frame kinds, upper nibble of the first PCI byte.
const (
	kindSingle      = 0x0
	kindFirst       = 0x1
	kindConsecutive = 0x2
	kindFlowControl = 0x3
)

// Flow control statuses, lower nibble of the flow control PCI byte.
const (
	flowCTS      = 0x0
	flowWait     = 0x1
	flowOverflow = 0x2
)

// PaddingByte fills frames up to 8 bytes when padding is enabled.
const PaddingByte = 0xCC

// MaxStandardTransfer is the largest payload expressible with the 12bit
// first frame length. Longer transfers need escape frames.
const MaxStandardTransfer = 4095

// stminDuration decodes a raw STmin byte. 0x00 means no gap, 0x01-0x7F
// milliseconds, 0xF1-0xF9 units of 100 microseconds, everything else
// clamps to 1ms.
func stminDuration(b byte) time.Duration {
	switch {
	case b == 0:
		return 0
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return time.Millisecond
	}
}

// encodeSingle builds the data bytes of a single frame. offset is 1 when
// extended addressing is in use, the caller prepends the address byte.
func encodeSingle(payload []byte, offset int) []byte {
	out := make([]byte, 0, offset+1+len(payload))
	out = out[:offset]
	out = append(out, byte(kindSingle<<4)|byte(len(payload)))
	return append(out, payload...)
}

// encodeFirst builds a first frame carrying the total length and as many
// leading payload bytes as fit. escape selects the 32bit length form.
// Returns the frame data and how many payload bytes it consumed.
func encodeFirst(payload []byte, offset int, escape bool) ([]byte, int) {
	out := make([]byte, 0, 8)
	out = out[:offset]
	if escape {
		out = append(out, kindFirst<<4, 0x00)
		out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	} else {
		total := len(payload)
		out = append(out, byte(kindFirst<<4)|byte(total>>8&0xF), byte(total))
	}
	n := 8 - len(out)
	out = append(out, payload[:n]...)
	return out, n
}

// encodeConsecutive builds one consecutive frame with the given sequence
// index. Returns the frame data and how many payload bytes it consumed.
func encodeConsecutive(payload []byte, seq byte, offset int) ([]byte, int) {
	n := min(len(payload), 7-offset)
	out := make([]byte, 0, offset+1+n)
	out = out[:offset]
	out = append(out, byte(kindConsecutive<<4)|seq&0xF)
	return append(out, payload[:n]...), n
}

// encodeFlowControl builds a flow control frame.
func encodeFlowControl(status, blockSize, stMin byte, offset int) []byte {
	out := make([]byte, 0, offset+3)
	out = out[:offset]
	return append(out, byte(kindFlowControl<<4)|status&0xF, blockSize, stMin)
}

type flowControl struct {
	status    byte
	blockSize byte
	stMin     byte
}

func decodeFlowControl(data []byte) (flowControl, error) {
	if len(data) < 3 {
		return flowControl{}, fmt.Errorf("flow control frame too short: %d bytes", len(data))
	}
	return flowControl{
		status:    data[0] & 0xF,
		blockSize: data[1],
		stMin:     data[2],
	}, nil
}

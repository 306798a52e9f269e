// Package isotp implements ISO 15765-2 segmentation on top of a frame
// level adapter, turning it into a payload level channel for the
// diagnostic server. All framing runs on the caller's goroutine, the
// transport spawns nothing of its own.
package isotp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roffe/ecudiag"
	"github.com/sirupsen/logrus"
)

// Stats counts wire activity of one transport.
type Stats struct {
	FramesSent       uint64
	FramesReceived   uint64
	BytesSent        uint64
	BytesReceived    uint64
	FlowControlWaits uint64
}

type filterable interface {
	SetFilter([]uint32) error
}

// Transport implements ecudiag.IsoTPChannel over an ecudiag.Adapter.
type Transport struct {
	adapter ecudiag.Adapter
	log     *logrus.Logger

	mu     sync.Mutex
	cfg    ecudiag.IsoTPSettings
	sendID uint32
	recvID uint32
	opened bool

	framesSent, framesReceived atomic.Uint64
	bytesSent, bytesReceived   atomic.Uint64
	fcWaits                    atomic.Uint64
}

// New creates a transport over adapter with default settings.
func New(adapter ecudiag.Adapter, opts ...Option) (*Transport, error) {
	if adapter == nil {
		return nil, fmt.Errorf("nil adapter: %w", ecudiag.ErrInvalidParameter)
	}
	t := &Transport{
		adapter: adapter,
		cfg:     ecudiag.DefaultIsoTPSettings(),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

type Option func(*Transport)

// WithLogger routes transport logging to log.
func WithLogger(log *logrus.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithSettings applies cfg at construction.
func WithSettings(cfg ecudiag.IsoTPSettings) Option {
	return func(t *Transport) { t.cfg = cfg }
}

// SetIsoTPConfig replaces the transport settings.
func (t *Transport) SetIsoTPConfig(cfg ecudiag.IsoTPSettings) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	return nil
}

// SetIDs configures the addressing pair before Open.
func (t *Transport) SetIDs(send, recv uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if send == 0 || recv == 0 {
		return fmt.Errorf("send and receive ids must be set: %w", ecudiag.ErrInvalidParameter)
	}
	t.sendID = send
	t.recvID = recv
	return nil
}

// Open brings the adapter up. SetIDs must have been called.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return nil
	}
	if t.sendID == 0 || t.recvID == 0 {
		return ecudiag.ErrNotConfigured
	}
	if err := t.adapter.Open(ctx); err != nil {
		return err
	}
	if f, ok := t.adapter.(filterable); ok {
		if err := f.SetFilter([]uint32{t.recvID}); err != nil {
			t.log.Debugf("[ISOTP] adapter filter not applied: %v", err)
		}
	}
	t.opened = true
	return nil
}

// Close shuts the adapter down. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return nil
	}
	t.opened = false
	return t.adapter.Close()
}

// ClearTx discards pending outgoing data. Frames are written through
// synchronously so there is never anything to discard here.
func (t *Transport) ClearTx() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return ecudiag.ErrNotOpen
	}
	return nil
}

// ClearRx drains every frame the adapter has buffered.
func (t *Transport) ClearRx() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return ecudiag.ErrNotOpen
	}
	for {
		select {
		case <-t.adapter.Recv():
		default:
			return nil
		}
	}
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		FramesSent:       t.framesSent.Load(),
		FramesReceived:   t.framesReceived.Load(),
		BytesSent:        t.bytesSent.Load(),
		BytesReceived:    t.bytesReceived.Load(),
		FlowControlWaits: t.fcWaits.Load(),
	}
}

func (t *Transport) addrOffset() int {
	if t.cfg.ExtendedAddressing {
		return 1
	}
	return 0
}

// maxEscapeTransfer caps escape frame transfers well below the 32bit
// wire limit so length arithmetic stays in int range everywhere.
const maxEscapeTransfer = 1 << 30

func (t *Transport) maxTransfer() int {
	if t.cfg.EscapeFrames {
		return maxEscapeTransfer
	}
	return MaxStandardTransfer
}

// WriteBytes sends one payload to addr, segmenting it when it does not
// fit a single frame. A zero timeout falls back to the default write
// timeout, segmented sends have to await flow control either way.
func (t *Transport) WriteBytes(addr uint32, data []byte, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return ecudiag.ErrNotOpen
	}
	if len(data) == 0 {
		return fmt.Errorf("empty payload: %w", ecudiag.ErrInvalidParameter)
	}
	if len(data) > t.maxTransfer() {
		return fmt.Errorf("payload %d over transfer limit %d: %w", len(data), t.maxTransfer(), ecudiag.ErrInvalidParameter)
	}
	if timeout == 0 {
		timeout = ecudiag.DefaultWriteTimeout
	}
	deadline := time.Now().Add(timeout)

	offset := t.addrOffset()
	if len(data) <= 7-offset {
		return t.pushFrame(addr, encodeSingle(data, offset), deadline)
	}
	return t.sendSegmented(addr, data, deadline, timeout)
}

func (t *Transport) sendSegmented(addr uint32, data []byte, deadline time.Time, timeout time.Duration) error {
	offset := t.addrOffset()
	escape := len(data) > MaxStandardTransfer

	first, consumed := encodeFirst(data, offset, escape)
	if err := t.pushFrame(addr, first, deadline); err != nil {
		return err
	}
	rest := data[consumed:]

	fc, deadline, err := t.awaitFlowControl(deadline, timeout)
	if err != nil {
		return err
	}
	blockSize := fc.blockSize
	gap := stminDuration(fc.stMin)

	seq := byte(1)
	inBlock := 0
	for len(rest) > 0 {
		frame, n := encodeConsecutive(rest, seq, offset)
		if err := t.pushFrame(addr, frame, deadline); err != nil {
			return err
		}
		rest = rest[n:]
		seq = (seq + 1) & 0xF
		inBlock++

		if len(rest) == 0 {
			break
		}
		if blockSize > 0 && inBlock == int(blockSize) {
			var fc flowControl
			fc, deadline, err = t.awaitFlowControl(deadline, timeout)
			if err != nil {
				return err
			}
			blockSize = fc.blockSize
			gap = stminDuration(fc.stMin)
			inBlock = 0
		}
		if gap > 0 {
			time.Sleep(gap)
		}
	}
	return nil
}

// awaitFlowControl blocks until the peer sends a flow control frame. A
// wait status re-arms the deadline with the original timeout, overflow
// aborts the transfer. The returned deadline carries any re-arming back
// to the caller.
func (t *Transport) awaitFlowControl(deadline time.Time, timeout time.Duration) (flowControl, time.Time, error) {
	for {
		frame, err := t.readFrame(deadline, "flow control")
		if err != nil {
			return flowControl{}, deadline, err
		}
		data := frame.Data[t.addrOffset():]
		if len(data) == 0 || data[0]>>4 != kindFlowControl {
			continue
		}
		fc, err := decodeFlowControl(data)
		if err != nil {
			return flowControl{}, deadline, err
		}
		t.fcWaits.Add(1)
		switch fc.status {
		case flowCTS:
			return fc, deadline, nil
		case flowWait:
			t.log.Debugf("[ISOTP] peer asks to wait")
			deadline = time.Now().Add(timeout)
			continue
		case flowOverflow:
			return flowControl{}, deadline, ecudiag.ErrOverflow
		default:
			return flowControl{}, deadline, fmt.Errorf("unknown flow control status 0x%X", fc.status)
		}
	}
}

// ReadBytes returns the next reassembled payload. A zero timeout drains
// only what the adapter already buffered and fails with ErrBufferEmpty
// when that is not a complete payload.
func (t *Transport) ReadBytes(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return nil, ecudiag.ErrNotOpen
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	offset := t.addrOffset()

	for {
		frame, err := t.readFrame(deadline, "read")
		if err != nil {
			return nil, err
		}
		data := frame.Data[offset:]
		if len(data) == 0 {
			continue
		}
		switch data[0] >> 4 {
		case kindSingle:
			length := int(data[0] & 0xF)
			if length == 0 || length > len(data)-1 {
				t.log.Debugf("[ISOTP] malformed single frame dropped")
				continue
			}
			out := make([]byte, length)
			copy(out, data[1:1+length])
			t.bytesReceived.Add(uint64(length))
			return out, nil
		case kindFirst:
			return t.receiveSegmented(data, deadline)
		case kindConsecutive:
			// no reassembly in progress, stray frame
			t.log.Debugf("[ISOTP] stray consecutive frame dropped")
			continue
		case kindFlowControl:
			continue
		}
	}
}

// receiveSegmented reassembles a transfer announced by the first frame in
// data. Answers with flow control frames carrying the local block size
// and separation time.
func (t *Transport) receiveSegmented(data []byte, deadline time.Time) ([]byte, error) {
	offset := t.addrOffset()

	total := int(data[0]&0xF)<<8 | int(data[1])
	leading := data[2:]
	if total == 0 {
		// 32bit escape length
		if len(data) < 6 {
			return nil, fmt.Errorf("escape first frame too short: %w", ecudiag.ErrSequence)
		}
		announced := uint32(data[2])<<24 | uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])
		if announced > uint32(t.maxTransfer()) {
			t.pushFrame(t.sendID, encodeFlowControl(flowOverflow, 0, 0, offset), deadline)
			return nil, fmt.Errorf("announced transfer of %d bytes over limit %d: %w", announced, t.maxTransfer(), ecudiag.ErrOverflow)
		}
		total = int(announced)
		leading = data[6:]
	}
	if total > t.maxTransfer() {
		t.pushFrame(t.sendID, encodeFlowControl(flowOverflow, 0, 0, offset), deadline)
		return nil, fmt.Errorf("announced transfer of %d bytes over limit %d: %w", total, t.maxTransfer(), ecudiag.ErrOverflow)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, leading[:min(len(leading), total)]...)

	fcOut := encodeFlowControl(flowCTS, t.cfg.BlockSize, t.cfg.STMin, offset)
	if err := t.pushFrame(t.sendID, fcOut, deadline); err != nil {
		return nil, err
	}

	expected := byte(1)
	inBlock := 0
	for len(buf) < total {
		frame, err := t.readFrame(deadline, "consecutive frame")
		if err != nil {
			return nil, err
		}
		data := frame.Data[offset:]
		if len(data) == 0 || data[0]>>4 != kindConsecutive {
			continue
		}
		if seq := data[0] & 0xF; seq != expected {
			return nil, fmt.Errorf("got sequence %d, expected %d: %w", seq, expected, ecudiag.ErrSequence)
		}
		expected = (expected + 1) & 0xF
		buf = append(buf, data[1:min(len(data), 1+total-len(buf))]...)
		inBlock++

		if t.cfg.BlockSize > 0 && inBlock == int(t.cfg.BlockSize) && len(buf) < total {
			if err := t.pushFrame(t.sendID, fcOut, deadline); err != nil {
				return nil, err
			}
			inBlock = 0
		}
	}
	t.bytesReceived.Add(uint64(total))
	return buf, nil
}

// readFrame pulls the next frame addressed to us. A zero deadline only
// drains what is already buffered.
func (t *Transport) readFrame(deadline time.Time, op string) (*ecudiag.CANFrame, error) {
	for {
		if deadline.IsZero() {
			select {
			case frame := <-t.adapter.Recv():
				if frame.Identifier != t.recvID {
					continue
				}
				t.framesReceived.Add(1)
				return frame, nil
			default:
				return nil, ecudiag.ErrBufferEmpty
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &ecudiag.TimeoutError{Op: op, Timeout: 0, Frames: []uint32{t.recvID}}
		}
		select {
		case frame := <-t.adapter.Recv():
			if frame.Identifier != t.recvID {
				continue
			}
			t.framesReceived.Add(1)
			return frame, nil
		case err := <-t.adapter.Err():
			if err == nil {
				return nil, ecudiag.ErrNotOpen
			}
			return nil, err
		case <-time.After(remaining):
			return nil, &ecudiag.TimeoutError{Op: op, Timeout: remaining, Frames: []uint32{t.recvID}}
		}
	}
}

// pushFrame stamps the extended address byte when configured, pads and
// hands one frame to the adapter.
func (t *Transport) pushFrame(addr uint32, data []byte, deadline time.Time) error {
	if t.cfg.ExtendedAddressing {
		data[0] = byte(addr)
	}
	if t.cfg.PadFrame && len(data) < 8 {
		padded := make([]byte, 8)
		n := copy(padded, data)
		for i := n; i < 8; i++ {
			padded[i] = PaddingByte
		}
		data = padded
	}
	frame := ecudiag.NewFrame(addr, data, ecudiag.Outgoing)
	frame.Extended = t.cfg.CANExtendedID

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return &ecudiag.TimeoutError{Op: "write", Timeout: remaining, Frames: []uint32{addr}}
	}
	select {
	case t.adapter.Send() <- frame:
		t.framesSent.Add(1)
		t.bytesSent.Add(uint64(len(data)))
		return nil
	case <-time.After(remaining):
		return &ecudiag.TimeoutError{Op: "write", Timeout: remaining, Frames: []uint32{addr}}
	}
}

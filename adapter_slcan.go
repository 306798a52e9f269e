package ecudiag

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

type SLCan struct {
	*BaseAdapter
	port    serial.Port
	closed  atomic.Bool
	workers *errgroup.Group
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SLCan",
		Description:        "Canable SLCan adapter",
		RequiresSerialPort: true,
		Capabilities: AdapterCapabilities{
			ISOTP: false,
			CAN:   true,
			KLine: false,
			SWCAN: false,
		},
		New: NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *AdapterConfig) (Adapter, error) {
	sl := &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
	}
	return sl, nil
}

func (sl *SLCan) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %w", sl.cfg.Port, err)
	}
	p.SetReadTimeout(3 * time.Millisecond)
	sl.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	if cmd := bitrateCommand(sl.cfg.CANRate); cmd != "" {
		p.Write([]byte(cmd))
	}
	time.Sleep(10 * time.Millisecond)
	p.Write([]byte("O\r"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sl.sendManager(gctx) })
	g.Go(func() error { return sl.recvManager(gctx) })
	sl.workers = g
	return nil
}

func bitrateCommand(canRate float64) string {
	switch canRate {
	case 10.0:
		return "S0\r"
	case 20.0:
		return "S1\r"
	case 50.0:
		return "S2\r"
	case 100.0:
		return "S3\r"
	case 125.0:
		return "S4\r"
	case 250.0:
		return "S5\r"
	case 500.0:
		return "S6\r"
	case 750.0:
		return "S7\r"
	case 1000.0:
		return "S8\r"
	}
	return ""
}

func (sl *SLCan) SetFilter(filters []uint32) error {
	return nil
}

func (sl *SLCan) Close() error {
	sl.closed.Store(true)
	sl.BaseAdapter.Close()
	if sl.port == nil {
		// never opened, or Open failed before the port came up
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	err := sl.port.Close()
	if sl.workers != nil {
		sl.workers.Wait()
	}
	return err
}

func (sl *SLCan) recvManager(ctx context.Context) error {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 16)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed.Load() {
				sl.Fatal(fmt.Errorf("failed to read com port: %w", err))
				return err
			}
			return nil
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(ctx, buf, readBuf[:n])
	}
	return nil
}

func (sl *SLCan) sendManager(ctx context.Context) error {
	outBuf := make([]byte, 0, 32)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sl.closeChan:
			return nil
		case frame := <-sl.sendChan:
			if err := sl.handleSend(frame, &outBuf); err != nil {
				sl.cfg.OnMessage(fmt.Sprintf("send error: %v", err))
			}
		}
	}
}

// handleSend encodes a frame in SLCAN wire format, reusing outBuf between
// calls: 't' + 3 hex digit ID + len nibble + data as hex + CR, or 'T' with
// a 8 hex digit ID for 29bit frames.
func (sl *SLCan) handleSend(frame *CANFrame, outBuf *[]byte) error {
	buf := (*outBuf)[:0]

	if frame.Extended {
		buf = append(buf, 'T')
		id := frame.Identifier & 0x1FFFFFFF
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(id>>shift)&0xF))
		}
	} else {
		buf = append(buf, 't')
		id := frame.Identifier & 0x7FF
		buf = append(buf, nybbleToHex(byte(id>>8)&0xF), nybbleToHex(byte(id>>4)&0xF), nybbleToHex(byte(id)&0xF))
	}

	dlc := min(frame.DLC(), 8)
	buf = append(buf, nybbleToHex(byte(dlc)&0xF))
	for i := 0; i < dlc; i++ {
		buf = append(buf, nybbleToHex(frame.Data[i]>>4), nybbleToHex(frame.Data[i]&0xF))
	}
	buf = append(buf, '\r')

	if _, err := sl.port.Write(buf); err != nil {
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	if sl.cfg.Debug {
		log.Debug(">> " + string(buf))
	}
	*outBuf = buf
	return nil
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(ctx context.Context, buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		if b != '\r' {
			buf = append(buf, b)
			continue
		}
		if len(buf) == 0 {
			continue
		}
		switch buf[0] {
		case 't', 'T':
			if sl.cfg.Debug {
				log.Debugf("<< %s", string(buf))
			}
			f, err := sl.decodeFrame(buf)
			if err != nil {
				sl.cfg.OnMessage(fmt.Sprintf("%v: %X", err, buf))
				buf = buf[:0]
				continue
			}
			select {
			case sl.recvChan <- f:
			case <-ctx.Done():
				return buf[:0]
			default:
				sl.Error(ErrDroppedFrame)
			}
		case 'z', 'Z':
			// transmit ack
		default:
			sl.Warn("Unknown>> " + string(buf))
		}
		buf = buf[:0]
	}
	return buf
}

func (*SLCan) decodeFrame(buff []byte) (*CANFrame, error) {
	idLen := 3
	extended := buff[0] == 'T'
	if extended {
		idLen = 8
	}
	if len(buff) < idLen+2 {
		return nil, fmt.Errorf("frame too short: %d", len(buff))
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %w", err)
	}
	dataLen, err := strconv.ParseUint(string(buff[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %w", err)
	}
	if dataLen > 8 {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	body := buff[2+idLen:]
	if uint64(len(body)) < dataLen*2 {
		return nil, fmt.Errorf("frame body too short: %d", len(body))
	}
	data, err := hex.DecodeString(string(body[:dataLen*2]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %w", err)
	}
	if extended {
		return NewExtendedFrame(uint32(id), data, Incoming), nil
	}
	return NewFrame(uint32(id), data, Incoming), nil
}

//go:build linux

package ecudiag

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/brutella/can"
	"golang.org/x/sync/errgroup"
)

const canEffFlag = 0x80000000

func init() {
	for _, dev := range FindSocketCANDevices() {
		name := "SocketCAN " + dev
		if err := RegisterAdapter(&AdapterInfo{
			Name:               name,
			Description:        "Linux SocketCAN driver",
			RequiresSerialPort: false,
			Capabilities: AdapterCapabilities{
				ISOTP: false,
				CAN:   true,
				KLine: false,
				SWCAN: true,
			},
			New: NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	*BaseAdapter
	bus     *can.Bus
	workers *errgroup.Group

	filterMu sync.RWMutex
	filter   map[uint32]struct{}
}

func NewSocketCANFromDevName(dev string) func(cfg *AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	sc := &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
		filter:      make(map[uint32]struct{}),
	}
	for _, id := range cfg.CANFilter {
		sc.filter[id] = struct{}{}
	}
	return sc, nil
}

// SetFilter installs a software receive filter, hardware filtering is not
// supported by the driver.
func (sc *SocketCAN) SetFilter(filters []uint32) error {
	sc.filterMu.Lock()
	defer sc.filterMu.Unlock()
	sc.filter = make(map[uint32]struct{}, len(filters))
	for _, id := range filters {
		sc.filter[id] = struct{}{}
	}
	return nil
}

func (sc *SocketCAN) Open(ctx context.Context) error {
	bus, err := can.NewBusForInterfaceWithName(sc.cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", sc.cfg.Port, err)
	}
	sc.bus = bus
	sc.bus.Subscribe(sc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sc.bus.ConnectAndPublish()
	})
	g.Go(func() error { return sc.sendManager(gctx) })
	sc.workers = g
	return nil
}

func (sc *SocketCAN) Close() error {
	sc.BaseAdapter.Close()
	err := sc.bus.Disconnect()
	sc.workers.Wait()
	return err
}

// Handle implements the brutella/can frame handler.
func (sc *SocketCAN) Handle(f can.Frame) {
	id := f.ID
	extended := id&canEffFlag != 0
	if extended {
		id &= 0x1FFFFFFF
	}
	sc.filterMu.RLock()
	_, pass := sc.filter[id]
	if len(sc.filter) == 0 {
		pass = true
	}
	sc.filterMu.RUnlock()
	if !pass {
		return
	}
	frame := NewFrame(id, f.Data[:min(int(f.Length), 8)], Incoming)
	frame.Extended = extended
	select {
	case sc.recvChan <- frame:
	default:
		sc.Error(ErrDroppedFrame)
	}
}

func (sc *SocketCAN) sendManager(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sc.closeChan:
			return nil
		case f := <-sc.sendChan:
			id := f.Identifier
			if f.Extended {
				id = id&0x1FFFFFFF | canEffFlag
			}
			frame := can.Frame{
				ID:     id,
				Length: uint8(min(f.DLC(), 8)),
			}
			copy(frame.Data[:], f.Data)
			if err := sc.bus.Publish(frame); err != nil {
				sc.cfg.OnMessage("send error: " + err.Error())
			}
		}
	}
}

func FindSocketCANDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}

package ecudiag

import (
	"context"
	"sync"
)

// VirtualBus is an in-process CAN segment. Every frame sent by an attached
// adapter is delivered to all other attached adapters. Used by the ECU
// simulator and by tests that need a bus without hardware.
type VirtualBus struct {
	mu   sync.Mutex
	ends []*VirtualAdapter
}

func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

// Attach creates a new adapter connected to the bus. The adapter still has
// to be opened before it moves frames.
func (b *VirtualBus) Attach(name string) *VirtualAdapter {
	va := &VirtualAdapter{
		BaseAdapter: NewBaseAdapter(name, &AdapterConfig{}),
		bus:         b,
	}
	b.mu.Lock()
	b.ends = append(b.ends, va)
	b.mu.Unlock()
	return va
}

func (b *VirtualBus) broadcast(src *VirtualAdapter, f *CANFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, end := range b.ends {
		if end == src {
			continue
		}
		in := NewFrame(f.Identifier, f.Data, Incoming)
		in.Extended = f.Extended
		select {
		case end.recvChan <- in:
		default:
			end.Error(ErrDroppedFrame)
		}
	}
}

// Close closes every adapter attached to the bus.
func (b *VirtualBus) Close() {
	b.mu.Lock()
	ends := b.ends
	b.ends = nil
	b.mu.Unlock()
	for _, end := range ends {
		end.BaseAdapter.Close()
	}
}

type VirtualAdapter struct {
	*BaseAdapter
	bus *VirtualBus
}

func (va *VirtualAdapter) Open(ctx context.Context) error {
	go va.pump(ctx)
	return nil
}

func (va *VirtualAdapter) Close() error {
	va.BaseAdapter.Close()
	return nil
}

func (va *VirtualAdapter) SetFilter(filters []uint32) error {
	return nil
}

func (va *VirtualAdapter) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-va.closeChan:
			return
		case f := <-va.sendChan:
			va.bus.broadcast(va, f)
		}
	}
}

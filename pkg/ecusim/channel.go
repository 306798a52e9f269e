package ecusim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roffe/ecudiag"
)

// Channel is a payload level connection to a simulated ECU. It
// implements the same surface the ISO-TP transport provides, so a
// diagnostic server runs against it unchanged. Delayed replies are
// delivered by timers, exactly like late frames on a real bus.
type Channel struct {
	ecu *ECU

	mu     sync.Mutex
	opened bool
	sendID uint32
	recvID uint32

	replies chan []byte
}

// Channel connects a new payload channel to the ECU.
func (e *ECU) Channel() *Channel {
	return &Channel{
		ecu:     e,
		replies: make(chan []byte, 32),
	}
}

func (c *Channel) SetIDs(send, recv uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if send == 0 || recv == 0 {
		return fmt.Errorf("send and receive ids must be set: %w", ecudiag.ErrInvalidParameter)
	}
	c.sendID = send
	c.recvID = recv
	return nil
}

func (c *Channel) SetIsoTPConfig(cfg ecudiag.IsoTPSettings) error {
	return nil
}

func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendID == 0 || c.recvID == 0 {
		return ecudiag.ErrNotConfigured
	}
	c.opened = true
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	return nil
}

func (c *Channel) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// WriteBytes hands one payload to the ECU. Replies are queued for
// ReadBytes, delayed ones land when due.
func (c *Channel) WriteBytes(addr uint32, data []byte, timeout time.Duration) error {
	if !c.isOpen() {
		return ecudiag.ErrNotOpen
	}
	for _, r := range c.ecu.Handle(data) {
		if r.Data == nil {
			continue
		}
		if r.Delay > 0 {
			payload := r.Data
			time.AfterFunc(r.Delay, func() { c.push(payload) })
			continue
		}
		c.push(r.Data)
	}
	return nil
}

func (c *Channel) push(data []byte) {
	select {
	case c.replies <- data:
	default:
	}
}

func (c *Channel) ReadBytes(timeout time.Duration) ([]byte, error) {
	if !c.isOpen() {
		return nil, ecudiag.ErrNotOpen
	}
	if timeout == 0 {
		select {
		case data := <-c.replies:
			return data, nil
		default:
			return nil, ecudiag.ErrBufferEmpty
		}
	}
	select {
	case data := <-c.replies:
		return data, nil
	case <-time.After(timeout):
		return nil, &ecudiag.TimeoutError{Op: "read", Timeout: timeout, Frames: []uint32{c.recvID}}
	}
}

func (c *Channel) ClearTx() error {
	if !c.isOpen() {
		return ecudiag.ErrNotOpen
	}
	return nil
}

func (c *Channel) ClearRx() error {
	if !c.isOpen() {
		return ecudiag.ErrNotOpen
	}
	for {
		select {
		case <-c.replies:
		default:
			return nil
		}
	}
}

package ecusim

import (
	"context"
	"errors"
	"time"

	"github.com/roffe/ecudiag"
)

const (
	servePoll         = 100 * time.Millisecond
	serveWriteTimeout = time.Second
)

// Serve answers requests arriving on ch with the handlers of e,
// transmitting replies on respondID. It returns once ctx is cancelled
// or the channel is closed underneath it. Malformed transfers are
// dropped, the next request starts clean.
func Serve(ctx context.Context, e *ECU, ch ecudiag.Channel, respondID uint32) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		payload, err := ch.ReadBytes(servePoll)
		if err != nil {
			if errors.Is(err, ecudiag.ErrNotOpen) {
				return nil
			}
			continue
		}
		for _, r := range e.Handle(payload) {
			if r.Data == nil {
				continue
			}
			if r.Delay > 0 {
				data := r.Data
				time.AfterFunc(r.Delay, func() { writeReply(e, ch, respondID, data) })
				continue
			}
			writeReply(e, ch, respondID, r.Data)
		}
	}
}

func writeReply(e *ECU, ch ecudiag.Channel, respondID uint32, data []byte) {
	if err := ch.WriteBytes(respondID, data, serveWriteTimeout); err != nil {
		e.log.Debugf("[SIM] reply dropped: %v", err)
	}
}

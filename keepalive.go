package ecudiag

import (
	"sync"
	"sync/atomic"
	"time"
)

// KeepAliveStats is a snapshot of the tester present task counters.
type KeepAliveStats struct {
	Sent    uint64
	Failed  uint64
	Skipped uint64
}

type keepAlive struct {
	srv      *Server
	interval time.Duration
	// configured is true when the task was armed from the server options
	// rather than by entering a session that needs keep-alive.
	configured bool

	sent, failed, skipped atomic.Uint64
	failureStreak         int

	stopOnce sync.Once
	stopChan chan struct{}
}

func newKeepAlive(srv *Server, interval time.Duration, configured bool) *keepAlive {
	return &keepAlive{
		srv:        srv,
		interval:   interval,
		configured: configured,
		stopChan:   make(chan struct{}),
	}
}

func (ka *keepAlive) start() {
	go ka.run()
}

func (ka *keepAlive) stop() {
	ka.stopOnce.Do(func() { close(ka.stopChan) })
}

func (ka *keepAlive) run() {
	ka.srv.log.Debugf("[KEEPALIVE] tester present every %s", ka.interval)
	ticker := time.NewTicker(ka.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ka.stopChan:
			return
		case <-ticker.C:
			ka.tick()
		}
	}
}

// tick sends one tester present message. When a foreground exchange holds
// the wire the tick is skipped outright, never queued behind it.
func (ka *keepAlive) tick() {
	if !ka.srv.wireMu.TryLock() {
		ka.skipped.Add(1)
		ka.srv.log.Debugf("[KEEPALIVE] wire busy, tick skipped")
		return
	}
	defer ka.srv.wireMu.Unlock()
	if ka.srv.State() != StateRunning {
		return
	}

	addr := ka.srv.opts.GlobalTPID
	if addr == 0 {
		addr = ka.srv.opts.SendID
	}
	req := ka.srv.proto.TesterPresent(ka.srv.opts.TesterPresentRequireResponse)
	ka.sent.Add(1)
	if _, err := ka.srv.exchange(addr, req, false); err != nil {
		ka.failed.Add(1)
		ka.failureStreak++
		if ka.failureStreak >= timeoutStreakLimit {
			ka.srv.markDisconnected()
		}
		ka.srv.log.Debugf("[KEEPALIVE] tester present failed: %v", err)
		return
	}
	ka.failureStreak = 0
}

// KeepAliveStats returns the counters of the running tester present task,
// zeroes when none is armed.
func (s *Server) KeepAliveStats() KeepAliveStats {
	s.mu.RLock()
	ka := s.ka
	s.mu.RUnlock()
	if ka == nil {
		return KeepAliveStats{}
	}
	return KeepAliveStats{
		Sent:    ka.sent.Load(),
		Failed:  ka.failed.Load(),
		Skipped: ka.skipped.Load(),
	}
}

func (s *Server) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.connected = false
		s.log.Warnf("[KEEPALIVE] ECU not answering tester present")
	}
}

// Package websocket - heartbeat timeout sweep.
// File: websocket/sweeper.go
package websocket

import (
	"time"

	"go-score-hub/logger"
	"go-score-hub/models"
)

// Sweeper periodically scans every active session for connections whose
// heartbeat has gone quiet and force-disconnects them. It runs independently
// of message handling and never takes a session lock, so a stuck session
// cannot stall liveness monitoring.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
}

// NewSweeper builds a sweeper over the coordinator's registry.
func NewSweeper(coord *Coordinator, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		coord:    coord,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

// Run blocks, sweeping until Stop is called. Start it with `go`.
func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() { close(s.stop) }

// sweepOnce disconnects every connection whose last heartbeat is older than
// the timeout. The judge's scores persist; other session members get a
// session_status update via the normal disconnect path.
func (s *Sweeper) sweepOnce() {
	for _, snap := range s.coord.Registry().AllActiveSessions() {
		for _, c := range s.coord.Registry().Connections(snap.Session.ID) {
			if c.State() != models.ConnConnected {
				continue
			}
			if time.Since(c.LastHeartbeat()) > s.timeout {
				logger.Warn.Printf("[Sweeper] heartbeat timeout for judge=%s session=%s (last=%v)",
					c.JudgeID, c.SessionID, c.LastHeartbeat())
				s.coord.Disconnect(c)
				_ = c.conn.Close()
			}
		}
	}
}

// Package idle periodically reaps PTY sessions and sandboxes that have sat
// without activity past a configured timeout. Adapted from the teacher's
// idle Detector, which ran a ticker loop posting heartbeats to an external
// control plane and waiting for a remote shutdown decision; this daemon
// has no external control plane to defer to; it is the control plane, so
// the same ticker-loop shape now drives local cleanup directly instead of
// a network round trip.
package idle

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cmux/sandboxd/internal/metrics"
)

// Reaper runs CleanupSessions and CleanupSandboxes on every tick of
// Interval, closing anything idle past MaxIdle.
type Reaper struct {
	Interval time.Duration
	MaxIdle  time.Duration

	// CleanupSessions closes PTY sessions idle past MaxIdle and returns
	// how many were closed.
	CleanupSessions func(maxIdle time.Duration) int
	// CleanupSandboxes closes sandboxes idle past MaxIdle and returns how
	// many were closed.
	CleanupSandboxes func(maxIdle time.Duration) int

	once sync.Once
	done chan struct{}
}

// Start begins the reap loop. Safe to call once; subsequent calls are
// no-ops.
func (r *Reaper) Start() {
	r.once.Do(func() {
		r.done = make(chan struct{})
		go r.loop()
	})
}

// Stop ends the reap loop. Idempotent.
func (r *Reaper) Stop() {
	if r.done == nil {
		return
	}
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *Reaper) loop() {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Reaper) reapOnce() {
	if r.CleanupSessions != nil {
		if n := r.CleanupSessions(r.MaxIdle); n > 0 {
			log.Info().Int("count", n).Msg("reaped idle pty sessions")
			metrics.ReapedTotal.WithLabelValues("pty_session").Add(float64(n))
		}
	}
	if r.CleanupSandboxes != nil {
		if n := r.CleanupSandboxes(r.MaxIdle); n > 0 {
			log.Info().Int("count", n).Msg("reaped idle sandboxes")
			metrics.ReapedTotal.WithLabelValues("sandbox").Add(float64(n))
		}
	}
}

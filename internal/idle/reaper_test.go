package idle

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestReaperCallsCleanupsOnEachTick(t *testing.T) {
	var sessionCalls, sandboxCalls atomic.Int32

	r := &Reaper{
		Interval: 10 * time.Millisecond,
		MaxIdle:  time.Minute,
		CleanupSessions: func(maxIdle time.Duration) int {
			sessionCalls.Add(1)
			return 0
		},
		CleanupSandboxes: func(maxIdle time.Duration) int {
			sandboxCalls.Add(1)
			return 0
		},
	}
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if sessionCalls.Load() > 0 && sandboxCalls.Load() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected both cleanups to have run at least once, got sessions=%d sandboxes=%d", sessionCalls.Load(), sandboxCalls.Load())
}

func TestReaperStopIsIdempotent(t *testing.T) {
	r := &Reaper{Interval: time.Hour}
	r.Start()
	r.Stop()
	r.Stop() // must not panic
}

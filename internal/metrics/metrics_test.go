package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetSandboxCountsUpdatesGauges(t *testing.T) {
	SetSandboxCounts(SandboxStatusCounts{"running": 3, "exited": 1})

	if got := testutil.ToFloat64(SandboxesTotal.WithLabelValues("running")); got != 3 {
		t.Errorf("running gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(SandboxesTotal.WithLabelValues("exited")); got != 1 {
		t.Errorf("exited gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(SandboxesTotal.WithLabelValues("failed")); got != 0 {
		t.Errorf("failed gauge = %v, want 0", got)
	}
}

func TestSetSandboxCountsZeroesMissingStatuses(t *testing.T) {
	SetSandboxCounts(SandboxStatusCounts{"running": 5, "exited": 2, "failed": 1})
	SetSandboxCounts(SandboxStatusCounts{"running": 1})

	if got := testutil.ToFloat64(SandboxesTotal.WithLabelValues("exited")); got != 0 {
		t.Errorf("exited gauge should reset to 0, got %v", got)
	}
	if got := testutil.ToFloat64(SandboxesTotal.WithLabelValues("failed")); got != 0 {
		t.Errorf("failed gauge should reset to 0, got %v", got)
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("expected non-nil metrics handler")
	}
}

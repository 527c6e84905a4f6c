package errorreport

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNilReporterSafe(t *testing.T) {
	var r *Reporter
	r.Start()
	r.Report(ErrorEntry{Message: "test"})
	r.ReportError(os.ErrNotExist, "source", "sandbox-1", nil)
	r.Shutdown()
}

func TestReportQueuesEntries(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "events.jsonl"), Config{
		FlushInterval: time.Hour,
		MaxBatchSize:  100,
		MaxQueueSize:  50,
	})
	r.Report(ErrorEntry{Message: "err1", Source: "test"})
	r.Report(ErrorEntry{Message: "err2", Source: "test"})

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) != 2 {
		t.Errorf("expected 2 entries in queue, got %d", len(r.queue))
	}
}

func TestReportDropsWhenQueueFull(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "events.jsonl"), Config{
		FlushInterval: time.Hour,
		MaxBatchSize:  100,
		MaxQueueSize:  3,
	})
	r.Report(ErrorEntry{Message: "err1", Source: "test"})
	r.Report(ErrorEntry{Message: "err2", Source: "test"})
	r.Report(ErrorEntry{Message: "err3", Source: "test"})
	r.Report(ErrorEntry{Message: "err4-dropped", Source: "test"})

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) != 3 {
		t.Errorf("expected 3 entries (capped), got %d", len(r.queue))
	}
}

func TestAutoEnrichTimestamp(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "events.jsonl"), Config{FlushInterval: time.Hour, MaxBatchSize: 100, MaxQueueSize: 50})
	r.Report(ErrorEntry{Message: "no-timestamp", Source: "test"})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue[0].Timestamp == "" {
		t.Error("expected timestamp to be auto-enriched")
	}
}

func TestPreserveExplicitTimestamp(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "events.jsonl"), Config{FlushInterval: time.Hour, MaxBatchSize: 100, MaxQueueSize: 50})
	ts := "2026-01-01T00:00:00Z"
	r.Report(ErrorEntry{Message: "with-timestamp", Source: "test", Timestamp: ts})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue[0].Timestamp != ts {
		t.Errorf("expected timestamp %q, got %q", ts, r.queue[0].Timestamp)
	}
}

func TestImmediateFlushAtBatchSizeWritesToSink(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "events.jsonl")
	r := New(sink, Config{FlushInterval: time.Hour, MaxBatchSize: 3, MaxQueueSize: 50})

	r.Report(ErrorEntry{Message: "err1", Source: "test"})
	r.Report(ErrorEntry{Message: "err2", Source: "test"})
	r.Report(ErrorEntry{Message: "err3", Source: "test"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n := countLines(t, sink); n == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 3 lines flushed to sink, got %d", countLines(t, sink))
}

func TestShutdownFlushesRemaining(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "events.jsonl")
	r := New(sink, Config{FlushInterval: time.Hour, MaxBatchSize: 100, MaxQueueSize: 50})
	r.Start()

	r.Report(ErrorEntry{Message: "remaining1", Source: "test"})
	r.Report(ErrorEntry{Message: "remaining2", Source: "test"})
	r.Shutdown()

	if n := countLines(t, sink); n != 2 {
		t.Errorf("expected 2 entries flushed on shutdown, got %d", n)
	}
}

func TestReportError(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "events.jsonl"), Config{FlushInterval: time.Hour, MaxBatchSize: 100, MaxQueueSize: 50})
	r.ReportError(errTest("something broke"), "sandbox-manager", "sandbox-123", map[string]interface{}{"step": "create"})

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(r.queue))
	}
	entry := r.queue[0]
	if entry.Level != "error" || entry.Message != "something broke" || entry.Source != "sandbox-manager" || entry.SandboxID != "sandbox-123" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestReportErrorNilError(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "events.jsonl"), Config{FlushInterval: time.Hour, MaxBatchSize: 100, MaxQueueSize: 50})
	r.ReportError(nil, "test", "", nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue[0].Message != "unknown error" {
		t.Errorf("expected 'unknown error', got %q", r.queue[0].Message)
	}
}

func TestDefaultConfig(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "events.jsonl"), Config{})
	if r.config.FlushInterval != 30*time.Second || r.config.MaxBatchSize != 10 || r.config.MaxQueueSize != 100 {
		t.Errorf("unexpected defaults: %+v", r.config)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e ErrorEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			n++
		}
	}
	return n
}

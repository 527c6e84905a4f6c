// Package errorreport batches operational error/warning/info events from
// across the daemon (sandbox create failures, proxy dial errors, git cache
// eviction problems) and periodically appends them to a local JSONL sink.
// Adapted from the teacher's errorreport package, which batched the same
// shape of entries and POSTed them to an external control plane's ingest
// API; this daemon has no such external control plane, so the transport
// becomes an append-only local file (the path passed to New) instead of
// an HTTP call, while the batching/backpressure/flush shape is
// unchanged. All methods are nil-safe: a nil *Reporter is a no-op.
package errorreport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrorEntry represents a single operational event to record.
type ErrorEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source"`
	Stack     string                 `json:"stack,omitempty"`
	SandboxID string                 `json:"sandboxId,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Config holds configuration for the error reporter.
type Config struct {
	FlushInterval time.Duration // How often to flush queued entries (default: 30s)
	MaxBatchSize  int           // Immediate flush threshold (default: 10)
	MaxQueueSize  int           // Maximum queued entries before dropping (default: 100)
}

// Reporter batches operational events and appends them to a local JSONL
// file. It is safe to call methods on a nil *Reporter — they simply no-op.
type Reporter struct {
	sinkPath string
	config   Config

	mu    sync.Mutex
	queue []ErrorEntry
	stopC chan struct{}
	doneC chan struct{}
}

// New creates a Reporter that appends batches to sinkPath.
func New(sinkPath string, cfg Config) *Reporter {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 10
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}

	return &Reporter{
		sinkPath: sinkPath,
		config:   cfg,
		queue:    make([]ErrorEntry, 0, cfg.MaxBatchSize),
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	go r.flushLoop()
}

// Shutdown flushes any remaining entries and stops the background goroutine.
func (r *Reporter) Shutdown() {
	if r == nil {
		return
	}
	close(r.stopC)
	<-r.doneC
}

// Report queues an entry for batched sending. If the queue reaches
// MaxBatchSize, a flush is triggered immediately.
func (r *Reporter) Report(entry ErrorEntry) {
	if r == nil {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	r.mu.Lock()
	if len(r.queue) >= r.config.MaxQueueSize {
		r.mu.Unlock()
		log.Warn().Int("max_queue_size", r.config.MaxQueueSize).Str("message", entry.Message).Msg("errorreport: queue full, dropping entry")
		return
	}
	r.queue = append(r.queue, entry)
	shouldFlush := len(r.queue) >= r.config.MaxBatchSize
	r.mu.Unlock()

	if shouldFlush {
		go r.flush()
	}
}

// ReportError is a convenience method that creates an ErrorEntry from an error.
func (r *Reporter) ReportError(err error, source, sandboxID string, ctx map[string]interface{}) {
	if r == nil {
		return
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.Report(ErrorEntry{Level: "error", Message: msg, Source: source, SandboxID: sandboxID, Context: ctx})
}

// ReportWarn is a convenience method for warn-level lifecycle events.
func (r *Reporter) ReportWarn(message, source, sandboxID string, ctx map[string]interface{}) {
	if r == nil {
		return
	}
	r.Report(ErrorEntry{Level: "warn", Message: message, Source: source, SandboxID: sandboxID, Context: ctx})
}

func (r *Reporter) flushLoop() {
	defer close(r.doneC)

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopC:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Reporter) flush() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.queue
	r.queue = make([]ErrorEntry, 0, r.config.MaxBatchSize)
	r.mu.Unlock()

	r.appendToSink(batch)
}

// appendToSink appends each entry as one JSON line to sinkPath, creating
// its parent directory if needed.
func (r *Reporter) appendToSink(entries []ErrorEntry) {
	if err := os.MkdirAll(filepath.Dir(r.sinkPath), 0o755); err != nil {
		log.Warn().Err(err).Msg("errorreport: failed to create sink directory")
		return
	}
	f, err := os.OpenFile(r.sinkPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("errorreport: failed to open sink file")
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			log.Warn().Err(err).Msg("errorreport: failed to write entry")
			return
		}
	}
}

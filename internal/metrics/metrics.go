// Package metrics exposes the daemon's Prometheus instrumentation: sandbox
// and PTY session counts, broadcast backpressure, IP pool utilization,
// workspace proxy request/error counts, and git cache size/eviction
// counters. Grounded on the metrics package of the warren example repo
// (package-level collectors registered once via MustRegister, exposed
// through promhttp.Handler), adapted from warren's cluster/raft/scheduler
// domain to sandboxd's sandbox/pty/proxy/gitcache domain.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SandboxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxd_sandboxes_total",
			Help: "Current number of tracked sandboxes by status",
		},
		[]string{"status"},
	)

	PTYSessionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_pty_sessions_total",
			Help: "Current number of live PTY sessions",
		},
	)

	IPPoolLeasesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_ip_pool_leases_in_use",
			Help: "Current number of leased /30 blocks in the IP pool",
		},
	)

	BroadcastDroppedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_broadcast_dropped_chunks_total",
			Help: "Total PTY output chunks dropped because a viewer's channel was full",
		},
	)

	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_proxy_requests_total",
			Help: "Total workspace proxy requests by outcome",
		},
		[]string{"outcome"},
	)

	ProxyRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxd_proxy_request_duration_seconds",
			Help:    "Workspace proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GitCacheEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_git_cache_entries_total",
			Help: "Current number of repo clones held in the git cache",
		},
	)

	GitCacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_git_cache_evictions_total",
			Help: "Total git cache clones evicted for exceeding the LRU cap",
		},
	)

	ReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_idle_reaped_total",
			Help: "Total resources reaped for sitting idle past the configured timeout",
		},
		[]string{"kind"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_http_requests_total",
			Help: "Total control-plane HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SandboxesTotal,
		PTYSessionsTotal,
		IPPoolLeasesInUse,
		BroadcastDroppedChunksTotal,
		ProxyRequestsTotal,
		ProxyRequestDuration,
		GitCacheEntriesTotal,
		GitCacheEvictionsTotal,
		ReapedTotal,
		HTTPRequestsTotal,
	)
}

// Handler returns the Prometheus scrape handler for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SandboxStatusCounts is the shape metrics callers supply to
// SetSandboxCounts: current tracked-sandbox counts keyed by status string
// ("running", "exited", "failed").
type SandboxStatusCounts map[string]int

// SetSandboxCounts overwrites the sandboxes-by-status gauge with a fresh
// snapshot, zeroing any status missing from counts so a status that
// transitions to empty doesn't linger at its last nonzero value.
func SetSandboxCounts(counts SandboxStatusCounts) {
	for _, status := range []string{"running", "exited", "failed"} {
		SandboxesTotal.WithLabelValues(status).Set(float64(counts[status]))
	}
}

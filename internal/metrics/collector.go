// Package metrics generalizes the teacher's chainadapter/metrics.ChainMetrics
// (internal/chainadapter/metrics) from "one chain adapter's RPC/build/sign/
// broadcast calls" to every stage of the swap backend: RPC calls, signing
// operations, payout attempts, refund attempts, and webhook deliveries (spec
// §4.10). Same RecordX/GetHealthStatus/Export/Reset shape, same hand-rolled
// Prometheus text format, no client_golang dependency.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector is the process-wide metrics sink. Every category is recorded
// through the same RecordEvent call, keyed by a (category, name) pair, e.g.
// ("rpc", "eth_getBalance"), ("sign", "ethereum"), ("payout", "bitcoin"),
// ("refund", "solana"), ("webhook", "<webhook-id>").
type Collector interface {
	RecordEvent(category, name string, duration time.Duration, success bool)
	GetHealthStatus() HealthStatus
	Export() string
	Reset()
}

type eventStats struct {
	totalCalls         int64
	successfulCalls    int64
	failedCalls        int64
	totalDuration      time.Duration
	minDuration        time.Duration
	maxDuration        time.Duration
	lastSuccessfulCall time.Time
	lastFailedCall     time.Time
}

// HealthStatus mirrors chainadapter/metrics.HealthStatus: "OK", "Degraded",
// or "Down", degraded once success rate drops below 90%, average latency
// exceeds 5s, or no call has succeeded in the last 5 minutes.
type HealthStatus struct {
	Status          string
	Message         string
	CheckedAt       time.Time
	LowSuccessRate  bool
	HighLatency     bool
	NoRecentSuccess bool
}

func (h HealthStatus) IsHealthy() bool  { return h.Status == "OK" }
func (h HealthStatus) IsDegraded() bool { return h.Status == "Degraded" }

// PrometheusCollector is the default Collector, grounded on the teacher's
// PrometheusMetrics (internal/chainadapter/metrics/prometheus.go).
type PrometheusCollector struct {
	mu sync.RWMutex

	events map[string]*eventStats // key: category + "|" + name

	totalCalls         int64
	successfulCalls    int64
	failedCalls        int64
	lastSuccessfulCall time.Time
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{events: make(map[string]*eventStats)}
}

func eventKey(category, name string) string { return category + "|" + name }

// RecordEvent is thread-safe; every pipeline stage calls it inline on the
// hot path (no batching), matching the teacher's RecordRPCCall contract.
func (c *PrometheusCollector) RecordEvent(category, name string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCalls++
	if success {
		c.successfulCalls++
		c.lastSuccessfulCall = time.Now()
	} else {
		c.failedCalls++
	}

	key := eventKey(category, name)
	stats, ok := c.events[key]
	if !ok {
		stats = &eventStats{minDuration: duration, maxDuration: duration}
		c.events[key] = stats
	}
	stats.totalCalls++
	stats.totalDuration += duration
	if success {
		stats.successfulCalls++
		stats.lastSuccessfulCall = time.Now()
	} else {
		stats.failedCalls++
		stats.lastFailedCall = time.Now()
	}
	if duration < stats.minDuration || stats.minDuration == 0 {
		stats.minDuration = duration
	}
	if duration > stats.maxDuration {
		stats.maxDuration = duration
	}
}

func (c *PrometheusCollector) GetHealthStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthStatusLocked()
}

func (c *PrometheusCollector) healthStatusLocked() HealthStatus {
	status := HealthStatus{CheckedAt: time.Now()}

	if c.totalCalls == 0 {
		status.Status = "OK"
		status.Message = "no events recorded yet"
		return status
	}

	successRate := float64(c.successfulCalls) / float64(c.totalCalls)
	var totalDuration time.Duration
	for _, s := range c.events {
		totalDuration += s.totalDuration
	}
	avgDuration := totalDuration / time.Duration(c.totalCalls)

	status.LowSuccessRate = successRate < 0.90
	status.HighLatency = avgDuration > 5*time.Second
	status.NoRecentSuccess = !c.lastSuccessfulCall.IsZero() && time.Since(c.lastSuccessfulCall) > 5*time.Minute

	if status.LowSuccessRate || status.HighLatency || status.NoRecentSuccess {
		status.Status = "Degraded"
		var reasons []string
		if status.LowSuccessRate {
			reasons = append(reasons, fmt.Sprintf("low success rate (%.1f%%)", successRate*100))
		}
		if status.HighLatency {
			reasons = append(reasons, fmt.Sprintf("high latency (%v)", avgDuration))
		}
		if status.NoRecentSuccess {
			reasons = append(reasons, fmt.Sprintf("no recent success (%v ago)", time.Since(c.lastSuccessfulCall)))
		}
		status.Message = strings.Join(reasons, ", ")
		return status
	}

	status.Status = "OK"
	status.Message = fmt.Sprintf("success rate %.1f%%, avg latency %v", successRate*100, avgDuration)
	return status
}

// Export renders every recorded category/name pair in Prometheus text
// format. Keys are sorted so output is stable across calls.
func (c *PrometheusCollector) Export() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.events))
	for k := range c.events {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("# HELP veilswap_events_total Total number of recorded events\n")
	sb.WriteString("# TYPE veilswap_events_total counter\n")
	for _, k := range keys {
		category, name := splitKey(k)
		s := c.events[k]
		sb.WriteString(fmt.Sprintf("veilswap_events_total{category=%q,name=%q,status=\"success\"} %d\n", category, name, s.successfulCalls))
		sb.WriteString(fmt.Sprintf("veilswap_events_total{category=%q,name=%q,status=\"failure\"} %d\n", category, name, s.failedCalls))
	}
	sb.WriteString("\n# HELP veilswap_event_duration_seconds Event duration in seconds\n")
	sb.WriteString("# TYPE veilswap_event_duration_seconds summary\n")
	for _, k := range keys {
		category, name := splitKey(k)
		s := c.events[k]
		if s.totalCalls == 0 {
			continue
		}
		avg := s.totalDuration.Seconds() / float64(s.totalCalls)
		sb.WriteString(fmt.Sprintf("veilswap_event_duration_seconds{category=%q,name=%q,quantile=\"avg\"} %.6f\n", category, name, avg))
		sb.WriteString(fmt.Sprintf("veilswap_event_duration_seconds{category=%q,name=%q,quantile=\"min\"} %.6f\n", category, name, s.minDuration.Seconds()))
		sb.WriteString(fmt.Sprintf("veilswap_event_duration_seconds{category=%q,name=%q,quantile=\"max\"} %.6f\n", category, name, s.maxDuration.Seconds()))
	}

	health := c.healthStatusLocked()
	healthValue := 0.0
	switch health.Status {
	case "OK":
		healthValue = 1.0
	case "Degraded":
		healthValue = 0.5
	}
	sb.WriteString("\n# HELP veilswap_health_status Health status (1=OK, 0.5=Degraded, 0=Down)\n")
	sb.WriteString("# TYPE veilswap_health_status gauge\n")
	sb.WriteString(fmt.Sprintf("veilswap_health_status %.1f\n", healthValue))

	return sb.String()
}

func splitKey(k string) (category, name string) {
	i := strings.IndexByte(k, '|')
	if i < 0 {
		return k, ""
	}
	return k[:i], k[i+1:]
}

func (c *PrometheusCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = make(map[string]*eventStats)
	c.totalCalls, c.successfulCalls, c.failedCalls = 0, 0, 0
	c.lastSuccessfulCall = time.Time{}
}

var _ Collector = (*PrometheusCollector)(nil)

// NoOp discards every event; used in tests and whenever metrics are disabled.
type NoOp struct{}

func (NoOp) RecordEvent(category, name string, duration time.Duration, success bool) {}
func (NoOp) GetHealthStatus() HealthStatus {
	return HealthStatus{Status: "OK", Message: "metrics disabled", CheckedAt: time.Now()}
}
func (NoOp) Export() string { return "" }
func (NoOp) Reset()         {}

var _ Collector = NoOp{}

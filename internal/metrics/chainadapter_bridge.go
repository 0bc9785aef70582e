package metrics

import (
	"time"

	chainmetrics "github.com/veilswap/core/internal/chainadapter/metrics"
)

// ChainAdapterBridge adapts a Collector to chainadapter/metrics.ChainMetrics,
// so the ethereum and solana adapters record into the same process-wide
// Collector as every other stage instead of keeping their own
// PrometheusMetrics instance.
type ChainAdapterBridge struct {
	chain string
	c     Collector
}

// NewChainAdapterBridge scopes RPC/build/sign/broadcast events for one
// ChainAdapter (chain is its network family, e.g. "ethereum") into category
// names RecordEvent/Export distinguish from every other stage's events.
func NewChainAdapterBridge(chain string, c Collector) *ChainAdapterBridge {
	return &ChainAdapterBridge{chain: chain, c: c}
}

func (b *ChainAdapterBridge) RecordRPCCall(method string, duration time.Duration, success bool) {
	b.c.RecordEvent("rpc."+b.chain, method, duration, success)
}

func (b *ChainAdapterBridge) RecordTransactionBuild(chainID string, duration time.Duration, success bool) {
	b.c.RecordEvent("build", b.chain, duration, success)
}

func (b *ChainAdapterBridge) RecordTransactionSign(chainID string, duration time.Duration, success bool) {
	b.c.RecordEvent("sign", b.chain, duration, success)
}

func (b *ChainAdapterBridge) RecordTransactionBroadcast(chainID string, duration time.Duration, success bool) {
	b.c.RecordEvent("broadcast", b.chain, duration, success)
}

// GetMetrics, GetRPCMetrics, GetHealthStatus, Export, and Reset are required
// by chainadapter/metrics.ChainMetrics but the bridge defers health/export
// reporting to the process-wide Collector rather than keeping a parallel
// aggregate; callers needing per-chain-adapter-only figures should read the
// Collector's Export() output, filtered by the "rpc.<chain>" category.
func (b *ChainAdapterBridge) GetMetrics() *chainmetrics.AggregatedMetrics { return &chainmetrics.AggregatedMetrics{} }
func (b *ChainAdapterBridge) GetRPCMetrics(method string) *chainmetrics.MethodMetrics { return nil }
func (b *ChainAdapterBridge) GetHealthStatus() chainmetrics.HealthStatus {
	h := b.c.GetHealthStatus()
	return chainmetrics.HealthStatus{Status: h.Status, Message: h.Message, CheckedAt: h.CheckedAt}
}
func (b *ChainAdapterBridge) Export() string { return b.c.Export() }
func (b *ChainAdapterBridge) Reset()         {}

var _ chainmetrics.ChainMetrics = (*ChainAdapterBridge)(nil)

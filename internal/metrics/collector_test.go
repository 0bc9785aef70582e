package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRecordEventAccumulatesStats(t *testing.T) {
	c := NewPrometheusCollector()
	c.RecordEvent("rpc", "eth_getBalance", 10*time.Millisecond, true)
	c.RecordEvent("rpc", "eth_getBalance", 20*time.Millisecond, false)

	out := c.Export()
	if !strings.Contains(out, `category="rpc",name="eth_getBalance",status="success"} 1`) {
		t.Errorf("export missing success count:\n%s", out)
	}
	if !strings.Contains(out, `category="rpc",name="eth_getBalance",status="failure"} 1`) {
		t.Errorf("export missing failure count:\n%s", out)
	}
}

func TestGetHealthStatusOKWithNoEvents(t *testing.T) {
	c := NewPrometheusCollector()
	h := c.GetHealthStatus()
	if !h.IsHealthy() {
		t.Errorf("status = %+v, want OK with no events recorded", h)
	}
}

func TestGetHealthStatusDegradedOnLowSuccessRate(t *testing.T) {
	c := NewPrometheusCollector()
	for i := 0; i < 8; i++ {
		c.RecordEvent("payout", "bitcoin", time.Millisecond, false)
	}
	for i := 0; i < 2; i++ {
		c.RecordEvent("payout", "bitcoin", time.Millisecond, true)
	}

	h := c.GetHealthStatus()
	if !h.IsDegraded() || !h.LowSuccessRate {
		t.Errorf("status = %+v, want Degraded with LowSuccessRate", h)
	}
}

func TestResetClearsAllState(t *testing.T) {
	c := NewPrometheusCollector()
	c.RecordEvent("sign", "ethereum", time.Millisecond, true)
	c.Reset()

	if out := c.Export(); strings.Contains(out, "ethereum") {
		t.Errorf("Export() after Reset() still mentions prior event:\n%s", out)
	}
	if !c.GetHealthStatus().IsHealthy() {
		t.Error("GetHealthStatus() after Reset() should be OK again")
	}
}

func TestChainAdapterBridgeRecordsUnderChainScopedCategory(t *testing.T) {
	c := NewPrometheusCollector()
	bridge := NewChainAdapterBridge("ethereum", c)

	bridge.RecordRPCCall("eth_call", 5*time.Millisecond, true)
	bridge.RecordTransactionSign("1", 2*time.Millisecond, true)

	out := c.Export()
	if !strings.Contains(out, `category="rpc.ethereum",name="eth_call"`) {
		t.Errorf("export missing rpc.ethereum category:\n%s", out)
	}
	if !strings.Contains(out, `category="sign",name="ethereum"`) {
		t.Errorf("export missing sign category:\n%s", out)
	}
}

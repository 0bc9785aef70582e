package rpcmux

import (
	"context"
	"testing"

	"github.com/veilswap/core/internal/chainadapter/rpc"
	"github.com/veilswap/core/internal/platform/corerr"
)

func newEndpoint(url string, priority int) *Endpoint {
	return &Endpoint{URL: url, Priority: priority, Weight: 1, TimeoutMS: 1000}
}

func TestMultiplexerFailsOverToNextEndpoint(t *testing.T) {
	primary := rpc.NewMockRPCClient()
	primary.SetError("eth_blockNumber", context.DeadlineExceeded)
	fallback := rpc.NewMockRPCClient()
	fallback.SetResponse("eth_blockNumber", "0x1")

	eps := []*Endpoint{newEndpoint("http://primary", 1), newEndpoint("http://fallback", 2)}
	clients := map[string]rpc.RPCClient{"http://primary": primary, "http://fallback": fallback}
	m := NewMultiplexer("ethereum", StrategyHealthScore, eps, clients)

	out, err := m.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("Call() error = %v, want fallback success", err)
	}
	if string(out) != `"0x1"` {
		t.Errorf("Call() = %s, want \"0x1\"", out)
	}
	if fallback.GetCallCount("eth_blockNumber") != 1 {
		t.Errorf("fallback call count = %d, want 1", fallback.GetCallCount("eth_blockNumber"))
	}
}

func TestMultiplexerNoHealthyEndpoints(t *testing.T) {
	client := rpc.NewMockRPCClient()
	client.SetError("eth_blockNumber", context.DeadlineExceeded)

	eps := []*Endpoint{newEndpoint("http://only", 1)}
	clients := map[string]rpc.RPCClient{"http://only": client}
	m := NewMultiplexer("ethereum", StrategyHealthScore, eps, clients)

	// Trip the circuit with 5 failed calls.
	for i := 0; i < 5; i++ {
		if _, err := m.Call(context.Background(), "eth_blockNumber", nil); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	_, err := m.Call(context.Background(), "eth_blockNumber", nil)
	if err == nil {
		t.Fatal("expected NoHealthyEndpoints error once circuit is open")
	}
	var coreErr *corerr.Error
	if !corerr.AsError(err, &coreErr) {
		t.Fatalf("error is not a corerr.Error: %v", err)
	}
	if coreErr.Code != corerr.CodeNoHealthyEndpoints {
		t.Errorf("Code = %v, want %v", coreErr.Code, corerr.CodeNoHealthyEndpoints)
	}
}

func TestMultiplexerHealthScoreTieBreakByPriorityThenURL(t *testing.T) {
	a := rpc.NewMockRPCClient()
	a.SetResponse("ping", "a")
	b := rpc.NewMockRPCClient()
	b.SetResponse("ping", "b")

	eps := []*Endpoint{newEndpoint("http://zzz", 1), newEndpoint("http://aaa", 1)}
	clients := map[string]rpc.RPCClient{"http://zzz": a, "http://aaa": b}
	m := NewMultiplexer("ethereum", StrategyHealthScore, eps, clients)

	out, err := m.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	// Both endpoints are fresh (equal score); lexicographically smaller
	// URL ("http://aaa") wins the tiebreak.
	if string(out) != `"b"` {
		t.Errorf("Call() = %s, want \"b\" (http://aaa selected by tiebreak)", out)
	}
}

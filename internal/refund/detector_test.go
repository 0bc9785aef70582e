package refund

import (
	"testing"
	"time"

	"github.com/veilswap/core/internal/store"
)

func TestDetectWaitingPastExpiry(t *testing.T) {
	now := time.Now()
	sw := &store.Swap{
		Status:    store.StatusWaiting,
		CreatedAt: now.Add(-5 * time.Minute),
		UpdatedAt: now.Add(-5 * time.Minute),
		ExpiresAt: now.Add(-1 * time.Second),
	}
	if got := Detect(sw, DefaultStageTimeouts(), now, 0); got != ActionInitiateRefund {
		t.Errorf("Detect() = %v, want %v", got, ActionInitiateRefund)
	}
}

func TestDetectWaitingWithinDeadline(t *testing.T) {
	now := time.Now()
	sw := &store.Swap{
		Status:    store.StatusWaiting,
		CreatedAt: now.Add(-1 * time.Minute),
		UpdatedAt: now.Add(-1 * time.Minute),
		ExpiresAt: now.Add(1 * time.Hour),
	}
	if got := Detect(sw, DefaultStageTimeouts(), now, 0); got != ActionWait {
		t.Errorf("Detect() = %v, want %v", got, ActionWait)
	}
}

func TestDetectExchangingStuckQueriesUpstream(t *testing.T) {
	now := time.Now()
	sw := &store.Swap{
		Status:    store.StatusExchanging,
		UpdatedAt: now.Add(-3 * time.Hour),
	}
	if got := Detect(sw, DefaultStageTimeouts(), now, 0); got != ActionQueryUpstream {
		t.Errorf("Detect() = %v, want %v", got, ActionQueryUpstream)
	}
}

func TestDetectSendingStuckRetriesThenEscalates(t *testing.T) {
	now := time.Now()
	sw := &store.Swap{
		Status:    store.StatusSending,
		UpdatedAt: now.Add(-2 * time.Hour),
	}
	if got := Detect(sw, DefaultStageTimeouts(), now, 0); got != ActionRetryPayout {
		t.Errorf("Detect() with fresh attempts = %v, want %v", got, ActionRetryPayout)
	}
	if got := Detect(sw, DefaultStageTimeouts(), now, MaxAttempts); got != ActionEscalateManual {
		t.Errorf("Detect() with exhausted attempts = %v, want %v", got, ActionEscalateManual)
	}
}

func TestDetectFailedInitiatesRefundUntilExhausted(t *testing.T) {
	now := time.Now()
	sw := &store.Swap{Status: store.StatusFailed, UpdatedAt: now}
	if got := Detect(sw, DefaultStageTimeouts(), now, 2); got != ActionInitiateRefund {
		t.Errorf("Detect() = %v, want %v", got, ActionInitiateRefund)
	}
	if got := Detect(sw, DefaultStageTimeouts(), now, MaxAttempts); got != ActionEscalateManual {
		t.Errorf("Detect() at max attempts = %v, want %v", got, ActionEscalateManual)
	}
}

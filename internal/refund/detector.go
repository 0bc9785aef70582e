package refund

import (
	"time"

	"github.com/veilswap/core/internal/store"
)

// Action is the detector's verdict for a swap's current stage (spec §4.5).
type Action string

const (
	ActionWait            Action = "wait"
	ActionQueryUpstream   Action = "query_upstream"
	ActionRetryPayout     Action = "retry_payout"
	ActionInitiateRefund  Action = "initiate_refund"
	ActionEscalateManual  Action = "escalate_manual"
)

// StageTimeouts are the per-stage deadlines of spec §4.5.
type StageTimeouts struct {
	Deposit    time.Duration
	Processing time.Duration
	Payout     time.Duration
	Refund     time.Duration
}

// DefaultStageTimeouts matches spec §4.5's defaults.
func DefaultStageTimeouts() StageTimeouts {
	return StageTimeouts{
		Deposit:    30 * time.Minute,
		Processing: 2 * time.Hour,
		Payout:     1 * time.Hour,
		Refund:     30 * time.Minute,
	}
}

// Detect classifies a swap's current stage and decides the next action,
// given the time it entered its current status and the in-flight
// refund's attempt count, if any (0 when no refund has been attempted).
func Detect(sw *store.Swap, timeouts StageTimeouts, now time.Time, refundAttempt int) Action {
	switch sw.Status {
	case store.StatusWaiting, store.StatusConfirming:
		if now.After(sw.ExpiresAt) {
			return ActionInitiateRefund
		}
		if now.Sub(sw.CreatedAt) > timeouts.Deposit {
			return ActionInitiateRefund
		}
		return ActionWait
	case store.StatusExchanging:
		if now.Sub(sw.UpdatedAt) > timeouts.Processing {
			return ActionQueryUpstream
		}
		return ActionWait
	case store.StatusSending:
		if now.Sub(sw.UpdatedAt) > timeouts.Payout {
			if refundAttempt < MaxAttempts {
				return ActionRetryPayout
			}
			return ActionEscalateManual
		}
		return ActionWait
	case store.StatusFailed:
		if refundAttempt >= MaxAttempts {
			return ActionEscalateManual
		}
		return ActionInitiateRefund
	default:
		return ActionWait
	}
}

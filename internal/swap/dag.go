// Package swap implements the swap lifecycle engine of spec §4.1: the
// create_swap/get_swap/list_history/advance operation set and the state
// DAG those operations drive through.
package swap

import "github.com/veilswap/core/internal/store"

// Event is a trigger that may move a swap forward in the state DAG.
type Event string

const (
	EventDepositDetected Event = "deposit_detected"   // waiting -> confirming
	EventConfirmed       Event = "confirmed"          // confirming -> exchanging
	EventUpstreamDone    Event = "upstream_done"       // exchanging -> sending
	EventFundsReceived   Event = "funds_received"      // sending -> funds_received
	EventPayoutCompleted Event = "payout_completed"    // funds_received -> completed
	EventExpired         Event = "expired"             // waiting|confirming -> expired
	EventFailed          Event = "failed"              // any non-terminal -> failed
	EventRefunded        Event = "refunded"            // failed -> refunded
)

// terminalStatuses are the DAG's sink states; no Event moves a swap out of
// one of these except EventRefunded out of failed.
var terminalStatuses = map[store.SwapStatus]bool{
	store.StatusCompleted:    true,
	store.StatusExpired:      true,
	store.StatusFailedManual: true,
	store.StatusRefunded:     true,
}

// linearTransitions are the DAG edges that apply from a single specific
// source state (spec §4.1).
var linearTransitions = map[store.SwapStatus]map[Event]store.SwapStatus{
	store.StatusWaiting: {
		EventDepositDetected: store.StatusConfirming,
		EventExpired:         store.StatusExpired,
	},
	store.StatusConfirming: {
		EventConfirmed: store.StatusExchanging,
		EventExpired:   store.StatusExpired,
	},
	store.StatusExchanging: {
		EventUpstreamDone: store.StatusSending,
	},
	store.StatusSending: {
		EventFundsReceived: store.StatusFundsReceived,
	},
	store.StatusFundsReceived: {
		EventPayoutCompleted: store.StatusCompleted,
	},
	store.StatusFailed: {
		EventRefunded: store.StatusRefunded,
	},
}

// ErrInvalidTransition is returned when an event cannot apply from the
// swap's current state (and is not a no-op re-application).
type ErrInvalidTransition struct {
	From  store.SwapStatus
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return "swap: event " + string(e.Event) + " is not valid from status " + string(e.From)
}

// Next computes the status an Event moves a swap to from its current
// status, or returns ok=false if the transition is invalid. EventFailed
// applies from any non-terminal state (spec §4.1: "any non-terminal ->
// failed"); every other event only applies from the specific source
// state(s) named in linearTransitions.
func Next(from store.SwapStatus, event Event) (store.SwapStatus, bool) {
	if event == EventFailed {
		if terminalStatuses[from] {
			return "", false
		}
		return store.StatusFailed, true
	}
	edges, ok := linearTransitions[from]
	if !ok {
		return "", false
	}
	to, ok := edges[event]
	return to, ok
}

// IsTerminal reports whether status is a DAG sink.
func IsTerminal(status store.SwapStatus) bool {
	return terminalStatuses[status]
}

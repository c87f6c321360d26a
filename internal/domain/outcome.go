// internal/domain/outcome.go
package domain

// State is a TransactionCoordinator state. Error is terminal and reachable
// from any non-terminal state.
type State string

const (
	StateReady        State = "ready"
	StateAmountSet    State = "amount_set"
	StateAwaitingCard State = "awaiting_card"
	StateCardRead     State = "card_read"
	StatePinRequired  State = "pin_required"
	StateAuthorizing  State = "authorizing"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Outcome is the sealed set of events a transaction or reversal flow pushes
// to its consumer. Each variant carries exactly the fields valid for it.
type Outcome interface {
	isOutcome()
}

// OutcomeState reports a state transition.
type OutcomeState struct {
	State State `json:"state"`
}

// OutcomePinRequired asks the consumer to collect a PIN for the pending
// amount. Emitted only when a PIN key is registered.
type OutcomePinRequired struct {
	Amount int64 `json:"amount"`
}

// OutcomeCompleted carries the terminal decision. Transaction is the record
// as persisted to the ledger.
type OutcomeCompleted struct {
	Transaction *Transaction `json:"transaction"`
}

// OutcomeFailed is a terminal failure. ReversalQueued is true when the
// outcome was ambiguous at-or-after authorization and a reversal obligation
// was enqueued.
type OutcomeFailed struct {
	State          State  `json:"state"`
	Err            error  `json:"-"`
	Reason         string `json:"reason"`
	ReversalQueued bool   `json:"reversal_queued"`
}

// OutcomeReversalQueued reports that a reversal obligation was durably
// enqueued for later retry.
type OutcomeReversalQueued struct {
	RRN  string `json:"rrn,omitempty"`
	STAN string `json:"stan"`
}

func (OutcomeState) isOutcome()          {}
func (OutcomePinRequired) isOutcome()    {}
func (OutcomeCompleted) isOutcome()      {}
func (OutcomeFailed) isOutcome()         {}
func (OutcomeReversalQueued) isOutcome() {}

// internal/domain/reversal.go
package domain

import "time"

type ReversalOutcome string

const (
	ReversalPending   ReversalOutcome = "pending"
	ReversalSucceeded ReversalOutcome = "succeeded"
	ReversalAbandoned ReversalOutcome = "abandoned"
)

// ReversalJob is a durable reversal obligation. It is removed from the
// active queue only when the network confirms the reversal; after the
// abandon threshold it is retained as a failed record for manual
// reconciliation, never silently dropped.
//
// RRN may be empty when the obligation comes from an ambiguous outcome that
// never produced an RRN (authorization sent, no response confirmed); the
// acquirer matches such reversals by STAN.
type ReversalJob struct {
	RRN         string          `json:"rrn,omitempty"`
	STAN        string          `json:"stan"`
	Amount      int64           `json:"amount"`
	Attempts    int             `json:"attempts"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	Outcome     ReversalOutcome `json:"outcome"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Key identifies the job in the queue. At most one active job may exist per
// key at a time.
func (j *ReversalJob) Key() string {
	if j.RRN != "" {
		return j.RRN
	}
	return "stan:" + j.STAN
}

// internal/usecase/interfaces.go
package usecase

import (
	"context"
	"time"

	"pos-terminal/internal/domain"
)

// TransactionLedger is the slice of the ledger the flows depend on.
type TransactionLedger interface {
	Append(ctx context.Context, t *domain.Transaction) error
	GetByRRN(ctx context.Context, rrn string) (*domain.Transaction, error)
	ReversalFor(ctx context.Context, rrn string) (*domain.Transaction, error)
	NextSTAN(ctx context.Context) (string, error)
}

// KeyStateSource provides the currently registered PIN key metadata.
type KeyStateSource interface {
	Current(ctx context.Context) (domain.KeyState, error)
}

// ReversalStore is the durable reversal obligation queue.
type ReversalStore interface {
	Enqueue(ctx context.Context, job *domain.ReversalJob) (*domain.ReversalJob, error)
	MarkSucceeded(ctx context.Context, key string) error
	MarkAttempt(ctx context.Context, key string, nextRetryAt time.Time, lastErr string) error
	MarkAbandoned(ctx context.Context, key string, lastErr string) error
}

// SchemeConfigurer prepares the reader before card detection.
type SchemeConfigurer interface {
	ApplySchemeConfig(ctx context.Context, visa, mastercard *domain.BrandProfile) error
}

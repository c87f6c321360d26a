// internal/usecase/reversal.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-terminal/internal/acquirer"
	"pos-terminal/internal/domain"
)

// ReversalService constructs and submits reversal requests, and executes
// queued reversal jobs on behalf of the background worker. At most one
// reversal attempt is in flight per RRN at any time; a second Reverse call
// for the same RRN is rejected, not silently duplicated.
type ReversalService struct {
	ledger     TransactionLedger
	queue      ReversalStore
	authorizer acquirer.Authorizer
	currency   string
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewReversalService(
	ledger TransactionLedger,
	queue ReversalStore,
	authorizer acquirer.Authorizer,
	currency string,
	logger *zap.Logger,
) *ReversalService {
	return &ReversalService{
		ledger:     ledger,
		queue:      queue,
		authorizer: authorizer,
		currency:   currency,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

// Reverse submits a reversal for a previously completed transaction. The
// RRN is validated before any I/O. On network failure the obligation is
// enqueued durably and a queued outcome is emitted; the retry loop owns it
// from there.
func (s *ReversalService) Reverse(ctx context.Context, rrn string) (<-chan domain.Outcome, error) {
	if !domain.ValidRRN(rrn) {
		return nil, domain.ErrInvalidRRN
	}
	if !s.acquire(rrn) {
		return nil, domain.ErrReversalInProgress
	}

	orig, err := s.ledger.GetByRRN(ctx, rrn)
	if err != nil {
		s.release(rrn)
		return nil, err
	}
	// A reversal record on the ledger means the acquirer already gave a
	// definitive answer; a second submission would double-reverse.
	if _, err := s.ledger.ReversalFor(ctx, rrn); err == nil {
		s.release(rrn)
		return nil, domain.ErrAlreadyReversed
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		s.release(rrn)
		return nil, err
	}

	ch := make(chan domain.Outcome, 8)
	go func() {
		defer close(ch)
		defer s.release(rrn)

		ch <- domain.OutcomeState{State: domain.StateAuthorizing}

		txn, err := s.submit(ctx, rrn, orig.STAN, orig.Amount, orig.Currency)
		if err != nil {
			job := &domain.ReversalJob{RRN: rrn, STAN: orig.STAN, Amount: orig.Amount}
			if _, qerr := s.queue.Enqueue(ctx, job); qerr != nil {
				s.logger.Error("failed to enqueue reversal job",
					zap.String("rrn", rrn), zap.Error(qerr))
				ch <- domain.OutcomeFailed{
					State:  domain.StateAuthorizing,
					Err:    err,
					Reason: err.Error(),
				}
				return
			}
			s.logger.Warn("reversal attempt failed, job queued for retry",
				zap.String("rrn", rrn), zap.Error(err))
			ch <- domain.OutcomeReversalQueued{RRN: rrn, STAN: orig.STAN}
			return
		}

		ch <- domain.OutcomeState{State: domain.StateCompleted}
		ch <- domain.OutcomeCompleted{Transaction: txn}
	}()
	return ch, nil
}

// ExecuteJob runs one queued reversal attempt. Returns nil when the job was
// confirmed (and removed) or when it was skipped because a foreground
// attempt holds the in-flight guard; returns the network error otherwise so
// the worker can schedule the next retry.
func (s *ReversalService) ExecuteJob(ctx context.Context, job *domain.ReversalJob) error {
	key := job.Key()
	if !s.acquire(key) {
		s.logger.Debug("reversal job skipped, attempt already in flight",
			zap.String("key", key))
		return nil
	}
	defer s.release(key)

	currency := s.currency
	if job.RRN != "" {
		// A crash between the reversal append and the queue removal leaves
		// the job behind; the ledger record makes the retry a no-op.
		if _, err := s.ledger.ReversalFor(ctx, job.RRN); err == nil {
			s.logger.Info("reversal already on ledger, removing stale job",
				zap.String("rrn", job.RRN))
			return s.queue.MarkSucceeded(ctx, key)
		}
		if orig, err := s.ledger.GetByRRN(ctx, job.RRN); err == nil {
			currency = orig.Currency
		}
	}

	_, err := s.submit(ctx, job.RRN, job.STAN, job.Amount, currency)
	return err
}

// submit performs the network call and, once the acquirer has answered,
// persists the reversal record and removes the queued obligation. Both an
// acquirer success and an explicit refusal are definitive answers; only a
// transport failure leaves the obligation standing.
func (s *ReversalService) submit(ctx context.Context, rrn, stan string, amount int64, currency string) (*domain.Transaction, error) {
	resp, err := s.authorizer.Reverse(ctx, &acquirer.ReversalRequest{
		RRN:    rrn,
		STAN:   stan,
		Amount: fmt.Sprintf("%012d", amount),
	})
	if err != nil {
		return nil, err
	}

	newSTAN, err := s.ledger.NextSTAN(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	status := domain.TransactionStatusApproved
	if !resp.Success {
		status = domain.TransactionStatusDeclined
	}
	respRRN := resp.RRN
	if respRRN == "" {
		respRRN = rrn
	}

	txn := &domain.Transaction{
		ID:              uuid.NewString(),
		STAN:            newSTAN,
		Type:            domain.TransactionTypeReversal,
		Status:          status,
		Amount:          amount,
		Currency:        currency,
		RRN:             respRRN,
		OriginalRRN:     rrn,
		ResponseCode:    resp.ResponseCode,
		ResponseMessage: resp.ResponseMessage,
		CreatedAt:       time.Now().UTC(),
	}

	var persistErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if persistErr = s.ledger.Append(ctx, txn); persistErr == nil {
			break
		}
		time.Sleep(persistDelay)
	}
	if persistErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, persistErr)
	}

	key := rrn
	if key == "" {
		key = "stan:" + stan
	}
	if err := s.queue.MarkSucceeded(ctx, key); err != nil {
		s.logger.Error("failed to remove confirmed reversal job",
			zap.String("key", key), zap.Error(err))
	}

	s.logger.Info("reversal confirmed",
		zap.String("rrn", rrn),
		zap.String("status", string(status)),
		zap.String("response_code", resp.ResponseCode))
	return txn, nil
}

func (s *ReversalService) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inflight[key]; exists {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *ReversalService) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

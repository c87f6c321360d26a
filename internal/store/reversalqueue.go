// internal/store/reversalqueue.go
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"
	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// ReversalQueue is the durable offline queue of reversal obligations. Jobs
// survive process restarts; an abandoned job is moved to a retained failed
// bucket for manual reconciliation, never deleted.
//
// Enqueue and the mark operations are mutually exclusive; the single drain
// loop in the worker is the only dequeue path.
type ReversalQueue struct {
	db     *bolt.DB
	logger *zap.Logger
	mu     sync.Mutex
}

func NewReversalQueue(db *bolt.DB, logger *zap.Logger) *ReversalQueue {
	return &ReversalQueue{db: db, logger: logger}
}

// Enqueue adds a pending job. At most one active job may exist per key; if
// one already exists the stored job is returned unchanged and no write is
// performed, so a retried enqueue can never duplicate an obligation.
func (q *ReversalQueue) Enqueue(ctx context.Context, job *domain.ReversalJob) (*domain.ReversalJob, error) {
	if q.db == nil {
		return nil, domain.ErrNotInitialized
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var result domain.ReversalJob
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReversalJobs)
		key := []byte(job.Key())

		if existing := b.Get(key); existing != nil {
			return json.Unmarshal(existing, &result)
		}

		job.Outcome = domain.ReversalPending
		if job.CreatedAt.IsZero() {
			job.CreatedAt = time.Now().UTC()
		}
		if job.NextRetryAt.IsZero() {
			job.NextRetryAt = job.CreatedAt
		}

		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		result = *job
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Due returns the active jobs eligible for a retry attempt at now.
func (q *ReversalQueue) Due(ctx context.Context, now time.Time) ([]domain.ReversalJob, error) {
	jobs, err := q.Pending(ctx)
	if err != nil {
		return nil, err
	}
	due := jobs[:0]
	for _, j := range jobs {
		if !j.NextRetryAt.After(now) {
			due = append(due, j)
		}
	}
	return due, nil
}

// Pending returns all active jobs.
func (q *ReversalQueue) Pending(ctx context.Context) ([]domain.ReversalJob, error) {
	if q.db == nil {
		return nil, domain.ErrNotInitialized
	}

	items := []domain.ReversalJob{}
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReversalJobs).ForEach(func(k, v []byte) error {
			var j domain.ReversalJob
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			items = append(items, j)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Abandoned returns the retained failed jobs awaiting manual reconciliation.
func (q *ReversalQueue) Abandoned(ctx context.Context) ([]domain.ReversalJob, error) {
	if q.db == nil {
		return nil, domain.ErrNotInitialized
	}

	items := []domain.ReversalJob{}
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReversalDead).ForEach(func(k, v []byte) error {
			var j domain.ReversalJob
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			items = append(items, j)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkAttempt records a failed attempt and schedules the next retry.
func (q *ReversalQueue) MarkAttempt(ctx context.Context, key string, nextRetryAt time.Time, lastErr string) error {
	if q.db == nil {
		return domain.ErrNotInitialized
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReversalJobs)
		data := b.Get([]byte(key))
		if data == nil {
			return domain.ErrTransactionNotFound
		}
		var j domain.ReversalJob
		if err := json.Unmarshal(data, &j); err != nil {
			return err
		}
		j.Attempts++
		j.NextRetryAt = nextRetryAt
		j.LastError = lastErr

		updated, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), updated)
	})
}

// MarkSucceeded removes the confirmed job from the active queue.
func (q *ReversalQueue) MarkSucceeded(ctx context.Context, key string) error {
	if q.db == nil {
		return domain.ErrNotInitialized
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.db.Update(func(tx *bolt.Tx) error {
		// Deleting a missing key is a no-op, which is the idempotent
		// behaviour we want for confirmation retries.
		return tx.Bucket(bucketReversalJobs).Delete([]byte(key))
	})
}

// MarkAbandoned moves the job to the retained failed bucket after the
// bounded attempt count is exhausted. Fail-safe, not fail-silent: the
// obligation stays on disk for manual reconciliation.
func (q *ReversalQueue) MarkAbandoned(ctx context.Context, key string, lastErr string) error {
	if q.db == nil {
		return domain.ErrNotInitialized
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.db.Update(func(tx *bolt.Tx) error {
		active := tx.Bucket(bucketReversalJobs)
		data := active.Get([]byte(key))
		if data == nil {
			return domain.ErrTransactionNotFound
		}
		var j domain.ReversalJob
		if err := json.Unmarshal(data, &j); err != nil {
			return err
		}
		j.Outcome = domain.ReversalAbandoned
		j.LastError = lastErr

		updated, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketReversalDead).Put([]byte(key), updated); err != nil {
			return err
		}
		q.logger.Warn("reversal job abandoned, retained for manual reconciliation",
			zap.String("key", key),
			zap.Int("attempts", j.Attempts),
			zap.String("last_error", lastErr))
		return active.Delete([]byte(key))
	})
}

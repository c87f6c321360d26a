// internal/store/ledger.go
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "github.com/boltdb/bolt"
	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// Ledger is the append-only record of completed and attempted transactions,
// used for reconciliation, duplicate suppression, and reversal lookups.
//
// Records are immutable once written: Append with an already-stored ID is a
// no-op, so a retried persistence attempt can never produce a second record
// or overwrite the first.
type Ledger struct {
	db     *bolt.DB
	logger *zap.Logger
}

func NewLedger(db *bolt.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Append persists one transaction outcome, exactly once per transaction ID.
func (l *Ledger) Append(ctx context.Context, t *domain.Transaction) error {
	if l.db == nil {
		return domain.ErrNotInitialized
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)

		if existing := b.Get([]byte(t.ID)); existing != nil {
			// Already persisted; the record is immutable.
			l.logger.Debug("ledger append suppressed duplicate",
				zap.String("transaction_id", t.ID))
			return nil
		}

		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode transaction: %w", err)
		}
		if err := b.Put([]byte(t.ID), data); err != nil {
			return err
		}

		seq, err := tx.Bucket(bucketSeqIndex).NextSequence()
		if err != nil {
			return err
		}
		seqKey := make([]byte, 8)
		binary.BigEndian.PutUint64(seqKey, seq)
		if err := tx.Bucket(bucketSeqIndex).Put(seqKey, []byte(t.ID)); err != nil {
			return err
		}

		// Index entries are first-writer-wins, like the records themselves.
		// An acquirer often echoes the original RRN on a reversal response;
		// the purchase must stay reachable by its RRN regardless.
		if t.RRN != "" {
			rrns := tx.Bucket(bucketRRNIndex)
			if rrns.Get([]byte(t.RRN)) == nil {
				if err := rrns.Put([]byte(t.RRN), []byte(t.ID)); err != nil {
					return err
				}
			}
		}
		if t.OriginalRRN != "" {
			origs := tx.Bucket(bucketOrigIndex)
			if origs.Get([]byte(t.OriginalRRN)) == nil {
				if err := origs.Put([]byte(t.OriginalRRN), []byte(t.ID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetByRRN looks up a transaction by its retrieval reference number.
func (l *Ledger) GetByRRN(ctx context.Context, rrn string) (*domain.Transaction, error) {
	if l.db == nil {
		return nil, domain.ErrNotInitialized
	}

	var t domain.Transaction
	err := l.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketRRNIndex).Get([]byte(rrn))
		if id == nil {
			return domain.ErrTransactionNotFound
		}
		data := tx.Bucket(bucketTransactions).Get(id)
		if data == nil {
			return domain.ErrTransactionNotFound
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ReversalFor returns the reversal record for an original transaction's RRN,
// or ErrTransactionNotFound when none has been written.
func (l *Ledger) ReversalFor(ctx context.Context, rrn string) (*domain.Transaction, error) {
	if l.db == nil {
		return nil, domain.ErrNotInitialized
	}

	var t domain.Transaction
	err := l.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketOrigIndex).Get([]byte(rrn))
		if id == nil {
			return domain.ErrTransactionNotFound
		}
		data := tx.Bucket(bucketTransactions).Get(id)
		if data == nil {
			return domain.ErrTransactionNotFound
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByID looks up a transaction by its internal identifier.
func (l *Ledger) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	if l.db == nil {
		return nil, domain.ErrNotInitialized
	}

	var t domain.Transaction
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTransactions).Get([]byte(id))
		if data == nil {
			return domain.ErrTransactionNotFound
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Recent returns up to limit transactions, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if l.db == nil {
		return nil, domain.ErrNotInitialized
	}
	if limit <= 0 {
		limit = 20
	}

	items := []domain.Transaction{}
	err := l.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketTransactions)
		c := tx.Bucket(bucketSeqIndex).Cursor()
		for k, id := c.Last(); k != nil && len(items) < limit; k, id = c.Prev() {
			data := records.Get(id)
			if data == nil {
				continue
			}
			var t domain.Transaction
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			items = append(items, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

const stanMax = 999999

// NextSTAN increments and returns the terminal's system trace audit number
// as a 6-digit zero-padded string. The counter is durable and wraps after
// 999999.
func (l *Ledger) NextSTAN(ctx context.Context) (string, error) {
	if l.db == nil {
		return "", domain.ErrNotInitialized
	}

	var stan string
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)

		var n uint64
		if v := b.Get([]byte("stan")); v != nil {
			n = binary.BigEndian.Uint64(v)
		}
		n++
		if n > stanMax {
			n = 1
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, n)
		if err := b.Put([]byte("stan"), buf); err != nil {
			return err
		}
		stan = fmt.Sprintf("%06d", n)
		return nil
	})
	if err != nil {
		return "", err
	}
	return stan, nil
}

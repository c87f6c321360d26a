// internal/store/store.go
//
// Package store provides the BoltDB-backed persistence layer: the
// append-only transaction ledger, the key-provisioning registry, and the
// durable reversal queue. All data lives in a single file on the terminal,
// which survives process restarts and needs no external database process.
package store

import (
	"time"

	bolt "github.com/boltdb/bolt"
)

var (
	bucketTransactions = []byte("transactions")
	bucketRRNIndex     = []byte("transactions_by_rrn")
	bucketSeqIndex     = []byte("transactions_by_seq")
	bucketOrigIndex    = []byte("transactions_by_orig")
	bucketKeyState     = []byte("key_state")
	bucketReversalJobs = []byte("reversal_jobs")
	bucketReversalDead = []byte("reversal_failed")
	bucketCounters     = []byte("counters")
)

// Open opens (or creates) the terminal database at path and ensures all
// buckets exist. Creating buckets on every startup is idempotent.
func Open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketTransactions,
			bucketRRNIndex,
			bucketSeqIndex,
			bucketOrigIndex,
			bucketKeyState,
			bucketReversalJobs,
			bucketReversalDead,
			bucketCounters,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

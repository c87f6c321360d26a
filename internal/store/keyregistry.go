// internal/store/keyregistry.go
package store

import (
	"context"
	"encoding/json"
	"sync"

	bolt "github.com/boltdb/bolt"
	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

var keyStateKey = []byte("current")

// KeyRegistry is the durable store of key-provisioning metadata. The state
// is written as a single value, so KeyID and KCV are always persisted
// together or not at all.
//
// Reads and writes are safe under concurrent callers; Update is
// read-modify-write with last-writer-wins semantics.
type KeyRegistry struct {
	db     *bolt.DB
	logger *zap.Logger
	mu     sync.Mutex
}

func NewKeyRegistry(db *bolt.DB, logger *zap.Logger) *KeyRegistry {
	return &KeyRegistry{db: db, logger: logger}
}

// Current returns the stored key state, or the zero state when nothing has
// been provisioned yet. The only error is use before initialization.
func (r *KeyRegistry) Current(ctx context.Context) (domain.KeyState, error) {
	if r.db == nil {
		return domain.KeyState{}, domain.ErrNotInitialized
	}

	var state domain.KeyState
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeyState).Get(keyStateKey)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &state); err != nil {
			// A corrupt record reads as empty rather than failing the
			// transaction path; the next save overwrites it.
			r.logger.Warn("corrupt key state record, treating as empty",
				zap.Error(err))
			state = domain.KeyState{}
		}
		return nil
	})
	if err != nil {
		return domain.KeyState{}, err
	}
	return state, nil
}

// Save atomically persists the full key state.
func (r *KeyRegistry) Save(ctx context.Context, state domain.KeyState) error {
	if r.db == nil {
		return domain.ErrNotInitialized
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyState).Put(keyStateKey, data)
	})
}

// Update applies f to the current state and saves the result in one
// serialized read-modify-write. Concurrent updaters are last-writer-wins.
func (r *KeyRegistry) Update(ctx context.Context, f func(domain.KeyState) domain.KeyState) error {
	if r.db == nil {
		return domain.ErrNotInitialized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.Current(ctx)
	if err != nil {
		return err
	}
	return r.Save(ctx, f(current))
}

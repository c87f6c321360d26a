// internal/domain/keystate.go
package domain

import "time"

// KeyState is the key-provisioning metadata held by the registry. KeyID and
// KCV are only meaningful as a pair and are always written together.
type KeyState struct {
	KeyID     string    `json:"key_id,omitempty"`
	KCV       string    `json:"kcv,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provisioned reports whether a PIN key is registered.
func (s KeyState) Provisioned() bool {
	return s.KeyID != ""
}

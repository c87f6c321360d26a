// internal/usecase/provisioning.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pos-terminal/internal/domain"
	"pos-terminal/internal/keys"
)

// KeyStateStore is the registry surface provisioning needs.
type KeyStateStore interface {
	Current(ctx context.Context) (domain.KeyState, error)
	Save(ctx context.Context, state domain.KeyState) error
}

// KeyInjector is the slice of the reader contract that lands an unwrapped
// key in the secure element.
type KeyInjector interface {
	InjectKey(ctx context.Context, keyID string, key []byte) error
}

// ProvisioningService runs the key-provisioning flow: enrollment keypair
// export, and unwrap-verify-inject-register for backend-delivered keys.
type ProvisioningService struct {
	keys     *keys.Service
	registry KeyStateStore
	injector KeyInjector
	logger   *zap.Logger
}

func NewProvisioningService(keySvc *keys.Service, registry KeyStateStore, injector KeyInjector, logger *zap.Logger) *ProvisioningService {
	return &ProvisioningService{
		keys:     keySvc,
		registry: registry,
		injector: injector,
		logger:   logger,
	}
}

// Enroll ensures the terminal keypair exists and returns its public key PEM
// for out-of-band backend enrollment. reenroll is true when an incompatible
// stored key was replaced, which invalidates the backend's copy.
func (s *ProvisioningService) Enroll(ctx context.Context) (pem string, reenroll bool, err error) {
	reenroll, err = s.keys.EnsureKeypair(ctx)
	if err != nil {
		return "", false, err
	}
	pem, err = s.keys.ExportPublicKey(ctx)
	if err != nil {
		return "", false, err
	}
	if reenroll {
		s.logger.Warn("terminal keypair was regenerated, backend re-enrollment required")
	}
	return pem, reenroll, nil
}

// InjectKey unwraps a backend-delivered blob, injects the raw key into the
// reader, and registers identifier and KCV atomically. The raw material is
// wiped from memory before returning.
func (s *ProvisioningService) InjectKey(ctx context.Context, keyID, wrappedB64 string) (domain.KeyState, error) {
	if keyID == "" {
		return domain.KeyState{}, fmt.Errorf("key_id is required")
	}

	raw, err := s.keys.Unwrap(ctx, wrappedB64)
	if err != nil {
		return domain.KeyState{}, err
	}
	defer wipe(raw)

	kcv, err := keys.KCV(raw)
	if err != nil {
		return domain.KeyState{}, fmt.Errorf("unwrapped material is not a usable key: %w", err)
	}

	if err := s.injector.InjectKey(ctx, keyID, raw); err != nil {
		return domain.KeyState{}, fmt.Errorf("failed to inject key into reader: %w", err)
	}

	state := domain.KeyState{
		KeyID:     keyID,
		KCV:       kcv,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.registry.Save(ctx, state); err != nil {
		return domain.KeyState{}, err
	}

	s.logger.Info("pin key provisioned",
		zap.String("key_id", keyID),
		zap.String("kcv", kcv))
	return state, nil
}

// CurrentKey returns the registered key metadata.
func (s *ProvisioningService) CurrentKey(ctx context.Context) (domain.KeyState, error) {
	return s.registry.Current(ctx)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// internal/reader/emulator.go
package reader

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// Emulator is a software card reader used when no hardware is attached
// (development, integration environments). It presents a configurable card
// after a short delay and honours cancellation the way the driver contract
// requires.
type Emulator struct {
	logger *zap.Logger

	mu        sync.Mutex
	card      CardData
	delay     time.Duration
	keyID     string
	keyLoaded bool
	armed     bool
}

func NewEmulator(logger *zap.Logger) *Emulator {
	return &Emulator{
		logger: logger,
		delay:  500 * time.Millisecond,
		card: CardData{
			PAN:             "4761739001010010",
			MaskedPAN:       domain.MaskPAN("4761739001010010"),
			Expiry:          "2812",
			CardholderName:  "TEST CARD",
			Scheme:          domain.SchemeVisa,
			EntryMode:       domain.EntryModeContactless,
			EMVData:         "9f2608aabbccdd11223344",
			OnlineRequired:  true,
			OfflineApproved: false,
		},
	}
}

// Present configures the card returned by the next DetectCard calls.
func (e *Emulator) Present(card CardData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.card = card
}

func (e *Emulator) DetectCard(ctx context.Context, timeout time.Duration) (*CardData, error) {
	e.mu.Lock()
	e.armed = true
	delay := e.delay
	card := e.card
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.armed = false
		e.mu.Unlock()
	}()

	wait := delay
	if timeout > 0 && timeout < wait {
		wait = timeout
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, domain.ErrCardDetectCancelled
	case <-timer.C:
	}

	if timeout > 0 && delay > timeout {
		return nil, fmt.Errorf("%w: no card presented within %s", domain.ErrCardReadFailure, timeout)
	}

	e.logger.Info("emulated card presented",
		zap.String("masked_pan", card.MaskedPAN),
		zap.String("scheme", string(card.Scheme)),
		zap.String("entry_mode", string(card.EntryMode)))
	return &card, nil
}

func (e *Emulator) EncryptPINBlock(ctx context.Context, pan, keyID string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.keyLoaded || e.keyID != keyID {
		return nil, fmt.Errorf("%w: key %q not loaded in emulator", domain.ErrKeyNotProvisioned, keyID)
	}
	sum := sha256.Sum256([]byte(keyID + ":" + pan))
	return sum[:8], nil
}

func (e *Emulator) ApplyIssuerScripts(ctx context.Context, scripts []string) error {
	e.logger.Info("emulator applied issuer scripts", zap.Int("count", len(scripts)))
	return nil
}

func (e *Emulator) PushTLVConfig(ctx context.Context, scheme domain.Scheme, tags map[string]string) error {
	e.logger.Info("emulator accepted tlv config",
		zap.String("scheme", string(scheme)),
		zap.Int("tags", len(tags)))
	return nil
}

func (e *Emulator) InjectKey(ctx context.Context, keyID string, key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keyID = keyID
	e.keyLoaded = true
	e.logger.Info("emulator key injected", zap.String("key_id", keyID))
	return nil
}

func (e *Emulator) Cancel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed = false
	return nil
}

// Armed reports whether a detect wait is currently active. Used by tests to
// verify cancellation disarms the reader.
func (e *Emulator) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

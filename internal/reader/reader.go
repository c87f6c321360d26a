// internal/reader/reader.go
//
// Package reader defines the card-reader collaborator contract. The driver
// itself (secure element, EMV kernel) is an external concern; the core only
// depends on these primitive operations.
package reader

import (
	"context"
	"time"

	"pos-terminal/internal/domain"
)

// CardData is the reader's result for one card presentation. The reader,
// not the coordinator, decides whether PIN entry and online authorization
// are required.
type CardData struct {
	PAN             string
	MaskedPAN       string
	Expiry          string
	CardholderName  string
	Scheme          domain.Scheme
	EntryMode       domain.EntryMode
	EMVData         string
	PINRequired     bool
	OnlineRequired  bool
	OfflineApproved bool
}

// CardReader is the hardware collaborator. Cancelling the context passed to
// DetectCard must deterministically disarm the reader's wait state.
type CardReader interface {
	DetectCard(ctx context.Context, timeout time.Duration) (*CardData, error)
	EncryptPINBlock(ctx context.Context, pan, keyID string) ([]byte, error)
	ApplyIssuerScripts(ctx context.Context, scripts []string) error
	PushTLVConfig(ctx context.Context, scheme domain.Scheme, tags map[string]string) error
	InjectKey(ctx context.Context, keyID string, key []byte) error
	Cancel(ctx context.Context) error
}

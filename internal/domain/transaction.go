// internal/domain/transaction.go
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type EntryMode string
type TransactionType string
type TransactionStatus string

const (
	EntryModeChip        EntryMode = "chip"
	EntryModeContactless EntryMode = "contactless"
	EntryModeSwipe       EntryMode = "swipe"
)

const (
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypeReversal TransactionType = "reversal"
	TransactionTypeVoid     TransactionType = "void"
)

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusApproved  TransactionStatus = "approved"
	TransactionStatusDeclined  TransactionStatus = "declined"
	TransactionStatusError     TransactionStatus = "error"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is one terminal outcome. Amounts are minor currency units;
// no floating point anywhere in the money path.
//
// RRN is present iff an online decision was reached. STAN is always present
// and unique per terminal. A record is immutable once appended to the
// ledger; a reversal is a new record of type reversal linked by OriginalRRN.
type Transaction struct {
	ID              string            `json:"id"`
	STAN            string            `json:"stan"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	EntryMode       EntryMode         `json:"entry_mode"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	RRN             string            `json:"rrn,omitempty"`
	OriginalRRN     string            `json:"original_rrn,omitempty"`
	AuthCode        string            `json:"auth_code,omitempty"`
	ResponseCode    string            `json:"response_code,omitempty"`
	ResponseMessage string            `json:"response_message,omitempty"`
	MaskedPAN       string            `json:"masked_pan,omitempty"`
	CardExpiry      string            `json:"card_expiry,omitempty"`
	CardholderName  string            `json:"cardholder_name,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// WireAmount renders the amount as the fixed-width, zero-padded minor-unit
// string used on hardware and network calls.
func (t *Transaction) WireAmount() string {
	return fmt.Sprintf("%012d", t.Amount)
}

func ValidEntryMode(m EntryMode) bool {
	switch m {
	case EntryModeChip, EntryModeContactless, EntryModeSwipe:
		return true
	}
	return false
}

var rrnPattern = regexp.MustCompile(`^[0-9]{12}$`)

// ValidRRN reports whether rrn is exactly 12 digits.
func ValidRRN(rrn string) bool {
	return rrnPattern.MatchString(rrn)
}

// MaskPAN keeps the first six and last four digits of a PAN. Inputs too
// short to leave a masked span are masked entirely.
func MaskPAN(pan string) string {
	if len(pan) <= 10 {
		return strings.Repeat("*", len(pan))
	}
	return pan[:6] + strings.Repeat("*", len(pan)-10) + pan[len(pan)-4:]
}

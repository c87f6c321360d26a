package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "github.com/boltdb/bolt"
	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

func newTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testTxn(id, rrn string) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		STAN:      "000001",
		Type:      domain.TransactionTypePurchase,
		Status:    domain.TransactionStatusApproved,
		EntryMode: domain.EntryModeChip,
		Amount:    1250,
		Currency:  "USD",
		RRN:       rrn,
		CreatedAt: time.Now().UTC(),
	}
}

func TestAppendAndGetByRRN(t *testing.T) {
	ledger := NewLedger(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	txn := testTxn("id-1", "123456789012")
	if err := ledger.Append(ctx, txn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ledger.GetByRRN(ctx, "123456789012")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "id-1" || got.Amount != 1250 || got.Status != domain.TransactionStatusApproved {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestAppendIsImmutable(t *testing.T) {
	ledger := NewLedger(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	txn := testTxn("id-1", "123456789012")
	if err := ledger.Append(ctx, txn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A retried append with mutated fields must not overwrite the record.
	mutated := *txn
	mutated.Status = domain.TransactionStatusDeclined
	if err := ledger.Append(ctx, &mutated); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}

	got, err := ledger.GetByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.TransactionStatusApproved {
		t.Fatalf("record was mutated after persistence: %+v", got)
	}

	recent, err := ledger.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 record after duplicate append, got %d", len(recent))
	}
}

func TestRRNIndexKeepsOriginalOverReversal(t *testing.T) {
	ledger := NewLedger(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	purchase := testTxn("id-1", "123456789012")
	if err := ledger.Append(ctx, purchase); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Acquirers commonly echo the original RRN on the reversal response; the
	// purchase must stay reachable by its RRN regardless.
	reversal := testTxn("id-2", "123456789012")
	reversal.STAN = "000002"
	reversal.Type = domain.TransactionTypeReversal
	reversal.OriginalRRN = "123456789012"
	if err := ledger.Append(ctx, reversal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ledger.GetByRRN(ctx, "123456789012")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "id-1" || got.Type != domain.TransactionTypePurchase {
		t.Fatalf("rrn index no longer points at the purchase: %+v", got)
	}
}

func TestReversalFor(t *testing.T) {
	ledger := NewLedger(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	if _, err := ledger.ReversalFor(ctx, "123456789012"); err != domain.ErrTransactionNotFound {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}

	if err := ledger.Append(ctx, testTxn("id-1", "123456789012")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A purchase alone never satisfies the reversal lookup.
	if _, err := ledger.ReversalFor(ctx, "123456789012"); err != domain.ErrTransactionNotFound {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}

	reversal := testTxn("id-2", "123456789012")
	reversal.STAN = "000002"
	reversal.Type = domain.TransactionTypeReversal
	reversal.OriginalRRN = "123456789012"
	if err := ledger.Append(ctx, reversal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ledger.ReversalFor(ctx, "123456789012")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "id-2" || got.Type != domain.TransactionTypeReversal {
		t.Fatalf("unexpected reversal record: %+v", got)
	}
}

func TestGetByRRNNotFound(t *testing.T) {
	ledger := NewLedger(newTestDB(t), zap.NewNop())

	_, err := ledger.GetByRRN(context.Background(), "999999999999")
	if err != domain.ErrTransactionNotFound {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	ledger := NewLedger(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := ledger.Append(ctx, testTxn(id, "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	recent, err := ledger.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].ID != "c" || recent[1].ID != "b" {
		t.Fatalf("expected newest-first order, got %s, %s", recent[0].ID, recent[1].ID)
	}
}

func TestNextSTANMonotonicAndDurable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	ledger := NewLedger(db, zap.NewNop())
	ctx := context.Background()

	first, err := ledger.NextSTAN(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "000001" {
		t.Fatalf("expected 000001, got %s", first)
	}
	second, _ := ledger.NextSTAN(ctx)
	if second != "000002" {
		t.Fatalf("expected 000002, got %s", second)
	}

	// The counter must survive a restart.
	db.Close()
	db, err = Open(path)
	if err != nil {
		t.Fatalf("failed to reopen test db: %v", err)
	}
	defer db.Close()

	third, err := NewLedger(db, zap.NewNop()).NextSTAN(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != "000003" {
		t.Fatalf("expected 000003 after reopen, got %s", third)
	}
}

func TestLedgerNotInitialized(t *testing.T) {
	ledger := NewLedger(nil, zap.NewNop())
	if err := ledger.Append(context.Background(), testTxn("x", "")); err != domain.ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

package usecase

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pos-terminal/internal/acquirer"
	"pos-terminal/internal/domain"
	"pos-terminal/internal/reader"
	"pos-terminal/internal/store"
)

type testStores struct {
	ledger   *store.Ledger
	registry *store.KeyRegistry
	queue    *store.ReversalQueue
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := zap.NewNop()
	return &testStores{
		ledger:   store.NewLedger(db, logger),
		registry: store.NewKeyRegistry(db, logger),
		queue:    store.NewReversalQueue(db, logger),
	}
}

// fakeReader scripts the card-reader collaborator.
type fakeReader struct {
	mu sync.Mutex

	card        *reader.CardData
	detectErr   error
	detectBlock bool

	pinBlock    []byte
	pinErr      error
	pinKeyID    string
	pinCalled   bool
	scriptErr   error
	scripts     []string
	tlvPushes   int
	injectedKey string
}

func (f *fakeReader) DetectCard(ctx context.Context, timeout time.Duration) (*reader.CardData, error) {
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	if f.detectBlock {
		<-ctx.Done()
		return nil, domain.ErrCardDetectCancelled
	}
	select {
	case <-ctx.Done():
		return nil, domain.ErrCardDetectCancelled
	default:
	}
	card := *f.card
	return &card, nil
}

func (f *fakeReader) EncryptPINBlock(ctx context.Context, pan, keyID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinCalled = true
	f.pinKeyID = keyID
	if f.pinErr != nil {
		return nil, f.pinErr
	}
	if f.pinBlock == nil {
		f.pinBlock = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	}
	return f.pinBlock, nil
}

func (f *fakeReader) ApplyIssuerScripts(ctx context.Context, scripts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, scripts...)
	return f.scriptErr
}

func (f *fakeReader) PushTLVConfig(ctx context.Context, scheme domain.Scheme, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tlvPushes++
	return nil
}

func (f *fakeReader) InjectKey(ctx context.Context, keyID string, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injectedKey = keyID
	return nil
}

func (f *fakeReader) Cancel(ctx context.Context) error { return nil }

// fakeAuthorizer scripts the authorization-network collaborator and counts
// calls.
type fakeAuthorizer struct {
	mu sync.Mutex

	authResp    *acquirer.AuthResponse
	authErr     error
	authWaitCtx bool

	reverseResp  *acquirer.ReversalResponse
	reverseErr   error
	reverseBlock chan struct{}

	authCalls    int
	reverseCalls int
	lastAuth     *acquirer.AuthRequest
	lastReverse  *acquirer.ReversalRequest
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, req *acquirer.AuthRequest) (*acquirer.AuthResponse, error) {
	f.mu.Lock()
	f.authCalls++
	f.lastAuth = req
	f.mu.Unlock()
	if f.authWaitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.authResp, nil
}

func (f *fakeAuthorizer) Reverse(ctx context.Context, req *acquirer.ReversalRequest) (*acquirer.ReversalResponse, error) {
	f.mu.Lock()
	f.reverseCalls++
	f.lastReverse = req
	block := f.reverseBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.reverseErr != nil {
		return nil, f.reverseErr
	}
	return f.reverseResp, nil
}

func (f *fakeAuthorizer) reverseCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reverseCalls
}

// fakeSchemeConfig satisfies SchemeConfigurer without a reader.
type fakeSchemeConfig struct {
	calls int
	err   error
}

func (f *fakeSchemeConfig) ApplySchemeConfig(ctx context.Context, visa, mastercard *domain.BrandProfile) error {
	f.calls++
	return f.err
}

func collect(t *testing.T, ch <-chan domain.Outcome) (states []domain.State, completed *domain.OutcomeCompleted, failed *domain.OutcomeFailed, queued *domain.OutcomeReversalQueued, pin bool) {
	t.Helper()
	for outcome := range ch {
		switch o := outcome.(type) {
		case domain.OutcomeState:
			states = append(states, o.State)
		case domain.OutcomeCompleted:
			completed = &o
		case domain.OutcomeFailed:
			failed = &o
		case domain.OutcomeReversalQueued:
			queued = &o
		case domain.OutcomePinRequired:
			pin = true
		}
	}
	return states, completed, failed, queued, pin
}

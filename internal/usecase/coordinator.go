// internal/usecase/coordinator.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-terminal/internal/acquirer"
	"pos-terminal/internal/domain"
	"pos-terminal/internal/reader"
)

const (
	persistAttempts = 3
	persistDelay    = 100 * time.Millisecond
)

// CoordinatorConfig carries the per-terminal parameters of the transaction
// flow. Amounts are minor currency units.
type CoordinatorConfig struct {
	Currency      string
	AmountCeiling int64
	CardTimeout   time.Duration
	AuthTimeout   time.Duration
	Visa          *domain.BrandProfile
	Mastercard    *domain.BrandProfile
}

// StartRequest begins one transaction flow.
type StartRequest struct {
	Amount    int64                  `json:"amount"`
	Type      domain.TransactionType `json:"type"`
	EntryMode domain.EntryMode       `json:"entry_mode"`
}

// Coordinator drives one transaction end-to-end: amount validation, card
// acquisition, optional PIN capture, online authorization, issuer scripts,
// persistence, result emission.
//
// The caller serializes flows: one active Start per terminal at a time.
// Cancelling the Start context tears down any armed card wait.
type Coordinator struct {
	ledger     TransactionLedger
	registry   KeyStateSource
	queue      ReversalStore
	reader     reader.CardReader
	authorizer acquirer.Authorizer
	schemeCfg  SchemeConfigurer
	cfg        CoordinatorConfig
	logger     *zap.Logger
}

func NewCoordinator(
	ledger TransactionLedger,
	registry KeyStateSource,
	queue ReversalStore,
	cardReader reader.CardReader,
	authorizer acquirer.Authorizer,
	schemeCfg SchemeConfigurer,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		ledger:     ledger,
		registry:   registry,
		queue:      queue,
		reader:     cardReader,
		authorizer: authorizer,
		schemeCfg:  schemeCfg,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start validates the request and launches the flow. Validation failures
// return synchronously and write nothing to the ledger; once the returned
// channel exists, exactly one Transaction record is persisted per terminal
// outcome. The channel is closed after the terminal outcome is emitted.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (<-chan domain.Outcome, error) {
	if req.Amount <= 0 || req.Amount > c.cfg.AmountCeiling {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.ValidEntryMode(req.EntryMode) {
		return nil, domain.ErrInvalidEntryMode
	}
	if req.Type != domain.TransactionTypePurchase && req.Type != domain.TransactionTypeRefund {
		return nil, domain.ErrInvalidType
	}

	ch := make(chan domain.Outcome, 16)
	go c.run(ctx, req, ch)
	return ch, nil
}

func (c *Coordinator) run(ctx context.Context, req StartRequest, ch chan domain.Outcome) {
	defer close(ch)

	stan, err := c.ledger.NextSTAN(ctx)
	if err != nil {
		c.logger.Error("failed to assign stan", zap.Error(err))
		ch <- domain.OutcomeFailed{
			State:  domain.StateReady,
			Err:    domain.ErrPersistenceFailure,
			Reason: domain.ErrPersistenceFailure.Error(),
		}
		return
	}

	txn := &domain.Transaction{
		ID:        uuid.NewString(),
		STAN:      stan,
		Type:      req.Type,
		Status:    domain.TransactionStatusPending,
		EntryMode: req.EntryMode,
		Amount:    req.Amount,
		Currency:  c.cfg.Currency,
		CreatedAt: time.Now().UTC(),
	}
	logger := c.logger.With(
		zap.String("transaction_id", txn.ID),
		zap.String("stan", txn.STAN),
		zap.Int64("amount", txn.Amount))

	logger.Info("transaction started",
		zap.String("type", string(txn.Type)),
		zap.String("entry_mode", string(txn.EntryMode)))

	ch <- domain.OutcomeState{State: domain.StateAmountSet}

	if err := c.schemeCfg.ApplySchemeConfig(ctx, c.cfg.Visa, c.cfg.Mastercard); err != nil {
		c.fail(ctx, ch, logger, txn, domain.StateAmountSet,
			fmt.Errorf("%w: %v", domain.ErrCardReadFailure, err), false)
		return
	}

	ch <- domain.OutcomeState{State: domain.StateAwaitingCard}

	card, err := c.reader.DetectCard(ctx, c.cfg.CardTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrCardDetectCancelled) || errors.Is(err, context.Canceled) {
			logger.Info("card detection cancelled")
			txn.Status = domain.TransactionStatusCancelled
			c.finish(ctx, ch, logger, txn)
			return
		}
		if !errors.Is(err, domain.ErrCardReadFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrCardReadFailure, err)
		}
		c.fail(ctx, ch, logger, txn, domain.StateAwaitingCard, err, false)
		return
	}

	txn.MaskedPAN = card.MaskedPAN
	if txn.MaskedPAN == "" && card.PAN != "" {
		txn.MaskedPAN = domain.MaskPAN(card.PAN)
	}
	txn.CardExpiry = card.Expiry
	txn.CardholderName = card.CardholderName

	ch <- domain.OutcomeState{State: domain.StateCardRead}

	var pinBlock []byte
	if card.PINRequired {
		ks, err := c.registry.Current(ctx)
		if err != nil {
			c.fail(ctx, ch, logger, txn, domain.StateCardRead, err, false)
			return
		}
		if !ks.Provisioned() {
			// Never prompt for a PIN without a registered key.
			c.fail(ctx, ch, logger, txn, domain.StateCardRead, domain.ErrKeyNotProvisioned, false)
			return
		}

		ch <- domain.OutcomePinRequired{Amount: txn.Amount}
		ch <- domain.OutcomeState{State: domain.StatePinRequired}

		pinBlock, err = c.reader.EncryptPINBlock(ctx, card.PAN, ks.KeyID)
		if err != nil {
			c.fail(ctx, ch, logger, txn, domain.StatePinRequired,
				fmt.Errorf("%w: %v", domain.ErrCardReadFailure, err), false)
			return
		}
	}

	switch {
	case card.OnlineRequired:
		ch <- domain.OutcomeState{State: domain.StateAuthorizing}

		authCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
		resp, err := c.authorizer.Authorize(authCtx, &acquirer.AuthRequest{
			Amount:    txn.WireAmount(),
			Currency:  txn.Currency,
			Type:      txn.Type,
			EntryMode: txn.EntryMode,
			STAN:      txn.STAN,
			EMVData:   card.EMVData,
			PINBlock:  pinBlock,
		})
		cancel()

		if err != nil {
			// The request was handed to the network and no decision was
			// confirmed back: the outcome is ambiguous to the issuer, so a
			// reversal obligation is raised before the failure is reported.
			queued := c.enqueueReversal(ctx, ch, logger, txn)
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %v", domain.ErrAuthorizationTimeout, err)
			}
			txn.Status = domain.TransactionStatusError
			txn.ResponseMessage = err.Error()
			c.fail(ctx, ch, logger, txn, domain.StateAuthorizing, err, queued)
			return
		}

		txn.RRN = resp.RRN
		txn.AuthCode = resp.AuthCode
		txn.ResponseCode = resp.ResponseCode
		txn.ResponseMessage = resp.ResponseMessage
		if resp.Approved {
			txn.Status = domain.TransactionStatusApproved
		} else {
			txn.Status = domain.TransactionStatusDeclined
		}

		if len(resp.IssuerScripts) > 0 {
			if serr := c.reader.ApplyIssuerScripts(ctx, resp.IssuerScripts); serr != nil {
				// Secondary fault: scripts never override the decision.
				logger.Error("issuer script application failed",
					zap.String("rrn", txn.RRN),
					zap.Error(fmt.Errorf("%w: %v", domain.ErrScriptApplication, serr)))
			}
		}

	case card.OfflineApproved:
		txn.Status = domain.TransactionStatusApproved

	default:
		txn.Status = domain.TransactionStatusDeclined
		txn.ResponseMessage = "declined offline"
	}

	c.finish(ctx, ch, logger, txn)
}

// finish persists the terminal outcome and emits completion. Persistence is
// retried a small bounded number of times; if it still fails the caller is
// told the outcome is unknown rather than being shown a success.
func (c *Coordinator) finish(ctx context.Context, ch chan domain.Outcome, logger *zap.Logger, txn *domain.Transaction) {
	if err := c.persist(ctx, txn); err != nil {
		logger.Error("failed to persist transaction outcome", zap.Error(err))
		ch <- domain.OutcomeFailed{
			State:  domain.StateCompleted,
			Err:    err,
			Reason: err.Error(),
		}
		return
	}

	logger.Info("transaction completed",
		zap.String("status", string(txn.Status)),
		zap.String("rrn", txn.RRN),
		zap.String("response_code", txn.ResponseCode))

	ch <- domain.OutcomeState{State: domain.StateCompleted}
	ch <- domain.OutcomeCompleted{Transaction: txn}
}

func (c *Coordinator) fail(ctx context.Context, ch chan domain.Outcome, logger *zap.Logger, txn *domain.Transaction, state domain.State, cause error, reversalQueued bool) {
	if txn.Status == domain.TransactionStatusPending {
		txn.Status = domain.TransactionStatusError
	}
	if txn.ResponseMessage == "" {
		txn.ResponseMessage = cause.Error()
	}

	if err := c.persist(ctx, txn); err != nil {
		// The failure outcome itself could not be written. Surface the
		// original cause but log the persistence fault loudly.
		logger.Error("failed to persist failure outcome", zap.Error(err))
	}

	logger.Warn("transaction failed",
		zap.String("state", string(state)),
		zap.Bool("reversal_queued", reversalQueued),
		zap.Error(cause))

	ch <- domain.OutcomeFailed{
		State:          state,
		Err:            cause,
		Reason:         cause.Error(),
		ReversalQueued: reversalQueued,
	}
}

func (c *Coordinator) persist(ctx context.Context, txn *domain.Transaction) error {
	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if lastErr = c.ledger.Append(ctx, txn); lastErr == nil {
			return nil
		}
		time.Sleep(persistDelay)
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, lastErr)
}

func (c *Coordinator) enqueueReversal(ctx context.Context, ch chan domain.Outcome, logger *zap.Logger, txn *domain.Transaction) bool {
	job := &domain.ReversalJob{
		RRN:    txn.RRN,
		STAN:   txn.STAN,
		Amount: txn.Amount,
	}
	if _, err := c.queue.Enqueue(ctx, job); err != nil {
		logger.Error("failed to enqueue reversal obligation", zap.Error(err))
		return false
	}
	logger.Warn("reversal obligation enqueued for ambiguous outcome",
		zap.String("key", job.Key()))
	ch <- domain.OutcomeReversalQueued{RRN: txn.RRN, STAN: txn.STAN}
	return true
}

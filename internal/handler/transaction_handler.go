// internal/handler/transaction_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pos-terminal/internal/domain"
	"pos-terminal/internal/store"
	"pos-terminal/internal/usecase"
)

type TransactionHandler struct {
	coordinator *usecase.Coordinator
	reversals   *usecase.ReversalService
	ledger      *store.Ledger
	queue       *store.ReversalQueue
	logger      *zap.Logger
}

func NewTransactionHandler(
	coordinator *usecase.Coordinator,
	reversals *usecase.ReversalService,
	ledger *store.Ledger,
	queue *store.ReversalQueue,
	logger *zap.Logger,
) *TransactionHandler {
	return &TransactionHandler{
		coordinator: coordinator,
		reversals:   reversals,
		ledger:      ledger,
		queue:       queue,
		logger:      logger,
	}
}

// transactionResult is the flattened view of the outcome stream returned to
// the UI layer.
type transactionResult struct {
	States         []domain.State      `json:"states"`
	Transaction    *domain.Transaction `json:"transaction,omitempty"`
	PinRequested   bool                `json:"pin_requested"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	ReversalQueued bool                `json:"reversal_queued"`
}

// HandleStart runs one transaction to its terminal outcome. Approved,
// declined, cancelled and error are all legitimate terminal results and
// return 200; only pre-flight validation is an HTTP error.
func (h *TransactionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req usecase.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Type == "" {
		req.Type = domain.TransactionTypePurchase
	}

	ch, err := h.coordinator.Start(ctx, req)
	if err != nil {
		h.logger.Warn("transaction rejected",
			zap.Int64("amount", req.Amount),
			zap.Error(err))
		sendError(w, http.StatusUnprocessableEntity, "transaction rejected", err)
		return
	}

	result := drainOutcomes(ch)
	if result.FailureReason != "" && result.Transaction == nil {
		sendSuccess(w, http.StatusOK, "transaction failed", result)
		return
	}
	sendSuccess(w, http.StatusOK, "transaction finished", result)
}

// HandleReverse submits a reversal by RRN.
func (h *TransactionHandler) HandleReverse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		RRN string `json:"rrn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ch, err := h.reversals.Reverse(ctx, req.RRN)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRRN):
			sendError(w, http.StatusBadRequest, "invalid rrn", err)
		case errors.Is(err, domain.ErrTransactionNotFound):
			sendError(w, http.StatusNotFound, "transaction not found", err)
		case errors.Is(err, domain.ErrReversalInProgress):
			sendError(w, http.StatusConflict, "reversal already in progress", err)
		case errors.Is(err, domain.ErrAlreadyReversed):
			sendError(w, http.StatusConflict, "transaction already reversed", err)
		default:
			sendError(w, http.StatusInternalServerError, "failed to start reversal", err)
		}
		return
	}

	result := drainOutcomes(ch)
	if result.ReversalQueued && result.Transaction == nil {
		sendSuccess(w, http.StatusAccepted, "reversal queued for retry", result)
		return
	}
	sendSuccess(w, http.StatusOK, "reversal finished", result)
}

// HandleHistory lists recent ledger records, newest first.
func (h *TransactionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	items, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to read ledger", err)
		return
	}
	sendSuccess(w, http.StatusOK, "", map[string]interface{}{
		"transactions": items,
		"count":        len(items),
	})
}

// HandleGetByRRN returns one ledger record.
func (h *TransactionHandler) HandleGetByRRN(w http.ResponseWriter, r *http.Request) {
	rrn := chi.URLParam(r, "rrn")
	if !domain.ValidRRN(rrn) {
		sendError(w, http.StatusBadRequest, "invalid rrn", domain.ErrInvalidRRN)
		return
	}

	txn, err := h.ledger.GetByRRN(r.Context(), rrn)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			sendError(w, http.StatusNotFound, "transaction not found", err)
			return
		}
		sendError(w, http.StatusInternalServerError, "failed to read ledger", err)
		return
	}
	sendSuccess(w, http.StatusOK, "", txn)
}

// HandlePendingReversals lists the active queue and the retained abandoned
// jobs awaiting manual reconciliation.
func (h *TransactionHandler) HandlePendingReversals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to read reversal queue", err)
		return
	}
	abandoned, err := h.queue.Abandoned(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to read reversal queue", err)
		return
	}
	sendSuccess(w, http.StatusOK, "", map[string]interface{}{
		"pending":   pending,
		"abandoned": abandoned,
	})
}

func drainOutcomes(ch <-chan domain.Outcome) transactionResult {
	var result transactionResult
	for outcome := range ch {
		switch o := outcome.(type) {
		case domain.OutcomeState:
			result.States = append(result.States, o.State)
		case domain.OutcomePinRequired:
			result.PinRequested = true
		case domain.OutcomeCompleted:
			result.Transaction = o.Transaction
		case domain.OutcomeFailed:
			result.States = append(result.States, domain.StateError)
			result.FailureReason = o.Reason
			if o.ReversalQueued {
				result.ReversalQueued = true
			}
		case domain.OutcomeReversalQueued:
			result.ReversalQueued = true
		}
	}
	return result
}

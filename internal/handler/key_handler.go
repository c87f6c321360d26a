// internal/handler/key_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pos-terminal/internal/domain"
	"pos-terminal/internal/usecase"
)

type KeyHandler struct {
	provisioning *usecase.ProvisioningService
	logger       *zap.Logger
}

func NewKeyHandler(provisioning *usecase.ProvisioningService, logger *zap.Logger) *KeyHandler {
	return &KeyHandler{provisioning: provisioning, logger: logger}
}

// HandleEnroll returns the terminal public key for backend enrollment. When
// the stored keypair had to be regenerated the response flags that the
// backend's copy is stale.
func (h *KeyHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	pem, reenroll, err := h.provisioning.Enroll(r.Context())
	if err != nil {
		h.logger.Error("enrollment failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to prepare enrollment key", err)
		return
	}
	sendSuccess(w, http.StatusOK, "enrollment key ready", map[string]interface{}{
		"public_key":            pem,
		"reenrollment_required": reenroll,
	})
}

// HandleInject consumes a backend-delivered wrapped key blob.
func (h *KeyHandler) HandleInject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeyID      string `json:"key_id"`
		WrappedKey string `json:"wrapped_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	state, err := h.provisioning.InjectKey(r.Context(), req.KeyID, req.WrappedKey)
	if err != nil {
		if errors.Is(err, domain.ErrUnwrapFailure) {
			h.logger.Warn("key unwrap failed",
				zap.String("key_id", req.KeyID),
				zap.Error(err))
			sendError(w, http.StatusUnprocessableEntity, "key unwrap failed", err)
			return
		}
		h.logger.Error("key injection failed",
			zap.String("key_id", req.KeyID),
			zap.Error(err))
		sendError(w, http.StatusInternalServerError, "key injection failed", err)
		return
	}

	sendSuccess(w, http.StatusOK, "key provisioned", state)
}

// HandleCurrent returns the registered key metadata (identifier and KCV
// only; never key material).
func (h *KeyHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	state, err := h.provisioning.CurrentKey(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to read key state", err)
		return
	}
	sendSuccess(w, http.StatusOK, "", state)
}

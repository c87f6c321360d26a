// internal/acquirer/acquirer.go
//
// Package acquirer holds the authorization-network collaborator contract and
// its HTTP client. Only the field sets below are part of the core's
// contract; transport and encoding belong to the external system.
package acquirer

import (
	"context"

	"pos-terminal/internal/domain"
)

type AuthRequest struct {
	Amount    string                 `json:"amount"`
	Currency  string                 `json:"currency"`
	Type      domain.TransactionType `json:"type"`
	EntryMode domain.EntryMode       `json:"entry_mode"`
	STAN      string                 `json:"stan"`
	EMVData   string                 `json:"emv_data,omitempty"`
	PINBlock  []byte                 `json:"pin_block,omitempty"`
}

type AuthResponse struct {
	Approved        bool     `json:"approved"`
	RRN             string   `json:"rrn"`
	AuthCode        string   `json:"auth_code,omitempty"`
	ResponseCode    string   `json:"response_code"`
	ResponseMessage string   `json:"response_message,omitempty"`
	IssuerScripts   []string `json:"issuer_scripts,omitempty"`
}

type ReversalRequest struct {
	RRN    string `json:"rrn,omitempty"`
	STAN   string `json:"stan"`
	Amount string `json:"amount"`
}

type ReversalResponse struct {
	Success         bool   `json:"success"`
	RRN             string `json:"rrn,omitempty"`
	ResponseCode    string `json:"response_code"`
	ResponseMessage string `json:"response_message,omitempty"`
}

// Authorizer is the authorization-network collaborator.
type Authorizer interface {
	Authorize(ctx context.Context, req *AuthRequest) (*AuthResponse, error)
	Reverse(ctx context.Context, req *ReversalRequest) (*ReversalResponse, error)
}

// internal/acquirer/client.go
package acquirer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// Client talks to the acquirer host over HTTP/JSON. A single circuit
// breaker guards both authorization and reversal calls so a dead host stops
// burning the card-present timeout on every transaction.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker. Zero means the default of 5.
	ConsecutiveFailures uint32
	// CooldownPeriod is how long the breaker stays open. Zero means 30s.
	CooldownPeriod time.Duration
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	trip := cfg.ConsecutiveFailures
	if trip == 0 {
		trip = 5
	}
	cooldown := cfg.CooldownPeriod
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "acquirer",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("acquirer circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

func (c *Client) Authorize(ctx context.Context, req *AuthRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/authorize", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("authorization response received",
		zap.String("stan", req.STAN),
		zap.Bool("approved", resp.Approved),
		zap.String("rrn", resp.RRN),
		zap.String("response_code", resp.ResponseCode))
	return &resp, nil
}

func (c *Client) Reverse(ctx context.Context, req *ReversalRequest) (*ReversalResponse, error) {
	var resp ReversalResponse
	if err := c.post(ctx, "/reverse", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("reversal response received",
		zap.String("rrn", req.RRN),
		zap.String("stan", req.STAN),
		zap.Bool("success", resp.Success),
		zap.String("response_code", resp.ResponseCode))
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = c.cb.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: acquirer returned status %d",
				domain.ErrAuthorizationNetwork, httpResp.StatusCode)
		}
		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%w: invalid acquirer response: %v",
				domain.ErrAuthorizationNetwork, err)
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrAuthorizationNetwork, err)
		}
		return err
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrAuthorizationTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrAuthorizationTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrAuthorizationNetwork, err)
}

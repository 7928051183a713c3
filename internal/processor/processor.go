// Package processor adapts the external settlement processor's HTTP API to
// the intent package's Gateway interface.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paylinehq/payline/internal/intent"
)

// Client talks to the settlement processor. Every call carries the intent id
// as the processor-side idempotency key, so a retried call with the same id
// cannot double-charge.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

func NewClient(baseURL, apiToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Authorize(ctx context.Context, req intent.GatewayRequest) (intent.GatewayResult, error) {
	return c.post(ctx, "/v1/authorizations", req)
}

func (c *Client) Capture(ctx context.Context, req intent.GatewayRequest) (intent.GatewayResult, error) {
	return c.post(ctx, "/v1/captures", req)
}

func (c *Client) Void(ctx context.Context, req intent.GatewayRequest) (intent.GatewayResult, error) {
	return c.post(ctx, "/v1/voids", req)
}

func (c *Client) Refund(ctx context.Context, req intent.GatewayRequest) (intent.GatewayResult, error) {
	return c.post(ctx, "/v1/refunds", req)
}

type processorRequest struct {
	IntentID string `json:"intent_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type processorResponse struct {
	Status string `json:"status"` // approved | declined | pending
	Ref    string `json:"ref,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, greq intent.GatewayRequest) (intent.GatewayResult, error) {
	body, err := json.Marshal(processorRequest{
		IntentID: greq.IntentID.String(),
		Amount:   greq.Amount,
		Currency: greq.Currency,
	})
	if err != nil {
		return intent.GatewayResult{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return intent.GatewayResult{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", greq.IntentID.String())

	if c.apiToken != "" {
		req.Header.Set("Authorization", "Token "+c.apiToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return intent.GatewayResult{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	var decoded processorResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
		switch decoded.Status {
		case "approved":
			return intent.GatewayResult{Outcome: intent.OutcomeApproved, ProcessorRef: decoded.Ref}, nil
		case "declined":
			return intent.GatewayResult{Outcome: intent.OutcomeDeclined, Reason: decoded.Reason}, nil
		case "pending":
			return intent.GatewayResult{Outcome: intent.OutcomePending}, nil
		}
	}

	// An undecodable body or an unknown status is never success.
	return intent.GatewayResult{
		Outcome: intent.OutcomeUnavailable,
		Reason:  fmt.Sprintf("unexpected response with status code %d", resp.StatusCode),
	}, nil
}

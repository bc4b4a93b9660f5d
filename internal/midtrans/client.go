// Package midtrans is the Snap payment gateway adapter: outbound
// session creation, webhook signature verification, and transaction
// status vocabulary.
package midtrans

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	sandboxBaseURL    = "https://app.sandbox.midtrans.com"
	productionBaseURL = "https://app.midtrans.com"

	// Snap rejects item names longer than 50 characters.
	maxItemNameLen = 50
)

type Config struct {
	ServerKey  string
	Production bool
	BaseURL    string // overrides the environment-derived URL when set
	Timeout    time.Duration
}

type Client struct {
	baseURL   string
	serverKey string
	hc        *http.Client
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		if cfg.Production {
			base = productionBaseURL
		} else {
			base = sandboxBaseURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:   base,
		serverKey: cfg.ServerKey,
		hc:        &http.Client{Timeout: timeout},
	}
}

type TransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type CustomerDetails struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type ItemDetail struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
}

type SnapRequest struct {
	TransactionDetails TransactionDetails `json:"transaction_details"`
	CustomerDetails    CustomerDetails    `json:"customer_details"`
	ItemDetails        []ItemDetail       `json:"item_details"`
}

type SnapResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// GatewayError is a non-2xx answer from Snap, carrying the upstream
// body for operator diagnostics.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("midtrans: status %d: %s", e.StatusCode, e.Body)
}

// CreateTransaction opens a Snap payment session and returns the token
// the buyer-facing payment UI needs. The request is bounded by the
// client timeout; the caller decides whether to retry.
func (c *Client) CreateTransaction(ctx context.Context, req *SnapRequest) (*SnapResponse, error) {
	const op = "midtrans.Client.CreateTransaction"

	for i := range req.ItemDetails {
		req.ItemDetails[i].Name = TruncateItemName(req.ItemDetails[i].Name)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/snap/v1/transactions",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+basicAuth(c.serverKey))

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %w", op, &GatewayError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		})
	}

	var out SnapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &out, nil
}

// basicAuth encodes the server key as Snap expects: the key followed by
// a colon and an empty password.
func basicAuth(serverKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(serverKey + ":"))
}

func TruncateItemName(name string) string {
	r := []rune(name)
	if len(r) <= maxItemNameLen {
		return name
	}
	return string(r[:maxItemNameLen])
}

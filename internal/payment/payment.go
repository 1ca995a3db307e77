// Package payment settles platform fees with an external payment provider.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/meetswap/internal/models"
)

// ErrDeclined is returned when the provider answers but does not settle the charge
var ErrDeclined = errors.New("payment declined")

// ChargeRequest describes a single fee settlement
type ChargeRequest struct {
	// IdempotencyKey is stable across retries of the same fee so the provider
	// never settles it twice
	IdempotencyKey string
	PayerID        string
	ListingID      string
	Amount         decimal.Decimal
	Currency       string
}

// Receipt is the settled result of a charge
type Receipt struct {
	TxID   string
	Method string
}

// Gateway settles charges; implementations must be safe for concurrent use
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
}

// HTTPGateway talks to a PayPal-style orders API: an order is created and
// then captured, both carrying the idempotency key.
type HTTPGateway struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

type orderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      amount `json:"amount"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// NewHTTPGateway constructs a gateway client; timeout defaults to 10 seconds
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Charge creates and captures an order for the request amount
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	if req.IdempotencyKey == "" {
		return Receipt{}, fmt.Errorf("idempotency key required")
	}
	order := orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.ListingID,
			CustomID:    req.PayerID,
			Amount: amount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        req.Amount.StringFixed(2),
			},
		}},
	}
	created, err := g.do(ctx, "/v2/checkout/orders", "create-"+req.IdempotencyKey, order)
	if err != nil {
		return Receipt{}, err
	}
	if created.ID == "" {
		return Receipt{}, fmt.Errorf("gateway returned order without id")
	}
	captured, err := g.do(ctx, "/v2/checkout/orders/"+created.ID+"/capture", "capture-"+req.IdempotencyKey, nil)
	if err != nil {
		return Receipt{}, err
	}
	if !strings.EqualFold(captured.Status, "COMPLETED") {
		return Receipt{}, fmt.Errorf("%w: order %s status %s", ErrDeclined, created.ID, captured.Status)
	}
	txID := captured.ID
	for _, unit := range captured.PurchaseUnits {
		for _, c := range unit.Payments.Captures {
			if c.ID != "" {
				txID = c.ID
			}
		}
	}
	return Receipt{TxID: txID, Method: models.MethodPayPal}, nil
}

func (g *HTTPGateway) do(ctx context.Context, path, requestID string, payload interface{}) (*orderResponse, error) {
	body := []byte("{}")
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("PayPal-Request-Id", requestID)
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway %s failed: status=%d", path, resp.StatusCode)
	}
	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &out, nil
}

// Sandbox settles every charge immediately; used for local development
type Sandbox struct{}

// Charge returns a fresh transaction id
func (Sandbox) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	return Receipt{TxID: "sandbox-" + uuid.NewString(), Method: models.MethodPayPal}, nil
}

package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feeRequest() ChargeRequest {
	return ChargeRequest{
		IdempotencyKey: "fee:pay1:buyer",
		PayerID:        "buyer",
		ListingID:      "listing",
		Amount:         decimal.RequireFromString("2"),
		Currency:       "usd",
	}
}

func TestHTTPGateway_Charge(t *testing.T) {
	var (
		mu         sync.Mutex
		requestIDs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestIDs = append(requestIDs, r.Header.Get("PayPal-Request-Id"))
		mu.Unlock()
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case r.URL.Path == "/v2/checkout/orders":
			var body orderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "2.00", body.PurchaseUnits[0].Amount.Value)
			assert.Equal(t, "USD", body.PurchaseUnits[0].Amount.CurrencyCode)
			w.Write([]byte(`{"id":"ORDER-1","status":"CREATED"}`))
		case strings.HasSuffix(r.URL.Path, "/capture"):
			assert.Equal(t, "/v2/checkout/orders/ORDER-1/capture", r.URL.Path)
			w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-9","status":"COMPLETED"}]}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL+"/", "secret", 0)
	receipt, err := gw.Charge(context.Background(), feeRequest())
	require.NoError(t, err)
	assert.Equal(t, "CAP-9", receipt.TxID)
	assert.Equal(t, "paypal", receipt.Method)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"create-fee:pay1:buyer", "capture-fee:pay1:buyer"}, requestIDs)
}

func TestHTTPGateway_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "ServerError",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "NotCompleted",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/capture") {
					w.Write([]byte(`{"id":"ORDER-1","status":"PAYER_ACTION_REQUIRED"}`))
					return
				}
				w.Write([]byte(`{"id":"ORDER-1","status":"CREATED"}`))
			},
		},
		{
			name: "MissingOrderID",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"CREATED"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewHTTPGateway(srv.URL, "secret", 0).Charge(context.Background(), feeRequest())
			assert.Error(t, err)
		})
	}
}

func TestHTTPGateway_RequiresIdempotencyKey(t *testing.T) {
	req := feeRequest()
	req.IdempotencyKey = ""
	_, err := NewHTTPGateway("http://127.0.0.1:1", "secret", 0).Charge(context.Background(), req)
	assert.Error(t, err)
}

func TestSandbox_Charge(t *testing.T) {
	a, err := Sandbox{}.Charge(context.Background(), feeRequest())
	require.NoError(t, err)
	b, err := Sandbox{}.Charge(context.Background(), feeRequest())
	require.NoError(t, err)
	assert.NotEqual(t, a.TxID, b.TxID)
	assert.True(t, strings.HasPrefix(a.TxID, "sandbox-"))
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/meetswap/internal/clock"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSource() *StaticSource {
	return NewStaticSource(map[string]decimal.Decimal{
		"EUR": d("0.9"),
		"jpy": d("150"),
		"MXN": d("17"),
	}, time.Date(2029, 12, 1, 0, 0, 0, 0, time.UTC))
}

func TestSnapshot_CrossRate(t *testing.T) {
	snap, _ := testSource().Snapshot(context.Background())

	tests := []struct {
		name      string
		from, to  string
		expected  string
		expectErr error
	}{
		{name: "USDToEUR", from: "USD", to: "EUR", expected: "0.9"},
		{name: "EURToUSD", from: "EUR", to: "USD", expected: "1.11111111"},
		{name: "CrossViaUSD", from: "EUR", to: "JPY", expected: "166.66666667"},
		{name: "SameCurrency", from: "MXN", to: "MXN", expected: "1"},
		{name: "LowercaseInput", from: "usd", to: "jpy", expected: "150"},
		{name: "UnknownCurrency", from: "USD", to: "XXX", expectErr: ErrUnknownCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := snap.CrossRate(tt.from, tt.to)
			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Errorf("expected %v, got %v", tt.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !rate.Equal(d(tt.expected)) {
				t.Errorf("expected rate %s, got %s", tt.expected, rate)
			}
		})
	}
}

func TestLocker_Lock(t *testing.T) {
	locker := NewLocker(testSource(), clock.NewManual(time.Now()))

	lock, err := locker.Lock(context.Background(), "eur", "jpy", d("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock.FromCurrency != "EUR" || lock.ToCurrency != "JPY" {
		t.Errorf("unexpected currencies %s -> %s", lock.FromCurrency, lock.ToCurrency)
	}
	if !lock.LockedAmount.Equal(d("16666.67")) {
		t.Errorf("expected locked amount 16666.67, got %s", lock.LockedAmount)
	}
	if !lock.CapturedAt.Equal(time.Date(2029, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected snapshot capture time, got %s", lock.CapturedAt)
	}
}

func TestLocker_EmptySource(t *testing.T) {
	locker := NewLocker(NewStaticSource(nil, time.Time{}), nil)
	if _, err := locker.Lock(context.Background(), "USD", "EUR", d("1")); !errors.Is(err, ErrRatesUnavailable) {
		t.Errorf("expected ErrRatesUnavailable, got %v", err)
	}
}

func TestHTTPSource_CachesUntilRefresh(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"base":"USD","timestamp":1893456000,"rates":{"EUR":"0.9","GBP":%d}}`, n)
	}))
	defer srv.Close()

	now := time.Now()
	src := NewHTTPSource(srv.URL, time.Hour)
	src.nowFn = func() time.Time { return now }

	first, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Rates["GBP"].Equal(d("1")) {
		t.Errorf("expected GBP 1, got %s", first.Rates["GBP"])
	}
	if !first.CapturedAt.Equal(time.Unix(1893456000, 0).UTC()) {
		t.Errorf("expected capture time from payload, got %s", first.CapturedAt)
	}

	if _, err := src.Snapshot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected cached snapshot, got %d fetches", hits)
	}

	now = now.Add(2 * time.Hour)
	second, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Rates["GBP"].Equal(d("2")) {
		t.Errorf("expected refreshed GBP 2, got %s", second.Rates["GBP"])
	}
}

func TestHTTPSource_ServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"base":"USD","rates":{"EUR":0.9}}`)
	}))
	defer srv.Close()

	now := time.Now()
	src := NewHTTPSource(srv.URL, time.Minute)
	src.nowFn = func() time.Time { return now }
	if _, err := src.Snapshot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fail.Store(true)
	now = now.Add(time.Hour)
	snap, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("expected stale snapshot, got %v", err)
	}
	if !snap.Rates["EUR"].Equal(d("0.9")) {
		t.Errorf("expected stale EUR rate, got %s", snap.Rates["EUR"])
	}
}

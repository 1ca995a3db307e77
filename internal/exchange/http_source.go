package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// HTTPSource fetches the daily USD rate table from a JSON endpoint of the form
// {"base":"USD","timestamp":1700000000,"rates":{"EUR":"0.92",...}} and caches
// it for the refresh interval.
type HTTPSource struct {
	url     string
	refresh time.Duration
	http    *http.Client
	nowFn   func() time.Time

	group  singleflight.Group
	mu     sync.RWMutex
	cached Snapshot
	loaded time.Time
}

type rateTable struct {
	Base      string                     `json:"base"`
	Timestamp int64                      `json:"timestamp"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// NewHTTPSource creates a source for url; refresh defaults to a day
func NewHTTPSource(url string, refresh time.Duration) *HTTPSource {
	if refresh <= 0 {
		refresh = 24 * time.Hour
	}
	return &HTTPSource{
		url:     strings.TrimSpace(url),
		refresh: refresh,
		http:    &http.Client{Timeout: 10 * time.Second},
		nowFn:   time.Now,
	}
}

// Snapshot returns the cached table, refreshing it once it is older than the refresh interval.
// A stale table is served when a refresh fails.
func (s *HTTPSource) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	snap, loaded := s.cached, s.loaded
	s.mu.RUnlock()
	if !loaded.IsZero() && s.nowFn().Sub(loaded) < s.refresh {
		return snap, nil
	}

	v, err, _ := s.group.Do("rates", func() (interface{}, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		if !loaded.IsZero() {
			return snap, nil
		}
		return Snapshot{}, err
	}
	fresh := v.(Snapshot)
	s.mu.Lock()
	s.cached = fresh
	s.loaded = s.nowFn()
	s.mu.Unlock()
	return fresh, nil
}

func (s *HTTPSource) fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Snapshot{}, fmt.Errorf("failed to fetch rates: status=%d", resp.StatusCode)
	}
	var table rateTable
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode rates: %w", err)
	}
	if base := strings.ToUpper(strings.TrimSpace(table.Base)); base != "" && base != Base {
		return Snapshot{}, fmt.Errorf("unexpected rate base %q", table.Base)
	}
	if len(table.Rates) == 0 {
		return Snapshot{}, ErrRatesUnavailable
	}
	rates := make(map[string]decimal.Decimal, len(table.Rates))
	for k, v := range table.Rates {
		rates[strings.ToUpper(k)] = v
	}
	captured := s.nowFn().UTC()
	if table.Timestamp > 0 {
		captured = time.Unix(table.Timestamp, 0).UTC()
	}
	return Snapshot{Rates: rates, CapturedAt: captured}, nil
}

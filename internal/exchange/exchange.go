// Package exchange converts listing amounts between currencies using a
// USD-anchored rate snapshot and produces the rate lock a negotiation keeps
// for its whole life.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/meetswap/internal/clock"
	"github.com/xtrntr/meetswap/internal/models"
)

const (
	// Base is the anchor currency of every snapshot
	Base = "USD"

	ratePlaces   = 8
	amountPlaces = 2
)

var (
	// ErrUnknownCurrency is returned when a currency is missing from the snapshot
	ErrUnknownCurrency = errors.New("unknown currency")
	// ErrRatesUnavailable is returned when no snapshot can be read
	ErrRatesUnavailable = errors.New("exchange rates unavailable")
)

// Snapshot holds units of each currency per one USD
type Snapshot struct {
	Rates      map[string]decimal.Decimal
	CapturedAt time.Time
}

// PerUSD returns how many units of currency buy one USD
func (s Snapshot) PerUSD(currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == Base {
		return decimal.NewFromInt(1), nil
	}
	r, ok := s.Rates[currency]
	if !ok || !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return r, nil
}

// CrossRate returns the number of units of to per one unit of from
func (s Snapshot) CrossRate(from, to string) (decimal.Decimal, error) {
	fromPerUSD, err := s.PerUSD(from)
	if err != nil {
		return decimal.Zero, err
	}
	toPerUSD, err := s.PerUSD(to)
	if err != nil {
		return decimal.Zero, err
	}
	return toPerUSD.DivRound(fromPerUSD, ratePlaces), nil
}

// RateSource supplies the latest rate snapshot
type RateSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Locker captures rate locks for new negotiations
type Locker struct {
	source RateSource
	clock  clock.Clock
}

// NewLocker creates a locker reading from source
func NewLocker(source RateSource, c clock.Clock) *Locker {
	if c == nil {
		c = clock.System{}
	}
	return &Locker{source: source, clock: c}
}

// Lock converts amount from one currency into another at the current rate
// and returns the lock to be stored alongside the time negotiation
func (l *Locker) Lock(ctx context.Context, from, to string, amount decimal.Decimal) (models.RateLock, error) {
	snap, err := l.source.Snapshot(ctx)
	if err != nil {
		return models.RateLock{}, fmt.Errorf("%w: %v", ErrRatesUnavailable, err)
	}
	rate, err := snap.CrossRate(from, to)
	if err != nil {
		return models.RateLock{}, err
	}
	captured := snap.CapturedAt
	if captured.IsZero() {
		captured = l.clock.Now()
	}
	return models.RateLock{
		FromCurrency: strings.ToUpper(from),
		ToCurrency:   strings.ToUpper(to),
		Rate:         rate,
		Amount:       amount,
		LockedAmount: amount.Mul(rate).Round(amountPlaces),
		CapturedAt:   captured.UTC(),
	}, nil
}

// StaticSource serves a fixed snapshot, typically loaded from configuration
type StaticSource struct {
	snap Snapshot
}

// NewStaticSource builds a source from a currency -> units-per-USD table
func NewStaticSource(rates map[string]decimal.Decimal, capturedAt time.Time) *StaticSource {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		normalized[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return &StaticSource{snap: Snapshot{Rates: normalized, CapturedAt: capturedAt.UTC()}}
}

func (s *StaticSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if len(s.snap.Rates) == 0 {
		return Snapshot{}, ErrRatesUnavailable
	}
	return s.snap, nil
}

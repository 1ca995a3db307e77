// Package tracker accepts live positions from the parties of an agreed
// meeting and shares each party's latest position with the other one.
// Positions are only accepted inside the window before the meeting and
// close to the agreed place.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/xtrntr/meetswap/internal/clock"
	"github.com/xtrntr/meetswap/internal/negotiation"
	"github.com/xtrntr/meetswap/internal/store"
)

const (
	// DefaultLead is how long before the meeting tracking opens
	DefaultLead = time.Hour
	// DefaultRadiusMeters is one mile
	DefaultRadiusMeters = 1609.344

	earthRadiusMeters = 6371008.8
)

// Config tunes the tracking window and radius
type Config struct {
	Lead         time.Duration
	RadiusMeters float64
}

// Position is a reported location
type Position struct {
	UserID     string    `json:"user_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ReportedAt time.Time `json:"reported_at"`
}

// Window is the interval in which positions are accepted
type Window struct {
	Opens  time.Time `json:"opens"`
	Closes time.Time `json:"closes"`
}

// Contains reports whether t falls inside the window, both ends included
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Opens) && !t.After(w.Closes)
}

type key struct {
	locNegID string
	userID   string
}

// Tracker keeps the latest position per location negotiation and party
type Tracker struct {
	store  store.Reader
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	positions map[key]Position
}

// New creates a tracker; zero config values take the defaults
func New(r store.Reader, c clock.Clock, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = DefaultRadiusMeters
	}
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:     r,
		clock:     c,
		cfg:       cfg,
		logger:    logger,
		positions: make(map[key]Position),
	}
}

// Window returns the tracking window for a meeting time
func (t *Tracker) Window(meeting time.Time) Window {
	return Window{Opens: meeting.Add(-t.cfg.Lead), Closes: meeting}
}

type meetingInfo struct {
	lat, lng float64
	window   Window
	peer     string
}

func (t *Tracker) load(ctx context.Context, op, locNegID, userID string) (*meetingInfo, error) {
	loc, err := t.store.GetLocationNegotiationByID(ctx, locNegID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &negotiation.Error{Kind: negotiation.NotFound, Op: op, Msg: "meeting location not found"}
	}
	if err != nil {
		return nil, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}
	v, err := t.store.LoadView(ctx, loc.ListingID)
	if err != nil {
		return nil, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}
	if !v.IsParty(userID) {
		return nil, &negotiation.Error{Kind: negotiation.NotAllowed, Op: op, Msg: "you are not a party to this meeting"}
	}
	if loc.AcceptedAt == nil {
		return nil, &negotiation.Error{Kind: negotiation.InvalidState, Op: op, Msg: "meeting location has not been agreed"}
	}
	return &meetingInfo{
		lat:    loc.Lat,
		lng:    loc.Lng,
		window: t.Window(v.Time.MeetingTime),
		peer:   v.Counterparty(userID),
	}, nil
}

// Update records a party's position
func (t *Tracker) Update(ctx context.Context, locNegID, userID string, lat, lng float64) error {
	const op = "update_location"
	m, err := t.load(ctx, op, locNegID, userID)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	if !m.window.Contains(now) {
		return &negotiation.Error{Kind: negotiation.InvalidState, Op: op, Msg: "tracking is only open in the hour before the meeting"}
	}
	if math.IsNaN(lat) || lat < -90 || lat > 90 || math.IsNaN(lng) || lng < -180 || lng > 180 {
		return &negotiation.Error{Kind: negotiation.InvalidInput, Op: op, Msg: "coordinates out of range"}
	}
	if d := Distance(lat, lng, m.lat, m.lng); d > t.cfg.RadiusMeters {
		t.logger.Debug("position outside radius", "loc_neg_id", locNegID, "user_id", userID, "meters", math.Round(d))
		return &negotiation.Error{Kind: negotiation.InvalidInput, Op: op, Msg: "position is too far from the meeting place"}
	}

	t.mu.Lock()
	t.positions[key{locNegID, userID}] = Position{UserID: userID, Lat: lat, Lng: lng, ReportedAt: now}
	t.mu.Unlock()
	return nil
}

// Peer returns the counterparty's latest position while the window is open
func (t *Tracker) Peer(ctx context.Context, locNegID, userID string) (Position, error) {
	const op = "peer_location"
	m, err := t.load(ctx, op, locNegID, userID)
	if err != nil {
		return Position{}, err
	}
	if !m.window.Contains(t.clock.Now()) {
		return Position{}, &negotiation.Error{Kind: negotiation.InvalidState, Op: op, Msg: "tracking window is closed"}
	}

	t.mu.RLock()
	p, ok := t.positions[key{locNegID, m.peer}]
	t.mu.RUnlock()
	if !ok {
		return Position{}, &negotiation.Error{Kind: negotiation.NotFound, Op: op, Msg: "the other party has not shared a position yet"}
	}
	return p, nil
}

// Prune drops positions whose meeting window closed before now
func (t *Tracker) Prune(ctx context.Context) int {
	now := t.clock.Now()
	t.mu.RLock()
	keys := make([]key, 0, len(t.positions))
	for k := range t.positions {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	pruned := 0
	for _, k := range keys {
		var stale bool
		m, err := t.load(ctx, "prune", k.locNegID, k.userID)
		if err != nil {
			stale = negotiation.KindOf(err) != negotiation.Internal
		} else {
			stale = now.After(m.window.Closes)
		}
		if stale {
			t.mu.Lock()
			delete(t.positions, k)
			t.mu.Unlock()
			pruned++
		}
	}
	return pruned
}

// Run prunes stale positions every interval until ctx is done
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Prune(ctx); n > 0 {
				t.logger.Info("pruned stale positions", "count", n)
			}
		}
	}
}

// Distance is the great-circle distance in meters
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

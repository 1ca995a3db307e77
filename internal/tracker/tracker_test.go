package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/meetswap/internal/clock"
	"github.com/xtrntr/meetswap/internal/exchange"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/negotiation"
	"github.com/xtrntr/meetswap/internal/payment"
	"github.com/xtrntr/meetswap/internal/store"
)

var (
	start   = time.Date(2029, 12, 1, 9, 0, 0, 0, time.UTC)
	meeting = start.Add(48 * time.Hour)
	lat     = 37.7749
	lng     = -122.4194
)

// agreedMeeting takes a listing through to an accepted location and returns its id
func agreedMeeting(t *testing.T, accept bool) (*store.MemStore, *clock.Manual, string) {
	t.Helper()
	st := store.NewMemStore()
	st.PutUser(models.User{ID: "B", Username: "bob"})
	st.PutUser(models.User{ID: "S", Username: "sam"})
	st.PutUser(models.User{ID: "X", Username: "xena"})
	st.PutListing(models.Listing{
		ID: "L", SellerID: "S", CurrencyHave: "USD", Amount: decimal.NewFromInt(100), CurrencyAccept: "USD",
		Status: models.ListingActive, AvailableUntil: start.Add(24 * time.Hour),
	})
	clk := clock.NewManual(start)
	rates := exchange.NewStaticSource(map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.9")}, start)
	eng := negotiation.NewEngine(st, clk, exchange.NewLocker(rates, clk), payment.Sandbox{}, nil, nil)

	ctx := context.Background()
	_, err := eng.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	require.NoError(t, eng.AcceptTime(ctx, "S", "L"))
	_, err = eng.PayFee(ctx, "B", "L")
	require.NoError(t, err)
	_, err = eng.PayFee(ctx, "S", "L")
	require.NoError(t, err)
	id, err := eng.ProposeLocation(ctx, "B", "L", negotiation.Place{Lat: lat, Lng: lng, Name: "Union Square"})
	require.NoError(t, err)
	if accept {
		require.NoError(t, eng.AcceptLocation(ctx, "S", "L"))
	}
	return st, clk, id
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 111195, Distance(0, 0, 0, 1), 1)
	assert.InDelta(t, 0, Distance(lat, lng, lat, lng), 1e-9)
	// San Francisco to Los Angeles
	assert.InDelta(t, 559000, Distance(37.7749, -122.4194, 34.0522, -118.2437), 2000)
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		user string
		lat  float64
		lng  float64
		kind error
	}{
		{name: "AtAgreedPoint", at: meeting.Add(-30 * time.Minute), user: "B", lat: lat, lng: lng},
		{name: "WindowOpens", at: meeting.Add(-time.Hour), user: "S", lat: lat, lng: lng},
		{name: "MeetingTime", at: meeting, user: "S", lat: lat, lng: lng},
		{name: "InsideMile", at: meeting, user: "B", lat: lat + 0.0135, lng: lng},
		{name: "OutsideMile", at: meeting, user: "B", lat: lat + 0.0150, lng: lng, kind: negotiation.ErrInvalidInput},
		{name: "TooEarly", at: meeting.Add(-time.Hour - time.Second), user: "B", lat: lat, lng: lng, kind: negotiation.ErrInvalidState},
		{name: "AfterMeeting", at: meeting.Add(time.Second), user: "B", lat: lat, lng: lng, kind: negotiation.ErrInvalidState},
		{name: "Outsider", at: meeting, user: "X", lat: lat, lng: lng, kind: negotiation.ErrNotAllowed},
		{name: "BadLatitude", at: meeting, user: "B", lat: 91, lng: lng, kind: negotiation.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, clk, id := agreedMeeting(t, true)
			tr := New(st, clk, Config{}, nil)
			clk.Set(tt.at)
			err := tr.Update(context.Background(), id, tt.user, tt.lat, tt.lng)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestUpdate_RequiresAcceptedLocation(t *testing.T) {
	st, clk, id := agreedMeeting(t, false)
	tr := New(st, clk, Config{}, nil)
	clk.Set(meeting)

	assert.ErrorIs(t, tr.Update(context.Background(), id, "B", lat, lng), negotiation.ErrInvalidState)
	assert.ErrorIs(t, tr.Update(context.Background(), "missing", "B", lat, lng), negotiation.ErrNotFound)
}

func TestPeer(t *testing.T) {
	st, clk, id := agreedMeeting(t, true)
	tr := New(st, clk, Config{}, nil)
	ctx := context.Background()
	clk.Set(meeting.Add(-10 * time.Minute))

	require.NoError(t, tr.Update(ctx, id, "B", lat+0.001, lng))

	p, err := tr.Peer(ctx, id, "S")
	require.NoError(t, err)
	assert.Equal(t, "B", p.UserID)
	assert.Equal(t, lat+0.001, p.Lat)
	assert.Equal(t, meeting.Add(-10*time.Minute), p.ReportedAt)

	_, err = tr.Peer(ctx, id, "B")
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
	_, err = tr.Peer(ctx, id, "X")
	assert.ErrorIs(t, err, negotiation.ErrNotAllowed)

	clk.Set(meeting.Add(time.Minute))
	_, err = tr.Peer(ctx, id, "S")
	assert.ErrorIs(t, err, negotiation.ErrInvalidState)
	assert.Equal(t, 1, tr.Prune(ctx))
	assert.Equal(t, 0, tr.Prune(ctx))
}

func TestWindow(t *testing.T) {
	tr := New(nil, nil, Config{Lead: 30 * time.Minute}, nil)
	w := tr.Window(meeting)
	assert.Equal(t, meeting.Add(-30*time.Minute), w.Opens)
	assert.Equal(t, meeting, w.Closes)
	assert.True(t, w.Contains(w.Opens))
	assert.True(t, w.Contains(w.Closes))
	assert.False(t, w.Contains(meeting.Add(time.Nanosecond)))
}

package negotiation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/meetswap/internal/clock"
	"github.com/xtrntr/meetswap/internal/exchange"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/payment"
	"github.com/xtrntr/meetswap/internal/status"
	"github.com/xtrntr/meetswap/internal/store"
)

var (
	start   = time.Date(2029, 12, 1, 9, 0, 0, 0, time.UTC)
	meeting = time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	union   = Place{Lat: 37.7749, Lng: -122.4194, Name: "Union Square"}
)

type scriptedGateway struct {
	mu    sync.Mutex
	err   error
	txID  string
	calls []payment.ChargeRequest
}

func (g *scriptedGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return payment.Receipt{}, g.err
	}
	id := g.txID
	if id == "" {
		id = "tx-" + req.IdempotencyKey
	}
	return payment.Receipt{TxID: id, Method: models.MethodPayPal}, nil
}

func (g *scriptedGateway) set(err error, txID string) {
	g.mu.Lock()
	g.err, g.txID = err, txID
	g.mu.Unlock()
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(evt notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return notify.Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	store  *store.MemStore
	clock  *clock.Manual
	gw     *scriptedGateway
	events *recorder
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	st.PutUser(models.User{ID: "B", Username: "bob", DisplayName: "Bob", Email: "bob@example.com"})
	st.PutUser(models.User{ID: "S", Username: "sam", DisplayName: "Sam", Email: "sam@example.com"})
	st.PutUser(models.User{ID: "X", Username: "xena"})
	st.PutUser(models.User{ID: "A", Username: "admin", IsAdmin: true})
	st.PutListing(models.Listing{
		ID:             "L",
		SellerID:       "S",
		CurrencyHave:   "USD",
		Amount:         decimal.NewFromInt(100),
		CurrencyAccept: "EUR",
		Status:         models.ListingActive,
		AvailableUntil: start.Add(30 * 24 * time.Hour),
		CreatedAt:      start.Add(-time.Hour),
	})

	clk := clock.NewManual(start)
	rates := exchange.NewStaticSource(map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(1),
		"EUR": decimal.RequireFromString("0.9"),
		"JPY": decimal.NewFromInt(150),
	}, start.Add(-2*time.Hour))
	f := &fixture{store: st, clock: clk, gw: &scriptedGateway{}, events: &recorder{}}
	f.engine = NewEngine(st, clk, exchange.NewLocker(rates, clk), f.gw, f.events, nil)
	return f
}

// agreed proposes and accepts the meeting time
func (f *fixture) agreed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	require.NoError(t, f.engine.AcceptTime(ctx, "S", "L"))
}

// paid takes the negotiation through both fee payments
func (f *fixture) paid(t *testing.T) {
	t.Helper()
	f.agreed(t)
	ctx := context.Background()
	_, err := f.engine.PayFee(ctx, "B", "L")
	require.NoError(t, err)
	_, err = f.engine.PayFee(ctx, "S", "L")
	require.NoError(t, err)
}

func (f *fixture) view(t *testing.T) *models.NegotiationView {
	t.Helper()
	v, err := f.store.LoadView(context.Background(), "L")
	require.NoError(t, err)
	return v
}

func (f *fixture) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	assert.NotEmpty(t, res.TimeNegID)
	assert.Equal(t, "USD", res.RateLock.FromCurrency)
	assert.Equal(t, "EUR", res.RateLock.ToCurrency)
	assert.True(t, decimal.RequireFromString("90").Equal(res.RateLock.LockedAmount))
	assert.Equal(t, notify.TimeProposed, f.events.last().Type)
	assert.Equal(t, "S", f.events.last().RecipientID)
	assert.Equal(t, "Bob", f.events.last().ActorName)

	require.NoError(t, f.engine.AcceptTime(ctx, "S", "L"))
	assert.Equal(t, "B", f.events.last().RecipientID)

	pay, err := f.engine.PayFee(ctx, "B", "L")
	require.NoError(t, err)
	assert.Equal(t, status.PaidPartial, pay.Status)
	assert.False(t, pay.AppliedCredit)
	assert.Equal(t, notify.PaymentPartial, f.events.last().Type)
	assert.Empty(t, f.store.ContactAccessFor("L"))
	assert.Equal(t, 0, f.user(t, "B").TotalExchanges)

	pay, err = f.engine.PayFee(ctx, "S", "L")
	require.NoError(t, err)
	assert.Equal(t, status.PaidComplete, pay.Status)
	assert.Equal(t, notify.PaymentComplete, f.events.last().Type)
	assert.Equal(t, "B", f.events.last().RecipientID)

	locID, err := f.engine.ProposeLocation(ctx, "B", "L", union)
	require.NoError(t, err)
	assert.NotEmpty(t, locID)
	require.NoError(t, f.engine.AcceptLocation(ctx, "S", "L"))
	assert.Equal(t, notify.LocationAccepted, f.events.last().Type)
	assert.Equal(t, "Union Square", f.events.last().PlaceName)

	done, err := f.engine.CompleteExchange(ctx, "B", "L")
	require.NoError(t, err)
	assert.Equal(t, CompleteResult{PartnerID: "S"}, done)
	assert.Equal(t, status.MeetingConfirmed, status.Project(f.view(t), "B").Status)

	done, err = f.engine.CompleteExchange(ctx, "S", "L")
	require.NoError(t, err)
	assert.Equal(t, CompleteResult{PartnerID: "B", Completed: true}, done)

	v := f.view(t)
	assert.Equal(t, models.ListingCompleted, v.Listing.Status)
	assert.Equal(t, status.Completed, status.Project(v, "B").Status)
	assert.Equal(t, status.Completed, status.Project(v, "S").Status)
	access := f.store.ContactAccessFor("L")
	require.Len(t, access, 2)
	assert.Equal(t, "B", access[0].UserID)
	assert.Equal(t, "S", access[1].UserID)
	assert.Equal(t, 1, f.user(t, "B").TotalExchanges)
	assert.Equal(t, 1, f.user(t, "S").TotalExchanges)

	// nothing further is accepted on a completed listing
	_, err = f.engine.CompleteExchange(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.engine.ProposeTime(ctx, "X", "L", meeting)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, f.engine.CounterTime(ctx, "S", "L", meeting.Add(time.Hour)), ErrInvalidState)
	assert.ErrorIs(t, f.engine.RejectLocation(ctx, "B", "L"), ErrInvalidState)
}

func TestProposeTime(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		listing string
		at      func() time.Time
		setup   func(f *fixture)
		kind    error
	}{
		{name: "OneSecondAhead", caller: "B", listing: "L", at: func() time.Time { return start.Add(time.Second) }},
		{name: "Now", caller: "B", listing: "L", at: func() time.Time { return start }, kind: ErrInvalidInput},
		{name: "Past", caller: "B", listing: "L", at: func() time.Time { return start.Add(-time.Hour) }, kind: ErrInvalidInput},
		{name: "OwnListing", caller: "S", listing: "L", at: func() time.Time { return meeting }, kind: ErrNotAllowed},
		{name: "UnknownListing", caller: "B", listing: "nope", at: func() time.Time { return meeting }, kind: ErrNotFound},
		{
			name: "InactiveListing", caller: "B", listing: "L", at: func() time.Time { return meeting },
			setup: func(f *fixture) {
				l, _ := f.store.GetListing(context.Background(), "L")
				l.Status = models.ListingInactive
				f.store.PutListing(*l)
			},
			kind: ErrInvalidState,
		},
		{
			name: "ExpiredListing", caller: "B", listing: "L", at: func() time.Time { return meeting },
			setup: func(f *fixture) { f.clock.Advance(31 * 24 * time.Hour) },
			kind:  ErrInvalidState,
		},
		{
			name: "UnsupportedCurrency", caller: "B", listing: "L", at: func() time.Time { return meeting },
			setup: func(f *fixture) {
				l, _ := f.store.GetListing(context.Background(), "L")
				l.CurrencyAccept = "XYZ"
				f.store.PutListing(*l)
			},
			kind: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.engine.ProposeTime(context.Background(), tt.caller, tt.listing, tt.at())
			if tt.kind == nil {
				require.NoError(t, err)
				assert.Equal(t, 1, f.events.count())
				return
			}
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, 0, f.events.count())
			_, err = f.store.LoadView(context.Background(), "L")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestProposeTime_TwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	_, err = f.engine.ProposeTime(ctx, "B", "L", meeting)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.engine.ProposeTime(ctx, "X", "L", meeting)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, first.TimeNegID, f.view(t).Time.ID)
}

func TestTurnTaking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	before := f.view(t).Time

	err = f.engine.CounterTime(ctx, "B", "L", meeting.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.ErrorIs(t, f.engine.AcceptTime(ctx, "B", "L"), ErrNotAllowed)
	assert.ErrorIs(t, f.engine.RejectTime(ctx, "B", "L"), ErrNotAllowed)
	assert.ErrorIs(t, f.engine.AcceptTime(ctx, "X", "L"), ErrNotAllowed)
	assert.Equal(t, before, f.view(t).Time)

	// the seller counters, now the buyer holds the turn
	require.NoError(t, f.engine.CounterTime(ctx, "S", "L", meeting.Add(time.Hour)))
	assert.Equal(t, notify.TimeCountered, f.events.last().Type)
	assert.Equal(t, "B", f.events.last().RecipientID)
	assert.ErrorIs(t, f.engine.AcceptTime(ctx, "S", "L"), ErrNotAllowed)
	assert.ErrorIs(t, f.engine.CounterTime(ctx, "B", "L", start), ErrInvalidInput)
	require.NoError(t, f.engine.AcceptTime(ctx, "B", "L"))

	n := f.view(t).Time
	assert.Equal(t, meeting.Add(time.Hour), n.MeetingTime)
	assert.Equal(t, "S", n.ProposedBy)
	require.NotNil(t, n.AcceptedAt)
}

func TestAcceptAfterAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)

	require.NoError(t, f.engine.AcceptTime(ctx, "S", "L"))
	f.clock.Advance(time.Millisecond)
	assert.ErrorIs(t, f.engine.AcceptTime(ctx, "B", "L"), ErrInvalidState)
	assert.ErrorIs(t, f.engine.RejectTime(ctx, "S", "L"), ErrInvalidState)
	assert.Equal(t, start, *f.view(t).Time.AcceptedAt)
}

func TestAcceptRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.engine.AcceptTime(ctx, "S", "L")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, 1, ok)
	assert.NotNil(t, f.view(t).Time.AcceptedAt)
}

func TestRejectedThenReproposed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	require.NoError(t, f.engine.RejectTime(ctx, "S", "L"))
	assert.Equal(t, notify.TimeRejected, f.events.last().Type)
	assert.Equal(t, status.Rejected, status.Project(f.view(t), "B").Status)

	second, err := f.engine.ProposeTime(ctx, "B", "L", meeting.Add(24*time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first.TimeNegID, second.TimeNegID)

	views, err := f.store.ListViewsForUser(ctx, "B")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, second.TimeNegID, views[0].Time.ID)
	assert.Nil(t, views[0].Time.RejectedAt)
	assert.Equal(t, meeting.Add(24*time.Hour), views[0].Time.MeetingTime)
	require.NotNil(t, views[0].RateLock)
	assert.Equal(t, second.TimeNegID, views[0].RateLock.TimeNegID)
}

func TestExpiredListingAllowsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)

	f.clock.Set(start.Add(31 * 24 * time.Hour))
	require.NoError(t, f.engine.CounterTime(ctx, "S", "L", meeting.Add(time.Hour)))
	require.NoError(t, f.engine.RejectTime(ctx, "B", "L"))

	_, err = f.engine.ProposeTime(ctx, "B", "L", meeting.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRateLockStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	require.NoError(t, f.engine.CounterTime(ctx, "S", "L", meeting.Add(time.Hour)))
	require.NoError(t, f.engine.AcceptTime(ctx, "B", "L"))

	lock := f.view(t).RateLock
	require.NotNil(t, lock)
	assert.Equal(t, res.TimeNegID, lock.TimeNegID)
	assert.Equal(t, "L", lock.ListingID)
	assert.True(t, res.RateLock.Rate.Equal(lock.Rate))
	assert.True(t, res.RateLock.LockedAmount.Equal(lock.LockedAmount))
}

func TestPayFee_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PayFee(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.ProposeTime(ctx, "B", "L", meeting)
	require.NoError(t, err)
	_, err = f.engine.PayFee(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, f.engine.AcceptTime(ctx, "S", "L"))
	_, err = f.engine.PayFee(ctx, "X", "L")
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.Equal(t, 0, f.gw.callCount())
}

func TestPayFee_ReplayIsAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	f.agreed(t)
	ctx := context.Background()

	res, err := f.engine.PayFee(ctx, "B", "L")
	require.NoError(t, err)
	assert.Equal(t, models.MethodPayPal, res.Method)
	_, err = f.engine.PayFee(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, 1, f.gw.callCount())

	req := f.gw.calls[0]
	assert.True(t, strings.HasPrefix(req.IdempotencyKey, "fee:"))
	assert.True(t, strings.HasSuffix(req.IdempotencyKey, ":buyer"))
	assert.True(t, models.Fee.Equal(req.Amount))
	assert.Equal(t, "USD", req.Currency)
	assert.Equal(t, "B", req.PayerID)

	p := f.view(t).Payment
	require.NotNil(t, p)
	require.NotNil(t, p.BuyerTxID)
	assert.Equal(t, res.TxID, *p.BuyerTxID)
	assert.Nil(t, p.SellerPaidAt)
}

func TestPayFee_GatewayFailureLeavesNoState(t *testing.T) {
	f := newFixture(t)
	f.agreed(t)
	ctx := context.Background()
	f.store.PutCredit(models.UserCredit{ID: "small", UserID: "B", Amount: decimal.RequireFromString("1.50"), Status: models.CreditAvailable, CreatedAt: start})
	f.gw.set(errors.New("status 500"), "")
	published := f.events.count()

	_, err := f.engine.PayFee(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrGatewayFailed)
	assert.Equal(t, GatewayFailed, KindOf(err))
	assert.Nil(t, f.view(t).Payment)
	assert.Equal(t, published, f.events.count())
	credit, ok := f.store.Credit("small")
	require.True(t, ok)
	assert.Equal(t, models.CreditAvailable, credit.Status)

	f.gw.set(nil, "")
	res, err := f.engine.PayFee(ctx, "B", "L")
	require.NoError(t, err)
	assert.Equal(t, status.PaidPartial, res.Status)
	assert.False(t, res.AppliedCredit)
	assert.Equal(t, 2, f.gw.callCount())
	assert.Equal(t, f.gw.calls[0].IdempotencyKey, f.gw.calls[1].IdempotencyKey)
}

func TestPayFee_DuplicateTxIDConflicts(t *testing.T) {
	f := newFixture(t)
	f.agreed(t)
	ctx := context.Background()
	f.gw.set(nil, "capture-1")

	_, err := f.engine.PayFee(ctx, "B", "L")
	require.NoError(t, err)
	_, err = f.engine.PayFee(ctx, "S", "L")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Nil(t, f.view(t).Payment.SellerPaidAt)
	assert.Empty(t, f.store.ContactAccessFor("L"))
}

func TestPayFee_Credits(t *testing.T) {
	expires := start.Add(-time.Minute)
	later := start.Add(time.Hour)
	tests := []struct {
		name       string
		credits    []models.UserCredit
		applied    string
		gatewayHit bool
	}{
		{
			name:    "CoversFee",
			credits: []models.UserCredit{{ID: "c1", UserID: "B", Amount: models.Fee, Status: models.CreditAvailable, CreatedAt: start}},
			applied: "c1",
		},
		{
			name: "OldestFirst",
			credits: []models.UserCredit{
				{ID: "new", UserID: "B", Amount: decimal.NewFromInt(5), Status: models.CreditAvailable, CreatedAt: start},
				{ID: "old", UserID: "B", Amount: decimal.NewFromInt(5), Status: models.CreditAvailable, ExpiresAt: &later, CreatedAt: start.Add(-time.Hour)},
			},
			applied: "old",
		},
		{
			name:       "Insufficient",
			credits:    []models.UserCredit{{ID: "c1", UserID: "B", Amount: decimal.RequireFromString("1.99"), Status: models.CreditAvailable, CreatedAt: start}},
			gatewayHit: true,
		},
		{
			name:       "Expired",
			credits:    []models.UserCredit{{ID: "c1", UserID: "B", Amount: models.Fee, Status: models.CreditAvailable, ExpiresAt: &expires, CreatedAt: start}},
			gatewayHit: true,
		},
		{
			name:       "AlreadyApplied",
			credits:    []models.UserCredit{{ID: "c1", UserID: "B", Amount: models.Fee, Status: models.CreditApplied, CreatedAt: start}},
			gatewayHit: true,
		},
		{
			name:       "OtherUser",
			credits:    []models.UserCredit{{ID: "c1", UserID: "S", Amount: models.Fee, Status: models.CreditAvailable, CreatedAt: start}},
			gatewayHit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.agreed(t)
			for _, c := range tt.credits {
				f.store.PutCredit(c)
			}

			res, err := f.engine.PayFee(context.Background(), "B", "L")
			require.NoError(t, err)
			assert.Equal(t, tt.applied != "", res.AppliedCredit)
			assert.Equal(t, tt.applied, res.CreditID)
			if tt.gatewayHit {
				assert.Equal(t, 1, f.gw.callCount())
				return
			}
			assert.Equal(t, 0, f.gw.callCount())
			assert.Equal(t, models.MethodCredit, res.Method)
			credit, ok := f.store.Credit(tt.applied)
			require.True(t, ok)
			assert.Equal(t, models.CreditApplied, credit.Status)
			require.NotNil(t, credit.AppliedTo)
			assert.Equal(t, f.view(t).Payment.ID, *credit.AppliedTo)
		})
	}
}

func TestAccessCoupling(t *testing.T) {
	f := newFixture(t)
	f.agreed(t)
	ctx := context.Background()

	_, err := f.engine.PayFee(ctx, "S", "L")
	require.NoError(t, err)
	assert.Empty(t, f.store.ContactAccessFor("L"))
	ok, err := f.store.HasContactAccess(ctx, "S", "L")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.engine.PayFee(ctx, "B", "L")
	require.NoError(t, err)
	for _, id := range []string{"B", "S"} {
		ok, err := f.store.HasContactAccess(ctx, id, "L")
		require.NoError(t, err)
		assert.True(t, ok, id)
		assert.Equal(t, 1, f.user(t, id).TotalExchanges, id)
	}
	assert.Equal(t, 0, f.user(t, "X").TotalExchanges)
}

func TestLocationBeforePayment(t *testing.T) {
	f := newFixture(t)
	f.agreed(t)
	ctx := context.Background()
	_, err := f.engine.PayFee(ctx, "B", "L")
	require.NoError(t, err)

	_, err = f.engine.ProposeLocation(ctx, "S", "L", union)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.engine.ProposeLocation(ctx, "X", "L", union)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Nil(t, f.view(t).Location)
}

func TestProposeLocation_Coordinates(t *testing.T) {
	tests := []struct {
		name  string
		place Place
		kind  error
	}{
		{name: "NorthPole", place: Place{Lat: 90, Lng: 0, Name: "Pole"}},
		{name: "SouthPole", place: Place{Lat: -90, Lng: 0, Name: "Pole"}},
		{name: "AntimeridianEast", place: Place{Lat: 0, Lng: 180, Name: "Line"}},
		{name: "AntimeridianWest", place: Place{Lat: 0, Lng: -180, Name: "Line"}},
		{name: "LatTooHigh", place: Place{Lat: 90.000001, Lng: 0, Name: "x"}, kind: ErrInvalidInput},
		{name: "LatTooLow", place: Place{Lat: -90.000001, Lng: 0, Name: "x"}, kind: ErrInvalidInput},
		{name: "LngTooHigh", place: Place{Lat: 0, Lng: 180.000001, Name: "x"}, kind: ErrInvalidInput},
		{name: "LngTooLow", place: Place{Lat: 0, Lng: -180.000001, Name: "x"}, kind: ErrInvalidInput},
		{name: "BlankName", place: Place{Lat: 1, Lng: 1, Name: "   "}, kind: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.paid(t)
			_, err := f.engine.ProposeLocation(context.Background(), "S", "L", tt.place)
			if tt.kind == nil {
				require.NoError(t, err)
				assert.Equal(t, "S", f.view(t).Location.ProposedBy)
				return
			}
			assert.ErrorIs(t, err, tt.kind)
			assert.Nil(t, f.view(t).Location)
		})
	}
}

func TestLocationNegotiation(t *testing.T) {
	f := newFixture(t)
	f.paid(t)
	ctx := context.Background()

	_, err := f.engine.ProposeLocation(ctx, "X", "L", union)
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.ErrorIs(t, f.engine.AcceptLocation(ctx, "S", "L"), ErrNotFound)

	first, err := f.engine.ProposeLocation(ctx, "B", "L", union)
	require.NoError(t, err)
	assert.Equal(t, "S", f.events.last().RecipientID)
	_, err = f.engine.ProposeLocation(ctx, "S", "L", union)
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, f.engine.AcceptLocation(ctx, "B", "L"), ErrNotAllowed)

	ferry := Place{Lat: 37.7955, Lng: -122.3937, Name: " Ferry Building "}
	require.NoError(t, f.engine.CounterLocation(ctx, "S", "L", ferry))
	loc := f.view(t).Location
	assert.Equal(t, "Ferry Building", loc.Name)
	assert.Equal(t, "S", loc.ProposedBy)
	assert.Equal(t, notify.LocationCountered, f.events.last().Type)
	assert.Equal(t, "B", f.events.last().RecipientID)

	require.NoError(t, f.engine.RejectLocation(ctx, "B", "L"))
	assert.Equal(t, status.DisplayProposeLocation, status.Project(f.view(t), "S").Display)

	second, err := f.engine.ProposeLocation(ctx, "S", "L", union)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.NoError(t, f.engine.AcceptLocation(ctx, "B", "L"))
	assert.ErrorIs(t, f.engine.AcceptLocation(ctx, "B", "L"), ErrInvalidState)
	assert.Equal(t, status.MeetingConfirmed, status.Project(f.view(t), "S").Status)
}

func TestCompleteExchange_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.paid(t)
	ctx := context.Background()

	_, err := f.engine.CompleteExchange(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.engine.ProposeLocation(ctx, "B", "L", union)
	require.NoError(t, err)
	_, err = f.engine.CompleteExchange(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, f.engine.AcceptLocation(ctx, "S", "L"))

	_, err = f.engine.CompleteExchange(ctx, "X", "L")
	assert.ErrorIs(t, err, ErrNotAllowed)
	_, err = f.engine.CompleteExchange(ctx, "S", "L")
	require.NoError(t, err)
	assert.Equal(t, notify.ExchangeConfirmed, f.events.last().Type)
	_, err = f.engine.CompleteExchange(ctx, "S", "L")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, models.ListingActive, f.view(t).Listing.Status)
}

func TestRevokeAccess(t *testing.T) {
	f := newFixture(t)
	f.paid(t)
	ctx := context.Background()

	_, err := f.engine.RevokeAccess(ctx, "B", "L")
	assert.ErrorIs(t, err, ErrNotAllowed)

	n, err := f.engine.RevokeAccess(ctx, "A", "L")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []string{"B", "S"} {
		ok, err := f.store.HasContactAccess(ctx, id, "L")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, notify.AccessRevoked, f.events.last().Type)

	n, err = f.engine.RevokeAccess(ctx, "A", "L")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestErrorMessages(t *testing.T) {
	err := wrapError(Internal, "pay_fee", "", errors.New("connection reset"))
	assert.Equal(t, "internal error", Message(err))
	assert.Equal(t, "pay_fee: Internal: connection reset", err.Error())

	err = newError(NotAllowed, "accept_time", "waiting for the other party to respond")
	assert.Equal(t, "waiting for the other party to respond", Message(err))
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

// Package query assembles the read side of negotiations: the detail view a
// party sees and the dashboard list with conversation summaries.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/negotiation"
	"github.com/xtrntr/meetswap/internal/status"
	"github.com/xtrntr/meetswap/internal/store"
	"golang.org/x/sync/errgroup"
)

// fan-out limit for per-row lookups on the dashboard
const summaryConcurrency = 8

// Contact is only present when the caller holds contact access
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Party is the counterparty's public profile
type Party struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Rating         decimal.Decimal `json:"rating"`
	TotalExchanges int             `json:"total_exchanges"`
	Contact        *Contact        `json:"contact,omitempty"`
}

// TimeDetail describes the meeting-time negotiation
type TimeDetail struct {
	ID          string     `json:"id"`
	MeetingTime time.Time  `json:"meeting_time"`
	ProposedBy  string     `json:"proposed_by"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
}

// LocationDetail describes the meeting-place negotiation
type LocationDetail struct {
	ID         string     `json:"id"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Name       string     `json:"name"`
	ProposedBy string     `json:"proposed_by"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
}

// PaymentDetail reports who has paid
type PaymentDetail struct {
	BuyerPaid  bool            `json:"buyer_paid"`
	SellerPaid bool            `json:"seller_paid"`
	Fee        decimal.Decimal `json:"fee"`
	Currency   string          `json:"currency"`
}

// RateDetail is the rate locked when the time was first proposed
type RateDetail struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	Rate         decimal.Decimal `json:"rate"`
	Amount       decimal.Decimal `json:"amount"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
	CapturedAt   time.Time       `json:"captured_at"`
}

// Detail is the full negotiation as seen by one party
type Detail struct {
	ListingID string `json:"listing_id"`
	Role      string `json:"role"`
	status.Projection
	Time         TimeDetail      `json:"time"`
	Location     *LocationDetail `json:"location,omitempty"`
	Payment      *PaymentDetail  `json:"payment,omitempty"`
	RateLock     *RateDetail     `json:"rate_lock,omitempty"`
	Counterparty Party           `json:"counterparty"`
}

// Conversation is the latest message exchanged on a listing
type Conversation struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Summary is one dashboard row
type Summary struct {
	ListingID string `json:"listing_id"`
	TimeNegID string `json:"time_neg_id"`
	Role      string `json:"role"`
	status.Projection
	MeetingTime      time.Time     `json:"meeting_time"`
	CounterpartyID   string        `json:"counterparty_id"`
	CounterpartyName string        `json:"counterparty_name"`
	LastActivity     time.Time     `json:"last_activity"`
	LastMessage      *Conversation `json:"last_message,omitempty"`
}

// Service answers negotiation queries
type Service struct {
	store  store.Reader
	logger *slog.Logger
}

// NewService creates a query service over the read side of a store
func NewService(r store.Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: r, logger: logger}
}

// GetNegotiation returns the negotiation on a listing for one of its parties
func (s *Service) GetNegotiation(ctx context.Context, callerID, listingID string) (*Detail, error) {
	const op = "get_negotiation"
	v, err := s.store.LoadView(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &negotiation.Error{Kind: negotiation.NotFound, Op: op, Msg: "no negotiation for this listing"}
	}
	if err != nil {
		return nil, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}
	if !v.IsParty(callerID) {
		return nil, &negotiation.Error{Kind: negotiation.NotAllowed, Op: op, Msg: "you are not a party to this negotiation"}
	}

	otherID := v.Counterparty(callerID)
	other, err := s.store.GetUser(ctx, otherID)
	if err != nil {
		return nil, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: fmt.Errorf("failed to load counterparty: %w", err)}
	}
	access, err := s.store.HasContactAccess(ctx, callerID, listingID)
	if err != nil {
		return nil, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: fmt.Errorf("failed to check contact access: %w", err)}
	}

	d := &Detail{
		ListingID:  listingID,
		Role:       role(v, callerID),
		Projection: status.Project(v, callerID),
		Time: TimeDetail{
			ID:          v.Time.ID,
			MeetingTime: v.Time.MeetingTime,
			ProposedBy:  v.Time.ProposedBy,
			AcceptedAt:  v.Time.AcceptedAt,
			RejectedAt:  v.Time.RejectedAt,
		},
		Counterparty: Party{
			ID:             other.ID,
			Name:           other.Name(),
			Rating:         other.Rating,
			TotalExchanges: other.TotalExchanges,
		},
	}
	if access {
		d.Counterparty.Contact = &Contact{Email: other.Email, Phone: other.Phone}
	}
	if loc := v.Location; loc != nil {
		d.Location = &LocationDetail{
			ID:         loc.ID,
			Lat:        loc.Lat,
			Lng:        loc.Lng,
			Name:       loc.Name,
			ProposedBy: loc.ProposedBy,
			AcceptedAt: loc.AcceptedAt,
			RejectedAt: loc.RejectedAt,
		}
	}
	if p := v.Payment; p != nil {
		d.Payment = &PaymentDetail{
			BuyerPaid:  p.BuyerPaidAt != nil,
			SellerPaid: p.SellerPaidAt != nil,
			Fee:        p.Amount,
			Currency:   p.Currency,
		}
	}
	if rl := v.RateLock; rl != nil {
		d.RateLock = &RateDetail{
			From:         rl.FromCurrency,
			To:           rl.ToCurrency,
			Rate:         rl.Rate,
			Amount:       rl.Amount,
			LockedAmount: rl.LockedAmount,
			CapturedAt:   rl.CapturedAt,
		}
	}
	return d, nil
}

// ListMyNegotiations returns the caller's negotiations, newest activity
// first. Rejected negotiations are left out.
func (s *Service) ListMyNegotiations(ctx context.Context, callerID string) ([]Summary, error) {
	const op = "list_my_negotiations"
	views, err := s.store.ListViewsForUser(ctx, callerID)
	if err != nil {
		return nil, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}

	live := views[:0]
	for _, v := range views {
		if v.Time != nil && v.Time.RejectedAt == nil {
			live = append(live, v)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		a, b := live[i].LastActivity(), live[j].LastActivity()
		if a.Equal(b) {
			return live[i].Listing.ID < live[j].Listing.ID
		}
		return a.After(b)
	})

	out := make([]Summary, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i, v := range live {
		i, v := i, v
		out[i] = Summary{
			ListingID:      v.Listing.ID,
			TimeNegID:      v.Time.ID,
			Role:           role(v, callerID),
			Projection:     status.Project(v, callerID),
			MeetingTime:    v.Time.MeetingTime,
			CounterpartyID: v.Counterparty(callerID),
			LastActivity:   v.LastActivity(),
		}
		g.Go(func() error {
			return s.summarize(gctx, &out[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}
	return out, nil
}

func (s *Service) summarize(ctx context.Context, row *Summary) error {
	other, err := s.store.GetUser(ctx, row.CounterpartyID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("counterparty missing", "listing_id", row.ListingID, "user_id", row.CounterpartyID)
	case err != nil:
		return fmt.Errorf("failed to load counterparty: %w", err)
	default:
		row.CounterpartyName = other.Name()
	}

	msg, err := s.store.LastMessage(ctx, row.ListingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load last message: %w", err)
	}
	row.LastMessage = &Conversation{Text: msg.Body, SentAt: msg.CreatedAt}
	return nil
}

func role(v *models.NegotiationView, userID string) string {
	if v.Time != nil && v.Time.BuyerID == userID {
		return string(negotiation.RoleBuyer)
	}
	return string(negotiation.RoleSeller)
}

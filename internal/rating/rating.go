// Package rating records the score each party leaves for the other once an
// exchange is completed.
package rating

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/xtrntr/meetswap/internal/clock"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/negotiation"
	"github.com/xtrntr/meetswap/internal/store"
)

const (
	MinScore = 1
	MaxScore = 5

	maxCommentLen = 500
)

// Recorder stores ratings and keeps user averages current
type Recorder struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewRecorder creates a recorder
func NewRecorder(st store.Store, c clock.Clock, logger *slog.Logger) *Recorder {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: st, clock: c, logger: logger}
}

// Submit rates the caller's partner on a completed listing. Each party may
// rate once per listing.
func (r *Recorder) Submit(ctx context.Context, callerID, listingID string, score int, comment string) (models.Rating, error) {
	const op = "submit_rating"
	if score < MinScore || score > MaxScore {
		return models.Rating{}, &negotiation.Error{Kind: negotiation.InvalidInput, Op: op, Msg: "score must be between 1 and 5"}
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLen {
		return models.Rating{}, &negotiation.Error{Kind: negotiation.InvalidInput, Op: op, Msg: "comment is too long"}
	}

	var out models.Rating
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		listing, err := tx.LockListing(ctx, listingID)
		if errors.Is(err, store.ErrNotFound) {
			return &negotiation.Error{Kind: negotiation.NotFound, Op: op, Msg: "listing not found"}
		}
		if err != nil {
			return err
		}
		n, err := tx.GetTimeNegotiation(ctx, listingID)
		if errors.Is(err, store.ErrNotFound) {
			return &negotiation.Error{Kind: negotiation.NotFound, Op: op, Msg: "no negotiation for this listing"}
		}
		if err != nil {
			return err
		}

		var ratee string
		switch callerID {
		case n.BuyerID:
			ratee = listing.SellerID
		case listing.SellerID:
			ratee = n.BuyerID
		default:
			return &negotiation.Error{Kind: negotiation.NotAllowed, Op: op, Msg: "you are not a party to this exchange"}
		}
		if listing.Status != models.ListingCompleted {
			return &negotiation.Error{Kind: negotiation.InvalidState, Op: op, Msg: "exchange is not completed"}
		}

		out = models.Rating{
			ID:        ulid.Make().String(),
			ListingID: listingID,
			RaterID:   callerID,
			RateeID:   ratee,
			Score:     score,
			Comment:   comment,
			CreatedAt: r.clock.Now(),
		}
		if err := tx.InsertRating(ctx, &out); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &negotiation.Error{Kind: negotiation.Conflict, Op: op, Msg: "you have already rated this exchange"}
			}
			return err
		}
		return tx.AddUserRating(ctx, ratee, score)
	})
	if err != nil {
		var typed *negotiation.Error
		if errors.As(err, &typed) {
			return models.Rating{}, typed
		}
		r.logger.Error("rating failed", "listing_id", listingID, "caller_id", callerID, "error", err)
		return models.Rating{}, &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}
	return out, nil
}

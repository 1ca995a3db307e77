package negotiation

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/meetswap/internal/exchange"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/store"
)

// ProposeResult is returned by ProposeTime
type ProposeResult struct {
	TimeNegID string
	RateLock  models.RateLock
}

// ProposeTime opens a negotiation on a listing with the caller as buyer.
// A previously rejected negotiation is replaced in the same transaction.
func (e *Engine) ProposeTime(ctx context.Context, callerID, listingID string, meetingTime time.Time) (ProposeResult, error) {
	var res ProposeResult
	err := e.run(ctx, "propose_time", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if !listing.OpenAt(c.now) {
			return newError(InvalidState, c.op, "listing is not available")
		}
		if callerID == listing.SellerID {
			return newError(NotAllowed, c.op, "you cannot negotiate on your own listing")
		}
		if !meetingTime.After(c.now) {
			return newError(InvalidInput, c.op, "meeting time must be in the future")
		}

		prior, err := c.tx.GetTimeNegotiation(ctx, listingID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case prior.RejectedAt == nil:
			return newError(Conflict, c.op, "a negotiation is already in progress for this listing")
		default:
			if err := c.tx.DeleteTimeNegotiation(ctx, prior.ID); err != nil {
				return err
			}
		}

		n := &models.TimeNegotiation{
			ID:          e.newID(),
			ListingID:   listingID,
			BuyerID:     callerID,
			ProposedBy:  callerID,
			MeetingTime: meetingTime.UTC(),
			CreatedAt:   c.now,
			UpdatedAt:   c.now,
		}
		if err := c.tx.InsertTimeNegotiation(ctx, n); err != nil {
			return err
		}

		lock, err := e.rates.Lock(ctx, listing.CurrencyHave, listing.CurrencyAccept, listing.Amount)
		if err != nil {
			if errors.Is(err, exchange.ErrUnknownCurrency) {
				return wrapError(InvalidInput, c.op, "unsupported currency pair", err)
			}
			return err
		}
		lock.TimeNegID = n.ID
		lock.ListingID = listingID
		if err := c.tx.InsertRateLock(ctx, &lock); err != nil {
			return err
		}

		at := n.MeetingTime
		c.emit(notify.Event{
			Type:          notify.TimeProposed,
			ListingID:     listingID,
			NegotiationID: n.ID,
			ActorName:     c.actorName(ctx),
			RecipientID:   listing.SellerID,
			MeetingTime:   &at,
		})
		res = ProposeResult{TimeNegID: n.ID, RateLock: lock}
		return nil
	})
	return res, err
}

// CounterTime replaces the proposed meeting time. Only the party who did not
// make the current proposal may counter. An expired listing does not block
// counters on a negotiation that is already open.
func (e *Engine) CounterTime(ctx context.Context, callerID, listingID string, meetingTime time.Time) error {
	return e.run(ctx, "counter_time", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		n, err := c.loadTime(ctx, listingID)
		if err != nil {
			return err
		}
		if !n.Open() {
			return newError(InvalidState, c.op, "negotiation is no longer open")
		}
		if err := c.requireTurn(roleOf(callerID, listing, n), n.ProposedBy); err != nil {
			return err
		}
		if !meetingTime.After(c.now) {
			return newError(InvalidInput, c.op, "meeting time must be in the future")
		}

		n.MeetingTime = meetingTime.UTC()
		n.ProposedBy = callerID
		n.AcceptedAt = nil
		n.UpdatedAt = c.now
		if err := c.tx.UpdateTimeNegotiation(ctx, n); err != nil {
			return err
		}

		at := n.MeetingTime
		c.emit(notify.Event{
			Type:          notify.TimeCountered,
			ListingID:     listingID,
			NegotiationID: n.ID,
			ActorName:     c.actorName(ctx),
			RecipientID:   counterparty(callerID, listing, n),
			MeetingTime:   &at,
		})
		return nil
	})
}

// AcceptTime locks in the proposed meeting time; payment may begin afterwards
func (e *Engine) AcceptTime(ctx context.Context, callerID, listingID string) error {
	return e.run(ctx, "accept_time", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		n, err := c.loadTime(ctx, listingID)
		if err != nil {
			return err
		}
		if !n.Open() {
			return newError(InvalidState, c.op, "negotiation is no longer open")
		}
		if err := c.requireTurn(roleOf(callerID, listing, n), n.ProposedBy); err != nil {
			return err
		}

		now := c.now
		n.AcceptedAt = &now
		n.UpdatedAt = now
		if err := c.tx.UpdateTimeNegotiation(ctx, n); err != nil {
			return err
		}

		at := n.MeetingTime
		c.emit(notify.Event{
			Type:          notify.TimeAccepted,
			ListingID:     listingID,
			NegotiationID: n.ID,
			ActorName:     c.actorName(ctx),
			RecipientID:   counterparty(callerID, listing, n),
			MeetingTime:   &at,
		})
		return nil
	})
}

// RejectTime terminates the negotiation; the buyer may later propose again
func (e *Engine) RejectTime(ctx context.Context, callerID, listingID string) error {
	return e.run(ctx, "reject_time", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		n, err := c.loadTime(ctx, listingID)
		if err != nil {
			return err
		}
		if !n.Open() {
			return newError(InvalidState, c.op, "negotiation is no longer open")
		}
		if err := c.requireTurn(roleOf(callerID, listing, n), n.ProposedBy); err != nil {
			return err
		}

		now := c.now
		n.RejectedAt = &now
		n.UpdatedAt = now
		if err := c.tx.UpdateTimeNegotiation(ctx, n); err != nil {
			return err
		}

		c.emit(notify.Event{
			Type:          notify.TimeRejected,
			ListingID:     listingID,
			NegotiationID: n.ID,
			ActorName:     c.actorName(ctx),
			RecipientID:   counterparty(callerID, listing, n),
		})
		return nil
	})
}

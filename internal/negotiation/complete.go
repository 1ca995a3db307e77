package negotiation

import (
	"context"
	"errors"

	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/store"
)

// CompleteResult is returned by CompleteExchange
type CompleteResult struct {
	PartnerID string
	// Completed is true once both parties have confirmed
	Completed bool
}

// CompleteExchange records the caller's confirmation that the meeting took
// place. The listing is completed when the second party confirms.
func (e *Engine) CompleteExchange(ctx context.Context, callerID, listingID string) (CompleteResult, error) {
	var res CompleteResult
	err := e.run(ctx, "complete_exchange", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.Status == models.ListingCompleted {
			return newError(InvalidState, c.op, "exchange is already completed")
		}
		n, err := c.requirePaid(ctx, listingID)
		if err != nil {
			return err
		}
		role := roleOf(callerID, listing, n)
		if role == RoleNone {
			return newError(NotAllowed, c.op, "you are not a party to this negotiation")
		}
		loc, err := c.tx.GetLocationNegotiation(ctx, listingID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && loc.AcceptedAt == nil) {
			return newError(InvalidState, c.op, "meeting location has not been agreed")
		}
		if err != nil {
			return err
		}

		now := c.now
		confirmed := &n.BuyerConfirmedAt
		if role == RoleSeller {
			confirmed = &n.SellerConfirmedAt
		}
		if *confirmed != nil {
			return newError(InvalidState, c.op, "you have already confirmed this exchange")
		}
		*confirmed = &now
		n.UpdatedAt = now
		if err := c.tx.UpdateTimeNegotiation(ctx, n); err != nil {
			return err
		}

		partner := counterparty(callerID, listing, n)
		res = CompleteResult{PartnerID: partner}
		if n.BuyerConfirmedAt == nil || n.SellerConfirmedAt == nil {
			c.emit(notify.Event{
				Type:          notify.ExchangeConfirmed,
				ListingID:     listingID,
				NegotiationID: n.ID,
				ActorName:     c.actorName(ctx),
				RecipientID:   partner,
			})
			return nil
		}

		if err := c.tx.SetListingStatus(ctx, listingID, models.ListingCompleted); err != nil {
			return err
		}
		res.Completed = true
		name := c.actorName(ctx)
		// both parties are prompted to rate each other
		for _, recipient := range []string{partner, callerID} {
			c.emit(notify.Event{
				Type:          notify.ExchangeCompleted,
				ListingID:     listingID,
				NegotiationID: n.ID,
				ActorName:     name,
				RecipientID:   recipient,
				Attributes:    map[string]string{"partner_id": counterparty(recipient, listing, n)},
			})
		}
		return nil
	})
	return res, err
}

// RevokeAccess withdraws both parties' contact access on a listing. It is the
// administrative path for abandoned exchanges; refunds are handled outside
// the service.
func (e *Engine) RevokeAccess(ctx context.Context, adminID, listingID string) (int, error) {
	var revoked int
	err := e.run(ctx, "revoke_access", adminID, listingID, func(ctx context.Context, c *command) error {
		admin, err := c.tx.GetUser(ctx, adminID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(NotAllowed, c.op, "administrator access required")
		}
		if err != nil {
			return err
		}
		if !admin.IsAdmin {
			return newError(NotAllowed, c.op, "administrator access required")
		}
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		revoked, err = c.tx.RevokeContactAccess(ctx, listingID)
		if err != nil {
			return err
		}
		if revoked == 0 {
			return nil
		}

		n, err := c.tx.GetTimeNegotiation(ctx, listingID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, recipient := range []string{n.BuyerID, listing.SellerID} {
			c.emit(notify.Event{
				Type:          notify.AccessRevoked,
				ListingID:     listingID,
				NegotiationID: n.ID,
				ActorName:     admin.Name(),
				RecipientID:   recipient,
			})
		}
		return nil
	})
	return revoked, err
}

package negotiation

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/store"
)

const maxPlaceNameLen = 200

// Place is a proposed meeting point
type Place struct {
	Lat  float64
	Lng  float64
	Name string
}

func (c *command) validatePlace(p Place) (Place, error) {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return p, newError(InvalidInput, c.op, "latitude must be between -90 and 90")
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return p, newError(InvalidInput, c.op, "longitude must be between -180 and 180")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return p, newError(InvalidInput, c.op, "place name is required")
	}
	if len(p.Name) > maxPlaceNameLen {
		return p, newError(InvalidInput, c.op, "place name is too long")
	}
	return p, nil
}

// requirePaid loads the time negotiation and checks the location phase may begin
func (c *command) requirePaid(ctx context.Context, listingID string) (*models.TimeNegotiation, error) {
	n, err := c.loadTime(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if n.AcceptedAt == nil {
		return nil, newError(InvalidState, c.op, "meeting time has not been accepted")
	}
	p, err := c.loadPayment(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !p.BothPaid() {
		return nil, newError(InvalidState, c.op, "both parties must pay before choosing a location")
	}
	return n, nil
}

func placeEvent(typ notify.EventType, listing *models.Listing, n *models.TimeNegotiation, loc *models.LocationNegotiation, caller string) notify.Event {
	return notify.Event{
		Type:          typ,
		ListingID:     listing.ID,
		NegotiationID: loc.ID,
		RecipientID:   counterparty(caller, listing, n),
		PlaceName:     loc.Name,
	}
}

// ProposeLocation opens the meeting-place negotiation once both fees are paid.
// A previously rejected location is replaced in the same transaction.
func (e *Engine) ProposeLocation(ctx context.Context, callerID, listingID string, place Place) (string, error) {
	var id string
	err := e.run(ctx, "propose_location", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, err := c.lockListing(ctx, listingID)
		if err != nil {
			return err
		}
		n, err := c.requirePaid(ctx, listingID)
		if err != nil {
			return err
		}
		if roleOf(callerID, listing, n) == RoleNone {
			return newError(NotAllowed, c.op, "you are not a party to this negotiation")
		}
		place, err := c.validatePlace(place)
		if err != nil {
			return err
		}

		prior, err := c.tx.GetLocationNegotiation(ctx, listingID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case prior.RejectedAt == nil:
			return newError(Conflict, c.op, "a meeting location is already under negotiation")
		default:
			if err := c.tx.DeleteLocationNegotiation(ctx, prior.ID); err != nil {
				return err
			}
		}

		loc := &models.LocationNegotiation{
			ID:         e.newID(),
			ListingID:  listingID,
			BuyerID:    n.BuyerID,
			ProposedBy: callerID,
			Lat:        place.Lat,
			Lng:        place.Lng,
			Name:       place.Name,
			CreatedAt:  c.now,
			UpdatedAt:  c.now,
		}
		if err := c.tx.InsertLocationNegotiation(ctx, loc); err != nil {
			return err
		}

		evt := placeEvent(notify.LocationProposed, listing, n, loc, callerID)
		evt.ActorName = c.actorName(ctx)
		c.emit(evt)
		id = loc.ID
		return nil
	})
	return id, err
}

// openLocation loads an in-flight location negotiation and checks it is the caller's turn
func (c *command) openLocation(ctx context.Context, listingID string) (*models.Listing, *models.TimeNegotiation, *models.LocationNegotiation, error) {
	listing, err := c.lockListing(ctx, listingID)
	if err != nil {
		return nil, nil, nil, err
	}
	n, err := c.loadTime(ctx, listingID)
	if err != nil {
		return nil, nil, nil, err
	}
	loc, err := c.loadLocation(ctx, listingID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !loc.Open() {
		return nil, nil, nil, newError(InvalidState, c.op, "location negotiation is no longer open")
	}
	if err := c.requireTurn(roleOf(c.caller, listing, n), loc.ProposedBy); err != nil {
		return nil, nil, nil, err
	}
	return listing, n, loc, nil
}

// CounterLocation replaces the proposed meeting place
func (e *Engine) CounterLocation(ctx context.Context, callerID, listingID string, place Place) error {
	return e.run(ctx, "counter_location", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, n, loc, err := c.openLocation(ctx, listingID)
		if err != nil {
			return err
		}
		place, err := c.validatePlace(place)
		if err != nil {
			return err
		}

		loc.Lat, loc.Lng, loc.Name = place.Lat, place.Lng, place.Name
		loc.ProposedBy = callerID
		loc.AcceptedAt = nil
		loc.UpdatedAt = c.now
		if err := c.tx.UpdateLocationNegotiation(ctx, loc); err != nil {
			return err
		}

		evt := placeEvent(notify.LocationCountered, listing, n, loc, callerID)
		evt.ActorName = c.actorName(ctx)
		c.emit(evt)
		return nil
	})
}

// AcceptLocation fully agrees the negotiation; the tracking window becomes eligible
func (e *Engine) AcceptLocation(ctx context.Context, callerID, listingID string) error {
	return e.run(ctx, "accept_location", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, n, loc, err := c.openLocation(ctx, listingID)
		if err != nil {
			return err
		}

		now := c.now
		loc.AcceptedAt = &now
		loc.UpdatedAt = now
		if err := c.tx.UpdateLocationNegotiation(ctx, loc); err != nil {
			return err
		}

		at := n.MeetingTime
		evt := placeEvent(notify.LocationAccepted, listing, n, loc, callerID)
		evt.ActorName = c.actorName(ctx)
		evt.MeetingTime = &at
		c.emit(evt)
		return nil
	})
}

// RejectLocation terminates the place negotiation; either party may propose again
func (e *Engine) RejectLocation(ctx context.Context, callerID, listingID string) error {
	return e.run(ctx, "reject_location", callerID, listingID, func(ctx context.Context, c *command) error {
		listing, n, loc, err := c.openLocation(ctx, listingID)
		if err != nil {
			return err
		}

		now := c.now
		loc.RejectedAt = &now
		loc.UpdatedAt = now
		if err := c.tx.UpdateLocationNegotiation(ctx, loc); err != nil {
			return err
		}

		evt := placeEvent(notify.LocationRejected, listing, n, loc, callerID)
		evt.ActorName = c.actorName(ctx)
		c.emit(evt)
		return nil
	})
}

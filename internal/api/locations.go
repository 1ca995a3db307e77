package api

import (
	"errors"
	"net/http"

	"github.com/xtrntr/meetswap/internal/negotiation"
	"github.com/xtrntr/meetswap/internal/store"
)

func placeParams(r *http.Request, op string) (negotiation.Place, error) {
	lat, err := parseCoordinate(r, "lat", op)
	if err != nil {
		return negotiation.Place{}, err
	}
	lng, err := parseCoordinate(r, "lng", op)
	if err != nil {
		return negotiation.Place{}, err
	}
	return negotiation.Place{Lat: lat, Lng: lng, Name: r.FormValue("name")}, nil
}

// ProposeLocation handles /MeetingLocation/Propose
func (h *Handler) ProposeLocation(w http.ResponseWriter, r *http.Request) {
	const op = "propose_location"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	place, err := placeParams(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	id, err := h.Engine.ProposeLocation(r.Context(), caller(r), listingID, place)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"location_negotiation_id": id})
}

// CounterLocation handles /MeetingLocation/Counter
func (h *Handler) CounterLocation(w http.ResponseWriter, r *http.Request) {
	const op = "counter_location"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	place, err := placeParams(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.CounterLocation(r.Context(), caller(r), listingID, place); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, nil)
}

// AcceptLocation handles /MeetingLocation/Accept
func (h *Handler) AcceptLocation(w http.ResponseWriter, r *http.Request) {
	const op = "accept_location"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.AcceptLocation(r.Context(), caller(r), listingID); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, nil)
}

// RejectLocation handles /MeetingLocation/Reject
func (h *Handler) RejectLocation(w http.ResponseWriter, r *http.Request) {
	const op = "reject_location"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.RejectLocation(r.Context(), caller(r), listingID); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, nil)
}

// locationNegotiationID finds the location negotiation behind any id the caller holds
func (h *Handler) locationNegotiationID(r *http.Request, op string) (string, error) {
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		return "", err
	}
	v, err := h.Store.LoadView(r.Context(), listingID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}
	if v == nil || v.Location == nil {
		return "", &negotiation.Error{Kind: negotiation.NotFound, Op: op, Msg: "location negotiation not found"}
	}
	return v.Location.ID, nil
}

// UpdatePosition handles /Location/Update
func (h *Handler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	const op = "update_position"
	locNegID, err := h.locationNegotiationID(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	lat, err := parseCoordinate(r, "lat", op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	lng, err := parseCoordinate(r, "lng", op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Tracker.Update(r.Context(), locNegID, caller(r), lat, lng); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, nil)
}

// PeerPosition handles /Location/Peer
func (h *Handler) PeerPosition(w http.ResponseWriter, r *http.Request) {
	const op = "peer_position"
	locNegID, err := h.locationNegotiationID(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	pos, err := h.Tracker.Peer(r.Context(), locNegID, caller(r))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"position": pos})
}

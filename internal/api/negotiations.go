package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/xtrntr/meetswap/internal/status"
)

// ProposeTime handles /Negotiations/Propose
func (h *Handler) ProposeTime(w http.ResponseWriter, r *http.Request) {
	const op = "propose_time"
	listingID, err := listingParam(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	meeting, err := parseTime(r.FormValue("proposedTime"), op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	res, err := h.Engine.ProposeTime(r.Context(), caller(r), listingID, meeting)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{
		"negotiation_id": res.TimeNegID,
		"status":         status.Negotiating,
		"rate_lock": response{
			"from":          res.RateLock.FromCurrency,
			"to":            res.RateLock.ToCurrency,
			"rate":          res.RateLock.Rate,
			"amount":        res.RateLock.Amount,
			"locked_amount": res.RateLock.LockedAmount,
			"captured_at":   res.RateLock.CapturedAt,
		},
	})
}

// CounterTime handles /Negotiations/Counter
func (h *Handler) CounterTime(w http.ResponseWriter, r *http.Request) {
	const op = "counter_time"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	meeting, err := parseTime(r.FormValue("proposedTime"), op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.CounterTime(r.Context(), caller(r), listingID, meeting); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"meeting_time": meeting})
}

// AcceptTime handles /Negotiations/Accept
func (h *Handler) AcceptTime(w http.ResponseWriter, r *http.Request) {
	const op = "accept_time"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.AcceptTime(r.Context(), caller(r), listingID); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"status": status.Agreed})
}

// RejectTime handles /Negotiations/Reject
func (h *Handler) RejectTime(w http.ResponseWriter, r *http.Request) {
	const op = "reject_time"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := h.Engine.RejectTime(r.Context(), caller(r), listingID); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"status": status.Rejected})
}

// PayFee handles /Negotiations/Pay
func (h *Handler) PayFee(w http.ResponseWriter, r *http.Request) {
	const op = "pay_fee"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	res, err := h.Engine.PayFee(r.Context(), caller(r), listingID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{
		"status":         res.Status,
		"applied_credit": res.AppliedCredit,
		"tx_id":          res.TxID,
		"method":         res.Method,
	})
}

// GetNegotiation handles /Negotiations/Get
func (h *Handler) GetNegotiation(w http.ResponseWriter, r *http.Request) {
	const op = "get_negotiation"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	detail, err := h.Query.GetNegotiation(r.Context(), caller(r), listingID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"negotiation": detail})
}

// ListMyNegotiations handles /Negotiations/GetMyNegotiations
func (h *Handler) ListMyNegotiations(w http.ResponseWriter, r *http.Request) {
	const op = "list_my_negotiations"
	rows, err := h.Query.ListMyNegotiations(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"negotiations": rows})
}

// CompleteExchange handles /Negotiations/Complete
func (h *Handler) CompleteExchange(w http.ResponseWriter, r *http.Request) {
	const op = "complete_exchange"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	res, err := h.Engine.CompleteExchange(r.Context(), caller(r), listingID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	st := status.MeetingConfirmed
	if res.Completed {
		st = status.Completed
	}
	h.ok(w, op, response{"partner_id": res.PartnerID, "completed": res.Completed, "status": st})
}

// SubmitRating handles /Ratings/Submit
func (h *Handler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	const op = "submit_rating"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	score, err := strconv.Atoi(strings.TrimSpace(r.FormValue("score")))
	if err != nil {
		h.fail(w, r, op, invalid(op, "score must be an integer between 1 and 5"))
		return
	}
	rt, err := h.Ratings.Submit(r.Context(), caller(r), listingID, score, r.FormValue("comment"))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"rating_id": rt.ID, "ratee_id": rt.RateeID})
}

// RevokeAccess handles /Admin/RevokeAccess
func (h *Handler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	const op = "revoke_access"
	listingID, err := h.resolveListing(r, op)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	n, err := h.Engine.RevokeAccess(r.Context(), caller(r), listingID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, response{"revoked": n})
}

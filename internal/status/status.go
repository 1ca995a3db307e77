// Package status derives the display status of a negotiation from its rows.
// Every read path uses Project so the dashboard, the detail view and push
// bodies agree.
package status

import "github.com/xtrntr/meetswap/internal/models"

// Overall is the single machine-readable status of a negotiation
type Overall string

const (
	Negotiating      Overall = "negotiating"
	Agreed           Overall = "agreed"
	PaidPartial      Overall = "paid_partial"
	PaidComplete     Overall = "paid_complete"
	MeetingConfirmed Overall = "meeting_confirmed"
	Completed        Overall = "completed"
	Rejected         Overall = "rejected"
)

// Display strings
const (
	DisplayRejected         = "rejected"
	DisplayWaitingAccept    = "waiting for acceptance"
	DisplayTimeProposed     = "counterparty proposed a time"
	DisplayPay              = "action: pay"
	DisplayWaitingPayment   = "waiting for counterparty payment"
	DisplayProposeLocation  = "action: propose location"
	DisplayLocationProposed = "counterparty proposed a location"
	DisplayMeetingConfirmed = "meeting confirmed"
	DisplayCompleted        = "completed"
)

// Projection is what a caller sees for one negotiation
type Projection struct {
	Display        string  `json:"display_status"`
	ActionRequired bool    `json:"action_required"`
	Status         Overall `json:"status"`
}

// Project applies the status rules in priority order; the first match wins.
// A rejected location negotiation counts as absent since either party may
// propose again. A completed listing is reported before the meeting rule.
// Callers who are not a party never have an action.
func Project(v *models.NegotiationView, callerID string) Projection {
	p := project(v, callerID)
	if !v.IsParty(callerID) {
		p.ActionRequired = false
	}
	return p
}

func project(v *models.NegotiationView, callerID string) Projection {
	n := v.Time
	if n == nil {
		return Projection{Display: DisplayRejected, Status: Rejected}
	}
	if n.RejectedAt != nil {
		return Projection{Display: DisplayRejected, Status: Rejected}
	}
	if n.AcceptedAt == nil {
		if callerID == n.ProposedBy {
			return Projection{Display: DisplayWaitingAccept, Status: Negotiating}
		}
		return Projection{Display: DisplayTimeProposed, ActionRequired: true, Status: Negotiating}
	}

	if !v.Payment.BothPaid() {
		st := Agreed
		if v.Payment != nil && (v.Payment.BuyerPaidAt != nil || v.Payment.SellerPaidAt != nil) {
			st = PaidPartial
		}
		if v.Payment.PaidBy(callerID, v.SellerID()) {
			return Projection{Display: DisplayWaitingPayment, Status: st}
		}
		return Projection{Display: DisplayPay, ActionRequired: true, Status: st}
	}

	loc := v.Location
	if loc != nil && loc.RejectedAt != nil {
		loc = nil
	}
	if loc == nil {
		return Projection{Display: DisplayProposeLocation, ActionRequired: true, Status: PaidComplete}
	}
	if loc.AcceptedAt == nil {
		if callerID == loc.ProposedBy {
			return Projection{Display: DisplayWaitingAccept, Status: PaidComplete}
		}
		return Projection{Display: DisplayLocationProposed, ActionRequired: true, Status: PaidComplete}
	}

	if v.Listing != nil && v.Listing.Status == models.ListingCompleted {
		return Projection{Display: DisplayCompleted, Status: Completed}
	}
	return Projection{Display: DisplayMeetingConfirmed, Status: MeetingConfirmed}
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fee is the fixed platform charge each party pays to unlock contact and location sharing
var Fee = decimal.RequireFromString("2.00")

// FeeCurrency is the currency the fee is charged in
const FeeCurrency = "USD"

// Listing statuses
const (
	ListingActive      = "active"
	ListingInactive    = "inactive"
	ListingUnderReview = "under_review"
	ListingCompleted   = "completed"
)

// Contact access statuses
const (
	AccessActive  = "active"
	AccessRevoked = "revoked"
)

// Credit statuses
const (
	CreditAvailable = "available"
	CreditApplied   = "applied"
	CreditExpired   = "expired"
)

// Payment methods
const (
	MethodCredit = "credit"
	MethodPayPal = "paypal"
)

// User represents a registered user
type User struct {
	ID             string
	Username       string
	PasswordHash   string
	DisplayName    string
	Email          string
	Phone          string
	Language       string // preferred language for notifications, e.g. "en"
	Rating         decimal.Decimal
	RatingCount    int
	TotalExchanges int
	IsAdmin        bool
	CreatedAt      time.Time
}

// Name returns the display name, falling back to the username
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Listing is an offer to exchange currency, owned by the seller
type Listing struct {
	ID              string
	SellerID        string
	CurrencyHave    string
	Amount          decimal.Decimal
	CurrencyAccept  string
	Status          string
	AvailableUntil  time.Time
	MeetingRadiusKM float64
	Latitude        *float64
	Longitude       *float64
	CreatedAt       time.Time
}

// OpenAt reports whether the listing accepts new negotiations at now
func (l *Listing) OpenAt(now time.Time) bool {
	return l.Status == ListingActive && l.AvailableUntil.After(now)
}

// TimeNegotiation is the meeting-time sub-negotiation for a listing
type TimeNegotiation struct {
	ID                string
	ListingID         string
	BuyerID           string
	ProposedBy        string
	MeetingTime       time.Time
	AcceptedAt        *time.Time
	RejectedAt        *time.Time
	BuyerConfirmedAt  *time.Time // exchange confirmed by the buyer
	SellerConfirmedAt *time.Time // exchange confirmed by the seller
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Open reports whether the negotiation is neither accepted nor rejected
func (n *TimeNegotiation) Open() bool {
	return n.AcceptedAt == nil && n.RejectedAt == nil
}

// LocationNegotiation is the meeting-place sub-negotiation for a listing
type LocationNegotiation struct {
	ID         string
	ListingID  string
	BuyerID    string
	ProposedBy string
	Lat        float64
	Lng        float64
	Name       string
	AcceptedAt *time.Time
	RejectedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Open reports whether the negotiation is neither accepted nor rejected
func (n *LocationNegotiation) Open() bool {
	return n.AcceptedAt == nil && n.RejectedAt == nil
}

// Payment tracks the fee paid by each party for a listing
type Payment struct {
	ID           string
	ListingID    string
	BuyerID      string
	BuyerPaidAt  *time.Time
	BuyerTxID    *string
	SellerPaidAt *time.Time
	SellerTxID   *string
	Method       string
	Amount       decimal.Decimal
	Currency     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BothPaid reports whether buyer and seller have both paid
func (p *Payment) BothPaid() bool {
	return p != nil && p.BuyerPaidAt != nil && p.SellerPaidAt != nil
}

// PaidBy reports whether the given party has paid
func (p *Payment) PaidBy(userID, sellerID string) bool {
	if p == nil {
		return false
	}
	switch userID {
	case p.BuyerID:
		return p.BuyerPaidAt != nil
	case sellerID:
		return p.SellerPaidAt != nil
	}
	return false
}

// ContactAccess grants a party access to the counterparty's contact fields
type ContactAccess struct {
	ID          string
	UserID      string
	ListingID   string
	PurchasedAt time.Time
	Status      string
	AmountPaid  decimal.Decimal
	Currency    string
}

// RateLock is the conversion rate captured when a time is first proposed
type RateLock struct {
	TimeNegID    string
	ListingID    string
	FromCurrency string
	ToCurrency   string
	Rate         decimal.Decimal
	Amount       decimal.Decimal // listing amount in FromCurrency
	LockedAmount decimal.Decimal // amount owed in ToCurrency
	CapturedAt   time.Time
}

// UserCredit offsets a future fee
type UserCredit struct {
	ID        string
	UserID    string
	Amount    decimal.Decimal
	Status    string
	AppliedTo *string // payment id
	AppliedAt *time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// UsableAt reports whether the credit can be applied at now
func (c *UserCredit) UsableAt(now time.Time) bool {
	if c.Status != CreditAvailable {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

// Message is a conversation message between the parties of a listing
type Message struct {
	ID        string
	ListingID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// Rating is a score left by one party for the other after completion
type Rating struct {
	ID        string
	ListingID string
	RaterID   string
	RateeID   string
	Score     int
	Comment   string
	CreatedAt time.Time
}

// NegotiationView bundles everything known about one listing's negotiation
type NegotiationView struct {
	Listing  *Listing
	Time     *TimeNegotiation
	Location *LocationNegotiation // nil until proposed
	Payment  *Payment             // nil until the first party pays
	RateLock *RateLock
}

// SellerID returns the listing owner's id
func (v *NegotiationView) SellerID() string {
	if v.Listing == nil {
		return ""
	}
	return v.Listing.SellerID
}

// IsParty reports whether userID is the buyer or the seller
func (v *NegotiationView) IsParty(userID string) bool {
	if userID == "" {
		return false
	}
	if v.Time != nil && v.Time.BuyerID == userID {
		return true
	}
	return v.SellerID() == userID
}

// Counterparty returns the other party's id
func (v *NegotiationView) Counterparty(userID string) string {
	if v.Time == nil {
		return ""
	}
	if userID == v.Time.BuyerID {
		return v.SellerID()
	}
	return v.Time.BuyerID
}

// LastActivity is the latest update across the view's rows
func (v *NegotiationView) LastActivity() time.Time {
	var t time.Time
	if v.Time != nil {
		t = v.Time.UpdatedAt
	}
	if v.Location != nil && v.Location.UpdatedAt.After(t) {
		t = v.Location.UpdatedAt
	}
	if v.Payment != nil && v.Payment.UpdatedAt.After(t) {
		t = v.Payment.UpdatedAt
	}
	return t
}

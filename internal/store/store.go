// Package store defines the persistence contract of the negotiation core.
//
// Every command runs inside InTx. Implementations must make the whole
// callback atomic and must serialize callbacks that lock the same listing;
// Tx.LockListing is always the first call a command makes, so lock
// ordering is listing first, negotiation rows second.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/meetswap/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness constraint
	ErrConflict = errors.New("conflict")
)

// Store is the transactional repository used by the engine and the read side
type Store interface {
	Reader
	// InTx runs fn in a single transaction; any error rolls everything back
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader is the non-transactional read side
type Reader interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	// LoadView returns ErrNotFound when the listing has no time negotiation
	LoadView(ctx context.Context, listingID string) (*models.NegotiationView, error)
	ListViewsForUser(ctx context.Context, userID string) ([]*models.NegotiationView, error)
	HasContactAccess(ctx context.Context, userID, listingID string) (bool, error)
	// ResolveListingID maps a time negotiation, location negotiation or listing id to its listing id
	ResolveListingID(ctx context.Context, id string) (string, error)
	GetLocationNegotiationByID(ctx context.Context, id string) (*models.LocationNegotiation, error)
	LastMessage(ctx context.Context, listingID string) (*models.Message, error)
}

// Tx is the set of row operations available inside a transaction
type Tx interface {
	// LockListing loads the listing and holds its row lock until the transaction ends
	LockListing(ctx context.Context, id string) (*models.Listing, error)
	SetListingStatus(ctx context.Context, id, status string) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	IncrementTotalExchanges(ctx context.Context, userIDs ...string) error

	GetTimeNegotiation(ctx context.Context, listingID string) (*models.TimeNegotiation, error)
	InsertTimeNegotiation(ctx context.Context, n *models.TimeNegotiation) error
	UpdateTimeNegotiation(ctx context.Context, n *models.TimeNegotiation) error
	// DeleteTimeNegotiation also removes the negotiation's rate lock
	DeleteTimeNegotiation(ctx context.Context, id string) error
	RejectOtherTimeNegotiations(ctx context.Context, listingID, keepID string, at time.Time) (int, error)

	InsertRateLock(ctx context.Context, l *models.RateLock) error
	GetRateLock(ctx context.Context, timeNegID string) (*models.RateLock, error)

	GetLocationNegotiation(ctx context.Context, listingID string) (*models.LocationNegotiation, error)
	InsertLocationNegotiation(ctx context.Context, n *models.LocationNegotiation) error
	UpdateLocationNegotiation(ctx context.Context, n *models.LocationNegotiation) error
	DeleteLocationNegotiation(ctx context.Context, id string) error

	GetPayment(ctx context.Context, listingID string) (*models.Payment, error)
	InsertPayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error
	TxIDBooked(ctx context.Context, txID string) (bool, error)

	InsertContactAccess(ctx context.Context, a *models.ContactAccess) error
	RevokeContactAccess(ctx context.Context, listingID string) (int, error)

	// OldestAvailableCredit returns ErrNotFound when the user has no usable credit at now
	OldestAvailableCredit(ctx context.Context, userID string, now time.Time) (*models.UserCredit, error)
	ApplyCredit(ctx context.Context, creditID, paymentID string, at time.Time) error

	InsertRating(ctx context.Context, r *models.Rating) error
	AddUserRating(ctx context.Context, userID string, score int) error
}

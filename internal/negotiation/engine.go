// Package negotiation implements the state machine that takes a buyer and a
// seller from a first meeting-time proposal, through fee payment and
// meeting-place agreement, to a completed exchange.
//
// Every command is a single Store transaction that locks the listing row
// before touching any negotiation row. Preconditions are checked inside that
// transaction; a violated precondition aborts it with a typed *Error.
// Events are collected during the transaction and published only after it
// commits, always to the party that did not act.
package negotiation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/xtrntr/meetswap/internal/clock"
	"github.com/xtrntr/meetswap/internal/exchange"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/payment"
	"github.com/xtrntr/meetswap/internal/store"
)

// Engine validates and applies negotiation commands
type Engine struct {
	store   store.Store
	clock   clock.Clock
	rates   *exchange.Locker
	gateway payment.Gateway
	events  notify.Publisher
	logger  *slog.Logger
	newID   func() string
}

// NewEngine creates an engine; events and logger may be nil
func NewEngine(st store.Store, c clock.Clock, rates *exchange.Locker, gw payment.Gateway, events notify.Publisher, logger *slog.Logger) *Engine {
	if st == nil {
		panic("store required")
	}
	if rates == nil {
		panic("rate locker required")
	}
	if gw == nil {
		panic("payment gateway required")
	}
	if c == nil {
		c = clock.System{}
	}
	if events == nil {
		events = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   st,
		clock:   c,
		rates:   rates,
		gateway: gw,
		events:  events,
		logger:  logger,
		newID:   func() string { return ulid.Make().String() },
	}
}

// command carries the state of one transaction
type command struct {
	tx     store.Tx
	op     string
	caller string
	now    time.Time
	events []notify.Event
}

func (c *command) emit(evt notify.Event) {
	evt.OccurredAt = c.now
	if evt.ActorID == "" {
		evt.ActorID = c.caller
	}
	c.events = append(c.events, evt)
}

func (e *Engine) run(ctx context.Context, op, caller, listingID string, fn func(ctx context.Context, c *command) error) error {
	var events []notify.Event
	// a client that hangs up mid-command must not abort a charge already sent to the gateway
	ctx = context.WithoutCancel(ctx)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		c := &command{tx: tx, op: op, caller: caller, now: e.clock.Now().UTC()}
		if err := fn(ctx, c); err != nil {
			return err
		}
		events = c.events
		return nil
	})
	if err != nil {
		return e.classify(op, caller, listingID, err)
	}
	e.logger.Debug("command committed", "op", op, "caller_id", caller, "listing_id", listingID, "events", len(events))
	for _, evt := range events {
		e.events.Publish(evt)
	}
	return nil
}

func (e *Engine) classify(op, caller, listingID string, err error) error {
	var typed *Error
	switch {
	case errors.As(err, &typed):
		return typed
	case errors.Is(err, store.ErrNotFound):
		return wrapError(NotFound, op, "not found", err)
	case errors.Is(err, store.ErrConflict):
		return wrapError(Conflict, op, "conflicting negotiation for this listing", err)
	}
	e.logger.Error("command failed", "op", op, "caller_id", caller, "listing_id", listingID, "error", err)
	return wrapError(Internal, op, "", err)
}

func (c *command) lockListing(ctx context.Context, listingID string) (*models.Listing, error) {
	l, err := c.tx.LockListing(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(NotFound, c.op, "listing not found")
	}
	return l, err
}

func (c *command) loadTime(ctx context.Context, listingID string) (*models.TimeNegotiation, error) {
	n, err := c.tx.GetTimeNegotiation(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(NotFound, c.op, "no negotiation for this listing")
	}
	return n, err
}

func (c *command) loadLocation(ctx context.Context, listingID string) (*models.LocationNegotiation, error) {
	n, err := c.tx.GetLocationNegotiation(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(NotFound, c.op, "no meeting location has been proposed")
	}
	return n, err
}

// loadPayment returns nil when no party has paid yet
func (c *command) loadPayment(ctx context.Context, listingID string) (*models.Payment, error) {
	p, err := c.tx.GetPayment(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (c *command) actorName(ctx context.Context) string {
	u, err := c.tx.GetUser(ctx, c.caller)
	if err != nil {
		return ""
	}
	return u.Name()
}

// Role of a caller within one negotiation
type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func roleOf(caller string, l *models.Listing, n *models.TimeNegotiation) Role {
	switch {
	case caller == "":
		return RoleNone
	case caller == n.BuyerID:
		return RoleBuyer
	case caller == l.SellerID:
		return RoleSeller
	}
	return RoleNone
}

func counterparty(caller string, l *models.Listing, n *models.TimeNegotiation) string {
	if caller == n.BuyerID {
		return l.SellerID
	}
	return n.BuyerID
}

// requireTurn enforces that a party acts only on the other party's proposal
func (c *command) requireTurn(role Role, proposedBy string) error {
	if role == RoleNone {
		return newError(NotAllowed, c.op, "you are not a party to this negotiation")
	}
	if c.caller == proposedBy {
		return newError(NotAllowed, c.op, "waiting for the other party to respond")
	}
	return nil
}

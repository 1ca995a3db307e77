package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/store"
)

// dbTx implements store.Tx on a pgx transaction. Reads of rows a command
// mutates take FOR UPDATE so concurrent commands on one listing serialize
// behind LockListing.
type dbTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*dbTx)(nil)

// mustAffect turns a zero-row update into store.ErrNotFound
func mustAffect(op string, rows int64, err error) error {
	if err != nil {
		return wrap("failed to "+op, err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to %s: %w", op, store.ErrNotFound)
	}
	return nil
}

func (t *dbTx) LockListing(ctx context.Context, id string) (*models.Listing, error) {
	l, err := scanListing(t.tx.QueryRow(ctx, "SELECT "+listingCols+" FROM listings WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, wrap("failed to lock listing", err)
	}
	return l, nil
}

func (t *dbTx) SetListingStatus(ctx context.Context, id, status string) error {
	tag, err := t.tx.Exec(ctx, "UPDATE listings SET status = $1 WHERE id = $2", status, id)
	return mustAffect("set listing status", tag.RowsAffected(), err)
}

func (t *dbTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, t.tx, id)
}

func (t *dbTx) IncrementTotalExchanges(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		tag, err := t.tx.Exec(ctx, "UPDATE users SET total_exchanges = total_exchanges + 1 WHERE id = $1", id)
		if err := mustAffect("increment total exchanges", tag.RowsAffected(), err); err != nil {
			return err
		}
	}
	return nil
}

func (t *dbTx) GetTimeNegotiation(ctx context.Context, listingID string) (*models.TimeNegotiation, error) {
	n, err := scanTimeNeg(t.tx.QueryRow(ctx,
		"SELECT "+timeCols+" FROM time_negotiations WHERE listing_id = $1 FOR UPDATE", listingID))
	if err != nil {
		return nil, wrap("failed to get time negotiation", err)
	}
	return n, nil
}

func (t *dbTx) InsertTimeNegotiation(ctx context.Context, n *models.TimeNegotiation) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO time_negotiations ("+timeCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		n.ID, n.ListingID, n.BuyerID, n.ProposedBy, n.MeetingTime, n.AcceptedAt, n.RejectedAt,
		n.BuyerConfirmedAt, n.SellerConfirmedAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return wrap("failed to insert time negotiation", err)
	}
	return nil
}

func (t *dbTx) UpdateTimeNegotiation(ctx context.Context, n *models.TimeNegotiation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_negotiations
		SET proposed_by = $2, meeting_time = $3, accepted_at = $4, rejected_at = $5,
		    buyer_confirmed_at = $6, seller_confirmed_at = $7, updated_at = $8
		WHERE id = $1
	`, n.ID, n.ProposedBy, n.MeetingTime, n.AcceptedAt, n.RejectedAt,
		n.BuyerConfirmedAt, n.SellerConfirmedAt, n.UpdatedAt)
	return mustAffect("update time negotiation", tag.RowsAffected(), err)
}

func (t *dbTx) DeleteTimeNegotiation(ctx context.Context, id string) error {
	// rate_locks cascades
	tag, err := t.tx.Exec(ctx, "DELETE FROM time_negotiations WHERE id = $1", id)
	return mustAffect("delete time negotiation", tag.RowsAffected(), err)
}

func (t *dbTx) RejectOtherTimeNegotiations(ctx context.Context, listingID, keepID string, at time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_negotiations
		SET rejected_at = $3, updated_at = $3
		WHERE listing_id = $1 AND id <> $2 AND accepted_at IS NULL AND rejected_at IS NULL
	`, listingID, keepID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to reject time negotiations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *dbTx) InsertRateLock(ctx context.Context, l *models.RateLock) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO rate_locks ("+rateLockCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		l.TimeNegID, l.ListingID, l.FromCurrency, l.ToCurrency, l.Rate, l.Amount, l.LockedAmount, l.CapturedAt)
	if err != nil {
		return wrap("failed to insert rate lock", err)
	}
	return nil
}

func (t *dbTx) GetRateLock(ctx context.Context, timeNegID string) (*models.RateLock, error) {
	l, err := scanRateLock(t.tx.QueryRow(ctx,
		"SELECT "+rateLockCols+" FROM rate_locks WHERE time_neg_id = $1", timeNegID))
	if err != nil {
		return nil, wrap("failed to get rate lock", err)
	}
	return l, nil
}

func (t *dbTx) GetLocationNegotiation(ctx context.Context, listingID string) (*models.LocationNegotiation, error) {
	n, err := scanLocNeg(t.tx.QueryRow(ctx,
		"SELECT "+locCols+" FROM location_negotiations WHERE listing_id = $1 FOR UPDATE", listingID))
	if err != nil {
		return nil, wrap("failed to get location negotiation", err)
	}
	return n, nil
}

func (t *dbTx) InsertLocationNegotiation(ctx context.Context, n *models.LocationNegotiation) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO location_negotiations ("+locCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		n.ID, n.ListingID, n.BuyerID, n.ProposedBy, n.Lat, n.Lng, n.Name, n.AcceptedAt, n.RejectedAt,
		n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return wrap("failed to insert location negotiation", err)
	}
	return nil
}

func (t *dbTx) UpdateLocationNegotiation(ctx context.Context, n *models.LocationNegotiation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE location_negotiations
		SET proposed_by = $2, lat = $3, lng = $4, name = $5, accepted_at = $6, rejected_at = $7, updated_at = $8
		WHERE id = $1
	`, n.ID, n.ProposedBy, n.Lat, n.Lng, n.Name, n.AcceptedAt, n.RejectedAt, n.UpdatedAt)
	return mustAffect("update location negotiation", tag.RowsAffected(), err)
}

func (t *dbTx) DeleteLocationNegotiation(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM location_negotiations WHERE id = $1", id)
	return mustAffect("delete location negotiation", tag.RowsAffected(), err)
}

func (t *dbTx) GetPayment(ctx context.Context, listingID string) (*models.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx,
		"SELECT "+paymentCols+" FROM payments WHERE listing_id = $1 FOR UPDATE", listingID))
	if err != nil {
		return nil, wrap("failed to get payment", err)
	}
	return p, nil
}

func (t *dbTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO payments ("+paymentCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		p.ID, p.ListingID, p.BuyerID, p.BuyerPaidAt, p.BuyerTxID, p.SellerPaidAt, p.SellerTxID,
		p.Method, p.Amount, p.Currency, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return wrap("failed to insert payment", err)
	}
	return nil
}

func (t *dbTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET buyer_paid_at = $2, buyer_tx_id = $3, seller_paid_at = $4, seller_tx_id = $5,
		    method = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, p.BuyerPaidAt, p.BuyerTxID, p.SellerPaidAt, p.SellerTxID, p.Method, p.UpdatedAt)
	return mustAffect("update payment", tag.RowsAffected(), err)
}

func (t *dbTx) TxIDBooked(ctx context.Context, txID string) (bool, error) {
	var booked bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM payments WHERE buyer_tx_id = $1 OR seller_tx_id = $1)", txID).Scan(&booked)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction id: %w", err)
	}
	return booked, nil
}

func (t *dbTx) InsertContactAccess(ctx context.Context, a *models.ContactAccess) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO contact_access (id, user_id, listing_id, purchased_at, status, amount_paid, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.UserID, a.ListingID, a.PurchasedAt, a.Status, a.AmountPaid, a.Currency)
	if err != nil {
		return wrap("failed to insert contact access", err)
	}
	return nil
}

func (t *dbTx) RevokeContactAccess(ctx context.Context, listingID string) (int, error) {
	tag, err := t.tx.Exec(ctx,
		"UPDATE contact_access SET status = $2 WHERE listing_id = $1 AND status = $3",
		listingID, models.AccessRevoked, models.AccessActive)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke contact access: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *dbTx) OldestAvailableCredit(ctx context.Context, userID string, now time.Time) (*models.UserCredit, error) {
	c, err := scanCredit(t.tx.QueryRow(ctx, `
		SELECT `+creditCols+`
		FROM user_credits
		WHERE user_id = $1 AND status = $2 AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE
	`, userID, models.CreditAvailable, now))
	if err != nil {
		return nil, wrap("failed to get credit", err)
	}
	return c, nil
}

func (t *dbTx) ApplyCredit(ctx context.Context, creditID, paymentID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE user_credits
		SET status = $2, applied_to = $3, applied_at = $4
		WHERE id = $1 AND status = $5
	`, creditID, models.CreditApplied, paymentID, at, models.CreditAvailable)
	return mustAffect("apply credit", tag.RowsAffected(), err)
}

func (t *dbTx) InsertRating(ctx context.Context, r *models.Rating) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ratings (id, listing_id, rater_id, ratee_id, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.ListingID, r.RaterID, r.RateeID, r.Score, r.Comment, r.CreatedAt)
	if err != nil {
		return wrap("failed to insert rating", err)
	}
	return nil
}

func (t *dbTx) AddUserRating(ctx context.Context, userID string, score int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users
		SET rating = ROUND((rating * rating_count + $2) / (rating_count + 1), 2),
		    rating_count = rating_count + 1
		WHERE id = $1
	`, userID, score)
	return mustAffect("add user rating", tag.RowsAffected(), err)
}

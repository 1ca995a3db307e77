package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xtrntr/meetswap/internal/models"
	"github.com/xtrntr/meetswap/internal/store"
)

// DB wraps a PostgreSQL connection pool and implements store.Store
type DB struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate applies a schema script
func (db *DB) Migrate(ctx context.Context, script string) error {
	if _, err := db.Pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

// InTx runs fn in a single transaction; any error rolls everything back
func (db *DB) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&dbTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// wrap maps driver errors to store sentinels
func wrap(msg string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", msg, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO users ("+userCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		u.ID, u.Username, u.PasswordHash, u.DisplayName, u.Email, u.Phone, u.Language,
		u.Rating, u.RatingCount, u.TotalExchanges, u.IsAdmin, u.CreatedAt)
	if err != nil {
		return wrap("failed to create user", err)
	}
	return nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(db.Pool.QueryRow(ctx, "SELECT "+userCols+" FROM users WHERE username = $1", username))
	if err != nil {
		return nil, wrap("failed to get user", err)
	}
	return u, nil
}

// CreateListing inserts a new listing
func (db *DB) CreateListing(ctx context.Context, l *models.Listing) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO listings ("+listingCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		l.ID, l.SellerID, l.CurrencyHave, l.Amount, l.CurrencyAccept, l.Status, l.AvailableUntil,
		l.MeetingRadiusKM, l.Latitude, l.Longitude, l.CreatedAt)
	if err != nil {
		return wrap("failed to create listing", err)
	}
	return nil
}

// CreateCredit inserts a user credit
func (db *DB) CreateCredit(ctx context.Context, c *models.UserCredit) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO user_credits ("+creditCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		c.ID, c.UserID, c.Amount, c.Status, c.AppliedTo, c.AppliedAt, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return wrap("failed to create credit", err)
	}
	return nil
}

// CreateMessage inserts a conversation message
func (db *DB) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO messages (id, listing_id, sender_id, body, created_at) VALUES ($1, $2, $3, $4, $5)",
		m.ID, m.ListingID, m.SenderID, m.Body, m.CreatedAt)
	if err != nil {
		return wrap("failed to create message", err)
	}
	return nil
}

// GetListing retrieves a listing by id
func (db *DB) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	l, err := scanListing(db.Pool.QueryRow(ctx, "SELECT "+listingCols+" FROM listings WHERE id = $1", id))
	if err != nil {
		return nil, wrap("failed to get listing", err)
	}
	return l, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, db.Pool, id)
}

// LoadView assembles the negotiation rows of one listing
func (db *DB) LoadView(ctx context.Context, listingID string) (*models.NegotiationView, error) {
	listing, err := db.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	v := &models.NegotiationView{Listing: listing}

	v.Time, err = scanTimeNeg(db.Pool.QueryRow(ctx,
		"SELECT "+timeCols+" FROM time_negotiations WHERE listing_id = $1", listingID))
	if err != nil {
		return nil, wrap("failed to get time negotiation", err)
	}

	v.Location, err = scanLocNeg(db.Pool.QueryRow(ctx,
		"SELECT "+locCols+" FROM location_negotiations WHERE listing_id = $1", listingID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrap("failed to get location negotiation", err)
	}

	v.Payment, err = scanPayment(db.Pool.QueryRow(ctx,
		"SELECT "+paymentCols+" FROM payments WHERE listing_id = $1", listingID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrap("failed to get payment", err)
	}

	v.RateLock, err = scanRateLock(db.Pool.QueryRow(ctx,
		"SELECT "+rateLockCols+" FROM rate_locks WHERE time_neg_id = $1", v.Time.ID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrap("failed to get rate lock", err)
	}
	return v, nil
}

// ListViewsForUser returns every negotiation where the user is buyer or seller
func (db *DB) ListViewsForUser(ctx context.Context, userID string) ([]*models.NegotiationView, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT t.listing_id
		FROM time_negotiations t
		JOIN listings l ON l.id = t.listing_id
		WHERE t.buyer_id = $1 OR l.seller_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list negotiations: %w", err)
	}
	listingIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan negotiation: %w", err)
	}

	views := make([]*models.NegotiationView, 0, len(listingIDs))
	for _, id := range listingIDs {
		v, err := db.LoadView(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// removed between the two queries
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// HasContactAccess reports whether the user holds active access on a listing
func (db *DB) HasContactAccess(ctx context.Context, userID, listingID string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM contact_access WHERE user_id = $1 AND listing_id = $2 AND status = $3)",
		userID, listingID, models.AccessActive).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check contact access: %w", err)
	}
	return exists, nil
}

// ResolveListingID maps a time negotiation, location negotiation or listing id to its listing id
func (db *DB) ResolveListingID(ctx context.Context, id string) (string, error) {
	var listingID string
	err := db.Pool.QueryRow(ctx, `
		SELECT listing_id FROM time_negotiations WHERE id = $1
		UNION ALL
		SELECT listing_id FROM location_negotiations WHERE id = $1
		UNION ALL
		SELECT id FROM listings WHERE id = $1
		LIMIT 1
	`, id).Scan(&listingID)
	if err != nil {
		return "", wrap("failed to resolve negotiation", err)
	}
	return listingID, nil
}

// GetLocationNegotiationByID retrieves a location negotiation by its own id
func (db *DB) GetLocationNegotiationByID(ctx context.Context, id string) (*models.LocationNegotiation, error) {
	n, err := scanLocNeg(db.Pool.QueryRow(ctx, "SELECT "+locCols+" FROM location_negotiations WHERE id = $1", id))
	if err != nil {
		return nil, wrap("failed to get location negotiation", err)
	}
	return n, nil
}

// LastMessage returns the newest conversation message on a listing
func (db *DB) LastMessage(ctx context.Context, listingID string) (*models.Message, error) {
	m := &models.Message{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, listing_id, sender_id, body, created_at
		FROM messages
		WHERE listing_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, listingID).Scan(&m.ID, &m.ListingID, &m.SenderID, &m.Body, &m.CreatedAt)
	if err != nil {
		return nil, wrap("failed to get last message", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func getUser(ctx context.Context, q querier, id string) (*models.User, error) {
	u, err := scanUser(q.QueryRow(ctx, "SELECT "+userCols+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, wrap("failed to get user", err)
	}
	return u, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

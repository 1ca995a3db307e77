package db

import (
	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/meetswap/internal/models"
)

const (
	userCols = "id, username, password_hash, display_name, email, phone, language, " +
		"rating, rating_count, total_exchanges, is_admin, created_at"
	listingCols = "id, seller_id, currency_have, amount, currency_accept, status, available_until, " +
		"meeting_radius_km, latitude, longitude, created_at"
	timeCols = "id, listing_id, buyer_id, proposed_by, meeting_time, accepted_at, rejected_at, " +
		"buyer_confirmed_at, seller_confirmed_at, created_at, updated_at"
	locCols = "id, listing_id, buyer_id, proposed_by, lat, lng, name, accepted_at, rejected_at, " +
		"created_at, updated_at"
	paymentCols = "id, listing_id, buyer_id, buyer_paid_at, buyer_tx_id, seller_paid_at, seller_tx_id, " +
		"method, amount, currency, created_at, updated_at"
	rateLockCols = "time_neg_id, listing_id, from_currency, to_currency, rate, amount, locked_amount, captured_at"
	creditCols   = "id, user_id, amount, status, applied_to, applied_at, expires_at, created_at"
)

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Email, &u.Phone, &u.Language,
		&u.Rating, &u.RatingCount, &u.TotalExchanges, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	l := &models.Listing{}
	err := row.Scan(&l.ID, &l.SellerID, &l.CurrencyHave, &l.Amount, &l.CurrencyAccept, &l.Status,
		&l.AvailableUntil, &l.MeetingRadiusKM, &l.Latitude, &l.Longitude, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.AvailableUntil = l.AvailableUntil.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}

func scanTimeNeg(row pgx.Row) (*models.TimeNegotiation, error) {
	n := &models.TimeNegotiation{}
	err := row.Scan(&n.ID, &n.ListingID, &n.BuyerID, &n.ProposedBy, &n.MeetingTime, &n.AcceptedAt,
		&n.RejectedAt, &n.BuyerConfirmedAt, &n.SellerConfirmedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.MeetingTime = n.MeetingTime.UTC()
	n.AcceptedAt = utc(n.AcceptedAt)
	n.RejectedAt = utc(n.RejectedAt)
	n.BuyerConfirmedAt = utc(n.BuyerConfirmedAt)
	n.SellerConfirmedAt = utc(n.SellerConfirmedAt)
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}

func scanLocNeg(row pgx.Row) (*models.LocationNegotiation, error) {
	n := &models.LocationNegotiation{}
	err := row.Scan(&n.ID, &n.ListingID, &n.BuyerID, &n.ProposedBy, &n.Lat, &n.Lng, &n.Name,
		&n.AcceptedAt, &n.RejectedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.AcceptedAt = utc(n.AcceptedAt)
	n.RejectedAt = utc(n.RejectedAt)
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(&p.ID, &p.ListingID, &p.BuyerID, &p.BuyerPaidAt, &p.BuyerTxID, &p.SellerPaidAt,
		&p.SellerTxID, &p.Method, &p.Amount, &p.Currency, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.BuyerPaidAt = utc(p.BuyerPaidAt)
	p.SellerPaidAt = utc(p.SellerPaidAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanRateLock(row pgx.Row) (*models.RateLock, error) {
	l := &models.RateLock{}
	err := row.Scan(&l.TimeNegID, &l.ListingID, &l.FromCurrency, &l.ToCurrency, &l.Rate, &l.Amount,
		&l.LockedAmount, &l.CapturedAt)
	if err != nil {
		return nil, err
	}
	l.CapturedAt = l.CapturedAt.UTC()
	return l, nil
}

func scanCredit(row pgx.Row) (*models.UserCredit, error) {
	c := &models.UserCredit{}
	err := row.Scan(&c.ID, &c.UserID, &c.Amount, &c.Status, &c.AppliedTo, &c.AppliedAt, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.AppliedAt = utc(c.AppliedAt)
	c.ExpiresAt = utc(c.ExpiresAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/meetswap/internal/models"
)

// MemStore is an in-memory Store. A transaction works on a copy of the
// whole state and swaps it in on success, so every InTx call is
// serializable and a failed callback leaves no trace. The write lock is held
// for the whole callback, reads included, so slow work inside InTx (a remote
// gateway call) stalls every reader; cmd/server pairs it with the sandbox
// gateway.
type MemStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users     map[string]models.User
	usernames map[string]string
	listings  map[string]models.Listing
	timeNegs  map[string]models.TimeNegotiation     // by listing id
	locNegs   map[string]models.LocationNegotiation // by listing id
	payments  map[string]models.Payment             // by listing id
	rateLocks map[string]models.RateLock            // by time negotiation id
	access    map[string]models.ContactAccess
	credits   map[string]models.UserCredit
	ratings   map[string]models.Rating // by listing id + rater id
	messages  []models.Message
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{state: &memState{
		users:     make(map[string]models.User),
		usernames: make(map[string]string),
		listings:  make(map[string]models.Listing),
		timeNegs:  make(map[string]models.TimeNegotiation),
		locNegs:   make(map[string]models.LocationNegotiation),
		payments:  make(map[string]models.Payment),
		rateLocks: make(map[string]models.RateLock),
		access:    make(map[string]models.ContactAccess),
		credits:   make(map[string]models.UserCredit),
		ratings:   make(map[string]models.Rating),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		users:     make(map[string]models.User, len(s.users)),
		usernames: make(map[string]string, len(s.usernames)),
		listings:  make(map[string]models.Listing, len(s.listings)),
		timeNegs:  make(map[string]models.TimeNegotiation, len(s.timeNegs)),
		locNegs:   make(map[string]models.LocationNegotiation, len(s.locNegs)),
		payments:  make(map[string]models.Payment, len(s.payments)),
		rateLocks: make(map[string]models.RateLock, len(s.rateLocks)),
		access:    make(map[string]models.ContactAccess, len(s.access)),
		credits:   make(map[string]models.UserCredit, len(s.credits)),
		ratings:   make(map[string]models.Rating, len(s.ratings)),
		messages:  append([]models.Message(nil), s.messages...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.usernames {
		c.usernames[k] = v
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.timeNegs {
		c.timeNegs[k] = v
	}
	for k, v := range s.locNegs {
		c.locNegs[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.rateLocks {
		c.rateLocks[k] = v
	}
	for k, v := range s.access {
		c.access[k] = v
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	for k, v := range s.ratings {
		c.ratings[k] = v
	}
	return c
}

// InTx runs fn against a private copy of the state and commits it when fn succeeds
func (m *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Seeding helpers, used by tests and the in-memory dev server.

// PutUser inserts or replaces a user
func (m *MemStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[u.ID] = u
	m.state.usernames[u.Username] = u.ID
}

// PutListing inserts or replaces a listing
func (m *MemStore) PutListing(l models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.listings[l.ID] = l
}

// PutCredit inserts or replaces a user credit
func (m *MemStore) PutCredit(c models.UserCredit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.credits[c.ID] = c
}

// PutMessage appends a conversation message
func (m *MemStore) PutMessage(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.messages = append(m.state.messages, msg)
}

// ContactAccessFor returns the access rows for a listing, ordered by user id
func (m *MemStore) ContactAccessFor(listingID string) []models.ContactAccess {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ContactAccess
	for _, a := range m.state.access {
		if a.ListingID == listingID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Credit returns a stored credit
func (m *MemStore) Credit(id string) (models.UserCredit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.state.credits[id]
	return c, ok
}

// CreateUser registers a new user; the username must be unique
func (m *MemStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.usernames[u.Username]; ok {
		return fmt.Errorf("failed to create user: %w", ErrConflict)
	}
	m.state.users[u.ID] = *u
	m.state.usernames[u.Username] = u.ID
	return nil
}

// GetUserByUsername retrieves a user by username
func (m *MemStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.state.usernames[username]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %w", ErrNotFound)
	}
	u := m.state.users[id]
	return &u, nil
}

func (m *MemStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.state.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *MemStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.user(id)
}

func (m *MemStore) LoadView(ctx context.Context, listingID string) (*models.NegotiationView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.view(listingID)
}

func (m *MemStore) ListViewsForUser(ctx context.Context, userID string) ([]*models.NegotiationView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var views []*models.NegotiationView
	for listingID, n := range m.state.timeNegs {
		l := m.state.listings[listingID]
		if n.BuyerID != userID && l.SellerID != userID {
			continue
		}
		v, err := m.state.view(listingID)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (m *MemStore) HasContactAccess(ctx context.Context, userID, listingID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.state.access {
		if a.UserID == userID && a.ListingID == listingID && a.Status == models.AccessActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) ResolveListingID(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for listingID, n := range m.state.timeNegs {
		if n.ID == id {
			return listingID, nil
		}
	}
	for listingID, n := range m.state.locNegs {
		if n.ID == id {
			return listingID, nil
		}
	}
	if _, ok := m.state.listings[id]; ok {
		return id, nil
	}
	return "", ErrNotFound
}

func (m *MemStore) GetLocationNegotiationByID(ctx context.Context, id string) (*models.LocationNegotiation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.state.locNegs {
		if n.ID == id {
			return &n, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) LastMessage(ctx context.Context, listingID string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *models.Message
	for i := range m.state.messages {
		msg := m.state.messages[i]
		if msg.ListingID != listingID {
			continue
		}
		if last == nil || !msg.CreatedAt.Before(last.CreatedAt) {
			last = &msg
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	return last, nil
}

func (s *memState) user(id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *memState) view(listingID string) (*models.NegotiationView, error) {
	l, ok := s.listings[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	n, ok := s.timeNegs[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	v := &models.NegotiationView{Listing: &l, Time: &n}
	if loc, ok := s.locNegs[listingID]; ok {
		v.Location = &loc
	}
	if p, ok := s.payments[listingID]; ok {
		v.Payment = &p
	}
	if rl, ok := s.rateLocks[n.ID]; ok {
		v.RateLock = &rl
	}
	return v, nil
}

type memTx struct {
	st *memState
}

func (t *memTx) LockListing(ctx context.Context, id string) (*models.Listing, error) {
	l, ok := t.st.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (t *memTx) SetListingStatus(ctx context.Context, id, status string) error {
	l, ok := t.st.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	t.st.listings[id] = l
	return nil
}

func (t *memTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	return t.st.user(id)
}

func (t *memTx) IncrementTotalExchanges(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		u, ok := t.st.users[id]
		if !ok {
			return ErrNotFound
		}
		u.TotalExchanges++
		t.st.users[id] = u
	}
	return nil
}

func (t *memTx) GetTimeNegotiation(ctx context.Context, listingID string) (*models.TimeNegotiation, error) {
	n, ok := t.st.timeNegs[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

func (t *memTx) InsertTimeNegotiation(ctx context.Context, n *models.TimeNegotiation) error {
	if _, ok := t.st.timeNegs[n.ListingID]; ok {
		return ErrConflict
	}
	t.st.timeNegs[n.ListingID] = *n
	return nil
}

func (t *memTx) UpdateTimeNegotiation(ctx context.Context, n *models.TimeNegotiation) error {
	cur, ok := t.st.timeNegs[n.ListingID]
	if !ok || cur.ID != n.ID {
		return ErrNotFound
	}
	t.st.timeNegs[n.ListingID] = *n
	return nil
}

func (t *memTx) DeleteTimeNegotiation(ctx context.Context, id string) error {
	for listingID, n := range t.st.timeNegs {
		if n.ID == id {
			delete(t.st.timeNegs, listingID)
			delete(t.st.rateLocks, id)
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) RejectOtherTimeNegotiations(ctx context.Context, listingID, keepID string, at time.Time) (int, error) {
	n, ok := t.st.timeNegs[listingID]
	if !ok || n.ID == keepID || !n.Open() {
		return 0, nil
	}
	n.RejectedAt = &at
	n.UpdatedAt = at
	t.st.timeNegs[listingID] = n
	return 1, nil
}

func (t *memTx) InsertRateLock(ctx context.Context, l *models.RateLock) error {
	if _, ok := t.st.rateLocks[l.TimeNegID]; ok {
		return ErrConflict
	}
	t.st.rateLocks[l.TimeNegID] = *l
	return nil
}

func (t *memTx) GetRateLock(ctx context.Context, timeNegID string) (*models.RateLock, error) {
	l, ok := t.st.rateLocks[timeNegID]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (t *memTx) GetLocationNegotiation(ctx context.Context, listingID string) (*models.LocationNegotiation, error) {
	n, ok := t.st.locNegs[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

func (t *memTx) InsertLocationNegotiation(ctx context.Context, n *models.LocationNegotiation) error {
	if _, ok := t.st.locNegs[n.ListingID]; ok {
		return ErrConflict
	}
	t.st.locNegs[n.ListingID] = *n
	return nil
}

func (t *memTx) UpdateLocationNegotiation(ctx context.Context, n *models.LocationNegotiation) error {
	cur, ok := t.st.locNegs[n.ListingID]
	if !ok || cur.ID != n.ID {
		return ErrNotFound
	}
	t.st.locNegs[n.ListingID] = *n
	return nil
}

func (t *memTx) DeleteLocationNegotiation(ctx context.Context, id string) error {
	for listingID, n := range t.st.locNegs {
		if n.ID == id {
			delete(t.st.locNegs, listingID)
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) GetPayment(ctx context.Context, listingID string) (*models.Payment, error) {
	p, ok := t.st.payments[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	if _, ok := t.st.payments[p.ListingID]; ok {
		return ErrConflict
	}
	t.st.payments[p.ListingID] = *p
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	cur, ok := t.st.payments[p.ListingID]
	if !ok || cur.ID != p.ID {
		return ErrNotFound
	}
	t.st.payments[p.ListingID] = *p
	return nil
}

func (t *memTx) TxIDBooked(ctx context.Context, txID string) (bool, error) {
	for _, p := range t.st.payments {
		if (p.BuyerTxID != nil && *p.BuyerTxID == txID) || (p.SellerTxID != nil && *p.SellerTxID == txID) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertContactAccess(ctx context.Context, a *models.ContactAccess) error {
	for _, cur := range t.st.access {
		if cur.UserID == a.UserID && cur.ListingID == a.ListingID {
			return ErrConflict
		}
	}
	t.st.access[a.ID] = *a
	return nil
}

func (t *memTx) RevokeContactAccess(ctx context.Context, listingID string) (int, error) {
	n := 0
	for id, a := range t.st.access {
		if a.ListingID == listingID && a.Status == models.AccessActive {
			a.Status = models.AccessRevoked
			t.st.access[id] = a
			n++
		}
	}
	return n, nil
}

func (t *memTx) OldestAvailableCredit(ctx context.Context, userID string, now time.Time) (*models.UserCredit, error) {
	var oldest *models.UserCredit
	for _, c := range t.st.credits {
		if c.UserID != userID || !c.UsableAt(now) {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			c := c
			oldest = &c
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	return oldest, nil
}

func (t *memTx) ApplyCredit(ctx context.Context, creditID, paymentID string, at time.Time) error {
	c, ok := t.st.credits[creditID]
	if !ok || c.Status != models.CreditAvailable {
		return ErrNotFound
	}
	c.Status = models.CreditApplied
	c.AppliedTo = &paymentID
	c.AppliedAt = &at
	t.st.credits[creditID] = c
	return nil
}

func (t *memTx) InsertRating(ctx context.Context, r *models.Rating) error {
	key := r.ListingID + "/" + r.RaterID
	if _, ok := t.st.ratings[key]; ok {
		return ErrConflict
	}
	t.st.ratings[key] = *r
	return nil
}

func (t *memTx) AddUserRating(ctx context.Context, userID string, score int) error {
	u, ok := t.st.users[userID]
	if !ok {
		return ErrNotFound
	}
	total := u.Rating.Mul(decimal.NewFromInt(int64(u.RatingCount))).Add(decimal.NewFromInt(int64(score)))
	u.RatingCount++
	u.Rating = total.Div(decimal.NewFromInt(int64(u.RatingCount))).Round(2)
	t.st.users[userID] = u
	return nil
}

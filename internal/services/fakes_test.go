package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/futura-app/coauth-service/internal/config"
	"github.com/futura-app/coauth-service/internal/models"
)

// stepClock is a settable clock shared by the service under test and
// the in-memory fakes, so expiry behaves deterministically.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:                "coauth-service-test",
		NonceHMACSecret:        []byte("0123456789abcdef0123456789abcdef"),
		CoAuthTTL:              config.DefaultCoAuthTTL,
		CoAuthGracePeriod:      config.DefaultCoAuthGracePeriod,
		CoAuthWarningThreshold: config.DefaultCoAuthWarningThreshold,
		NonceMinTTL:            config.DefaultNonceMinTTL,
		NonceMaxTTL:            config.DefaultNonceMaxTTL,
		NonceDefaultTTL:        config.DefaultNonceDefaultTTL,
		RateLimitWindow:        config.DefaultRateLimitWindow,
		RateLimitMaxRequests:   config.DefaultRateLimitMaxRequests,
	}
}

// fakeNonceRepo mirrors the SQL repository's contract in memory,
// including the atomic check-and-set of ConsumeIfValid.
type fakeNonceRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.NonceRecord
	clock   func() time.Time
}

func newFakeNonceRepo(clock func() time.Time) *fakeNonceRepo {
	return &fakeNonceRepo{
		records: make(map[uuid.UUID]*models.NonceRecord),
		clock:   clock,
	}
}

func (r *fakeNonceRepo) Create(_ context.Context, rec *models.NonceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *fakeNonceRepo) ConsumeIfValid(_ context.Context, id uuid.UUID, nonceHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.NonceHash != nonceHash || rec.UsedAt != nil || !rec.ExpiresAt.After(r.clock()) {
		return false, nil
	}
	usedAt := r.clock()
	rec.UsedAt = &usedAt
	return true, nil
}

func (r *fakeNonceRepo) GetByID(_ context.Context, id uuid.UUID) (*models.NonceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeNonceRepo) CountCreatedByIPSince(_ context.Context, ip string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.Context.IPAddress == ip && rec.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *fakeNonceRepo) CleanupExpired(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	for id, rec := range r.records {
		expiredUnused := rec.UsedAt == nil && rec.ExpiresAt.Before(now)
		staleUsed := rec.UsedAt != nil && rec.UsedAt.Add(config.UsedNonceRetention).Before(now)
		if expiredUnused || staleUsed {
			delete(r.records, id)
		}
	}
	return nil
}

// fakeSessionRepo holds session rows in memory.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*models.Session)}
}

func (r *fakeSessionRepo) put(s *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) SetCoAuthAssertion(_ context.Context, id uuid.UUID, principal string, assertedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	s.ActiveIcPrincipal = &principal
	s.CoAuthAssertedAt = &assertedAt
	return nil
}

func (r *fakeSessionRepo) ClearCoAuthAssertion(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.ActiveIcPrincipal = nil
		s.CoAuthAssertedAt = nil
	}
	return nil
}

// fakeLinkedIdentityRepo holds user links in memory.
type fakeLinkedIdentityRepo struct {
	mu    sync.Mutex
	links map[uuid.UUID]*models.LinkedIdentity
}

func newFakeLinkedIdentityRepo() *fakeLinkedIdentityRepo {
	return &fakeLinkedIdentityRepo{links: make(map[uuid.UUID]*models.LinkedIdentity)}
}

func (r *fakeLinkedIdentityRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*models.LinkedIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	li, ok := r.links[userID]
	if !ok {
		return nil, nil
	}
	cp := *li
	return &cp, nil
}

func (r *fakeLinkedIdentityRepo) Upsert(_ context.Context, userID uuid.UUID, principal string, linkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[userID] = &models.LinkedIdentity{UserID: userID, IcPrincipal: principal, LinkedAt: linkedAt}
	return nil
}

func (r *fakeLinkedIdentityRepo) Delete(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, userID)
	return nil
}

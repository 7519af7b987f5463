package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/futura-app/coauth-service/internal/models"
	"github.com/futura-app/coauth-service/internal/utils"
)

type coAuthFixture struct {
	svc      CoAuthService
	nonces   NonceService
	sessions *fakeSessionRepo
	linked   *fakeLinkedIdentityRepo
	clock    *stepClock
	session  *models.Session
}

func newCoAuthFixture(t *testing.T) *coAuthFixture {
	t.Helper()
	clock := newStepClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	cfg := testConfig()

	nonceRepo := newFakeNonceRepo(clock.Now)
	limiter := NewRateLimiterService(nonceRepo, cfg, clock)
	nonces := NewNonceService(nonceRepo, limiter, cfg, clock)

	sessions := newFakeSessionRepo()
	linked := newFakeLinkedIdentityRepo()

	session := &models.Session{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(24 * time.Hour),
	}
	sessions.put(session)

	return &coAuthFixture{
		svc:      NewCoAuthService(sessions, linked, nonces, cfg, clock),
		nonces:   nonces,
		sessions: sessions,
		linked:   linked,
		clock:    clock,
		session:  session,
	}
}

func (f *coAuthFixture) activate(t *testing.T, principal string) {
	t.Helper()
	ctx := context.Background()
	created, err := f.nonces.CreateNonce(ctx, models.NonceContext{SessionID: f.session.ID.String()}, 0)
	require.NoError(t, err)

	result, err := f.svc.Activate(ctx, f.session.ID, created.ID, created.RawNonce, principal)
	require.NoError(t, err)
	require.True(t, result.OK)
}

func TestActivateStampsSessionAndLinksIdentity(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	f.activate(t, "w3gef-kqhii-principal")

	session, err := f.sessions.GetByID(ctx, f.session.ID)
	require.NoError(t, err)
	require.NotNil(t, session.ActiveIcPrincipal)
	require.Equal(t, "w3gef-kqhii-principal", *session.ActiveIcPrincipal)
	require.NotNil(t, session.CoAuthAssertedAt)
	require.Equal(t, f.clock.Now(), *session.CoAuthAssertedAt)

	link, err := f.linked.GetByUserID(ctx, f.session.UserID)
	require.NoError(t, err)
	require.NotNil(t, link)
	require.Equal(t, "w3gef-kqhii-principal", link.IcPrincipal)
}

func TestActivateOverwritesPreviousAssertion(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	f.activate(t, "first-principal")
	firstAssertedAt := f.clock.Now()

	f.clock.Advance(5 * time.Minute)
	f.activate(t, "second-principal")

	session, err := f.sessions.GetByID(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, "second-principal", *session.ActiveIcPrincipal)
	require.True(t, session.CoAuthAssertedAt.After(firstAssertedAt))
}

func TestActivateRejectsConsumedNonce(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	created, err := f.nonces.CreateNonce(ctx, models.NonceContext{}, 0)
	require.NoError(t, err)

	first, err := f.svc.Activate(ctx, f.session.ID, created.ID, created.RawNonce, "principal")
	require.NoError(t, err)
	require.True(t, first.OK)

	second, err := f.svc.Activate(ctx, f.session.ID, created.ID, created.RawNonce, "principal")
	require.NoError(t, err)
	require.False(t, second.OK)
	require.Equal(t, ConsumeFailureAlreadyUsed, second.Reason)
}

func TestActivateUnknownSession(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	created, err := f.nonces.CreateNonce(ctx, models.NonceContext{}, 0)
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, uuid.New(), created.ID, created.RawNonce, "principal")
	require.ErrorIs(t, err, utils.ErrSessionNotFound)
}

func TestVerifyStates(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	// No assertion yet.
	result, err := f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, CoAuthInactive, result.Status)
	require.False(t, result.IsValid)
	require.False(t, result.RequiresReAuth)

	f.activate(t, "principal")

	// Fresh assertion is active.
	result, err = f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, CoAuthActive, result.Status)
	require.True(t, result.IsValid)

	// 10 minutes in: still valid.
	f.clock.Advance(10 * time.Minute)
	result, err = f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.True(t, result.IsValid)

	// 14 minutes in: warning, still valid.
	f.clock.Advance(4 * time.Minute)
	result, err = f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, CoAuthWarning, result.Status)
	require.True(t, result.IsValid)

	// 16 minutes in: grace, still valid but flagged.
	f.clock.Advance(2 * time.Minute)
	result, err = f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, CoAuthGrace, result.Status)
	require.True(t, result.IsValid)

	// 20 minutes in: expired, re-auth required.
	f.clock.Advance(4 * time.Minute)
	result, err = f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, CoAuthExpired, result.Status)
	require.False(t, result.IsValid)
	require.True(t, result.RequiresReAuth)
}

func TestGuardDeniesWithoutAssertion(t *testing.T) {
	f := newCoAuthFixture(t)

	err := f.svc.Guard(context.Background(), f.session.ID)
	require.Error(t, err)

	var appErr *utils.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, utils.ErrCodeCoAuthRequired, appErr.Code)

	details, ok := appErr.Details.(CoAuthRequiredDetails)
	require.True(t, ok)
	require.False(t, details.RequiresReAuth)
}

func TestGuardDeniesExpiredWithReAuth(t *testing.T) {
	f := newCoAuthFixture(t)

	f.activate(t, "principal")
	f.clock.Advance(20 * time.Minute)

	err := f.svc.Guard(context.Background(), f.session.ID)
	require.Error(t, err)

	var appErr *utils.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, utils.ErrCodeCoAuthRequired, appErr.Code)

	details, ok := appErr.Details.(CoAuthRequiredDetails)
	require.True(t, ok)
	require.True(t, details.RequiresReAuth)
}

func TestGuardPassesWithinWindow(t *testing.T) {
	f := newCoAuthFixture(t)

	f.activate(t, "principal")
	f.clock.Advance(10 * time.Minute)

	require.NoError(t, f.svc.Guard(context.Background(), f.session.ID))
}

func TestDeactivateKeepsLink(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	f.activate(t, "principal")
	require.NoError(t, f.svc.Deactivate(ctx, f.session.ID))

	result, err := f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, CoAuthInactive, result.Status)

	// Linked identity survives deactivation.
	linked, err := f.svc.LinkedStatus(ctx, f.session.ID)
	require.NoError(t, err)
	require.True(t, linked.HasLinkedIdentity)
}

func TestUnlinkClearsLinkAndAssertion(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	f.activate(t, "principal")
	require.NoError(t, f.svc.Unlink(ctx, f.session.ID))

	linked, err := f.svc.LinkedStatus(ctx, f.session.ID)
	require.NoError(t, err)
	require.False(t, linked.HasLinkedIdentity)
	require.Nil(t, linked.LinkedPrincipal)

	result, err := f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, CoAuthInactive, result.Status)
}

func TestLinkedStatusDistinguishesExpiredFromUnlinked(t *testing.T) {
	f := newCoAuthFixture(t)
	ctx := context.Background()

	// Never linked.
	linked, err := f.svc.LinkedStatus(ctx, f.session.ID)
	require.NoError(t, err)
	require.False(t, linked.HasLinkedIdentity)

	// Linked and active.
	f.activate(t, "principal")
	linked, err = f.svc.LinkedStatus(ctx, f.session.ID)
	require.NoError(t, err)
	require.True(t, linked.HasLinkedIdentity)

	// Linked but session expired: link remains, activation does not.
	f.clock.Advance(20 * time.Minute)
	result, err := f.svc.Verify(ctx, f.session.ID)
	require.NoError(t, err)
	require.False(t, result.IsValid)

	linked, err = f.svc.LinkedStatus(ctx, f.session.ID)
	require.NoError(t, err)
	require.True(t, linked.HasLinkedIdentity)
}

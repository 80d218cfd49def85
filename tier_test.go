package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/parcelcrm/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTierSet(t *testing.T) {
	t.Run("membership", func(t *testing.T) {
		set := auth.NewTierSet(auth.TierPro, auth.TierEnterprise)
		assert.True(t, set.Contains(auth.TierPro))
		assert.True(t, set.Contains(auth.TierEnterprise))
		assert.False(t, set.Contains(auth.TierFree))
		assert.False(t, set.Contains(auth.TierTrial))
	})

	t.Run("tiers are listed in rank order", func(t *testing.T) {
		set := auth.NewTierSet(auth.TierEnterprise, auth.TierTrial, auth.TierPro)
		assert.Equal(t, []auth.SubscriptionTier{auth.TierTrial, auth.TierPro, auth.TierEnterprise}, set.Tiers())
	})
}

func TestTierAtLeast(t *testing.T) {
	t.Run("free floor includes trial", func(t *testing.T) {
		set := auth.TierAtLeast(auth.TierFree)
		assert.True(t, set.Contains(auth.TierTrial))
		assert.True(t, set.Contains(auth.TierFree))
		assert.True(t, set.Contains(auth.TierPro))
		assert.True(t, set.Contains(auth.TierEnterprise))
	})

	t.Run("pro floor excludes trial and free", func(t *testing.T) {
		set := auth.TierAtLeast(auth.TierPro)
		assert.False(t, set.Contains(auth.TierTrial))
		assert.False(t, set.Contains(auth.TierFree))
		assert.True(t, set.Contains(auth.TierPro))
		assert.True(t, set.Contains(auth.TierEnterprise))
	})

	t.Run("enterprise floor is enterprise only", func(t *testing.T) {
		set := auth.TierAtLeast(auth.TierEnterprise)
		assert.Equal(t, []auth.SubscriptionTier{auth.TierEnterprise}, set.Tiers())
	})
}

func gateClaims(userID uuid.UUID, issued time.Time) *auth.Claims {
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID.String(),
			IssuedAt: jwt.NewNumericDate(issued),
		},
		UID: userID.String(),
	}
}

func TestTierGateAuthorize(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	newGate := func(users *MockUsers) *auth.TierGate {
		repo := new(MockRepositoryManager)
		repo.On("Users").Return(users).Maybe()
		return auth.NewTierGate(repo).
			WithLogger(testLogger{}).
			WithClock(func() time.Time { return now })
	}

	t.Run("allows a member tier", func(t *testing.T) {
		users := new(MockUsers)
		user := &auth.User{
			ID:     uuid.New(),
			Email:  "pro@example.com",
			Status: auth.UserStatusActive,
			Tier:   auth.TierPro,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		identity, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierPro))
		require.NoError(t, err)
		assert.Equal(t, auth.TierPro, identity.Tier())
	})

	t.Run("denies an insufficient tier with upgrade metadata", func(t *testing.T) {
		users := new(MockUsers)
		user := &auth.User{
			ID:     uuid.New(),
			Status: auth.UserStatusActive,
			Tier:   auth.TierFree,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		_, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierPro))
		assert.ErrorIs(t, err, auth.ErrUpgradeRequired)
	})

	t.Run("ignores the tier snapshot in the claims", func(t *testing.T) {
		users := new(MockUsers)
		user := &auth.User{
			ID:     uuid.New(),
			Status: auth.UserStatusActive,
			Tier:   auth.TierFree,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		// token still claims enterprise; the store was downgraded
		claims := gateClaims(user.ID, now)
		claims.UserTier = auth.TierEnterprise

		_, err := newGate(users).Authorize(ctx, claims, auth.TierAtLeast(auth.TierEnterprise))
		assert.ErrorIs(t, err, auth.ErrUpgradeRequired)
	})

	t.Run("expired trial is denied distinctly even when trial is allowed", func(t *testing.T) {
		users := new(MockUsers)
		expired := now.Add(-time.Hour)
		user := &auth.User{
			ID:             uuid.New(),
			Status:         auth.UserStatusActive,
			Tier:           auth.TierTrial,
			TrialExpiresAt: &expired,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		_, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierFree))
		assert.ErrorIs(t, err, auth.ErrTrialExpired)
		assert.NotErrorIs(t, err, auth.ErrUpgradeRequired)
	})

	t.Run("unexpired trial passes the free floor", func(t *testing.T) {
		users := new(MockUsers)
		future := now.Add(5 * 24 * time.Hour)
		user := &auth.User{
			ID:             uuid.New(),
			Status:         auth.UserStatusActive,
			Tier:           auth.TierTrial,
			TrialExpiresAt: &future,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		identity, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierFree))
		require.NoError(t, err)
		assert.Equal(t, auth.TierTrial, identity.Tier())
	})

	t.Run("allow expired trial opt-in lets billing routes through", func(t *testing.T) {
		users := new(MockUsers)
		expired := now.Add(-time.Hour)
		user := &auth.User{
			ID:             uuid.New(),
			Status:         auth.UserStatusActive,
			Tier:           auth.TierTrial,
			TrialExpiresAt: &expired,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		gate := newGate(users).WithAllowExpiredTrial(true)

		identity, err := gate.Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierFree))
		require.NoError(t, err)
		assert.NotNil(t, identity)
	})

	t.Run("expiry boundary counts as expired", func(t *testing.T) {
		users := new(MockUsers)
		boundary := now
		user := &auth.User{
			ID:             uuid.New(),
			Status:         auth.UserStatusActive,
			Tier:           auth.TierTrial,
			TrialExpiresAt: &boundary,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		_, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierFree))
		assert.ErrorIs(t, err, auth.ErrTrialExpired)
	})

	t.Run("locked account is denied even with a valid token", func(t *testing.T) {
		users := new(MockUsers)
		lockedUntil := now.Add(10 * time.Minute)
		user := &auth.User{
			ID:          uuid.New(),
			Status:      auth.UserStatusActive,
			Tier:        auth.TierPro,
			LockedUntil: &lockedUntil,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		// token minted before the failed-attempt burst still fails the gate
		_, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now.Add(-time.Hour)), auth.TierAtLeast(auth.TierPro))
		assert.ErrorIs(t, err, auth.ErrAccountLocked)
	})

	t.Run("stale lock in the past does not deny", func(t *testing.T) {
		users := new(MockUsers)
		lockedUntil := now.Add(-time.Minute)
		user := &auth.User{
			ID:          uuid.New(),
			Status:      auth.UserStatusActive,
			Tier:        auth.TierPro,
			LockedUntil: &lockedUntil,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		identity, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierPro))
		require.NoError(t, err)
		assert.NotNil(t, identity)
	})

	t.Run("suspended account is denied regardless of tier", func(t *testing.T) {
		users := new(MockUsers)
		user := &auth.User{
			ID:     uuid.New(),
			Status: auth.UserStatusSuspended,
			Tier:   auth.TierEnterprise,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		_, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now), auth.TierAtLeast(auth.TierFree))
		assert.ErrorIs(t, err, auth.ErrAccountSuspended)
	})

	t.Run("revoked session is rejected at the gate", func(t *testing.T) {
		users := new(MockUsers)
		watermark := now
		user := &auth.User{
			ID:            uuid.New(),
			Status:        auth.UserStatusActive,
			Tier:          auth.TierPro,
			SessionsAfter: &watermark,
		}
		users.On("GetByID", ctx, user.ID.String(), mock.Anything).
			Return(user, nil).Once()

		_, err := newGate(users).Authorize(ctx, gateClaims(user.ID, now.Add(-time.Hour)), auth.TierAtLeast(auth.TierFree))
		assert.ErrorIs(t, err, auth.ErrSessionRevoked)
	})

	t.Run("nil claims", func(t *testing.T) {
		_, err := newGate(new(MockUsers)).Authorize(ctx, nil, auth.TierAtLeast(auth.TierFree))
		assert.ErrorIs(t, err, auth.ErrTokenMissing)
	})

	t.Run("garbage subject", func(t *testing.T) {
		claims := &auth.Claims{UID: "not-a-uuid"}
		_, err := newGate(new(MockUsers)).Authorize(ctx, claims, auth.TierAtLeast(auth.TierFree))
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})
}

package tierware_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parcelcrm/auth"
	"github.com/parcelcrm/auth/middleware/tierware"
)

type stubUsers struct {
	auth.Users
	byID map[string]*auth.User
}

func (s *stubUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*auth.User, error) {
	if user, ok := s.byID[id]; ok {
		return user, nil
	}
	return nil, repository.NewRecordNotFound()
}

type stubRepo struct {
	auth.RepositoryManager
	users auth.Users
}

func (s *stubRepo) Users() auth.Users { return s.users }

type tierLogger struct{}

func (tierLogger) Debug(string, ...any) {}
func (tierLogger) Info(string, ...any)  {}
func (tierLogger) Warn(string, ...any)  {}
func (tierLogger) Error(string, ...any) {}

var tokenConfig = auth.SimpleConfig{
	SigningKey: "test-signing-key",
	Issuer:     "test-issuer",
	BcryptCost: 4,
}

func proUser() *auth.User {
	return &auth.User{
		ID:            uuid.New(),
		Email:         "pro@example.com",
		FullName:      "Pro User",
		EmailVerified: true,
		Status:        auth.UserStatusActive,
		Tier:          auth.TierPro,
	}
}

func signedToken(t *testing.T, user *auth.User) string {
	t.Helper()
	svc := auth.NewTokenService(tokenConfig, tierLogger{})
	token, err := svc.Issue(auth.IdentityFromUser(user), false)
	require.NoError(t, err)
	return token
}

func newGate(user *auth.User, now time.Time) *auth.TierGate {
	users := &stubUsers{byID: map[string]*auth.User{}}
	if user != nil {
		users.byID[user.ID.String()] = user
	}
	return auth.NewTierGate(&stubRepo{users: users}).
		WithLogger(tierLogger{}).
		WithClock(func() time.Time { return now })
}

func TestTierMiddleware(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	validator := auth.NewTokenService(tokenConfig, tierLogger{})

	t.Run("valid token and member tier pass through", func(t *testing.T) {
		user := proUser()
		token := signedToken(t, user)

		var gotErr error
		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			Gate:           newGate(user, now),
			Allowed:        auth.NewTierSet(auth.TierPro, auth.TierEnterprise),
			ErrorHandler: func(c router.Context, err error) error {
				gotErr = err
				return err
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer " + token
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Locals", "claims", mock.Anything).Return(nil)
		ctx.On("Locals", "identity", mock.Anything).Return(nil)

		err := handler(ctx)
		require.NoError(t, err)
		require.NoError(t, gotErr)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("missing token", func(t *testing.T) {
		var gotErr error
		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			ErrorHandler: func(c router.Context, err error) error {
				gotErr = err
				return err
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()
		ctx.On("GetString", "Authorization", "").Return("")

		err := handler(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, gotErr, auth.ErrTokenMissing)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("tampered token", func(t *testing.T) {
		user := proUser()
		token := signedToken(t, user)
		bad := token[:len(token)-2]

		var gotErr error
		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			ErrorHandler: func(c router.Context, err error) error {
				gotErr = err
				return err
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer " + bad
		ctx.On("GetString", "Authorization", "").Return("Bearer " + bad)

		err := handler(ctx)
		require.Error(t, err)
		require.Error(t, gotErr)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("tier outside the allowed set is denied", func(t *testing.T) {
		user := proUser()
		user.Tier = auth.TierFree
		token := signedToken(t, user)

		var gotErr error
		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			Gate:           newGate(user, now),
			Allowed:        auth.NewTierSet(auth.TierPro, auth.TierEnterprise),
			ErrorHandler: func(c router.Context, err error) error {
				gotErr = err
				return err
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer " + token
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Locals", "claims", mock.Anything).Return(nil)

		err := handler(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, gotErr, auth.ErrUpgradeRequired)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("expired trial is denied distinctly", func(t *testing.T) {
		user := proUser()
		user.Tier = auth.TierTrial
		expired := now.Add(-time.Hour)
		user.TrialExpiresAt = &expired
		token := signedToken(t, user)

		var gotErr error
		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			Gate:           newGate(user, now),
			Allowed:        auth.NewTierSet(auth.TierTrial, auth.TierFree),
			ErrorHandler: func(c router.Context, err error) error {
				gotErr = err
				return err
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer " + token
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Locals", "claims", mock.Anything).Return(nil)

		err := handler(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, gotErr, auth.ErrTrialExpired)
		assert.NotErrorIs(t, gotErr, auth.ErrUpgradeRequired)
	})

	t.Run("nil gate validates the token only", func(t *testing.T) {
		user := proUser()
		user.Tier = auth.TierFree
		token := signedToken(t, user)

		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			ErrorHandler: func(c router.Context, err error) error {
				return err
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer " + token
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Locals", "claims", mock.Anything).Return(nil)

		err := handler(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("filter skips enforcement", func(t *testing.T) {
		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			Filter: func(ctx router.Context) bool {
				return true
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()

		err := handler(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("cookie lookup", func(t *testing.T) {
		user := proUser()
		token := signedToken(t, user)

		handler := tierware.New(tierware.Config{
			TokenValidator: validator,
			TokenLookup:    "cookie:session_token",
			ErrorHandler: func(c router.Context, err error) error {
				return err
			},
		})(func(ctx router.Context) error { return nil })

		ctx := router.NewMockContext()
		ctx.CookiesM["session_token"] = token
		ctx.On("Locals", "claims", mock.Anything).Return(nil)

		err := handler(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})
}

func TestRequireTiers(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	validator := auth.NewTokenService(tokenConfig, tierLogger{})

	user := proUser()
	token := signedToken(t, user)

	handler := tierware.RequireTiers(
		validator,
		newGate(user, now),
		auth.TierAtLeast(auth.TierPro),
	)(func(ctx router.Context) error { return nil })

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer " + token
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
	ctx.On("Locals", "claims", mock.Anything).Return(nil)
	ctx.On("Locals", "identity", mock.Anything).Return(nil)

	err := handler(ctx)
	require.NoError(t, err)
	assert.True(t, ctx.NextCalled)
}

func TestGetExtractors(t *testing.T) {
	extractors := tierware.GetExtractors("header:Authorization,query:token,cookie:session")
	assert.Len(t, extractors, 3)

	extractors = tierware.GetExtractors("header")
	assert.Empty(t, extractors)
}

package social

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/parcelcrm/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLinks struct {
	auth.OAuthLinks
	byProviderID map[string]*auth.OAuthLink
	byUser       map[uuid.UUID][]*auth.OAuthLink
	upserted     []*auth.OAuthLink
	deleted      []string
}

func (s *stubLinks) FindByProviderID(ctx context.Context, provider auth.OAuthProvider, providerUserID string) (*auth.OAuthLink, error) {
	if link, ok := s.byProviderID[linkKey(provider, providerUserID)]; ok {
		return link, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubLinks) FindByUser(ctx context.Context, userID uuid.UUID) ([]*auth.OAuthLink, error) {
	return s.byUser[userID], nil
}

func (s *stubLinks) Upsert(ctx context.Context, link *auth.OAuthLink, criteria ...repository.UpdateCriteria) (*auth.OAuthLink, error) {
	if s.byProviderID == nil {
		s.byProviderID = map[string]*auth.OAuthLink{}
	}
	s.byProviderID[linkKey(link.Provider, link.ProviderUserID)] = link
	s.upserted = append(s.upserted, link)
	return link, nil
}

func (s *stubLinks) DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider auth.OAuthProvider) error {
	s.deleted = append(s.deleted, linkKey(provider, userID.String()))
	return nil
}

type stubUsers struct {
	auth.Users
	byID      map[string]*auth.User
	byEmail   map[string]*auth.User
	created   []*auth.User
	createErr error
}

func (s *stubUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*auth.User, error) {
	if user, ok := s.byID[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	if user, ok := s.byEmail[email]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubUsers) Register(ctx context.Context, user *auth.User) (*auth.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.created = append(s.created, user)
	if s.byID == nil {
		s.byID = map[string]*auth.User{}
	}
	s.byID[user.ID.String()] = user
	if user.Email != "" {
		if s.byEmail == nil {
			s.byEmail = map[string]*auth.User{}
		}
		s.byEmail[user.Email] = user
	}
	return user, nil
}

func linkKey(provider auth.OAuthProvider, providerUserID string) string {
	return provider + ":" + providerUserID
}

func TestDefaultLinkingStrategy_ExistingLink(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Email: "existing@example.com"}
	links := &stubLinks{
		byProviderID: map[string]*auth.OAuthLink{
			linkKey("google", "123"): {
				UserID:         user.ID,
				Provider:       "google",
				ProviderUserID: "123",
			},
		},
	}
	users := &stubUsers{
		byID: map[string]*auth.User{user.ID.String(): user},
	}

	strategy := &DefaultLinkingStrategy{
		AllowSignup:          true,
		AllowLinking:         true,
		RequireEmailVerified: true,
	}

	result, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:       "google",
			ProviderUserID: "123",
			EmailVerified:  true,
		},
		Links: links,
		Users: users,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, user, result.User)
	assert.False(t, result.IsNewUser)
	assert.False(t, result.Linked)
}

func TestDefaultLinkingStrategy_LinkWinsOverEmail(t *testing.T) {
	// the provider id link is authoritative even when the profile email
	// points at a different local account
	linked := &auth.User{ID: uuid.New(), Email: "linked@example.com"}
	other := &auth.User{ID: uuid.New(), Email: "other@example.com"}
	links := &stubLinks{
		byProviderID: map[string]*auth.OAuthLink{
			linkKey("google", "123"): {
				UserID:         linked.ID,
				Provider:       "google",
				ProviderUserID: "123",
			},
		},
	}
	users := &stubUsers{
		byID:    map[string]*auth.User{linked.ID.String(): linked},
		byEmail: map[string]*auth.User{other.Email: other},
	}

	strategy := &DefaultLinkingStrategy{AllowSignup: true, AllowLinking: true}

	result, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:       "google",
			ProviderUserID: "123",
			Email:          other.Email,
			EmailVerified:  true,
		},
		Links: links,
		Users: users,
	})
	require.NoError(t, err)
	assert.Equal(t, linked, result.User)
}

func TestDefaultLinkingStrategy_MatchesVerifiedEmail(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Email: "match@example.com", PasswordHash: "x"}
	links := &stubLinks{}
	users := &stubUsers{
		byEmail: map[string]*auth.User{user.Email: user},
	}

	strategy := &DefaultLinkingStrategy{
		AllowSignup:  true,
		AllowLinking: true,
	}

	result, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:       "google",
			ProviderUserID: "456",
			Email:          user.Email,
			EmailVerified:  true,
		},
		Action: ActionLogin,
		Links:  links,
		Users:  users,
	})
	require.NoError(t, err)
	assert.Equal(t, user, result.User)
	assert.False(t, result.IsNewUser)
	assert.True(t, result.Linked)
}

func TestDefaultLinkingStrategy_UnverifiedEmailNeverMatches(t *testing.T) {
	// an unverified provider email must not attach to an existing account;
	// with signup open it falls through to a fresh account instead
	user := &auth.User{ID: uuid.New(), Email: "target@example.com"}
	links := &stubLinks{}
	users := &stubUsers{
		byEmail: map[string]*auth.User{user.Email: user},
	}

	strategy := &DefaultLinkingStrategy{AllowSignup: true, AllowLinking: true}

	result, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:       "google",
			ProviderUserID: "789",
			Email:          user.Email,
			EmailVerified:  false,
		},
		Action: ActionLogin,
		Links:  links,
		Users:  users,
	})
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
	assert.NotEqual(t, user.ID, result.User.ID)
}

func TestDefaultLinkingStrategy_CreatesNewUser(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	links := &stubLinks{}
	users := &stubUsers{}

	strategy := (&DefaultLinkingStrategy{
		AllowSignup:          true,
		AllowLinking:         true,
		RequireEmailVerified: true,
	}).WithClock(func() time.Time { return now })

	profile := &Profile{
		Provider:       "google",
		ProviderUserID: "456",
		Email:          "new@example.com",
		EmailVerified:  true,
		Name:           "New User",
	}

	result, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: profile,
		Action:  ActionLogin,
		Links:   links,
		Users:   users,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsNewUser)
	require.Len(t, users.created, 1)

	created := result.User
	assert.Equal(t, profile.Email, created.Email)
	assert.Equal(t, "New User", created.FullName)
	assert.Equal(t, auth.UserStatusActive, created.Status)
	assert.True(t, created.EmailVerified)
	assert.Empty(t, created.PasswordHash)
	assert.Equal(t, auth.TierTrial, created.Tier)
	require.NotNil(t, created.TrialExpiresAt)
	assert.True(t, created.TrialExpiresAt.Equal(now.Add(auth.DefaultTrialPeriod)))
}

func TestDefaultLinkingStrategy_SignupDisabled(t *testing.T) {
	strategy := &DefaultLinkingStrategy{
		AllowSignup:  false,
		AllowLinking: true,
	}

	_, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:       "google",
			ProviderUserID: "456",
			Email:          "nobody@example.com",
			EmailVerified:  true,
		},
		Action: ActionLogin,
		Links:  &stubLinks{},
		Users:  &stubUsers{},
	})
	assert.ErrorIs(t, err, ErrSignupNotAllowed)
}

func TestDefaultLinkingStrategy_LinkingDisabled(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Email: "exists@example.com"}
	users := &stubUsers{
		byEmail: map[string]*auth.User{user.Email: user},
	}

	strategy := &DefaultLinkingStrategy{
		AllowSignup:  true,
		AllowLinking: false,
	}

	_, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:      "google",
			Email:         user.Email,
			EmailVerified: true,
		},
		Action: ActionLogin,
		Links:  &stubLinks{},
		Users:  users,
	})
	assert.ErrorIs(t, err, ErrLinkingNotAllowed)
}

func TestDefaultLinkingStrategy_RequireVerifiedEmail(t *testing.T) {
	strategy := &DefaultLinkingStrategy{
		AllowSignup:          true,
		AllowLinking:         true,
		RequireEmailVerified: true,
	}

	_, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:       "google",
			ProviderUserID: "456",
			Email:          "unverified@example.com",
			EmailVerified:  false,
		},
		Links: &stubLinks{},
		Users: &stubUsers{},
	})
	assert.ErrorIs(t, err, ErrEmailUnverified)
}

func TestDefaultLinkingStrategy_ExplicitLinkAction(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Email: "linker@example.com"}
	users := &stubUsers{
		byID: map[string]*auth.User{user.ID.String(): user},
	}

	var hookUser *auth.User
	strategy := &DefaultLinkingStrategy{
		AllowSignup:  false,
		AllowLinking: true,
		OnAccountLinked: func(ctx context.Context, u *auth.User, p *Profile) error {
			hookUser = u
			return nil
		},
	}

	result, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Profile: &Profile{
			Provider:       "microsoft",
			ProviderUserID: "ms-1",
			Email:          "corp@example.com",
			EmailVerified:  true,
		},
		Action:     ActionLink,
		LinkUserID: user.ID.String(),
		Links:      &stubLinks{},
		Users:      users,
	})
	require.NoError(t, err)
	assert.Equal(t, user, result.User)
	assert.True(t, result.Linked)
	assert.Equal(t, user, hookUser)
}

func TestDefaultLinkingStrategy_NilProfile(t *testing.T) {
	strategy := &DefaultLinkingStrategy{AllowSignup: true}

	_, err := strategy.ResolveUser(context.Background(), LinkingContext{
		Links: &stubLinks{},
		Users: &stubUsers{},
	})
	assert.ErrorIs(t, err, ErrProfileFailed)
}

package social

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/parcelcrm/auth"
)

// LinkingStrategy resolves a provider profile to a local user.
type LinkingStrategy interface {
	ResolveUser(ctx context.Context, lc LinkingContext) (*LinkingResult, error)
}

// LinkingContext provides context for user resolution.
type LinkingContext struct {
	Profile    *Profile
	Action     string
	LinkUserID string
	Links      auth.OAuthLinks
	Users      auth.Users
}

// LinkingResult contains the resolved user and metadata.
type LinkingResult struct {
	User      *auth.User
	IsNewUser bool
	Linked    bool
}

// DefaultLinkingStrategy implements the resolution ladder: an existing
// (provider, provider user id) link always wins; a verified provider email
// matching a local account links to it; otherwise a new active account is
// created. An external identity can never re-point an existing link at a
// different local account.
type DefaultLinkingStrategy struct {
	AllowSignup          bool
	AllowLinking         bool
	RequireEmailVerified bool
	TrialPeriod          time.Duration

	OnUserCreated   func(ctx context.Context, user *auth.User, profile *Profile) error
	OnAccountLinked func(ctx context.Context, user *auth.User, profile *Profile) error

	now func() time.Time
}

// WithClock injects a custom clock, useful for tests.
func (s *DefaultLinkingStrategy) WithClock(clock func() time.Time) *DefaultLinkingStrategy {
	if clock != nil {
		s.now = clock
	}
	return s
}

// ResolveUser implements LinkingStrategy.
func (s *DefaultLinkingStrategy) ResolveUser(ctx context.Context, lc LinkingContext) (*LinkingResult, error) {
	if lc.Profile == nil {
		return nil, ErrProfileFailed
	}
	if lc.Links == nil || lc.Users == nil {
		return nil, ErrLinkingNotAllowed
	}

	profile := lc.Profile

	if s.RequireEmailVerified && !profile.EmailVerified {
		return nil, ErrEmailUnverified
	}

	existing, err := lc.Links.FindByProviderID(ctx, profile.Provider, profile.ProviderUserID)
	if err == nil && existing != nil {
		user, err := lc.Users.GetByID(ctx, existing.UserID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to find linked user: %w", err)
		}
		return &LinkingResult{User: user, IsNewUser: false}, nil
	}
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, fmt.Errorf("failed to find linked account: %w", err)
	}

	if lc.Action == ActionLink && lc.LinkUserID != "" {
		if !s.AllowLinking {
			return nil, ErrLinkingNotAllowed
		}

		user, err := lc.Users.GetByID(ctx, lc.LinkUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user to link: %w", err)
		}

		if s.OnAccountLinked != nil {
			if err := s.OnAccountLinked(ctx, user, profile); err != nil {
				return nil, err
			}
		}

		return &LinkingResult{User: user, IsNewUser: false, Linked: true}, nil
	}

	if profile.Email != "" && profile.EmailVerified {
		user, err := lc.Users.GetByEmail(ctx, profile.Email)
		if err == nil && user != nil {
			if !s.AllowLinking {
				return nil, ErrLinkingNotAllowed
			}
			if s.OnAccountLinked != nil {
				if err := s.OnAccountLinked(ctx, user, profile); err != nil {
					return nil, err
				}
			}
			return &LinkingResult{User: user, IsNewUser: false, Linked: true}, nil
		}
		if err != nil && !repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
	}

	if !s.AllowSignup {
		return nil, ErrSignupNotAllowed
	}

	created, err := lc.Users.Register(ctx, s.createUserFromProfile(profile))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.OnUserCreated != nil {
		if err := s.OnUserCreated(ctx, created, profile); err != nil {
			return nil, err
		}
	}

	return &LinkingResult{User: created, IsNewUser: true}, nil
}

// createUserFromProfile builds an account for a first-time provider login.
// The provider vouched for the email, so the account starts active and
// verified; there is no password hash until the user sets one.
func (s *DefaultLinkingStrategy) createUserFromProfile(profile *Profile) *auth.User {
	clock := s.now
	if clock == nil {
		clock = time.Now
	}
	now := clock()

	trialPeriod := s.TrialPeriod
	if trialPeriod <= 0 {
		trialPeriod = auth.DefaultTrialPeriod
	}
	trialExpires := now.Add(trialPeriod)

	return &auth.User{
		Email:          profile.Email,
		FullName:       profile.DisplayName(),
		EmailVerified:  profile.EmailVerified,
		VerifiedAt:     &now,
		Status:         auth.UserStatusActive,
		Tier:           auth.TierTrial,
		TrialExpiresAt: &trialExpires,
	}
}

// Actions.
const (
	ActionLogin  = "login"
	ActionSignup = "signup"
	ActionLink   = "link"
)

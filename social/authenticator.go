package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parcelcrm/auth"
)

// SocialAuthenticator orchestrates the federated login flow end to end:
// state issuance, callback verification, code exchange, profile fetch,
// account resolution, and session token issuance.
type SocialAuthenticator struct {
	providers       map[string]Provider
	stateManager    StateManager
	linkingStrategy LinkingStrategy
	links           auth.OAuthLinks
	users           auth.Users
	tokenService    auth.TokenService
	activitySink    auth.ActivitySink
	logger          auth.Logger
	config          SocialAuthConfig
	now             func() time.Time
}

// SocialAuthConfig configures the social authenticator.
type SocialAuthConfig struct {
	DefaultRedirectURL   string
	StateEncryptionKey   []byte
	StateHMACKey         []byte
	StateTTL             time.Duration
	AllowSignup          bool
	AllowLinking         bool
	RequireEmailVerified bool
	TrialPeriod          time.Duration
}

// SocialAuthOption configures the social authenticator.
type SocialAuthOption func(*SocialAuthenticator)

// NewSocialAuthenticator creates a new social authenticator.
func NewSocialAuthenticator(
	links auth.OAuthLinks,
	users auth.Users,
	tokenService auth.TokenService,
	config SocialAuthConfig,
	opts ...SocialAuthOption,
) *SocialAuthenticator {
	cfg := config
	if cfg.StateTTL == 0 {
		cfg.StateTTL = 10 * time.Minute
	}

	sa := &SocialAuthenticator{
		providers:    make(map[string]Provider),
		links:        links,
		users:        users,
		tokenService: tokenService,
		logger:       nil,
		config:       cfg,
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sa)
		}
	}

	if sa.stateManager == nil {
		sa.stateManager = NewEncryptedStateManager(
			cfg.StateEncryptionKey,
			cfg.StateHMACKey,
			cfg.StateTTL,
		)
	}

	if sa.linkingStrategy == nil {
		sa.linkingStrategy = &DefaultLinkingStrategy{
			AllowSignup:          cfg.AllowSignup,
			AllowLinking:         cfg.AllowLinking,
			RequireEmailVerified: cfg.RequireEmailVerified,
			TrialPeriod:          cfg.TrialPeriod,
		}
	}

	return sa
}

// WithProvider registers a social provider.
func WithProvider(provider Provider) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		if provider == nil {
			return
		}
		sa.providers[provider.Name()] = provider
	}
}

// WithStateManager sets a custom state manager.
func WithStateManager(sm StateManager) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		sa.stateManager = sm
	}
}

// WithLinkingStrategy sets a custom user linking strategy.
func WithLinkingStrategy(ls LinkingStrategy) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		sa.linkingStrategy = ls
	}
}

// WithActivitySink sets the activity sink for audit logging.
func WithActivitySink(sink auth.ActivitySink) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		sa.activitySink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger auth.Logger) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		sa.logger = logger
	}
}

// WithClock injects a custom clock, useful for tests.
func WithClock(clock func() time.Time) SocialAuthOption {
	return func(sa *SocialAuthenticator) {
		if clock != nil {
			sa.now = clock
		}
	}
}

// BeginAuth starts the OAuth flow for a provider. The returned URL carries
// the encrypted state and a PKCE challenge.
func (sa *SocialAuthenticator) BeginAuth(
	ctx context.Context,
	providerName string,
	opts ...BeginAuthOption,
) (*AuthRedirect, error) {
	provider, ok := sa.providers[providerName]
	if !ok {
		return nil, ErrProviderNotFound.WithMetadata(map[string]any{
			"provider": providerName,
		})
	}

	cfg := &beginAuthConfig{
		action:      ActionLogin,
		redirectURL: sa.config.DefaultRedirectURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	codeChallenge := computeCodeChallenge(codeVerifier)

	now := sa.now()
	state := &OAuthState{
		Nonce:        generateNonce(),
		Provider:     providerName,
		CodeVerifier: codeVerifier,
		RedirectURL:  cfg.redirectURL,
		Action:       cfg.action,
		LinkUserID:   cfg.linkUserID,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(sa.config.StateTTL).Unix(),
	}

	stateToken, err := sa.stateManager.Encode(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	authURL := provider.AuthCodeURL(stateToken, WithPKCE(codeChallenge, "S256"))

	return &AuthRedirect{
		URL:      authURL,
		State:    stateToken,
		Provider: providerName,
	}, nil
}

// CompleteAuth finishes the OAuth flow after the provider callback. The
// state is verified before anything else; no exchange runs on a failed or
// mismatched state.
func (sa *SocialAuthenticator) CompleteAuth(
	ctx context.Context,
	providerName string,
	code string,
	stateToken string,
) (*AuthResult, error) {
	state, err := sa.stateManager.Decode(stateToken)
	if err != nil {
		if errors.Is(err, ErrStateExpired) {
			return nil, ErrStateExpired
		}
		return nil, ErrStateMismatch
	}

	if state.Provider != providerName {
		return nil, ErrStateMismatch.WithMetadata(map[string]any{
			"expected": state.Provider,
			"got":      providerName,
		})
	}

	provider, ok := sa.providers[providerName]
	if !ok {
		return nil, ErrProviderNotFound.WithMetadata(map[string]any{
			"provider": providerName,
		})
	}

	token, err := provider.Exchange(ctx, code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		return nil, wrapProviderError(ErrExchangeFailed, providerName, "exchange", err)
	}

	profile, err := provider.Profile(ctx, token)
	if err != nil {
		return nil, wrapProviderError(ErrProfileFailed, providerName, "profile", err)
	}

	result, err := sa.linkingStrategy.ResolveUser(ctx, LinkingContext{
		Profile:    profile,
		Action:     state.Action,
		LinkUserID: state.LinkUserID,
		Links:      sa.links,
		Users:      sa.users,
	})
	if err != nil {
		return nil, err
	}
	if result == nil || result.User == nil {
		return nil, auth.ErrInvalidCredentials
	}

	identity := auth.IdentityFromUser(result.User)

	if err := ensureIdentityActive(identity); err != nil {
		return nil, err
	}

	if err := sa.saveLink(ctx, result.User, profile, token); err != nil {
		return nil, err
	}

	jwtToken, err := sa.tokenService.Issue(identity, false)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	sa.recordCompletion(ctx, identity, providerName, profile, state, result)

	return &AuthResult{
		User:        identity,
		Token:       jwtToken,
		IsNewUser:   result.IsNewUser,
		Linked:      result.Linked,
		Provider:    providerName,
		Profile:     profile,
		RedirectURL: state.RedirectURL,
	}, nil
}

// Unlink removes a provider link from an account. It refuses when the
// link is the account's only way to sign in.
func (sa *SocialAuthenticator) Unlink(ctx context.Context, userID string, providerName string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return auth.ErrTokenMalformed
	}

	user, err := sa.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.PasswordHash == "" {
		linked, err := sa.links.FindByUser(ctx, id)
		if err != nil {
			return err
		}
		if len(linked) <= 1 {
			return ErrLastAuthMethod
		}
	}

	if err := sa.links.DeleteByUserAndProvider(ctx, id, providerName); err != nil {
		return err
	}

	if sa.activitySink != nil {
		_ = sa.activitySink.Record(ctx, auth.ActivityEvent{
			EventType:  auth.ActivityEventOAuthUnlink,
			UserID:     userID,
			Success:    true,
			OccurredAt: sa.now(),
			Metadata: map[string]any{
				"provider": providerName,
			},
		})
	}

	return nil
}

// ListProviders returns the names of all registered providers.
func (sa *SocialAuthenticator) ListProviders() []string {
	names := make([]string, 0, len(sa.providers))
	for name := range sa.providers {
		names = append(names, name)
	}
	return names
}

func (sa *SocialAuthenticator) saveLink(ctx context.Context, user *auth.User, profile *Profile, token *Token) error {
	link := &auth.OAuthLink{
		UserID:         user.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		ProviderEmail:  profile.Email,
	}

	if token != nil {
		link.AccessToken = token.AccessToken
		link.RefreshToken = token.RefreshToken
		if !token.ExpiresAt.IsZero() {
			expiresAt := token.ExpiresAt
			link.TokenExpiresAt = &expiresAt
		}
	}

	if _, err := sa.links.Upsert(ctx, link); err != nil {
		return fmt.Errorf("failed to save provider link: %w", err)
	}

	return nil
}

func (sa *SocialAuthenticator) recordCompletion(ctx context.Context, identity auth.Identity, providerName string, profile *Profile, state *OAuthState, result *LinkingResult) {
	if sa.activitySink == nil {
		return
	}

	eventType := auth.ActivityEventOAuthLogin
	if result.Linked {
		eventType = auth.ActivityEventOAuthLink
	}

	err := sa.activitySink.Record(ctx, auth.ActivityEvent{
		EventType:  eventType,
		UserID:     identity.ID(),
		Success:    true,
		OccurredAt: sa.now(),
		Metadata: map[string]any{
			"provider":         providerName,
			"provider_user_id": profile.ProviderUserID,
			"action":           state.Action,
			"is_new_user":      result.IsNewUser,
		},
	})
	if err != nil && sa.logger != nil {
		sa.logger.Warn("activity sink record error: %v", err)
	}
}

// AuthRedirect contains the authorization URL for redirecting users.
type AuthRedirect struct {
	URL      string
	State    string
	Provider string
}

// AuthResult contains the result of a successful authentication.
type AuthResult struct {
	User        auth.Identity
	Token       string
	IsNewUser   bool
	Linked      bool
	Provider    string
	Profile     *Profile
	RedirectURL string
}

// BeginAuthOption configures the auth initiation.
type BeginAuthOption func(*beginAuthConfig)

type beginAuthConfig struct {
	action      string
	redirectURL string
	linkUserID  string
}

// ForAction sets the auth action (login, signup, link).
func ForAction(action string) BeginAuthOption {
	return func(c *beginAuthConfig) {
		c.action = action
	}
}

// WithRedirectURL sets the post-auth redirect URL.
func WithRedirectURL(url string) BeginAuthOption {
	return func(c *beginAuthConfig) {
		c.redirectURL = url
	}
}

// ForLinkingUser sets the user ID for account linking.
func ForLinkingUser(userID string) BeginAuthOption {
	return func(c *beginAuthConfig) {
		c.linkUserID = userID
		c.action = ActionLink
	}
}

func ensureIdentityActive(identity auth.Identity) error {
	if identity == nil {
		return auth.ErrInvalidCredentials
	}

	switch identity.Status() {
	case auth.UserStatusSuspended:
		return auth.ErrAccountSuspended
	case auth.UserStatusDeactivated:
		return auth.ErrAccountDeactivated
	default:
		return nil
	}
}

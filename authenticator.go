package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
)

// Auther is the password login orchestrator. The checks in Login run in a
// fixed order so an attacker cannot learn more from a later check than an
// earlier one would reveal.
type Auther struct {
	repo             RepositoryManager
	hasher           *Hasher
	maxLoginAttempts int
	lockoutDuration  time.Duration
	logger           Logger
	tokenService     TokenService
	tokenValidator   TokenValidator
	activitySink     ActivitySink
	now              func() time.Time
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator backed by the given
// repository manager.
func NewAuthenticator(repo RepositoryManager, cfg Config) *Auther {
	maxAttempts := cfg.GetMaxLoginAttempts()
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}

	lockout := cfg.GetLockoutDuration()
	if lockout <= 0 {
		lockout = DefaultLockoutDuration
	}

	return &Auther{
		repo:             repo,
		hasher:           NewHasher(cfg.GetBcryptCost()),
		maxLoginAttempts: maxAttempts,
		lockoutDuration:  lockout,
		logger:           defLogger{},
		tokenService:     NewTokenService(cfg, defLogger{}),
		activitySink:     noopActivitySink{},
		now:              time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService replaces the token service built from configuration.
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// WithTokenValidator sets a custom token validator for externally issued tokens.
func (s *Auther) WithTokenValidator(validator TokenValidator) *Auther {
	s.tokenValidator = validator
	return s
}

// WithClock injects a custom clock, useful for tests.
func (s *Auther) WithClock(clock func() time.Time) *Auther {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login evaluates one credential presentation. Order of checks, strictly:
// account existence, lockout, account status, password, email verification.
// Unknown emails burn a dummy hash comparison so the response time does not
// reveal whether the account exists, and the response body collapses
// unknown-email and wrong-password into the same error.
func (s *Auther) Login(ctx context.Context, creds LoginAttempt) (string, error) {
	now := s.now()

	user, err := s.repo.Users().GetByEmail(ctx, creds.Email)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			return "", err
		}
		user = nil
	}

	if user == nil || user.DeletedAt != nil {
		s.hasher.VerifyDummy(creds.Password)
		s.recordLogin(ctx, nil, creds, false, "account_not_found", nil)
		return "", ErrInvalidCredentials
	}

	user.EnsureStatus()

	if user.IsLocked(now) {
		remaining := user.LockRemaining(now)
		s.recordLogin(ctx, user, creds, false, "account_locked", map[string]any{
			"lock_remaining_seconds": int(remaining.Seconds()),
		})
		return "", ErrAccountLocked.WithMetadata(map[string]any{
			"retry_after": remaining.Round(time.Second).String(),
		})
	}

	if err := statusAuthError(user.Status); err != nil {
		s.recordLogin(ctx, user, creds, false, "account_"+user.Status, nil)
		return "", err
	}

	if err := s.hasher.ComparePasswordAndHash(creds.Password, user.PasswordHash); err != nil {
		return "", s.handlePasswordFailure(ctx, user, creds, now)
	}

	if !user.EmailVerified {
		s.recordLogin(ctx, user, creds, false, "email_not_verified", nil)
		return "", ErrEmailNotVerified
	}

	updated, err := s.repo.Users().TrackSuccessfulLogin(ctx, user.ID, now, creds.IPAddress)
	if err != nil {
		s.logger.Error("Login failed to record successful attempt", "error", err)
		return "", err
	}

	token, err := s.tokenService.Issue(IdentityFromUser(updated), creds.ExtendedSession)
	if err != nil {
		s.logger.Error("Login failed to issue token", "error", err)
		return "", err
	}

	s.recordLogin(ctx, updated, creds, true, "", map[string]any{
		"extended": creds.ExtendedSession,
	})

	return token, nil
}

// handlePasswordFailure bumps the failure counter atomically and applies
// the lockout when the attempt crosses the threshold. The crossing attempt
// itself still reports invalid credentials; the lock surfaces on the next.
func (s *Auther) handlePasswordFailure(ctx context.Context, user *User, creds LoginAttempt, now time.Time) error {
	lockUntil := now.Add(s.lockoutDuration)

	updated, err := s.repo.Users().IncrementFailedLogin(ctx, user.ID, s.maxLoginAttempts, lockUntil)
	if err != nil {
		s.logger.Error("Login failed to increment failure counter", "error", err)
		s.recordLogin(ctx, user, creds, false, "invalid_password", nil)
		return ErrInvalidCredentials
	}

	s.recordLogin(ctx, updated, creds, false, "invalid_password", map[string]any{
		"failed_login_count": updated.FailedLoginCount,
	})

	if updated.IsLocked(now) {
		s.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventAccountLockout,
			UserID:    updated.ID.String(),
			IPAddress: creds.IPAddress,
			UserAgent: creds.UserAgent,
			Success:   true,
			Metadata: map[string]any{
				"locked_until": updated.LockedUntil,
			},
		})
	}

	return ErrInvalidCredentials
}

// SessionFromToken validates a raw token and returns its claims. This is
// the stateless check: no store access, so revocation watermarks are not
// consulted here. Use IdentityFromClaims when freshness matters.
func (s *Auther) SessionFromToken(raw string) (*Claims, error) {
	validator := s.tokenValidator
	if validator == nil {
		validator = s.tokenService
	}

	claims, err := validator.Validate(raw)
	if err != nil {
		s.logger.Debug("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	return claims, nil
}

// IdentityFromClaims resolves claims back to a live identity. It re-reads
// the store, re-checks account status and lockout, and rejects tokens
// issued before the account's session watermark.
func (s *Auther) IdentityFromClaims(ctx context.Context, claims *Claims) (Identity, error) {
	if claims == nil {
		return nil, ErrTokenMissing
	}

	id, err := claims.UserUUID()
	if err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := s.repo.Users().GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	user.EnsureStatus()

	if err := statusAuthError(user.Status); err != nil {
		return nil, err
	}

	now := s.now()
	if user.IsLocked(now) {
		return nil, ErrAccountLocked.WithMetadata(map[string]any{
			"retry_after": user.LockRemaining(now).Round(time.Second).String(),
		})
	}

	if user.SessionsAfter != nil && claims.IssuedBefore(*user.SessionsAfter) {
		return nil, ErrSessionRevoked
	}

	return IdentityFromUser(user), nil
}

func (s *Auther) recordLogin(ctx context.Context, user *User, creds LoginAttempt, success bool, reason string, metadata map[string]any) {
	eventType := ActivityEventLoginFail
	if success {
		eventType = ActivityEventLoginSuccess
	}

	event := ActivityEvent{
		EventType:     eventType,
		IPAddress:     creds.IPAddress,
		UserAgent:     creds.UserAgent,
		Success:       success,
		FailureReason: reason,
		Metadata:      metadata,
	}

	if user != nil {
		event.UserID = user.ID.String()
	}

	s.emitEvent(ctx, event)
}

func (s *Auther) emitEvent(ctx context.Context, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	sink := normalizeActivitySink(s.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

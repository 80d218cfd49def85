package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated identity. It is a
// read-only projection of the User record shared by every consumer, so no
// layer needs to cast ad-hoc session objects.
type Identity interface {
	ID() string
	Email() string
	Name() string
	Tier() SubscriptionTier
	Status() UserStatus
	TrialExpiresAt() *time.Time
}

// Authenticator holds methods to deal with authentication
type Authenticator interface {
	Login(ctx context.Context, creds LoginAttempt) (string, error)
	SessionFromToken(token string) (*Claims, error)
	IdentityFromClaims(ctx context.Context, claims *Claims) (Identity, error)
}

// LoginAttempt carries a single credential presentation plus the request
// metadata the audit log wants.
type LoginAttempt struct {
	Email           string
	Password        string
	ExtendedSession bool
	IPAddress       string
	UserAgent       string
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	// GetTokenDuration is the lifetime of a standard session token.
	GetTokenDuration() time.Duration
	// GetExtendedTokenDuration is the lifetime of a "remember me" session.
	GetExtendedTokenDuration() time.Duration
	GetBcryptCost() int
	GetMaxLoginAttempts() int
	GetLockoutDuration() time.Duration
	GetVerificationTokenTTL() time.Duration
	GetResetTokenTTL() time.Duration
	// GetResetRequestLimit caps reset-token requests per email per window.
	GetResetRequestLimit() int
	GetResetRequestWindow() time.Duration
}

// SimpleConfig is a plain-struct Config for callers that do not bring
// their own configuration layer.
type SimpleConfig struct {
	SigningKey            string
	Issuer                string
	Audience              []string
	TokenDuration         time.Duration
	ExtendedTokenDuration time.Duration
	BcryptCost            int
	MaxLoginAttempts      int
	LockoutDuration       time.Duration
	VerificationTokenTTL  time.Duration
	ResetTokenTTL         time.Duration
	ResetRequestLimit     int
	ResetRequestWindow    time.Duration
}

func (c SimpleConfig) GetSigningKey() string    { return c.SigningKey }
func (c SimpleConfig) GetIssuer() string        { return c.Issuer }
func (c SimpleConfig) GetAudience() []string    { return c.Audience }
func (c SimpleConfig) GetBcryptCost() int       { return c.BcryptCost }
func (c SimpleConfig) GetMaxLoginAttempts() int { return c.MaxLoginAttempts }

func (c SimpleConfig) GetTokenDuration() time.Duration         { return c.TokenDuration }
func (c SimpleConfig) GetExtendedTokenDuration() time.Duration { return c.ExtendedTokenDuration }
func (c SimpleConfig) GetLockoutDuration() time.Duration       { return c.LockoutDuration }
func (c SimpleConfig) GetVerificationTokenTTL() time.Duration  { return c.VerificationTokenTTL }
func (c SimpleConfig) GetResetTokenTTL() time.Duration         { return c.ResetTokenTTL }
func (c SimpleConfig) GetResetRequestLimit() int               { return c.ResetRequestLimit }
func (c SimpleConfig) GetResetRequestWindow() time.Duration    { return c.ResetRequestWindow }

// Defaults used when a Config method returns its zero value. The lifetimes
// and lockout knobs are configuration constants, never caller-supplied.
const (
	DefaultTokenDuration         = 72 * time.Hour
	DefaultExtendedTokenDuration = 30 * 24 * time.Hour
	DefaultBcryptCost            = 12
	DefaultMaxLoginAttempts      = 5
	DefaultLockoutDuration       = 30 * time.Minute
	DefaultVerificationTokenTTL  = 24 * time.Hour
	DefaultResetTokenTTL         = time.Hour
	DefaultResetRequestLimit     = 3
	DefaultResetRequestWindow    = time.Hour
)

// Mailer is the outbound email collaborator. Calls are fire-and-forget
// from this package's perspective: a send failure is logged, never allowed
// to fail the operation that triggered it.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, user *User, token string) error
	SendPasswordResetEmail(ctx context.Context, user *User, token string) error
}

type noopMailer struct{}

func (noopMailer) SendVerificationEmail(context.Context, *User, string) error  { return nil }
func (noopMailer) SendPasswordResetEmail(context.Context, *User, string) error { return nil }

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

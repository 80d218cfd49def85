package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus is the persistent lifecycle state of an account. The locked
// condition is not a status: it is derived from LockedUntil and can only
// co-occur with an active account.
type UserStatus = string

const (
	// UserStatusPending is a registered account with an unverified email
	UserStatusPending UserStatus = "pending"
	// UserStatusActive is a fully usable account
	UserStatusActive UserStatus = "active"
	// UserStatusSuspended is an account frozen by a moderation action
	UserStatusSuspended UserStatus = "suspended"
	// UserStatusDeactivated is an account switched off by the user or an admin
	UserStatusDeactivated UserStatus = "deactivated"
)

// SubscriptionTier labels the plan an account is on. Trial is a parallel
// track, not the bottom of a hierarchy; see the tier gate.
type SubscriptionTier = string

const (
	TierTrial      SubscriptionTier = "trial"
	TierFree       SubscriptionTier = "free"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
)

// User is the identity record
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email            string           `bun:"email,notnull,unique" json:"email,omitempty"`
	FullName         string           `bun:"full_name" json:"full_name,omitempty"`
	PasswordHash     string           `bun:"password_hash" json:"-"`
	EmailVerified    bool             `bun:"email_verified" json:"email_verified,omitempty"`
	VerifiedAt       *time.Time       `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	Status           UserStatus       `bun:"status,notnull" json:"status,omitempty"`
	Tier             SubscriptionTier `bun:"subscription_tier,notnull" json:"subscription_tier,omitempty"`
	TrialExpiresAt   *time.Time       `bun:"trial_expires_at,nullzero" json:"trial_expires_at,omitempty"`
	FailedLoginCount int              `bun:"failed_login_count" json:"failed_login_count,omitempty"`
	LockedUntil      *time.Time       `bun:"locked_until,nullzero" json:"locked_until,omitempty"`
	LastLoginAt      *time.Time       `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	LastLoginIP      string           `bun:"last_login_ip" json:"last_login_ip,omitempty"`
	SuspendedAt      *time.Time       `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	SessionsAfter    *time.Time       `bun:"sessions_valid_after,nullzero" json:"sessions_valid_after,omitempty"`
	CreatedAt        *time.Time       `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time       `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt        *time.Time       `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus backfills the zero value for records created before the
// status column existed.
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusActive
	}
}

// EnsureTier backfills the zero value for records predating tiers.
func (u *User) EnsureTier() {
	if u.Tier == "" {
		u.Tier = TierFree
	}
}

// IsLocked reports whether the transient lockout condition holds at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LockRemaining returns how long the lockout has left at now, zero if unlocked.
func (u *User) LockRemaining(now time.Time) time.Duration {
	if !u.IsLocked(now) {
		return 0
	}
	return u.LockedUntil.Sub(now)
}

// TrialExpired reports whether a trial account ran out. Non-trial tiers
// never expire here.
func (u *User) TrialExpired(now time.Time) bool {
	if u.Tier != TierTrial {
		return false
	}
	return u.TrialExpiresAt != nil && !now.Before(*u.TrialExpiresAt)
}

// NormalizeEmail lowercases and trims an email so uniqueness is
// case-insensitive at the application boundary.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OAuthProvider names a supported federation provider.
type OAuthProvider = string

const (
	ProviderGoogle    OAuthProvider = "google"
	ProviderMicrosoft OAuthProvider = "microsoft"
)

// OAuthLink joins a local user to one external identity. The pair
// (provider, provider_user_id) is globally unique: an external identity
// maps to at most one local account.
type OAuthLink struct {
	bun.BaseModel  `bun:"table:oauth_links,alias:oal"`
	ID             uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID     `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User           *User         `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Provider       OAuthProvider `bun:"provider,notnull,unique:provider_identity" json:"provider,omitempty"`
	ProviderUserID string        `bun:"provider_user_id,notnull,unique:provider_identity" json:"provider_user_id,omitempty"`
	ProviderEmail  string        `bun:"provider_email" json:"provider_email,omitempty"`
	AccessToken    string        `bun:"access_token" json:"-"`
	RefreshToken   string        `bun:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time    `bun:"token_expires_at,nullzero" json:"token_expires_at,omitempty"`
	CreatedAt      *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// TokenPurpose discriminates the two single-use credential kinds. They
// share every attribute, so they share a table.
type TokenPurpose = string

const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailVerification TokenPurpose = "email_verification"
)

// ActionToken is a single-use, time-limited credential for email
// verification or password reset. A token that is used or past its expiry
// must never grant access.
type ActionToken struct {
	bun.BaseModel `bun:"table:action_tokens,alias:att"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string       `bun:"token,notnull,unique" json:"-"`
	UserID        uuid.UUID    `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User        `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	Email         string       `bun:"email,notnull" json:"email,omitempty"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	Used          bool         `bun:"used,notnull" json:"used,omitempty"`
	UsedAt        *time.Time   `bun:"used_at,nullzero" json:"used_at,omitempty"`
	RequestIP     string       `bun:"request_ip" json:"request_ip,omitempty"`
	UserAgent     string       `bun:"user_agent" json:"user_agent,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Fresh reports whether the token can still be consumed at now. Expiry is
// exclusive: a token expiring exactly now is already expired.
func (t *ActionToken) Fresh(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// AuthLog is one append-only audit row. Rows are immutable once written;
// retention is enforced by an external purge job. Email is recorded for
// events that happen before an account is resolved, such as reset
// requests, where user_id cannot be known yet.
type AuthLog struct {
	bun.BaseModel `bun:"table:auth_logs,alias:alg"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,nullzero,type:uuid" json:"user_id,omitempty"`
	Email         string     `bun:"email" json:"email,omitempty"`
	EventType     string     `bun:"event_type,notnull" json:"event_type,omitempty"`
	IPAddress     string     `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent     string     `bun:"user_agent" json:"user_agent,omitempty"`
	Success       bool       `bun:"success,notnull" json:"success"`
	FailureReason string     `bun:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

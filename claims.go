package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the decoded payload of a session token: identity, a
// subscription tier snapshot, and expiry. The tier is a point-in-time
// cache, not authority. Privilege decisions that can reach the store
// must re-read it (see TierGate).
type Claims struct {
	jwt.RegisteredClaims
	UID      string           `json:"uid,omitempty"`
	Email    string           `json:"email,omitempty"`
	Name     string           `json:"name,omitempty"`
	UserTier SubscriptionTier `json:"tier,omitempty"`
	Extended bool             `json:"ext,omitempty"`
}

// UserID returns the subject user id.
func (c *Claims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// UserUUID parses the subject user id.
func (c *Claims) UserUUID() (uuid.UUID, error) {
	return uuid.Parse(c.UserID())
}

// Tier returns the tier snapshot carried by the token.
func (c *Claims) Tier() SubscriptionTier {
	if c.UserTier == "" {
		return TierFree
	}
	return c.UserTier
}

// Expires returns the expiration time, zero if absent.
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issue time, zero if absent.
func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// IssuedBefore reports whether the token predates the given watermark,
// treating a missing iat as infinitely old.
func (c *Claims) IssuedBefore(t time.Time) bool {
	issued := c.IssuedAt()
	if issued.IsZero() {
		return true
	}
	return issued.Before(t)
}

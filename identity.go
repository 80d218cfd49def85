package auth

import "time"

// userIdentity projects a User record onto the Identity interface.
type userIdentity struct {
	user *User
}

// IdentityFromUser wraps a User record as an Identity.
func IdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	user.EnsureStatus()
	user.EnsureTier()
	return &userIdentity{user: user}
}

func (i *userIdentity) ID() string    { return i.user.ID.String() }
func (i *userIdentity) Email() string { return i.user.Email }
func (i *userIdentity) Name() string  { return i.user.FullName }

func (i *userIdentity) Tier() SubscriptionTier { return i.user.Tier }
func (i *userIdentity) Status() UserStatus     { return i.user.Status }

func (i *userIdentity) TrialExpiresAt() *time.Time { return i.user.TrialExpiresAt }

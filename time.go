package auth

import "time"

// TrialCountdown returns how long a trial account has left at now. Zero
// for expired trials and for accounts with no trial window at all.
func TrialCountdown(user *User, now time.Time) time.Duration {
	if user == nil || user.Tier != TierTrial || user.TrialExpiresAt == nil {
		return 0
	}

	remaining := user.TrialExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

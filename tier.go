package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
)

// TierSet is an allow-list of subscription tiers. Access control is plain
// set membership: a route names the tiers it admits, nothing is inferred
// from ordering.
type TierSet map[SubscriptionTier]struct{}

// NewTierSet builds a set from the given tiers.
func NewTierSet(tiers ...SubscriptionTier) TierSet {
	set := make(TierSet, len(tiers))
	for _, tier := range tiers {
		if tier != "" {
			set[tier] = struct{}{}
		}
	}
	return set
}

// Contains reports membership.
func (s TierSet) Contains(tier SubscriptionTier) bool {
	_, ok := s[tier]
	return ok
}

// Tiers returns the members in rank order, useful for error metadata.
func (s TierSet) Tiers() []SubscriptionTier {
	ordered := []SubscriptionTier{TierTrial, TierFree, TierPro, TierEnterprise}
	out := make([]SubscriptionTier, 0, len(s))
	for _, tier := range ordered {
		if s.Contains(tier) {
			out = append(out, tier)
		}
	}
	return out
}

// paidRank orders the paid ladder for TierAtLeast. Trial sits outside the
// ladder: it is a parallel track with its own expiry rule, not a rung.
var paidRank = map[SubscriptionTier]int{
	TierFree:       0,
	TierPro:        1,
	TierEnterprise: 2,
}

// TierAtLeast expands a minimum paid tier into the TierSet of that tier and
// everything above it. Trial accounts are included whenever free accounts
// are: an unexpired trial mirrors free access.
func TierAtLeast(minimum SubscriptionTier) TierSet {
	floor, ok := paidRank[minimum]
	if !ok {
		return NewTierSet(minimum)
	}

	set := TierSet{}
	for tier, rank := range paidRank {
		if rank >= floor {
			set[tier] = struct{}{}
		}
	}
	if floor == 0 {
		set[TierTrial] = struct{}{}
	}
	return set
}

// TierGate authorizes feature access by subscription tier. It never trusts
// the tier snapshot inside the token: every decision re-reads the account,
// so an upgrade or downgrade takes effect on the next request.
type TierGate struct {
	repo              RepositoryManager
	logger            Logger
	now               func() time.Time
	allowExpiredTrial bool
}

// NewTierGate creates a gate backed by the repository manager.
func NewTierGate(repo RepositoryManager) *TierGate {
	return &TierGate{
		repo:   repo,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (g *TierGate) WithLogger(logger Logger) *TierGate {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithClock injects a custom clock, useful for tests.
func (g *TierGate) WithClock(clock func() time.Time) *TierGate {
	if clock != nil {
		g.now = clock
	}
	return g
}

// WithAllowExpiredTrial lets expired trials through the membership check.
// Routes that must stay reachable after expiry, such as billing and data
// export, opt in with this.
func (g *TierGate) WithAllowExpiredTrial(allow bool) *TierGate {
	g.allowExpiredTrial = allow
	return g
}

// Authorize resolves the claims to a live account and answers whether it
// may use a feature restricted to the allowed tiers. Expired trials are
// denied with a distinct error even when trial is in the allowed set.
func (g *TierGate) Authorize(ctx context.Context, claims *Claims, allowed TierSet) (Identity, error) {
	if claims == nil {
		return nil, ErrTokenMissing
	}

	id, err := claims.UserUUID()
	if err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := g.repo.Users().GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	user.EnsureStatus()
	user.EnsureTier()

	now := g.now()

	if err := statusAuthError(user.Status); err != nil {
		return nil, err
	}

	if user.IsLocked(now) {
		return nil, ErrAccountLocked.WithMetadata(map[string]any{
			"retry_after": user.LockRemaining(now).Round(time.Second).String(),
		})
	}

	if user.SessionsAfter != nil && claims.IssuedBefore(*user.SessionsAfter) {
		return nil, ErrSessionRevoked
	}

	if user.TrialExpired(now) && !g.allowExpiredTrial {
		return nil, ErrTrialExpired.WithMetadata(map[string]any{
			"trial_expired_at": user.TrialExpiresAt,
		})
	}

	if !allowed.Contains(user.Tier) {
		meta := map[string]any{
			"current_tier":  user.Tier,
			"allowed_tiers": allowed.Tiers(),
		}
		if remaining := TrialCountdown(user, now); remaining > 0 {
			meta["trial_remaining"] = remaining.Round(time.Second).String()
		}
		return nil, ErrUpgradeRequired.WithMetadata(meta)
	}

	return IdentityFromUser(user), nil
}

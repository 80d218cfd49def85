package auth

import "github.com/goliatone/go-errors"

// Stable machine-readable codes surfaced to calling layers. Clients and
// the audit trail key off these, never off message text.
const (
	TextCodeTokenMissing       = "TOKEN_MISSING"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeInvalidSignature   = "INVALID_SIGNATURE"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeAccountLocked      = "ACCOUNT_LOCKED"
	TextCodeAccountDeactivated = "ACCOUNT_DEACTIVATED"
	TextCodeAccountSuspended   = "ACCOUNT_SUSPENDED"
	TextCodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodeWeakPassword       = "WEAK_PASSWORD"
	TextCodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	TextCodeResetRateLimited   = "RESET_RATE_LIMITED"
	TextCodeTrialExpired       = "TRIAL_EXPIRED"
	TextCodeUpgradeRequired    = "UPGRADE_REQUIRED"
	TextCodeSessionRevoked     = "SESSION_REVOKED"
)

// ErrTokenMissing is returned when no token was presented at all.
var ErrTokenMissing = errors.New("authentication token missing", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMissing).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for structurally invalid tokens. Decoded
// fragments of a malformed token are never trusted.
var ErrTokenMalformed = errors.New("authentication token malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidSignature is returned when signature verification fails.
var ErrInvalidSignature = errors.New("authentication token signature invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignature).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for tokens whose expiry is at or before now.
var ErrTokenExpired = errors.New("authentication token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidCredentials collapses wrong-password and unknown-account so the
// response cannot be used to enumerate emails. The audit log keeps the
// precise reason.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrAccountLocked is returned while the lockout window is open.
var ErrAccountLocked = errors.New("account temporarily locked", errors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(errors.CodeForbidden)

// ErrAccountDeactivated is returned for deactivated accounts regardless of
// credential correctness.
var ErrAccountDeactivated = errors.New("account deactivated", errors.CategoryAuth).
	WithTextCode(TextCodeAccountDeactivated).
	WithCode(errors.CodeForbidden)

// ErrAccountSuspended is returned for suspended accounts.
var ErrAccountSuspended = errors.New("account suspended", errors.CategoryAuth).
	WithTextCode(TextCodeAccountSuspended).
	WithCode(errors.CodeForbidden)

// ErrEmailNotVerified is only surfaced after the password checked out, so
// it cannot leak verification status to a guesser.
var ErrEmailNotVerified = errors.New("email address not verified", errors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(errors.CodeForbidden)

// ErrEmailTaken is returned when registering a duplicate email.
var ErrEmailTaken = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(errors.CodeConflict)

// ErrWeakPassword is returned when the server-side strength check fails.
var ErrWeakPassword = errors.New("password does not meet strength requirements", errors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(errors.CodeBadRequest)

// ErrTokenAlreadyUsed is returned when consuming a spent or expired
// single-use token. Both cases look identical to the caller.
var ErrTokenAlreadyUsed = errors.New("token invalid, expired, or already used", errors.CategoryConflict).
	WithTextCode(TextCodeTokenAlreadyUsed).
	WithCode(errors.CodeConflict)

// ErrResetRateLimited is returned after too many reset requests for one
// email. It is generic on purpose: it holds whether or not the email exists.
var ErrResetRateLimited = errors.New("too many password reset requests", errors.CategoryRateLimit).
	WithTextCode(TextCodeResetRateLimited)

// ErrTrialExpired is the tier-gate denial for an expired trial. Distinct
// from ErrUpgradeRequired so clients can render the right prompt.
var ErrTrialExpired = errors.New("trial period has expired", errors.CategoryAuthz).
	WithTextCode(TextCodeTrialExpired).
	WithCode(errors.CodeForbidden)

// ErrUpgradeRequired is the tier-gate denial when the caller's tier is not
// in the route's allowed set.
var ErrUpgradeRequired = errors.New("subscription tier does not allow this feature", errors.CategoryAuthz).
	WithTextCode(TextCodeUpgradeRequired).
	WithCode(errors.CodeForbidden)

// ErrSessionRevoked is returned when a token predates the account's
// sessions_valid_after watermark (e.g. after a password reset).
var ErrSessionRevoked = errors.New("session has been revoked", errors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(errors.CodeUnauthorized)

// statusAuthError maps a persistent account status to the error a login or
// gate check must return, nil for statuses that may proceed.
func statusAuthError(status UserStatus) error {
	switch status {
	case UserStatusDeactivated:
		return ErrAccountDeactivated
	case UserStatusSuspended:
		return ErrAccountSuspended
	default:
		return nil
	}
}

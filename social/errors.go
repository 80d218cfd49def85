package social

import "github.com/goliatone/go-errors"

const (
	TextCodeProviderNotFound = "OAUTH_PROVIDER_NOT_FOUND"
	TextCodeStateMismatch    = "OAUTH_STATE_MISMATCH"
	TextCodeStateExpired     = "OAUTH_STATE_EXPIRED"
	TextCodeExchangeFailed   = "OAUTH_EXCHANGE_FAILED"
	TextCodeProfileFailed    = "OAUTH_PROFILE_FAILED"
	TextCodeEmailUnverified  = "OAUTH_EMAIL_UNVERIFIED"
	TextCodeLinkingDisabled  = "OAUTH_LINKING_DISABLED"
	TextCodeSignupDisabled   = "OAUTH_SIGNUP_DISABLED"
	TextCodeLastAuthMethod   = "OAUTH_LAST_AUTH_METHOD"
)

// ErrProviderNotFound is returned when a requested provider is not configured.
var ErrProviderNotFound = errors.New("oauth provider not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProviderNotFound).
	WithCode(errors.CodeNotFound)

// ErrStateMismatch is returned when the OAuth state fails verification. The
// code exchange never runs after a state failure.
var ErrStateMismatch = errors.New("oauth state invalid or tampered", errors.CategoryBadInput).
	WithTextCode(TextCodeStateMismatch).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when the OAuth state outlived its window.
var ErrStateExpired = errors.New("oauth state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)

// ErrExchangeFailed is returned when a provider code exchange fails. Raw
// provider text rides in metadata, never in the message.
var ErrExchangeFailed = errors.New("oauth code exchange failed", errors.CategoryAuth).
	WithTextCode(TextCodeExchangeFailed).
	WithCode(errors.CodeUnauthorized)

// ErrProfileFailed is returned when fetching the provider profile fails.
var ErrProfileFailed = errors.New("failed to fetch provider profile", errors.CategoryAuth).
	WithTextCode(TextCodeProfileFailed).
	WithCode(errors.CodeUnauthorized)

// ErrEmailUnverified is returned when the provider email is not verified
// and the flow requires it.
var ErrEmailUnverified = errors.New("provider email not verified", errors.CategoryAuth).
	WithTextCode(TextCodeEmailUnverified).
	WithCode(errors.CodeForbidden)

// ErrLinkingNotAllowed is returned when account linking is disabled.
var ErrLinkingNotAllowed = errors.New("account linking not allowed", errors.CategoryAuth).
	WithTextCode(TextCodeLinkingDisabled).
	WithCode(errors.CodeForbidden)

// ErrSignupNotAllowed is returned when a flow would create an account but
// signup is disabled.
var ErrSignupNotAllowed = errors.New("signup via provider not allowed", errors.CategoryAuth).
	WithTextCode(TextCodeSignupDisabled).
	WithCode(errors.CodeForbidden)

// ErrLastAuthMethod is returned when unlinking would strand the account
// with no way to sign in.
var ErrLastAuthMethod = errors.New("cannot unlink last authentication method", errors.CategoryValidation).
	WithTextCode(TextCodeLastAuthMethod).
	WithCode(errors.CodeBadRequest)

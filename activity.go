package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates auditable events. Values are stored
// verbatim in AuthLog.event_type.
type ActivityEventType string

const (
	ActivityEventLoginSuccess          ActivityEventType = "login_success"
	ActivityEventLoginFail             ActivityEventType = "login_fail"
	ActivityEventLogout                ActivityEventType = "logout"
	ActivityEventPasswordResetRequest  ActivityEventType = "password_reset_request"
	ActivityEventPasswordResetComplete ActivityEventType = "password_reset_complete"
	ActivityEventPasswordChange        ActivityEventType = "password_change"
	ActivityEventEmailVerification     ActivityEventType = "email_verification"
	ActivityEventVerificationResend    ActivityEventType = "email_verification_resend"
	ActivityEventAccountLockout        ActivityEventType = "account_lockout"
	ActivityEventAccountUnlock         ActivityEventType = "account_unlock"
	ActivityEventOAuthLogin            ActivityEventType = "oauth_login"
	ActivityEventOAuthLink             ActivityEventType = "oauth_link"
	ActivityEventOAuthUnlink           ActivityEventType = "oauth_unlink"
	ActivityEventRegistration          ActivityEventType = "registration"
	ActivityEventAccountDeactivate     ActivityEventType = "account_deactivate"
	ActivityEventAccountReactivate     ActivityEventType = "account_reactivate"
	ActivityEventAccountSuspend        ActivityEventType = "account_suspend"
)

// ActivityEvent captures audit-friendly information about one action.
// UserID stays empty for failed logins against nonexistent emails; the
// attempt is still recorded.
type ActivityEvent struct {
	EventType     ActivityEventType
	UserID        string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]any
	OccurredAt    time.Time
}

// ActivitySink consumes activity events for auditing. The core never reads
// events back; lockout counting uses the User record's own counter.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

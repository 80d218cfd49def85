package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type ResendVerificationMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
	OnResponse func(resp *ResendVerificationResponse)
}

func (p ResendVerificationMessage) Type() string { return "user.verification_resend" }

func (p ResendVerificationMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

type ResendVerificationResponse struct {
	Success bool
}

// ResendVerificationHandler reissues the email verification token. Like
// reset initialization, it reports success whether or not the email maps
// to an unverified account.
type ResendVerificationHandler struct {
	repo            RepositoryManager
	mailer          Mailer
	logger          Logger
	activitySink    ActivitySink
	verificationTTL time.Duration
	now             func() time.Time
}

func NewResendVerificationHandler(repo RepositoryManager, cfg Config) *ResendVerificationHandler {
	ttl := cfg.GetVerificationTokenTTL()
	if ttl <= 0 {
		ttl = DefaultVerificationTokenTTL
	}

	return &ResendVerificationHandler{
		repo:            repo,
		mailer:          noopMailer{},
		logger:          defLogger{},
		activitySink:    noopActivitySink{},
		verificationTTL: ttl,
		now:             time.Now,
	}
}

func (h *ResendVerificationHandler) WithMailer(mailer Mailer) *ResendVerificationHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

func (h *ResendVerificationHandler) WithLogger(logger Logger) *ResendVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ResendVerificationHandler) WithActivitySink(sink ActivitySink) *ResendVerificationHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *ResendVerificationHandler) WithClock(clock func() time.Time) *ResendVerificationHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification resend",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid verification resend payload")
	}

	now := h.now()
	resp := &ResendVerificationResponse{}

	var user *User
	var tokenValue string

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				user = nil
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for verification resend")
		}

		// nothing to resend for verified or retired accounts
		if user.EmailVerified || user.DeletedAt != nil || user.Status == UserStatusDeactivated {
			user = nil
			return nil
		}

		tokenValue, err = MintActionToken()
		if err != nil {
			return err
		}

		_, err = h.repo.ActionTokens().IssueTx(ctx, tx, &ActionToken{
			Token:     tokenValue,
			UserID:    user.ID,
			Purpose:   PurposeEmailVerification,
			Email:     user.Email,
			ExpiresAt: now.Add(h.verificationTTL),
			RequestIP: event.IPAddress,
			UserAgent: event.UserAgent,
		})
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reissue verification token")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resend verification")
	}

	if user != nil {
		target := user
		token := tokenValue
		go func() {
			mailer := normalizeMailer(h.mailer)
			if err := mailer.SendVerificationEmail(context.WithoutCancel(ctx), target, token); err != nil {
				h.logger.Warn("verification email send failed", "error", err)
			}
		}()

		h.recordResend(ctx, user, event)
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *ResendVerificationHandler) recordResend(ctx context.Context, user *User, event ResendVerificationMessage) {
	sink := normalizeActivitySink(h.activitySink)
	err := sink.Record(ctx, ActivityEvent{
		EventType:  ActivityEventVerificationResend,
		UserID:     user.ID.String(),
		IPAddress:  event.IPAddress,
		UserAgent:  event.UserAgent,
		Success:    true,
		OccurredAt: h.now(),
	})
	if err != nil {
		h.logger.Warn("activity sink record error: %v", err)
	}
}

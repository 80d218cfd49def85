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

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

// InitializePasswordResetResponse reports the same shape whether or not
// the email matched an account. Only Token differs, and it is for the
// mailer path, never for the HTTP response.
type InitializePasswordResetResponse struct {
	Success bool
}

// InitializePasswordResetHandler issues a reset token for an email. The
// outcome visible to the caller is identical for known and unknown emails.
type InitializePasswordResetHandler struct {
	repo          RepositoryManager
	mailer        Mailer
	logger        Logger
	resetTTL      time.Duration
	requestLimit  int
	requestWindow time.Duration
	now           func() time.Time
}

func NewInitializePasswordResetHandler(repo RepositoryManager, cfg Config) *InitializePasswordResetHandler {
	ttl := cfg.GetResetTokenTTL()
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}

	limit := cfg.GetResetRequestLimit()
	if limit <= 0 {
		limit = DefaultResetRequestLimit
	}

	window := cfg.GetResetRequestWindow()
	if window <= 0 {
		window = DefaultResetRequestWindow
	}

	return &InitializePasswordResetHandler{
		repo:          repo,
		mailer:        noopMailer{},
		logger:        defLogger{},
		resetTTL:      ttl,
		requestLimit:  limit,
		requestWindow: window,
		now:           time.Now,
	}
}

func (h *InitializePasswordResetHandler) WithMailer(mailer Mailer) *InitializePasswordResetHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *InitializePasswordResetHandler) WithClock(clock func() time.Time) *InitializePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid password reset payload")
	}

	now := h.now()
	email := NormalizeEmail(event.Email)

	// the limit counts request records, not issued tokens, and applies
	// before the account lookup: a nonexistent email trips it exactly like
	// a real one, so the limiter leaks nothing about account existence
	count, err := h.repo.AuthLogs().CountByEmailSince(ctx, email, string(ActivityEventPasswordResetRequest), now.Add(-h.requestWindow))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check reset request rate")
	}
	if count >= h.requestLimit {
		return ErrResetRateLimited
	}

	// the request row doubles as the rate-limit counter, so it is written
	// through the repository rather than the fire-and-forget sink, and
	// before the lookup so every caller leaves the same trace
	if _, err := h.repo.AuthLogs().Append(ctx, &AuthLog{
		EventType: string(ActivityEventPasswordResetRequest),
		Email:     email,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Success:   true,
		CreatedAt: &now,
	}); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record reset request")
	}

	resp := &InitializePasswordResetResponse{}

	var user *User
	var tokenValue string

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				user = nil
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		if user.DeletedAt != nil || user.Status == UserStatusDeactivated {
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
			Purpose:   PurposePasswordReset,
			Email:     user.Email,
			ExpiresAt: now.Add(h.resetTTL),
			RequestIP: event.IPAddress,
			UserAgent: event.UserAgent,
		})
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue reset token")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if user != nil {
		target := user
		token := tokenValue
		go func() {
			mailer := normalizeMailer(h.mailer)
			if err := mailer.SendPasswordResetEmail(context.WithoutCancel(ctx), target, token); err != nil {
				h.logger.Warn("password reset email send failed", "error", err)
			}
		}()
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

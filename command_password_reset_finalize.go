package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token      string `json:"token" doc:"Reset token from the email link."`
	Password   string `json:"password" doc:"Replacement password."`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
	OnResponse func(resp *FinalizePasswordResetResponse)
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset_finalize" }

func (p FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required),
		validation.Field(&p.Password, validation.Required),
	)
}

type FinalizePasswordResetResponse struct {
	User    *User
	Success bool
}

// FinalizePasswordResetHandler consumes a reset token and installs the
// replacement password. Completing a reset moves the account's session
// watermark, so every previously issued session token stops working.
type FinalizePasswordResetHandler struct {
	repo         RepositoryManager
	hasher       *Hasher
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

func NewFinalizePasswordResetHandler(repo RepositoryManager, cfg Config) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:         repo,
		hasher:       NewHasher(cfg.GetBcryptCost()),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *FinalizePasswordResetHandler) WithClock(clock func() time.Time) *FinalizePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid password reset payload")
	}

	if strength := ValidateStrength(event.Password); !strength.OK {
		return ErrWeakPassword.WithMetadata(map[string]any{
			"violations": strength.Violations,
		})
	}

	hash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		return err
	}

	now := h.now()
	resp := &FinalizePasswordResetResponse{}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		consumed, err := h.repo.ActionTokens().ConsumeTx(ctx, tx, event.Token, PurposePasswordReset, now)
		if err != nil {
			return err
		}

		user, err := h.repo.Users().SetPasswordTx(ctx, tx, consumed.UserID, hash, now)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
		}
		resp.User = user

		// consuming one token retires the rest of the batch too
		if err := h.repo.ActionTokens().VoidPendingTx(ctx, tx, consumed.UserID, PurposePasswordReset, now); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to void sibling reset tokens")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	h.recordComplete(ctx, resp.User, event)

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *FinalizePasswordResetHandler) recordComplete(ctx context.Context, user *User, event FinalizePasswordResetMessage) {
	sink := normalizeActivitySink(h.activitySink)
	err := sink.Record(ctx, ActivityEvent{
		EventType:  ActivityEventPasswordResetComplete,
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

package auth

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// DefaultTrialPeriod is how long a self-registered account stays on trial
// before trial_expires_at kicks in.
const DefaultTrialPeriod = 14 * 24 * time.Hour

type RegisterUserMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	Password   string `json:"password" doc:"Plaintext password, validated and hashed server side."`
	FullName   string `json:"full_name" example:"Pepe Rone" doc:"Display name."`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
	OnResponse func(resp *RegisterUserResponse)
}

func (p RegisterUserMessage) Type() string { return "user.register" }

func (p RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.FullName, validation.Required, validation.Length(1, 200)),
	)
}

type RegisterUserResponse struct {
	User    *User
	Success bool
}

// RegisterUserHandler creates a pending account and issues its email
// verification token.
type RegisterUserHandler struct {
	repo            RepositoryManager
	hasher          *Hasher
	mailer          Mailer
	logger          Logger
	activitySink    ActivitySink
	verificationTTL time.Duration
	trialPeriod     time.Duration
	now             func() time.Time
}

func NewRegisterUserHandler(repo RepositoryManager, cfg Config) *RegisterUserHandler {
	ttl := cfg.GetVerificationTokenTTL()
	if ttl <= 0 {
		ttl = DefaultVerificationTokenTTL
	}

	return &RegisterUserHandler{
		repo:            repo,
		hasher:          NewHasher(cfg.GetBcryptCost()),
		mailer:          noopMailer{},
		logger:          defLogger{},
		activitySink:    noopActivitySink{},
		verificationTTL: ttl,
		trialPeriod:     DefaultTrialPeriod,
		now:             time.Now,
	}
}

func (h *RegisterUserHandler) WithMailer(mailer Mailer) *RegisterUserHandler {
	h.mailer = normalizeMailer(mailer)
	return h
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

// WithTrialPeriod overrides the trial window applied to new accounts.
func (h *RegisterUserHandler) WithTrialPeriod(period time.Duration) *RegisterUserHandler {
	if period > 0 {
		h.trialPeriod = period
	}
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *RegisterUserHandler) WithClock(clock func() time.Time) *RegisterUserHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid registration payload")
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
	trialExpires := now.Add(h.trialPeriod)
	resp := &RegisterUserResponse{}

	var tokenValue string

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email); err == nil {
			return ErrEmailTaken
		} else if !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}

		user := &User{
			Email:          event.Email,
			FullName:       event.FullName,
			PasswordHash:   hash,
			Status:         UserStatusPending,
			Tier:           TierTrial,
			TrialExpiresAt: &trialExpires,
		}

		created, err := h.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			// a registration that lost the race past the availability check
			// comes back as ErrEmailTaken and must stay that way
			if errors.Is(err, ErrEmailTaken) {
				return err
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user record")
		}
		resp.User = created

		tokenValue, err = MintActionToken()
		if err != nil {
			return err
		}

		_, err = h.repo.ActionTokens().IssueTx(ctx, tx, &ActionToken{
			Token:     tokenValue,
			UserID:    created.ID,
			Purpose:   PurposeEmailVerification,
			Email:     created.Email,
			ExpiresAt: now.Add(h.verificationTTL),
			RequestIP: event.IPAddress,
			UserAgent: event.UserAgent,
		})
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue verification token")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to register user")
	}

	// send outside the transaction; a mail failure never unwinds the account
	go func() {
		mailer := normalizeMailer(h.mailer)
		if err := mailer.SendVerificationEmail(context.WithoutCancel(ctx), resp.User, tokenValue); err != nil {
			h.logger.Warn("verification email send failed", "error", err)
		}
	}()

	h.recordRegistration(ctx, resp.User, event)

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *RegisterUserHandler) recordRegistration(ctx context.Context, user *User, event RegisterUserMessage) {
	sink := normalizeActivitySink(h.activitySink)
	err := sink.Record(ctx, ActivityEvent{
		EventType:  ActivityEventRegistration,
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

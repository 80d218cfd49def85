package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IncrementFailedLoginSQL bumps the failure counter and applies the
// lockout in the same statement, so two near-simultaneous failures both
// count and only one crosses the threshold into a lock.
var IncrementFailedLoginSQL = `UPDATE "users" AS "usr"
SET
	"failed_login_count" = "failed_login_count" + 1,
	"locked_until" = CASE
		WHEN "failed_login_count" + 1 >= ? THEN ?
		ELSE "locked_until"
	END
WHERE
	"usr"."deleted_at" IS NULL
AND "usr"."id" = ?
RETURNING *;`

// TrackSuccessfulLoginSQL clears the failure state and stamps the login.
var TrackSuccessfulLoginSQL = `UPDATE "users" AS "usr"
SET
	"failed_login_count" = 0,
	"locked_until" = NULL,
	"last_login_at" = ?,
	"last_login_ip" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND "usr"."id" = ?
RETURNING *;`

// SetPasswordSQL swaps the digest and moves the session watermark so
// tokens issued before the change stop passing the gate.
var SetPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"sessions_valid_after" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND "usr"."id" = ?
RETURNING *;`

// MarkEmailVerifiedSQL flips verification and promotes pending accounts.
var MarkEmailVerifiedSQL = `UPDATE "users" AS "usr"
SET
	"email_verified" = TRUE,
	"verified_at" = ?,
	"status" = CASE WHEN "status" = 'pending' THEN 'active' ELSE "status" END
WHERE
	"usr"."deleted_at" IS NULL
AND "usr"."id" = ?
RETURNING *;`

type Users interface {
	repository.Repository[*User]

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	IncrementFailedLogin(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*User, error)
	IncrementFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, threshold int, lockUntil time.Time) (*User, error)
	TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) (*User, error)
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time, ip string) (*User, error)

	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) (*User, error)
	SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) (*User, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) (*User, error)
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (*User, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus, opts ...StatusUpdateOption) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus, opts ...StatusUpdateOption) (*User, error)
	Deactivate(ctx context.Context, user *User, opts ...TransitionOption) (*User, error)
	Reactivate(ctx context.Context, user *User, opts ...TransitionOption) (*User, error)
	Suspend(ctx context.Context, user *User, opts ...TransitionOption) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db                  *bun.DB
	stateMachine        LifecycleMachine
	stateMachineOptions []StateMachineOption
}

var _ Users = (*users)(nil)

type UsersOption func(*users)

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

// WithUsersStateMachineOptions forwards options to the lazily built machine.
func WithUsersStateMachineOptions(options ...StateMachineOption) UsersOption {
	return func(u *users) {
		if len(options) == 0 {
			return
		}
		u.stateMachineOptions = append(u.stateMachineOptions, options...)
		u.stateMachine = nil
	}
}

func WithUsersStateMachine(sm LifecycleMachine) UsersOption {
	return func(u *users) {
		u.stateMachine = sm
	}
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("lower(?TableAlias.email) = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": NormalizeEmail(email)})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)

	created, err := a.Repository.CreateTx(ctx, tx, user)
	if err != nil {
		// the pre-insert email check races with concurrent registrations,
		// so a duplicate can still reach the unique index
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken.WithMetadata(map[string]any{
				"email": user.Email,
			})
		}
		return nil, err
	}

	return created, nil
}

// isUniqueViolation detects a unique index violation across drivers.
// SQLite reports "UNIQUE constraint failed", Postgres "duplicate key
// value violates unique constraint", MySQL "Duplicate entry".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

func (a *users) IncrementFailedLogin(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*User, error) {
	return a.IncrementFailedLoginTx(ctx, a.db, id, threshold, lockUntil)
}

func (a *users) IncrementFailedLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, threshold int, lockUntil time.Time) (*User, error) {
	return a.rawOne(ctx, tx, IncrementFailedLoginSQL, threshold, lockUntil, id.String())
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) (*User, error) {
	return a.TrackSuccessfulLoginTx(ctx, a.db, id, at, ip)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time, ip string) (*User, error) {
	return a.rawOne(ctx, tx, TrackSuccessfulLoginSQL, at, ip, id.String())
}

func (a *users) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) (*User, error) {
	return a.SetPasswordTx(ctx, a.db, id, passwordHash, at)
}

func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) (*User, error) {
	return a.rawOne(ctx, tx, SetPasswordSQL, passwordHash, at, id.String())
}

func (a *users) MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) (*User, error) {
	return a.MarkEmailVerifiedTx(ctx, a.db, id, at)
}

func (a *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (*User, error) {
	return a.rawOne(ctx, tx, MarkEmailVerifiedSQL, at, id.String())
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus, opts ...StatusUpdateOption) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status, opts...)
}

func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus, opts ...StatusUpdateOption) (*User, error) {
	record := &User{
		ID:     id,
		Status: status,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func (a *users) Deactivate(ctx context.Context, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, user, UserStatusDeactivated, opts...)
}

func (a *users) Reactivate(ctx context.Context, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, user, UserStatusActive, opts...)
}

func (a *users) Suspend(ctx context.Context, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, user, UserStatusSuspended, opts...)
}

func (a *users) rawOne(ctx context.Context, tx bun.IDB, sql string, args ...any) (*User, error) {
	res, err := a.Repository.RawTx(ctx, tx, sql, args...)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound()
	}

	return res[0], nil
}

// StatusUpdateOption mutates the user record before a status change is persisted.
type StatusUpdateOption func(*User)

// WithSuspendedAt sets the SuspendedAt timestamp during a status transition.
func WithSuspendedAt(at *time.Time) StatusUpdateOption {
	return func(u *User) {
		u.SuspendedAt = at
	}
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsureStatus()
	record.EnsureTier()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func (a *users) lifecycleMachine() LifecycleMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewLifecycleMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}

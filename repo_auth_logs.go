package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuthLogs interface {
	repository.Repository[*AuthLog]

	Append(ctx context.Context, entry *AuthLog) (*AuthLog, error)
	AppendTx(ctx context.Context, tx bun.IDB, entry *AuthLog) (*AuthLog, error)
	// CountByEmailSince counts events of one type recorded against an email
	// inside a window. It backs the reset-request rate limit, which must
	// count requests whether or not the email matches an account.
	CountByEmailSince(ctx context.Context, email string, eventType string, since time.Time) (int, error)
	// DeleteOlderThan backs the external retention job (7 days). The core
	// never calls it on its own schedule.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type authLogs struct {
	repository.Repository[*AuthLog]
	db *bun.DB
}

var _ AuthLogs = (*authLogs)(nil)

func NewAuthLogsRepository(db *bun.DB) AuthLogs {
	repo := repository.NewRepository[*AuthLog](db, repository.ModelHandlers[*AuthLog]{
		NewRecord: func() *AuthLog { return &AuthLog{} },
		GetID: func(l *AuthLog) uuid.UUID {
			if l == nil {
				return uuid.Nil
			}
			return l.ID
		},
		SetID: func(l *AuthLog, id uuid.UUID) {
			if l != nil {
				l.ID = id
			}
		},
	})

	return &authLogs{
		Repository: repo,
		db:         db,
	}
}

func (a *authLogs) Append(ctx context.Context, entry *AuthLog) (*AuthLog, error) {
	return a.AppendTx(ctx, a.db, entry)
}

func (a *authLogs) AppendTx(ctx context.Context, tx bun.IDB, entry *AuthLog) (*AuthLog, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return a.Repository.CreateTx(ctx, tx, entry)
}

func (a *authLogs) CountByEmailSince(ctx context.Context, email string, eventType string, since time.Time) (int, error) {
	return a.db.NewSelect().
		Model((*AuthLog)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Where("?TableAlias.event_type = ?", eventType).
		Where("?TableAlias.created_at >= ?", since).
		Count(ctx)
}

func (a *authLogs) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := a.db.NewDelete().
		Model((*AuthLog)(nil)).
		Where("?TableAlias.created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// NewAuthLogSink adapts the append-only AuthLogs repository into an
// ActivitySink, one audit row per event.
func NewAuthLogSink(repo AuthLogs) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		entry := &AuthLog{
			EventType:     string(event.EventType),
			IPAddress:     event.IPAddress,
			UserAgent:     event.UserAgent,
			Success:       event.Success,
			FailureReason: event.FailureReason,
		}

		if event.UserID != "" {
			if uid, err := uuid.Parse(event.UserID); err == nil {
				entry.UserID = &uid
			}
		}

		if !event.OccurredAt.IsZero() {
			at := event.OccurredAt
			entry.CreatedAt = &at
		}

		_, err := repo.Append(ctx, entry)
		return err
	})
}

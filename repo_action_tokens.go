package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsumeActionTokenSQL is the single-statement check-and-mark. The WHERE
// clause is the freshness check, so two concurrent consumers of the same
// token cannot both see it as fresh: exactly one UPDATE matches.
var ConsumeActionTokenSQL = `UPDATE "action_tokens" AS "att"
SET
	"used" = TRUE,
	"used_at" = ?
WHERE
	"att"."token" = ?
AND "att"."purpose" = ?
AND "att"."used" = FALSE
AND "att"."expires_at" > ?
RETURNING *;`

// VoidPendingTokensSQL supersedes earlier unused tokens of one purpose for
// one user, so an old leaked link dies when a fresh one is requested.
var VoidPendingTokensSQL = `UPDATE "action_tokens" AS "att"
SET
	"used" = TRUE,
	"used_at" = ?
WHERE
	"att"."user_id" = ?
AND "att"."purpose" = ?
AND "att"."used" = FALSE
RETURNING *;`

type ActionTokens interface {
	repository.Repository[*ActionToken]

	Issue(ctx context.Context, token *ActionToken) (*ActionToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, token *ActionToken) (*ActionToken, error)
	Consume(ctx context.Context, token string, purpose TokenPurpose, now time.Time) (*ActionToken, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, token string, purpose TokenPurpose, now time.Time) (*ActionToken, error)
	VoidPending(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, now time.Time) error
	VoidPendingTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose, now time.Time) error
}

type actionTokens struct {
	repository.Repository[*ActionToken]
	db *bun.DB
}

var _ ActionTokens = (*actionTokens)(nil)

func NewActionTokensRepository(db *bun.DB) ActionTokens {
	repo := repository.NewRepository[*ActionToken](db, repository.ModelHandlers[*ActionToken]{
		NewRecord: func() *ActionToken { return &ActionToken{} },
		GetID: func(t *ActionToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *ActionToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &actionTokens{
		Repository: repo,
		db:         db,
	}
}

func (a *actionTokens) Issue(ctx context.Context, token *ActionToken) (*ActionToken, error) {
	return a.IssueTx(ctx, a.db, token)
}

// IssueTx voids prior unused tokens of the same purpose, then inserts the
// replacement. Run it inside a transaction when supersession must be
// atomic with the insert.
func (a *actionTokens) IssueTx(ctx context.Context, tx bun.IDB, token *ActionToken) (*ActionToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.Email = NormalizeEmail(token.Email)

	now := time.Now()
	if err := a.VoidPendingTx(ctx, tx, token.UserID, token.Purpose, now); err != nil {
		return nil, err
	}

	return a.Repository.CreateTx(ctx, tx, token)
}

func (a *actionTokens) Consume(ctx context.Context, token string, purpose TokenPurpose, now time.Time) (*ActionToken, error) {
	return a.ConsumeTx(ctx, a.db, token, purpose, now)
}

func (a *actionTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token string, purpose TokenPurpose, now time.Time) (*ActionToken, error) {
	res, err := a.Repository.RawTx(ctx, tx, ConsumeActionTokenSQL, now, token, purpose, now)
	if err != nil {
		return nil, err
	}

	// spent, expired, wrong purpose, and unknown all look the same
	if len(res) == 0 {
		return nil, ErrTokenAlreadyUsed
	}

	return res[0], nil
}

func (a *actionTokens) VoidPending(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, now time.Time) error {
	return a.VoidPendingTx(ctx, a.db, userID, purpose, now)
}

func (a *actionTokens) VoidPendingTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose, now time.Time) error {
	_, err := a.Repository.RawTx(ctx, tx, VoidPendingTokensSQL, now, userID.String(), purpose)
	return err
}

package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type OAuthLinks interface {
	repository.Repository[*OAuthLink]

	FindByProviderID(ctx context.Context, provider OAuthProvider, providerUserID string) (*OAuthLink, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]*OAuthLink, error)
	Upsert(ctx context.Context, link *OAuthLink, criteria ...repository.UpdateCriteria) (*OAuthLink, error)
	UpsertTx(ctx context.Context, tx bun.IDB, link *OAuthLink, criteria ...repository.UpdateCriteria) (*OAuthLink, error)
	DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider OAuthProvider) error
}

type oauthLinks struct {
	repository.Repository[*OAuthLink]
	db *bun.DB
}

var _ OAuthLinks = (*oauthLinks)(nil)

func NewOAuthLinksRepository(db *bun.DB) OAuthLinks {
	repo := repository.NewRepository[*OAuthLink](db, repository.ModelHandlers[*OAuthLink]{
		NewRecord: func() *OAuthLink { return &OAuthLink{} },
		GetID: func(l *OAuthLink) uuid.UUID {
			if l == nil {
				return uuid.Nil
			}
			return l.ID
		},
		SetID: func(l *OAuthLink, id uuid.UUID) {
			if l != nil {
				l.ID = id
			}
		},
	})

	return &oauthLinks{
		Repository: repo,
		db:         db,
	}
}

func (a *oauthLinks) FindByProviderID(ctx context.Context, provider OAuthProvider, providerUserID string) (*OAuthLink, error) {
	record := &OAuthLink{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.provider_user_id = ?", providerUserID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider":         provider,
					"provider_user_id": providerUserID,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *oauthLinks) FindByUser(ctx context.Context, userID uuid.UUID) ([]*OAuthLink, error) {
	var records []*OAuthLink
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (a *oauthLinks) Upsert(ctx context.Context, link *OAuthLink, criteria ...repository.UpdateCriteria) (*OAuthLink, error) {
	return a.UpsertTx(ctx, a.db, link, criteria...)
}

// UpsertTx keys on (provider, provider_user_id): an existing link only has
// its provider tokens refreshed, never its owner changed.
func (a *oauthLinks) UpsertTx(ctx context.Context, tx bun.IDB, link *OAuthLink, criteria ...repository.UpdateCriteria) (*OAuthLink, error) {
	existing, err := a.FindByProviderID(ctx, link.Provider, link.ProviderUserID)
	if err == nil {
		existing.AccessToken = link.AccessToken
		existing.RefreshToken = link.RefreshToken
		existing.TokenExpiresAt = link.TokenExpiresAt
		existing.ProviderEmail = link.ProviderEmail
		return a.Repository.UpdateTx(ctx, tx, existing, repository.UpdateByID(existing.ID.String()))
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	return a.Repository.CreateTx(ctx, tx, link)
}

func (a *oauthLinks) DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider OAuthProvider) error {
	_, err := a.db.NewDelete().
		Model((*OAuthLink)(nil)).
		Where("user_id = ? AND provider = ?", userID, provider).
		Exec(ctx)
	return err
}

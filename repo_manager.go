package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories. It is constructed at the
// process entry point and injected into every service; nothing in this
// package holds a shared store client.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	ActionTokens() ActionTokens
	OAuthLinks() OAuthLinks
	AuthLogs() AuthLogs
}

type mngr struct {
	db           *bun.DB
	users        Users
	actionTokens ActionTokens
	oauthLinks   OAuthLinks
	authLogs     AuthLogs
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		users:        NewUsersRepository(db),
		actionTokens: NewActionTokensRepository(db),
		oauthLinks:   NewOAuthLinksRepository(db),
		authLogs:     NewAuthLogsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.actionTokens == nil {
		return errors.New("repository actionTokens should be initialized")
	}

	if m.oauthLinks == nil {
		return errors.New("repository oauthLinks should be initialized")
	}

	if m.authLogs == nil {
		return errors.New("repository authLogs should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) ActionTokens() ActionTokens {
	return m.actionTokens
}

func (m mngr) OAuthLinks() OAuthLinks {
	return m.oauthLinks
}

func (m mngr) AuthLogs() AuthLogs {
	return m.authLogs
}

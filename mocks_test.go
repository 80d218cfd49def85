package auth_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/parcelcrm/auth"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

func notFoundErr() error {
	return repository.NewRecordNotFound()
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// MockUsers stubs the Users repository. Only the methods exercised by
// tests are implemented; anything else panics through the embedded nil
// interface.
type MockUsers struct {
	mock.Mock
	auth.Users
}

func (m *MockUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*auth.User, error) {
	args := m.Called(ctx, id, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*auth.User, error) {
	args := m.Called(ctx, tx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) RegisterTx(ctx context.Context, tx bun.IDB, user *auth.User) (*auth.User, error) {
	args := m.Called(ctx, tx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) IncrementFailedLogin(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*auth.User, error) {
	args := m.Called(ctx, id, threshold, lockUntil)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) (*auth.User, error) {
	args := m.Called(ctx, id, at, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) (*auth.User, error) {
	args := m.Called(ctx, tx, id, passwordHash, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (*auth.User, error) {
	args := m.Called(ctx, tx, id, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) UpdateStatus(ctx context.Context, id uuid.UUID, status auth.UserStatus, opts ...auth.StatusUpdateOption) (*auth.User, error) {
	args := m.Called(ctx, id, status, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

// MockActionTokens stubs the ActionTokens repository.
type MockActionTokens struct {
	mock.Mock
	auth.ActionTokens
}

func (m *MockActionTokens) IssueTx(ctx context.Context, tx bun.IDB, token *auth.ActionToken) (*auth.ActionToken, error) {
	args := m.Called(ctx, tx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ActionToken), args.Error(1)
}

func (m *MockActionTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token string, purpose auth.TokenPurpose, now time.Time) (*auth.ActionToken, error) {
	args := m.Called(ctx, tx, token, purpose, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ActionToken), args.Error(1)
}

func (m *MockActionTokens) VoidPendingTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose auth.TokenPurpose, now time.Time) error {
	args := m.Called(ctx, tx, userID, purpose, now)
	return args.Error(0)
}

// MockAuthLogs stubs the audit log repository.
type MockAuthLogs struct {
	mock.Mock
	auth.AuthLogs
}

func (m *MockAuthLogs) Append(ctx context.Context, entry *auth.AuthLog) (*auth.AuthLog, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AuthLog), args.Error(1)
}

func (m *MockAuthLogs) CountByEmailSince(ctx context.Context, email string, eventType string, since time.Time) (int, error) {
	args := m.Called(ctx, email, eventType, since)
	return args.Int(0), args.Error(1)
}

// MockRepositoryManager wires the mock repositories together.
type MockRepositoryManager struct {
	mock.Mock
}

func (m *MockRepositoryManager) Validate() error { return nil }
func (m *MockRepositoryManager) MustValidate()   {}

// RunInTx drives the callback with a zero bun.Tx and surfaces its error,
// unless the expectation forces a transaction-level failure.
func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	args := m.Called(ctx, opts, f)
	if err := args.Error(0); err != nil {
		return err
	}
	var tx bun.Tx
	return f(ctx, tx)
}

func (m *MockRepositoryManager) Users() auth.Users {
	args := m.Called()
	return args.Get(0).(auth.Users)
}

func (m *MockRepositoryManager) ActionTokens() auth.ActionTokens {
	args := m.Called()
	return args.Get(0).(auth.ActionTokens)
}

func (m *MockRepositoryManager) OAuthLinks() auth.OAuthLinks {
	args := m.Called()
	return args.Get(0).(auth.OAuthLinks)
}

func (m *MockRepositoryManager) AuthLogs() auth.AuthLogs {
	args := m.Called()
	return args.Get(0).(auth.AuthLogs)
}

// MockActivitySink captures audit events via testify expectations.
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockMailer stubs outbound email.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendVerificationEmail(ctx context.Context, user *auth.User, token string) error {
	args := m.Called(ctx, user, token)
	return args.Error(0)
}

func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, user *auth.User, token string) error {
	args := m.Called(ctx, user, token)
	return args.Error(0)
}

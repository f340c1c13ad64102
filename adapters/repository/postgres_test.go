package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewPostgresRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func identityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "provider", "external_id", "payload", "created_at", "updated_at"})
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestPostgres_FindIdentity(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ctx := context.Background()

	mock.ExpectQuery(q("FROM identities")).
		WithArgs("cosmos", "cosmos1abc").
		WillReturnRows(identityRows().AddRow("u-1", "cosmos", "cosmos1abc",
			`{"address":"cosmos1abc","public_key":"AAA="}`, fixedNow, fixedNow))

	id, err := repo.FindIdentity(ctx, core.ProviderCosmos, "cosmos1abc")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, core.CosmosPayload{Address: "cosmos1abc", PublicKey: "AAA="}, id.Payload)

	mock.ExpectQuery(q("FROM identities")).
		WithArgs("evm", "0xA").
		WillReturnRows(identityRows())

	_, err = repo.FindIdentity(ctx, core.ProviderEVM, "0xA")
	assert.ErrorIs(t, err, core.ErrNotFound)

	mock.ExpectQuery(q("FROM identities")).
		WithArgs("evm", "0xA").
		WillReturnError(errors.New("conn reset"))

	_, err = repo.FindIdentity(ctx, core.ProviderEVM, "0xA")
	assert.ErrorIs(t, err, core.ErrUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateUserWithIdentity(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO users")).
		WithArgs("u-1", "evm_0xabcd", true, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO identities")).
		WithArgs("u-1", "evm", "0xABCD", `{"address":"0xABCD"}`, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user := &core.User{ID: "u-1", Handle: "evm_0xabcd", Active: true}
	identity := &core.Identity{Provider: core.ProviderEVM, ExternalID: "0xABCD", Payload: core.EVMPayload{Address: "0xABCD"}}
	require.NoError(t, repo.CreateUserWithIdentity(context.Background(), user, identity))

	assert.Equal(t, "u-1", identity.UserID)
	assert.Equal(t, fixedNow, user.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateUserWithIdentity_HandleTaken(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_users_handle"})
	mock.ExpectRollback()

	err := repo.CreateUserWithIdentity(context.Background(),
		&core.User{ID: "u-1", Handle: "alice"},
		&core.Identity{Provider: core.ProviderEmail, ExternalID: "a@example.com", Payload: core.EmailPayload{PasswordHash: "h"}})
	assert.ErrorIs(t, err, core.ErrUsernameTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateUserWithIdentity_LostRace(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO users")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("ON CONFLICT (provider, external_id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery(q("FROM identities")).
		WithArgs("solana", "Sol1").
		WillReturnRows(identityRows().AddRow("winner", "solana", "Sol1", `{"address":"Sol1"}`, fixedNow, fixedNow))

	err := repo.CreateUserWithIdentity(context.Background(),
		&core.User{ID: "loser", Handle: "solana_sol1"},
		&core.Identity{Provider: core.ProviderSolana, ExternalID: "Sol1", Payload: core.SolanaPayload{Address: "Sol1"}})

	var conflict *ports.IdentityConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "winner", conflict.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertIdentity(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ctx := context.Background()

	mock.ExpectExec(q("INSERT INTO identities")).
		WithArgs("u-1", "solana", "Sol1", `{"address":"Sol1"}`, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.InsertIdentity(ctx,
		&core.Identity{UserID: "u-1", Provider: core.ProviderSolana, ExternalID: "Sol1", Payload: core.SolanaPayload{Address: "Sol1"}}))

	mock.ExpectExec(q("INSERT INTO identities")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM identities")).
		WillReturnRows(identityRows().AddRow("u-2", "solana", "Sol2", `{"address":"Sol2"}`, fixedNow, fixedNow))
	err := repo.InsertIdentity(ctx,
		&core.Identity{UserID: "u-1", Provider: core.ProviderSolana, ExternalID: "Sol2", Payload: core.SolanaPayload{Address: "Sol2"}})
	var conflict *ports.IdentityConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "u-2", conflict.OwnerID)

	mock.ExpectExec(q("INSERT INTO identities")).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	err = repo.InsertIdentity(ctx,
		&core.Identity{UserID: "gone", Provider: core.ProviderSolana, ExternalID: "Sol3", Payload: core.SolanaPayload{Address: "Sol3"}})
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteIdentity(t *testing.T) {
	tests := []struct {
		name    string
		owned   bool
		count   int
		wantErr error
	}{
		{"deletes", true, 2, nil},
		{"last identity", true, 1, core.ErrLastIdentity},
		{"not owned", false, 0, core.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)

			mock.ExpectBegin()
			mock.ExpectQuery(q("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
				WithArgs("u-1").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))
			mock.ExpectQuery(q("SELECT EXISTS")).
				WithArgs("u-1", "evm", "0xA").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.owned))
			if tt.owned {
				mock.ExpectQuery(q("SELECT count(*) FROM identities")).
					WithArgs("u-1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))
			}
			if tt.wantErr == nil {
				mock.ExpectExec(q("DELETE FROM identities")).
					WithArgs("u-1", "evm", "0xA").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			err := repo.DeleteIdentity(context.Background(), "u-1", core.ProviderEVM, "0xA")
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_DeleteIdentity_UnknownUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.DeleteIdentity(context.Background(), "u-1", core.ProviderEVM, "0xA")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TransactionFailuresAreUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("begin on create", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))

		err := repo.CreateUserWithIdentity(ctx,
			&core.User{ID: "u-1", Handle: "alice"},
			&core.Identity{Provider: core.ProviderEVM, ExternalID: "0xA", Payload: core.EVMPayload{Address: "0xA"}})
		assert.ErrorIs(t, err, core.ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit on create", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q("INSERT INTO users")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO identities")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

		err := repo.CreateUserWithIdentity(ctx,
			&core.User{ID: "u-1", Handle: "alice"},
			&core.Identity{Provider: core.ProviderEVM, ExternalID: "0xA", Payload: core.EVMPayload{Address: "0xA"}})
		assert.ErrorIs(t, err, core.ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin on delete", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))

		err := repo.DeleteIdentity(ctx, "u-1", core.ProviderEVM, "0xA")
		assert.ErrorIs(t, err, core.ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit on delete", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))
		mock.ExpectQuery(q("SELECT EXISTS")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery(q("SELECT count(*) FROM identities")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectExec(q("DELETE FROM identities")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

		err := repo.DeleteIdentity(ctx, "u-1", core.ProviderEVM, "0xA")
		assert.ErrorIs(t, err, core.ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_UpdateHandle(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ctx := context.Background()
	cols := []string{"id", "handle", "active", "created_at", "updated_at"}

	mock.ExpectQuery(q("UPDATE users SET handle")).
		WithArgs("u-1", "carol", fixedNow).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u-1", "carol", true, fixedNow, fixedNow))
	u, err := repo.UpdateHandle(ctx, "u-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Handle)

	mock.ExpectQuery(q("UPDATE users SET handle")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err = repo.UpdateHandle(ctx, "u-1", "bob")
	assert.ErrorIs(t, err, core.ErrUsernameTaken)

	mock.ExpectQuery(q("UPDATE users SET active")).
		WithArgs("u-1", false, fixedNow).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u-1", "carol", false, fixedNow, fixedNow))
	u, err = repo.SetActive(ctx, "u-1", false)
	require.NoError(t, err)
	assert.False(t, u.Active)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_HandleExistsAndGetUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ctx := context.Background()

	mock.ExpectQuery(q("lower(handle) = lower($1)")).
		WithArgs("Alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	exists, err := repo.HandleExists(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(q("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "handle", "active", "created_at", "updated_at"}))
	_, err = repo.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_UsesGoose(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	called := false
	gooseUpContext = func(ctx context.Context, got *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		called = true
		assert.Same(t, db, got)
		assert.Equal(t, ".", dir)
		return nil
	}

	require.NoError(t, RunMigrations(context.Background(), db))
	assert.True(t, called)
}

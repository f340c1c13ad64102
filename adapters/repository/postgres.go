// Package repository persists users and identities.
//
// The PostgreSQL implementation relies on two unique indexes: lower(handle) on users and
// (provider, external_id) on identities. Concurrent writers are serialized by those indexes,
// never by in-process locks.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/layer-3/sigil/adapters/repository/migrations"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/internal/dbx"
	"github.com/layer-3/sigil/ports"
	"github.com/pressly/goose/v3"
)

// errIdentityLost aborts a transaction whose identity insert hit an existing row
var errIdentityLost = errors.New("identity insert lost")

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRepository implements ports.Repository over database/sql with the pgx driver.
// The *sql.DB is owned by the caller.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository creates a repository bound to db
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var _ ports.Repository = (*PostgresRepository)(nil)

// Open connects to dsn with the pgx driver and checks connectivity
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

const identityColumns = `user_id, provider, external_id, payload, created_at, updated_at`
const userColumns = `id, handle, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*core.Identity, error) {
	var (
		id       core.Identity
		provider string
		payload  []byte
	)
	if err := row.Scan(&id.UserID, &provider, &id.ExternalID, &payload, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return nil, err
	}
	id.Provider = core.Provider(provider)
	p, err := core.UnmarshalPayload(id.Provider, payload)
	if err != nil {
		return nil, err
	}
	id.Payload = p
	return &id, nil
}

func scanUser(row rowScanner) (*core.User, error) {
	var u core.User
	if err := row.Scan(&u.ID, &u.Handle, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepository) FindIdentity(ctx context.Context, provider core.Provider, externalID string) (*core.Identity, error) {
	return findIdentity(ctx, r.db, provider, externalID)
}

func findIdentity(ctx context.Context, db dbx.DBTX, provider core.Provider, externalID string) (*core.Identity, error) {
	query :=
		`SELECT ` + identityColumns + ` FROM identities
		 WHERE provider = $1 AND external_id = $2`

	id, err := scanIdentity(db.QueryRowContext(ctx, query, string(provider), externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, dbError(err)
	}
	return id, nil
}

func (r *PostgresRepository) ListIdentities(ctx context.Context, userID string) ([]core.Identity, error) {
	query :=
		`SELECT ` + identityColumns + ` FROM identities
		 WHERE user_id = $1
		 ORDER BY created_at, provider, external_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []core.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, dbError(err)
		}
		out = append(out, *id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return out, nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*core.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, dbError(err)
	}
	return u, nil
}

func (r *PostgresRepository) HandleExists(ctx context.Context, handle string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE lower(handle) = lower($1))`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, handle).Scan(&exists); err != nil {
		return false, dbError(err)
	}
	return exists, nil
}

// CreateUserWithIdentity inserts the user and identity in one transaction. A lost race on the
// identity rolls the whole transaction back, so the new user row is never committed.
func (r *PostgresRepository) CreateUserWithIdentity(ctx context.Context, user *core.User, identity *core.Identity) error {
	payload, err := core.MarshalPayload(identity.Payload)
	if err != nil {
		return err
	}

	now := r.now()
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, handle, active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)`,
			user.ID, user.Handle, user.Active, now)
		if err != nil {
			if isUniqueViolation(err) {
				return core.ErrUsernameTaken
			}
			return dbError(err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO identities (user_id, provider, external_id, payload, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)
			 ON CONFLICT (provider, external_id) DO NOTHING`,
			user.ID, string(identity.Provider), identity.ExternalID, string(payload), now)
		if err != nil {
			return dbError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return dbError(err)
		}
		if n == 0 {
			return errIdentityLost
		}
		return nil
	})
	if errors.Is(err, errIdentityLost) {
		return r.conflict(ctx, identity.Provider, identity.ExternalID)
	}
	if err != nil {
		return txError(err)
	}

	user.CreatedAt, user.UpdatedAt = now, now
	identity.UserID = user.ID
	identity.CreatedAt, identity.UpdatedAt = now, now
	return nil
}

func (r *PostgresRepository) InsertIdentity(ctx context.Context, identity *core.Identity) error {
	payload, err := core.MarshalPayload(identity.Payload)
	if err != nil {
		return err
	}

	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (user_id, provider, external_id, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (provider, external_id) DO NOTHING`,
		identity.UserID, string(identity.Provider), identity.ExternalID, string(payload), now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.ErrNotFound
		}
		return dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return r.conflict(ctx, identity.Provider, identity.ExternalID)
	}

	identity.CreatedAt, identity.UpdatedAt = now, now
	return nil
}

func (r *PostgresRepository) UpdateIdentityPayload(ctx context.Context, provider core.Provider, externalID string, payload core.Payload) error {
	data, err := core.MarshalPayload(payload)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET payload = $3, updated_at = $4
		 WHERE provider = $1 AND external_id = $2`,
		string(provider), externalID, string(data), r.now())
	if err != nil {
		return dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// DeleteIdentity locks the owning user row so that two concurrent unlinks of a user's last two
// identities cannot both pass the count check.
func (r *PostgresRepository) DeleteIdentity(ctx context.Context, userID string, provider core.Provider, externalID string) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrNotFound
			}
			return dbError(err)
		}

		var owned bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM identities WHERE user_id = $1 AND provider = $2 AND external_id = $3)`,
			userID, string(provider), externalID).Scan(&owned)
		if err != nil {
			return dbError(err)
		}
		if !owned {
			return core.ErrNotFound
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM identities WHERE user_id = $1`, userID).Scan(&count); err != nil {
			return dbError(err)
		}
		if count <= 1 {
			return core.ErrLastIdentity
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM identities WHERE user_id = $1 AND provider = $2 AND external_id = $3`,
			userID, string(provider), externalID)
		if err != nil {
			return dbError(err)
		}
		return nil
	})
	return txError(err)
}

func (r *PostgresRepository) UpdateHandle(ctx context.Context, userID, handle string) (*core.User, error) {
	query :=
		`UPDATE users SET handle = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query, userID, handle, r.now()))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, core.ErrNotFound
		case isUniqueViolation(err):
			return nil, core.ErrUsernameTaken
		}
		return nil, dbError(err)
	}
	return u, nil
}

func (r *PostgresRepository) SetActive(ctx context.Context, userID string, active bool) (*core.User, error) {
	query :=
		`UPDATE users SET active = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query, userID, active, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, dbError(err)
	}
	return u, nil
}

// conflict reads back the winning row after a lost insert
func (r *PostgresRepository) conflict(ctx context.Context, provider core.Provider, externalID string) error {
	cerr := &ports.IdentityConflictError{Provider: provider, ExternalID: externalID}
	if existing, err := r.FindIdentity(ctx, provider, externalID); err == nil {
		cerr.OwnerID = existing.UserID
	}
	return cerr
}

func dbError(err error) error {
	return fmt.Errorf("db error: %w: %w", core.ErrUnavailable, err)
}

// txError classifies an error returned by dbx.WithTx. Domain outcomes pass through; begin,
// commit and other driver failures become ErrUnavailable.
func txError(err error) error {
	switch {
	case err == nil,
		errors.Is(err, core.ErrUnavailable),
		errors.Is(err, core.ErrUsernameTaken),
		errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrLastIdentity):
		return err
	}
	return dbError(err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	return pgErr.Code
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == pgForeignKeyViolation
}

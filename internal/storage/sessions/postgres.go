package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"medportal/internal/auth"
	"medportal/internal/platform/pg"
	"medportal/internal/shared"
	"medportal/internal/upstream"
)

// Querier is the part of a pgx pool the PostgreSQL store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps sessions in PostgreSQL.
type PostgresStore struct {
	q Querier
}

var _ auth.Store = (*PostgresStore)(nil)

// MigratePostgres applies the session schema to the database at dsn.
func MigratePostgres(dsn string) error {
	if _, err := pg.ApplyMigrationsFromFS(dsn, migrations, postgresMigrations); err != nil {
		return shared.Wrap(err, "migrate postgres session store")
	}
	return nil
}

// NewPostgresStore returns a store on q. The schema must already be migrated.
func NewPostgresStore(q Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const pgUpsert = `
INSERT INTO sessions (
    id, client_id, user_id, email, first_name, last_name, role,
    access_token, refresh_token, access_expires_at, expires_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (id) DO UPDATE SET
    client_id = EXCLUDED.client_id,
    user_id = EXCLUDED.user_id,
    email = EXCLUDED.email,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    role = EXCLUDED.role,
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    access_expires_at = EXCLUDED.access_expires_at,
    expires_at = EXCLUDED.expires_at,
    updated_at = now()`

// Save inserts or replaces s.
func (st *PostgresStore) Save(ctx context.Context, s *auth.Session) error {
	_, err := st.q.Exec(ctx, pgUpsert,
		s.ID, s.ClientID, s.UserID, s.Email, s.FirstName, s.LastName, string(s.Role),
		s.AccessToken, s.RefreshToken, nullTime(s.AccessExpiresAt), s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return shared.Wrapf(err, "save session %s", s.ID)
	}
	return nil
}

const pgSelect = `
SELECT id, client_id, user_id, email, first_name, last_name, role,
       access_token, refresh_token, access_expires_at, expires_at, created_at
FROM sessions WHERE id = $1`

// Get loads the session id.
func (st *PostgresStore) Get(ctx context.Context, id string) (*auth.Session, error) {
	var (
		s         auth.Session
		role      string
		accessExp *time.Time
	)
	err := st.q.QueryRow(ctx, pgSelect, id).Scan(
		&s.ID, &s.ClientID, &s.UserID, &s.Email, &s.FirstName, &s.LastName, &role,
		&s.AccessToken, &s.RefreshToken, &accessExp, &s.ExpiresAt, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, shared.Wrapf(err, "load session %s", id)
	}
	s.Role = upstream.Role(role)
	if accessExp != nil {
		s.AccessExpiresAt = *accessExp
	}
	return &s, nil
}

// Delete removes id. Unknown ids are not an error.
func (st *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := st.q.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return shared.Wrapf(err, "delete session %s", id)
	}
	return nil
}

// DeleteExpired removes sessions that expired at or before now.
func (st *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := st.q.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, shared.Wrap(err, "delete expired sessions")
	}
	return tag.RowsAffected(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

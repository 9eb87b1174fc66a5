package sessions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medportal/internal/auth"
	"medportal/internal/platform/sqlite"
	"medportal/internal/shared"
	"medportal/internal/upstream"
)

// SQLiteStore keeps sessions in a SQLite database. Times are unix milliseconds;
// zero stands for an unset time.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.Store = (*SQLiteStore)(nil)

// NewSQLiteStore migrates db and returns a store on it.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := sqlite.ApplyMigrationsFS(db, migrations, sqliteMigrations); err != nil {
		return nil, shared.Wrap(err, "migrate sqlite session store")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteUpsert = `
INSERT INTO sessions (
    id, client_id, user_id, email, first_name, last_name, role,
    access_token, refresh_token, access_expires_at, expires_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    client_id = excluded.client_id,
    user_id = excluded.user_id,
    email = excluded.email,
    first_name = excluded.first_name,
    last_name = excluded.last_name,
    role = excluded.role,
    access_token = excluded.access_token,
    refresh_token = excluded.refresh_token,
    access_expires_at = excluded.access_expires_at,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`

// Save inserts or replaces s.
func (st *SQLiteStore) Save(ctx context.Context, s *auth.Session) error {
	_, err := st.db.ExecContext(ctx, sqliteUpsert,
		s.ID, s.ClientID, s.UserID, s.Email, s.FirstName, s.LastName, string(s.Role),
		s.AccessToken, s.RefreshToken,
		toMillis(s.AccessExpiresAt), toMillis(s.ExpiresAt), toMillis(s.CreatedAt), toMillis(st.now()),
	)
	if err != nil {
		return shared.Wrapf(err, "save session %s", s.ID)
	}
	return nil
}

const sqliteSelect = `
SELECT id, client_id, user_id, email, first_name, last_name, role,
       access_token, refresh_token, access_expires_at, expires_at, created_at
FROM sessions WHERE id = ?`

// Get loads the session id.
func (st *SQLiteStore) Get(ctx context.Context, id string) (*auth.Session, error) {
	var (
		s                       auth.Session
		role                    string
		accessExp, exp, created int64
	)
	err := st.db.QueryRowContext(ctx, sqliteSelect, id).Scan(
		&s.ID, &s.ClientID, &s.UserID, &s.Email, &s.FirstName, &s.LastName, &role,
		&s.AccessToken, &s.RefreshToken, &accessExp, &exp, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, shared.Wrapf(err, "load session %s", id)
	}
	s.Role = upstream.Role(role)
	s.AccessExpiresAt = fromMillis(accessExp)
	s.ExpiresAt = fromMillis(exp)
	s.CreatedAt = fromMillis(created)
	return &s, nil
}

// Delete removes id. Unknown ids are not an error.
func (st *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return shared.Wrapf(err, "delete session %s", id)
	}
	return nil
}

// DeleteExpired removes sessions that expired at or before now.
func (st *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, shared.Wrap(err, "delete expired sessions")
	}
	return res.RowsAffected()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

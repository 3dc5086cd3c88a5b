// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Users live in the users table and sessions in user_sessions, which
// references users(id) with ON DELETE RESTRICT so a user row can only be
// removed once its sessions are gone. Every method is a single statement.
// The schema is owned by the migrations in internal/db.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escritoresnogueira/backend/internal/db/migrate"
	"github.com/escritoresnogueira/backend/internal/util"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage"
	"github.com/escritoresnogueira/backend/user"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string,
// optionally applies pending migrations, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string, autoMigrate bool) (*Store, error) {
	if autoMigrate {
		if err := migrate.Run(dsn, migrate.Up); err != nil {
			return nil, fmt.Errorf("applying migrations: %w", err)
		}
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewRepository(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id::text, COALESCE(subject, ''), provider, email, name, first_name, last_name,
	phone, address, postal_code, city, country, photo_url, roles, enabled, last_login,
	created_at, updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u         user.User
		lastLogin *time.Time
	)
	err := row.Scan(&u.ID, &u.Subject, &u.Provider, &u.Email, &u.Name, &u.FirstName, &u.LastName,
		&u.Phone, &u.Address, &u.PostalCode, &u.City, &u.Country, &u.PhotoURL, &u.Roles, &u.Enabled,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin != nil {
		u.LastLogin = *lastLogin
	}
	return &u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s: %w", id, user.ErrNotFound)
	}
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) FindUserBySubject(ctx context.Context, subject string) (*user.User, error) {
	if subject == "" {
		return nil, user.ErrNotFound
	}
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE subject = $1`, subject))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*user.User, error) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return nil, user.ErrNotFound
	}
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1 AND email <> ''`, email))
}

func (s *Store) SaveUser(ctx context.Context, u *user.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("saving user: missing id")
	}
	var lastLogin *time.Time
	if !u.LastLogin.IsZero() {
		lastLogin = &u.LastLogin
	}
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, subject, provider, email, name, first_name, last_name, phone, address,
		                    postal_code, city, country, photo_url, roles, enabled, last_login, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
		     subject = EXCLUDED.subject, provider = EXCLUDED.provider, email = EXCLUDED.email,
		     name = EXCLUDED.name, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
		     phone = EXCLUDED.phone, address = EXCLUDED.address, postal_code = EXCLUDED.postal_code,
		     city = EXCLUDED.city, country = EXCLUDED.country, photo_url = EXCLUDED.photo_url,
		     roles = EXCLUDED.roles, enabled = EXCLUDED.enabled, last_login = EXCLUDED.last_login,
		     updated_at = EXCLUDED.updated_at`,
		u.ID, u.Subject, u.Provider, u.Email, u.Name, u.FirstName, u.LastName, u.Phone, u.Address,
		u.PostalCode, u.City, u.Country, u.PhotoURL, roles, u.Enabled, lastLogin, u.CreatedAt, u.UpdatedAt)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("saving user %s: %w", u.ID, user.ErrDuplicate)
	}
	return err
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s: %w", id, user.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if pgCode(err) == pgForeignKeyViolation {
		return fmt.Errorf("%s: %w", id, user.ErrHasSessions)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, user.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sessionColumns = `s.id::text, s.token, s.user_id::text, s.subject, s.display_name, s.avatar_url,
	s.created_at, s.last_accessed_at, s.expires_at, s.updated_at, s.client_ip, s.user_agent, s.active`

func sessionDest(sess *session.Session) []any {
	return []any{&sess.ID, &sess.Token, &sess.UserID, &sess.Subject, &sess.DisplayName, &sess.AvatarURL,
		&sess.CreatedAt, &sess.LastAccessedAt, &sess.ExpiresAt, &sess.UpdatedAt, &sess.ClientIP,
		&sess.UserAgent, &sess.Active}
}

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if _, err := uuid.Parse(sess.UserID); err != nil {
		return fmt.Errorf("%s: %w", sess.UserID, user.ErrNotFound)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_sessions (id, token, user_id, subject, display_name, avatar_url, created_at,
		                            last_accessed_at, expires_at, updated_at, client_ip, user_agent, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, sess.Token, sess.UserID, sess.Subject, sess.DisplayName, sess.AvatarURL, sess.CreatedAt,
		sess.LastAccessedAt, sess.ExpiresAt, sess.UpdatedAt, sess.ClientIP, sess.UserAgent, sess.Active)
	switch pgCode(err) {
	case pgUniqueViolation:
		return session.ErrTokenConflict
	case pgForeignKeyViolation:
		return fmt.Errorf("%s: %w", sess.UserID, user.ErrNotFound)
	}
	return err
}

// GetSession loads the session together with its owner's e-mail in one query.
func (s *Store) GetSession(ctx context.Context, token string) (*session.Session, error) {
	var sess session.Session
	dest := append(sessionDest(&sess), &sess.OwnerEmail)
	err := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`, u.email
		 FROM user_sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.token = $1`, token).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]session.Session, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM user_sessions s
		 WHERE s.user_id = $1 AND s.active AND s.expires_at > $2
		 ORDER BY s.created_at DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var sess session.Session
		if err := rows.Scan(sessionDest(&sess)...); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return 0, nil
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM user_sessions WHERE user_id = $1 AND active`, userID).Scan(&n)
	return n, err
}

func (s *Store) TouchSession(ctx context.Context, token string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET last_accessed_at = $2, updated_at = $2
		 WHERE token = $1 AND active`, token, at)
	return err
}

func (s *Store) ExtendSession(ctx context.Context, token string, expiresAt, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET expires_at = GREATEST(expires_at, $2), updated_at = $3
		 WHERE token = $1 AND active AND expires_at < $2`, token, expiresAt, now)
	return err
}

func (s *Store) DeactivateSession(ctx context.Context, token string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET active = FALSE, updated_at = $2
		 WHERE token = $1 AND active`, token, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeactivateUserSessions(ctx context.Context, userID string, now time.Time) (int64, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET active = FALSE, updated_at = $2
		 WHERE user_id = $1 AND active`, userID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeactivateSubjectSessions(ctx context.Context, subject string, now time.Time) (int64, error) {
	if subject == "" {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET active = FALSE, updated_at = $2
		 WHERE subject = $1 AND active`, subject, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteSessions(ctx context.Context, userID, subject string) (int64, error) {
	var uid *string
	if _, err := uuid.Parse(userID); err == nil {
		uid = &userID
	}
	if uid == nil && subject == "" {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_sessions
		 WHERE ($1::uuid IS NOT NULL AND user_id = $1::uuid) OR ($2 <> '' AND subject = $2)`,
		uid, subject)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET active = FALSE, updated_at = $1
		 WHERE active AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_sessions WHERE NOT active AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

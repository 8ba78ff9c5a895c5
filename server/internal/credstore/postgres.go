package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

var _ auth.Store = (*Postgres)(nil)

// Postgres implements auth.Store on top of database/sql.
// Either the lib/pq or the pgx stdlib driver may back the *sql.DB.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Schema creates the tables used by Postgres
const Schema = `
create table if not exists refresh_tokens (
	id             uuid primary key,
	token_hash     text not null unique,
	owner_id       uuid not null,
	role           text not null,
	session_id     text not null,
	device_name    text not null default '',
	user_agent     text not null default '',
	client_ip      text not null default '',
	expires_at     timestamptz not null,
	is_revoked     boolean not null default false,
	revoked_at     timestamptz,
	revoked_reason text,
	replaced_by    uuid,
	last_used_at   timestamptz,
	created_at     timestamptz not null
);
create index if not exists refresh_tokens_owner_idx on refresh_tokens (owner_id, role);
create index if not exists refresh_tokens_expires_idx on refresh_tokens (expires_at);

create table if not exists sessions (
	id                 text primary key,
	owner_id           uuid not null,
	role               text not null,
	current_refresh_id uuid not null references refresh_tokens (id),
	last_activity_at   timestamptz not null,
	is_active          boolean not null default true,
	created_at         timestamptz not null
);
create index if not exists sessions_owner_idx on sessions (owner_id, created_at desc);
`

// Migrate applies Schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("credstore: migrate: %w", err)
	}
	return nil
}

const credentialColumns = `id, token_hash, owner_id, role, session_id, device_name, user_agent, client_ip,
	expires_at, is_revoked, revoked_at, revoked_reason, replaced_by, last_used_at, created_at`

const insertCredential = `insert into refresh_tokens (id, token_hash, owner_id, role, session_id,
	device_name, user_agent, client_ip, expires_at, created_at)
	values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func insertArgs(c auth.RefreshCredential) []any {
	return []any{
		c.ID, c.TokenHash, c.OwnerID, string(c.Role), c.SessionID,
		c.Device.Name, c.Device.UserAgent, c.Device.ClientIP, c.ExpiresAt, c.CreatedAt,
	}
}

func (s *Postgres) CreateSession(ctx context.Context, cred auth.RefreshCredential, sess auth.SessionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertCredential, insertArgs(cred)...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`insert into sessions (id, owner_id, role, current_refresh_id, last_activity_at, is_active, created_at)
		 values ($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.OwnerID, string(sess.Role), sess.CurrentRefreshID, sess.LastActivityAt, sess.IsActive, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*auth.RefreshCredential, error) {
	var (
		c          auth.RefreshCredential
		role       string
		revokedAt  sql.NullTime
		reason     sql.NullString
		replacedBy uuid.NullUUID
		lastUsedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.TokenHash, &c.OwnerID, &role, &c.SessionID,
		&c.Device.Name, &c.Device.UserAgent, &c.Device.ClientIP,
		&c.ExpiresAt, &c.IsRevoked, &revokedAt, &reason, &replacedBy, &lastUsedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	c.Role = auth.Role(role)
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}
	c.RevokedReason = reason.String
	if replacedBy.Valid {
		c.ReplacedBy = &replacedBy.UUID
	}
	if lastUsedAt.Valid {
		c.LastUsedAt = &lastUsedAt.Time
	}
	return &c, nil
}

func (s *Postgres) GetRefreshByHash(ctx context.Context, tokenHash string) (*auth.RefreshCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from refresh_tokens where token_hash=$1`, tokenHash)
	return scanCredential(row)
}

// Rotate revokes the old credential, inserts its replacement and moves the
// session pointer in one transaction. The conditional revoke is the
// serialization point: a concurrent rotation of the same credential sees
// zero affected rows and gets auth.ErrInvalidCredential.
func (s *Postgres) Rotate(ctx context.Context, p auth.RotateParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update refresh_tokens
		    set is_revoked = true, revoked_at = $2, revoked_reason = $3, replaced_by = $4, last_used_at = $2
		  where id = $1 and is_revoked = false and expires_at > $2`,
		p.OldID, p.Now, auth.ReasonRotation, p.New.ID,
	)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return auth.ErrInvalidCredential
	}

	if _, err := tx.ExecContext(ctx, insertCredential, insertArgs(p.New)...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	res, err = tx.ExecContext(ctx,
		`update sessions set current_refresh_id = $2, last_activity_at = $3
		  where id = $1 and current_refresh_id = $4 and is_active = true`,
		p.SessionID, p.New.ID, p.Now, p.OldID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return auth.ErrInvalidCredential
	}

	return tx.Commit()
}

func (s *Postgres) RevokeRefresh(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var sessionID string
	err = tx.QueryRowContext(ctx, `select session_id from refresh_tokens where id=$1 for update`, id).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}

	_, err = tx.ExecContext(ctx,
		`update refresh_tokens set is_revoked = true, revoked_at = $2, revoked_reason = $3
		  where id = $1 and is_revoked = false`,
		id, now, reason,
	)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`update sessions set is_active = false where id = $1 and current_refresh_id = $2`,
		sessionID, id,
	)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return tx.Commit()
}

const sessionColumns = `id, owner_id, role, current_refresh_id, last_activity_at, is_active, created_at`

func scanSession(row rowScanner) (*auth.SessionRecord, error) {
	var (
		sess auth.SessionRecord
		role string
	)
	err := row.Scan(&sess.ID, &sess.OwnerID, &role, &sess.CurrentRefreshID, &sess.LastActivityAt, &sess.IsActive, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	sess.Role = auth.Role(role)
	return &sess, nil
}

func (s *Postgres) GetSession(ctx context.Context, sessionID string) (*auth.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id=$1`, sessionID)
	return scanSession(row)
}

func (s *Postgres) ListSessions(ctx context.Context, ownerID uuid.UUID) ([]auth.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where owner_id=$1 order by created_at desc`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.SessionRecord
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *Postgres) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	const stale = `expires_at < $1 or (is_revoked and revoked_at < $1)`

	if _, err := tx.ExecContext(ctx,
		`delete from sessions where current_refresh_id in (select id from refresh_tokens where `+stale+`)`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `delete from refresh_tokens where `+stale, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// Package directory resolves administrators and organizations from their
// own tables. The role picks the table; it is never inferred from the id.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

var _ auth.PrincipalDirectory = (*Postgres)(nil)

// Postgres reads principals from the administrators and organizations tables
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func table(role auth.Role) (string, error) {
	switch role {
	case auth.RoleAdministrator:
		return "administrators", nil
	case auth.RoleOrganization:
		return "organizations", nil
	}
	return "", fmt.Errorf("directory: unknown role %q", role)
}

func scanPrincipal(row *sql.Row, role auth.Role) (*auth.Principal, error) {
	var (
		p         auth.Principal
		lastLogin sql.NullTime
	)
	err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &p.PasswordHash, &p.Status, &p.CreatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	p.Role = role
	if lastLogin.Valid {
		p.LastLoginAt = &lastLogin.Time
	}
	return &p, nil
}

const principalColumns = `id, name, email, password_hash, status, created_at, last_login_at`

func (d *Postgres) Lookup(ctx context.Context, role auth.Role, id uuid.UUID) (*auth.Principal, error) {
	tbl, err := table(role)
	if err != nil {
		return nil, err
	}
	row := d.db.QueryRowContext(ctx, `select `+principalColumns+` from `+tbl+` where id=$1`, id)
	return scanPrincipal(row, role)
}

func (d *Postgres) FindByEmail(ctx context.Context, role auth.Role, email string) (*auth.Principal, error) {
	tbl, err := table(role)
	if err != nil {
		return nil, err
	}
	row := d.db.QueryRowContext(ctx,
		`select `+principalColumns+` from `+tbl+` where lower(email)=$1`, strings.ToLower(strings.TrimSpace(email)))
	return scanPrincipal(row, role)
}

func (d *Postgres) RecordLogin(ctx context.Context, role auth.Role, id uuid.UUID, at time.Time) error {
	tbl, err := table(role)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `update `+tbl+` set last_login_at=$2 where id=$1`, id, at)
	return err
}

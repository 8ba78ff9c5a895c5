package auth

import (
	"time"

	"github.com/google/uuid"
)

// Role tags a principal with the directory it belongs to
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleOrganization  Role = "organization"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleAdministrator || r == RoleOrganization
}

// ParseRole maps wire spellings ("admin", "organization", ...) to a Role
func ParseRole(s string) (Role, bool) {
	switch s {
	case "admin", "administrator":
		return RoleAdministrator, true
	case "organization", "org":
		return RoleOrganization, true
	}
	return "", false
}

// Principal statuses. Administrators are usable while active,
// organizations once approved.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusSuspended = "suspended"
)

// Principal represents an authenticated identity and its role tag
type Principal struct {
	ID           uuid.UUID
	Role         Role
	DisplayName  string
	Email        string
	Status       string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// IsActive applies the per-role status rule
func (p *Principal) IsActive() bool {
	if p == nil {
		return false
	}
	switch p.Role {
	case RoleAdministrator:
		return p.Status == StatusActive
	case RoleOrganization:
		return p.Status == StatusApproved
	}
	return false
}

// DeviceInfo describes the client that requested a credential
type DeviceInfo struct {
	Name      string
	UserAgent string
	ClientIP  string
}

// RefreshCredential represents a stored refresh token record.
// Only the hash of the token is ever persisted.
type RefreshCredential struct {
	ID            uuid.UUID
	TokenHash     string
	OwnerID       uuid.UUID
	Role          Role
	SessionID     string
	Device        DeviceInfo
	ExpiresAt     time.Time
	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason string
	ReplacedBy    *uuid.UUID
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

// Usable reports whether the credential may still be exchanged at now
func (c *RefreshCredential) Usable(now time.Time) bool {
	return c != nil && !c.IsRevoked && c.ExpiresAt.After(now)
}

// SessionRecord is server-side bookkeeping for one login lineage
type SessionRecord struct {
	ID               string
	OwnerID          uuid.UUID
	Role             Role
	CurrentRefreshID uuid.UUID
	LastActivityAt   time.Time
	IsActive         bool
	CreatedAt        time.Time
}

// Revocation reasons recorded on credentials
const (
	ReasonRotation          = "rotation"
	ReasonLogout            = "logout"
	ReasonPrincipalInactive = "principal_inactive"
	ReasonAdminRevoked      = "admin_revoked"
)

// Issued is the result of a login or a rotation
type Issued struct {
	Principal        Principal
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	ExpiresIn        int
}

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RotateParams describes one refresh rotation
type RotateParams struct {
	OldID     uuid.UUID
	New       RefreshCredential
	SessionID string
	Now       time.Time
}

// Store abstracts persistence for refresh credentials and session records.
//
// CreateSession and Rotate must be atomic. Rotate must revoke the old
// credential with a conditional update and fail with ErrInvalidCredential
// when that update does not affect exactly one row.
type Store interface {
	// CreateSession inserts the credential, then the session pointing at it.
	CreateSession(ctx context.Context, cred RefreshCredential, sess SessionRecord) error

	// GetRefreshByHash loads a credential by token hash.
	GetRefreshByHash(ctx context.Context, tokenHash string) (*RefreshCredential, error)

	// Rotate revokes the old credential, inserts the new one and moves the session pointer.
	Rotate(ctx context.Context, p RotateParams) error

	// RevokeRefresh revokes one credential and deactivates its session (idempotent).
	RevokeRefresh(ctx context.Context, id uuid.UUID, reason string, now time.Time) error

	// GetSession loads a session record by ID.
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)

	// ListSessions returns the session records of an owner, newest first.
	ListSessions(ctx context.Context, ownerID uuid.UUID) ([]SessionRecord, error)

	// PurgeExpired deletes credentials that expired or were revoked before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// PrincipalDirectory resolves principals from the directory that owns their role
type PrincipalDirectory interface {
	Lookup(ctx context.Context, role Role, id uuid.UUID) (*Principal, error)
	FindByEmail(ctx context.Context, role Role, email string) (*Principal, error)
	RecordLogin(ctx context.Context, role Role, id uuid.UUID, at time.Time) error
}

// GraceCache remembers the pair issued by a rotation so that a concurrent
// holder of the same old credential can be handed the winner's pair.
type GraceCache interface {
	Remember(ctx context.Context, oldToken string, issued Issued) error
	Recall(ctx context.Context, oldToken string) (*Issued, error)
}

// Recorder receives issuance and rotation outcomes for metrics
type Recorder interface {
	ObserveIssue(role Role)
	ObserveRefresh(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveIssue(Role)     {}
func (noopRecorder) ObserveRefresh(string) {}

// Refresh outcomes reported to the Recorder
const (
	OutcomeSuccess           = "success"
	OutcomeMalformed         = "malformed"
	OutcomeInvalid           = "invalid"
	OutcomePrincipalInactive = "principal_inactive"
	OutcomeStoreFailure      = "store_failure"
)

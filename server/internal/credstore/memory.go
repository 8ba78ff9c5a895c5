package credstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

var _ auth.Store = (*Memory)(nil)

// Memory is an in-process Store used in development and tests.
// All operations take a single mutex, which makes Rotate trivially atomic.
type Memory struct {
	mu       sync.Mutex
	creds    map[uuid.UUID]auth.RefreshCredential
	byHash   map[string]uuid.UUID
	sessions map[string]auth.SessionRecord
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		creds:    make(map[uuid.UUID]auth.RefreshCredential),
		byHash:   make(map[string]uuid.UUID),
		sessions: make(map[string]auth.SessionRecord),
	}
}

func (m *Memory) CreateSession(ctx context.Context, cred auth.RefreshCredential, sess auth.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byHash[cred.TokenHash]; dup {
		return errDuplicateToken
	}
	if _, dup := m.sessions[sess.ID]; dup {
		return errDuplicateSession
	}
	m.creds[cred.ID] = cred
	m.byHash[cred.TokenHash] = cred.ID
	m.sessions[sess.ID] = sess
	return nil
}

func (m *Memory) GetRefreshByHash(ctx context.Context, tokenHash string) (*auth.RefreshCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cred := m.creds[id]
	return &cred, nil
}

func (m *Memory) Rotate(ctx context.Context, p auth.RotateParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.creds[p.OldID]
	if !ok || old.IsRevoked || !old.ExpiresAt.After(p.Now) {
		return auth.ErrInvalidCredential
	}
	sess, ok := m.sessions[p.SessionID]
	if !ok || !sess.IsActive {
		return auth.ErrInvalidCredential
	}
	if _, dup := m.byHash[p.New.TokenHash]; dup {
		return errDuplicateToken
	}

	now := p.Now
	newID := p.New.ID
	old.IsRevoked = true
	old.RevokedAt = &now
	old.RevokedReason = auth.ReasonRotation
	old.ReplacedBy = &newID
	old.LastUsedAt = &now
	m.creds[old.ID] = old

	m.creds[p.New.ID] = p.New
	m.byHash[p.New.TokenHash] = p.New.ID

	sess.CurrentRefreshID = p.New.ID
	sess.LastActivityAt = now
	m.sessions[sess.ID] = sess
	return nil
}

func (m *Memory) RevokeRefresh(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[id]
	if !ok {
		return auth.ErrNotFound
	}
	if !cred.IsRevoked {
		cred.IsRevoked = true
		cred.RevokedAt = &now
		cred.RevokedReason = reason
		m.creds[id] = cred
	}
	if sess, ok := m.sessions[cred.SessionID]; ok && sess.CurrentRefreshID == id {
		sess.IsActive = false
		m.sessions[sess.ID] = sess
	}
	return nil
}

func (m *Memory) GetSession(ctx context.Context, sessionID string) (*auth.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &sess, nil
}

func (m *Memory) ListSessions(ctx context.Context, ownerID uuid.UUID) ([]auth.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []auth.SessionRecord
	for _, sess := range m.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, cred := range m.creds {
		expired := cred.ExpiresAt.Before(cutoff)
		revoked := cred.IsRevoked && cred.RevokedAt != nil && cred.RevokedAt.Before(cutoff)
		if !expired && !revoked {
			continue
		}
		if sess, ok := m.sessions[cred.SessionID]; ok && sess.CurrentRefreshID == id {
			delete(m.sessions, sess.ID)
		}
		delete(m.byHash, cred.TokenHash)
		delete(m.creds, id)
		n++
	}
	return n, nil
}

// Counts reports the number of stored credentials and sessions
func (m *Memory) Counts() (creds, sessions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds), len(m.sessions)
}

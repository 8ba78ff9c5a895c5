package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

var _ auth.PrincipalDirectory = (*Memory)(nil)

type key struct {
	role auth.Role
	id   uuid.UUID
}

// Memory is an in-process directory for development and tests
type Memory struct {
	mu         sync.RWMutex
	principals map[key]auth.Principal
}

// NewMemory creates an empty directory
func NewMemory() *Memory {
	return &Memory{principals: make(map[key]auth.Principal)}
}

// Put inserts or replaces a principal under its own role
func (m *Memory) Put(p auth.Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[key{p.Role, p.ID}] = p
}

// SetStatus changes the status of a stored principal
func (m *Memory) SetStatus(role auth.Role, id uuid.UUID, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[key{role, id}]
	if !ok {
		return false
	}
	p.Status = status
	m.principals[key{role, id}] = p
	return true
}

func (m *Memory) Lookup(ctx context.Context, role auth.Role, id uuid.UUID) (*auth.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[key{role, id}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) FindByEmail(ctx context.Context, role auth.Role, email string) (*auth.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, p := range m.principals {
		if k.role == role && strings.ToLower(p.Email) == email {
			return &p, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *Memory) RecordLogin(ctx context.Context, role auth.Role, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[key{role, id}]
	if !ok {
		return auth.ErrNotFound
	}
	p.LastLoginAt = &at
	m.principals[key{role, id}] = p
	return nil
}

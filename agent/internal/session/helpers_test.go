package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/api"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/keychain"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

var org = api.Principal{
	ID:     "7d0b8a4e-0f7e-4b8e-9a55-0c5e8f9f3e10",
	Name:   "Croix-Rouge Thies",
	Email:  "contact@cr-thies.sn",
	Type:   "organization",
	Status: "approved",
}

// fakeServer rotates refresh tokens the way the auth server does: each
// token works once and yields the next pair.
type fakeServer struct {
	mu      sync.Mutex
	valid   map[string]bool
	issued  int
	calls   int
	revoked []string
	block   chan struct{}
	err     error
}

func newFakeServer(valid ...string) *fakeServer {
	f := &fakeServer{valid: make(map[string]bool)}
	for _, v := range valid {
		f.valid[v] = true
	}
	f.issued = len(valid)
	return f
}

func (f *fakeServer) Refresh(ctx context.Context, token string) (*api.SessionResponse, error) {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.valid[token] {
		return nil, &api.StatusError{StatusCode: 401, Message: "Invalid or expired refresh token"}
	}
	delete(f.valid, token)
	f.issued++
	next := fmt.Sprintf("R%d", f.issued)
	f.valid[next] = true
	return &api.SessionResponse{
		Success:      true,
		User:         org,
		Token:        fmt.Sprintf("A%d", f.issued),
		RefreshToken: next,
		ExpiresIn:    900,
	}, nil
}

func (f *fakeServer) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	delete(f.valid, token)
	return nil
}

func (f *fakeServer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeServer) Revoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

type fixture struct {
	ctx    *Context
	kc     *keychain.MockKeychain
	clock  *ManualClock
	server *fakeServer
}

func newFixture(t *testing.T, server *fakeServer, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		kc:     keychain.NewMockKeychain(),
		clock:  NewManualClock(epoch),
		server: server,
	}
	cfg := Config{
		Keychain:       f.kc,
		Client:         server,
		Clock:          f.clock,
		RefreshLead:    DefaultRefreshLead,
		RequestTimeout: 100 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.ctx = New(cfg)
	t.Cleanup(f.ctx.Close)
	return f
}

func (f *fixture) persisted(t *testing.T) (*Snapshot, bool) {
	t.Helper()
	data, err := f.kc.Get(keychain.KeySnapshot)
	if err != nil {
		return nil, false
	}
	snap, err := decodeSnapshot(data)
	require.NoError(t, err, "persisted snapshot unreadable")
	return snap, true
}

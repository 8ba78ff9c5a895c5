package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/credstore"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/directory"
)

var secret = []byte("test-secret-key-min-32-bytes-long!")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// spyStore counts reads and writes and can inject failures
type spyStore struct {
	auth.Store
	reads      atomic.Int32
	writes     atomic.Int32
	failCreate error
	failRotate error
}

func (s *spyStore) CreateSession(ctx context.Context, cred auth.RefreshCredential, sess auth.SessionRecord) error {
	s.writes.Add(1)
	if s.failCreate != nil {
		return s.failCreate
	}
	return s.Store.CreateSession(ctx, cred, sess)
}

func (s *spyStore) GetRefreshByHash(ctx context.Context, hash string) (*auth.RefreshCredential, error) {
	s.reads.Add(1)
	return s.Store.GetRefreshByHash(ctx, hash)
}

func (s *spyStore) Rotate(ctx context.Context, p auth.RotateParams) error {
	s.writes.Add(1)
	if s.failRotate != nil {
		return s.failRotate
	}
	return s.Store.Rotate(ctx, p)
}

func (s *spyStore) RevokeRefresh(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	s.writes.Add(1)
	return s.Store.RevokeRefresh(ctx, id, reason, now)
}

type outcomes struct {
	mu      sync.Mutex
	issued  []auth.Role
	refresh []string
}

func (o *outcomes) ObserveIssue(r auth.Role) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued = append(o.issued, r)
}

func (o *outcomes) ObserveRefresh(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refresh = append(o.refresh, outcome)
}

func (o *outcomes) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.refresh) == 0 {
		return ""
	}
	return o.refresh[len(o.refresh)-1]
}

type mapGrace struct {
	mu    sync.Mutex
	pairs map[string]auth.Issued
}

func (g *mapGrace) Remember(_ context.Context, old string, issued auth.Issued) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pairs == nil {
		g.pairs = make(map[string]auth.Issued)
	}
	g.pairs[old] = issued
	return nil
}

func (g *mapGrace) Recall(_ context.Context, old string) (*auth.Issued, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	issued, ok := g.pairs[old]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &issued, nil
}

type fixture struct {
	clock     *testClock
	mem       *credstore.Memory
	store     *spyStore
	dir       *directory.Memory
	recorder  *outcomes
	tokens    *auth.AuthService
	issuer    *auth.Issuer
	refresher *auth.Refresher
	org       auth.Principal
	admin     auth.Principal
}

func newFixture(t *testing.T, opts ...auth.RefresherOption) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		mem:      credstore.NewMemory(),
		dir:      directory.NewMemory(),
		recorder: &outcomes{},
	}
	f.store = &spyStore{Store: f.mem}
	f.tokens = auth.NewAuthService(secret, auth.WithClock(f.clock.Now))
	f.issuer = auth.NewIssuer(f.tokens, f.store, auth.WithRecorder(f.recorder))
	f.refresher = auth.NewRefresher(f.issuer, f.dir, opts...)

	f.org = auth.Principal{
		ID:          uuid.New(),
		Role:        auth.RoleOrganization,
		DisplayName: "Mairie de Saint-Louis",
		Email:       "mairie@saintlouis.sn",
		Status:      auth.StatusApproved,
		CreatedAt:   f.clock.Now().Add(-30 * 24 * time.Hour),
	}
	f.admin = auth.Principal{
		ID:          uuid.New(),
		Role:        auth.RoleAdministrator,
		DisplayName: "Awa Ndiaye",
		Email:       "awa@sen-alerte.sn",
		Status:      auth.StatusActive,
	}
	f.dir.Put(f.org)
	f.dir.Put(f.admin)
	return f
}

func (f *fixture) login(t *testing.T, p auth.Principal) auth.Issued {
	t.Helper()
	issued, err := f.issuer.Issue(context.Background(), &p, auth.DeviceInfo{Name: "test"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return issued
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/credstore"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/directory"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/metrics"
)

const testPassword = "Sen@lerte-2025!"

var (
	testSecret = []byte("test-secret-key-min-32-bytes-long!")

	// bcrypt at cost 12 is slow, so every test shares one hash
	passwordHash = func() string {
		h, err := auth.NewAuthService(testSecret).HashPassword(testPassword)
		if err != nil {
			panic(err)
		}
		return h
	}()
)

type rotateFailStore struct {
	*credstore.Memory
}

func (rotateFailStore) Rotate(context.Context, auth.RotateParams) error {
	return errors.New("connection reset by peer")
}

type testServer struct {
	tokens  *auth.AuthService
	store   *credstore.Memory
	dir     *directory.Memory
	audit   *auth.InMemoryAuditLogger
	metrics *metrics.Metrics
	limiter *auth.RateLimiter
	router  http.Handler

	admin auth.Principal
	org   auth.Principal
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithStore(t, nil)
}

// newTestServerWithStore routes rotations through wrap(store) when wrap is non-nil
func newTestServerWithStore(t *testing.T, wrap func(*credstore.Memory) auth.Store) *testServer {
	t.Helper()

	ts := &testServer{
		tokens:  auth.NewAuthService(testSecret),
		store:   credstore.NewMemory(),
		dir:     directory.NewMemory(),
		audit:   auth.NewInMemoryAuditLogger(),
		metrics: metrics.New(),
		limiter: auth.NewRateLimiter(time.Hour, time.Hour, 1000),
	}
	t.Cleanup(ts.limiter.Stop)

	var store auth.Store = ts.store
	if wrap != nil {
		store = wrap(ts.store)
	}

	ts.admin = auth.Principal{
		ID:           uuid.New(),
		Role:         auth.RoleAdministrator,
		DisplayName:  "Awa Ndiaye",
		Email:        "awa@sen-alerte.sn",
		Status:       auth.StatusActive,
		PasswordHash: passwordHash,
		CreatedAt:    time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
	}
	ts.org = auth.Principal{
		ID:           uuid.New(),
		Role:         auth.RoleOrganization,
		DisplayName:  "Protection Civile Dakar",
		Email:        "contact@pc-dakar.sn",
		Status:       auth.StatusApproved,
		PasswordHash: passwordHash,
		CreatedAt:    time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	ts.dir.Put(ts.admin)
	ts.dir.Put(ts.org)

	issuer := auth.NewIssuer(ts.tokens, store, auth.WithRecorder(ts.metrics))
	h := NewHandler(Deps{
		Tokens:       ts.tokens,
		Issuer:       issuer,
		Refresher:    auth.NewRefresher(issuer, ts.dir),
		Directory:    ts.dir,
		Store:        store,
		Audit:        ts.audit,
		LoginLimiter: ts.limiter,
	})
	ts.router = NewRouter(h, RouterConfig{
		Metrics:          ts.metrics,
		IsDev:            true,
		BodyLimit:        1024,
		RefreshLimit:     100,
		RefreshWindow:    time.Minute,
		LoginMaxAttempts: 3,
		LoginWindow:      15 * time.Minute,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "196.207.1.10:40000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) login(t *testing.T, p auth.Principal) SessionResponse {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/auth/login", LoginRequest{
		Email:    p.Email,
		Password: testPassword,
		UserType: wireType(p.Role),
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp SessionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, rr.Body.String())
	}
	return resp
}

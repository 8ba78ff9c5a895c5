package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

var secretKey = []byte("test-secret-key-min-32-bytes-long!")

func tokenFor(t *testing.T, svc *auth.AuthService, role auth.Role, at time.Time) (string, *auth.Principal) {
	t.Helper()
	p := &auth.Principal{ID: uuid.New(), Role: role, Email: "agent@sen-alerte.sn", DisplayName: "Agent"}
	token, _, err := svc.GenerateAccessToken(p, "sess-1", at)
	if err != nil {
		t.Fatalf("setup failed: GenerateAccessToken() error = %v", err)
	}
	return token, p
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestRequireAuth_ValidToken(t *testing.T) {
	svc := auth.NewAuthService(secretKey)
	token, p := tokenFor(t, svc, auth.RoleOrganization, time.Now())

	handlerCalled := false
	handler := RequireAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("claims not found in context")
			return
		}
		if claims.Subject != p.ID.String() {
			t.Errorf("context subject = %v, want %v", claims.Subject, p.ID)
		}
		if claims.SessionID != "sess-1" {
			t.Errorf("context session = %q, want sess-1", claims.SessionID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !handlerCalled {
		t.Error("handler was not called")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	svc := auth.NewAuthService(secretKey)
	expired, _ := tokenFor(t, svc, auth.RoleAdministrator, time.Now().Add(-time.Hour))
	foreign, _ := tokenFor(t, auth.NewAuthService([]byte("another-secret-key-min-32-bytes-long")), auth.RoleAdministrator, time.Now())

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "Missing or invalid authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Missing or invalid authorization header"},
		{"garbage token", "Bearer invalid.token.here", "Invalid or expired token"},
		{"expired token", "Bearer " + expired, "Invalid or expired token"},
		{"foreign signature", "Bearer " + foreign, "Invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireAuth(svc)(okHandler(&called))

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if called {
				t.Error("handler should not be called")
			}
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
			body := decodeError(t, rr)
			if body["success"] != false || body["error"] != tt.want {
				t.Errorf("body = %v, want error %q", body, tt.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewAuthService(secretKey)

	tests := []struct {
		name  string
		role  auth.Role
		allow []auth.Role
		want  int
	}{
		{"administrator on admin route", auth.RoleAdministrator, []auth.Role{auth.RoleAdministrator}, http.StatusOK},
		{"organization on admin route", auth.RoleOrganization, []auth.Role{auth.RoleAdministrator}, http.StatusForbidden},
		{"organization on shared route", auth.RoleOrganization, []auth.Role{auth.RoleAdministrator, auth.RoleOrganization}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _ := tokenFor(t, svc, tt.role, time.Now())
			called := false
			handler := RequireAuth(svc)(RequireRole(tt.allow...)(okHandler(&called)))

			req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if called != (tt.want == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
		})
	}
}

func TestRequireRole_WithoutClaims(t *testing.T) {
	called := false
	handler := RequireRole(auth.RoleAdministrator)(okHandler(&called))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/sessions", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/config"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/keychain"
)

const (
	testEmail    = "contact@cr-thies.sn"
	testPassword = "Sen@lerte-2025!"
)

var testUser = map[string]any{
	"id":         "7d0b8a4e-0f7e-4b8e-9a55-0c5e8f9f3e10",
	"name":       "Croix-Rouge Thies",
	"email":      testEmail,
	"type":       "organization",
	"status":     "approved",
	"created_at": "2024-03-02T08:00:00Z",
}

// authServer mimics the auth server: refresh tokens rotate and work once
type authServer struct {
	*httptest.Server

	mu      sync.Mutex
	issued  int
	access  string
	valid   map[string]bool
	revoked []string
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	s := &authServer{valid: make(map[string]bool)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("POST /auth/refresh", s.refresh)
	mux.HandleFunc("POST /auth/logout", s.logout)
	mux.HandleFunc("GET /auth/me", s.me)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *authServer) issueLocked(w http.ResponseWriter) {
	s.issued++
	s.access = fmt.Sprintf("A%d", s.issued)
	refresh := fmt.Sprintf("R%d", s.issued)
	s.valid[refresh] = true
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"user":         testUser,
		"token":        s.access,
		"refreshToken": refresh,
		"expiresIn":    900,
	})
}

func (s *authServer) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		UserType string `json:"userType"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Email != testEmail || req.Password != testPassword || req.UserType != "organization" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid credentials"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueLocked(w)
}

func (s *authServer) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid[req.RefreshToken] {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired refresh token"})
		return
	}
	delete(s.valid, req.RefreshToken)
	s.issueLocked(w)
}

func (s *authServer) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.valid, req.RefreshToken)
	s.revoked = append(s.revoked, req.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

func (s *authServer) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer "+s.access {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"user":      testUser,
		"sessionId": "01JA2B3C4D5E6F7G8H9J0K1M2N",
		"expiresAt": "2030-01-01T00:00:00Z",
	})
}

func (s *authServer) invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.valid, token)
}

func (s *authServer) isValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid[token]
}

func (s *authServer) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setupAgentEnv points HOME at a temp dir, the agent at serverURL and the
// keychain at an in-memory mock
func setupAgentEnv(t *testing.T, serverURL string) *keychain.MockKeychain {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(config.EnvServerURL, serverURL)

	writeTestConfig(t, home, "logging:\n  level: error\n")

	kc := keychain.NewMockKeychain()
	orig := keychainFactory
	keychainFactory = func(*config.Config) keychain.Keychain { return kc }
	t.Cleanup(func() { keychainFactory = orig })
	return kc
}

func writeTestConfig(t *testing.T, home, yaml string) string {
	t.Helper()
	dir := filepath.Join(home, ".sen-alerte")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// execute runs args against a fresh root holding every agent command
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), stdin, args...)
}

func executeContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "sen-alerte", SilenceUsage: true, SilenceErrors: true}
	cmd.AddCommand(loginCmd, logoutCmd, statusCmd, refreshCmd, whoamiCmd, watchCmd, migrateCmd, configCmd, versionCmd)
	// cobra only hands the context down to commands that have none yet
	setContext(cmd, ctx)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return output.String(), err
}

func setContext(c *cobra.Command, ctx context.Context) {
	c.SetContext(ctx)
	for _, sub := range c.Commands() {
		setContext(sub, ctx)
	}
}

func loginForTest(t *testing.T) {
	t.Helper()
	if out, err := execute(t, "", "login", "--email", testEmail, "--password", testPassword); err != nil {
		t.Fatalf("login failed: %v\n%s", err, out)
	}
}

package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/keychain"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/session"
)

func storedSnapshot(t *testing.T, kc keychain.Keychain) (*session.Snapshot, bool) {
	t.Helper()
	data, err := kc.Get(keychain.KeySnapshot)
	if err != nil {
		return nil, false
	}
	var snap session.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		t.Fatalf("stored snapshot unreadable: %v", err)
	}
	return &snap, true
}

func TestLoginCommand(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)

	out, err := execute(t, "", "login", "--email", testEmail, "--password", testPassword)
	if err != nil {
		t.Fatalf("login command failed: %v", err)
	}
	if !strings.Contains(out, "Logged in as Croix-Rouge Thies (organization)") {
		t.Errorf("unexpected output: %q", out)
	}

	snap, ok := storedSnapshot(t, kc)
	if !ok {
		t.Fatal("expected session to be stored")
	}
	if snap.Token != "A1" || snap.RefreshToken != "R1" || !snap.IsAuthenticated {
		t.Errorf("stored snapshot = %+v", snap)
	}
	if snap.UserType != "organization" || snap.Version != session.SnapshotVersion {
		t.Errorf("stored snapshot = %+v", snap)
	}
	expiry, ok := snap.Expiry()
	if !ok {
		t.Fatal("expected an expiry")
	}
	if d := time.Until(expiry); d < 890*time.Second || d > 900*time.Second {
		t.Errorf("expiry in %v, want about 900s", d)
	}
}

func TestLoginCommand_Prompts(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)

	out, err := execute(t, testEmail+"\n"+testPassword+"\n", "login")
	if err != nil {
		t.Fatalf("login command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Email: ") || !strings.Contains(out, "Password: ") {
		t.Errorf("expected prompts, got %q", out)
	}
	if _, ok := storedSnapshot(t, kc); !ok {
		t.Error("expected session to be stored")
	}
}

func TestLoginCommand_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"wrong password", []string{"--email", testEmail, "--password", "nope"}, "invalid credentials"},
		{"wrong account type", []string{"--email", testEmail, "--password", testPassword, "--type", "admin"}, "invalid credentials"},
		{"unknown account type", []string{"--email", testEmail, "--password", testPassword, "--type", "citizen"}, "invalid account type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newAuthServer(t)
			kc := setupAgentEnv(t, server.URL)

			_, err := execute(t, "", append([]string{"login"}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
			if kc.Len() != 0 {
				t.Errorf("keychain holds %d entries, want 0", kc.Len())
			}
		})
	}
}

func TestLoginCommand_ReplacesPreviousSession(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)

	loginForTest(t)
	loginForTest(t)

	if got := server.Revoked(); len(got) != 1 || got[0] != "R1" {
		t.Errorf("revoked = %v, want [R1]", got)
	}
	snap, _ := storedSnapshot(t, kc)
	if snap.RefreshToken != "R2" {
		t.Errorf("refresh token = %q, want R2", snap.RefreshToken)
	}
}

func TestLogoutCommand(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)
	loginForTest(t)
	if err := kc.Set(keychain.KeyLegacyToken, "legacy"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "logout")
	if err != nil {
		t.Fatalf("logout command failed: %v", err)
	}
	if !strings.Contains(out, "Logged out successfully") {
		t.Errorf("unexpected output: %q", out)
	}
	if kc.Len() != 0 {
		t.Errorf("keychain holds %d entries, want 0", kc.Len())
	}
	if server.isValid("R1") {
		t.Error("refresh token should be revoked on the server")
	}

	// logging out twice is fine
	if _, err := execute(t, "", "logout"); err != nil {
		t.Errorf("second logout failed: %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	server := newAuthServer(t)
	setupAgentEnv(t, server.URL)

	out, err := execute(t, "", "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	if !strings.Contains(out, "Not logged in.") {
		t.Errorf("unexpected output: %q", out)
	}

	loginForTest(t)
	out, err = execute(t, "", "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	for _, part := range []string{"State:      authenticated", "User:       Croix-Rouge Thies <" + testEmail + ">", "Type:       organization", "Expires at: "} {
		if !strings.Contains(out, part) {
			t.Errorf("output missing %q\nGot:\n%s", part, out)
		}
	}
}

func TestStatusCommand_ExpiredSessionIsLoggedOut(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)
	loginForTest(t)

	snap, _ := storedSnapshot(t, kc)
	past := time.Now().Add(-time.Minute).UnixMilli()
	snap.SessionExpiry = &past
	data, _ := json.Marshal(snap)
	if err := kc.Set(keychain.KeySnapshot, string(data)); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	if !strings.Contains(out, "Not logged in.") {
		t.Errorf("unexpected output: %q", out)
	}
	if _, ok := storedSnapshot(t, kc); ok {
		t.Error("expired snapshot should be removed")
	}
	if server.isValid("R1") {
		t.Error("refresh token of the expired session should be revoked")
	}
}

func TestRefreshCommand(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)
	loginForTest(t)

	out, err := execute(t, "", "refresh")
	if err != nil {
		t.Fatalf("refresh command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "State:      authenticated") {
		t.Errorf("unexpected output: %q", out)
	}

	snap, _ := storedSnapshot(t, kc)
	if snap.Token != "A2" || snap.RefreshToken != "R2" {
		t.Errorf("stored snapshot = %+v, want A2/R2", snap)
	}
	if server.isValid("R1") {
		t.Error("R1 should be consumed")
	}
}

func TestRefreshCommand_RejectedTokenLogsOut(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)
	loginForTest(t)
	server.invalidate("R1")

	_, err := execute(t, "", "refresh")
	if err == nil || !strings.Contains(err.Error(), "please log in again") {
		t.Fatalf("error = %v, want re-login prompt", err)
	}
	if _, ok := storedSnapshot(t, kc); ok {
		t.Error("snapshot should be cleared after a rejected refresh")
	}
}

func TestRefreshCommand_NotLoggedIn(t *testing.T) {
	server := newAuthServer(t)
	setupAgentEnv(t, server.URL)

	if _, err := execute(t, "", "refresh"); err == nil || err.Error() != "not logged in" {
		t.Errorf("error = %v, want not logged in", err)
	}
}

func TestWhoamiCommand(t *testing.T) {
	server := newAuthServer(t)
	setupAgentEnv(t, server.URL)

	if _, err := execute(t, "", "whoami"); err == nil {
		t.Error("expected error when not logged in")
	}

	loginForTest(t)
	out, err := execute(t, "", "whoami")
	if err != nil {
		t.Fatalf("whoami command failed: %v", err)
	}
	for _, part := range []string{"Name:       Croix-Rouge Thies", "Email:      " + testEmail, "Session:    01JA2B3C4D5E6F7G8H9J0K1M2N"} {
		if !strings.Contains(out, part) {
			t.Errorf("output missing %q\nGot:\n%s", part, out)
		}
	}
}

func TestMigrateCommand(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)

	blob, _ := json.Marshal(map[string]any{
		"user":      map[string]any{"id": "3f1e2d4c-1a2b-4c3d-8e9f-0a1b2c3d4e5f", "name": "Awa Ndiaye", "email": "awa@sen-alerte.sn"},
		"timestamp": time.Now().Add(-2 * time.Hour).UnixMilli(),
	})
	if err := kc.Set(keychain.KeyLegacyAdmin, string(blob)); err != nil {
		t.Fatal(err)
	}
	if err := kc.Set(keychain.KeyLegacyToken, "legacy-token"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "migrate")
	if err != nil {
		t.Fatalf("migrate command failed: %v", err)
	}
	if !strings.Contains(out, "Adopted legacy session from admin_auth.") {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = execute(t, "", "migrate")
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(out, "Nothing to migrate.") {
		t.Errorf("second run should be a no-op, got %q", out)
	}

	out, _ = execute(t, "", "status")
	if !strings.Contains(out, "Type:       admin") || !strings.Contains(out, "unavailable (migrated session)") {
		t.Errorf("unexpected status: %q", out)
	}
	if _, err := kc.Get(keychain.KeyLegacyToken); err == nil {
		t.Error("legacy token should be deleted")
	}
}

func TestWatchCommand(t *testing.T) {
	server := newAuthServer(t)
	setupAgentEnv(t, server.URL)

	if _, err := execute(t, "", "watch"); err == nil || err.Error() != "not logged in" {
		t.Fatalf("error = %v, want not logged in", err)
	}

	loginForTest(t)

	orig := watchPoll
	watchPoll = 10 * time.Millisecond
	defer func() { watchPoll = orig }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out, err := executeContext(t, ctx, "", "watch")
	if err != nil {
		t.Fatalf("watch command failed: %v", err)
	}
	if !strings.Contains(out, "Watching session, next refresh at") || !strings.Contains(out, "Stopped. Session kept.") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestWatchCommand_SessionEnds(t *testing.T) {
	server := newAuthServer(t)
	kc := setupAgentEnv(t, server.URL)
	loginForTest(t)

	// an expiry inside the refresh lead makes watch refresh at once
	snap, _ := storedSnapshot(t, kc)
	soon := time.Now().Add(30 * time.Second).UnixMilli()
	snap.SessionExpiry = &soon
	data, _ := json.Marshal(snap)
	if err := kc.Set(keychain.KeySnapshot, string(data)); err != nil {
		t.Fatal(err)
	}
	server.invalidate("R1")

	orig := watchPoll
	watchPoll = 10 * time.Millisecond
	defer func() { watchPoll = orig }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the refresh may fail before or after watch starts polling
	if _, err := executeContext(t, ctx, "", "watch"); err == nil {
		t.Fatal("expected watch to fail once the refresh is rejected")
	}
	if _, ok := storedSnapshot(t, kc); ok {
		t.Error("snapshot should be cleared")
	}
}

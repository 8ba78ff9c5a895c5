// Package legacy migrates sessions written by the pre-rotation client
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/api"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/keychain"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/session"
)

// Lifetime is the fixed validity of an adopted legacy session, counted
// from the artifact's own timestamp
const Lifetime = 24 * time.Hour

// Artifact is a role-tagged session blob from the old client
type Artifact struct {
	User api.Principal `json:"user"`
	// Timestamp is when the old client wrote the blob, in Unix milliseconds
	Timestamp int64 `json:"timestamp"`
}

// Sessions is the part of the session cache the adapter needs
type Sessions interface {
	State() session.State
	Adopt(user api.Principal, userType string, expiresAt time.Time) error
}

// Result reports what a run did
type Result struct {
	Adopted   string   `json:"adopted,omitempty"`
	Discarded []string `json:"discarded,omitempty"`
}

// Adapter adopts at most one legacy artifact and deletes all of them
type Adapter struct {
	kc       keychain.Keychain
	sessions Sessions
	now      func() time.Time
	log      *slog.Logger
}

// NewAdapter creates an adapter. now defaults to time.Now.
func NewAdapter(kc keychain.Keychain, sessions Sessions, now func() time.Time, log *slog.Logger) *Adapter {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{kc: kc, sessions: sessions, now: now, log: log}
}

// roleKeys lists the role-tagged artifacts in adoption order
var roleKeys = []struct {
	key      string
	userType string
}{
	{keychain.KeyLegacyAdmin, "admin"},
	{keychain.KeyLegacyOrganization, "organization"},
}

// Run scans the legacy artifacts. When no session is cached, the first
// unexpired artifact is adopted. Every artifact is then deleted, so a second
// run finds nothing.
func (a *Adapter) Run(ctx context.Context) (Result, error) {
	var res Result
	adopt := !a.sessions.State().Authenticated()

	for _, rk := range roleKeys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		data, err := a.kc.Get(rk.key)
		if errors.Is(err, keychain.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to read %s: %w", rk.key, err)
		}

		var art Artifact
		if err := json.Unmarshal([]byte(data), &art); err != nil || art.Timestamp <= 0 || art.User.ID == "" {
			a.log.Warn("legacy.artifact_unreadable", "key", rk.key)
			res.Discarded = append(res.Discarded, rk.key)
			continue
		}

		expiresAt := time.UnixMilli(art.Timestamp).Add(Lifetime)
		if !adopt || !a.now().Before(expiresAt) {
			res.Discarded = append(res.Discarded, rk.key)
			continue
		}

		if art.User.Type == "" {
			art.User.Type = rk.userType
		}
		if err := a.sessions.Adopt(art.User, rk.userType, expiresAt); err != nil {
			return res, fmt.Errorf("failed to adopt %s: %w", rk.key, err)
		}
		a.log.Info("legacy.adopted", "key", rk.key, "expires_at", expiresAt)
		res.Adopted = rk.key
		adopt = false
	}

	for _, key := range keychain.LegacyKeys() {
		if err := a.kc.Delete(key); err != nil && !errors.Is(err, keychain.ErrNotFound) {
			return res, fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return res, nil
}

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Issuer mints access/refresh pairs for validated principals
type Issuer struct {
	tokens     *AuthService
	store      Store
	refreshTTL time.Duration
	recorder   Recorder
	log        *slog.Logger
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) IssuerOption {
	return func(i *Issuer) {
		if r != nil {
			i.recorder = r
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if log != nil {
			i.log = log
		}
	}
}

// NewIssuer constructs an Issuer
func NewIssuer(tokens *AuthService, store Store, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		tokens:     tokens,
		store:      store,
		refreshTTL: DefaultRefreshTTL,
		recorder:   noopRecorder{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RefreshTTL returns the refresh token lifetime
func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// Issue starts a new session for p and returns a fresh access/refresh pair.
//
// The credential and the session pointing at it are written in a single
// store call, credential first, so a session never references a missing credential.
func (i *Issuer) Issue(ctx context.Context, p *Principal, dev DeviceInfo) (Issued, error) {
	now := i.tokens.Now()
	sessionID := ulid.Make().String()

	cred, plain, err := i.newCredential(p, sessionID, dev, now)
	if err != nil {
		return Issued{}, fmt.Errorf("generate refresh token: %w", err)
	}

	access, accessExp, err := i.tokens.GenerateAccessToken(p, sessionID, now)
	if err != nil {
		return Issued{}, fmt.Errorf("sign access token: %w", err)
	}

	sess := SessionRecord{
		ID:               sessionID,
		OwnerID:          p.ID,
		Role:             p.Role,
		CurrentRefreshID: cred.ID,
		LastActivityAt:   now,
		IsActive:         true,
		CreatedAt:        now,
	}
	if err := i.store.CreateSession(ctx, cred, sess); err != nil {
		i.log.Error("auth.issue.store_failed", "owner_id", p.ID, "role", p.Role, "err", err)
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	i.recorder.ObserveIssue(p.Role)

	return Issued{
		Principal:        *p,
		SessionID:        sessionID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plain,
		RefreshExpiresAt: cred.ExpiresAt,
		ExpiresIn:        int(i.tokens.AccessTTL().Seconds()),
	}, nil
}

func (i *Issuer) newCredential(p *Principal, sessionID string, dev DeviceInfo, now time.Time) (RefreshCredential, string, error) {
	plain, err := i.tokens.GenerateRefreshToken()
	if err != nil {
		return RefreshCredential{}, "", err
	}
	return RefreshCredential{
		ID:        uuid.New(),
		TokenHash: HashToken(plain),
		OwnerID:   p.ID,
		Role:      p.Role,
		SessionID: sessionID,
		Device:    dev,
		ExpiresAt: now.Add(i.refreshTTL),
		CreatedAt: now,
	}, plain, nil
}

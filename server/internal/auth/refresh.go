package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultGraceWait bounds how long a holder that lost the rotation race waits
// for the winner's pair to appear in the grace cache.
const DefaultGraceWait = 250 * time.Millisecond

const graceWaitStep = 10 * time.Millisecond

// CredentialRejection carries the internal reason a refresh credential was
// refused. It unwraps to ErrInvalidCredential; the reason is for audit only.
type CredentialRejection struct {
	Reason string
}

func (e CredentialRejection) Error() string {
	return fmt.Sprintf("%s (%s)", ErrInvalidCredential.Error(), e.Reason)
}

func (e CredentialRejection) Unwrap() error { return ErrInvalidCredential }

// Rejection reasons
const (
	RejectNotFound   = "not_found"
	RejectRevoked    = "revoked"
	RejectExpired    = "expired"
	RejectLostRace   = "lost_race"
	RejectRoleChange = "role_mismatch"
)

// Refresher exchanges refresh credentials for new access/refresh pairs
type Refresher struct {
	issuer    *Issuer
	directory PrincipalDirectory
	grace     GraceCache
	graceWait time.Duration
	log       *slog.Logger
}

// RefresherOption configures a Refresher
type RefresherOption func(*Refresher)

// WithGraceCache enables the rotation grace window
func WithGraceCache(g GraceCache) RefresherOption {
	return func(r *Refresher) {
		r.grace = g
	}
}

// WithGraceWait sets how long a losing holder polls the grace cache.
// Zero disables waiting; the cache is then consulted once.
func WithGraceWait(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d >= 0 {
			r.graceWait = d
		}
	}
}

// WithRefreshLogger sets the logger
func WithRefreshLogger(log *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRefresher constructs a Refresher sharing the issuer's token service and store
func NewRefresher(issuer *Issuer, directory PrincipalDirectory, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		issuer:    issuer,
		directory: directory,
		graceWait: DefaultGraceWait,
		log:       issuer.log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh validates token, re-checks its owner and rotates it.
//
// Exactly one old credential is revoked, one new credential inserted and one
// session updated per successful call. Concurrent calls with the same token
// succeed at most once; the store's conditional revoke is the serialization point.
func (r *Refresher) Refresh(ctx context.Context, token string, dev DeviceInfo) (Issued, error) {
	issued, err := r.refresh(ctx, token, dev)
	r.issuer.recorder.ObserveRefresh(outcomeOf(err))
	return issued, err
}

func (r *Refresher) refresh(ctx context.Context, token string, dev DeviceInfo) (Issued, error) {
	if _, err := ParseRefreshToken(token); err != nil {
		return Issued{}, err
	}

	store := r.issuer.store
	now := r.issuer.tokens.Now()

	cred, err := store.GetRefreshByHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return Issued{}, CredentialRejection{Reason: RejectNotFound}
	}
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	if cred.IsRevoked {
		replay, err := r.recallGrace(ctx, token, cred)
		if err == nil {
			return replay, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Issued{}, err
		}
		return Issued{}, CredentialRejection{Reason: RejectRevoked}
	}
	if !cred.ExpiresAt.After(now) {
		return Issued{}, CredentialRejection{Reason: RejectExpired}
	}

	p, err := r.directory.Lookup(ctx, cred.Role, cred.OwnerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if p != nil && p.Role != cred.Role {
		return Issued{}, CredentialRejection{Reason: RejectRoleChange}
	}
	if !p.IsActive() {
		if rerr := store.RevokeRefresh(ctx, cred.ID, ReasonPrincipalInactive, now); rerr != nil {
			r.log.Warn("auth.refresh.revoke_inactive_failed", "credential_id", cred.ID, "err", rerr)
		}
		return Issued{}, ErrPrincipalInactive
	}

	next, plain, err := r.issuer.newCredential(p, cred.SessionID, dev, now)
	if err != nil {
		return Issued{}, fmt.Errorf("generate refresh token: %w", err)
	}
	access, accessExp, err := r.issuer.tokens.GenerateAccessToken(p, cred.SessionID, now)
	if err != nil {
		return Issued{}, fmt.Errorf("sign access token: %w", err)
	}

	err = store.Rotate(ctx, RotateParams{
		OldID:     cred.ID,
		New:       next,
		SessionID: cred.SessionID,
		Now:       now,
	})
	if errors.Is(err, ErrInvalidCredential) {
		return r.lostRace(ctx, token)
	}
	if err != nil {
		r.log.Error("auth.refresh.rotate_failed", "credential_id", cred.ID, "err", err)
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	issued := Issued{
		Principal:        *p,
		SessionID:        cred.SessionID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plain,
		RefreshExpiresAt: next.ExpiresAt,
		ExpiresIn:        int(r.issuer.tokens.AccessTTL().Seconds()),
	}

	if r.grace != nil {
		if gerr := r.grace.Remember(ctx, token, issued); gerr != nil {
			r.log.Warn("auth.refresh.grace_remember_failed", "session_id", cred.SessionID, "err", gerr)
		}
	}

	return issued, nil
}

// lostRace handles a holder whose conditional revoke matched no row: another
// holder rotated the same credential first. With a grace cache the winner's
// pair is handed over once it has been remembered.
func (r *Refresher) lostRace(ctx context.Context, token string) (Issued, error) {
	if r.grace != nil {
		cred, err := r.issuer.store.GetRefreshByHash(ctx, HashToken(token))
		if err == nil && cred.IsRevoked {
			replay, err := r.recallGrace(ctx, token, cred)
			if err == nil {
				return replay, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return Issued{}, err
			}
		}
	}
	return Issued{}, CredentialRejection{Reason: RejectLostRace}
}

// recallGrace returns the pair issued by the rotation that consumed token,
// when the grace cache holds it. Only rotation revocations qualify. The
// winner remembers its pair after committing, so a freshly rotated credential
// polls the cache for up to graceWait. The owner is re-checked before
// anything is replayed.
func (r *Refresher) recallGrace(ctx context.Context, token string, cred *RefreshCredential) (Issued, error) {
	if r.grace == nil || cred.RevokedReason != ReasonRotation {
		return Issued{}, ErrNotFound
	}
	poll := cred.RevokedAt == nil || r.issuer.tokens.Now().Sub(*cred.RevokedAt) <= r.graceWait
	replay, err := r.awaitGrace(ctx, token, poll)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Warn("auth.refresh.grace_recall_failed", "credential_id", cred.ID, "err", err)
		}
		return Issued{}, ErrNotFound
	}
	if replay.SessionID != cred.SessionID {
		return Issued{}, ErrNotFound
	}

	p, err := r.directory.Lookup(ctx, cred.Role, cred.OwnerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if !p.IsActive() || p.Role != cred.Role {
		r.revokeReplay(ctx, replay)
		return Issued{}, ErrPrincipalInactive
	}

	r.log.Info("auth.refresh.grace_replay", "session_id", cred.SessionID, "owner_id", cred.OwnerID)
	return *replay, nil
}

func (r *Refresher) awaitGrace(ctx context.Context, token string, poll bool) (*Issued, error) {
	replay, err := r.grace.Recall(ctx, token)
	if !errors.Is(err, ErrNotFound) || !poll || r.graceWait == 0 {
		return replay, err
	}

	deadline := time.NewTimer(r.graceWait)
	defer deadline.Stop()
	tick := time.NewTicker(graceWaitStep)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ErrNotFound
		case <-deadline.C:
			return nil, ErrNotFound
		case <-tick.C:
		}
		replay, err := r.grace.Recall(ctx, token)
		if !errors.Is(err, ErrNotFound) {
			return replay, err
		}
	}
}

// revokeReplay revokes the credential a grace replay would have handed out
func (r *Refresher) revokeReplay(ctx context.Context, replay *Issued) {
	cred, err := r.issuer.store.GetRefreshByHash(ctx, HashToken(replay.RefreshToken))
	if err != nil {
		return
	}
	if err := r.issuer.store.RevokeRefresh(ctx, cred.ID, ReasonPrincipalInactive, r.issuer.tokens.Now()); err != nil {
		r.log.Warn("auth.refresh.revoke_inactive_failed", "credential_id", cred.ID, "err", err)
	}
}

// Revoke revokes the credential identified by token (logout).
// Unknown or malformed tokens are ignored so logout stays idempotent.
func (r *Refresher) Revoke(ctx context.Context, token string) (*RefreshCredential, error) {
	if _, err := ParseRefreshToken(token); err != nil {
		return nil, nil
	}
	store := r.issuer.store
	cred, err := store.GetRefreshByHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if err := store.RevokeRefresh(ctx, cred.ID, ReasonLogout, r.issuer.tokens.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return cred, nil
}

// RevokeSession revokes the current credential of a session (admin action)
func (r *Refresher) RevokeSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	store := r.issuer.store
	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := store.RevokeRefresh(ctx, sess.CurrentRefreshID, ReasonAdminRevoked, r.issuer.tokens.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	sess.IsActive = false
	return sess, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrMalformedInput):
		return OutcomeMalformed
	case errors.Is(err, ErrInvalidCredential):
		return OutcomeInvalid
	case errors.Is(err, ErrPrincipalInactive):
		return OutcomePrincipalInactive
	default:
		return OutcomeStoreFailure
	}
}

// Package session owns the agent's authenticated session: the in-memory
// cache, its durable snapshot and the scheduler that keeps it refreshed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/api"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/keychain"
)

// DefaultRequestTimeout bounds refresh and revoke calls
const DefaultRequestTimeout = 10 * time.Second

var (
	// ErrNotAuthenticated is returned when an operation needs a session and there is none
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoRefreshToken is returned when the session cannot be refreshed
	ErrNoRefreshToken = errors.New("session has no refresh token")
	// ErrSuperseded is returned when a refresh response arrives after the
	// session it was made for was replaced or logged out
	ErrSuperseded = errors.New("session changed while refreshing")
)

// State is the session cache state
type State int

const (
	Unauthenticated State = iota
	AuthenticatedValid
	AuthenticatedStale
	LoggedOut
)

func (s State) String() string {
	switch s {
	case AuthenticatedValid:
		return "authenticated"
	case AuthenticatedStale:
		return "stale"
	case LoggedOut:
		return "logged out"
	}
	return "unauthenticated"
}

// Authenticated reports whether the state holds a session, valid or not
func (s State) Authenticated() bool {
	return s == AuthenticatedValid || s == AuthenticatedStale
}

// Refresher is the server side of a session
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*api.SessionResponse, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// Config configures a Context
type Config struct {
	Keychain       keychain.Keychain
	Client         Refresher
	Clock          Clock
	Logger         *slog.Logger
	RefreshLead    time.Duration
	RequestTimeout time.Duration
	// RequireExpiry treats sessions without an expiry as invalid
	RequireExpiry bool
	// Passive contexts never arm the refresh timer; RefreshNow still works
	Passive bool
}

// Context is the agent's session cache. It is the single owner of the
// persisted snapshot and of the refresh timer.
type Context struct {
	kc            keychain.Keychain
	client        Refresher
	clock         Clock
	log           *slog.Logger
	timeout       time.Duration
	requireExpiry bool
	passive       bool

	sched  *Scheduler
	flight singleflight.Group

	// mu is acquired before the scheduler's lock, never after
	mu        sync.Mutex
	snap      *Snapshot
	gen       uint64
	loggedOut bool
	closed    bool
}

// New creates an unauthenticated Context. Call Rehydrate to load a persisted session.
func New(cfg Config) *Context {
	c := &Context{
		kc:            cfg.Keychain,
		client:        cfg.Client,
		clock:         cfg.Clock,
		log:           cfg.Logger,
		timeout:       cfg.RequestTimeout,
		requireExpiry: cfg.RequireExpiry,
		passive:       cfg.Passive,
	}
	if c.kc == nil {
		c.kc = keychain.NewMockKeychain()
	}
	if c.clock == nil {
		c.clock = RealClock()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	c.sched = NewScheduler(c.clock, cfg.RefreshLead, c.scheduledRefresh)
	return c
}

// Scheduler exposes the refresh scheduler
func (c *Context) Scheduler() *Scheduler {
	return c.sched
}

// SetAuth stores a freshly issued session. The expiry is now+expiresIn when
// expiresIn is positive and unset otherwise. The snapshot is persisted
// before the cache changes.
func (c *Context) SetAuth(user api.Principal, userType, token, refreshToken string, expiresIn time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{
		Version:         SnapshotVersion,
		User:            &user,
		UserType:        userType,
		Token:           token,
		RefreshToken:    refreshToken,
		IsAuthenticated: true,
	}
	if expiresIn > 0 {
		snap.setExpiry(c.clock.Now().Add(expiresIn))
	}
	return c.storeLocked(snap)
}

// Adopt stores a session whose expiry is already known, such as one
// migrated from a legacy artifact.
func (c *Context) Adopt(user api.Principal, userType string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{
		Version:         SnapshotVersion,
		User:            &user,
		UserType:        userType,
		IsAuthenticated: true,
	}
	snap.setExpiry(expiresAt)
	return c.storeLocked(snap)
}

func (c *Context) storeLocked(snap *Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := c.kc.Set(keychain.KeySnapshot, data); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	c.snap = snap
	c.gen++
	c.loggedOut = false

	c.armLocked()
	return nil
}

func (c *Context) armLocked() {
	expiry, ok := c.snap.Expiry()
	if !ok || c.snap.RefreshToken == "" || c.passive || c.closed {
		c.sched.Cancel()
		return
	}
	c.sched.Arm(expiry)
}

// State returns the current state
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Context) stateLocked() State {
	if c.snap == nil || !c.snap.IsAuthenticated {
		if c.loggedOut {
			return LoggedOut
		}
		return Unauthenticated
	}
	expiry, ok := c.snap.Expiry()
	if !ok {
		if c.requireExpiry {
			return AuthenticatedStale
		}
		return AuthenticatedValid
	}
	if c.clock.Now().Before(expiry) {
		return AuthenticatedValid
	}
	return AuthenticatedStale
}

// IsSessionValid reports whether the cache holds a usable session
func (c *Context) IsSessionValid() bool {
	return c.State() == AuthenticatedValid
}

// Snapshot returns a copy of the cached session
func (c *Context) Snapshot() (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return nil, false
	}
	return c.snap.clone(), true
}

// AccessToken returns the cached access token
func (c *Context) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ""
	}
	return c.snap.Token
}

// Rehydrate loads the persisted snapshot. An unreadable snapshot is
// discarded; one that is no longer valid is logged out before anything
// else runs; a valid one arms the scheduler.
func (c *Context) Rehydrate(ctx context.Context) error {
	data, err := c.kc.Get(keychain.KeySnapshot)
	if errors.Is(err, keychain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		c.log.Warn("session.snapshot_discarded", "err", err)
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.clearLocked()
	}

	c.mu.Lock()
	c.snap = snap
	c.gen++
	c.loggedOut = false
	state := c.stateLocked()
	c.mu.Unlock()

	if state != AuthenticatedValid {
		c.log.Info("session.rehydrate_invalid", "state", state.String())
		return c.Logout(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked()
	c.log.Debug("session.rehydrated", "user_type", snap.UserType)
	return nil
}

// Logout ends the session. The timer is cancelled and local state cleared
// first; the server is then asked to revoke the refresh token, best effort
// and bounded by the request timeout.
func (c *Context) Logout(ctx context.Context) error {
	c.mu.Lock()
	var refreshToken string
	if c.snap != nil {
		refreshToken = c.snap.RefreshToken
	}
	err := c.clearLocked()
	c.mu.Unlock()

	if refreshToken != "" && c.client != nil {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if rerr := c.client.Revoke(rctx, refreshToken); rerr != nil {
			c.log.Warn("session.revoke_failed", "err", rerr)
		}
	}
	return err
}

// clearLocked cancels the timer and deletes the snapshot and every legacy artifact
func (c *Context) clearLocked() error {
	c.sched.Cancel()
	c.snap = nil
	c.gen++
	c.loggedOut = true

	var errs []error
	for _, key := range append([]string{keychain.KeySnapshot}, keychain.LegacyKeys()...) {
		if err := c.kc.Delete(key); err != nil && !errors.Is(err, keychain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// RefreshNow rotates the session immediately. It shares a single in-flight
// call with the scheduler. A failed refresh call logs the session out.
func (c *Context) RefreshNow(ctx context.Context) error {
	_, err, _ := c.flight.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Context) scheduledRefresh() {
	if err := c.RefreshNow(context.Background()); err != nil && !errors.Is(err, ErrSuperseded) {
		c.log.Warn("session.scheduled_refresh_failed", "err", err)
	}
}

func (c *Context) refresh(ctx context.Context) error {
	c.mu.Lock()
	snap, gen := c.snap, c.gen
	c.mu.Unlock()

	if snap == nil || !snap.IsAuthenticated {
		return ErrNotAuthenticated
	}
	if snap.RefreshToken == "" || c.client == nil {
		c.forceLogout(gen, "missing refresh token")
		return ErrNoRefreshToken
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.client.Refresh(rctx, snap.RefreshToken)
	cancel()
	if err != nil {
		c.forceLogout(gen, err.Error())
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.log.Info("session.refresh_discarded")
		return ErrSuperseded
	}
	next := &Snapshot{
		Version:         SnapshotVersion,
		User:            &resp.User,
		UserType:        snap.UserType,
		Token:           resp.Token,
		RefreshToken:    resp.RefreshToken,
		IsAuthenticated: true,
	}
	if resp.ExpiresIn > 0 {
		next.setExpiry(c.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second))
	}
	if err := c.storeLocked(next); err != nil {
		// The old refresh token is consumed; the session cannot continue.
		if cerr := c.clearLocked(); cerr != nil {
			c.log.Warn("session.clear_failed", "err", cerr)
		}
		return err
	}
	c.log.Debug("session.refreshed", "expires_in", resp.ExpiresIn)
	return nil
}

// forceLogout clears the session after a failed refresh, unless the session
// has changed since gen. The server is not contacted.
func (c *Context) forceLogout(gen uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.log.Warn("session.forced_logout", "reason", reason)
	if err := c.clearLocked(); err != nil {
		c.log.Warn("session.clear_failed", "err", err)
	}
}

// Close cancels the scheduler and stops it from being armed again. Storage
// is untouched. A refresh already in flight still persists its rotated
// credentials, since the server has consumed the old refresh token.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.Cancel()
	c.closed = true
}

// Wait blocks until the refresh in flight, if any, has finished. The call is
// bounded by the request timeout.
func (c *Context) Wait() {
	c.flight.Do("refresh", func() (interface{}, error) {
		return nil, nil
	})
}

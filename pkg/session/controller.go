// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the authentication lifecycle of the console.
//
// A Controller holds the current token and user, persists the token in a
// TokenStore, and moves through an explicit phase table (see transitions)
// so that a teardown triggered by a 401 can never clobber a login that is
// still in flight.
//
// # Lifecycle
//
//	Uninitialized -> Bootstrapping -> Anonymous <-> Authenticating <-> Authenticated
//	                                     ^                                  |
//	                                     +----------- TearingDown <---------+
//
// # Thread Safety
//
// Controller is safe for concurrent use. No lock is held across network or
// store I/O.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// AuthAPI is the slice of the API client the controller calls.
type AuthAPI interface {
	Login(ctx context.Context, req api.LoginRequest) (api.AuthResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) (api.AuthResponse, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*api.User, error)
}

// Options configures a Controller.
type Options struct {
	// TokenStrategies overrides DefaultTokenStrategies.
	TokenStrategies []TokenStrategy

	// UserStrategies overrides DefaultUserStrategies.
	UserStrategies []UserStrategy

	// Logger receives lifecycle logs. Default: slog.Default().
	Logger *slog.Logger
}

// Controller is the single source of truth for the session.
type Controller struct {
	api    AuthAPI
	store  TokenStore
	logger *slog.Logger

	tokenStrategies []TokenStrategy
	userStrategies  []UserStrategy

	mu          sync.Mutex
	phase       Phase
	resume      Phase
	revoked     bool
	token       string
	user        *api.User
	loading     bool
	initialized bool
	onTeardown  []func()
}

// NewController creates a controller in PhaseUninitialized.
//
// # Inputs
//
//   - client: API used for login, register, logout and me.
//   - store: Persistent token slot.
//   - opts: Optional strategies and logger.
func NewController(client AuthAPI, store TokenStore, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokenStrategies := opts.TokenStrategies
	if len(tokenStrategies) == 0 {
		tokenStrategies = DefaultTokenStrategies
	}
	userStrategies := opts.UserStrategies
	if len(userStrategies) == 0 {
		userStrategies = DefaultUserStrategies
	}
	return &Controller{
		api:             client,
		store:           store,
		logger:          logger.With("component", "session"),
		tokenStrategies: tokenStrategies,
		userStrategies:  userStrategies,
		phase:           PhaseUninitialized,
	}
}

// =============================================================================
// Read Side
// =============================================================================

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	var user *api.User
	if c.user != nil {
		u := *c.user
		user = &u
	}
	return State{
		Phase:         c.phase,
		Token:         c.token,
		User:          user,
		IsLoading:     c.loading,
		IsInitialized: c.initialized,
	}
}

// Token returns the current raw token. It implements api.TokenSource.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnTeardown registers fn to run after every completed teardown, outside
// the controller's lock.
func (c *Controller) OnTeardown(fn func()) {
	c.mu.Lock()
	c.onTeardown = append(c.onTeardown, fn)
	c.mu.Unlock()
}

// SetUser replaces the held user, e.g. after a profile update. It is a
// no-op unless the session is authenticated.
func (c *Controller) SetUser(user *api.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseAuthenticated || user == nil {
		return
	}
	u := *user
	c.user = &u
}

// fire applies ev under c.mu. It returns false when the table rejects it.
func (c *Controller) fire(ev Event) bool {
	to, ok := next(c.phase, ev)
	if !ok {
		c.logger.Debug("transition rejected", "phase", c.phase.String(), "event", ev.String())
		return false
	}
	if to == phaseResume {
		to = c.resume
	}
	if ev == EventAuthStart {
		c.resume = c.phase
	}
	from := c.phase
	c.phase = to
	if from == PhaseBootstrapping && to != PhaseBootstrapping {
		c.initialized = true
	}
	c.logger.Debug("transition", "from", from.String(), "to", to.String(), "event", ev.String())
	return true
}

// =============================================================================
// Bootstrap
// =============================================================================

// Bootstrap restores a persisted session. Only the first call has any
// effect.
//
// With no persisted token it resolves to Anonymous without a network call.
// Otherwise it validates the token with GET /auth/me; on failure the
// persisted token is discarded. A cancelled ctx resolves to Anonymous but
// keeps the persisted token for the next run.
func (c *Controller) Bootstrap(ctx context.Context) {
	c.mu.Lock()
	if !c.fire(EventBootstrapStart) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	stored, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("load persisted token failed", "error", err)
		stored = ""
	}
	stored = api.StripBearer(stored)

	if stored == "" {
		c.mu.Lock()
		c.fire(EventBootstrapSkip)
		c.revoked = false
		c.mu.Unlock()
		c.logger.Info("session bootstrapped", "token_present", false)
		return
	}

	user, meErr := c.api.Me(api.WithToken(ctx, stored))

	c.mu.Lock()
	revoked := c.revoked
	c.revoked = false
	if meErr == nil && !revoked {
		c.fire(EventBootstrapSucceeded)
		c.token = stored
		c.user = user
		c.mu.Unlock()
		c.logger.Info("session bootstrapped", "token_present", true, "user_id", user.ID)
		return
	}
	c.fire(EventBootstrapFailed)
	c.token = ""
	c.user = nil
	c.mu.Unlock()

	if meErr != nil && ctx.Err() != nil {
		c.logger.Info("bootstrap cancelled", "error", ctx.Err())
		return
	}
	if err := c.store.Clear(context.Background()); err != nil {
		c.logger.Warn("discard persisted token failed", "error", err)
	}
	c.logger.Info("persisted token rejected", "revoked", revoked, "error", meErr)
}

// =============================================================================
// Login / Register
// =============================================================================

// Login authenticates with email and password.
//
// # Outputs
//
//   - error: *AuthExtractionError when the response has no token,
//     ErrNotInitialized before Bootstrap, ErrAuthInProgress when another
//     auth call or a teardown is running, ErrSessionRevoked when Logout
//     ran concurrently, or the API error. On any error the previous token
//     and user are unchanged.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, "login", func(ctx context.Context) (api.AuthResponse, error) {
		return c.api.Login(ctx, api.LoginRequest{Email: email, Password: password})
	})
}

// Register creates an account and signs in. Errors match Login.
func (c *Controller) Register(ctx context.Context, email, password, name string) error {
	return c.authenticate(ctx, "register", func(ctx context.Context) (api.AuthResponse, error) {
		return c.api.Register(ctx, api.RegisterRequest{Email: email, Password: password, Name: name})
	})
}

func (c *Controller) authenticate(ctx context.Context, op string, call func(context.Context) (api.AuthResponse, error)) error {
	c.mu.Lock()
	switch c.phase {
	case PhaseUninitialized, PhaseBootstrapping:
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if !c.fire(EventAuthStart) {
		c.mu.Unlock()
		return ErrAuthInProgress
	}
	c.loading = true
	c.mu.Unlock()

	token, user, err := c.resolveCredentials(ctx, op, call)
	if err == nil {
		err = c.store.Save(ctx, token)
	}

	c.mu.Lock()
	revoked := c.revoked
	c.revoked = false
	c.loading = false
	if err == nil && !revoked {
		c.fire(EventAuthSucceeded)
		c.token = token
		c.user = user
		c.mu.Unlock()
		c.logger.Info("authenticated", "op", op, "user_id", user.ID, "role", string(user.Role))
		return nil
	}

	c.fire(EventAuthFailed)
	if !revoked {
		c.mu.Unlock()
		c.logger.Info("authentication failed", "op", op, "error", err)
		return err
	}

	// Logout won the race: finish the teardown it deferred.
	c.phase = PhaseAnonymous
	c.token = ""
	c.user = nil
	hooks := append([]func(){}, c.onTeardown...)
	c.mu.Unlock()
	if cerr := c.store.Clear(context.Background()); cerr != nil {
		c.logger.Warn("clear persisted token failed", "error", cerr)
	}
	for _, fn := range hooks {
		fn()
	}
	c.logger.Info("authentication revoked by logout", "op", op)
	return ErrSessionRevoked
}

// resolveCredentials performs the auth call and resolves token and user.
// Nothing is committed here.
func (c *Controller) resolveCredentials(ctx context.Context, op string, call func(context.Context) (api.AuthResponse, error)) (string, *api.User, error) {
	resp, err := call(ctx)
	if err != nil {
		return "", nil, err
	}

	token, ok := ExtractToken(resp, c.tokenStrategies)
	if !ok {
		return "", nil, &AuthExtractionError{Op: op}
	}

	if user, ok := ExtractUser(resp, c.userStrategies); ok {
		return token, user, nil
	}

	user, err := c.api.Me(api.WithToken(ctx, token))
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// =============================================================================
// Teardown
// =============================================================================

// Logout notifies the backend and always clears the local session.
// Backend errors are logged, never returned.
func (c *Controller) Logout(ctx context.Context) {
	if err := c.api.Logout(ctx); err != nil {
		c.logger.Debug("logout request failed", "error", err)
	}
	c.teardown(EventLogout)
}

// HandleUnauthorized tears the session down in response to a 401/403.
//
// The signal is dropped while a login or register is in flight, while a
// teardown is already running, and when nobody is signed in. Dropped
// signals are not replayed.
func (c *Controller) HandleUnauthorized() {
	c.teardown(EventUnauthorized)
}

func (c *Controller) teardown(ev Event) {
	c.mu.Lock()
	from := c.phase
	if !c.fire(ev) {
		c.mu.Unlock()
		c.logger.Debug("teardown dropped", "phase", from.String(), "event", ev.String())
		return
	}

	switch from {
	case PhaseBootstrapping, PhaseAuthenticating:
		// The in-flight operation observes revoked and resolves Anonymous.
		c.revoked = true
		c.mu.Unlock()
		if err := c.store.Clear(context.Background()); err != nil {
			c.logger.Warn("clear persisted token failed", "error", err)
		}
		return
	case PhaseUninitialized:
		c.mu.Unlock()
		if err := c.store.Clear(context.Background()); err != nil {
			c.logger.Warn("clear persisted token failed", "error", err)
		}
		return
	}

	c.token = ""
	c.user = nil
	c.mu.Unlock()

	if err := c.store.Clear(context.Background()); err != nil {
		c.logger.Warn("clear persisted token failed", "error", err)
	}

	c.mu.Lock()
	c.fire(EventTeardownDone)
	hooks := append([]func(){}, c.onTeardown...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	c.logger.Info("session cleared", "reason", ev.String())
}

// IsRevocation reports whether err means the session ended underneath the
// caller (an authorization failure or a concurrent logout).
func IsRevocation(err error) bool {
	var ae *api.AuthorizationError
	return errors.As(err, &ae) || errors.Is(err, ErrSessionRevoked)
}

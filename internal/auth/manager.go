package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"medportal/internal/shared"
	"medportal/internal/upstream"
	"medportal/pkg/retry"
)

// Authenticator is the part of the main API the manager needs.
type Authenticator interface {
	Login(ctx context.Context, in upstream.LoginRequest) (*upstream.AuthResponse, error)
	Signup(ctx context.Context, in upstream.SignupRequest) (*upstream.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*upstream.Tokens, error)
	Logout(ctx context.Context, accessToken string) error
}

// Options configures Manager.
type Options struct {
	// SessionTTL is the lifetime of a browser session, default 168h.
	SessionTTL time.Duration
	// Skew refreshes access tokens this long before they expire, default 30s.
	Skew time.Duration
	// ResolveWait is how long Resolve waits for a refresh before reporting StatusLoading, default 1s.
	ResolveWait time.Duration
	// RefreshTimeout bounds one refresh including retries, default 20s.
	RefreshTimeout time.Duration
	// Retry configures retries of refresh calls that fail on connectivity.
	Retry  retry.Config
	Logger *slog.Logger
	Now    func() time.Time
}

// Manager is the only writer of session state.
type Manager struct {
	store Store
	api   Authenticator
	opts  Options
	log   *slog.Logger

	mu      sync.Mutex
	states  map[string]*State
	flights singleflight.Group
}

// NewManager creates a Manager.
func NewManager(store Store, api Authenticator, o Options) *Manager {
	if o.SessionTTL <= 0 {
		o.SessionTTL = 168 * time.Hour
	}
	if o.Skew <= 0 {
		o.Skew = 30 * time.Second
	}
	if o.ResolveWait <= 0 {
		o.ResolveWait = time.Second
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 20 * time.Second
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:  store,
		api:    api,
		opts:   o,
		log:    log.With("component", "auth"),
		states: make(map[string]*State),
	}
}

// Login signs clientID in and returns the new session.
func (m *Manager) Login(ctx context.Context, clientID string, in upstream.LoginRequest) (*Session, error) {
	grant, err := m.api.Login(ctx, in)
	if err != nil {
		return nil, err
	}
	return m.open(ctx, clientID, grant)
}

// Signup registers a user and signs clientID in.
func (m *Manager) Signup(ctx context.Context, clientID string, in upstream.SignupRequest) (*Session, error) {
	grant, err := m.api.Signup(ctx, in)
	if err != nil {
		return nil, err
	}
	return m.open(ctx, clientID, grant)
}

func (m *Manager) open(ctx context.Context, clientID string, grant *upstream.AuthResponse) (*Session, error) {
	now := m.opts.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		UserID:       grant.User.ID,
		Email:        grant.User.Email,
		FirstName:    grant.User.FirstName,
		LastName:     grant.User.LastName,
		Role:         grant.User.Role,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    now.Add(m.opts.SessionTTL),
		CreatedAt:    now,
	}
	if grant.ExpiresIn > 0 {
		sess.AccessExpiresAt = now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, shared.Wrap(err, "save session")
	}
	m.State(sess.ID).set(StatusAuthenticated)
	m.log.InfoContext(ctx, "signed in", "session_id", sess.ID, "user_id", sess.UserID, "role", string(sess.Role))
	return sess, nil
}

// Logout revokes the tokens best-effort and forgets the session.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	sess, err := m.store.Get(ctx, sessionID)
	switch {
	case err == nil:
		if err := m.api.Logout(ctx, sess.AccessToken); err != nil {
			m.log.WarnContext(ctx, "revoke tokens", "session_id", sessionID, "err", err)
		}
	case !shared.IsNotFound(err):
		return shared.Wrap(err, "load session")
	}
	m.end(sessionID)
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return shared.Wrap(err, "delete session")
	}
	return nil
}

// Resolve reports the status of sessionID for the current request. An access
// token that is about to expire is refreshed in the background; when the
// refresh outlasts ResolveWait or fails on storage the status is StatusLoading.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (Status, *Session) {
	if sessionID == "" {
		return StatusUnauthenticated, nil
	}
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if shared.IsNotFound(err) {
			m.end(sessionID)
			return StatusUnauthenticated, nil
		}
		m.log.ErrorContext(ctx, "load session", "session_id", sessionID, "err", err)
		m.State(sessionID).set(StatusLoading)
		return StatusLoading, nil
	}

	now := m.opts.Now()
	if sess.Expired(now) {
		m.end(sessionID)
		if err := m.store.Delete(ctx, sessionID); err != nil {
			m.log.WarnContext(ctx, "delete expired session", "session_id", sessionID, "err", err)
		}
		return StatusUnauthenticated, nil
	}
	if !sess.AccessExpired(now, m.opts.Skew) {
		m.State(sessionID).set(StatusAuthenticated)
		return StatusAuthenticated, sess
	}

	m.State(sessionID).set(StatusLoading)
	flight := m.refresh(ctx, sessionID)
	timer := time.NewTimer(m.opts.ResolveWait)
	defer timer.Stop()
	select {
	case r := <-flight:
		switch {
		case r.Err == nil:
			return StatusAuthenticated, r.Val.(*Session)
		case shared.IsSessionExpired(r.Err):
			return StatusUnauthenticated, nil
		}
		m.log.ErrorContext(ctx, "refresh session", "session_id", sessionID, "err", r.Err)
	case <-timer.C:
	case <-ctx.Done():
	}
	return StatusLoading, sess
}

// State returns the status cell of sessionID.
func (m *Manager) State(sessionID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionID]
	if !ok {
		st = NewState(StatusLoading)
		m.states[sessionID] = st
	}
	return st
}

// Provider exposes the status cell of sessionID read-only.
func (m *Manager) Provider(sessionID string) Provider {
	return m.State(sessionID)
}

// Purge deletes expired sessions and forgets the state cells of sessions
// that are signed out or no longer stored.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.opts.Now())
	if err != nil {
		return 0, shared.Wrap(err, "purge sessions")
	}

	m.mu.Lock()
	live := make([]string, 0, len(m.states))
	for id, st := range m.states {
		if st.Status() == StatusUnauthenticated {
			delete(m.states, id)
			continue
		}
		live = append(live, id)
	}
	m.mu.Unlock()

	for _, id := range live {
		if _, err := m.store.Get(ctx, id); !shared.IsNotFound(err) {
			continue
		}
		m.mu.Lock()
		delete(m.states, id)
		m.mu.Unlock()
	}
	return n, nil
}

// TokenSource returns the bearer token source of sessionID.
func (m *Manager) TokenSource(sessionID string) upstream.TokenSource {
	return &sessionTokens{m: m, id: sessionID}
}

// end marks the session signed out.
func (m *Manager) end(sessionID string) {
	m.State(sessionID).set(StatusUnauthenticated)
}

// refresh starts or joins the token refresh of sessionID. The refresh runs
// detached from ctx cancellation. Only a missing session or a rejected
// refresh fails with a RefreshAuthError; storage errors leave the session
// loading.
func (m *Manager) refresh(ctx context.Context, sessionID string) <-chan singleflight.Result {
	detached := context.WithoutCancel(ctx)
	return m.flights.DoChan(sessionID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(detached, m.opts.RefreshTimeout)
		defer cancel()
		sess, err := m.runRefresh(runCtx, sessionID)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
}

func (m *Manager) runRefresh(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if shared.IsNotFound(err) {
			m.end(sessionID)
			return nil, &shared.RefreshAuthError{Err: err}
		}
		return nil, shared.Wrap(err, "load session")
	}

	tokens, err := retry.DoValue(ctx, m.opts.Retry, func(ctx context.Context) (*upstream.Tokens, error) {
		return m.api.Refresh(ctx, sess.RefreshToken)
	}, func(err error) bool {
		return shared.CategoryOf(err) == shared.CategoryConnectivity && !errors.Is(err, context.Canceled)
	})
	if err != nil {
		m.log.WarnContext(ctx, "token refresh failed, signing out", "session_id", sessionID, "err", err)
		m.end(sessionID)
		if derr := m.store.Delete(ctx, sessionID); derr != nil {
			m.log.WarnContext(ctx, "delete session", "session_id", sessionID, "err", derr)
		}
		return nil, &shared.RefreshAuthError{Err: err}
	}

	now := m.opts.Now()
	sess.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		sess.RefreshToken = tokens.RefreshToken
	}
	sess.AccessExpiresAt = time.Time{}
	if tokens.ExpiresIn > 0 {
		sess.AccessExpiresAt = now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, shared.Wrap(err, "save refreshed session")
	}
	m.State(sessionID).set(StatusAuthenticated)
	m.log.DebugContext(ctx, "token refreshed", "session_id", sessionID)
	return sess, nil
}

type sessionTokens struct {
	m  *Manager
	id string
}

func (t *sessionTokens) Token(ctx context.Context) (string, error) {
	sess, err := t.m.store.Get(ctx, t.id)
	if err != nil {
		if shared.IsNotFound(err) {
			return "", &shared.RefreshAuthError{Err: err}
		}
		return "", shared.Wrap(err, "load session")
	}
	if sess.AccessExpired(t.m.opts.Now(), t.m.opts.Skew) {
		return t.Refresh(ctx)
	}
	return sess.AccessToken, nil
}

func (t *sessionTokens) Refresh(ctx context.Context) (string, error) {
	select {
	case r := <-t.m.refresh(ctx, t.id):
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(*Session).AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

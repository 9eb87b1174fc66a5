package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medportal/internal/shared"
	"medportal/internal/upstream"
	"medportal/pkg/retry"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemStore() *memStore { return &memStore{sessions: make(map[string]Session)} }

func (s *memStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &sess, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

type fakeAPI struct {
	refreshCalls atomic.Int32
	refresh      func(refreshToken string) (*upstream.Tokens, error)
	loginErr     error
	logoutErr    error
	loggedOut    atomic.Int32
}

func (f *fakeAPI) Login(_ context.Context, in upstream.LoginRequest) (*upstream.AuthResponse, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &upstream.AuthResponse{
		Tokens: upstream.Tokens{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 600},
		User:   upstream.User{ID: 3, Email: in.Email, FirstName: "Ann", LastName: "Lee", Role: upstream.RolePatient},
	}, nil
}

func (f *fakeAPI) Signup(ctx context.Context, in upstream.SignupRequest) (*upstream.AuthResponse, error) {
	return f.Login(ctx, upstream.LoginRequest{Email: in.Email, Password: in.Password})
}

func (f *fakeAPI) Refresh(_ context.Context, rt string) (*upstream.Tokens, error) {
	f.refreshCalls.Add(1)
	return f.refresh(rt)
}

func (f *fakeAPI) Logout(context.Context, string) error {
	f.loggedOut.Add(1)
	return f.logoutErr
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, api *fakeAPI) (*Manager, *memStore, *testClock) {
	t.Helper()
	store := newMemStore()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := NewManager(store, api, Options{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         clock.Now,
		ResolveWait: time.Second,
		Retry:       retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
	})
	return m, store, clock
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "authenticated", StatusAuthenticated.String())
	assert.Equal(t, "unauthenticated", StatusUnauthenticated.String())
}

func TestState_SubscribeSeesLatest(t *testing.T) {
	st := NewState(StatusLoading)
	ch, cancel := st.Subscribe()
	defer cancel()

	st.set(StatusAuthenticated)
	st.set(StatusUnauthenticated)
	st.set(StatusUnauthenticated)

	assert.Equal(t, StatusUnauthenticated, <-ch)
	select {
	case s := <-ch:
		t.Fatalf("unexpected extra status %v", s)
	default:
	}
	assert.Equal(t, StatusUnauthenticated, st.Status())

	cancel()
	cancel()
	st.set(StatusAuthenticated)
	select {
	case <-ch:
		t.Fatal("cancelled subscriber notified")
	default:
	}
}

func TestManager_LoginAndResolve(t *testing.T) {
	m, store, _ := newManager(t, &fakeAPI{})

	sess, err := m.Login(context.Background(), "client-1", upstream.LoginRequest{Email: "ann@x.io", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "client-1", sess.ClientID)
	assert.Equal(t, upstream.RolePatient, sess.Role)
	assert.Equal(t, "Ann Lee", sess.DisplayName())

	_, err = store.Get(context.Background(), sess.ID)
	require.NoError(t, err)

	status, got := m.Resolve(context.Background(), sess.ID)
	assert.Equal(t, StatusAuthenticated, status)
	require.NotNil(t, got)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, StatusAuthenticated, m.State(sess.ID).Status())
}

func TestManager_LoginFailurePassesThrough(t *testing.T) {
	apiErr := &shared.APIError{Code: 401, Message: "Bad credentials"}
	m, _, _ := newManager(t, &fakeAPI{loginErr: apiErr})
	_, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c", Password: "x"})
	assert.ErrorIs(t, err, apiErr)
}

func TestManager_ResolveUnknownSession(t *testing.T) {
	m, _, _ := newManager(t, &fakeAPI{})
	status, sess := m.Resolve(context.Background(), "")
	assert.Equal(t, StatusUnauthenticated, status)
	assert.Nil(t, sess)

	status, _ = m.Resolve(context.Background(), "missing")
	assert.Equal(t, StatusUnauthenticated, status)
}

func TestManager_ResolveExpiredSession(t *testing.T) {
	m, store, clock := newManager(t, &fakeAPI{})
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)

	clock.Advance(169 * time.Hour)
	status, _ := m.Resolve(context.Background(), sess.ID)
	assert.Equal(t, StatusUnauthenticated, status)
	_, err = store.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestManager_ResolveRefreshesExpiringToken(t *testing.T) {
	api := &fakeAPI{refresh: func(rt string) (*upstream.Tokens, error) {
		return &upstream.Tokens{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 600}, nil
	}}
	m, store, clock := newManager(t, api)
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)

	clock.Advance(590 * time.Second)
	status, got := m.Resolve(context.Background(), sess.ID)
	assert.Equal(t, StatusAuthenticated, status)
	require.NotNil(t, got)
	assert.Equal(t, "at-2", got.AccessToken)

	stored, _ := store.Get(context.Background(), sess.ID)
	assert.Equal(t, "rt-2", stored.RefreshToken)
	assert.EqualValues(t, 1, api.refreshCalls.Load())
}

func TestManager_ResolveReportsLoadingWhileRefreshing(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{refresh: func(string) (*upstream.Tokens, error) {
		<-release
		return &upstream.Tokens{AccessToken: "at-2", RefreshToken: "rt-2"}, nil
	}}
	m, _, clock := newManager(t, api)
	m.opts.ResolveWait = 10 * time.Millisecond
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	status, _ := m.Resolve(context.Background(), sess.ID)
	assert.Equal(t, StatusLoading, status)
	assert.Equal(t, StatusLoading, m.State(sess.ID).Status())

	close(release)
	require.Eventually(t, func() bool {
		return m.State(sess.ID).Status() == StatusAuthenticated
	}, time.Second, 5*time.Millisecond)
}

func TestManager_RefreshFailureSignsOut(t *testing.T) {
	api := &fakeAPI{refresh: func(string) (*upstream.Tokens, error) {
		return nil, &shared.APIError{Code: 401, Message: "Refresh token expired"}
	}}
	m, store, _ := newManager(t, api)
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)

	_, err = m.TokenSource(sess.ID).Refresh(context.Background())
	var re *shared.RefreshAuthError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, shared.CategorySessionExpired, shared.CategoryOf(err))
	assert.EqualValues(t, 1, api.refreshCalls.Load(), "api errors are not retried")

	assert.Equal(t, StatusUnauthenticated, m.State(sess.ID).Status())
	_, err = store.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestManager_RefreshRetriesConnectivity(t *testing.T) {
	api := &fakeAPI{}
	api.refresh = func(string) (*upstream.Tokens, error) {
		if api.refreshCalls.Load() < 3 {
			return nil, context.DeadlineExceeded
		}
		return &upstream.Tokens{AccessToken: "at-3", RefreshToken: "rt-3"}, nil
	}
	m, _, _ := newManager(t, api)
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)

	token, err := m.TokenSource(sess.ID).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-3", token)
	assert.EqualValues(t, 3, api.refreshCalls.Load())
}

func TestManager_ConcurrentRefreshesShareOneCall(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{refresh: func(string) (*upstream.Tokens, error) {
		<-release
		return &upstream.Tokens{AccessToken: "at-2", RefreshToken: "rt-2"}, nil
	}}
	m, _, _ := newManager(t, api)
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.TokenSource(sess.ID).Refresh(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "at-2", tok)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, api.refreshCalls.Load())
}

func TestTokenSource_MissingSessionIsExpired(t *testing.T) {
	m, _, _ := newManager(t, &fakeAPI{})
	_, err := m.TokenSource("gone").Token(context.Background())
	assert.True(t, shared.IsSessionExpired(err))
}

func TestManager_Logout(t *testing.T) {
	api := &fakeAPI{logoutErr: errors.New("api down")}
	m, store, _ := newManager(t, api)
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background(), sess.ID))
	assert.EqualValues(t, 1, api.loggedOut.Load())
	assert.Equal(t, StatusUnauthenticated, m.State(sess.ID).Status())
	_, err = store.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, m.Logout(context.Background(), sess.ID))
}

func TestManager_Purge(t *testing.T) {
	m, store, clock := newManager(t, &fakeAPI{})
	old, err := m.Login(context.Background(), "c1", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)
	clock.Advance(100 * time.Hour)
	fresh, err := m.Login(context.Background(), "c2", upstream.LoginRequest{Email: "d@e.f"})
	require.NoError(t, err)
	clock.Advance(100 * time.Hour)

	n, err := m.Purge(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = store.Get(context.Background(), old.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = store.Get(context.Background(), fresh.ID)
	assert.NoError(t, err)
}

func TestCookieCodec(t *testing.T) {
	_, err := NewCookieCodec("short", time.Hour)
	require.Error(t, err)

	codec, err := NewCookieCodec("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	v, err := codec.Encode("client-1", "sess-1")
	require.NoError(t, err)
	claims, err := codec.Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.ClientID)
	assert.Equal(t, "sess-1", claims.SessionID)

	_, err = codec.Decode(v + "x")
	assert.ErrorIs(t, err, ErrInvalidCookie)

	other, _ := NewCookieCodec("ffffffffffffffffffffffffffffffff", time.Hour)
	_, err = other.Decode(v)
	assert.ErrorIs(t, err, ErrInvalidCookie)

	codec.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = codec.Decode(v)
	assert.ErrorIs(t, err, ErrInvalidCookie)

	_, err = codec.Encode("", "")
	assert.Error(t, err)
}

type flakyStore struct {
	*memStore
	gets    atomic.Int32
	failGet int32
	saveErr error
}

func (s *flakyStore) Get(ctx context.Context, id string) (*Session, error) {
	if s.gets.Add(1) == s.failGet {
		return nil, errors.New("database is locked")
	}
	return s.memStore.Get(ctx, id)
}

func (s *flakyStore) Save(ctx context.Context, sess *Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.memStore.Save(ctx, sess)
}

func newFlakyManager(t *testing.T, api *fakeAPI, store *flakyStore) (*Manager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := NewManager(store, api, Options{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         clock.Now,
		ResolveWait: time.Second,
		Retry:       retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
	})
	return m, clock
}

func TestManager_RefreshStoreErrorKeepsSession(t *testing.T) {
	api := &fakeAPI{refresh: func(string) (*upstream.Tokens, error) {
		return &upstream.Tokens{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 600}, nil
	}}
	store := &flakyStore{memStore: newMemStore(), failGet: 2}
	m, clock := newFlakyManager(t, api, store)
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	status, got := m.Resolve(context.Background(), sess.ID)
	assert.Equal(t, StatusLoading, status)
	assert.NotNil(t, got)
	assert.Equal(t, StatusLoading, m.State(sess.ID).Status())
	assert.Zero(t, api.refreshCalls.Load())
	_, err = store.memStore.Get(context.Background(), sess.ID)
	require.NoError(t, err)

	status, got = m.Resolve(context.Background(), sess.ID)
	assert.Equal(t, StatusAuthenticated, status)
	require.NotNil(t, got)
	assert.Equal(t, "at-2", got.AccessToken)
}

func TestManager_RefreshSaveErrorIsNotSessionExpiry(t *testing.T) {
	api := &fakeAPI{refresh: func(string) (*upstream.Tokens, error) {
		return &upstream.Tokens{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 600}, nil
	}}
	store := &flakyStore{memStore: newMemStore()}
	m, _ := newFlakyManager(t, api, store)
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)
	store.saveErr = errors.New("disk full")

	_, err = m.TokenSource(sess.ID).Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, shared.IsSessionExpired(err))
	assert.NotEqual(t, StatusUnauthenticated, m.State(sess.ID).Status())
}

func TestManager_PurgeForgetsDeletedSessions(t *testing.T) {
	m, _, clock := newManager(t, &fakeAPI{})
	old, err := m.Login(context.Background(), "c1", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)
	clock.Advance(100 * time.Hour)
	fresh, err := m.Login(context.Background(), "c2", upstream.LoginRequest{Email: "d@e.f"})
	require.NoError(t, err)
	clock.Advance(100 * time.Hour)

	_, err = m.Purge(context.Background())
	require.NoError(t, err)

	m.mu.Lock()
	_, oldKept := m.states[old.ID]
	_, freshKept := m.states[fresh.ID]
	m.mu.Unlock()
	assert.False(t, oldKept)
	assert.True(t, freshKept)
}

func TestManager_ProviderFollowsRefresh(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{refresh: func(string) (*upstream.Tokens, error) {
		<-release
		return &upstream.Tokens{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 600}, nil
	}}
	m, _, clock := newManager(t, api)
	m.opts.ResolveWait = 10 * time.Millisecond
	sess, err := m.Login(context.Background(), "c", upstream.LoginRequest{Email: "a@b.c"})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	status, _ := m.Resolve(context.Background(), sess.ID)
	require.Equal(t, StatusLoading, status)

	p := m.Provider(sess.ID)
	ch, cancel := p.Subscribe()
	defer cancel()
	close(release)
	select {
	case st := <-ch:
		assert.Equal(t, StatusAuthenticated, st)
	case <-time.After(time.Second):
		t.Fatal("no status change")
	}
	assert.Equal(t, StatusAuthenticated, p.Status())
}

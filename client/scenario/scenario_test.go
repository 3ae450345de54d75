package scenario

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/croessner/stackload/client/engine"
	"github.com/croessner/stackload/client/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	method  string
	path    string
	auth    string
	hasAuth bool
	ctype   string
	body    string
}

// fakeTarget answers like the application under test and remembers every
// request it saw.
type fakeTarget struct {
	mu       sync.Mutex
	requests []seenRequest

	logins     atomic.Int64
	issued     sync.Map
	loginBody  func(n int64) string
	loginDelay time.Duration
	users      func(auth string) int
	logout     int
}

func (f *fakeTarget) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	auth, hasAuth := r.Header["Authorization"]

	req := seenRequest{method: r.Method, path: r.URL.Path, hasAuth: hasAuth, ctype: r.Header.Get("Content-Type"), body: string(body)}
	if hasAuth {
		req.auth = auth[0]
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	switch r.URL.Path {
	case "/login":
		n := f.logins.Add(1)
		time.Sleep(f.loginDelay)

		body := `{"data":{"token":"abc123"}}`
		if f.loginBody != nil {
			body = f.loginBody(n)
		}

		_, _ = io.WriteString(w, body)
	case "/logout":
		if f.logout != 0 {
			w.WriteHeader(f.logout)
		}
	case "/users":
		if f.users != nil {
			w.WriteHeader(f.users(req.auth))
		}
	case "/healthz":
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeTarget) seen(path string) []seenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []seenRequest

	for _, r := range f.requests {
		if r.path == path {
			out = append(out, r)
		}
	}

	return out
}

func newClient(t *testing.T, host string) *engine.HTTPClient {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.Host = host
	cfg.Timeout = 2 * time.Second

	client, err := engine.NewHTTPClient(cfg, engine.NewDefaultStatsCollector(), log.Discard())
	require.NoError(t, err)

	return client
}

func newTestUser(t *testing.T, s *Scenario, host string) *User {
	t.Helper()

	u, err := s.NewUser("test", newClient(t, host))
	require.NoError(t, err)

	return u.(*User)
}

func startFake(t *testing.T, f *fakeTarget) string {
	t.Helper()

	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	return server.URL
}

func TestLoginStoresTokenForUsers(t *testing.T) {
	fake := &fakeTarget{}
	s := NewScenario(DefaultConfig(), log.Discard())
	u := newTestUser(t, s, startFake(t, fake))

	require.NoError(t, u.OnStart(context.Background()))
	assert.Equal(t, "abc123", s.Token().Get())

	logins := fake.seen("/login")
	require.Len(t, logins, 1)
	assert.Equal(t, http.MethodPost, logins[0].method)
	assert.Equal(t, "application/json", logins[0].ctype)
	assert.JSONEq(t, `{"email":"admin@example.com","password":"changeme"}`, logins[0].body)

	require.NoError(t, u.Users(context.Background()))

	users := fake.seen("/users")
	require.Len(t, users, 1)
	assert.Equal(t, "Bearer abc123", users[0].auth)
}

func TestLoginSkippedWhenTokenSet(t *testing.T) {
	fake := &fakeTarget{}
	s := NewScenario(DefaultConfig(), log.Discard())
	s.Token().Set("existing")

	u := newTestUser(t, s, startFake(t, fake))

	require.NoError(t, u.OnStart(context.Background()))
	assert.Empty(t, fake.seen("/login"))
	assert.Equal(t, "existing", s.Token().Get())
}

func TestLoginWithoutToken(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		missing bool
	}{
		{name: "no data", body: `{}`, missing: true},
		{name: "no token", body: `{"data":{}}`, missing: true},
		{name: "null token", body: `{"data":{"token":null}}`, missing: true},
		{name: "null data", body: `{"data":null}`, missing: true},
		{name: "error body", body: `{"error":"wrong credentials provided"}`, missing: true},
		{name: "not json", body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTarget{loginBody: func(int64) string { return tt.body }}
			s := NewScenario(DefaultConfig(), log.Discard())
			u := newTestUser(t, s, startFake(t, fake))

			err := u.OnStart(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.missing, errors.Is(err, ErrMissingToken))
			assert.False(t, s.Token().IsSet())
		})
	}
}

func TestLoginTokenValues(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		token string
		auth  string
	}{
		{name: "empty token", body: `{"data":{"token":""}}`, token: "", auth: "Bearer "},
		{name: "numeric token", body: `{"data":{"token":42}}`, token: "42", auth: "Bearer 42"},
		{name: "boolean token", body: `{"data":{"token":true}}`, token: "true", auth: "Bearer true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTarget{loginBody: func(int64) string { return tt.body }}
			s := NewScenario(DefaultConfig(), log.Discard())
			u := newTestUser(t, s, startFake(t, fake))

			require.NoError(t, u.OnStart(context.Background()))
			assert.Equal(t, tt.token, s.Token().Get())
			assert.Equal(t, tt.token != "", s.Token().IsSet())

			require.NoError(t, u.Users(context.Background()))

			users := fake.seen("/users")
			require.Len(t, users, 1)
			assert.Equal(t, tt.auth, users[0].auth)
		})
	}
}

func TestLoginTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := server.URL
	server.Close()

	s := NewScenario(DefaultConfig(), log.Discard())
	u := newTestUser(t, s, host)

	err := u.OnStart(context.Background())

	var reqErr *engine.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.False(t, s.Token().IsSet())
}

func TestLogout(t *testing.T) {
	t.Run("sends bearer and clears", func(t *testing.T) {
		fake := &fakeTarget{}
		s := NewScenario(DefaultConfig(), log.Discard())
		s.Token().Set("abc123")

		u := newTestUser(t, s, startFake(t, fake))

		require.NoError(t, u.OnStop(context.Background()))

		logouts := fake.seen("/logout")
		require.Len(t, logouts, 1)
		assert.Equal(t, http.MethodPost, logouts[0].method)
		assert.Equal(t, "Bearer abc123", logouts[0].auth)
		assert.False(t, s.Token().IsSet())
	})

	t.Run("clears on server error", func(t *testing.T) {
		fake := &fakeTarget{logout: http.StatusInternalServerError}
		s := NewScenario(DefaultConfig(), log.Discard())
		s.Token().Set("abc123")

		u := newTestUser(t, s, startFake(t, fake))

		require.NoError(t, u.OnStop(context.Background()))
		assert.False(t, s.Token().IsSet())
	})

	t.Run("clears on transport error", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		host := server.URL
		server.Close()

		s := NewScenario(DefaultConfig(), log.Discard())
		s.Token().Set("abc123")

		u := newTestUser(t, s, host)

		assert.Error(t, u.OnStop(context.Background()))
		assert.False(t, s.Token().IsSet())
	})

	t.Run("no token no request", func(t *testing.T) {
		fake := &fakeTarget{}
		s := NewScenario(DefaultConfig(), log.Discard())
		u := newTestUser(t, s, startFake(t, fake))

		require.NoError(t, u.OnStop(context.Background()))
		assert.Empty(t, fake.seen("/logout"))
	})
}

func TestHealthNeverSendsAuthorization(t *testing.T) {
	fake := &fakeTarget{}
	s := NewScenario(DefaultConfig(), log.Discard())
	u := newTestUser(t, s, startFake(t, fake))

	require.NoError(t, u.OnStart(context.Background()))
	require.NoError(t, u.Health(context.Background()))

	health := fake.seen("/healthz")
	require.Len(t, health, 1)
	assert.Equal(t, http.MethodGet, health[0].method)
	assert.False(t, health[0].hasAuth)
}

func TestUsersWithoutToken(t *testing.T) {
	fake := &fakeTarget{users: func(string) int { return http.StatusUnauthorized }}
	s := NewScenario(DefaultConfig(), log.Discard())
	u := newTestUser(t, s, startFake(t, fake))

	require.NoError(t, u.Users(context.Background()))

	users := fake.seen("/users")
	require.Len(t, users, 1)
	assert.Equal(t, "Bearer ", users[0].auth)
	assert.Empty(t, fake.seen("/login"))
}

func TestTaskWeights(t *testing.T) {
	s := NewScenario(DefaultConfig(), log.Discard())
	u := newTestUser(t, s, "http://localhost:3000")

	tasks := u.Tasks().Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "health", tasks[0].Name)
	assert.Equal(t, 2, tasks[0].Weight)
	assert.Equal(t, "users", tasks[1].Name)
	assert.Equal(t, 1, tasks[1].Weight)
	assert.Equal(t, 3, u.Tasks().TotalWeight())
}

func concurrentLogins(t *testing.T, policy string, users int) (*Scenario, *fakeTarget, []*User) {
	t.Helper()

	fake := &fakeTarget{loginDelay: 20 * time.Millisecond}
	fake.loginBody = func(n int64) string {
		token := "token-" + string(rune('a'+n%26))
		fake.issued.Store(token, struct{}{})

		return `{"data":{"token":"` + token + `"}}`
	}

	cfg := DefaultConfig()
	cfg.TokenPolicy = policy

	s := NewScenario(cfg, log.Discard())
	host := startFake(t, fake)

	all := make([]*User, users)
	for i := range all {
		all[i] = newTestUser(t, s, host)
	}

	var wg sync.WaitGroup

	for _, u := range all {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, u.OnStart(context.Background()))
		}()
	}

	wg.Wait()

	return s, fake, all
}

func TestGuardedPolicyLogsInOnce(t *testing.T) {
	s, fake, users := concurrentLogins(t, PolicyGuarded, 25)

	assert.Equal(t, int64(1), fake.logins.Load())
	assert.True(t, s.Token().IsSet())

	for _, u := range users {
		require.NoError(t, u.OnStop(context.Background()))
	}

	assert.Len(t, fake.seen("/logout"), 1)
	assert.False(t, s.Token().IsSet())
}

func TestSharedPolicyEndsWithoutToken(t *testing.T) {
	s, fake, users := concurrentLogins(t, PolicyShared, 25)

	// Without the guard every user sees the token unset while the first
	// login is still in flight.
	assert.Greater(t, fake.logins.Load(), int64(1))
	require.True(t, s.Token().IsSet())

	_, issued := fake.issued.Load(s.Token().Get())
	assert.True(t, issued, "stored token %q was never issued", s.Token().Get())

	var wg sync.WaitGroup

	for _, u := range users {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = u.OnStop(context.Background())
		}()
	}

	wg.Wait()

	assert.NotEmpty(t, fake.seen("/logout"))
	assert.False(t, s.Token().IsSet())
}

func TestReloginOn401(t *testing.T) {
	newFake := func() *fakeTarget {
		return &fakeTarget{
			loginBody: func(n int64) string {
				if n == 1 {
					return `{"data":{"token":"old"}}`
				}

				return `{"data":{"token":"new"}}`
			},
			users: func(auth string) int {
				if auth == "Bearer old" {
					return http.StatusUnauthorized
				}

				return http.StatusOK
			},
		}
	}

	t.Run("enabled", func(t *testing.T) {
		fake := newFake()
		cfg := DefaultConfig()
		cfg.ReloginOn401 = true

		s := NewScenario(cfg, log.Discard())
		u := newTestUser(t, s, startFake(t, fake))

		require.NoError(t, u.OnStart(context.Background()))
		require.NoError(t, u.Users(context.Background()))

		assert.Equal(t, "new", s.Token().Get())
		assert.Equal(t, int64(2), fake.logins.Load())

		require.NoError(t, u.Users(context.Background()))
		assert.Equal(t, int64(2), fake.logins.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		fake := newFake()
		s := NewScenario(DefaultConfig(), log.Discard())
		u := newTestUser(t, s, startFake(t, fake))

		require.NoError(t, u.OnStart(context.Background()))
		require.NoError(t, u.Users(context.Background()))

		assert.Equal(t, "old", s.Token().Get())
		assert.Equal(t, int64(1), fake.logins.Load())
	})

	t.Run("token already replaced", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ReloginOn401 = true

		s := NewScenario(cfg, log.Discard())

		// Another user swaps the token while this request is in flight.
		fake := newFake()
		fake.users = func(string) int {
			s.Token().Set("other")

			return http.StatusUnauthorized
		}

		u := newTestUser(t, s, startFake(t, fake))

		require.NoError(t, u.OnStart(context.Background()))

		require.NoError(t, u.Users(context.Background()))
		assert.Equal(t, "other", s.Token().Get())
		assert.Equal(t, int64(1), fake.logins.Load())
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.TokenPolicy = "locked"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.HealthWeight = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Email = "admin"
	assert.Error(t, cfg.Validate())
}

func TestTokenCompareAndClear(t *testing.T) {
	var token Token

	assert.False(t, token.CompareAndClear(""))

	token.Set("a")
	assert.False(t, token.CompareAndClear("b"))
	assert.Equal(t, "a", token.Get())
	assert.True(t, token.CompareAndClear("a"))
	assert.False(t, token.IsSet())

	token.Set("c")
	assert.Equal(t, "c", token.Clear())
	assert.Equal(t, "", token.Clear())
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hashland/pkg/auth"
	"hashland/pkg/config"
	"hashland/pkg/library"
	"hashland/pkg/persistence"
	"hashland/pkg/presence"
	"hashland/pkg/provider"
	"hashland/pkg/relay"
	"hashland/pkg/resolver"
	"hashland/pkg/tmdb"
)

type stubProvider struct {
	name       string
	candidates []provider.Candidate
	err        error
	block      bool
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(ctx context.Context, q provider.Query) ([]provider.Candidate, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.candidates, p.err
}

type stubTranslator map[string]string

func (s stubTranslator) IMDbID(ctx context.Context, id, kind string) (string, error) {
	if v, ok := s[id]; ok {
		return v, nil
	}
	return "", tmdb.ErrNoIMDbID
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	users   *auth.UserManager
	lib     *library.Store
	tracker *presence.Tracker
}

func newTestEnv(t *testing.T, prov provider.Provider, tmdbURL string) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.ResolveTimeoutSeconds = 5

	state, err := persistence.NewManager(t.TempDir())
	require.NoError(t, err)
	users, err := auth.NewUserManager(state, time.Hour, "admin", "secret")
	require.NoError(t, err)
	require.NoError(t, users.PutUser("alice", "pw", auth.RoleViewer, "Alice", 1))
	lib, err := library.NewStore(state)
	require.NoError(t, err)

	tracker := presence.NewTracker()
	hub := relay.NewHub(tracker, relay.Options{})
	t.Cleanup(hub.Close)

	var providers []provider.Provider
	if prov != nil {
		providers = append(providers, prov)
	}
	srv := NewServer(Deps{
		Config:   cfg,
		Users:    users,
		Resolver: resolver.New(stubTranslator{"603": "tt0133093"}, providers, nil),
		Library:  lib,
		TMDB:     tmdb.NewClient(tmdbURL, "k"),
		Hub:      hub,
		Presence: tracker,
	})
	return &testEnv{srv: srv, handler: srv.Handler(), users: users, lib: lib, tracker: tracker}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, user, pass string) string {
	t.Helper()
	token, _, err := e.users.Login(user, pass)
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil, "")
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestLoginVerifyLogout(t *testing.T) {
	e := newTestEnv(t, nil, "")

	rec := e.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "alice", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = e.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "Alice", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice", resp.User.ID)
	assert.Len(t, resp.Token, 64)

	rec = e.do(t, http.MethodGet, "/auth/verify", resp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	rec = e.do(t, http.MethodPost, "/auth/logout", resp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/auth/verify", resp.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decode(t, rec)["valid"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t, nil, "")
	for _, path := range []string{"/library", "/tmdb/movie/603", "/admin/users"} {
		rec := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Unauthorized", decode(t, rec)["error"], path)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	e := newTestEnv(t, nil, "")
	token := e.login(t, "alice", "pw")
	rec := e.do(t, http.MethodGet, "/admin/users", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin access required", decode(t, rec)["error"])
}

func TestResolve(t *testing.T) {
	prov := &stubProvider{name: "torrentio", candidates: []provider.Candidate{
		{Provider: "torrentio", Name: "720p", InfoHash: "0123456789abcdef0123456789abcdef01234567"},
		{Provider: "torrentio", Name: "1080p", URL: "https://cdn.example/movie.mkv", Quality: "1080p"},
	}}
	e := newTestEnv(t, prov, "")
	token := e.login(t, "alice", "pw")

	rec := e.do(t, http.MethodPost, "/streams/resolve", token, map[string]interface{}{
		"tmdbId": 603, "mediaType": "movie", "title": "The Matrix",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	stream := body["stream"].(map[string]interface{})
	assert.Equal(t, "url", stream["type"])
	assert.Equal(t, "https://cdn.example/movie.mkv", stream["url"])
}

func TestResolveErrors(t *testing.T) {
	e := newTestEnv(t, &stubProvider{name: "torrentio"}, "")
	token := e.login(t, "alice", "pw")

	rec := e.do(t, http.MethodPost, "/streams/resolve", token, map[string]interface{}{"titleId": "603"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/streams/resolve", token, map[string]interface{}{
		"titleId": "603", "mediaKind": "movie",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No streams found", decode(t, rec)["error"])

	rec = e.do(t, http.MethodPost, "/streams/resolve", token, map[string]interface{}{
		"titleId": "999", "mediaKind": "movie",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveTimeout(t *testing.T) {
	e := newTestEnv(t, &stubProvider{name: "slow", block: true}, "")
	e.srv.config.ResolveTimeoutSeconds = 0
	token := e.login(t, "alice", "pw")

	rec := e.do(t, http.MethodPost, "/streams/resolve", token, map[string]interface{}{
		"titleId": "tt0133093", "mediaKind": "movie",
	})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestLibrary(t *testing.T) {
	e := newTestEnv(t, nil, "")
	token := e.login(t, "alice", "pw")

	rec := e.do(t, http.MethodPost, "/library", token, map[string]interface{}{
		"item": map[string]interface{}{"id": 603, "title": "The Matrix"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/library", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["library"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "The Matrix", items[0].(map[string]interface{})["title"])

	rec = e.do(t, http.MethodDelete, "/library/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, "/library/603", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, e.lib.Count("alice"))

	rec = e.do(t, http.MethodPost, "/library", token, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	e := newTestEnv(t, nil, "")
	token := e.login(t, "admin", "secret")
	e.tracker.Touch("alice", "conn-1")

	rec := e.do(t, http.MethodPost, "/admin/library/alice", token, map[string]interface{}{
		"item": map[string]interface{}{"id": 1396, "title": "Breaking Bad"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	items := e.lib.List("alice")
	require.Len(t, items, 1)
	assert.Equal(t, "admin", items[0]["addedBy"])

	rec = e.do(t, http.MethodGet, "/admin/users", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		Users []AdminUser `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users.Users, 2)
	alice := users.Users[1]
	assert.Equal(t, "alice", alice.ID)
	assert.True(t, alice.Online)
	assert.Equal(t, 1, alice.LibraryCount)

	rec = e.do(t, http.MethodGet, "/admin/library/ghost", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodDelete, "/admin/library/alice/1396", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, e.lib.Count("alice"))

	rec = e.do(t, http.MethodGet, "/admin/sessions", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "presence")

	rec = e.do(t, http.MethodGet, "/admin/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats SystemStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.UsersOnline)
	assert.Equal(t, 2, stats.UsersTotal)

	rec = e.do(t, http.MethodGet, "/admin/logs", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminManagesUsers(t *testing.T) {
	e := newTestEnv(t, nil, "")
	token := e.login(t, "admin", "secret")

	rec := e.do(t, http.MethodPost, "/admin/users", token, AdminUserRequest{
		Username: "Min", Password: "pw", Role: auth.RoleCohost, DisplayName: "Min", AuthorityRank: 50,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "min", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, auth.RoleCohost, resp.User.Role)

	rec = e.do(t, http.MethodPost, "/admin/users", token, AdminUserRequest{Username: "x", Password: "pw", Role: "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/admin/users", token, AdminUserRequest{Username: "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, "/admin/users/admin", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, "/admin/users/min", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, e.users.Exists("min"))
	rec = e.do(t, http.MethodGet, "/auth/verify", resp.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodDelete, "/admin/users/min", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	userToken := e.login(t, "alice", "pw")
	rec = e.do(t, http.MethodPost, "/admin/users", userToken, AdminUserRequest{Username: "z", Password: "pw"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTMDBProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/603" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":603,"title":"The Matrix"}`))
	}))
	defer upstream.Close()

	e := newTestEnv(t, nil, upstream.URL)
	token := e.login(t, "alice", "pw")

	rec := e.do(t, http.MethodGet, "/tmdb/movie/603?language=en-US", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "The Matrix", decode(t, rec)["title"])

	rec = e.do(t, http.MethodGet, "/tmdb/movie/0", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	e := newTestEnv(t, nil, "")
	rec := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Evoltonnac/quota-board/internal/auth"
	"github.com/Evoltonnac/quota-board/internal/config"
	"github.com/Evoltonnac/quota-board/internal/engine"
	"github.com/Evoltonnac/quota-board/internal/secrets"
	"github.com/Evoltonnac/quota-board/internal/server"
	"github.com/Evoltonnac/quota-board/internal/store"
	"github.com/Evoltonnac/quota-board/pkg/api"
)

type serverRig struct {
	router   *gin.Engine
	executor *engine.Executor
	secrets  *secrets.Store
	sink     *store.Store
	auth     *auth.Manager
}

const testCatalog = `
sources:
  - id: openai
    name: OpenAI
    flow:
      - id: get_key
        use: api_key
        outputs:
          access_token: token
  - id: offline
    name: Offline
    enabled: false
  - id: oauth-src
    name: OAuth Source
    auth:
      type: oauth
      auth_url: https://provider.example/authorize
      token_url: https://provider.example/token
      client_id: client-1
`

func newServerRig(t *testing.T) *serverRig {
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	err := os.WriteFile(
		filepath.Join(dir, "catalog.yaml"), []byte(testCatalog), 0o644,
	)
	require.NoError(t, err)

	catalog, err := config.LoadCatalog(dir)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sec := secrets.NewStore(client, "test")
	sink := store.NewStore(client, "test")

	mgr := auth.NewManager(sec, resty.New(), catalog)
	for _, def := range catalog.EnabledSources() {
		mgr.RegisterSource(context.Background(), def)
	}

	executor := engine.New(sec, sink, mgr, resty.New(), nil)
	srv := server.NewServer(catalog, executor, mgr, sec, sink)

	return &serverRig{
		router:   srv.SetupRoutes(),
		executor: executor,
		secrets:  sec,
		sink:     sink,
		auth:     mgr,
	}
}

func (r *serverRig) do(
	t *testing.T, method, path, body string,
) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListSources(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, w.Code)

	var summaries []api.SourceSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 3)

	byID := map[api.SourceID]api.SourceSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.True(t, byID["openai"].Enabled)
	assert.False(t, byID["offline"].Enabled)
	assert.Equal(t, api.StatusDisabled, byID["offline"].Status)
}

func TestGetSourceState(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/sources/openai/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var st api.SourceState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, api.SourceID("openai"), st.SourceID)
	assert.Equal(t, api.StatusActive, st.Status)
}

func TestGetSourceStateUnknown(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/sources/ghost/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSourceData(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/data/openai", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, rig.sink.UpsertData(
		context.Background(), "openai", map[api.Name]any{"used": 5.0},
	))

	w = rig.do(t, http.MethodGet, "/api/data/openai", "")
	require.Equal(t, http.StatusOK, w.Code)

	var record api.LatestRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, 5.0, record.Data["used"])
}

func TestRefreshUnknownSource(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/refresh/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshSourceAccepted(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/refresh/openai", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRefreshAllAccepted(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	// Disabled sources are not scheduled
	assert.Equal(t, 2.0, body["count"])
}

func TestInteractStoresValues(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/sources/openai/interact",
		`{"values":{"api_key":"sk-new"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	val, ok, err := rig.secrets.Get(
		context.Background(), "openai", "api_key",
	)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-new", val)
}

func TestInteractBadBody(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/sources/openai/interact",
		`{"values": 17}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthStatus(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/sources/oauth-src/auth-status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status api.AuthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.HasOAuth)
	assert.False(t, status.HasToken)

	w = rig.do(t, http.MethodGet, "/api/sources/openai/auth-status", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.HasOAuth)
}

func TestAuthorizeRedirect(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/oauth/authorize/oauth-src", "")
	require.Equal(t, http.StatusFound, w.Code)

	location := w.Header().Get("Location")
	assert.Contains(t, location, "https://provider.example/authorize")
	assert.Contains(t, location, "code_challenge")
	assert.Contains(t, location, "state=oauth-src")
}

func TestAuthorizeWithoutOAuth(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/oauth/authorize/openai", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallbackRequiresCode(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/oauth/callback/oauth-src", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	rig := newServerRig(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/sources", nil)
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

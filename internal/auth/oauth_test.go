package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Evoltonnac/quota-board/internal/auth"
	"github.com/Evoltonnac/quota-board/internal/secrets"
	"github.com/Evoltonnac/quota-board/pkg/api"
)

func newSecretsStore(t *testing.T) *secrets.Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return secrets.NewStore(client, "test")
}

func oauthConfig(tokenURL string) *api.AuthConfig {
	return &api.AuthConfig{
		Type:         api.AuthOAuth,
		AuthURL:      "https://provider.example/authorize",
		TokenURL:     tokenURL,
		ClientID:     "client-1",
		ClientSecret: "shh",
		Scopes:       []string{"read", "write"},
		RedirectURI:  "http://localhost:5173/oauth/callback",
	}
}

func TestAuthorizeURL(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	o, err := auth.NewOAuth(
		ctx, oauthConfig("https://provider.example/token"), "src",
		store, resty.New(),
	)
	require.NoError(t, err)

	raw, err := o.AuthorizeURL(ctx, "")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	params := parsed.Query()

	assert.Equal(t, "code", params.Get("response_type"))
	assert.Equal(t, "client-1", params.Get("client_id"))
	assert.Equal(t, "read write", params.Get("scope"))
	assert.Equal(t, "src", params.Get("state"))
	assert.Equal(
		t, "http://localhost:5173/oauth/callback",
		params.Get("redirect_uri"),
	)
	assert.Equal(t, "S256", params.Get("code_challenge_method"))
	assert.NotEmpty(t, params.Get("code_challenge"))

	// The matching verifier was persisted for the callback
	ch, err := store.TakeChallenge(ctx, "src")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.NotEmpty(t, ch.Verifier)
}

func TestAuthorizeURLWithoutPKCE(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	cfg := oauthConfig("https://provider.example/token")
	disabled := false
	cfg.SupportsPKCE = &disabled

	o, err := auth.NewOAuth(ctx, cfg, "src", store, resty.New())
	require.NoError(t, err)

	raw, err := o.AuthorizeURL(ctx, "")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Empty(t, parsed.Query().Get("code_challenge"))
}

func TestExchangeCodeForm(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			form = r.PostForm
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "tok-123",
				"refresh_token": "ref-456",
				"expires_in":    3600,
			})
		},
	))
	defer srv.Close()

	o, err := auth.NewOAuth(
		ctx, oauthConfig(srv.URL), "src", store, resty.New(),
	)
	require.NoError(t, err)

	// Start the flow so a PKCE verifier is pending
	_, err = o.AuthorizeURL(ctx, "")
	require.NoError(t, err)

	err = o.ExchangeCode(ctx, "the-code", "")
	require.NoError(t, err)

	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "client-1", form.Get("client_id"))
	assert.NotEmpty(t, form.Get("code_verifier"))

	assert.True(t, o.HasToken())
	assert.Equal(t, "tok-123", o.AccessToken())

	// The normalized bundle is persisted under access_token
	val, ok, err := store.Get(ctx, "src", "access_token")
	require.NoError(t, err)
	require.True(t, ok)
	bundle, ok := val.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tok-123", bundle["access_token"])
	assert.Equal(t, "ref-456", bundle["refresh_token"])
	assert.NotZero(t, bundle["expires_at"])
	assert.NotZero(t, bundle["saved_at"])
}

func TestExchangeCodeJSONBody(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(
				t, r.Header.Get("Content-Type"), "application/json",
			)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-json",
			})
		},
	))
	defer srv.Close()

	cfg := oauthConfig(srv.URL)
	cfg.TokenRequestType = api.TokenRequestJSON

	o, err := auth.NewOAuth(ctx, cfg, "src", store, resty.New())
	require.NoError(t, err)

	require.NoError(t, o.ExchangeCode(ctx, "the-code", ""))
	assert.Equal(t, "the-code", body["code"])
	assert.Equal(t, "tok-json", o.AccessToken())
}

func TestExchangeCodeBasicAuth(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client-1", user)
			assert.Equal(t, "shh", pass)

			require.NoError(t, r.ParseForm())
			assert.Empty(t, r.PostForm.Get("client_secret"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-basic",
			})
		},
	))
	defer srv.Close()

	cfg := oauthConfig(srv.URL)
	cfg.TokenEndpointAuthMethod = api.TokenAuthClientSecretBasic

	o, err := auth.NewOAuth(ctx, cfg, "src", store, resty.New())
	require.NoError(t, err)

	require.NoError(t, o.ExchangeCode(ctx, "code", ""))
	assert.Equal(t, "tok-basic", o.AccessToken())
}

func TestExchangeCodeRejected(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		},
	))
	defer srv.Close()

	o, err := auth.NewOAuth(
		ctx, oauthConfig(srv.URL), "src", store, resty.New(),
	)
	require.NoError(t, err)

	err = o.ExchangeCode(ctx, "bad-code", "")
	assert.ErrorIs(t, err, auth.ErrTokenExchange)
	assert.False(t, o.HasToken())
}

func TestTokenFieldNormalization(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"key":       "custom-tok",
				"user_name": "someone",
			})
		},
	))
	defer srv.Close()

	cfg := oauthConfig(srv.URL)
	cfg.TokenField = "key"

	o, err := auth.NewOAuth(ctx, cfg, "src", store, resty.New())
	require.NoError(t, err)

	require.NoError(t, o.ExchangeCode(ctx, "code", ""))
	assert.Equal(t, "custom-tok", o.AccessToken())

	// Provider extras are dropped from the stored bundle
	val, ok, err := store.Get(ctx, "src", "access_token")
	require.NoError(t, err)
	require.True(t, ok)
	bundle, ok := val.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "custom-tok", bundle["access_token"])
	assert.NotContains(t, bundle, "user_name")
	assert.NotContains(t, bundle, "key")
}

func TestEnsureValidTokenRefreshes(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "ref-1", r.PostForm.Get("refresh_token"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-new",
				"expires_in":   3600,
			})
		},
	))
	defer srv.Close()

	// Seed an already expired bundle
	require.NoError(t, store.Set(ctx, "src", "access_token", map[string]any{
		"access_token":  "tok-old",
		"refresh_token": "ref-1",
		"expires_at":    api.Epoch(time.Now().Add(-time.Hour)),
	}))

	o, err := auth.NewOAuth(
		ctx, oauthConfig(srv.URL), "src", store, resty.New(),
	)
	require.NoError(t, err)
	assert.Equal(t, "tok-old", o.AccessToken())

	o.EnsureValidToken(ctx)
	assert.Equal(t, "tok-new", o.AccessToken())
}

func TestRefreshFailureKeepsToken(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"server_error"}`, http.StatusBadGateway)
		},
	))
	defer srv.Close()

	require.NoError(t, store.Set(ctx, "src", "access_token", map[string]any{
		"access_token":  "tok-old",
		"refresh_token": "ref-1",
		"expires_at":    api.Epoch(time.Now().Add(-time.Hour)),
	}))

	o, err := auth.NewOAuth(
		ctx, oauthConfig(srv.URL), "src", store, resty.New(),
	)
	require.NoError(t, err)

	// The failure is swallowed; the stale token stays in place
	o.EnsureValidToken(ctx)
	assert.Equal(t, "tok-old", o.AccessToken())
}

func TestFreshTokenNotRefreshed(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			calls++
		},
	))
	defer srv.Close()

	require.NoError(t, store.Set(ctx, "src", "access_token", map[string]any{
		"access_token":  "tok",
		"refresh_token": "ref",
		"expires_at":    api.Epoch(time.Now().Add(time.Hour)),
	}))

	o, err := auth.NewOAuth(
		ctx, oauthConfig(srv.URL), "src", store, resty.New(),
	)
	require.NoError(t, err)

	o.EnsureValidToken(ctx)
	assert.Zero(t, calls)
	assert.Equal(t, "tok", o.AccessToken())
}

func TestLoadLegacyStringToken(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "src", "oauth_token", "legacy-tok"))

	o, err := auth.NewOAuth(
		ctx, oauthConfig("https://provider.example/token"), "src",
		store, resty.New(),
	)
	require.NoError(t, err)
	assert.Equal(t, "legacy-tok", o.AccessToken())
}

func TestApplyBearer(t *testing.T) {
	store := newSecretsStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "src", "access_token", "flat-tok"))

	o, err := auth.NewOAuth(
		ctx, oauthConfig("https://provider.example/token"), "src",
		store, resty.New(),
	)
	require.NoError(t, err)

	client := o.Apply(resty.New())
	assert.Equal(t, "Bearer flat-tok", client.Header.Get("Authorization"))
}

func TestResolveAccessToken(t *testing.T) {
	assert.Equal(t, "flat", auth.ResolveAccessToken("flat"))
	assert.Equal(t, "nested", auth.ResolveAccessToken(map[string]any{
		"access_token": "nested",
	}))
	assert.Equal(t, "keyed", auth.ResolveAccessToken(map[string]any{
		"key": "keyed",
	}))
	assert.Empty(t, auth.ResolveAccessToken(nil))
	assert.Empty(t, auth.ResolveAccessToken(42))
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Evoltonnac/quota-board/internal/secrets"
	"github.com/Evoltonnac/quota-board/pkg/api"
	"github.com/Evoltonnac/quota-board/pkg/log"
)

// OAuth owns the authorization-code lifecycle for one source: authorize
// URL construction, code-for-token exchange, refresh, and bearer
// application. Token bundles persist in the secrets store under the
// source's id
type OAuth struct {
	cfg      *api.AuthConfig
	sourceID api.SourceID
	secrets  *secrets.Store
	client   *resty.Client
	clock    func() time.Time

	mu    sync.Mutex
	token *api.OAuthToken
	raw   map[string]any
}

const (
	accessTokenKey = api.Name("access_token")

	// legacyTokenKey is where older releases stored the bundle
	legacyTokenKey = api.Name("oauth_token")
)

var (
	ErrRedirectURIRequired = errors.New("oauth authorization requires a redirect_uri")
	ErrAuthURLMissing      = errors.New("oauth config has no auth_url")
	ErrTokenURLMissing     = errors.New("oauth config has no token_url")
	ErrTokenExchange       = errors.New("token exchange failed")
	ErrDecodeTokenResponse = errors.New("failed to decode token response")
)

// NewOAuth creates the token manager for one source and loads any
// persisted token bundle
func NewOAuth(
	ctx context.Context, cfg *api.AuthConfig, id api.SourceID,
	store *secrets.Store, client *resty.Client,
) (*OAuth, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrTokenURLMissing, id)
	}

	o := &OAuth{
		cfg:      cfg,
		sourceID: id,
		secrets:  store,
		client:   client,
		clock:    time.Now,
	}
	if err := o.loadToken(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Config returns the effective OAuth configuration
func (o *OAuth) Config() *api.AuthConfig {
	return o.cfg
}

// AuthorizeURL builds the provider authorization URL. The explicit
// redirect URI takes precedence over the configured default. When PKCE
// is enabled a fresh verifier is generated and persisted, replacing any
// pending challenge for the source
func (o *OAuth) AuthorizeURL(
	ctx context.Context, redirectURI string,
) (string, error) {
	if o.cfg.AuthURL == "" {
		return "", fmt.Errorf("%w: %s", ErrAuthURLMissing, o.sourceID)
	}

	if redirectURI == "" {
		redirectURI = o.cfg.RedirectURI
	}
	if redirectURI == "" {
		return "", fmt.Errorf("%w: %s", ErrRedirectURIRequired, o.sourceID)
	}

	clientID, _, err := o.clientCredentials(ctx)
	if err != nil {
		return "", err
	}

	params := url.Values{}

	if o.cfg.PKCEEnabled() {
		verifier, challenge, err := GeneratePKCE(o.cfg.ChallengeMethod())
		if err != nil {
			return "", err
		}

		err = o.secrets.PutChallenge(ctx, o.sourceID, &api.PKCEChallenge{
			Verifier:  verifier,
			State:     string(o.sourceID),
			CreatedAt: api.Epoch(o.clock()),
		})
		if err != nil {
			return "", err
		}

		params.Set("code_challenge", challenge)
		params.Set("code_challenge_method", o.cfg.ChallengeMethod())
	}

	if clientID != "" {
		params.Set("client_id", clientID)
	}
	params.Set("response_type", "code")
	params.Set(o.cfg.RedirectParamName(), redirectURI)
	if len(o.cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(o.cfg.Scopes, " "))
	}

	// Single-tenant simplification: the state parameter carries the
	// source id, not a cryptographic nonce
	params.Set("state", string(o.sourceID))

	return o.cfg.AuthURL + "?" + params.Encode(), nil
}

// ExchangeCode trades an authorization code for a token bundle and
// persists the normalized result. The stored PKCE verifier is consumed
// read-once; a missing or expired verifier degrades to a non-PKCE
// request rather than aborting
func (o *OAuth) ExchangeCode(
	ctx context.Context, code, redirectURI string,
) error {
	body := map[string]any{
		"code":       code,
		"grant_type": "authorization_code",
	}

	if redirectURI != "" {
		body[o.cfg.RedirectParamName()] = redirectURI
	}

	if o.cfg.PKCEEnabled() {
		body["code_challenge_method"] = o.cfg.ChallengeMethod()

		ch, err := o.secrets.TakeChallenge(ctx, o.sourceID)
		if err != nil {
			slog.Warn("Failed to read PKCE challenge",
				log.SourceID(o.sourceID),
				log.Error(err))
		}
		if ch != nil {
			body["code_verifier"] = ch.Verifier
		} else {
			slog.Warn("PKCE verifier missing or expired",
				log.SourceID(o.sourceID))
		}
	}

	clientID, clientSecret, err := o.clientCredentials(ctx)
	if err != nil {
		return err
	}

	req := o.client.R().SetContext(ctx)

	useBasic := o.cfg.TokenEndpointAuthMethod ==
		api.TokenAuthClientSecretBasic && clientID != ""
	if useBasic {
		req.SetBasicAuth(clientID, clientSecret)
	} else {
		if clientID != "" {
			body["client_id"] = clientID
		}
		if clientSecret != "" {
			body["client_secret"] = clientSecret
		}
	}

	resp, err := o.postToken(req, body)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		slog.Error("Token exchange rejected",
			log.SourceID(o.sourceID),
			slog.Int("status_code", resp.StatusCode()),
			slog.String("response_body", resp.String()))
		return fmt.Errorf("%w: HTTP %d", ErrTokenExchange, resp.StatusCode())
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrDecodeTokenResponse, o.sourceID)
	}

	return o.saveToken(ctx, raw)
}

// EnsureValidToken refreshes the held token if it is expired. Tokens
// without an expiry never refresh. Refresh failures and a missing
// refresh token are logged only; the caller re-drives authorization on
// next use
func (o *OAuth) EnsureValidToken(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token == nil || !o.token.Expired(o.clock()) {
		return
	}
	o.refreshToken(ctx)
}

// Apply injects the bearer token into the client's headers; a no-op
// when no token is held
func (o *OAuth) Apply(client *resty.Client) *resty.Client {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token != nil && o.token.AccessToken != "" {
		client.SetHeader("Authorization", "Bearer "+o.token.AccessToken)
	}
	return client
}

// HasToken reports whether an access token is held
func (o *OAuth) HasToken() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.token != nil && o.token.AccessToken != ""
}

// AccessToken returns the held access token, or ""
func (o *OAuth) AccessToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token == nil {
		return ""
	}
	return o.token.AccessToken
}

func (o *OAuth) refreshToken(ctx context.Context) {
	if o.token.RefreshToken == "" {
		slog.Warn("Token expired and no refresh_token is stored",
			log.SourceID(o.sourceID))
		return
	}

	body := map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": o.token.RefreshToken,
	}

	clientID, clientSecret, err := o.clientCredentials(ctx)
	if err != nil {
		slog.Error("Failed to resolve client credentials",
			log.SourceID(o.sourceID),
			log.Error(err))
		return
	}
	if clientID != "" {
		body["client_id"] = clientID
	}
	if clientSecret != "" {
		body["client_secret"] = clientSecret
	}

	resp, err := o.postToken(o.client.R().SetContext(ctx), body)
	if err != nil {
		slog.Error("Token refresh failed",
			log.SourceID(o.sourceID),
			log.Error(err))
		return
	}
	if !resp.IsSuccess() {
		slog.Error("Token refresh rejected",
			log.SourceID(o.sourceID),
			slog.Int("status_code", resp.StatusCode()),
			slog.String("response_body", resp.String()))
		return
	}

	var fresh map[string]any
	if err := json.Unmarshal(resp.Body(), &fresh); err != nil {
		slog.Error("Failed to decode refresh response",
			log.SourceID(o.sourceID),
			log.Error(err))
		return
	}

	merged := maps.Clone(o.raw)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, fresh)

	// A fresh expires_in must not be shadowed by the stale expires_at
	if _, ok := fresh["expires_at"]; !ok {
		if _, ok := fresh["expires_in"]; ok {
			delete(merged, "expires_at")
		}
	}

	if err := o.saveTokenLocked(ctx, merged); err != nil {
		slog.Error("Failed to persist refreshed token",
			log.SourceID(o.sourceID),
			log.Error(err))
		return
	}
	slog.Info("OAuth token refreshed",
		log.SourceID(o.sourceID))
}

func (o *OAuth) postToken(
	req *resty.Request, body map[string]any,
) (*resty.Response, error) {
	if o.cfg.TokenRequestType == api.TokenRequestJSON {
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(body)
	} else {
		form := make(map[string]string, len(body))
		for k, v := range body {
			form[k] = fmt.Sprintf("%v", v)
		}
		req.SetFormData(form)
	}
	return req.Post(o.cfg.TokenURL)
}

// saveToken normalizes and persists a raw token endpoint response
func (o *OAuth) saveToken(ctx context.Context, raw map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.saveTokenLocked(ctx, raw)
}

func (o *OAuth) saveTokenLocked(
	ctx context.Context, raw map[string]any,
) error {
	raw["saved_at"] = api.Epoch(o.clock())

	// Providers report lifetime as expires_in seconds; the bundle keeps
	// the absolute expires_at
	if _, ok := raw["expires_at"]; !ok {
		if in, ok := raw["expires_in"].(float64); ok && in > 0 {
			expires := o.clock().Add(
				time.Duration(in * float64(time.Second)),
			)
			raw["expires_at"] = api.Epoch(expires)
		}
	}

	// Providers that return the token under a custom field are
	// normalized down to the standard bundle, dropping the rest of
	// their response
	field := o.cfg.TokenField
	if field != "" && field != string(accessTokenKey) {
		if tok, ok := raw[field].(string); ok {
			clean := map[string]any{
				"access_token": tok,
				"saved_at":     raw["saved_at"],
			}
			if refresh, ok := raw["refresh_token"]; ok {
				clean["refresh_token"] = refresh
			}
			raw = clean
		}
	}

	err := o.secrets.Set(ctx, o.sourceID, accessTokenKey, raw)
	if err != nil {
		return err
	}

	o.raw = raw
	o.token = parseTokenBundle(raw, o.cfg.TokenField)
	slog.Info("OAuth token saved",
		log.SourceID(o.sourceID))
	return nil
}

func (o *OAuth) loadToken(ctx context.Context) error {
	val, ok, err := o.secrets.Get(ctx, o.sourceID, accessTokenKey)
	if err != nil {
		return err
	}
	if !ok {
		val, ok, err = o.secrets.Get(ctx, o.sourceID, legacyTokenKey)
		if err != nil || !ok {
			return err
		}
	}

	switch bundle := val.(type) {
	case string:
		o.raw = map[string]any{"access_token": bundle}
		o.token = &api.OAuthToken{AccessToken: bundle}
	case map[string]any:
		o.raw = bundle
		o.token = parseTokenBundle(bundle, o.cfg.TokenField)
	}

	if o.token != nil {
		slog.Info("OAuth token loaded",
			log.SourceID(o.sourceID))
	}
	return nil
}

func (o *OAuth) clientCredentials(
	ctx context.Context,
) (string, string, error) {
	clientID := o.cfg.ClientID
	clientSecret := o.cfg.ClientSecret
	if clientID != "" && clientSecret != "" {
		return clientID, clientSecret, nil
	}

	bundle, err := o.secrets.GetAll(ctx, o.sourceID)
	if err != nil {
		return "", "", err
	}
	if clientID == "" {
		if s, ok := bundle["client_id"].(string); ok {
			clientID = s
		}
	}
	if clientSecret == "" {
		if s, ok := bundle["client_secret"].(string); ok {
			clientSecret = s
		}
	}
	return clientID, clientSecret, nil
}

func parseTokenBundle(
	bundle map[string]any, tokenField string,
) *api.OAuthToken {
	token := &api.OAuthToken{}

	if s, ok := bundle["access_token"].(string); ok {
		token.AccessToken = s
	} else if tokenField != "" {
		if s, ok := bundle[tokenField].(string); ok {
			token.AccessToken = s
		}
	}
	if s, ok := bundle["refresh_token"].(string); ok {
		token.RefreshToken = s
	}
	if f, ok := bundle["expires_at"].(float64); ok {
		token.ExpiresAt = f
	}
	if f, ok := bundle["saved_at"].(float64); ok {
		token.SavedAt = f
	}

	if token.AccessToken == "" {
		return nil
	}
	return token
}

// ResolveAccessToken extracts a bearer token from a stored bundle value,
// tolerating both the flat string form and the nested bundle form
func ResolveAccessToken(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["access_token"].(string); ok {
			return s
		}
		if s, ok := v["key"].(string); ok {
			return s
		}
	}
	return ""
}

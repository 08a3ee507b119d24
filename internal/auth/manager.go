// Package auth resolves which authentication strategy applies to each
// source and owns the live OAuth token managers.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/Evoltonnac/quota-board/internal/secrets"
	"github.com/Evoltonnac/quota-board/pkg/api"
	"github.com/Evoltonnac/quota-board/pkg/log"
)

type (
	// IntegrationLookup resolves integration templates referenced by
	// sources that carry no flow of their own
	IntegrationLookup interface {
		Integration(id string) (*api.IntegrationDefinition, bool)
	}

	// Manager registers one authentication handler per source and keeps
	// the last registration error per source id. Registration never
	// fails the caller
	Manager struct {
		secrets *secrets.Store
		client  *resty.Client
		lookup  IntegrationLookup

		mu       sync.RWMutex
		handlers map[api.SourceID]*OAuth
		errors   map[api.SourceID]string
	}
)

// DefaultRedirectURI is used when an OAuth step declares no redirect of
// its own; it matches the development frontend callback route
const DefaultRedirectURI = "http://localhost:5173/oauth/callback"

// NewManager creates an authentication registry. The lookup may be nil
// when integrations are not in play
func NewManager(
	store *secrets.Store, client *resty.Client, lookup IntegrationLookup,
) *Manager {
	return &Manager{
		secrets:  store,
		client:   client,
		lookup:   lookup,
		handlers: map[api.SourceID]*OAuth{},
		errors:   map[api.SourceID]string{},
	}
}

// RegisterSource determines the source's effective OAuth configuration
// and creates its token manager. An inline auth block wins over an
// OAuth step embedded in the source's (or its integration's) flow.
// Failures are recorded per source, never returned
func (m *Manager) RegisterSource(
	ctx context.Context, def *api.SourceDefinition,
) {
	id := def.ID

	if def.Auth != nil && def.Auth.Type == api.AuthOAuth {
		m.install(ctx, id, def.Auth, "source auth block")
		return
	}

	flow := def.Flow
	if len(flow) == 0 && def.Integration != "" && m.lookup != nil {
		if integration, ok := m.lookup.Integration(def.Integration); ok {
			flow = integration.Flow
		}
	}

	if step := api.OAuthStep(flow); step != nil {
		m.install(ctx, id, SynthesizeAuthConfig(step), "flow step")
		return
	}

	if def.Auth != nil {
		slog.Debug("No dedicated handler for auth type",
			log.SourceID(id),
			slog.String("auth_type", string(def.Auth.Type)))
	}
}

// OAuthHandler returns the live token manager for a source, or nil
func (m *Manager) OAuthHandler(id api.SourceID) *OAuth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[id]
}

// SourceError returns the last registration error for a source, or ""
func (m *Manager) SourceError(id api.SourceID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[id]
}

// ClearError discards the recorded registration error for a source
func (m *Manager) ClearError(id api.SourceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, id)
}

// CheckCredentials performs the legacy credential-presence check for
// sources without a flow. Missing credentials are raised as the same
// RequiredSecretError the step interpreter uses, keeping the
// suspend/resume contract uniform
func (m *Manager) CheckCredentials(
	ctx context.Context, def *api.SourceDefinition,
) error {
	if def.Auth == nil {
		return nil
	}

	switch def.Auth.Type {
	case api.AuthAPIKey:
		_, ok, err := m.secrets.Get(ctx, def.ID, "api_key")
		if err != nil {
			return err
		}
		if !ok {
			return &RequiredSecretError{
				SourceID:    def.ID,
				StepID:      "auth_check",
				Interaction: api.InteractInputText,
				Fields: []api.InteractionField{{
					Key:      "api_key",
					Label:    "API Key",
					Type:     "password",
					Required: true,
				}},
				Message: fmt.Sprintf("Missing API Key for %s", def.Name),
			}
		}

	case api.AuthOAuth:
		bundle, err := m.secrets.GetAll(ctx, def.ID)
		if err != nil {
			return err
		}
		if ResolveAccessToken(bundle["access_token"]) == "" {
			return &RequiredSecretError{
				SourceID:    def.ID,
				StepID:      "auth_check",
				Interaction: api.InteractOAuthStart,
				Message: fmt.Sprintf(
					"Authorization required for %s", def.Name,
				),
				Data: map[string]any{
					"auth_url": fmt.Sprintf(
						"/api/oauth/authorize/%s", def.ID,
					),
				},
			}
		}
	}

	return nil
}

func (m *Manager) install(
	ctx context.Context, id api.SourceID, cfg *api.AuthConfig, origin string,
) {
	if cfg.RedirectURI == "" {
		// Inline auth blocks may omit the redirect; fall back to the
		// same default the flow-step path gets
		c := *cfg
		c.RedirectURI = DefaultRedirectURI
		cfg = &c
	}

	handler, err := NewOAuth(ctx, cfg, id, m.secrets, m.client)
	if err != nil {
		slog.Error("OAuth registration failed",
			log.SourceID(id),
			log.Error(err))
		m.mu.Lock()
		m.errors[id] = err.Error()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.handlers[id] = handler
	delete(m.errors, id)
	m.mu.Unlock()

	slog.Info("OAuth handler registered",
		log.SourceID(id),
		slog.String("origin", origin))
}

// SynthesizeAuthConfig builds an OAuth configuration from an OAuth flow
// step's arguments
func SynthesizeAuthConfig(step *api.FlowStep) *api.AuthConfig {
	args := step.Args

	redirectURI := args.GetString("redirect_uri", "")
	if redirectURI == "" {
		redirectURI = DefaultRedirectURI
	}

	authMethod := api.TokenAuthNone
	switch m := args.GetString("token_endpoint_auth_method", ""); m {
	case string(api.TokenAuthClientSecretBasic):
		authMethod = api.TokenAuthClientSecretBasic
	case string(api.TokenAuthClientSecretPost):
		authMethod = api.TokenAuthClientSecretPost
	case "", string(api.TokenAuthNone):
	default:
		slog.Warn("Invalid token_endpoint_auth_method",
			log.StepID(step.ID),
			slog.String("value", m))
	}

	supportsPKCE := args.GetBool("supports_pkce", true)

	return &api.AuthConfig{
		Type:                    api.AuthOAuth,
		AuthURL:                 args.GetString("auth_url", ""),
		TokenURL:                args.GetString("token_url", ""),
		ClientID:                args.GetString("client_id", ""),
		ClientSecret:            args.GetString("client_secret", ""),
		Scopes:                  args.GetStrings("scope"),
		RedirectURI:             redirectURI,
		SupportsPKCE:            &supportsPKCE,
		CodeChallengeMethod:     args.GetString("code_challenge_method", "S256"),
		TokenEndpointAuthMethod: authMethod,
		TokenRequestType:        args.GetString("token_request_type", api.TokenRequestForm),
		TokenField:              args.GetString("token_field", "access_token"),
		RedirectParam:           args.GetString("redirect_param", "redirect_uri"),
		DocURL:                  args.GetString("doc_url", ""),
	}
}

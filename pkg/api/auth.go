package api

type (
	// AuthType identifies the authentication strategy for a source
	AuthType string

	// TokenEndpointAuthMethod selects how client credentials are sent to
	// the token endpoint
	TokenEndpointAuthMethod string

	// AuthConfig describes a source's authentication. Only the fields
	// relevant to its Type are consulted
	AuthConfig struct {
		Type AuthType `json:"type" yaml:"type"`

		// API key auth
		APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
		HeaderName   string `json:"header_name,omitempty" yaml:"header_name,omitempty"`
		HeaderPrefix string `json:"header_prefix,omitempty" yaml:"header_prefix,omitempty"`

		// Browser cookie auth
		Browser string `json:"browser,omitempty" yaml:"browser,omitempty"`
		Domain  string `json:"domain,omitempty" yaml:"domain,omitempty"`

		// OAuth 2.0 auth
		ClientID     string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
		ClientSecret string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
		AuthURL      string   `json:"auth_url,omitempty" yaml:"auth_url,omitempty"`
		TokenURL     string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
		Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
		RedirectURI  string   `json:"redirect_uri,omitempty" yaml:"redirect_uri,omitempty"`

		// PKCE; enabled unless explicitly switched off
		SupportsPKCE        *bool  `json:"supports_pkce,omitempty" yaml:"supports_pkce,omitempty"`
		CodeChallengeMethod string `json:"code_challenge_method,omitempty" yaml:"code_challenge_method,omitempty"`

		TokenEndpointAuthMethod TokenEndpointAuthMethod `json:"token_endpoint_auth_method,omitempty" yaml:"token_endpoint_auth_method,omitempty"`

		// Customization for non-standard providers
		TokenRequestType string `json:"token_request_type,omitempty" yaml:"token_request_type,omitempty"`
		TokenField       string `json:"token_field,omitempty" yaml:"token_field,omitempty"`
		RedirectParam    string `json:"redirect_param,omitempty" yaml:"redirect_param,omitempty"`

		// Where the user can create an OAuth client for this provider
		DocURL string `json:"doc_url,omitempty" yaml:"doc_url,omitempty"`
	}
)

const (
	AuthNone    AuthType = "none"
	AuthAPIKey  AuthType = "api_key"
	AuthBrowser AuthType = "browser"
	AuthOAuth   AuthType = "oauth"

	TokenAuthClientSecretBasic TokenEndpointAuthMethod = "client_secret_basic"
	TokenAuthClientSecretPost  TokenEndpointAuthMethod = "client_secret_post"
	TokenAuthNone              TokenEndpointAuthMethod = "none"

	ChallengeS256  = "S256"
	ChallengePlain = "plain"

	TokenRequestForm = "form"
	TokenRequestJSON = "json"
)

// PKCEEnabled reports whether PKCE applies to this configuration
func (c *AuthConfig) PKCEEnabled() bool {
	return c.SupportsPKCE == nil || *c.SupportsPKCE
}

// ChallengeMethod returns the configured code challenge method,
// defaulting to S256
func (c *AuthConfig) ChallengeMethod() string {
	if c.CodeChallengeMethod == "" {
		return ChallengeS256
	}
	return c.CodeChallengeMethod
}

// RedirectParamName returns the query parameter used to carry the
// redirect URI, defaulting to the standard redirect_uri
func (c *AuthConfig) RedirectParamName() string {
	if c.RedirectParam == "" {
		return "redirect_uri"
	}
	return c.RedirectParam
}

package api

import "time"

type (
	// OAuthToken is the normalized token bundle persisted for a source.
	// A missing ExpiresAt means the token never expires
	OAuthToken struct {
		AccessToken  string  `json:"access_token"`
		RefreshToken string  `json:"refresh_token,omitempty"`
		ExpiresAt    float64 `json:"expires_at,omitempty"`
		SavedAt      float64 `json:"saved_at,omitempty"`
	}

	// PKCEChallenge is the single-slot, read-once verifier state kept
	// between authorize-URL construction and code exchange
	PKCEChallenge struct {
		Verifier  string  `json:"verifier"`
		State     string  `json:"state"`
		CreatedAt float64 `json:"created_at"`
	}
)

const (
	// TokenRefreshSkew is how long before expiry a token is already
	// considered expired
	TokenRefreshSkew = 60 * time.Second

	// ChallengeTTL is how long a stored PKCE challenge stays usable
	ChallengeTTL = 600 * time.Second
)

// Expired reports whether the token needs refreshing at the given time.
// Tokens without an expiry never expire
func (t *OAuthToken) Expired(now time.Time) bool {
	if t.ExpiresAt == 0 {
		return false
	}
	deadline := time.Unix(0, int64(t.ExpiresAt*float64(time.Second)))
	return !now.Before(deadline.Add(-TokenRefreshSkew))
}

// Expired reports whether the challenge is too old to be consumed
func (c *PKCEChallenge) Expired(now time.Time) bool {
	created := time.Unix(0, int64(c.CreatedAt*float64(time.Second)))
	return now.Sub(created) > ChallengeTTL
}

// Epoch converts a time to the fractional epoch-seconds representation
// used in persisted bundles
func Epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

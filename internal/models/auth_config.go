package models

// AuthConfig configures static API key authentication for the payment routes.
// The Stripe webhook route is excluded; it authenticates via signature instead.
type AuthConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	APIKeys        []string `yaml:"api_keys,omitempty" json:"-"`
	HeaderNames    []string `yaml:"header_names,omitempty" json:"header_names,omitempty"`
	AllowAnonymous bool     `yaml:"allow_anonymous,omitempty" json:"allow_anonymous,omitempty"`
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:        false,
		HeaderNames:    []string{"X-API-Key"},
		AllowAnonymous: false,
	}
}

// Package provider describes the supported social login providers and builds their
// PKCE authorization URLs with golang.org/x/oauth2.
package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/growgrammers/authflow/internal/auth/pkce"
	"github.com/growgrammers/authflow/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Name identifies a social login provider.
type Name string

const (
	Google Name = "google"
	Kakao  Name = "kakao"
	Naver  Name = "naver"

	// Email is the email OTP login method. It is a session provider but not an OAuth one.
	Email Name = "email"
)

// Priority is the order in which pending authorization codes are picked up.
var Priority = []Name{Google, Kakao, Naver}

var (
	// ErrUnknownProvider is returned for names outside google, kakao and naver.
	ErrUnknownProvider = errors.New("provider: unknown provider")
	// ErrMissingClientID reports a provider without a configured OAuth client id.
	ErrMissingClientID = errors.New("provider: client id is not configured")
)

// KakaoEndpoint is Kakao's OAuth 2.0 endpoint.
var KakaoEndpoint = oauth2.Endpoint{
	AuthURL:   "https://kauth.kakao.com/oauth/authorize",
	TokenURL:  "https://kauth.kakao.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// NaverEndpoint is Naver's OAuth 2.0 endpoint.
var NaverEndpoint = oauth2.Endpoint{
	AuthURL:   "https://nid.naver.com/oauth2.0/authorize",
	TokenURL:  "https://nid.naver.com/oauth2.0/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var defaultScopes = map[Name][]string{
	Google: {"openid", "email", "profile"},
	Kakao:  {"account_email", "profile_nickname"},
}

// Parse normalizes a provider name.
func Parse(raw string) (Name, error) {
	switch n := Name(strings.ToLower(strings.TrimSpace(raw))); n {
	case Google, Kakao, Naver:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
}

// ParseMethod is Parse extended with the email login method.
func ParseMethod(raw string) (Name, error) {
	if Name(strings.ToLower(strings.TrimSpace(raw))) == Email {
		return Email, nil
	}
	return Parse(raw)
}

// Valid reports whether n is a supported provider.
func (n Name) Valid() bool {
	_, err := Parse(string(n))
	return err == nil
}

func (n Name) String() string { return string(n) }

// DisplayName is the human readable provider name.
func (n Name) DisplayName() string {
	switch n {
	case Google:
		return "Google"
	case Kakao:
		return "Kakao"
	case Naver:
		return "Naver"
	case Email:
		return "Email"
	}
	return string(n)
}

// Registry resolves per-provider OAuth client settings from configuration.
type Registry struct {
	providers    config.ProvidersConfig
	callbackBase string
}

// NewRegistry builds a registry; redirect URIs default to the loopback callback route.
func NewRegistry(cfg *config.Config) *Registry {
	if cfg == nil {
		return &Registry{}
	}
	return &Registry{providers: cfg.Providers, callbackBase: cfg.CallbackBaseURL()}
}

// OAuth2Config returns the oauth2 client configuration for a provider. It fails with
// ErrMissingClientID before anything is sent to the provider.
func (r *Registry) OAuth2Config(name Name) (*oauth2.Config, error) {
	client, ok := r.providers.Provider(string(name))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if strings.TrimSpace(client.ClientID) == "" {
		return nil, fmt.Errorf("%w for %s", ErrMissingClientID, name.DisplayName())
	}

	redirect := strings.TrimSpace(client.RedirectURI)
	if redirect == "" {
		redirect = r.callbackBase + "/auth/" + string(name) + "/callback"
	}
	scopes := client.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes[name]
	}

	cfg := &oauth2.Config{
		ClientID:    strings.TrimSpace(client.ClientID),
		RedirectURL: redirect,
		Scopes:      scopes,
	}
	switch name {
	case Google:
		cfg.Endpoint = google.Endpoint
	case Kakao:
		cfg.Endpoint = KakaoEndpoint
	case Naver:
		cfg.Endpoint = NaverEndpoint
	}
	return cfg, nil
}

// AuthURL builds the authorization redirect for one attempt. Google additionally asks for
// offline access with a forced consent prompt.
func (r *Registry) AuthURL(name Name, params *pkce.Params) (string, error) {
	if params == nil {
		return "", fmt.Errorf("provider: pkce params are required")
	}
	cfg, err := r.OAuth2Config(name)
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", params.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if name == Google {
		opts = append(opts, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	}
	return cfg.AuthCodeURL(params.State, opts...), nil
}

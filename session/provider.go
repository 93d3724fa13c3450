package session

//go:generate mockgen -source=provider.go -destination=mock_provider_test.go -package=session_test

import (
	"context"
)

// Token type hints for revocation requests (RFC 7009).
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// Discovery is the subset of OIDC provider metadata the session needs.
type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	UserInfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
}

// ExchangeRequest carries the parameters of an authorization code exchange.
type ExchangeRequest struct {
	Code        string
	State       string
	RedirectURI string
}

// Provider talks to the OIDC realm.
type Provider interface {
	Discover(ctx context.Context, issuer string) (*Discovery, error)
	Exchange(ctx context.Context, d *Discovery, req ExchangeRequest) (*TokenSet, error)
	Refresh(ctx context.Context, d *Discovery, refreshToken string) (*TokenSet, error)
	Revoke(ctx context.Context, d *Discovery, token, hint string) error
}

// TokenStore persists token sets between runs, keyed by issuer. Load returns
// an error wrapping errors.ErrNotFound when nothing is stored.
type TokenStore interface {
	Save(issuer string, tokens TokenSet) error
	Load(issuer string) (*TokenSet, error)
	Delete(issuer string) error
}

// Launcher opens the interactive authorization flow. It must return once
// the flow has been started, not when it completes.
type Launcher interface {
	Launch(ctx context.Context, authURL string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, authURL string) error

func (f LauncherFunc) Launch(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

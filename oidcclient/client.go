// Package oidcclient implements session.Provider against a standards
// compliant OIDC realm using go-oidc for discovery and ID token
// verification and golang.org/x/oauth2 for the token endpoint.
package oidcclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/session"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const defaultTimeout = 30 * time.Second

type providerEntry struct {
	provider  *oidc.Provider
	discovery *session.Discovery
}

// Client is a session.Provider. Discovery documents are cached per issuer.
type Client struct {
	clientID     string
	clientSecret string
	scopes       []string
	httpClient   *http.Client

	cacheLock sync.RWMutex
	cache     map[string]providerEntry
}

var _ session.Provider = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient sets the client used for every request to the realm.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientSecret configures a confidential client.
func WithClientSecret(secret string) Option {
	return func(c *Client) { c.clientSecret = secret }
}

// WithScopes overrides the default openid scope.
func WithScopes(scopes ...string) Option {
	return func(c *Client) { c.scopes = scopes }
}

func New(clientID string, opts ...Option) *Client {
	c := &Client{
		clientID:   clientID,
		scopes:     []string{oidc.ScopeOpenID},
		httpClient: &http.Client{Timeout: defaultTimeout},
		cache:      make(map[string]providerEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover fetches the realm's discovery document.
func (c *Client) Discover(ctx context.Context, issuer string) (*session.Discovery, error) {
	c.cacheLock.RLock()
	entry, exists := c.cache[issuer]
	c.cacheLock.RUnlock()
	if exists {
		return entry.discovery, nil
	}

	provider, err := oidc.NewProvider(c.clientContext(ctx), issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[Discover] failed to create OIDC provider")
	}

	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
		EndSessionEndpoint string `json:"end_session_endpoint"`
		UserInfoEndpoint   string `json:"userinfo_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, errors.Wrap(err, "[Discover] failed to decode provider metadata")
	}

	endpoint := provider.Endpoint()
	d := &session.Discovery{
		Issuer:                issuer,
		AuthorizationEndpoint: endpoint.AuthURL,
		TokenEndpoint:         endpoint.TokenURL,
		RevocationEndpoint:    extra.RevocationEndpoint,
		EndSessionEndpoint:    extra.EndSessionEndpoint,
		UserInfoEndpoint:      extra.UserInfoEndpoint,
	}

	c.cacheLock.Lock()
	c.cache[issuer] = providerEntry{provider: provider, discovery: d}
	c.cacheLock.Unlock()

	return d, nil
}

// Exchange trades an authorization code for tokens. When the response
// carries an ID token it is verified against the realm's keys.
func (c *Client) Exchange(ctx context.Context, d *session.Discovery, req session.ExchangeRequest) (*session.TokenSet, error) {
	cfg := c.oauth2Config(d, req.RedirectURI)
	ctx = c.clientContext(ctx)

	tok, err := cfg.Exchange(ctx, req.Code, oauth2.SetAuthURLParam("state", req.State))
	if err != nil {
		return nil, errors.Wrap(err, "[Exchange] token exchange failed")
	}

	tokens := session.FromOAuth2Token(tok)
	if tokens.IDToken != "" {
		if err := c.verifyIDToken(ctx, d.Issuer, tokens.IDToken); err != nil {
			return nil, err
		}
	}
	return tokens, nil
}

// Refresh runs the refresh_token grant.
func (c *Client) Refresh(ctx context.Context, d *session.Discovery, refreshToken string) (*session.TokenSet, error) {
	if refreshToken == "" {
		return nil, apperrors.ErrMissingRefreshToken
	}
	cfg := c.oauth2Config(d, "")

	// An empty access token is never valid so the source always refreshes.
	src := cfg.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errors.Wrap(err, "[Refresh] refresh grant failed")
	}
	return session.FromOAuth2Token(tok), nil
}

// Revoke revokes a single token (RFC 7009).
func (c *Client) Revoke(ctx context.Context, d *session.Discovery, token, hint string) error {
	if d == nil || d.RevocationEndpoint == "" {
		return apperrors.ErrNoRevocationEndpoint
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", hint)
	form.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "[Revoke] failed to build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[Revoke] request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		reason := gjson.GetBytes(body, "error_description").String()
		if reason == "" {
			reason = gjson.GetBytes(body, "error").String()
		}
		return apperrors.Wrapf(apperrors.ErrRevocationFailed, "status %d %s", resp.StatusCode, reason)
	}
	return nil
}

func (c *Client) verifyIDToken(ctx context.Context, issuer, rawIDToken string) error {
	c.cacheLock.RLock()
	entry, exists := c.cache[issuer]
	c.cacheLock.RUnlock()
	if !exists {
		return fmt.Errorf("[Exchange] no provider cached for issuer %q", issuer)
	}

	_, err := entry.provider.Verifier(&oidc.Config{ClientID: c.clientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return errors.Wrap(err, "[Exchange] ID token verification failed")
	}
	return nil
}

func (c *Client) oauth2Config(d *session.Discovery, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       c.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   d.AuthorizationEndpoint,
			TokenURL:  d.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// clientContext makes go-oidc and x/oauth2 use c.httpClient.
func (c *Client) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

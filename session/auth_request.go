package session

import (
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ResponseType mirrors the outcome of an interactive authorization flow.
type ResponseType string

const (
	ResponseSuccess ResponseType = "success"
	ResponseError   ResponseType = "error"
	ResponseCancel  ResponseType = "cancel"
	ResponseDismiss ResponseType = "dismiss"
)

// AuthRequest is a prepared authorization code request. PKCE is not used.
type AuthRequest struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	State       string
	URL         string
}

// AuthResponse is what the redirect URI received.
type AuthResponse struct {
	Type             ResponseType
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

func newState() string {
	return uuid.NewString()
}

func newAuthRequest(d *Discovery, s Settings, state string) *AuthRequest {
	cfg := oauth2.Config{
		ClientID:    s.ClientID,
		RedirectURL: s.RedirectURI,
		Scopes:      s.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.AuthorizationEndpoint,
			TokenURL: d.TokenEndpoint,
		},
	}
	return &AuthRequest{
		ClientID:    s.ClientID,
		RedirectURI: s.RedirectURI,
		Scopes:      append([]string(nil), s.Scopes...),
		State:       state,
		URL:         cfg.AuthCodeURL(state),
	}
}

package config

import (
	"strings"
	"time"
)

// Platform selects how the redirect URI is built.
type Platform string

const (
	PlatformNative Platform = "native"
	PlatformWeb    Platform = "web"
)

const callbackPath = "/callback"

type OAuthConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetPlatform() Platform
	GetCallbackAddr() string
	GetRedirectURI() string
	GetRefreshInterval() time.Duration
	GetRefreshMargin() time.Duration
	GetRequestTimeout() time.Duration
}

func (e EnvVars) GetClientID() string {
	return e.ClientID
}

func (e EnvVars) GetClientSecret() string {
	return e.ClientSecret
}

func (e EnvVars) GetScopes() []string {
	if len(e.Scopes) == 0 {
		return []string{"openid"}
	}
	return e.Scopes
}

func (e EnvVars) GetPlatform() Platform {
	return e.Platform
}

func (e EnvVars) GetCallbackAddr() string {
	return e.CallbackAddr
}

// GetRedirectURI returns the loopback callback on native platforms and the
// web application's callback route otherwise.
func (e EnvVars) GetRedirectURI() string {
	if e.Platform == PlatformWeb {
		return strings.TrimSuffix(e.WebBaseURL, "/") + callbackPath
	}
	return "http://" + e.CallbackAddr + callbackPath
}

func (e EnvVars) GetRefreshInterval() time.Duration {
	return e.RefreshEvery
}

func (e EnvVars) GetRefreshMargin() time.Duration {
	return e.RefreshMargin
}

func (e EnvVars) GetRequestTimeout() time.Duration {
	return e.RequestTimeout
}

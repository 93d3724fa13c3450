package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultRefreshMargin is how long before expiry a token is considered due
// for refresh.
const DefaultRefreshMargin = 10 * time.Minute

// TokenSet is the result of a code exchange or refresh grant.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// ShouldRefresh reports whether the access token expires within margin of
// now. A set without an expiry or a refresh token is never refreshed; it
// stays usable until the API rejects it.
func (t *TokenSet) ShouldRefresh(now time.Time, margin time.Duration) bool {
	if t == nil || t.Expiry.IsZero() || t.RefreshToken == "" {
		return false
	}
	return !now.Add(margin).Before(t.Expiry)
}

// OAuth2Token converts the set for use with golang.org/x/oauth2 transports.
func (t *TokenSet) OAuth2Token() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    tokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// FromOAuth2Token copies an oauth2 token response into a TokenSet.
func FromOAuth2Token(tok *oauth2.Token) *TokenSet {
	if tok == nil {
		return nil
	}
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// Claims are the identity claims read from an access token for display.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
}

// ParseClaims decodes the claims of a JWT access token without verifying its
// signature. The token has already been accepted by the token endpoint; the
// result is only used for display and expiry hints.
func ParseClaims(accessToken string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// expiryFromClaims returns the exp claim of a JWT access token, or the zero
// time when the token is opaque.
func expiryFromClaims(accessToken string) time.Time {
	claims, err := ParseClaims(accessToken)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

package oidcclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/oidcclient"
	"github.com/jrsteele09/safe-zone-client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRealm struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	discoveries  int
	tokenForms   []url.Values
	revokedForms []url.Values
	idToken      string
}

func newFakeRealm(t *testing.T) *fakeRealm {
	t.Helper()
	r := &fakeRealm{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", r.discovery)
	mux.HandleFunc("/token", r.token)
	mux.HandleFunc("/revoke", r.revoke)
	mux.HandleFunc("/certs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
	})
	r.srv = httptest.NewServer(mux)
	t.Cleanup(r.srv.Close)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (r *fakeRealm) discovery(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	r.discoveries++
	r.mu.Unlock()

	base := r.srv.URL
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 base,
		"authorization_endpoint": base + "/auth",
		"token_endpoint":         base + "/token",
		"jwks_uri":               base + "/certs",
		"revocation_endpoint":    base + "/revoke",
		"end_session_endpoint":   base + "/logout",
		"userinfo_endpoint":      base + "/userinfo",
	})
}

func (r *fakeRealm) token(w http.ResponseWriter, req *http.Request) {
	require.NoError(r.t, req.ParseForm())
	r.mu.Lock()
	r.tokenForms = append(r.tokenForms, req.PostForm)
	idToken := r.idToken
	r.mu.Unlock()

	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		if req.PostForm.Get("code") != "abc" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		body := map[string]any{
			"access_token":  "T1",
			"refresh_token": "R1",
			"token_type":    "Bearer",
			"expires_in":    300,
			"scope":         "openid",
		}
		if idToken != "" {
			body["id_token"] = idToken
		}
		writeJSON(w, http.StatusOK, body)
	case "refresh_token":
		if req.PostForm.Get("refresh_token") != "R1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "T2",
			"refresh_token": "R2",
			"token_type":    "Bearer",
			"expires_in":    300,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (r *fakeRealm) revoke(w http.ResponseWriter, req *http.Request) {
	require.NoError(r.t, req.ParseForm())
	r.mu.Lock()
	r.revokedForms = append(r.revokedForms, req.PostForm)
	r.mu.Unlock()

	if req.PostForm.Get("token") == "bad" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_request",
			"error_description": "unknown token",
		})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *fakeRealm) tokenRequests() []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.tokenForms...)
}

func (r *fakeRealm) revocations() []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.revokedForms...)
}

func (r *fakeRealm) discoveryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoveries
}

func TestDiscover(t *testing.T) {
	realm := newFakeRealm(t)
	client := oidcclient.New("safe-zone")

	d, err := client.Discover(context.Background(), realm.srv.URL)
	require.NoError(t, err)
	assert.Equal(t, realm.srv.URL, d.Issuer)
	assert.Equal(t, realm.srv.URL+"/auth", d.AuthorizationEndpoint)
	assert.Equal(t, realm.srv.URL+"/token", d.TokenEndpoint)
	assert.Equal(t, realm.srv.URL+"/revoke", d.RevocationEndpoint)
	assert.Equal(t, realm.srv.URL+"/logout", d.EndSessionEndpoint)
	assert.Equal(t, realm.srv.URL+"/userinfo", d.UserInfoEndpoint)

	// Cached per issuer.
	_, err = client.Discover(context.Background(), realm.srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, realm.discoveryCount())
}

func TestDiscover_Unreachable(t *testing.T) {
	realm := newFakeRealm(t)
	issuer := realm.srv.URL
	realm.srv.Close()

	_, err := oidcclient.New("safe-zone").Discover(context.Background(), issuer)
	require.Error(t, err)
}

func TestExchange(t *testing.T) {
	realm := newFakeRealm(t)
	client := oidcclient.New("safe-zone")
	d, err := client.Discover(context.Background(), realm.srv.URL)
	require.NoError(t, err)

	before := time.Now()
	tokens, err := client.Exchange(context.Background(), d, session.ExchangeRequest{
		Code:        "abc",
		State:       "xyz",
		RedirectURI: "http://127.0.0.1:8765/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", tokens.AccessToken)
	assert.Equal(t, "R1", tokens.RefreshToken)
	assert.Equal(t, "openid", tokens.Scope)
	assert.True(t, tokens.Expiry.After(before))

	forms := realm.tokenRequests()
	require.Len(t, forms, 1)
	form := forms[0]
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "abc", form.Get("code"))
	assert.Equal(t, "xyz", form.Get("state"))
	assert.Equal(t, "safe-zone", form.Get("client_id"))
	assert.Equal(t, "http://127.0.0.1:8765/callback", form.Get("redirect_uri"))
	assert.Empty(t, form.Get("code_verifier"))
}

func TestExchange_InvalidCode(t *testing.T) {
	realm := newFakeRealm(t)
	client := oidcclient.New("safe-zone")
	d, err := client.Discover(context.Background(), realm.srv.URL)
	require.NoError(t, err)

	_, err = client.Exchange(context.Background(), d, session.ExchangeRequest{Code: "nope", State: "xyz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestExchange_RejectsUnverifiableIDToken(t *testing.T) {
	realm := newFakeRealm(t)
	realm.mu.Lock()
	realm.idToken = "eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiJ4In0.c2ln"
	realm.mu.Unlock()
	client := oidcclient.New("safe-zone")
	d, err := client.Discover(context.Background(), realm.srv.URL)
	require.NoError(t, err)

	_, err = client.Exchange(context.Background(), d, session.ExchangeRequest{Code: "abc", State: "xyz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ID token verification failed")
}

func TestRefresh(t *testing.T) {
	realm := newFakeRealm(t)
	client := oidcclient.New("safe-zone", oidcclient.WithClientSecret("s3cret"))
	d, err := client.Discover(context.Background(), realm.srv.URL)
	require.NoError(t, err)

	tokens, err := client.Refresh(context.Background(), d, "R1")
	require.NoError(t, err)
	assert.Equal(t, "T2", tokens.AccessToken)
	assert.Equal(t, "R2", tokens.RefreshToken)

	forms := realm.tokenRequests()
	form := forms[len(forms)-1]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "s3cret", form.Get("client_secret"))

	_, err = client.Refresh(context.Background(), d, "stale")
	require.Error(t, err)

	_, err = client.Refresh(context.Background(), d, "")
	require.ErrorIs(t, err, apperrors.ErrMissingRefreshToken)
}

func TestRevoke(t *testing.T) {
	realm := newFakeRealm(t)
	client := oidcclient.New("safe-zone")
	d, err := client.Discover(context.Background(), realm.srv.URL)
	require.NoError(t, err)

	require.NoError(t, client.Revoke(context.Background(), d, "T1", session.HintAccessToken))
	revoked := realm.revocations()
	require.Len(t, revoked, 1)
	assert.Equal(t, "T1", revoked[0].Get("token"))
	assert.Equal(t, "access_token", revoked[0].Get("token_type_hint"))
	assert.Equal(t, "safe-zone", revoked[0].Get("client_id"))

	err = client.Revoke(context.Background(), d, "bad", session.HintRefreshToken)
	require.ErrorIs(t, err, apperrors.ErrRevocationFailed)
	assert.Contains(t, err.Error(), "unknown token")
}

func TestRevoke_NoEndpoint(t *testing.T) {
	client := oidcclient.New("safe-zone")
	err := client.Revoke(context.Background(), &session.Discovery{}, "T1", session.HintAccessToken)
	require.ErrorIs(t, err, apperrors.ErrNoRevocationEndpoint)
}

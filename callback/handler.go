// Package callback receives the authorization redirect on the loopback
// interface and hands it to the session manager.
package callback

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jrsteele09/safe-zone-client/session"
)

const (
	RouteCallback = "/callback"
	RouteHealth   = "/health"
)

// Receiver is the part of session.Manager the callback needs.
type Receiver interface {
	HandleResponse(ctx context.Context, resp session.AuthResponse)
	LoggedIn() bool
}

// NewRouter registers the callback routes.
func NewRouter(receiver Receiver, env string) *mux.Router {
	r := mux.NewRouter()
	r.Use(FrameSecurityMiddleware, RecoverMiddleware, LoggingMiddleware(env))
	r.HandleFunc(RouteCallback, Handler(receiver)).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc(RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	return r
}

// Handler translates the redirect query (or form_post body) into an
// AuthResponse.
func Handler(receiver Receiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue covers both query params and form_post bodies.
		resp := ResponseFromRequest(r)

		// The exchange must outlive the browser request.
		receiver.HandleResponse(context.WithoutCancel(r.Context()), resp)

		if resp.Type != session.ResponseSuccess {
			writePage(w, http.StatusBadRequest, "Login failed",
				fmt.Sprintf("Authorization failed: %s %s", resp.Error, resp.ErrorDescription))
			return
		}
		if !receiver.LoggedIn() {
			writePage(w, http.StatusInternalServerError, "Login failed",
				"The authorization code could not be exchanged. Check the application log.")
			return
		}
		writePage(w, http.StatusOK, "Logged in", "You can close this window and return to the application.")
	}
}

// ResponseFromRequest builds an AuthResponse from the redirect parameters.
func ResponseFromRequest(r *http.Request) session.AuthResponse {
	state := r.FormValue("state")
	code := r.FormValue("code")
	errorParam := r.FormValue("error")
	errorDesc := r.FormValue("error_description")

	switch {
	case errorParam == "access_denied":
		return session.AuthResponse{Type: session.ResponseCancel, State: state, Error: errorParam, ErrorDescription: errorDesc}
	case errorParam != "":
		return session.AuthResponse{Type: session.ResponseError, State: state, Error: errorParam, ErrorDescription: errorDesc}
	case code == "" || state == "":
		return session.AuthResponse{
			Type:             session.ResponseError,
			State:            state,
			Error:            "invalid_request",
			ErrorDescription: "Missing code or state parameter",
		}
	}
	return session.AuthResponse{Type: session.ResponseSuccess, Code: code, State: state}
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}

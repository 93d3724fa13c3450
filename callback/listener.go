package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
)

// Listener serves the callback router on a loopback address.
type Listener struct {
	server *http.Server
	ln     net.Listener
}

func NewListener(addr string, handler http.Handler) *Listener {
	return &Listener{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the address and serves in the background.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return fmt.Errorf("[Listener Start] failed to listen on %s: %w", l.server.Addr, err)
	}
	l.ln = ln
	log.Debug().Str("addr", ln.Addr().String()).Msg("Callback listener started")

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("Callback listener stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, which differs from the configured one
// when port 0 was requested.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return l.server.Addr
	}
	return l.ln.Addr().String()
}

func (l *Listener) Shutdown(ctx context.Context) error {
	if err := l.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("[Listener Shutdown] %w", err)
	}
	return nil
}

// BrowserLauncher opens the authorization URL in the system browser.
type BrowserLauncher struct{}

func (BrowserLauncher) Launch(_ context.Context, authURL string) error {
	log.Info().Str("url", authURL).Msg("Opening browser to log in")
	if err := browser.OpenURL(authURL); err != nil {
		return fmt.Errorf("[BrowserLauncher] failed to open browser: %w", err)
	}
	return nil
}

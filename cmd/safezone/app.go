package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/jrsteele09/safe-zone-client/callback"
	"github.com/jrsteele09/safe-zone-client/freshness"
	"github.com/jrsteele09/safe-zone-client/internal/config"
	"github.com/jrsteele09/safe-zone-client/internal/logging"
	"github.com/jrsteele09/safe-zone-client/listsync"
	"github.com/jrsteele09/safe-zone-client/mibs"
	"github.com/jrsteele09/safe-zone-client/oidcclient"
	"github.com/jrsteele09/safe-zone-client/session"
	"github.com/jrsteele09/safe-zone-client/tokenstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	store   *tokenstore.Bolt
	manager *session.Manager
	api     *mibs.Client
	flag    *freshness.Flag
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] loading config")
	}
	logger := logging.New(cfg.GetEnv(), cfg.GetLogLevel(), cfg.IsProduction())

	if !cfg.IsProduction() && cfg.GetTargetFile() != "" {
		if host, err := config.ReadTargetFile(cfg.GetTargetFile()); err == nil && host != "" {
			if err := cfg.SetTargetServer(host); err != nil {
				logger.Err(err).Msg("Ignoring target override")
			}
		}
	}

	store, err := tokenstore.LoadAt(cfg.GetStateDBPath(), cfg.GetStorePassphrase())
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] opening token store")
	}

	providerOpts := []oidcclient.Option{
		oidcclient.WithHTTPClient(&http.Client{Timeout: cfg.GetRequestTimeout()}),
		oidcclient.WithScopes(cfg.GetScopes()...),
	}
	if secret := cfg.GetClientSecret(); secret != "" {
		providerOpts = append(providerOpts, oidcclient.WithClientSecret(secret))
	}
	provider := oidcclient.New(cfg.GetClientID(), providerOpts...)

	manager := session.NewManager(provider, session.Settings{
		ClientID:        cfg.GetClientID(),
		Scopes:          cfg.GetScopes(),
		RedirectURI:     cfg.GetRedirectURI(),
		RefreshInterval: cfg.GetRefreshInterval(),
		RefreshMargin:   cfg.GetRefreshMargin(),
	},
		session.WithTokenStore(store),
		session.WithLauncher(callback.BrowserLauncher{}),
		session.WithLogger(logger),
	)
	manager.Initialize(ctx, cfg.GetIssuerURL())

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		manager: manager,
		api:     mibs.NewClient(cfg.GetAPIBaseURL(), manager, mibs.WithTimeout(cfg.GetRequestTimeout())),
		flag:    freshness.New(),
	}, nil
}

// changeMarker is touched after every edit so watchers in other processes
// refetch the list.
func (a *app) changeMarker() string {
	return filepath.Join(filepath.Dir(a.cfg.GetStateDBPath()), "mibs.changed")
}

func (a *app) editor() *listsync.Editor {
	return listsync.NewEditor(a.api, a.flag, listsync.WithChangeMarker(a.changeMarker()))
}

// requireDiscovery fails when the authentication server could not be reached.
func (a *app) requireDiscovery() error {
	snap := a.manager.Snapshot()
	if snap.Phase == session.PhaseUninitialized || snap.Phase == session.PhaseDiscovering {
		return fmt.Errorf("authentication server %s is unavailable: %v", a.cfg.GetIssuerURL(), snap.Err)
	}
	return nil
}

// retarget points the session and the API client at the current host.
func (a *app) retarget(ctx context.Context) {
	a.manager.Initialize(ctx, a.cfg.GetIssuerURL())
	a.api.SetBaseURL(a.cfg.GetAPIBaseURL())
	a.flag.MarkStale()
}

func (a *app) Close() {
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Err(err).Msg("Failed to close token store")
	}
}

// withApp wires the app for one command invocation.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

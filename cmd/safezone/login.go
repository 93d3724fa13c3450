package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/safe-zone-client/callback"
	"github.com/jrsteele09/safe-zone-client/session"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				displayAppname(cmd.OutOrStdout(), a.cfg.GetAppName())
				return runLogin(cmd.Context(), cmd.OutOrStdout(), a, timeout)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the browser login to complete")
	return cmd
}

func runLogin(ctx context.Context, w io.Writer, a *app, timeout time.Duration) error {
	if err := a.requireDiscovery(); err != nil {
		return err
	}
	if a.manager.LoggedIn() {
		fmt.Fprintln(w, "Already logged in.")
		return nil
	}

	listener := callback.NewListener(a.cfg.GetCallbackAddr(), callback.NewRouter(a.manager, a.cfg.GetEnv()))
	if err := listener.Start(); err != nil {
		return err
	}
	defer shutdown(listener)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.manager.Login(ctx)
	snapshots, unsubscribe := a.manager.Subscribe()
	defer unsubscribe()

	fmt.Fprintln(w, "Waiting for the browser login to complete...")
	snap, err := awaitLogin(ctx, snapshots)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, okStyle.Render("Logged in."))
	if claims, err := session.ParseClaims(snap.AccessToken); err == nil && claims.PreferredUsername != "" {
		fmt.Fprintf(w, "Welcome, %s.\n", claims.PreferredUsername)
	}
	return nil
}

// awaitLogin waits until the session is logged in or the flow is abandoned.
func awaitLogin(ctx context.Context, snapshots <-chan session.Snapshot) (session.Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return session.Snapshot{}, fmt.Errorf("login did not complete: %w", ctx.Err())
		case snap, ok := <-snapshots:
			if !ok {
				return session.Snapshot{}, fmt.Errorf("session closed before login completed")
			}
			if snap.LoggedIn {
				return snap, nil
			}
			if snap.Phase != session.PhaseAuthenticating {
				return snap, fmt.Errorf("login failed: %v", snap.Err)
			}
		}
	}
}

func shutdown(listener *callback.Listener) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = listener.Shutdown(ctx)
}

func displayAppname(w io.Writer, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(w, myFigure.String())
}

package main

import (
	"fmt"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/spf13/cobra"
)

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored tokens and log out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if !a.manager.LoggedIn() {
					fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
					return nil
				}
				a.manager.Logout(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
				return nil
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				view := newStatusView(a.manager.Snapshot(), a.api.BaseURL())
				return render(cmd.OutOrStdout(), opts.format(), view, func() string {
					return formatStatusTable(view)
				})
			})
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.requireDiscovery(); err != nil {
					return err
				}
				if !a.manager.LoggedIn() {
					return apperrors.ErrNotLoggedIn
				}
				if !a.manager.Refresh(cmd.Context()) {
					return fmt.Errorf("refresh failed, log in again: %v", a.manager.Snapshot().Err)
				}
				view := newStatusView(a.manager.Snapshot(), a.api.BaseURL())
				return render(cmd.OutOrStdout(), opts.format(), view, func() string {
					return formatStatusTable(view)
				})
			})
		},
	}
}

package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	output string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "safezone",
		Short: "Schedule Message in a Bottle deliveries",
		Long: `safezone signs in to the SAFE-ZONE realm and manages scheduled messages.

Configuration is read from the environment (and a .env file when present):
  SAFEZONE_HOST              Server host (required in production)
  SAFEZONE_REALM             OIDC realm (default: safe-zone)
  SAFEZONE_CALLBACK_ADDR     Loopback address for the login redirect
  SAFEZONE_STATE_DB          Token database path
  SAFEZONE_STORE_PASSPHRASE  Encrypts stored tokens when set
  SAFEZONE_TARGET_FILE       Development-only host override file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := parseFormat(opts.output)
			return err
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", string(formatTable), "Output format: table, json or yaml")

	cmd.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newStatusCmd(opts),
		newRefreshCmd(opts),
		newMibsCmd(opts),
	)
	return cmd
}

func (o *rootOptions) format() outputFormat {
	f, _ := parseFormat(o.output)
	return f
}

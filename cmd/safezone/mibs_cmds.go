package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jrsteele09/safe-zone-client/internal/config"
	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/listsync"
	"github.com/jrsteele09/safe-zone-client/mibs"
	"github.com/jrsteele09/safe-zone-client/session"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMibsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mibs",
		Aliases: []string{"mib"},
		Short:   "Manage scheduled messages",
	}
	cmd.AddCommand(
		newMibsListCmd(opts),
		newMibsCreateCmd(opts),
		newMibsUpdateCmd(opts),
		newMibsDeleteCmd(opts),
	)
	return cmd
}

func newMibsListCmd(opts *rootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if watch {
					return runWatch(cmd.Context(), cmd.OutOrStdout(), a, opts.format())
				}
				messages, err := a.api.List(cmd.Context())
				if err != nil {
					return errors.New(mibs.UserMessage("fetch", err))
				}
				return renderMessages(cmd.OutOrStdout(), opts.format(), messages)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep the list up to date until interrupted")
	return cmd
}

func renderMessages(w io.Writer, format outputFormat, messages []mibs.Message) error {
	views := newMessageViews(messages, time.Now())
	return render(w, format, views, func() string {
		return formatMessagesTable(views)
	})
}

// runWatch keeps the list current until ctx is done or the session ends.
func runWatch(ctx context.Context, w io.Writer, a *app, format outputFormat) error {
	if !a.manager.LoggedIn() {
		return apperrors.ErrNotLoggedIn
	}

	syncer := listsync.NewSyncer(a.api, a.flag,
		listsync.WithPollInterval(a.cfg.GetPollInterval()),
		listsync.WithLogger(a.logger),
	)
	lists, unsubscribe := syncer.Subscribe()
	defer unsubscribe()
	snapshots, unsubscribeSession := a.manager.Subscribe()
	defer unsubscribeSession()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return syncer.Run(gctx)
	})

	g.Go(func() error {
		return listsync.WatchMarker(gctx, a.changeMarker(), a.flag)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case messages := <-lists:
				if format == formatTable {
					fmt.Fprintln(w, titleStyle.Render("Updated "+time.Now().Format(time.Kitchen)))
				}
				if err := renderMessages(w, format, messages); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap, ok := <-snapshots:
				// A retarget passes through discovery and ends logged out only
				// when the new issuer has no stored session.
				if !ok || snap.Phase == session.PhaseLoggedOut {
					return apperrors.ErrNotLoggedIn
				}
			}
		}
	})

	if !a.cfg.IsProduction() && a.cfg.GetTargetFile() != "" {
		g.Go(func() error {
			return config.WatchTarget(gctx, a.cfg, func(string) {
				a.retarget(gctx)
			})
		})
	}

	return g.Wait()
}

type messageFlags struct {
	text       string
	recipients []string
	at         string
	in         time.Duration
}

func (f *messageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.text, "message", "m", "", "Message text")
	cmd.Flags().StringSliceVarP(&f.recipients, "to", "t", nil, "Recipient: email:<address>, sms:<number> or user:<id> (repeatable)")
	cmd.Flags().StringVar(&f.at, "at", "", "Send time (RFC 3339)")
	cmd.Flags().DurationVar(&f.in, "in", 0, "Send after this duration")
}

// apply copies the flags the user set onto m.
func (f *messageFlags) apply(cmd *cobra.Command, m *mibs.Message, now time.Time) error {
	if cmd.Flags().Changed("message") {
		m.Message = f.text
	}
	if cmd.Flags().Changed("to") {
		recipients := make([]mibs.Recipient, 0, len(f.recipients))
		for _, raw := range f.recipients {
			r, err := mibs.ParseRecipient(raw)
			if err != nil {
				return err
			}
			recipients = append(recipients, r)
		}
		m.Recipients = recipients
	}
	switch {
	case cmd.Flags().Changed("at") && cmd.Flags().Changed("in"):
		return fmt.Errorf("use either --at or --in, not both")
	case cmd.Flags().Changed("at"):
		t, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		m.SendTime = t
	case cmd.Flags().Changed("in"):
		m.SendTime = now.Add(f.in)
	}
	return nil
}

func newMibsCreateCmd(opts *rootOptions) *cobra.Command {
	flags := &messageFlags{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a new message",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := mibs.Message{}
			if err := flags.apply(cmd, &m, time.Now()); err != nil {
				return err
			}
			if m.Message == "" || len(m.Recipients) == 0 || m.SendTime.IsZero() {
				return fmt.Errorf("--message, --to and one of --at or --in are required")
			}
			return withApp(cmd.Context(), func(a *app) error {
				reply, err := a.editor().Create(cmd.Context(), m)
				if err != nil {
					return errors.New(mibs.UserMessage("create", err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newMibsUpdateCmd(opts *rootOptions) *cobra.Command {
	flags := &messageFlags{}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a scheduled message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				messages, err := a.api.List(cmd.Context())
				if err != nil {
					return errors.New(mibs.UserMessage("fetch", err))
				}
				m, ok := findMessage(messages, id)
				if !ok {
					return fmt.Errorf("message %d not found", id)
				}
				if err := flags.apply(cmd, &m, time.Now()); err != nil {
					return err
				}
				reply, err := a.editor().Update(cmd.Context(), m)
				if err != nil {
					return errors.New(mibs.UserMessage("update", err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newMibsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scheduled message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				reply, err := a.editor().Delete(cmd.Context(), id)
				if err != nil {
					return errors.New(mibs.UserMessage("delete", err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			})
		},
	}
}

func parseMessageID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return id, nil
}

func findMessage(messages []mibs.Message, id int) (mibs.Message, bool) {
	for _, m := range messages {
		if m.ID() == id {
			return m, true
		}
	}
	return mibs.Message{}, false
}

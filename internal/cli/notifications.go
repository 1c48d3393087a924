package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"escrow_trade_service/internal/client/inbox"

	"github.com/spf13/cobra"
)

// withNotifications 載入通知後執行 fn
func withNotifications(app func() *App, fn func(ctx context.Context, a *App, in *inbox.NotificationInbox, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a := app()
		ctx := cmd.Context()
		if err := a.requireLogin(); err != nil {
			return err
		}
		in := a.notifications()
		defer in.Close()
		if _, err := in.Load(ctx); err != nil {
			return a.check(ctx, err)
		}
		return a.check(ctx, fn(ctx, a, in, args))
	}
}

func newNotificationsCmd(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List notifications, newest first",
		Args:    cobra.NoArgs,
		RunE: withNotifications(app, func(ctx context.Context, a *App, in *inbox.NotificationInbox, args []string) error {
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPRIORITY\tREAD\tTIME\tTITLE")
			for _, n := range in.Notifications() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n", n.ID, n.Kind, n.Priority, n.Read, formatTime(n.CreatedAt), n.Title)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			a.printf("unread: %d\n", in.Unread())
			return nil
		}),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "read <id>",
			Short: "Mark one notification read",
			Args:  cobra.ExactArgs(1),
			RunE: withNotifications(app, func(ctx context.Context, a *App, in *inbox.NotificationInbox, args []string) error {
				if err := in.MarkRead(ctx, args[0]); err != nil {
					return err
				}
				a.printf("unread: %d\n", in.Unread())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "read-all",
			Short: "Mark every notification read",
			Args:  cobra.NoArgs,
			RunE: withNotifications(app, func(ctx context.Context, a *App, in *inbox.NotificationInbox, args []string) error {
				n, err := in.MarkAllRead(ctx)
				if err != nil {
					return err
				}
				a.printf("marked %d notification(s) read\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete one notification",
			Args:  cobra.ExactArgs(1),
			RunE: withNotifications(app, func(ctx context.Context, a *App, in *inbox.NotificationInbox, args []string) error {
				if err := in.Delete(ctx, args[0]); err != nil {
					return err
				}
				a.printf("deleted %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every notification",
			Args:  cobra.NoArgs,
			RunE: withNotifications(app, func(ctx context.Context, a *App, in *inbox.NotificationInbox, args []string) error {
				if err := in.Clear(ctx); err != nil {
					return err
				}
				a.printf("cleared\n")
				return nil
			}),
		},
	)
	return cmd
}

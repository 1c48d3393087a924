package cli

import (
	"context"
	"errors"

	chatdomain "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/client/inbox"
	pushclient "escrow_trade_service/internal/client/push"
	"escrow_trade_service/internal/client/txstate"
	notificationdomain "escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/pkg/reconcile"

	"github.com/spf13/cobra"
)

func newWatchCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow messages, notifications and transaction updates until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			return a.check(ctx, a.watch(ctx))
		},
	}
}

func (a *App) watch(ctx context.Context) error {
	ch := pushclient.New(a.cfg.PushURL, a.api.Token, pushclient.Options{
		ReconnectMin: a.cfg.ReconnectMin,
		ReconnectMax: a.cfg.ReconnectMax,
	})

	msgs := a.messages()
	defer msgs.Close()
	notes := a.notifications()
	defer notes.Close()
	holder := a.holder(ctx)

	convs, err := msgs.LoadConversations(ctx)
	if err != nil && !errors.Is(err, inbox.ErrNoData) {
		return err
	}
	if _, err := notes.Load(ctx); err != nil && !errors.Is(err, inbox.ErrNoData) {
		return err
	}
	for _, c := range convs {
		if c.TransactionID != "" {
			ch.JoinRoom(c.TransactionID)
		}
	}

	offMsg := msgs.Store().Subscribe(func(ev reconcile.Event[*chatdomain.Message]) {
		switch ev.Kind {
		case reconcile.EventInserted, reconcile.EventConfirmed:
			m := ev.Record
			a.printf("[message] %s %s %s: %s (%s)\n", formatTime(m.CreatedAt), m.ConversationID, m.SenderID, preview(m), m.State)
		case reconcile.EventFailed:
			a.printf("[message] queued %s in %s\n", ev.TempID, ev.Scope)
		}
	})
	defer offMsg()
	offNote := notes.Store().Subscribe(func(ev reconcile.Event[*notificationdomain.Notification]) {
		if ev.Kind == reconcile.EventInserted {
			n := ev.Record
			a.printf("[notification] %s %s %s\n", n.Priority, n.Kind, n.Title)
		}
	})
	defer offNote()
	offTx := holder.Subscribe(func(s txstate.State) {
		a.printf("[transaction] %s -> %s (%s by %s)\n", s.TransactionID, s.Status, s.Action, s.ActorID)
		a.persist(context.WithoutCancel(ctx), holder)
	})
	defer offTx()

	msgs.Bind(ctx, ch)
	notes.Bind(ch)
	defer holder.Bind(ch)()
	defer ch.OnConnectivity(func(online bool) {
		if online {
			a.printf("-- online, unread %d, notifications %d\n", msgs.TotalUnread(), notes.Unread())
			return
		}
		a.printf("-- offline, reconnecting\n")
	})()

	err = ch.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

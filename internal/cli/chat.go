package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	chatdomain "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/client/inbox"

	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

func newConversationsCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "List conversations with unread counters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			in := a.messages()
			defer in.Close()

			list, err := in.LoadConversations(ctx)
			if err != nil {
				return a.check(ctx, err)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTRANSACTION\tUNREAD\tLAST MESSAGE\tUPDATED")
			for _, c := range list {
				last := ""
				if c.LastMessage != nil {
					last = preview(c.LastMessage)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.TransactionID, c.UnreadCount, last, formatTime(c.UpdatedAt))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			a.printf("total unread: %d\n", in.TotalUnread())
			return nil
		},
	}
}

func newMessagesCmd(app func() *App) *cobra.Command {
	var markRead bool
	cmd := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Show the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			in := a.messages()
			defer in.Close()

			msgs, err := in.LoadMessages(ctx, args[0])
			if err != nil {
				return a.check(ctx, err)
			}
			printMessages(a, msgs)
			if markRead && in.Unread(args[0]) > 0 {
				n, err := in.MarkConversationRead(ctx, args[0])
				if err != nil {
					return a.check(ctx, err)
				}
				a.printf("marked %d message(s) read\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the conversation read after listing")
	return cmd
}

func newSendCmd(app func() *App) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "send <conversation-id> [text...]",
		Short: "Send a message, queued locally when the service is unreachable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			conv := args[0]
			text := strings.Join(args[1:], " ")
			in := a.messages()
			defer in.Close()

			// 先載入, 之前排隊中的訊息會跟著還原並重送
			if _, err := in.LoadMessages(ctx, conv); err != nil && !errors.Is(err, inbox.ErrNoData) {
				return a.check(ctx, err)
			}
			if len(in.Failed()) > 0 {
				if _, err := in.Retry(ctx); err != nil {
					return a.check(ctx, err)
				}
			}

			var attachments []chatdomain.Attachment
			for _, f := range files {
				att, err := upload(ctx, a, in, conv, f)
				if err != nil {
					return a.check(ctx, err)
				}
				attachments = append(attachments, *att)
			}

			msg, err := in.Send(ctx, conv, text, attachments)
			if err != nil {
				return a.check(ctx, err)
			}
			a.printf("%s %s\n", msg.State, msg.ID)
			if queued := len(in.Failed()); queued > 0 {
				a.printf("%d message(s) queued, run `escrowctl retry %s` when online\n", queued, conv)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&files, "attach", "a", nil, "file to upload and attach (repeatable)")
	return cmd
}

func newRetryCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <conversation-id>",
		Short: "Re-send queued messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			in := a.messages()
			defer in.Close()

			if _, err := in.LoadMessages(ctx, args[0]); err != nil {
				return a.check(ctx, err)
			}
			n, err := in.Retry(ctx)
			if err != nil {
				return a.check(ctx, err)
			}
			a.printf("sent %d, still queued %d\n", n, len(in.Failed()))
			return nil
		},
	}
}

func newReadCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id> [message-id]",
		Short: "Mark one message or the whole conversation read",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			in := a.messages()
			defer in.Close()

			if _, err := in.LoadMessages(ctx, args[0]); err != nil && !errors.Is(err, inbox.ErrNoData) {
				return a.check(ctx, err)
			}
			if len(args) == 2 {
				if err := in.MarkRead(ctx, args[0], args[1]); err != nil {
					return a.check(ctx, err)
				}
				a.printf("unread: %d\n", in.Unread(args[0]))
				return nil
			}
			n, err := in.MarkConversationRead(ctx, args[0])
			if err != nil {
				return a.check(ctx, err)
			}
			a.printf("marked %d message(s) read\n", n)
			return nil
		},
	}
}

func newUploadCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <conversation-id> <file>",
		Short: "Upload a file to a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			in := a.messages()
			defer in.Close()

			att, err := upload(ctx, a, in, args[0], args[1])
			if err != nil {
				return a.check(ctx, err)
			}
			a.printf("%s %s %d bytes\n%s\n", att.Name, att.MimeType, att.Size, att.URL)
			return nil
		},
	}
}

func upload(ctx context.Context, a *App, in *inbox.MessageInbox, conv, path string) (*chatdomain.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	att, err := in.Upload(ctx, conv, name, f, st.Size(), func(sent, total int64) {
		if total > 0 {
			a.printf("\r%s %3d%%", name, sent*100/total)
		}
	})
	a.printf("\n")
	return att, err
}

func printMessages(a *App, msgs []*chatdomain.Message) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSENDER\tSTATE\tREAD\tCONTENT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", formatTime(m.CreatedAt), m.SenderID, m.State, m.Read, preview(m))
	}
	w.Flush()
}

func preview(m *chatdomain.Message) string {
	text := strings.ReplaceAll(m.Content, "\n", " ")
	if r := []rune(text); len(r) > 48 {
		text = string(r[:47]) + "…"
	}
	if n := len(m.Attachments); n > 0 {
		text = fmt.Sprintf("%s [%d file(s)]", text, n)
	}
	return strings.TrimSpace(text)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"escrow_trade_service/internal/client/api"
	"escrow_trade_service/internal/client/txstate"
	escrowdomain "escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTxCmd(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transactions"},
		Short:   "Escrow transactions",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List transactions where you are buyer or seller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			h := a.holder(ctx)
			txs, err := a.api.ListTransactions(ctx, status)
			switch {
			case err == nil:
				for _, tx := range txs {
					h.UpdateTransaction(tx)
				}
				a.persist(ctx, h)
			case errors.Is(err, api.ErrNetwork):
				a.printf("offline, showing last known states\n")
			default:
				return a.check(ctx, err)
			}
			printStates(a, filterStatus(h.All(), status))
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")

	show := &cobra.Command{
		Use:   "show <transaction-id>",
		Short: "Show one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			h := a.holder(ctx)
			tx, err := a.api.GetTransaction(ctx, args[0])
			switch {
			case err == nil:
				h.UpdateTransaction(tx)
				a.persist(ctx, h)
			case errors.Is(err, api.ErrNetwork):
				a.printf("offline, showing last known state\n")
			case api.IsNotFound(err):
				return fmt.Errorf("transaction %s not found", args[0])
			default:
				return a.check(ctx, err)
			}
			s, ok := h.Get(args[0])
			if !ok {
				return fmt.Errorf("transaction %s: %w", args[0], err)
			}
			printTransaction(a, s)
			return nil
		},
	}

	do := &cobra.Command{
		Use:   "do <transaction-id> <action>",
		Short: "Perform pay, ship, deliver, complete, dispute, refund or cancel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			action, err := escrowdomain.ParseAction(args[1])
			if err != nil {
				return err
			}
			// 狀態以伺服器回應為準, 不做樂觀更新
			tx, err := a.api.PerformAction(ctx, args[0], action)
			if err != nil {
				return a.check(ctx, err)
			}
			h := a.holder(ctx)
			h.UpdateTransaction(tx)
			a.persist(ctx, h)
			a.printf("%s %s -> %s\n", tx.ID, action, tx.Status)
			return nil
		},
	}

	cmd.AddCommand(list, show, do)
	return cmd
}

func (a *App) persist(ctx context.Context, h *txstate.Holder) {
	if err := h.Persist(ctx, a.kv, a.userID); err != nil {
		logger.Log.Warn("save transaction states", zap.Error(err))
	}
}

func filterStatus(states []txstate.State, status string) []txstate.State {
	out := states[:0]
	for _, s := range states {
		if status == "" || string(s.Status) == status {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func printStates(a *App, states []txstate.State) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tAMOUNT\tUPDATED")
	for _, s := range states {
		title, amount := "", ""
		if tx := s.Transaction; tx != nil {
			title = tx.Title
			amount = formatAmount(tx.Amount, tx.Currency)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.TransactionID, s.Status, title, amount, formatTime(s.UpdatedAt))
	}
	w.Flush()
}

func printTransaction(a *App, s txstate.State) {
	a.printf("id:       %s\nstatus:   %s\nupdated:  %s\n", s.TransactionID, s.Status, formatTime(s.UpdatedAt))
	if s.Action != "" {
		a.printf("last:     %s by %s\n", s.Action, s.ActorID)
	}
	tx := s.Transaction
	if tx == nil {
		return
	}
	a.printf("title:    %s\nbuyer:    %s\nseller:   %s\namount:   %s\n", tx.Title, tx.BuyerID, tx.SellerID, formatAmount(tx.Amount, tx.Currency))
	if tx.ConversationID != "" {
		a.printf("chat:     %s\n", tx.ConversationID)
	}
}

func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d %s", amount, currency)
}

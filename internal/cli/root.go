package cli

import (
	"context"
	"fmt"
	"io"

	"escrow_trade_service/pkg/logger"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configDir string
	baseURL   string
	debug     bool
}

// Execute run escrowctl with args, the local mirror is closed before returning
func Execute(ctx context.Context, version string, args []string, out io.Writer) error {
	var app *App
	root := newRootCmd(version, out, &app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if app != nil {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// newRootCmd build the command tree, app is set once the mirror is open
func newRootCmd(version string, out io.Writer, app **App) *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "escrowctl",
		Short: "Terminal client of the escrow trade service",
		Long: `escrowctl talks to the escrow trade service over REST and the push channel.

Messages sent while offline are kept in the local mirror and re-sent
with the same client id once the service is reachable again.

Examples:
  escrowctl login alice@example.com --password '...'
  escrowctl conversations
  escrowctl send <conversation-id> "payment is on the way"
  escrowctl tx do <transaction-id> ship
  escrowctl watch`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Log = logger.NewConsole(flags.debug)
			cfg := LoadClientConfig(flags.configDir)
			if flags.baseURL != "" {
				cfg.BaseURL = flags.baseURL
			}
			a, err := Open(cmd.Context(), cfg, out)
			if err != nil {
				return fmt.Errorf("open local mirror: %w", err)
			}
			*app = a
			return nil
		},
	}
	root.SetOut(out)
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "./config", "directory holding escrowctl.yaml")
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "override the service base url")
	root.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "enable debug log")

	get := func() *App { return *app }
	root.AddCommand(
		newLoginCmd(get),
		newLogoutCmd(get),
		newOnboardCmd(get),
		newConversationsCmd(get),
		newMessagesCmd(get),
		newSendCmd(get),
		newRetryCmd(get),
		newReadCmd(get),
		newUploadCmd(get),
		newNotificationsCmd(get),
		newTxCmd(get),
		newHealthCmd(get),
		newWatchCmd(get),
	)
	return root
}

package cli

import (
	"sort"
	"time"

	"escrow_trade_service/pkg/database"

	"github.com/spf13/cobra"
)

func newHealthCmd(app func() *App) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the service over REST and gRPC health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()

			h, err := a.api.Health(ctx)
			if err != nil {
				a.printf("rest  %s  unreachable: %v\n", a.cfg.BaseURL, err)
			} else {
				a.printf("rest  %s  %s\n", a.cfg.BaseURL, h.Status)
				names := make([]string, 0, len(h.Checks))
				for name := range h.Checks {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					a.printf("  %-10s %s\n", name, h.Checks[name])
				}
			}

			if a.cfg.GRPCAddr == "" {
				return nil
			}
			status, gerr := database.CheckGRPCHealth(ctx, a.cfg.GRPCAddr, "", timeout)
			if gerr != nil {
				a.printf("grpc  %s  unreachable: %v\n", a.cfg.GRPCAddr, gerr)
			} else {
				a.printf("grpc  %s  %s\n", a.cfg.GRPCAddr, status)
			}
			if err != nil {
				return err
			}
			return gerr
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "grpc health check timeout")
	return cmd
}

package cli

import (
	"errors"
	"fmt"
	"os"

	"escrow_trade_service/internal/client/api"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/mirror"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// PasswordEnv read the login password from this variable when --password is empty
const PasswordEnv = "ESCROW_PASSWORD"

func newLoginCmd(app func() *App) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Login and keep the token in the local mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if password == "" {
				password = os.Getenv(PasswordEnv)
			}
			if password == "" {
				return fmt.Errorf("password is required (--password or %s)", PasswordEnv)
			}

			res, err := a.api.Login(ctx, args[0], password)
			if err != nil {
				return err
			}
			if res.Member == nil {
				return errors.New("login response without member")
			}
			// 換帳號時先清掉前一個使用者的 mirror
			if a.userID != "" && a.userID != res.Member.MemberID {
				if err := a.session.Logout(ctx, a.userID); err != nil {
					logger.Log.Warn("clear previous user mirror", zap.Error(err))
				}
			}
			if err := a.session.SaveToken(ctx, mirror.Credentials{Token: res.Token, UserID: res.Member.MemberID}); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			a.userID = res.Member.MemberID

			a.printf("logged in as %s (%s)\n", res.Member.DisplayName, res.Member.MemberID)
			if done, err := a.session.Onboarded(ctx); err == nil && !done {
				a.printf("first time here? run `escrowctl onboard --done` once you have read the guide\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	return cmd
}

func newLogoutCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the session and drop the local mirror of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			// 伺服器登出失敗仍然清掉本地資料
			if err := a.api.Logout(ctx); err != nil && !errors.Is(err, api.ErrUnauthorized) {
				logger.Log.Warn("server logout failed", zap.Error(err))
			}
			if err := a.session.Logout(ctx, a.userID); err != nil {
				return fmt.Errorf("clear local mirror: %w", err)
			}
			a.userID = ""
			a.printf("logged out\n")
			return nil
		},
	}
}

func newOnboardCmd(app func() *App) *cobra.Command {
	var done, reset bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Show or set the onboarding-completed flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()
			if done || reset {
				if err := a.session.SetOnboarded(ctx, done); err != nil {
					return err
				}
			}
			ok, err := a.session.Onboarded(ctx)
			if err != nil {
				return err
			}
			a.printf("onboarding completed: %t\n", ok)
			return nil
		},
	}
	cmd.Flags().BoolVar(&done, "done", false, "mark onboarding as completed")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the onboarding flag")
	cmd.MarkFlagsMutuallyExclusive("done", "reset")
	return cmd
}

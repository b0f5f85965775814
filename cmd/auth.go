package cmd

import (
	"time"

	"finsync/feature/session"

	"github.com/spf13/cobra"
)

var (
	seedAccessToken  string
	seedRefreshToken string
	seedExpiresIn    int64
	seedExpiresAt    string
)

// authCmd groups the credential commands.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored remote API credentials",
}

var authSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Store an externally obtained token pair",
	Long: `Stores an access token and optional refresh token obtained outside finsync.

Without --expires-in or --expires-at, the expiry is read from the access token when it is a JWT
and otherwise treated as unknown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		req := session.TokenRequest{AccessToken: seedAccessToken, RefreshToken: seedRefreshToken, ExpiresIn: seedExpiresIn}
		if seedExpiresAt != "" {
			if req.ExpiresAt, err = time.Parse(time.RFC3339, seedExpiresAt); err != nil {
				return err
			}
		}

		st, err := session.NewService(a.guard, a.log).Seed(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credential state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()
		return printJSON(cmd, session.NewService(a.guard, a.log).Status())
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()
		if err := session.NewService(a.guard, a.log).Logout(cmd.Context()); err != nil {
			return err
		}
		a.log.Info("Logged out")
		return nil
	},
}

func init() {
	authSeedCmd.Flags().StringVar(&seedAccessToken, "access-token", "", "Access token")
	authSeedCmd.Flags().StringVar(&seedRefreshToken, "refresh-token", "", "Refresh token")
	authSeedCmd.Flags().Int64Var(&seedExpiresIn, "expires-in", 0, "Access token lifetime in seconds")
	authSeedCmd.Flags().StringVar(&seedExpiresAt, "expires-at", "", "Access token expiry (RFC 3339)")
	_ = authSeedCmd.MarkFlagRequired("access-token")

	authCmd.AddCommand(authSeedCmd, authStatusCmd, authLogoutCmd)
	RootCmd.AddCommand(authCmd)
}

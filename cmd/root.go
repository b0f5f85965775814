package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"finsync/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "finsync",
	Short: "Local cache of a remote financial aggregation API",
	Long: `finsync keeps a local database in sync with a remote financial aggregation API.
Each refresh replaces exactly the slice of the cache it covers and cascades deletions
to dependent records.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := RootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// Console encoding with the development config for readable CLI failures
		cfg := &logger.Config{
			Level:  "debug",
			Format: "console",
		}

		l, logErr := logger.New(cfg)
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}

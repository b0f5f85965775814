package cmd

import (
	"finsync/core/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheYes bool

// cacheCmd groups the local cache commands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the local cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [collection...]",
	Short: "Empty cached collections",
	Long: `Empties the named collections and every collection depending on them, or the whole
cache when none is named. The next sync repopulates them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		entities := a.store.Entities()
		if len(args) > 0 {
			entities = make([]reconcile.EntityType, len(args))
			for i, arg := range args {
				entities[i] = reconcile.EntityType(arg)
			}
		}

		if !confirm(cmd.OutOrStdout(), cmd.InOrStdin(), "This deletes cached data.", cacheYes) {
			a.log.Warn("Operation cancelled by user. No changes were made.")
			return nil
		}

		cleared, err := a.clearCollections(cmd.Context(), entities)
		if err != nil {
			return err
		}
		a.log.Info("Cache cleared", zap.Int("collections", len(cleared)))
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count cached rows per collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		counts := make(map[reconcile.EntityType]int64)
		for _, e := range a.store.Entities() {
			n, err := a.store.Count(cmd.Context(), e)
			if err != nil {
				return err
			}
			counts[e] = n
		}
		return printJSON(cmd, counts)
	},
}

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheYes, "yes", false, "Skip the confirmation prompt")

	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd)
	RootCmd.AddCommand(cacheCmd)
}

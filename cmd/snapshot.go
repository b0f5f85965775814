package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var snapshotYes bool

// snapshotCmd groups the snapshot archive commands.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Archive the cache to object storage and restore it",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every cached collection to a new snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		arch, err := a.archiver(cmd.Context())
		if err != nil {
			return err
		}
		m, err := arch.Export(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <id>",
	Short: "Replace the cached collections with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		arch, err := a.archiver(cmd.Context())
		if err != nil {
			return err
		}
		if _, err := arch.Manifest(cmd.Context(), args[0]); err != nil {
			return err
		}
		if !confirm(cmd.OutOrStdout(), cmd.InOrStdin(), "This replaces the cached collections.", snapshotYes) {
			a.log.Warn("Operation cancelled by user. No changes were made.")
			return nil
		}

		m, err := arch.Import(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		a.log.Info("Snapshot imported", zap.String("id", m.ID), zap.Int("collections", len(m.Collections)))
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		arch, err := a.archiver(cmd.Context())
		if err != nil {
			return err
		}
		ids, err := arch.List(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, ids)
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		arch, err := a.archiver(cmd.Context())
		if err != nil {
			return err
		}
		if err := arch.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		a.log.Info("Snapshot deleted", zap.String("id", args[0]))
		return nil
	},
}

func init() {
	snapshotImportCmd.Flags().BoolVar(&snapshotYes, "yes", false, "Skip the confirmation prompt")

	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd, snapshotListCmd, snapshotDeleteCmd)
	RootCmd.AddCommand(snapshotCmd)
}

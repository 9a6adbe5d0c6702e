package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/photo-drop/internal/drops"
)

var (
	reconcileDryRun bool
	reconcileGrace  time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:         "reconcile",
	Short:       "Remove images without a location and locations without an image",
	Annotations: mode("reconcile"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Drops.Reconcile(ctx, drops.ReconcileOptions{
			DryRun: reconcileDryRun,
			Grace:  reconcileGrace,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report orphans without removing them")
	reconcileCmd.Flags().DurationVar(&reconcileGrace, "grace", time.Minute, "skip images younger than this")
	rootCmd.AddCommand(reconcileCmd)
}

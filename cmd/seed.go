package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/drops"
)

var (
	seedFile        string
	seedConcurrency int
)

var seedCmd = &cobra.Command{
	Use:         "seed",
	Short:       "Drop every photo listed in a YAML seed file",
	Annotations: mode("seed"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := drops.LoadSeedFile(seedFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Drops.Seed(ctx, f.Drops, cfg.Proximity.ThumbnailSize, seedConcurrency)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, r := range results {
			fmt.Fprintf(out, "%s\t%s\n", r.Key, r.Image)
		}
		zap.L().Info("seeded drops", zap.String("file", seedFile), zap.Int("count", len(results)))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "drops.yaml", "seed file path")
	seedCmd.Flags().IntVar(&seedConcurrency, "concurrency", 4, "drops stored in parallel")
	rootCmd.AddCommand(seedCmd)
}

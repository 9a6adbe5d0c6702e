package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/photo-drop/internal/imagestore"
	"github.com/sells-group/photo-drop/internal/store"
)

var statusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show image and location counts",
	Annotations: mode("status"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Store.Stats(ctx)
		if err != nil {
			return err
		}

		status := struct {
			Store store.Stats           `json:"store"`
			Drift int                   `json:"drift"`
			Cache imagestore.CacheStats `json:"cache"`
		}{
			Store: stats,
			Drift: stats.Images - stats.Locations,
			Cache: env.Images.CacheStats(),
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

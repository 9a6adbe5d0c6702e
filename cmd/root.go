package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/config"
)

var cfg *config.Config

// modeAnnotation names the config.Validate mode a command runs in.
const modeAnnotation = "mode"

var rootCmd = &cobra.Command{
	Use:   "photodrop",
	Short: "Location-based photo drop and exchange service",
	Long:  "Drops photos at GPS locations, tracks nearby drops per client session and lets users exchange a photo for the one they found.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if mode, ok := cmd.Annotations[modeAnnotation]; ok {
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func mode(name string) map[string]string {
	return map[string]string{modeAnnotation: name}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

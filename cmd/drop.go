package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/photo-drop/internal/model"
)

var (
	dropImage string
	dropLat   float64
	dropLng   float64
)

var dropCmd = &cobra.Command{
	Use:         "drop",
	Short:       "Drop a photo at a location",
	Annotations: mode("drop"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dropImage == "" {
			return eris.New("drop: --image is required")
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		loc := model.Location{Latitude: dropLat, Longitude: dropLng}
		key, err := env.Drops.DropFile(ctx, dropImage, loc, cfg.Proximity.ThumbnailSize)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	dropCmd.Flags().StringVar(&dropImage, "image", "", "path to a PNG, JPEG or GIF image")
	dropCmd.Flags().Float64Var(&dropLat, "lat", 0, "latitude in decimal degrees")
	dropCmd.Flags().Float64Var(&dropLng, "lng", 0, "longitude in decimal degrees")
	_ = dropCmd.MarkFlagRequired("lat")
	_ = dropCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(dropCmd)
}

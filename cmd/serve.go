package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/photo-drop/internal/proximity"
	"github.com/sells-group/photo-drop/internal/server"
	"github.com/sells-group/photo-drop/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Start the Photo Drop HTTP API",
	Annotations: mode("serve"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sessions := session.NewManager(session.Deps{
			Index:   env.Index,
			Images:  env.Images,
			Dropper: env.Drops,
		}, sessionOptions())
		defer sessions.Close()

		api := server.New(sessions, env.Index, server.Config{
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			MaxUploadBytes:  cfg.Session.MaxUploadBytes,
			ThumbnailSize:   cfg.Proximity.ThumbnailSize,
			MaxSourcePixels: cfg.Proximity.MaxSourcePixels,
			Heartbeat:       cfg.Server.Heartbeat,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			sessions.RunReaper(gCtx, cfg.Session.ReapInterval, cfg.Session.IdleTTL)
			return nil
		})
		g.Go(func() error {
			env.Index.RunRefresher(gCtx, cfg.GeoIndex.RefreshInterval)
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// Open event streams only end once their sessions close.
			sessions.Close()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func sessionOptions() session.Options {
	return session.Options{
		FoundRadiusKm: cfg.Proximity.FoundRadiusKm,
		RegionSpanDeg: cfg.Proximity.RegionSpanDeg,
		EventBuffer:   cfg.Session.EventBuffer,
		LocationRate:  cfg.Session.LocationRate,
		LocationBurst: cfg.Session.LocationBurst,
		Proximity: proximity.Options{
			OpTimeout:     cfg.Proximity.OpTimeout,
			FadeDuration:  cfg.Proximity.FadeDuration,
			RevealTimeout: cfg.Proximity.RevealTimeout,
		},
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

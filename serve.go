package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"kinechat/internal/api"
	"kinechat/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the chat, event stream and relay endpoints and runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctx, cfg, flushLog, err := loadConfig(ctx)
		defer flushLog()
		log := logger.FromCtx(ctx)
		if err != nil {
			log.Error().Err(err).Msg("load config")
			return err
		}

		app, err := newApp(ctx, cfg)
		if err != nil {
			log.Error().Err(err).Msg("init services")
			return err
		}
		defer app.Close()

		if !cfg.Server.Debug && !debug {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(logger.Middleware(log), gin.Recovery())
		api.NewHandler(cfg, app.orchestrator, app.registry, app.relay).RegisterRoutes(router)

		srv := &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      0, // event streams stay open
			IdleTimeout:       120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				log.Error().Err(err).Msg("server failed")
				return err
			}
		case <-ctx.Done():
		}
		stop()
		log.Info().Msg("shutting down")

		// streams never finish on their own; close them so Shutdown can drain
		app.registry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
			return err
		}
		log.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

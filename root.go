package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"kinechat/internal/config"
	"kinechat/internal/logger"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "kinechat",
	Short: "kinechat - retrieval-augmented chat backend",
	Long: `kinechat answers chat messages with a generative model grounded on a
document store, keeps per-session history and relays externally produced
answers to open browser streams.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("KINECHAT_CONFIG"), "path to config.json")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

// loadConfig reads the configuration and installs the logger on ctx.
func loadConfig(ctx context.Context) (context.Context, *config.Config, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		ctx, flush := logger.NewContextWithLogger(ctx, debug)
		return ctx, nil, flush, err
	}
	ctx, flush := logger.NewContextWithLogger(ctx, debug || cfg.Server.Debug)
	return ctx, cfg, flush, nil
}

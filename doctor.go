package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kinechat/internal/config"
	"kinechat/internal/redis"
	"kinechat/internal/retrieval"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and connectivity",
	Long:  `Loads the configuration, reports which credentials are present and pings the configured Redis, SQL and Postgres servers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, flushLog, err := loadConfig(cmd.Context())
		defer flushLog()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		failed := runChecks(ctx, out, cfg)
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		fmt.Fprintln(out, "all checks passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runChecks(ctx context.Context, out io.Writer, cfg *config.Config) (failed int) {
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "  [fail] %-22s %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "  [ok]   %s\n", name)
	}
	present := func(name, value string) {
		if value == "" {
			fmt.Fprintf(out, "  [warn] %-22s not set\n", name)
			return
		}
		fmt.Fprintf(out, "  [ok]   %-22s set (%d chars)\n", name, len(value))
	}

	fmt.Fprintln(out, "credentials:")
	present("GOOGLE_GEMINI_API_KEY", cfg.Generation.APIKey)
	present("embedding api key", cfg.Embedding.APIKey)
	switch cfg.Retrieval.Backend {
	case "supabase":
		present("SUPABASE_URL", cfg.Retrieval.SupabaseURL)
		present("SUPABASE_KEY", cfg.Retrieval.SupabaseKey)
	case "pgvector":
		present("DATABASE_URL", cfg.Retrieval.PostgresDSN)
	}
	if p, ok := cfg.Providers[cfg.Generation.Provider]; ok {
		present(cfg.Generation.Provider+" api key", p.APIKey)
	}

	fmt.Fprintln(out, "connectivity:")
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.UsesRedis() {
		rdb, err := redis.NewRedisClient(pingCtx, cfg.Redis)
		if err == nil {
			rdb.Close()
		}
		report("redis", err)
	}
	if b := strings.ToLower(cfg.History.Backend); b == "sqlite" || b == "sqlite3" || b == "mysql" {
		db, err := openSQL(b, cfg.Databases)
		if err == nil {
			db.Close()
		}
		report(b+" history", err)
	}
	if cfg.Retrieval.Backend == "pgvector" {
		store, err := retrieval.OpenPgvectorStore(pingCtx, cfg.Retrieval.PostgresDSN, cfg.Retrieval.Table)
		if err == nil {
			store.Close()
		}
		report("pgvector", err)
	}
	return failed
}

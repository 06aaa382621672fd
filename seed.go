package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"kinechat/internal/logger"
	"kinechat/internal/retrieval"
	"kinechat/internal/service/ai"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load documents into the pgvector store",
	Long: `Reads a JSON array of documents ({id, content, metadata, embedding}) and
inserts them into the pgvector table, embedding any document that has no vector.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, flushLog, err := loadConfig(cmd.Context())
		defer flushLog()
		if err != nil {
			return err
		}
		log := logger.FromCtx(ctx)

		path := seedFile
		if path == "" {
			path = cfg.Retrieval.SeedFile
		}
		if path == "" {
			return fmt.Errorf("no seed file: pass --file or set RETRIEVAL_SEED_FILE")
		}
		if cfg.Retrieval.PostgresDSN == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}

		docs, err := retrieval.LoadMemoryStore(path)
		if err != nil {
			return err
		}
		store, err := retrieval.OpenPgvectorStore(ctx, cfg.Retrieval.PostgresDSN, cfg.Retrieval.Table)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx, cfg.Embedding.Dimension); err != nil {
			return err
		}

		embedder := ai.NewEmbedder(ctx, cfg.Embedding, &http.Client{})
		inserted := 0
		for _, doc := range docs.Documents() {
			if len(doc.Embedding) == 0 {
				vec, err := embedder.Embed(ctx, doc.Content)
				if err != nil {
					return fmt.Errorf("embed document %s: %w", doc.ID, err)
				}
				doc.Embedding = vec
			}
			if len(doc.Embedding) != cfg.Embedding.Dimension {
				log.Warn().Str("document", doc.ID).Int("dimension", len(doc.Embedding)).Msg("skipping document with wrong dimension")
				continue
			}
			if err := store.Insert(ctx, doc); err != nil {
				return fmt.Errorf("insert document %s: %w", doc.ID, err)
			}
			inserted++
		}
		log.Info().Int("inserted", inserted).Str("table", cfg.Retrieval.Table).Msg("seed finished")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "JSON file with documents")
	rootCmd.AddCommand(seedCmd)
}

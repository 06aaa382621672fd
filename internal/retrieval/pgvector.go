package retrieval

import (
	"context"
	"fmt"

	"kinechat/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PgvectorStore queries a documents table with a pgvector embedding column.
type PgvectorStore struct {
	db    *gorm.DB
	table string
}

type documentRow struct {
	ID         string
	Content    string
	Metadata   datatypes.JSONMap
	Embedding  pgvector.Vector
	Similarity float64
}

// OpenPgvectorStore connects to PostgreSQL. The table must have columns
// id, content, metadata (jsonb) and embedding (vector).
func OpenPgvectorStore(ctx context.Context, dsn, table string) (*PgvectorStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PgvectorStore{db: db, table: table}, nil
}

func (s *PgvectorStore) Name() string { return "pgvector" }

func (s *PgvectorStore) Search(ctx context.Context, vector []float32, threshold float64, topK int) ([]models.RetrievalResult, error) {
	q := pgvector.NewVector(vector)

	// cosine distance is 1 - cosine similarity
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Table(s.table).
		Select("id::text AS id, content, metadata, embedding, 1 - (embedding <=> ?) AS similarity", q).
		Where("1 - (embedding <=> ?) >= ?", q, threshold).
		Order("similarity DESC").
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.RetrievalResult{
			Document: models.Document{
				ID:        row.ID,
				Content:   row.Content,
				Metadata:  map[string]any(row.Metadata),
				Embedding: row.Embedding.Slice(),
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Migrate creates the extension and documents table when missing.
func (s *PgvectorStore) Migrate(ctx context.Context, dimension int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, s.quotedTable(), dimension),
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate pgvector: %w", err)
		}
	}
	return nil
}

// Insert stores a document; used by local seeding.
func (s *PgvectorStore) Insert(ctx context.Context, doc models.Document) error {
	meta := datatypes.JSONMap(doc.Metadata)
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	row := map[string]any{
		"content":   doc.Content,
		"metadata":  meta,
		"embedding": pgvector.NewVector(doc.Embedding),
	}
	return s.db.WithContext(ctx).Table(s.table).Create(row).Error
}

// Ping checks the connection.
func (s *PgvectorStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PgvectorStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PgvectorStore) quotedTable() string {
	return s.db.Statement.Quote(s.table)
}

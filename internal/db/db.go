package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-chatbot/internal/config"
)

type Document struct {
	bun.BaseModel  `bun:"table:documents,alias:d"`
	ID             int64           `bun:"id,pk,autoincrement"`
	DocID          string          `bun:"doc_id,notnull,unique"`
	Content        string          `bun:"content,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,notnull,type:vector"`
	SourceFilename string          `bun:"source_filename"`
	PageNumber     int             `bun:"page_number"`
	ChunkID        int             `bun:"chunk_id"`
	Distance       float64         `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with pgdriver, or with lib/pq when
// cfg.Driver is "postgres".
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPQ:
		return sql.Open("postgres", cfg.URL)
	case config.DriverPGDriver, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx)
	return err
}

func StoreDocuments(ctx context.Context, db *bun.DB, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := db.NewInsert().
		Model(&docs).
		On("CONFLICT (doc_id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	return err
}

// SearchDocuments orders by cosine distance; Distance is filled on each result.
func SearchDocuments(ctx context.Context, db *bun.DB, queryEmbedding []float32, limit int) ([]Document, error) {
	var docs []Document
	vec := pgvector.NewVector(queryEmbedding)
	err := db.NewSelect().
		Model(&docs).
		Column("id", "doc_id", "content", "source_filename", "page_number", "chunk_id").
		ColumnExpr("embedding <=> ? AS distance", vec).
		OrderExpr("embedding <=> ?", vec).
		Limit(limit).
		Scan(ctx)
	return docs, err
}

func CountDocuments(ctx context.Context, db *bun.DB) (int, error) {
	return db.NewSelect().Model((*Document)(nil)).Count(ctx)
}

// drop table documents
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

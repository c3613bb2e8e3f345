package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/uptrace/bun"

	"pdf-chatbot/internal/config"
	"pdf-chatbot/internal/helper"
	"pdf-chatbot/internal/models"
)

// Store is the PostgreSQL counterpart of chromemdb.VectorDBManager.
type Store struct {
	db         *bun.DB
	embedder   embeddings.Embedder
	vectorSize int
}

var _ vectorstores.VectorStore = (*Store)(nil)

// NewStore connects, enables pgvector and makes sure the documents table exists.
func NewStore(ctx context.Context, cfg *config.DatabaseConfig, embedder embeddings.Embedder) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	bunDB := NewDB(sqldb, cfg.Debug)
	if err := bunDB.PingContext(ctx); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := InitDB(ctx, bunDB); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{db: bunDB, embedder: embedder, vectorSize: cfg.VectorSize}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return CountDocuments(ctx, s.db)
}

// Reset drops and recreates the documents table.
func (s *Store) Reset(ctx context.Context) error {
	if err := DropDocuments(ctx, s.db); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return InitDB(ctx, s.db)
}

func (s *Store) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	embedder := s.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}

	kept := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		if opts.Deduplicater != nil && opts.Deduplicater(ctx, doc) {
			continue
		}
		kept = append(kept, doc)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	texts := make([]string, len(kept))
	for i, doc := range kept {
		texts[i] = doc.PageContent
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}

	rows := make([]Document, len(kept))
	ids := make([]string, len(kept))
	for i, doc := range kept {
		if s.vectorSize > 0 && len(vectors[i]) != s.vectorSize {
			return nil, fmt.Errorf("embedding has %d dimensions, database expects %d", len(vectors[i]), s.vectorSize)
		}
		id, _ := doc.Metadata[models.MetaID].(string)
		if id == "" {
			if id, err = helper.GenerateUUID(); err != nil {
				return nil, err
			}
		}
		ids[i] = id
		rows[i] = Document{
			DocID:          id,
			Content:        doc.PageContent,
			Embedding:      pgvector.NewVector(vectors[i]),
			SourceFilename: fmt.Sprint(doc.Metadata[models.MetaSource]),
			PageNumber:     intValue(doc.Metadata[models.MetaPage]),
			ChunkID:        intValue(doc.Metadata[models.MetaChunkID]),
		}
	}

	log.Debug().Int("documents", len(rows)).Msg("Storing documents in postgres")
	if err := StoreDocuments(ctx, s.db, rows); err != nil {
		return nil, fmt.Errorf("failed to store documents: %w", err)
	}
	return ids, nil
}

// SimilaritySearch scores results as 1 - cosine distance.
func (s *Store) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Filters != nil {
		return nil, fmt.Errorf("metadata filters are not supported by the pgvector store")
	}
	embedder := s.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}

	queryEmbedding, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	rows, err := SearchDocuments(ctx, s.db, queryEmbedding, numDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	docs := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		score := float32(1 - row.Distance)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: row.Content,
			Metadata: map[string]any{
				models.MetaID:      row.DocID,
				models.MetaSource:  row.SourceFilename,
				models.MetaPage:    strconv.Itoa(row.PageNumber),
				models.MetaChunkID: strconv.Itoa(row.ChunkID),
			},
			Score: score,
		})
	}
	return docs, nil
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

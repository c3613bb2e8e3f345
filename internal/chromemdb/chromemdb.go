package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"pdf-chatbot/internal/helper"
	"pdf-chatbot/internal/models"
)

var ErrCollectionNotFound = errors.New("collection not found")

// VectorDBManager encapsulates the chromem-go database operations and exposes
// them as a langchaingo vector store.
type VectorDBManager struct {
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	embedder       embeddings.Embedder
	dbPath         string
	compress       bool
	encryptionKey  string
}

var _ vectorstores.VectorStore = (*VectorDBManager)(nil)

const (
	compress = false
)

// NewVectorDBManager opens (or creates) the database at dbPath. With inMemory
// set nothing is written to disk.
func NewVectorDBManager(dbPath, collectionName string, inMemory bool, encryptionKey string, embedder embeddings.Embedder) (*VectorDBManager, error) {
	var db *chromem.DB
	if inMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(dbPath); err != nil {
			return nil, err
		}
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		embedder:       embedder,
		dbPath:         dbPath,
		compress:       compress,
		encryptionKey:  encryptionKey,
	}
	if _, err := m.GetOrCreateCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return m.embedder.EmbedQuery(ctx, text)
	}
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection() (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, m.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Count returns the number of stored chunks.
func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	if m.collection == nil {
		return 0, ErrCollectionNotFound
	}
	return m.collection.Count(), nil
}

// Reset drops the collection, including its files on disk, and recreates it empty.
func (m *VectorDBManager) Reset(_ context.Context) error {
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	_, err := m.GetOrCreateCollection()
	return err
}

// AddDocuments embeds docs with the configured embedder and stores them.
// The document id is taken from the "id" metadata key when present.
func (m *VectorDBManager) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	embedder := m.embedder
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
	if len(vectors) != len(kept) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(kept))
	}

	ids := make([]string, len(kept))
	chromemDocs := make([]chromem.Document, len(kept))
	for i, doc := range kept {
		metadata := toStringMap(doc.Metadata)
		id := metadata[models.MetaID]
		if id == "" {
			if id, err = helper.GenerateUUID(); err != nil {
				return nil, err
			}
		}
		ids[i] = id
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   doc.PageContent,
			Metadata:  metadata,
			Embedding: vectors[i],
		}
	}

	log.Debug().Int("documents", len(chromemDocs)).Str("collection", m.collectionName).Msg("Adding documents")
	if err := m.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	return ids, nil
}

// SimilaritySearch returns up to numDocuments chunks closest to query.
// Filters, when given, must be a map[string]string matched against metadata.
func (m *VectorDBManager) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}

	// chromem rejects nResults above the collection size
	n := min(numDocuments, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	embedder := m.embedder
	if opts.Embedder != nil {
		embedder = opts.Embedder
	}
	queryEmbedding, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	queryOpts := chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       n,
	}
	if opts.Filters != nil {
		where, ok := opts.Filters.(map[string]string)
		if !ok {
			return nil, fmt.Errorf("unsupported filter type %T", opts.Filters)
		}
		queryOpts.Where = where
	}

	results, err := m.SearchWithQueryOptions(ctx, queryOpts)
	if err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(results))
	for _, r := range results {
		if opts.ScoreThreshold > 0 && r.Similarity < opts.ScoreThreshold {
			continue
		}
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		docs = append(docs, schema.Document{
			PageContent: r.Content,
			Metadata:    metadata,
			Score:       r.Similarity,
		})
	}
	return docs, nil
}

// SearchWithQueryOptions performs a raw similarity search against the collection.
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, errors.New("either query or embedding must be provided")
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Export writes the collection to filePath, encrypted when a key is configured.
func (m *VectorDBManager) Export(_ context.Context, filePath string) error {
	if filePath == "" {
		return errors.New("export path is required")
	}
	log.Debug().
		Str("collection", m.collectionName).
		Str("file", filePath).
		Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").
		Msg("Exporting collection")

	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the one stored in filePath. The current
// collection is dropped first so none of its documents survive on disk.
func (m *VectorDBManager) Import(ctx context.Context, filePath string) error {
	if !helper.Exists(filePath) {
		return fmt.Errorf("snapshot %s does not exist", filePath)
	}
	if err := m.Reset(ctx); err != nil {
		return err
	}
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	m.collection = m.db.GetCollection(m.collectionName, m.embeddingFunc())
	if m.collection == nil {
		return fmt.Errorf("snapshot %s: %w: %s", filePath, ErrCollectionNotFound, m.collectionName)
	}
	return nil
}

func toStringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

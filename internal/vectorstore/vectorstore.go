// Package vectorstore decides whether the persisted index can be reused or
// has to be rebuilt from freshly loaded chunks.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"pdf-chatbot/internal/helper"
	"pdf-chatbot/internal/models"
)

var ErrNoChunks = errors.New("no chunks to index")

const addBatchSize = 256

// Index is a vector store that can report its size and be emptied.
type Index interface {
	vectorstores.VectorStore
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

type Options struct {
	PersistDir   string
	EmbedModel   string
	ForceRebuild bool
}

type Result struct {
	Rebuilt  bool
	Count    int
	Manifest *Manifest
	// Warnings are the problems found when an existing index was loaded.
	Warnings []string
}

// BuildOrLoad reuses idx when it already holds data and no rebuild is forced.
// Otherwise it resets idx, embeds every chunk and records a new manifest.
func BuildOrLoad(ctx context.Context, idx Index, chunks []models.Chunk, opts Options) (*Result, error) {
	fingerprint := Fingerprint(chunks)

	if !opts.ForceRebuild {
		count, err := idx.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect index: %w", err)
		}
		if count > 0 {
			manifest, err := ReadManifest(opts.PersistDir)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring unreadable manifest")
			}
			var warnings []string
			if manifest == nil {
				warnings = append(warnings, "index has no manifest, so it may be incomplete or built with another embedding model")
			} else {
				warnings = manifest.Mismatches(opts.EmbedModel, fingerprint, count)
			}
			for _, problem := range warnings {
				log.Warn().Str("dir", opts.PersistDir).Msgf("%s, consider running with --rebuild", problem)
			}
			log.Info().Int("chunks", count).Msg("Loaded existing vector index")
			return &Result{Count: count, Manifest: manifest, Warnings: warnings}, nil
		}
	}

	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	log.Info().Int("chunks", len(chunks)).Bool("forced", opts.ForceRebuild).Msg("Building vector index")
	if err := RemoveManifest(opts.PersistDir); err != nil {
		return nil, err
	}
	if err := idx.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset index: %w", err)
	}

	docs := ToDocuments(chunks)
	for start := 0; start < len(docs); start += addBatchSize {
		end := min(start+addBatchSize, len(docs))
		if _, err := idx.AddDocuments(ctx, docs[start:end]); err != nil {
			return nil, fmt.Errorf("failed to index chunks %d-%d: %w", start+1, end, err)
		}
		log.Debug().Int("done", end).Int("total", len(docs)).Msg("Indexed chunks")
	}

	buildID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{
		BuildID:     buildID,
		EmbedModel:  opts.EmbedModel,
		Chunks:      len(chunks),
		Fingerprint: fingerprint,
		BuiltAt:     time.Now().UTC(),
	}
	if err := WriteManifest(opts.PersistDir, manifest); err != nil {
		return nil, err
	}
	return &Result{Rebuilt: true, Count: len(chunks), Manifest: manifest}, nil
}

func ToDocuments(chunks []models.Chunk) []schema.Document {
	docs := make([]schema.Document, len(chunks))
	for i, c := range chunks {
		metadata := make(map[string]any, 4)
		for k, v := range c.Metadata() {
			metadata[k] = v
		}
		docs[i] = schema.Document{PageContent: c.Content, Metadata: metadata}
	}
	return docs
}

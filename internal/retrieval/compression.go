package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"

	"pdf-chatbot/internal/models"
)

// Compressor narrows retrieved documents down to what matters for the query.
type Compressor interface {
	Compress(ctx context.Context, docs []schema.Document, query string) ([]schema.Document, error)
}

// LLMChainExtractor keeps only the verbatim passages the LLM judges relevant.
// Documents with nothing relevant are dropped.
type LLMChainExtractor struct {
	Chain *chains.LLMChain
}

func NewLLMChainExtractor(llm llms.Model) *LLMChainExtractor {
	prompt := prompts.NewPromptTemplate(models.ExtractPromptTemplate, []string{"question", "context"})
	return &LLMChainExtractor{Chain: chains.NewLLMChain(llm, prompt)}
}

func (e *LLMChainExtractor) Compress(ctx context.Context, docs []schema.Document, query string) ([]schema.Document, error) {
	out := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		res, err := chains.Predict(ctx, e.Chain, map[string]any{
			"question": query,
			"context":  doc.PageContent,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to compress document: %w", err)
		}
		extracted := cleanExtraction(res)
		if extracted == "" {
			continue
		}
		out = append(out, schema.Document{
			PageContent: extracted,
			Metadata:    doc.Metadata,
			Score:       doc.Score,
		})
	}
	return out, nil
}

func cleanExtraction(s string) string {
	s = strings.TrimSpace(thinkTag.ReplaceAllString(s, ""))
	if s == models.NoOutput || strings.HasPrefix(s, models.NoOutput) {
		return ""
	}
	return s
}

// ContextualCompressionRetriever runs Compressor over the base retriever's results.
type ContextualCompressionRetriever struct {
	Retriever  schema.Retriever
	Compressor Compressor
}

var _ schema.Retriever = ContextualCompressionRetriever{}

func (c ContextualCompressionRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	docs, err := c.Retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return docs, nil
	}
	return c.Compressor.Compress(ctx, docs, query)
}

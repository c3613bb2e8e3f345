// Package retrieval builds the retriever used by the question answering chain.
package retrieval

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"pdf-chatbot/internal/config"
)

// BuildMultiQueryCompressedRetriever wires store -> multi-query expansion ->
// contextual compression. Compression is skipped when disabled in cfg.
func BuildMultiQueryCompressedRetriever(store vectorstores.VectorStore, llm llms.Model, cfg config.RAGConfig) schema.Retriever {
	base := vectorstores.ToRetriever(store, cfg.TopK)
	multi := NewMultiQueryRetriever(base, llm, cfg.NumQueries)
	if !cfg.CompressEnabled() {
		return multi
	}
	return ContextualCompressionRetriever{
		Retriever:  multi,
		Compressor: NewLLMChainExtractor(llm),
	}
}

package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"

	"pdf-chatbot/internal/models"
)

var (
	listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
	thinkTag   = regexp.MustCompile(models.ThinkTag)
)

// MultiQueryRetriever asks the LLM for paraphrases of the question, runs the
// base retriever for each of them and returns the union of the results.
type MultiQueryRetriever struct {
	Retriever  schema.Retriever
	Chain      *chains.LLMChain
	NumQueries int
	// IncludeOriginal also retrieves with the unmodified question.
	IncludeOriginal bool
}

var _ schema.Retriever = (*MultiQueryRetriever)(nil)

func NewMultiQueryRetriever(base schema.Retriever, llm llms.Model, numQueries int) *MultiQueryRetriever {
	prompt := prompts.NewPromptTemplate(models.MultiQueryPromptTemplate, []string{"question", "count"})
	return &MultiQueryRetriever{
		Retriever:       base,
		Chain:           chains.NewLLMChain(llm, prompt),
		NumQueries:      numQueries,
		IncludeOriginal: true,
	}
}

func (r *MultiQueryRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	queries := r.generateQueries(ctx, query)
	log.Debug().Strs("queries", queries).Msg("Retrieving with query variants")

	var all []schema.Document
	for _, q := range queries {
		docs, err := r.Retriever.GetRelevantDocuments(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve for %q: %w", q, err)
		}
		all = append(all, docs...)
	}
	return uniqueDocuments(all), nil
}

// generateQueries never fails: when the LLM is unavailable the original
// question is used on its own.
func (r *MultiQueryRetriever) generateQueries(ctx context.Context, query string) []string {
	var queries []string
	if r.IncludeOriginal || r.NumQueries <= 0 {
		queries = append(queries, query)
	}
	if r.NumQueries <= 0 {
		return queries
	}

	out, err := chains.Predict(ctx, r.Chain, map[string]any{
		"question": query,
		"count":    r.NumQueries,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Query expansion failed, using the original question")
		return []string{query}
	}

	variants := parseLines(out, r.NumQueries)
	for _, v := range variants {
		if !containsFold(queries, v) {
			queries = append(queries, v)
		}
	}
	if len(queries) == 0 {
		return []string{query}
	}
	return queries
}

// parseLines splits LLM output into at most limit non-empty lines with list
// markers removed.
func parseLines(out string, limit int) []string {
	out = thinkTag.ReplaceAllString(out, "")
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == limit {
			break
		}
	}
	return lines
}

// uniqueDocuments keeps the first occurrence of each page content.
func uniqueDocuments(docs []schema.Document) []schema.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]schema.Document, 0, len(docs))
	for _, d := range docs {
		if _, ok := seen[d.PageContent]; ok {
			continue
		}
		seen[d.PageContent] = struct{}{}
		out = append(out, d)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

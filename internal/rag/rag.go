package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"

	"pdf-chatbot/internal/config"
	"pdf-chatbot/internal/models"
)

const sourceDocumentsKey = "source_documents"

var thinkTag = regexp.MustCompile(models.ThinkTag)

// RAG answers questions with a "stuff" retrieval QA chain: every retrieved
// chunk is placed into a single prompt.
type RAG struct {
	chain chains.RetrievalQA
	cfg   *config.Config
}

func NewRAG(llm llms.Model, retriever schema.Retriever, cfg *config.Config) *RAG {
	prompt := prompts.NewPromptTemplate(models.QAPromptTemplate, []string{"context", "question"})
	combine := chains.NewStuffDocuments(chains.NewLLMChain(llm, prompt))

	qa := chains.NewRetrievalQA(combine, retriever)
	qa.ReturnSourceDocuments = true
	return &RAG{chain: qa, cfg: cfg}
}

// Query runs retrieval and generation for a single question. No history is
// kept between calls.
func (r *RAG) Query(ctx context.Context, query string) (*models.PromptResponse, error) {
	out, err := chains.Call(ctx, r.chain, map[string]any{models.QueryKey: query})
	if err != nil {
		return nil, fmt.Errorf("failed to answer query: %w", err)
	}

	answer, ok := out[models.AnswerKey].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected answer type %T", out[models.AnswerKey])
	}
	answer = strings.TrimSpace(thinkTag.ReplaceAllString(answer, ""))

	docs, _ := out[sourceDocumentsKey].([]schema.Document)
	log.Debug().
		Str("model", r.cfg.InferenceLLM.Model).
		Str("query", query).
		Int("documents", len(docs)).
		Msg("Answered query")

	return &models.PromptResponse{
		Query:   query,
		Content: answer,
		Source:  strings.Join(SourceLabels(docs), ", "),
	}, nil
}

// SourceLabels returns the distinct "file p.N" labels of docs in order.
func SourceLabels(docs []schema.Document) []string {
	seen := make(map[string]struct{}, len(docs))
	var labels []string
	for _, d := range docs {
		src, _ := d.Metadata[models.MetaSource].(string)
		if src == "" {
			continue
		}
		label := filepath.Base(src)
		if page, ok := d.Metadata[models.MetaPage]; ok {
			label = fmt.Sprintf("%s p.%v", label, page)
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}

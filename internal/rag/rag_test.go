package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"pdf-chatbot/internal/config"
)

type scriptedLLM struct {
	answer  string
	prompts []string
}

func (s *scriptedLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				prompt.WriteString(tc.Text)
			}
		}
	}
	s.prompts = append(s.prompts, prompt.String())
	if !strings.Contains(prompt.String(), "refunds within 30 days") {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "I don't know."}}}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.answer}}}, nil
}

func (s *scriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

type staticRetriever struct {
	docs []schema.Document
	err  error
}

func (s staticRetriever) GetRelevantDocuments(context.Context, string) ([]schema.Document, error) {
	return s.docs, s.err
}

func TestQuery_AnswersFromContext(t *testing.T) {
	llm := &scriptedLLM{answer: "<think>look at page 3</think>\n Refunds are issued within 30 days. "}
	retriever := staticRetriever{docs: []schema.Document{
		{PageContent: "refunds within 30 days", Metadata: map[string]any{"source": "docs/policy.pdf", "page": "3"}},
		{PageContent: "refunds within 30 days of purchase", Metadata: map[string]any{"source": "docs/policy.pdf", "page": "3"}},
		{PageContent: "store credit", Metadata: map[string]any{"source": "docs/faq.pdf", "page": "1"}},
	}}

	resp, err := NewRAG(llm, retriever, config.Default()).Query(context.Background(), "What is the refund policy?")
	require.NoError(t, err)
	assert.Equal(t, "Refunds are issued within 30 days.", resp.Content)
	assert.Equal(t, "What is the refund policy?", resp.Query)
	assert.Equal(t, "policy.pdf p.3, faq.pdf p.1", resp.Source)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Question:\nWhat is the refund policy?")
	assert.Contains(t, llm.prompts[0], "store credit")
}

func TestQuery_NoMatchingContentIsNotAnError(t *testing.T) {
	llm := &scriptedLLM{}
	resp, err := NewRAG(llm, staticRetriever{}, config.Default()).Query(context.Background(), "What is the refund policy?")
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", resp.Content)
	assert.Empty(t, resp.Source)
}

func TestQuery_RetrieverError(t *testing.T) {
	llm := &scriptedLLM{}
	retriever := staticRetriever{err: errors.New("failed to embed query: connection refused")}

	_, err := NewRAG(llm, retriever, config.Default()).Query(context.Background(), "q")
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, llm.prompts)
}

func TestSourceLabels(t *testing.T) {
	labels := SourceLabels([]schema.Document{
		{Metadata: map[string]any{"source": "a.pdf", "page": "1"}},
		{Metadata: map[string]any{"source": "a.pdf", "page": "1"}},
		{Metadata: map[string]any{"source": "b.pdf"}},
		{Metadata: map[string]any{}},
	})
	assert.Equal(t, []string{"a.pdf p.1", "b.pdf"}, labels)
}

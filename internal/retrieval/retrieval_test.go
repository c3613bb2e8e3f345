package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"pdf-chatbot/internal/chromemdb"
	"pdf-chatbot/internal/config"
)

// fakeLLM answers every prompt with respond(prompt).
type fakeLLM struct {
	respond func(prompt string) (string, error)
	prompts []string
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				prompt.WriteString(tc.Text)
			}
		}
	}
	f.prompts = append(f.prompts, prompt.String())
	out, err := f.respond(prompt.String())
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: out}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// mapRetriever returns canned documents per query and records what it was asked.
type mapRetriever struct {
	docs    map[string][]schema.Document
	err     error
	queries []string
}

func (m *mapRetriever) GetRelevantDocuments(_ context.Context, query string) ([]schema.Document, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	return m.docs[query], nil
}

func doc(content string) schema.Document {
	return schema.Document{PageContent: content, Metadata: map[string]any{"source": "policy.pdf", "page": "1"}}
}

func TestMultiQuery_MergesAndDeduplicates(t *testing.T) {
	llm := &fakeLLM{respond: func(string) (string, error) {
		return "1. How do refunds work?\n2. What is the return window?\n\n- Can I get my money back?", nil
	}}
	base := &mapRetriever{docs: map[string][]schema.Document{
		"What is the refund policy?": {doc("refunds within 30 days"), doc("store credit")},
		"How do refunds work?":       {doc("refunds within 30 days")},
		"What is the return window?": {doc("returns accepted for 30 days")},
	}}

	r := NewMultiQueryRetriever(base, llm, 3)
	docs, err := r.GetRelevantDocuments(context.Background(), "What is the refund policy?")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"What is the refund policy?",
		"How do refunds work?",
		"What is the return window?",
		"Can I get my money back?",
	}, base.queries)

	var contents []string
	for _, d := range docs {
		contents = append(contents, d.PageContent)
	}
	assert.Equal(t, []string{"refunds within 30 days", "store credit", "returns accepted for 30 days"}, contents)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "generate 3 different versions")
	assert.Contains(t, llm.prompts[0], "What is the refund policy?")
}

func TestMultiQuery_FallsBackToOriginalQuestion(t *testing.T) {
	llm := &fakeLLM{respond: func(string) (string, error) { return "", errors.New("model not found") }}
	base := &mapRetriever{docs: map[string][]schema.Document{"refund?": {doc("a")}}}

	docs, err := NewMultiQueryRetriever(base, llm, 3).GetRelevantDocuments(context.Background(), "refund?")
	require.NoError(t, err)
	assert.Equal(t, []string{"refund?"}, base.queries)
	assert.Len(t, docs, 1)
}

func TestMultiQuery_RetrieverErrorPropagates(t *testing.T) {
	llm := &fakeLLM{respond: func(string) (string, error) { return "variant", nil }}
	base := &mapRetriever{err: errors.New("embedding service unavailable")}

	_, err := NewMultiQueryRetriever(base, llm, 1).GetRelevantDocuments(context.Background(), "q")
	assert.ErrorContains(t, err, "embedding service unavailable")
}

func TestMultiQuery_NoExpansion(t *testing.T) {
	llm := &fakeLLM{respond: func(string) (string, error) { return "unused", nil }}
	base := &mapRetriever{}

	docs, err := NewMultiQueryRetriever(base, llm, 0).GetRelevantDocuments(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, llm.prompts)
	assert.Equal(t, []string{"q"}, base.queries)
}

func TestParseLines(t *testing.T) {
	out := "<think>hmm</think>\n1) first\n  * \"second\"\n\nthird\nfourth"
	assert.Equal(t, []string{"first", "second", "third"}, parseLines(out, 3))
}

func TestLLMChainExtractor(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "refunds within 30 days") {
			return "refunds within 30 days", nil
		}
		return "NO_OUTPUT", nil
	}}
	docs := []schema.Document{doc("Intro text. refunds within 30 days. Other text."), doc("shipping info")}
	docs[0].Score = 0.9

	out, err := NewLLMChainExtractor(llm).Compress(context.Background(), docs, "refund policy")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "refunds within 30 days", out[0].PageContent)
	assert.Equal(t, "policy.pdf", out[0].Metadata["source"])
	assert.InDelta(t, 0.9, out[0].Score, 1e-6)
	assert.Contains(t, llm.prompts[0], "> Question: refund policy")
}

func TestLLMChainExtractor_Error(t *testing.T) {
	llm := &fakeLLM{respond: func(string) (string, error) { return "", errors.New("timeout") }}
	_, err := NewLLMChainExtractor(llm).Compress(context.Background(), []schema.Document{doc("x")}, "q")
	assert.ErrorContains(t, err, "timeout")
}

func TestContextualCompression_EmptyIsNotAnError(t *testing.T) {
	llm := &fakeLLM{respond: func(string) (string, error) { return "NO_OUTPUT", nil }}
	r := ContextualCompressionRetriever{Retriever: &mapRetriever{}, Compressor: NewLLMChainExtractor(llm)}

	docs, err := r.GetRelevantDocuments(context.Background(), "What is the refund policy?")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, llm.prompts)
}

// wordEmbedder maps texts onto a tiny vocabulary so similarity is predictable.
type wordEmbedder struct{}

var vocab = []string{"refund", "shipping", "warranty", "days"}

func (wordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(vocab)+1)
	v[len(vocab)] = 0.01
	lower := strings.ToLower(text)
	for i, w := range vocab {
		if strings.Contains(lower, w) {
			v[i] = 1
		}
	}
	return v
}

func (e wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func TestBuildMultiQueryCompressedRetriever(t *testing.T) {
	ctx := context.Background()
	store, err := chromemdb.NewVectorDBManager("", "pdf_chunks", true, "", wordEmbedder{})
	require.NoError(t, err)
	_, err = store.AddDocuments(ctx, []schema.Document{
		{PageContent: "A refund is issued within 30 days.", Metadata: map[string]any{"id": "a", "source": "policy.pdf", "page": "1"}},
		{PageContent: "Shipping takes a week.", Metadata: map[string]any{"id": "b", "source": "policy.pdf", "page": "2"}},
		{PageContent: "The warranty lasts two years.", Metadata: map[string]any{"id": "c", "source": "policy.pdf", "page": "3"}},
	})
	require.NoError(t, err)

	llm := &fakeLLM{respond: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "different versions"):
			return "How many days do I have for a refund?", nil
		case strings.Contains(prompt, "A refund is issued"):
			return "A refund is issued within 30 days.", nil
		default:
			return "NO_OUTPUT", nil
		}
	}}

	cfg := config.Default().RAG
	cfg.TopK = 1
	cfg.NumQueries = 1

	docs, err := BuildMultiQueryCompressedRetriever(store, llm, cfg).GetRelevantDocuments(ctx, "refund policy")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "A refund is issued within 30 days.", docs[0].PageContent)
	assert.Equal(t, "1", docs[0].Metadata["page"])

	off := false
	cfg.Compress = &off
	_, isMulti := BuildMultiQueryCompressedRetriever(store, llm, cfg).(*MultiQueryRetriever)
	assert.True(t, isMulti)
}

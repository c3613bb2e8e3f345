package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-chatbot/internal/models"
	"pdf-chatbot/internal/smalltalk"
)

type fakeAnswerer struct {
	queries []string
	answer  func(ctx context.Context, q string) (*models.PromptResponse, error)
}

func (f *fakeAnswerer) Query(ctx context.Context, q string) (*models.PromptResponse, error) {
	f.queries = append(f.queries, q)
	if f.answer != nil {
		return f.answer(ctx, q)
	}
	return &models.PromptResponse{Query: q, Content: "answer to " + q, Source: "policy.pdf p.1"}, nil
}

func run(t *testing.T, input string, a *fakeAnswerer, opts Options) string {
	t.Helper()
	var out bytes.Buffer
	err := NewSession(a, strings.NewReader(input), &out, opts).Run(context.Background())
	require.NoError(t, err)
	return out.String()
}

func TestRun_ExitWordsStopWithoutQuerying(t *testing.T) {
	for _, word := range []string{"exit", "QUIT", "  Exit  "} {
		a := &fakeAnswerer{}
		out := run(t, word+"\nWhat is the refund policy?\n", a, Options{})
		assert.Contains(t, out, "Bye!")
		assert.NotContains(t, out, "Goodbye!")
		assert.Empty(t, a.queries, word)
	}
}

func TestRun_EndOfInput(t *testing.T) {
	a := &fakeAnswerer{}
	out := run(t, "", a, Options{})
	assert.True(t, strings.HasSuffix(out, "You: \nGoodbye!\n"))
	assert.Empty(t, a.queries)
}

func TestRun_WhitespaceInput(t *testing.T) {
	a := &fakeAnswerer{}
	out := run(t, "\n   \t\nexit\n", a, Options{})
	assert.Equal(t, 2, strings.Count(out, "Please ask a valid question."))
	assert.NotContains(t, out, "Bot:")
	assert.Empty(t, a.queries)
}

func TestRun_SmallTalkSkipsChain(t *testing.T) {
	a := &fakeAnswerer{}
	out := run(t, "hello\nthanks!\n", a, Options{Tone: smalltalk.ToneFriendly})
	assert.Equal(t, 2, strings.Count(out, "Bot: "+smalltalk.Reply(smalltalk.ToneFriendly)))
	assert.Empty(t, a.queries)
}

func TestRun_AnswersQuestions(t *testing.T) {
	a := &fakeAnswerer{}
	out := run(t, "  What is the refund policy?  \n", a, Options{ShowSources: true})
	assert.Equal(t, []string{"What is the refund policy?"}, a.queries)
	assert.Contains(t, out, "You: Bot: answer to What is the refund policy?\nSources: policy.pdf p.1\n")

	out = run(t, "What is the refund policy?\n", &fakeAnswerer{}, Options{})
	assert.NotContains(t, out, "Sources:")
}

func TestRun_ErrorsDoNotEndTheLoop(t *testing.T) {
	calls := 0
	a := &fakeAnswerer{answer: func(_ context.Context, q string) (*models.PromptResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("failed to embed query: connection refused")
		}
		return &models.PromptResponse{Content: "recovered"}, nil
	}}
	out := run(t, "first question\nsecond question\n", a, Options{EmbedModel: "nomic-embed-text", LLMModel: "llama3"})

	assert.Contains(t, out, "Error during retrieval/answer: failed to embed query: connection refused")
	assert.Contains(t, out, "ollama pull nomic-embed-text")
	assert.Contains(t, out, "ollama pull llama3")
	assert.Contains(t, out, "--rebuild")
	assert.Contains(t, out, "Bot: recovered")
	assert.Len(t, a.queries, 2)
}

func TestRun_CancelledWhileWaitingForInput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- NewSession(&fakeAnswerer{}, pr, &out, Options{}).Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.True(t, strings.HasSuffix(out.String(), "Goodbye!\n"))
}

func TestRun_CancelledDuringQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeAnswerer{answer: func(ctx context.Context, _ string) (*models.PromptResponse, error) {
		cancel()
		return nil, ctx.Err()
	}}
	var out bytes.Buffer
	err := NewSession(a, strings.NewReader("q1\nq2\n"), &out, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Len(t, a.queries, 1)
	assert.Contains(t, out.String(), "context canceled")
	assert.True(t, strings.HasSuffix(out.String(), "Goodbye!\n"))
}

func TestClassify(t *testing.T) {
	s := NewSession(&fakeAnswerer{}, strings.NewReader(""), io.Discard, Options{ExitWords: []string{"stop"}})
	assert.Equal(t, IntentExit, s.Classify("STOP"))
	assert.Equal(t, IntentQuery, s.Classify("exit"))
	assert.Equal(t, IntentEmpty, s.Classify(" "))
	assert.Equal(t, IntentSmallTalk, s.Classify("good morning"))
	assert.Equal(t, IntentQuery, s.Classify("hello, what is the refund policy?"))
}

package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"pdf-chatbot/internal/config"
)

// NewLLM creates the generative model described by llmConfig.
func NewLLM(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating llm")
	switch llmConfig.Provider {
	case config.ProviderOllama, "":
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama llm: %w", err)
		}
		return llm, nil
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		if llmConfig.Key != "" {
			opts = append(opts, openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai llm: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", llmConfig.Provider)
	}
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return llm.GenerateContent(ctx, messages, options...)
}

// Ping sends a one word prompt so an unreachable model is reported at startup
// instead of on the first question.
func Ping(ctx context.Context, llm llms.Model) error {
	msgContent := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, "Reply with the single word: ok"),
	}
	res, err := GenerateContent(ctx, llm, msgContent, llms.WithMaxTokens(8))
	if err != nil {
		return err
	}
	if len(res.Choices) == 0 {
		return errors.New("llm returned no choices")
	}
	return nil
}

// Package chat implements the interactive question/answer loop.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"pdf-chatbot/internal/models"
	"pdf-chatbot/internal/smalltalk"
)

// Answerer answers a single, self-contained question.
type Answerer interface {
	Query(ctx context.Context, query string) (*models.PromptResponse, error)
}

type Options struct {
	Tone        string
	ExitWords   []string
	ShowSources bool
	// EmbedModel and LLMModel only appear in the remediation hints.
	EmbedModel string
	LLMModel   string
}

// Intent is what a line of user input asks the loop to do.
type Intent int

const (
	IntentQuery Intent = iota
	IntentExit
	IntentEmpty
	IntentSmallTalk
)

type Session struct {
	answerer Answerer
	in       io.Reader
	out      io.Writer
	opts     Options
}

func NewSession(answerer Answerer, in io.Reader, out io.Writer, opts Options) *Session {
	if len(opts.ExitWords) == 0 {
		opts.ExitWords = []string{"exit", "quit"}
	}
	return &Session{answerer: answerer, in: in, out: out, opts: opts}
}

// Classify maps a raw input line to the loop's next step.
func (s *Session) Classify(input string) Intent {
	q := strings.TrimSpace(input)
	switch {
	case q == "":
		return IntentEmpty
	case s.isExitWord(q):
		return IntentExit
	case smalltalk.IsSmallTalk(q):
		return IntentSmallTalk
	default:
		return IntentQuery
	}
}

func (s *Session) isExitWord(q string) bool {
	for _, w := range s.opts.ExitWords {
		if strings.EqualFold(q, w) {
			return true
		}
	}
	return false
}

// Run reads lines until end of input, an exit word, or ctx is cancelled.
// Query failures are reported and never end the loop.
func (s *Session) Run(ctx context.Context) error {
	lines := s.readLines(ctx)

	fmt.Fprintf(s.out, "Chatbot is ready. Ask anything from your PDF docs.\n(Type '%s' to quit)\n\n", s.opts.ExitWords[0])
	for {
		if ctx.Err() != nil {
			fmt.Fprintln(s.out, "\nGoodbye!")
			return nil
		}
		fmt.Fprint(s.out, "You: ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out, "\nGoodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(s.out, "\nGoodbye!")
			return nil
		}

		query := strings.TrimSpace(line)
		switch s.Classify(query) {
		case IntentExit:
			fmt.Fprintln(s.out, "Bye!")
			return nil
		case IntentEmpty:
			fmt.Fprint(s.out, "Please ask a valid question.\n\n")
		case IntentSmallTalk:
			fmt.Fprintf(s.out, "Bot: %s\n\n", smalltalk.Reply(s.opts.Tone))
		default:
			s.answer(ctx, query)
		}
	}
}

func (s *Session) answer(ctx context.Context, query string) {
	resp, err := s.answerer.Query(ctx, query)
	if err != nil {
		log.Debug().Err(err).Str("query", query).Msg("Query failed")
		fmt.Fprintf(s.out, "Error during retrieval/answer: %v\n", err)
		fmt.Fprintln(s.out, "   Tips:")
		fmt.Fprintf(s.out, "   - Ensure you ran: `ollama pull %s` and `ollama pull %s`\n", s.opts.EmbedModel, s.opts.LLMModel)
		fmt.Fprintln(s.out, "   - If you changed your documents, rerun with --rebuild")
		fmt.Fprintln(s.out)
		return
	}

	fmt.Fprintf(s.out, "Bot: %s\n", resp.Content)
	if s.opts.ShowSources && resp.Source != "" {
		fmt.Fprintf(s.out, "Sources: %s\n", resp.Source)
	}
	fmt.Fprintln(s.out)
}

// readLines feeds input lines to the loop so a cancelled context is noticed
// while waiting on a blocking read.
func (s *Session) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to read input")
		}
	}()
	return lines
}

// Package answer generates grounded chat answers from retrieved document
// chunks, streaming tokens to the caller as they arrive.
package answer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"github.com/bull/doc-chat-server/internal/domain"
)

// DefaultMaxContextChars bounds the retrieved context stuffed into the
// prompt. Rough estimate: 1 token is about 4 characters.
const DefaultMaxContextChars = 48000

// Generator answers questions about one document using its retrieved
// chunks as the only source of truth.
type Generator struct {
	client          openai.Client
	model           string
	maxContextChars int
}

// NewGenerator creates a generator. The OpenAI API key comes from
// OPENAI_API_KEY.
func NewGenerator() (*Generator, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	return &Generator{
		client:          openai.NewClient(),
		model:           openai.ChatModelGPT4o,
		maxContextChars: DefaultMaxContextChars,
	}, nil
}

// Stream generates an answer grounded in passages and calls emit for every
// token fragment in generation order. emit returning an error aborts the
// stream.
func (g *Generator) Stream(ctx context.Context, question string, passages []domain.Passage, emit func(fragment string) error) error {
	prompt := g.buildPrompt(question, passages)

	stream := g.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Model: g.model,
	})
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		fragment := chunk.Choices[0].Delta.Content
		if fragment == "" {
			continue
		}
		if err := emit(fragment); err != nil {
			return fmt.Errorf("emit fragment: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("completion stream failed: %w", err)
	}
	return nil
}

const systemPrompt = `You answer questions about a single uploaded document.
Use only the provided document excerpts. If the excerpts do not contain the
answer, say so plainly instead of guessing.`

func (g *Generator) buildPrompt(question string, passages []domain.Passage) string {
	var b strings.Builder
	b.WriteString("Document excerpts:\n\n")

	budget := g.maxContextChars
	for i, p := range passages {
		excerpt := fmt.Sprintf("--- Excerpt %d (from %s) ---\n%s\n\n",
			i+1, p.OriginalFileName, p.Text)
		if len(excerpt) > budget {
			break
		}
		b.WriteString(excerpt)
		budget -= len(excerpt)
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

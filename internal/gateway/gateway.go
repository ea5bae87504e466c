// Package gateway answers chat questions about one document: retrieve the
// document's most relevant chunks, generate a grounded answer, and stream
// the answer fragments to the document's response channel.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bull/doc-chat-server/internal/domain"
)

// answerer streams a generated answer as ordered fragments.
type answerer interface {
	Stream(ctx context.Context, question string, passages []domain.Passage, emit func(fragment string) error) error
}

// Gateway is the chat entry point.
type Gateway struct {
	engine    domain.IndexingEngine
	generator answerer
	pub       domain.Publisher
	limit     int
	logger    *slog.Logger
}

// NewGateway creates the gateway. limit is the number of chunks retrieved
// per question.
func NewGateway(engine domain.IndexingEngine, generator answerer, pub domain.Publisher, limit int, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		engine:    engine,
		generator: generator,
		pub:       pub,
		limit:     limit,
		logger:    logger,
	}
}

// Chat answers text against document documentID. Retrieval is scoped to
// that document's chunks only. Every answer fragment is published on the
// document's response channel in generation order under one message id;
// publishing is sequential so subscribers can concatenate on arrival.
// Empty retrieval ends the exchange without publishing anything.
func (g *Gateway) Chat(ctx context.Context, documentID, text string) error {
	log := g.logger.With("documentId", documentID)

	passages, err := g.engine.Retrieve(ctx, documentID, text, g.limit)
	if err != nil {
		return fmt.Errorf("retrieve for document %q: %w", documentID, err)
	}
	if len(passages) == 0 {
		log.Info("no chunks retrieved, skipping answer")
		return nil
	}

	messageID := uuid.New().String()
	channel := domain.ResponseChannel(documentID)
	fragments := 0

	emit := func(fragment string) error {
		fragments++
		return g.pub.Publish(ctx, channel, domain.ChatFragment{
			ID:   messageID,
			Text: fragment,
		})
	}

	if err := g.generator.Stream(ctx, text, passages, emit); err != nil {
		return fmt.Errorf("answer document %q: %w", documentID, err)
	}

	log.Info("answer streamed", "messageId", messageID,
		"chunks", len(passages), "fragments", fragments)
	return nil
}

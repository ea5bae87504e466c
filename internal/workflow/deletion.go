package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bull/doc-chat-server/internal/domain"
)

// Deletion removes every trace of a document: the status record, the
// content object, the metadata sidecar, and the indexed chunks. Branches
// run in parallel and each tolerates an already-missing target, so the
// workflow is safe to re-run.
type Deletion struct {
	objects domain.ObjectStore
	status  domain.StatusStore
	engine  domain.IndexingEngine
	logger  *slog.Logger
}

// NewDeletion creates the deletion workflow.
func NewDeletion(objects domain.ObjectStore, status domain.StatusStore, engine domain.IndexingEngine, logger *slog.Logger) *Deletion {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deletion{objects: objects, status: status, engine: engine, logger: logger}
}

// Run deletes document id everywhere. Any branch failure fails the run;
// a re-run finishes the remainder.
func (w *Deletion) Run(ctx context.Context, id string) error {
	log := w.logger.With("documentId", id)
	log.Info("deletion started")

	key := domain.ObjectKey(id)
	metaKey := domain.MetadataKey(id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.status.Delete(gctx, id); err != nil {
			return fmt.Errorf("delete status record: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := w.objects.RemoveObject(gctx, key); err != nil {
			return fmt.Errorf("delete content object: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := w.objects.RemoveObject(gctx, metaKey); err != nil {
			return fmt.Errorf("delete metadata sidecar: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := w.engine.DeleteDocument(gctx, w.objects.ObjectURI(key)); err != nil {
			return fmt.Errorf("delete indexed chunks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}

	log.Info("deletion complete")
	return nil
}

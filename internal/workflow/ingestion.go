// Package workflow orchestrates the document lifecycle: ingestion of fresh
// uploads into the index, and full deletion across every store.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/bull/doc-chat-server/internal/domain"
)

const (
	// DefaultPollInterval is the pause between indexing status probes.
	DefaultPollInterval = 5 * time.Second

	// DefaultIngestTimeout bounds one ingestion run end to end.
	DefaultIngestTimeout = 5 * time.Minute
)

// Ingestion drives one uploaded object from object-created notification to
// a terminal status record: read the bound upload metadata, write the
// sidecar and the PENDING record in parallel, hand the object to the
// indexing engine, poll until the engine reports a terminal state, and
// record READY or FAILED.
type Ingestion struct {
	objects      domain.ObjectStore
	status       domain.StatusStore
	engine       domain.IndexingEngine
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// NewIngestion creates the ingestion workflow. Zero durations select the
// defaults.
func NewIngestion(objects domain.ObjectStore, status domain.StatusStore, engine domain.IndexingEngine, pollInterval, timeout time.Duration, logger *slog.Logger) *Ingestion {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultIngestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestion{
		objects:      objects,
		status:       status,
		engine:       engine,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
	}
}

// Run executes the workflow for one upload event. An object without the
// bound upload metadata is rejected before any state is written; failures
// after the PENDING record exists are recorded as FAILED.
func (w *Ingestion) Run(ctx context.Context, ev domain.UploadEvent) error {
	meta, err := w.objects.HeadDocumentMetadata(ctx, ev.Key)
	if err != nil {
		return fmt.Errorf("read upload metadata for %q: %w", ev.Key, err)
	}

	log := w.logger.With("documentId", meta.ID, "key", ev.Key)
	log.Info("ingestion started", "originalFileName", meta.OriginalFileName)

	metaKey := ev.Key + domain.MetadataSuffix

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		attrs := domain.MetadataAttributes{
			OriginalFileName: meta.OriginalFileName,
			FileID:           meta.ID,
		}
		if err := w.objects.PutMetadataObject(gctx, metaKey, attrs); err != nil {
			return fmt.Errorf("write metadata sidecar: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		doc := domain.Document{
			ID:               meta.ID,
			OriginalFileName: meta.OriginalFileName,
			FileName:         meta.FileName,
			Status:           domain.StatusPending,
		}
		if err := w.status.Create(gctx, doc); err != nil {
			return fmt.Errorf("create status record: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		w.markFailed(ctx, meta.ID, log)
		return fmt.Errorf("prepare ingestion for %q: %w", meta.ID, err)
	}

	if err := w.runIndexing(ctx, ev.Key, metaKey); err != nil {
		w.markFailed(ctx, meta.ID, log)
		return fmt.Errorf("index document %q: %w", meta.ID, err)
	}

	if err := w.status.SetTerminalStatus(ctx, meta.ID, domain.StatusReady); err != nil {
		if errors.Is(err, domain.ErrConditionFailed) {
			// The record was deleted or already resolved while we indexed.
			log.Info("ready transition skipped, record already resolved")
			return nil
		}
		return fmt.Errorf("mark document %q ready: %w", meta.ID, err)
	}

	log.Info("ingestion complete")
	return nil
}

// runIndexing submits the ingestion job and polls the engine until it
// reports INDEXED, treating FAILED as permanent and the timeout as failure.
func (w *Ingestion) runIndexing(ctx context.Context, key, metaKey string) error {
	docURI := w.objects.ObjectURI(key)
	metaURI := w.objects.ObjectURI(metaKey)

	if err := w.engine.Ingest(ctx, docURI, metaURI); err != nil {
		return fmt.Errorf("submit ingestion job: %w", err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	operation := func() error {
		status, err := w.engine.DocumentStatus(pollCtx, docURI)
		if err != nil {
			return err
		}
		switch status {
		case domain.IndexStatusIndexed:
			return nil
		case domain.IndexStatusFailed:
			return backoff.Permanent(fmt.Errorf("indexing reported FAILED"))
		default:
			return fmt.Errorf("indexing status %s", status)
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(w.pollInterval), pollCtx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("await indexing: %w", err)
	}
	return nil
}

func (w *Ingestion) markFailed(ctx context.Context, id string, log *slog.Logger) {
	if err := w.status.SetTerminalStatus(ctx, id, domain.StatusFailed); err != nil {
		if errors.Is(err, domain.ErrConditionFailed) {
			log.Info("failed transition skipped, record already resolved")
			return
		}
		log.Error("could not mark document failed", "error", err)
	}
}

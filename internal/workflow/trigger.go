package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bull/doc-chat-server/internal/domain"
)

// ErrUploadsClosed reports that the notification stream ended while the
// trigger was still supposed to be running.
var ErrUploadsClosed = errors.New("upload notification stream closed")

// uploadSource streams object-created events for document uploads.
type uploadSource interface {
	Uploads(ctx context.Context) <-chan domain.UploadEvent
}

// Trigger connects the object store's upload notifications to the
// ingestion workflow. Each event runs in its own goroutine so one slow
// ingestion never delays the next upload.
type Trigger struct {
	source    uploadSource
	ingestion *Ingestion
	logger    *slog.Logger
}

// NewTrigger creates the upload trigger.
func NewTrigger(source uploadSource, ingestion *Ingestion, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{source: source, ingestion: ingestion, logger: logger}
}

// Run consumes upload events until ctx is done or the notification stream
// ends, then waits for in-flight ingestions to finish. Ingestion failures
// are logged; the failure is already recorded on the status record.
func (t *Trigger) Run(ctx context.Context) error {
	uploads := t.source.Uploads(ctx)

	var wg sync.WaitGroup
	for ev := range uploads {
		wg.Add(1)
		go func(ev domain.UploadEvent) {
			defer wg.Done()
			if err := t.ingestion.Run(ctx, ev); err != nil {
				t.logger.Error("ingestion failed", "key", ev.Key, "error", err)
			}
		}(ev)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrUploadsClosed
}

// Package fanout forwards status record changes to per-document pub/sub
// channels so viewers see upload progress without polling.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bull/doc-chat-server/internal/domain"
)

// ErrStreamClosed reports that the change stream ended while the pipe was
// still supposed to be running.
var ErrStreamClosed = errors.New("change stream closed")

// Pipe consumes the status store's change stream and republishes inserts
// and updates as StatusEvents on each document's status channel. Removals
// are dropped: deletion is client-initiated, so clients need no
// notification of it.
type Pipe struct {
	stream domain.ChangeStream
	pub    domain.Publisher
	logger *slog.Logger
}

// NewPipe creates the fan-out pipe.
func NewPipe(stream domain.ChangeStream, pub domain.Publisher, logger *slog.Logger) *Pipe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipe{stream: stream, pub: pub, logger: logger}
}

// Run forwards events until ctx is done or the change stream closes.
// Publish failures are logged and skipped; one bad event must not stall
// the stream for every other document.
func (p *Pipe) Run(ctx context.Context) error {
	changes, err := p.stream.Changes(ctx)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	p.logger.Info("status fan-out started")

	for ev := range changes {
		if ev.Op == domain.OpRemove {
			continue
		}

		msg := domain.StatusEvent{
			ID:               ev.Document.ID,
			OriginalFileName: ev.Document.OriginalFileName,
			Status:           ev.Document.Status,
		}
		channel := domain.StatusChannel(ev.Document.ID)
		if err := p.pub.Publish(ctx, channel, msg); err != nil {
			p.logger.Error("status publish failed",
				"documentId", ev.Document.ID, "channel", channel, "error", err)
			continue
		}
		p.logger.Debug("status published",
			"documentId", ev.Document.ID, "status", ev.Document.Status)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}

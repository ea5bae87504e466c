package statusstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/bull/doc-chat-server/internal/domain"
)

const changeChannel = "document_changes"

// ChangeStream delivers status record mutations via Postgres LISTEN/NOTIFY.
// A row trigger (see migrations) publishes one JSON payload per mutation on
// the document_changes channel; NOTIFY preserves per-transaction order, so
// per-document delivery order matches mutation order.
type ChangeStream struct {
	dsn    string
	logger *slog.Logger
}

// NewChangeStream creates a stream that opens its own dedicated connection.
func NewChangeStream(dsn string, logger *slog.Logger) *ChangeStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeStream{dsn: dsn, logger: logger}
}

type changePayload struct {
	Op               string `json:"op"`
	ID               string `json:"id"`
	OriginalFileName string `json:"original_file_name"`
	FileName         string `json:"file_name"`
	Status           string `json:"status"`
}

// Changes subscribes and returns the event channel. The channel closes when
// ctx is done or the connection fails; undecodable payloads are logged and
// skipped so one poison notification cannot stall the stream.
func (s *ChangeStream) Changes(ctx context.Context) (<-chan domain.ChangeEvent, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect change stream: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("listen on %s: %w", changeChannel, err)
	}

	out := make(chan domain.ChangeEvent)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())

		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("change stream terminated", "error", err)
				}
				return
			}

			var p changePayload
			if err := json.Unmarshal([]byte(notification.Payload), &p); err != nil {
				s.logger.Error("undecodable change payload",
					"payload", notification.Payload, "error", err)
				continue
			}

			ev := domain.ChangeEvent{
				Op: domain.ChangeOp(p.Op),
				Document: domain.Document{
					ID:               p.ID,
					OriginalFileName: p.OriginalFileName,
					FileName:         p.FileName,
					Status:           domain.Status(p.Status),
				},
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

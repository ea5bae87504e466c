package objectstore

import (
	"context"
	"net/url"
	"strings"

	"github.com/bull/doc-chat-server/internal/domain"
)

// Uploads streams object-created events for document content objects. The
// suffix filter matches only the canonical content key, so sidecar metadata
// writes never re-trigger ingestion. The returned channel closes when ctx
// is done or the notification stream ends.
func (s *Store) Uploads(ctx context.Context) <-chan domain.UploadEvent {
	out := make(chan domain.UploadEvent)

	infos := s.client.ListenBucketNotification(ctx, s.bucket, "", "/"+domain.DataFileName,
		[]string{"s3:ObjectCreated:*"})

	go func() {
		defer close(out)
		for info := range infos {
			if info.Err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("bucket notification stream error", "error", info.Err)
				continue
			}
			for _, record := range info.Records {
				key, err := url.QueryUnescape(record.S3.Object.Key)
				if err != nil {
					s.logger.Error("undecodable object key in notification",
						"key", record.S3.Object.Key, "error", err)
					continue
				}
				// The server-side filter already restricts to the content
				// suffix; keep the check as the contract, not the transport.
				if !strings.HasSuffix(key, "/"+domain.DataFileName) {
					continue
				}
				ev := domain.UploadEvent{Bucket: record.S3.Bucket.Name, Key: key}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

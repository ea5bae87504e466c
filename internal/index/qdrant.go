package index

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/doc-chat-server/internal/domain"
	"github.com/bull/doc-chat-server/internal/embedding"
)

const (
	// VectorDimension must match embedding.Dimension.
	VectorDimension = embedding.Dimension

	fieldFileID           = "file_id"
	fieldOriginalFileName = "original_file_name"
	fieldChunkIndex       = "chunk_index"
	fieldText             = "text"
)

// Qdrant stores and searches document chunks in a Qdrant collection, keyed
// by the owning document's file id.
type Qdrant struct {
	client     *qdrant.Client
	collection string
}

// NewQdrant connects to Qdrant over gRPC and verifies health with retry,
// failing fast when the service is unreachable.
func NewQdrant(host string, port int, collection string) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &Qdrant{client: client, collection: collection}

	if err := q.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant unreachable: %w", err)
	}
	return q, nil
}

func (q *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return q.Health(ctx)
	}, b)
}

// Health performs a single health check.
func (q *Qdrant) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the chunks collection and the file_id payload
// index if they do not exist. Idempotent.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     VectorDimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// Retrieval always filters on file_id; without this index the filter
	// degrades to a full scan.
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      fieldFileID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create file_id index: %w", err)
	}
	return nil
}

// StoredChunk is one chunk ready for upsert.
type StoredChunk struct {
	ID               string
	FileID           string
	OriginalFileName string
	ChunkIndex       int
	Text             string
	Embedding        []float32
}

// UpsertChunks writes chunks in batches of 100 with retry.
func (q *Qdrant) UpsertChunks(ctx context.Context, chunks []StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, chunk := range chunks {
		if len(chunk.Embedding) != VectorDimension {
			return fmt.Errorf("chunk %d has %d dimensions, expected %d",
				i, len(chunk.Embedding), VectorDimension)
		}
	}

	const batchSize = 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))
		batch := chunks[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, chunk := range batch {
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(chunk.ID),
				Vectors: qdrant.NewVectors(chunk.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					fieldFileID:           chunk.FileID,
					fieldOriginalFileName: chunk.OriginalFileName,
					fieldChunkIndex:       chunk.ChunkIndex,
					fieldText:             chunk.Text,
				}),
			}
		}
		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (q *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// CountByFileID returns the number of stored chunks for a document.
func (q *Qdrant) CountByFileID(ctx context.Context, fileID string) (uint64, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         fileIDFilter(fileID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count chunks for %q: %w", fileID, err)
	}
	return count, nil
}

// Search returns the top chunks for a query vector, restricted to one
// document's chunks.
func (q *Qdrant) Search(ctx context.Context, vector []float32, fileID string, limit int) ([]domain.Passage, error) {
	if len(vector) != VectorDimension {
		return nil, fmt.Errorf("query has %d dimensions, expected %d",
			len(vector), VectorDimension)
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         fileIDFilter(fileID),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks for %q: %w", fileID, err)
	}

	passages := make([]domain.Passage, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		passages = append(passages, domain.Passage{
			FileID:           payload[fieldFileID].GetStringValue(),
			OriginalFileName: payload[fieldOriginalFileName].GetStringValue(),
			ChunkIndex:       int(payload[fieldChunkIndex].GetIntegerValue()),
			Text:             payload[fieldText].GetStringValue(),
			Score:            result.Score,
		})
	}
	return passages, nil
}

// DeleteByFileID removes every chunk belonging to a document. Deleting a
// document with no chunks is a no-op.
func (q *Qdrant) DeleteByFileID(ctx context.Context, fileID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(fileIDFilter(fileID)),
	})
	if err != nil {
		return fmt.Errorf("delete chunks for %q: %w", fileID, err)
	}
	return nil
}

// Close closes the client connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

func fileIDFilter(fileID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(fieldFileID, fileID),
		},
	}
}

// Package index implements the indexing engine: asynchronous document
// ingestion into the vector index, per-document status polling, scoped
// retrieval, and deletion.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/doc-chat-server/internal/chunker"
	"github.com/bull/doc-chat-server/internal/domain"
	"github.com/bull/doc-chat-server/internal/objectstore"
)

// objectReader fetches raw object bytes for ingestion.
type objectReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// vectorIndex is the chunk storage behind the engine.
type vectorIndex interface {
	UpsertChunks(ctx context.Context, chunks []StoredChunk) error
	CountByFileID(ctx context.Context, fileID string) (uint64, error)
	Search(ctx context.Context, vector []float32, fileID string, limit int) ([]domain.Passage, error)
	DeleteByFileID(ctx context.Context, fileID string) error
}

// embedder produces vectors for chunk texts and queries.
type embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// DefaultJobTimeout bounds a single ingestion job.
const DefaultJobTimeout = 5 * time.Minute

type ingestJob struct {
	done bool
	err  error
}

// Engine implements domain.IndexingEngine. Ingest accepts a job and runs
// the chunk/embed/upsert pipeline in the background; DocumentStatus reports
// job progress, falling back to the vector index for documents ingested by
// an earlier process.
type Engine struct {
	objects    objectReader
	vectors    vectorIndex
	embedder   embedder
	chunker    *chunker.Chunker
	bucket     string
	jobTimeout time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*ingestJob // keyed by document URI
}

// NewEngine creates the engine. bucket is the documents bucket every
// ingestible URI must reference.
func NewEngine(objects objectReader, vectors vectorIndex, emb embedder, bucket string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		objects:    objects,
		vectors:    vectors,
		embedder:   emb,
		chunker:    chunker.New(),
		bucket:     bucket,
		jobTimeout: DefaultJobTimeout,
		logger:     logger,
		jobs:       make(map[string]*ingestJob),
	}
}

// Ingest validates the URIs and starts an asynchronous ingestion job.
// A malformed URI or an already-running job rejects the request; callers
// poll DocumentStatus for the outcome.
func (e *Engine) Ingest(ctx context.Context, documentURI, metadataURI string) error {
	docKey, err := objectstore.KeyFromURI(documentURI, e.bucket)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	metaKey, err := objectstore.KeyFromURI(metadataURI, e.bucket)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	e.mu.Lock()
	if job, ok := e.jobs[documentURI]; ok && !job.done {
		e.mu.Unlock()
		return fmt.Errorf("ingest: job already running for %q", documentURI)
	}
	job := &ingestJob{}
	e.jobs[documentURI] = job
	e.mu.Unlock()

	go func() {
		// The job outlives the accepting request.
		jobCtx, cancel := context.WithTimeout(context.Background(), e.jobTimeout)
		defer cancel()

		err := e.runJob(jobCtx, docKey, metaKey)

		e.mu.Lock()
		job.done = true
		job.err = err
		e.mu.Unlock()

		if err != nil {
			e.logger.Error("ingestion job failed", "documentUri", documentURI, "error", err)
		} else {
			e.logger.Info("ingestion job complete", "documentUri", documentURI)
		}
	}()

	return nil
}

func (e *Engine) runJob(ctx context.Context, docKey, metaKey string) error {
	data, err := e.objects.GetObject(ctx, docKey)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	metaRaw, err := e.objects.GetObject(ctx, metaKey)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}
	var sidecar domain.SidecarMetadata
	if err := json.Unmarshal(metaRaw, &sidecar); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	attrs := sidecar.MetadataAttributes
	if attrs.FileID == "" {
		return fmt.Errorf("metadata missing fileId")
	}

	chunks, err := e.chunker.Split(data)
	if err != nil {
		return fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document has no indexable content")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	stored := make([]StoredChunk, len(chunks))
	for i, c := range chunks {
		stored[i] = StoredChunk{
			ID:               uuid.New().String(),
			FileID:           attrs.FileID,
			OriginalFileName: attrs.OriginalFileName,
			ChunkIndex:       c.Index,
			Text:             c.Text,
			Embedding:        vectors[i],
		}
	}
	if err := e.vectors.UpsertChunks(ctx, stored); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}

// DocumentStatus reports the indexing state of a document URI. In-process
// job state takes precedence; otherwise the vector index decides between
// INDEXED and NOT_FOUND.
func (e *Engine) DocumentStatus(ctx context.Context, documentURI string) (domain.IndexStatus, error) {
	e.mu.Lock()
	job, ok := e.jobs[documentURI]
	if ok && !job.done {
		e.mu.Unlock()
		return domain.IndexStatusInProgress, nil
	}
	if ok && job.err != nil {
		e.mu.Unlock()
		return domain.IndexStatusFailed, nil
	}
	e.mu.Unlock()

	fileID, err := fileIDFromURI(documentURI, e.bucket)
	if err != nil {
		return "", fmt.Errorf("document status: %w", err)
	}
	count, err := e.vectors.CountByFileID(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("document status: %w", err)
	}
	if count > 0 {
		return domain.IndexStatusIndexed, nil
	}
	return domain.IndexStatusNotFound, nil
}

// DeleteDocument removes every chunk of the document and forgets any
// completed job. Deleting an unknown document succeeds.
func (e *Engine) DeleteDocument(ctx context.Context, documentURI string) error {
	fileID, err := fileIDFromURI(documentURI, e.bucket)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := e.vectors.DeleteByFileID(ctx, fileID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	e.mu.Lock()
	delete(e.jobs, documentURI)
	e.mu.Unlock()
	return nil
}

// Retrieve embeds the query and returns the top chunks of one document.
// The file_id filter is what keeps answers scoped to the asked document.
func (e *Engine) Retrieve(ctx context.Context, documentID, query string, limit int) ([]domain.Passage, error) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	passages, err := e.vectors.Search(ctx, vector, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return passages, nil
}

// fileIDFromURI recovers the document id from a content URI; content keys
// are always <id>/data.
func fileIDFromURI(uri, bucket string) (string, error) {
	key, err := objectstore.KeyFromURI(uri, bucket)
	if err != nil {
		return "", err
	}
	id, rest, ok := strings.Cut(key, "/")
	if !ok || id == "" || rest != domain.DataFileName {
		return "", fmt.Errorf("key %q is not a document content key", key)
	}
	return id, nil
}

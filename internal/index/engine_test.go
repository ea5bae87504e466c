package index

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/doc-chat-server/internal/domain"
)

type fakeReader struct {
	objects map[string][]byte
}

func (f *fakeReader) GetObject(_ context.Context, key string) ([]byte, error) {
	b, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

type fakeVectors struct {
	mu       sync.Mutex
	chunks   []StoredChunk
	results  []domain.Passage
	countErr error
}

func (f *fakeVectors) UpsertChunks(_ context.Context, chunks []StoredChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeVectors) CountByFileID(_ context.Context, fileID string) (uint64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n uint64
	for _, c := range f.chunks {
		if c.FileID == fileID {
			n++
		}
	}
	return n, nil
}

func (f *fakeVectors) Search(_ context.Context, _ []float32, _ string, _ int) ([]domain.Passage, error) {
	return f.results, nil
}

func (f *fakeVectors) DeleteByFileID(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.chunks[:0]
	for _, c := range f.chunks {
		if c.FileID != fileID {
			kept = append(kept, c)
		}
	}
	f.chunks = kept
	return nil
}

func (f *fakeVectors) stored() []StoredChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StoredChunk(nil), f.chunks...)
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

const testBucket = "documents"

func seededReader(id string, content string) *fakeReader {
	sidecar, _ := json.Marshal(domain.SidecarMetadata{
		MetadataAttributes: domain.MetadataAttributes{
			OriginalFileName: "notes.txt",
			FileID:           id,
		},
	})
	return &fakeReader{objects: map[string][]byte{
		domain.ObjectKey(id):   []byte(content),
		domain.MetadataKey(id): sidecar,
	}}
}

func uri(key string) string { return "s3://" + testBucket + "/" + key }

func awaitTerminal(t *testing.T, e *Engine, documentURI string) domain.IndexStatus {
	t.Helper()
	var status domain.IndexStatus
	require.Eventually(t, func() bool {
		var err error
		status, err = e.DocumentStatus(context.Background(), documentURI)
		if err != nil {
			return false
		}
		return status != domain.IndexStatusInProgress
	}, 2*time.Second, 5*time.Millisecond)
	return status
}

func TestEngineIngest_RejectsBadURI(t *testing.T) {
	e := NewEngine(&fakeReader{}, &fakeVectors{}, &fakeEmbedder{}, testBucket, nil)

	err := e.Ingest(context.Background(), "http://documents/doc-1/data", uri(domain.MetadataKey("doc-1")))
	assert.Error(t, err)

	err = e.Ingest(context.Background(), "s3://other-bucket/doc-1/data", uri(domain.MetadataKey("doc-1")))
	assert.Error(t, err)
}

func TestEngineIngest_Success(t *testing.T) {
	id := "doc-1"
	reader := seededReader(id, "# Title\n\nFirst section.\n\n## Details\n\nSecond section.\n")
	vectors := &fakeVectors{}
	e := NewEngine(reader, vectors, &fakeEmbedder{}, testBucket, nil)

	docURI := uri(domain.ObjectKey(id))
	require.NoError(t, e.Ingest(context.Background(), docURI, uri(domain.MetadataKey(id))))

	status := awaitTerminal(t, e, docURI)
	assert.Equal(t, domain.IndexStatusIndexed, status)

	stored := vectors.stored()
	require.NotEmpty(t, stored)
	for _, c := range stored {
		assert.Equal(t, id, c.FileID)
		assert.Equal(t, "notes.txt", c.OriginalFileName)
		assert.NotEmpty(t, c.Text)
		assert.NotEmpty(t, c.ID)
	}
}

func TestEngineIngest_EmbedFailureReportsFailed(t *testing.T) {
	id := "doc-2"
	reader := seededReader(id, "Some plain text content. Another sentence.")
	e := NewEngine(reader, &fakeVectors{}, &fakeEmbedder{err: errors.New("api down")}, testBucket, nil)

	docURI := uri(domain.ObjectKey(id))
	require.NoError(t, e.Ingest(context.Background(), docURI, uri(domain.MetadataKey(id))))

	status := awaitTerminal(t, e, docURI)
	assert.Equal(t, domain.IndexStatusFailed, status)
}

func TestEngineIngest_EmptyDocumentReportsFailed(t *testing.T) {
	id := "doc-3"
	reader := seededReader(id, "   \n  ")
	e := NewEngine(reader, &fakeVectors{}, &fakeEmbedder{}, testBucket, nil)

	docURI := uri(domain.ObjectKey(id))
	require.NoError(t, e.Ingest(context.Background(), docURI, uri(domain.MetadataKey(id))))

	status := awaitTerminal(t, e, docURI)
	assert.Equal(t, domain.IndexStatusFailed, status)
}

func TestEngineDocumentStatus_UnknownDocument(t *testing.T) {
	e := NewEngine(&fakeReader{}, &fakeVectors{}, &fakeEmbedder{}, testBucket, nil)

	status, err := e.DocumentStatus(context.Background(), uri(domain.ObjectKey("ghost")))
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStatusNotFound, status)
}

func TestEngineDocumentStatus_IndexedFromStore(t *testing.T) {
	// A document ingested by an earlier process has no job entry but does
	// have chunks.
	vectors := &fakeVectors{chunks: []StoredChunk{{ID: "p1", FileID: "doc-4"}}}
	e := NewEngine(&fakeReader{}, vectors, &fakeEmbedder{}, testBucket, nil)

	status, err := e.DocumentStatus(context.Background(), uri(domain.ObjectKey("doc-4")))
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStatusIndexed, status)
}

func TestEngineDeleteDocument(t *testing.T) {
	id := "doc-5"
	reader := seededReader(id, "First sentence. Second sentence.")
	vectors := &fakeVectors{}
	e := NewEngine(reader, vectors, &fakeEmbedder{}, testBucket, nil)

	docURI := uri(domain.ObjectKey(id))
	require.NoError(t, e.Ingest(context.Background(), docURI, uri(domain.MetadataKey(id))))
	require.Equal(t, domain.IndexStatusIndexed, awaitTerminal(t, e, docURI))

	require.NoError(t, e.DeleteDocument(context.Background(), docURI))

	status, err := e.DocumentStatus(context.Background(), docURI)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStatusNotFound, status)
	assert.Empty(t, vectors.stored())
}

func TestEngineRetrieve(t *testing.T) {
	vectors := &fakeVectors{results: []domain.Passage{
		{FileID: "doc-6", Text: "alpha", Score: 0.9},
	}}
	e := NewEngine(&fakeReader{}, vectors, &fakeEmbedder{}, testBucket, nil)

	passages, err := e.Retrieve(context.Background(), "doc-6", "what is alpha?", 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "alpha", passages[0].Text)
}

func TestFileIDFromURI(t *testing.T) {
	id, err := fileIDFromURI("s3://documents/abc-123/data", testBucket)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)

	_, err = fileIDFromURI("s3://documents/abc-123/data.metadata.json", testBucket)
	assert.Error(t, err)

	_, err = fileIDFromURI("s3://documents/data", testBucket)
	assert.Error(t, err)
}

package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/doc-chat-server/internal/domain"
)

type fakeObjects struct {
	mu      sync.Mutex
	meta    map[string]*domain.ObjectMetadata
	headErr error
	putErr  error
	puts    map[string]domain.MetadataAttributes
	removed []string
	rmErr   map[string]error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		meta: make(map[string]*domain.ObjectMetadata),
		puts: make(map[string]domain.MetadataAttributes),
	}
}

func (f *fakeObjects) HeadDocumentMetadata(_ context.Context, key string) (*domain.ObjectMetadata, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	m, ok := f.meta[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeObjects) PutMetadataObject(_ context.Context, key string, meta domain.MetadataAttributes) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key] = meta
	return nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, key string) error {
	if err := f.rmErr[key]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeObjects) ObjectURI(key string) string {
	return "s3://documents/" + key
}

type fakeStatus struct {
	mu        sync.Mutex
	created   []domain.Document
	createErr error
	terminal  map[string]domain.Status
	setErr    error
	deleted   []string
	delErr    error
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{terminal: make(map[string]domain.Status)}
}

func (f *fakeStatus) Create(_ context.Context, doc domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeStatus) SetTerminalStatus(_ context.Context, id string, status domain.Status) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal[id] = status
	return nil
}

func (f *fakeStatus) Delete(_ context.Context, id string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStatus) List(_ context.Context) ([]domain.Document, error) {
	return nil, nil
}

type fakeEngine struct {
	mu         sync.Mutex
	ingestErr  error
	ingested   []string
	statusSeq  []domain.IndexStatus
	statusErr  error
	deleteErr  error
	deletedURI []string
}

func (f *fakeEngine) Ingest(_ context.Context, documentURI, metadataURI string) error {
	if f.ingestErr != nil {
		return f.ingestErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, documentURI, metadataURI)
	return nil
}

func (f *fakeEngine) DocumentStatus(_ context.Context, _ string) (domain.IndexStatus, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusSeq) == 0 {
		return domain.IndexStatusInProgress, nil
	}
	s := f.statusSeq[0]
	if len(f.statusSeq) > 1 {
		f.statusSeq = f.statusSeq[1:]
	}
	return s, nil
}

func (f *fakeEngine) DeleteDocument(_ context.Context, documentURI string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedURI = append(f.deletedURI, documentURI)
	return nil
}

func (f *fakeEngine) Retrieve(_ context.Context, _, _ string, _ int) ([]domain.Passage, error) {
	return nil, nil
}

func testEvent() (domain.UploadEvent, *domain.ObjectMetadata) {
	id := "0198b2c0-0000-7000-8000-000000000001"
	return domain.UploadEvent{Bucket: "documents", Key: domain.ObjectKey(id)},
		&domain.ObjectMetadata{ID: id, OriginalFileName: "notes.txt", FileName: domain.DataFileName}
}

func TestIngestionRun_Success(t *testing.T) {
	ev, meta := testEvent()
	objects := newFakeObjects()
	objects.meta[ev.Key] = meta
	status := newFakeStatus()
	engine := &fakeEngine{statusSeq: []domain.IndexStatus{
		domain.IndexStatusInProgress,
		domain.IndexStatusIndexed,
	}}

	w := NewIngestion(objects, status, engine, time.Millisecond, time.Second, nil)
	require.NoError(t, w.Run(context.Background(), ev))

	sidecar, ok := objects.puts[ev.Key+domain.MetadataSuffix]
	require.True(t, ok, "sidecar metadata must be written")
	assert.Equal(t, meta.ID, sidecar.FileID)
	assert.Equal(t, "notes.txt", sidecar.OriginalFileName)

	require.Len(t, status.created, 1)
	assert.Equal(t, domain.StatusPending, status.created[0].Status)
	assert.Equal(t, meta.ID, status.created[0].ID)

	assert.Equal(t, domain.StatusReady, status.terminal[meta.ID])

	require.Len(t, engine.ingested, 2)
	assert.Equal(t, "s3://documents/"+ev.Key, engine.ingested[0])
	assert.Equal(t, "s3://documents/"+ev.Key+domain.MetadataSuffix, engine.ingested[1])
}

func TestIngestionRun_RejectsObjectWithoutMetadata(t *testing.T) {
	ev, _ := testEvent()
	objects := newFakeObjects()
	objects.headErr = domain.ErrMissingMetadata
	status := newFakeStatus()
	engine := &fakeEngine{}

	w := NewIngestion(objects, status, engine, time.Millisecond, time.Second, nil)
	err := w.Run(context.Background(), ev)

	require.ErrorIs(t, err, domain.ErrMissingMetadata)
	assert.Empty(t, status.created, "no status record for unauthorized upload")
	assert.Empty(t, status.terminal)
	assert.Empty(t, engine.ingested)
}

func TestIngestionRun_PrepareFailureMarksFailed(t *testing.T) {
	ev, meta := testEvent()
	objects := newFakeObjects()
	objects.meta[ev.Key] = meta
	objects.putErr = errors.New("store down")
	status := newFakeStatus()
	engine := &fakeEngine{}

	w := NewIngestion(objects, status, engine, time.Millisecond, time.Second, nil)
	err := w.Run(context.Background(), ev)

	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status.terminal[meta.ID])
	assert.Empty(t, engine.ingested)
}

func TestIngestionRun_IndexingFailureMarksFailed(t *testing.T) {
	ev, meta := testEvent()
	objects := newFakeObjects()
	objects.meta[ev.Key] = meta
	status := newFakeStatus()
	engine := &fakeEngine{statusSeq: []domain.IndexStatus{domain.IndexStatusFailed}}

	w := NewIngestion(objects, status, engine, time.Millisecond, time.Second, nil)
	err := w.Run(context.Background(), ev)

	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status.terminal[meta.ID])
}

func TestIngestionRun_PollTimeoutMarksFailed(t *testing.T) {
	ev, meta := testEvent()
	objects := newFakeObjects()
	objects.meta[ev.Key] = meta
	status := newFakeStatus()
	// Engine never reaches a terminal state.
	engine := &fakeEngine{}

	w := NewIngestion(objects, status, engine, time.Millisecond, 30*time.Millisecond, nil)
	err := w.Run(context.Background(), ev)

	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status.terminal[meta.ID])
}

func TestIngestionRun_LostRaceWithDeletionIsNotAnError(t *testing.T) {
	ev, meta := testEvent()
	objects := newFakeObjects()
	objects.meta[ev.Key] = meta
	status := newFakeStatus()
	status.setErr = domain.ErrConditionFailed
	engine := &fakeEngine{statusSeq: []domain.IndexStatus{domain.IndexStatusIndexed}}

	w := NewIngestion(objects, status, engine, time.Millisecond, time.Second, nil)
	require.NoError(t, w.Run(context.Background(), ev))

	assert.Empty(t, status.terminal, "record already resolved, no transition recorded")
}

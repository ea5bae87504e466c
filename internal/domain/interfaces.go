package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that a record or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConditionFailed reports that a conditional status update found no
	// row matching its condition. A terminal update that loses a race with
	// deletion lands here; callers treat it as already resolved.
	ErrConditionFailed = errors.New("condition failed")

	// ErrMissingMetadata reports that an uploaded object lacks the bound
	// user metadata, meaning it bypassed the upload URL issuer.
	ErrMissingMetadata = errors.New("object metadata missing or malformed")
)

// ObjectMetadata is the user metadata attached to a content object at
// upload time by the presigned POST policy.
type ObjectMetadata struct {
	ID               string
	OriginalFileName string
	FileName         string
}

// UploadCredential is a scoped, time-limited write credential for the
// object store. Fields must be submitted verbatim with the upload form.
type UploadCredential struct {
	URL        string            `json:"url"`
	Fields     map[string]string `json:"fields"`
	DocumentID string            `json:"documentId"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// ObjectStore is the object-storage capability used by the workflows.
type ObjectStore interface {
	// HeadDocumentMetadata reads the user metadata of a content object.
	// Returns ErrMissingMetadata when any required field is absent.
	HeadDocumentMetadata(ctx context.Context, key string) (*ObjectMetadata, error)

	// PutMetadataObject writes the sidecar metadata object at key.
	PutMetadataObject(ctx context.Context, key string, meta MetadataAttributes) error

	// RemoveObject deletes an object. Removing a missing object is not an
	// error.
	RemoveObject(ctx context.Context, key string) error

	// ObjectURI returns the storage URI for a key, as understood by the
	// indexing engine.
	ObjectURI(key string) string
}

// UploadURLIssuer mints upload credentials bound to a fresh document id.
type UploadURLIssuer interface {
	IssueUploadURL(ctx context.Context, name string, size int64) (*UploadCredential, error)
}

// StatusStore is the durable per-document status record store.
type StatusStore interface {
	// Create inserts a new record; the record starts PENDING.
	Create(ctx context.Context, doc Document) error

	// SetTerminalStatus moves a PENDING record to READY or FAILED.
	// Returns ErrConditionFailed when the record is absent or already
	// terminal.
	SetTerminalStatus(ctx context.Context, id string, status Status) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all records.
	List(ctx context.Context) ([]Document, error)
}

// ChangeStream yields one event per status store mutation, in per-key
// mutation order. The channel closes when ctx is done or the stream fails.
type ChangeStream interface {
	Changes(ctx context.Context) (<-chan ChangeEvent, error)
}

// IndexStatus is the indexing engine's view of one document.
type IndexStatus string

const (
	IndexStatusInProgress IndexStatus = "IN_PROGRESS"
	IndexStatusIndexed    IndexStatus = "INDEXED"
	IndexStatusFailed     IndexStatus = "FAILED"
	IndexStatusNotFound   IndexStatus = "NOT_FOUND"
)

// Passage is one retrieved chunk of an indexed document.
type Passage struct {
	FileID           string
	OriginalFileName string
	ChunkIndex       int
	Text             string
	Score            float32
}

// IndexingEngine is the ingest/query contract of the vector-search backend.
// Ingest starts an asynchronous job; callers poll DocumentStatus until a
// terminal state is observed.
type IndexingEngine interface {
	Ingest(ctx context.Context, documentURI, metadataURI string) error
	DocumentStatus(ctx context.Context, documentURI string) (IndexStatus, error)
	DeleteDocument(ctx context.Context, documentURI string) error
	Retrieve(ctx context.Context, documentID, query string, limit int) ([]Passage, error)
}

// Publisher delivers a message to a named pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

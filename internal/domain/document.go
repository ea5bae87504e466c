// Package domain holds the document model and the narrow capability
// interfaces the workflows are built against.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a document's status record.
// Transitions are monotonic: PENDING moves to exactly one of READY or FAILED.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusReady   Status = "READY"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

const (
	// DataFileName is the canonical storage name for document content.
	// The storage key structure never depends on the user-supplied name.
	DataFileName = "data"

	// MetadataSuffix is appended to the content key for the sidecar
	// metadata object consumed by the indexing engine.
	MetadataSuffix = ".metadata.json"
)

// Document is the status record persisted for each uploaded document.
type Document struct {
	ID               string `json:"id"`
	OriginalFileName string `json:"originalFileName"`
	FileName         string `json:"fileName"`
	Status           Status `json:"status"`
}

// NewDocumentID generates a time-ordered document identifier. UUIDv7 keeps
// list output roughly sorted by upload time.
func NewDocumentID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate document id: %w", err)
	}
	return id.String(), nil
}

// ObjectKey returns the content object key for a document id.
func ObjectKey(id string) string {
	return id + "/" + DataFileName
}

// MetadataKey returns the sidecar metadata object key for a document id.
func MetadataKey(id string) string {
	return ObjectKey(id) + MetadataSuffix
}

// MetadataAttributes is the body of the sidecar metadata object. The
// indexing engine associates these attributes with every chunk it stores,
// which is what makes per-document retrieval filtering possible.
type MetadataAttributes struct {
	OriginalFileName string `json:"originalFileName"`
	FileID           string `json:"fileId"`
}

// SidecarMetadata is the JSON envelope of the sidecar object.
type SidecarMetadata struct {
	MetadataAttributes MetadataAttributes `json:"metadataAttributes"`
}

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr: got %q", cfg.HTTPAddr)
	}
	if cfg.Bucket != "documents" {
		t.Errorf("Bucket: got %q", cfg.Bucket)
	}
	if cfg.QdrantPort != 6334 {
		t.Errorf("QdrantPort: got %d", cfg.QdrantPort)
	}
	if cfg.IngestPollInterval != 5*time.Second {
		t.Errorf("IngestPollInterval: got %v", cfg.IngestPollInterval)
	}
	if cfg.RetrieveLimit != 5 {
		t.Errorf("RetrieveLimit: got %d", cfg.RetrieveLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("DOCUMENTS_BUCKET", "uploads")
	t.Setenv("INGEST_POLL_INTERVAL", "250ms")
	t.Setenv("RETRIEVE_LIMIT", "8")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("HTTPAddr: got %q", cfg.HTTPAddr)
	}
	if cfg.Bucket != "uploads" {
		t.Errorf("Bucket: got %q", cfg.Bucket)
	}
	if cfg.IngestPollInterval != 250*time.Millisecond {
		t.Errorf("IngestPollInterval: got %v", cfg.IngestPollInterval)
	}
	if cfg.RetrieveLimit != 8 {
		t.Errorf("RetrieveLimit: got %d", cfg.RetrieveLimit)
	}
	if !cfg.MinioUseSSL {
		t.Errorf("MinioUseSSL: expected true")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("QDRANT_PORT", "not-a-number")
	t.Setenv("INGEST_TIMEOUT", "soon")

	cfg := Load()

	if cfg.QdrantPort != 6334 {
		t.Errorf("QdrantPort: expected default, got %d", cfg.QdrantPort)
	}
	if cfg.IngestTimeout != 5*time.Minute {
		t.Errorf("IngestTimeout: expected default, got %v", cfg.IngestTimeout)
	}
}

package models

import (
	"database/sql/driver"
	"time"
)

const UnknownSource = "unknown"

// Metadata is the free-form provenance of an embedded chunk.
// It carries at least "source" and "loc".
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return jsonValue(map[string]any(m))
}

func (m *Metadata) Scan(src any) error { return scanJSON(src, m) }

// Source returns metadata["source"] as a string, or "" when absent.
func (m Metadata) Source() string {
	if m == nil {
		return ""
	}
	s, _ := m["source"].(string)
	return s
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EmbeddingRecord is one chunk of a bot knowledge base with its embedding vector
type EmbeddingRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
	BotID     string    `json:"bot_id"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SimilarityResult is a query-time view of a record, never persisted
type SimilarityResult struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
	Similarity float64  `json:"similarity"`
}

// EmbeddingItem is the unit of ingestion fed to a batch store
type EmbeddingItem struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
}

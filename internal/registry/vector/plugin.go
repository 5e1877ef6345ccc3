package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Payload keys the ingestion engine writes alongside every point.
const (
	PayloadData          = "data"
	PayloadHash          = "hash"
	PayloadUserID        = "user_id"
	PayloadCreatedAt     = "created_at"
	PayloadUpdatedAt     = "updated_at"
	PayloadAttachmentIDs = "attachment_ids"
)

// Point is a single stored vector with its payload. Score is only populated
// on search results.
type Point struct {
	ID      uuid.UUID
	Score   float32
	Vector  []float32
	Payload map[string]interface{}
}

// VectorStore is the gateway to the semantic index. The payload carried with
// each point is the authoritative copy of the memory text and its
// service-managed metadata on the vector side.
//
// Filters use a small common language: a plain value means equality, a list
// means "any of", and a map with "gte"/"lte" bounds a numeric or datetime
// range (datetimes normalize to unix seconds).
type VectorStore interface {
	Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload map[string]interface{}) error
	Search(ctx context.Context, vector []float32, limit int, filters map[string]interface{}) ([]Point, error)
	Get(ctx context.Context, id uuid.UUID) (*Point, error)
	// Delete removes a point. Deleting a missing point is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant", "pgvector").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}

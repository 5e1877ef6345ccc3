// Package engine implements the memory pipeline: LLM-driven ingestion with
// merge decisions, semantic search with ACL filtering, and the lifecycle
// operations over the dual store (relational metadata plus vector index).
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/openmem/openmem/internal/acl"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/llm"
	"github.com/openmem/openmem/internal/model"
	registrycache "github.com/openmem/openmem/internal/registry/cache"
	registryembed "github.com/openmem/openmem/internal/registry/embed"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
)

// Engine wires the stores and model providers into the memory pipeline.
// Vector, embedder and orchestrator may be nil: without them ingestion
// degrades to the verbatim fast path and semantic search is unavailable.
type Engine struct {
	store        registrystore.MetadataStore
	vector       registryvector.VectorStore
	embedder     registryembed.Embedder
	orchestrator *llm.Orchestrator
	cache        registrycache.QueryEmbeddingCache
	settings     *config.SettingsService
	acl          *acl.Evaluator
	cfg          *config.Config
}

// Options carries the Engine's collaborators.
type Options struct {
	Store        registrystore.MetadataStore
	Vector       registryvector.VectorStore
	Embedder     registryembed.Embedder
	Orchestrator *llm.Orchestrator
	Cache        registrycache.QueryEmbeddingCache
	Settings     *config.SettingsService
	Config       *config.Config
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{
		store:        opts.Store,
		vector:       opts.Vector,
		embedder:     opts.Embedder,
		orchestrator: opts.Orchestrator,
		cache:        opts.Cache,
		settings:     opts.Settings,
		acl:          acl.NewEvaluator(opts.Store),
		cfg:          opts.Config,
	}
}

// currentSettings returns the persisted runtime settings, or the zero
// document when no settings service is wired.
func (e *Engine) currentSettings(ctx context.Context) *config.Settings {
	if e.settings == nil {
		return &config.Settings{}
	}
	s, err := e.settings.Get(ctx)
	if err != nil || s == nil {
		return &config.Settings{}
	}
	return s
}

// resolveIdentity upserts the (user, app) pair and rejects paused apps.
func (e *Engine) resolveIdentity(ctx context.Context, userID, appName string) (*model.User, *model.App, error) {
	user, app, err := e.store.GetOrCreateUserAndApp(ctx, userID, appName)
	if err != nil {
		return nil, nil, err
	}
	if !app.IsActive {
		return nil, nil, &registrystore.ForbiddenError{
			Message: "app " + app.Name + " is currently paused, cannot create new memories",
		}
	}
	return user, app, nil
}

// contentHash is the payload hash written alongside every vector point.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// vectorPayload builds the point payload for a memory: caller metadata plus
// the service-managed keys, with attachment IDs normalized to the plural key.
func vectorPayload(text, userID string, meta model.Metadata, createdAt, updatedAt int64) map[string]interface{} {
	payload := map[string]interface{}{}
	for k, v := range meta.WithoutAttachmentIDs() {
		payload[k] = v
	}
	payload[registryvector.PayloadData] = text
	payload[registryvector.PayloadHash] = contentHash(text)
	payload[registryvector.PayloadUserID] = userID
	payload[registryvector.PayloadCreatedAt] = createdAt
	if updatedAt > 0 {
		payload[registryvector.PayloadUpdatedAt] = updatedAt
	}
	if ids := meta.AttachmentIDs(); len(ids) > 0 {
		payload[registryvector.PayloadAttachmentIDs] = ids
	}
	return payload
}

// payloadAttachmentIDs reads the attachment_ids list from a vector payload.
func payloadAttachmentIDs(payload map[string]interface{}) []string {
	meta := model.Metadata{}
	if v, ok := payload[registryvector.PayloadAttachmentIDs]; ok {
		meta[model.MetaAttachmentIDs] = v
	}
	return meta.AttachmentIDs()
}

// embedText embeds a single text, consulting the query cache when available.
func (e *Engine) embedText(ctx context.Context, text string, cacheable bool) ([]float32, error) {
	modelName := e.embedder.ModelName()
	if cacheable && e.cache != nil && e.cache.Available() {
		if cached, err := e.cache.Get(ctx, modelName, text); err == nil && cached != nil {
			observeCacheHit()
			return cached, nil
		}
		observeCacheMiss()
	}
	vectors, err := e.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, &registrystore.UnavailableError{Dependency: "embedder", Err: err}
	}
	if len(vectors) != 1 {
		return nil, &registrystore.UnavailableError{Dependency: "embedder"}
	}
	if cacheable && e.cache != nil && e.cache.Available() {
		ttl := e.cfg.CacheQueryTTL
		_ = e.cache.Set(ctx, modelName, text, vectors[0], ttl)
	}
	return vectors[0], nil
}

package config

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Settings is the runtime-tunable configuration document. It is persisted in
// the metadata store and can be changed through the config API without a
// restart; the ingestion engine re-reads it on every request.
type Settings struct {
	// CustomInstructions overrides the fact extraction system prompt.
	CustomInstructions string `json:"custom_instructions,omitempty"`
	// CustomUpdateMemoryPrompt overrides the memory merge decision prompt.
	CustomUpdateMemoryPrompt string `json:"custom_update_memory_prompt,omitempty"`
	// AttachmentIDsShowDefault controls whether search results include
	// attachment_ids when the request does not say either way.
	AttachmentIDsShowDefault bool `json:"attachment_ids_show_default,omitempty"`
	// DefaultInfer, DefaultExtract and DefaultDeduplicate supply the
	// process-wide defaults for the corresponding add-request flags. Nil
	// means "not configured", which reads as true.
	DefaultInfer       *bool `json:"default_infer,omitempty"`
	DefaultExtract     *bool `json:"default_extract,omitempty"`
	DefaultDeduplicate *bool `json:"default_deduplicate,omitempty"`
}

// InferDefault returns the configured default for the infer flag.
func (s *Settings) InferDefault() bool {
	return s.DefaultInfer == nil || *s.DefaultInfer
}

// ExtractDefault returns the configured default for the extract flag.
func (s *Settings) ExtractDefault() bool {
	return s.DefaultExtract == nil || *s.DefaultExtract
}

// DeduplicateDefault returns the configured default for the deduplicate flag.
func (s *Settings) DeduplicateDefault() bool {
	return s.DefaultDeduplicate == nil || *s.DefaultDeduplicate
}

// SettingsStore persists the settings document. Implemented by the metadata
// store; kept narrow here so this package does not depend on the store layer.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error
}

const settingsCacheKey = "settings"

// SettingsService reads and writes the persisted Settings with a short-TTL
// in-process cache in front, so per-request reads stay off the database while
// edits still take effect within a couple of seconds on every replica.
type SettingsService struct {
	store SettingsStore
	cache *ristretto.Cache[string, *Settings]
	ttl   time.Duration
	mu    sync.Mutex
}

// NewSettingsService creates a SettingsService backed by the given store.
func NewSettingsService(store SettingsStore) (*SettingsService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Settings]{
		NumCounters: 64,
		MaxCost:     8,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SettingsService{
		store: store,
		cache: cache,
		ttl:   2 * time.Second,
	}, nil
}

// Get returns the current settings, served from cache when fresh.
// A missing settings row yields the zero-value document.
func (s *SettingsService) Get(ctx context.Context) (*Settings, error) {
	if cached, ok := s.cache.Get(settingsCacheKey); ok {
		return cached, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache.Get(settingsCacheKey); ok {
		return cached, nil
	}
	loaded, err := s.store.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = &Settings{}
	}
	s.cache.SetWithTTL(settingsCacheKey, loaded, 1, s.ttl)
	s.cache.Wait()
	return loaded, nil
}

// Put persists new settings and drops the cached copy.
func (s *SettingsService) Put(ctx context.Context, settings *Settings) error {
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return err
	}
	s.cache.Del(settingsCacheKey)
	return nil
}

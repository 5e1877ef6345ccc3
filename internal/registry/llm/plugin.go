package llm

import (
	"context"
	"fmt"
)

// Message is a single chat message sent to the provider.
type Message struct {
	Role    string
	Content string
}

// Chat message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Provider is a chat-completion backend used by the ingestion engine for
// fact extraction and merge decisions. Implementations bound their own
// concurrency; callers may issue requests freely.
type Provider interface {
	// Complete sends the messages and returns the assistant's reply text.
	Complete(ctx context.Context, messages []Message) (string, error)
	// Name returns the plugin name (e.g. "openai").
	Name() string
}

// Loader creates a Provider from config.
type Loader func(ctx context.Context) (Provider, error)

// Plugin represents an LLM provider plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an LLM provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered LLM provider plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named LLM provider plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown llm provider %q; valid: %v", name, Names())
}

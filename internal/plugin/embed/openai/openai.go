package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openmem/openmem/internal/config"
	registryembed "github.com/openmem/openmem/internal/registry/embed"
	goopenai "github.com/sashabaranov/go-openai"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai embedder: OPENMEM_OPENAI_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.OpenAIAPIKey)
	if base := strings.TrimRight(cfg.OpenAIBaseURL, "/"); base != "" {
		clientCfg.BaseURL = base
	}
	dim := cfg.OpenAIDimensions
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{
		client:     goopenai.NewClientWithConfig(clientCfg),
		model:      cfg.OpenAIModelName,
		dimensions: cfg.OpenAIDimensions,
		defaultDim: dim,
	}, nil
}

type OpenAIEmbedder struct {
	client     *goopenai.Client
	model      string
	dimensions int
	defaultDim int
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.defaultDim
}

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	req := goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embed request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API may return results in any order; sort by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("openai embed: result index %d out of range", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

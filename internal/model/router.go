package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/hibiki/internal/config"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model/contract"
	anthropicProvider "github.com/harunnryd/hibiki/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/hibiki/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/hibiki/internal/model/providers/openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// DefaultRouter implements the Router interface over the configured registry.
type DefaultRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRouter creates a router with one provider per registry entry.
func NewRouter(cfg config.ModelsConfig) (*DefaultRouter, error) {
	router := &DefaultRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}

	if err := router.initProviders(); err != nil {
		return nil, err
	}

	return router, nil
}

// Route routes a completion request to the provider registered for model.
func (r *DefaultRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	traceID := logger.GetTraceID(ctx)

	slog.Debug("Routing completion request", "model", model, "trace_id", traceID)

	provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Generate(ctx, req)
	if err != nil {
		slog.Error("Provider request failed", "model", model, "error", err, "trace_id", traceID)
		return nil, hibikiErrors.Wrap(err, "provider request failed")
	}

	return resp, nil
}

// RouteEmbedding routes an embedding request, trying the requested model
// first and then any other embedding-capable registry entry.
func (r *DefaultRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	traceID := logger.GetTraceID(ctx)

	var lastErr error
	for _, tryModel := range r.embeddingTryOrder(model) {
		select {
		case <-ctx.Done():
			return nil, hibikiErrors.Wrap(ctx.Err(), "embedding request cancelled")
		default:
		}

		r.mu.RLock()
		provider, exists := r.providers[tryModel]
		r.mu.RUnlock()
		if !exists {
			continue
		}

		embeddings, err := provider.Embed(ctx, text)
		if err == nil {
			slog.Debug("Embedding completed", "model", tryModel, "trace_id", traceID)
			return embeddings, nil
		}

		if isEmbeddingUnsupported(err) {
			continue
		}

		lastErr = err
		slog.Warn("Embedding failed for model, trying next", "model", tryModel, "error", err, "trace_id", traceID)
	}

	if lastErr != nil {
		return nil, hibikiErrors.Wrap(lastErr, "embedding failed")
	}

	return nil, hibikiErrors.NotFound("no embedding-capable model configured")
}

func (r *DefaultRouter) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.providers)+2)
	order := make([]string, 0, len(r.providers)+2)

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(requestedModel)
	appendUnique(r.cfg.Embedding)

	registered := make([]string, 0, len(r.providers))
	for name := range r.providers {
		registered = append(registered, name)
	}
	sort.Strings(registered)

	for _, name := range registered {
		appendUnique(name)
	}

	return order
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "embeddings not implemented")
}

// ListModels returns all registered model names
func (r *DefaultRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)

	return models
}

// Health checks the health of the router and its providers
func (r *DefaultRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return hibikiErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

func (r *DefaultRouter) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := r.createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Info("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return hibikiErrors.Internal("no providers initialized")
	}

	return nil
}

func (r *DefaultRouter) resolveProvider(ctx context.Context, model string) (Provider, error) {
	select {
	case <-ctx.Done():
		return nil, hibikiErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	provider, exists := r.providers[model]
	r.mu.RUnlock()

	if !exists {
		return nil, hibikiErrors.NotFound(fmt.Sprintf("model %s not found", model))
	}

	return provider, nil
}

func (r *DefaultRouter) createProvider(entry config.ModelRegistry) (Provider, error) {
	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}

		if entry.APIKey == "" {
			return nil, hibikiErrors.InvalidInput("API key required for OpenAI provider")
		}

		return &ProviderAdapter{
			provider:     openaiProvider.New(entry.APIKey, baseURL, entry.Name),
			name:         entry.Name,
			providerType: "openai",
		}, nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, hibikiErrors.InvalidInput("API key required for Anthropic provider")
		}

		return &ProviderAdapter{
			provider:     anthropicProvider.New(entry.APIKey),
			name:         entry.Name,
			providerType: "anthropic",
		}, nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, hibikiErrors.InvalidInput("API key required for Gemini provider")
		}

		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, hibikiErrors.Wrap(err, "failed to create Gemini provider")
		}

		return &ProviderAdapter{
			provider:     provider,
			name:         entry.Name,
			providerType: "gemini",
		}, nil

	default:
		return nil, hibikiErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}

package main

import (
	"fmt"

	"github.com/harunnryd/hibiki/internal/agent"
	"github.com/harunnryd/hibiki/internal/backend"
	"github.com/harunnryd/hibiki/internal/chat"
	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/index"
	"github.com/harunnryd/hibiki/internal/model"
	"github.com/harunnryd/hibiki/internal/tool"
	"github.com/harunnryd/hibiki/internal/tool/kb"
)

// components wires the full turn pipeline: backend gateway, model router,
// tool catalog, agent runtime, and the stream orchestrator.
type components struct {
	gateway      *backend.Client
	router       *model.DefaultRouter
	catalog      *tool.Catalog
	runner       *tool.Runner
	runtime      *agent.Runtime
	orchestrator *chat.Orchestrator
	index        *index.Index // nil unless semantic.mode is "local"
}

func buildComponents(cfg *config.Config) (*components, error) {
	backendTimeout, err := config.DurationOrDefault(cfg.Backend.Timeout, config.DefaultBackendTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse backend timeout: %w", err)
	}
	gateway := backend.NewClient(cfg.Backend.BaseURL, backendTimeout)

	router, err := model.NewRouter(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("init model router: %w", err)
	}

	var semanticIndex *index.Index
	if cfg.Semantic.Mode == kb.SemanticModeLocal {
		semanticIndex, err = index.New(cfg.Semantic.IndexPath, gateway, router, cfg.Models.Embedding)
		if err != nil {
			return nil, fmt.Errorf("init semantic index: %w", err)
		}
	}

	catalog := buildCatalog(gateway, semanticIndex, cfg.Semantic.Mode)
	runner := tool.NewRunner(catalog)
	runtime := agent.NewRuntime(router, cfg.Models.Default, runner, "", cfg.Agent.MaxSteps)
	orchestrator := chat.NewOrchestrator(gateway, runtime, cfg.Agent.SystemPrompt)

	return &components{
		gateway:      gateway,
		router:       router,
		catalog:      catalog,
		runner:       runner,
		runtime:      runtime,
		orchestrator: orchestrator,
		index:        semanticIndex,
	}, nil
}

// buildCatalog registers the knowledge-base tools in presentation order:
// the primary search first, discovery helpers after.
func buildCatalog(gateway *backend.Client, semanticIndex *index.Index, semanticMode string) *tool.Catalog {
	catalog := tool.NewCatalog()

	search := &kb.SearchTool{Gateway: gateway}
	catalog.Register(search)
	catalog.Register(&kb.TopicsTool{Gateway: gateway})

	semantic := &kb.SemanticSearchTool{
		Gateway:  gateway,
		Mode:     semanticMode,
		Fallback: search,
	}
	if semanticIndex != nil {
		semantic.Index = semanticIndex
	}
	catalog.Register(semantic)

	catalog.Register(&kb.FetchTool{Gateway: gateway})
	return catalog
}

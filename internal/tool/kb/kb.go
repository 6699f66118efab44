// Package kb exposes the knowledge-base tools the agent can call.
package kb

import (
	"context"

	"github.com/harunnryd/hibiki/internal/backend"
)

// Gateway is the backend surface the knowledge-base tools depend on.
type Gateway interface {
	SearchQA(ctx context.Context, query string, limit int) (*backend.SearchQAResponse, error)
	SemanticSearchQA(ctx context.Context, query string, topK int) (*backend.SemanticSearchResponse, error)
	GetQAByIDs(ctx context.Context, ids []string) (*backend.GetQAByIDsResponse, error)
}

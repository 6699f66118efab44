package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model/contract"
)

// Runner executes catalog tools on behalf of the agent loop.
type Runner struct {
	catalog *Catalog
}

func NewRunner(catalog *Catalog) *Runner {
	return &Runner{catalog: catalog}
}

func (r *Runner) Descriptors() []contract.ToolDef {
	if r == nil || r.catalog == nil {
		return nil
	}
	return r.catalog.Descriptors()
}

// Invoke runs the named tool and always returns result text. Unknown tools,
// unmarshalable input, and execution errors all surface as text the model
// can read and recover from; nothing escapes as an error.
func (r *Runner) Invoke(ctx context.Context, toolName string, input json.RawMessage) string {
	name := normalizeToolName(toolName)
	t, ok := r.catalog.Get(name)
	if !ok {
		slog.Warn("Unknown tool requested", "tool", name, "trace_id", logger.GetTraceID(ctx))
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	start := time.Now()
	traceID := logger.GetTraceID(ctx)
	slog.Info("Executing tool", "tool", name, "trace_id", traceID)

	result, err := t.Execute(ctx, input)

	duration := time.Since(start)
	if err != nil {
		slog.Error("Tool execution failed", "tool", name, "error", err, "duration", duration, "trace_id", traceID)
		return fmt.Sprintf("Error executing tool %s: %v", name, err)
	}

	slog.Info("Tool execution success", "tool", name, "duration", duration, "trace_id", traceID)
	return result
}

package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/harunnryd/hibiki/internal/config"
	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/logger"
	"github.com/harunnryd/hibiki/internal/model"
	"github.com/harunnryd/hibiki/internal/model/contract"
)

// Tools is the catalog surface the runtime calls into. Invoke never fails;
// tool trouble comes back as text the model can react to.
type Tools interface {
	Descriptors() []contract.ToolDef
	Invoke(ctx context.Context, name string, input json.RawMessage) string
}

// Runtime drives the reason-act loop for one turn at a time.
type Runtime struct {
	router       model.Router
	model        string
	tools        Tools
	systemPrompt string
	maxSteps     int
}

func NewRuntime(router model.Router, modelName string, tools Tools, systemPrompt string, maxSteps int) *Runtime {
	if maxSteps <= 0 {
		maxSteps = config.DefaultAgentMaxSteps
	}
	return &Runtime{
		router:       router,
		model:        modelName,
		tools:        tools,
		systemPrompt: systemPrompt,
		maxSteps:     maxSteps,
	}
}

// Run executes one turn over the given history and streams events until the
// turn ends, fails, or ctx is cancelled. The returned channel is closed when
// the turn is over; a Runtime run is not restartable.
func (r *Runtime) Run(ctx context.Context, history []contract.Message) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		msgs := make([]contract.Message, 0, len(history)+1)
		if r.systemPrompt != "" {
			msgs = append(msgs, contract.Message{Role: contract.RoleSystem, Content: r.systemPrompt})
		}
		msgs = append(msgs, history...)

		defs := r.tools.Descriptors()
		traceID := logger.GetTraceID(ctx)

		for step := 0; step < r.maxSteps; step++ {
			resp, err := r.router.Route(ctx, r.model, contract.CompletionRequest{
				Model:    r.model,
				Messages: msgs,
				Tools:    defs,
			})
			if err != nil {
				slog.Error("Model call failed", "step", step+1, "error", err, "trace_id", traceID)
				emit(Event{Kind: EventError, Err: err})
				return
			}

			if resp.Content != "" {
				if !emit(Event{Kind: EventContentDelta, Content: resp.Content}) {
					return
				}
			}

			if len(resp.ToolCalls) == 0 {
				emit(Event{Kind: EventTurnEnded})
				return
			}

			msgs = append(msgs, contract.Message{
				Role:      contract.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})

			for _, call := range resp.ToolCalls {
				if !emit(Event{Kind: EventToolStarted, ToolName: call.Name, ToolInput: call.Input}) {
					return
				}

				output := r.tools.Invoke(ctx, call.Name, json.RawMessage(call.Input))

				if !emit(Event{Kind: EventToolFinished, ToolName: call.Name, ToolOutput: output}) {
					return
				}

				msgs = append(msgs, contract.Message{
					Role:       contract.RoleTool,
					Content:    output,
					ToolCallID: call.ID,
				})
			}
		}

		slog.Warn("Turn hit step ceiling", "max_steps", r.maxSteps, "trace_id", traceID)
		emit(Event{Kind: EventError, Err: hibikiErrors.Internal("max agent steps reached")})
	}()

	return out
}

package tool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/harunnryd/hibiki/internal/model/contract"
)

// Tool represents an executable capability exposed to the agent.
//
// Execute returns human-readable result text. Implementations are expected
// to translate their own failures into text as well; an error return is
// reserved for genuinely unexpected conditions and is absorbed by Invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Catalog holds all available tools in registration order.
type Catalog struct {
	tools map[string]Tool
	order []string
}

func NewCatalog() *Catalog {
	return &Catalog{
		tools: make(map[string]Tool),
	}
}

func (c *Catalog) Register(t Tool) {
	name := normalizeToolName(t.Name())
	if name == "" {
		panic("tool: empty tool name")
	}
	if _, exists := c.tools[name]; !exists {
		c.order = append(c.order, name)
	}
	c.tools[name] = t
}

func (c *Catalog) Get(name string) (Tool, bool) {
	t, ok := c.tools[normalizeToolName(name)]
	return t, ok
}

// Descriptors returns tool definitions in registration order, which is the
// order they are presented to the model.
func (c *Catalog) Descriptors() []contract.ToolDef {
	defs := make([]contract.ToolDef, 0, len(c.order))
	for _, name := range c.order {
		t := c.tools[name]
		defs = append(defs, contract.ToolDef{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func normalizeToolName(name string) string {
	return strings.TrimSpace(name)
}

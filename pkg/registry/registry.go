package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/session"
)

// Handler is the function signature for tool execution. Input has already
// been validated against the tool's input schema when a handler runs.
type Handler func(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error)

// Tool is a registered capability.
type Tool struct {
	ID          string         `json:"id"` // dotted, globally unique, e.g. "vpm.cell.payment.execute"
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Layer       protocol.Layer     `json:"layer"`
	Risk        protocol.RiskLevel `json:"risk"`
	Domain      string             `json:"domain"`

	// JSON Schema documents. Nil means "accept anything" (input) or
	// "no output contract" (output).
	InputSchema  map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`

	RequiredRole  []string `json:"required_role,omitempty"`
	RequiredScope []string `json:"required_scope,omitempty"`

	Handler Handler `json:"-"`
}

// DuplicateToolError is returned when a tool ID is registered twice.
type DuplicateToolError struct {
	ID string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %s already registered", e.ID)
}

// InvalidToolDefinitionError is returned when a tool definition fails
// construction-time validation.
type InvalidToolDefinitionError struct {
	ID     string
	Reason string
}

func (e *InvalidToolDefinitionError) Error() string {
	return fmt.Sprintf("invalid tool definition %s: %s", e.ID, e.Reason)
}

// ToolNotFoundError is returned on lookup of an unknown tool ID.
type ToolNotFoundError struct {
	ID string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %s not found", e.ID)
}

type entry struct {
	tool         *Tool
	inputSchema  *gojsonschema.Schema
	outputSchema *gojsonschema.Schema
}

// Registry is a write-once-at-startup tool catalog. Construct one per
// process (or per test) and pass it by reference; after registration
// finishes it is safe for concurrent reads without coordination.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register adds a tool to the catalog. It fails with DuplicateToolError if
// the ID is taken and InvalidToolDefinitionError if the definition is
// malformed or a schema does not compile.
func (r *Registry) Register(tool Tool) error {
	if err := validate(&tool); err != nil {
		return err
	}

	inputSchema, err := compileSchema(tool.InputSchema)
	if err != nil {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: fmt.Sprintf("input schema: %v", err)}
	}
	outputSchema, err := compileSchema(tool.OutputSchema)
	if err != nil {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: fmt.Sprintf("output schema: %v", err)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tool.ID]; exists {
		return &DuplicateToolError{ID: tool.ID}
	}

	r.entries[tool.ID] = &entry{
		tool:         &tool,
		inputSchema:  inputSchema,
		outputSchema: outputSchema,
	}
	r.order = append(r.order, tool.ID)

	log.Info().
		Str("tool", tool.ID).
		Str("layer", string(tool.Layer)).
		Str("risk", string(tool.Risk)).
		Msg("Tool registered")

	return nil
}

// MustRegister registers a tool and panics on error. Registration happens
// once at process start; a malformed definition is a programming error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns a tool by ID.
func (r *Registry) Get(toolID string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[toolID]
	if !ok {
		return nil, &ToolNotFoundError{ID: toolID}
	}
	return e.tool, nil
}

// InputSchema returns the compiled input schema for a tool, or nil if the
// tool has none.
func (r *Registry) InputSchema(toolID string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[toolID]; ok {
		return e.inputSchema
	}
	return nil
}

// OutputSchema returns the compiled output schema for a tool, or nil.
func (r *Registry) OutputSchema(toolID string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[toolID]; ok {
		return e.outputSchema
	}
	return nil
}

// ListByLayer returns tools in the given layer, in registration order.
func (r *Registry) ListByLayer(layer protocol.Layer) []*Tool {
	return r.filter(func(t *Tool) bool { return t.Layer == layer })
}

// ListByDomain returns tools in the given business domain, in registration order.
func (r *Registry) ListByDomain(domain string) []*Tool {
	return r.filter(func(t *Tool) bool { return t.Domain == domain })
}

// ListByRisk returns tools at the given risk level, in registration order.
func (r *Registry) ListByRisk(risk protocol.RiskLevel) []*Tool {
	return r.filter(func(t *Tool) bool { return t.Risk == risk })
}

// ListAll returns every registered tool in registration order.
func (r *Registry) ListAll() []*Tool {
	return r.filter(func(*Tool) bool { return true })
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) filter(keep func(*Tool) bool) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, 0, len(r.order))
	for _, id := range r.order {
		if t := r.entries[id].tool; keep(t) {
			tools = append(tools, t)
		}
	}
	return tools
}

func validate(tool *Tool) error {
	if tool.ID == "" {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: "id cannot be empty"}
	}
	if tool.Name == "" {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: "name cannot be empty"}
	}
	if tool.Description == "" {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: "description cannot be empty"}
	}
	if !tool.Layer.Valid() {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: fmt.Sprintf("invalid layer: %s", tool.Layer)}
	}
	if !tool.Risk.Valid() {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: fmt.Sprintf("invalid risk level: %s", tool.Risk)}
	}
	if tool.Handler == nil {
		return &InvalidToolDefinitionError{ID: tool.ID, Reason: "handler cannot be nil"}
	}
	return nil
}

func compileSchema(doc map[string]interface{}) (*gojsonschema.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
}

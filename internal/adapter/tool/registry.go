package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"salesagent/internal/domain"
)

// Registry holds named tools. Each tool declares its own capability at
// registration; the orchestrator routes through Classify, so a tool the
// registry has never seen can never execute.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry. If logger is non-nil, tools
// are wrapped with schema validation on Register; compilation errors are
// logged and the tool is registered unwrapped.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns an error if the name is already registered.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	if r.logger != nil {
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool",
				"tool", name, "error", err)
		} else {
			t = wrapped
		}
	}

	r.tools[name] = t
	return nil
}

// MustRegister registers a tool and panics on duplicate names. Intended for
// startup wiring where a duplicate is a programming error.
func (r *Registry) MustRegister(t domain.Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrUnknownTool, name)
	}
	return t, nil
}

// Classify returns the capability of a registered tool, or ErrUnknownTool.
func (r *Registry) Classify(name string) (domain.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return "", domain.NewDomainError("Registry.Classify", domain.ErrUnknownTool, name)
	}
	return t.Capability(), nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Schemas returns all tool schemas for planner function-calling, sorted by
// name so prompts are stable across runs.
func (r *Registry) Schemas() []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, t := range r.List() {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

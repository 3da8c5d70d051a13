package domain

import (
	"context"
	"encoding/json"
)

// Capability classifies a tool's side-effect class. It is declared by the
// tool itself so classification and registration cannot drift apart.
type Capability string

const (
	// CapabilitySafe tools are read-only or low-risk and execute without
	// human confirmation.
	CapabilitySafe Capability = "safe"
	// CapabilitySensitive tools perform side effects and require explicit
	// human approval before every execution.
	CapabilitySensitive Capability = "sensitive"
)

// ToolSchema describes a tool for the planner's function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the outcome of executing a tool. Failures are data, not
// errors: a failed execution still produces a result with IsError set so
// the planner can react conversationally.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Capability() Capability
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup, classification and schema listing.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Classify(name string) (Capability, error)
	Schemas() []ToolSchema
}

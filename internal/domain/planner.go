package domain

import "context"

// PlanRequest is sent to a planner backend.
type PlanRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

// PlanResponse is returned from a planner backend.
type PlanResponse struct {
	ID      string  `json:"id"`
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Planner is the reasoning backend: given conversation history and the
// available tool schemas it proposes either a final answer or tool-call
// requests. Implementations are stateless; all conversational state lives
// in the request.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)
	Name() string
}

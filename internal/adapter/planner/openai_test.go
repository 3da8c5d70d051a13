package planner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"salesagent/internal/domain"
	"salesagent/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestPlanner(url string) *OpenAIPlanner {
	return NewOpenAIPlanner(config.PlannerConfig{
		Name:    "test",
		BaseURL: url,
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
	}, testLogger())
}

func TestPlanParsesToolCalls(t *testing.T) {
	var gotReq wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call-1",
						"type": "function",
						"function": map[string]any{
							"name":      "create_order",
							"arguments": `{"products":[{"product_name":"Gala Apples","quantity":5}]}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
	defer srv.Close()

	p := newTestPlanner(srv.URL)
	resp, err := p.Plan(context.Background(), domain.PlanRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "order 5 gala apples"}},
		Tools:    []domain.ToolSchema{{Name: "create_order", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call-1" || call.Name != "create_order" {
		t.Errorf("call = %+v", call)
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("tokens = %d, want 30", resp.Usage.TotalTokens)
	}

	// Model default and tool schemas made it onto the wire.
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("wire model = %q", gotReq.Model)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "create_order" {
		t.Errorf("wire tools = %+v", gotReq.Tools)
	}
}

func TestPlanSendsToolResultMessages(t *testing.T) {
	var gotReq wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "done"},
			}},
		})
	}))
	defer srv.Close()

	toolMsg := domain.NewToolResultMessage(
		domain.ToolCall{ID: "call-7", Name: "search_products"}, "[]")

	p := newTestPlanner(srv.URL)
	if _, err := p.Plan(context.Background(), domain.PlanRequest{
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call-7", Name: "search_products", Arguments: json.RawMessage(`{}`)}}},
			toolMsg,
		},
	}); err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(gotReq.Messages) != 2 {
		t.Fatalf("wire messages = %d, want 2", len(gotReq.Messages))
	}
	if gotReq.Messages[1].Role != domain.RoleTool || gotReq.Messages[1].ToolCallID != "call-7" {
		t.Errorf("tool result on wire = %+v", gotReq.Messages[1])
	}
}

func TestPlanMapsHTTPErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrPlannerRateLimit},
		{http.StatusUnauthorized, domain.ErrPlannerAuth},
		{http.StatusForbidden, domain.ErrPlannerAuth},
		{http.StatusInternalServerError, domain.ErrPlanner},
		{http.StatusBadGateway, domain.ErrPlanner},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		p := newTestPlanner(srv.URL)
		_, err := p.Plan(context.Background(), domain.PlanRequest{})
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
		srv.Close()
	}
}

type failingPlanner struct {
	calls int
}

func (f *failingPlanner) Plan(_ context.Context, _ domain.PlanRequest) (*domain.PlanResponse, error) {
	f.calls++
	return nil, domain.ErrPlanner
}

func (f *failingPlanner) Name() string { return "failing" }

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingPlanner{}
	cb := NewCircuitBreakerPlanner(inner, config.CircuitBreakerConfig{MaxFailures: 3}, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := cb.Plan(context.Background(), domain.PlanRequest{}); err == nil {
			t.Fatal("expected failure")
		}
	}
	// Circuit is open now; the inner planner must not be reached.
	before := inner.calls
	_, err := cb.Plan(context.Background(), domain.PlanRequest{})
	if !errors.Is(err, domain.ErrPlanner) {
		t.Fatalf("open-circuit err = %v, want ErrPlanner", err)
	}
	if inner.calls != before {
		t.Errorf("inner planner reached while circuit open")
	}
}

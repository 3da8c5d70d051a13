package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"salesagent/internal/domain"
)

type stubTool struct {
	name       string
	capability domain.Capability
	params     json.RawMessage
	executed   bool
}

func (s *stubTool) Name() string                  { return s.name }
func (s *stubTool) Description() string           { return s.name }
func (s *stubTool) Capability() domain.Capability { return s.capability }

func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Parameters: s.params}
}

func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	s.executed = true
	return &domain.ToolResult{Content: "ok"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	st := &stubTool{name: "search_products", capability: domain.CapabilitySafe}
	if err := r.Register(st); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&stubTool{name: "search_products"}); err == nil {
		t.Fatal("duplicate registration accepted")
	}

	got, err := r.Get("search_products")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "search_products" {
		t.Errorf("got %s", got.Name())
	}

	if _, err := r.Get("nope"); !errors.Is(err, domain.ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestRegistryClassify(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(&stubTool{name: "search_products", capability: domain.CapabilitySafe})
	r.MustRegister(&stubTool{name: "create_order", capability: domain.CapabilitySensitive})

	capability, err := r.Classify("create_order")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if capability != domain.CapabilitySensitive {
		t.Errorf("capability = %s, want sensitive", capability)
	}

	if _, err := r.Classify("launch_rockets"); !errors.Is(err, domain.ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(&stubTool{name: "zeta"})
	r.MustRegister(&stubTool{name: "alpha"})

	schemas := r.Schemas()
	if len(schemas) != 2 || schemas[0].Name != "alpha" || schemas[1].Name != "zeta" {
		t.Fatalf("schemas = %+v, want sorted by name", schemas)
	}
}

func TestRegisterWrapsWithSchemaValidation(t *testing.T) {
	r := NewRegistry(discardLogger())
	inner := &stubTool{
		name: "strict",
		params: json.RawMessage(`{
			"type": "object",
			"properties": {"n": {"type": "integer"}},
			"required": ["n"]
		}`),
	}
	r.MustRegister(inner)

	tl, err := r.Get("strict")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	res, err := tl.Execute(context.Background(), json.RawMessage(`{"wrong": true}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("invalid params passed schema validation")
	}
	if inner.executed {
		t.Fatal("inner tool ran despite failed validation")
	}

	res, err = tl.Execute(context.Background(), json.RawMessage(`{"n": 3}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError || !inner.executed {
		t.Fatalf("valid params rejected: %+v", res)
	}
}

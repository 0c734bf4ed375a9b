package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type fakeTool struct {
	name   string
	schema string
	run    func(ctx context.Context, input json.RawMessage) (interface{}, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "test tool" }

func (t *fakeTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object","properties":{},"required":[]}`)
	}
	return json.RawMessage(t.schema)
}

func (t *fakeTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if t.run != nil {
		return t.run(ctx, input)
	}
	return map[string]string{"ok": t.name}, nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&fakeTool{name: "alpha"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := r.Register(&fakeTool{name: "alpha"})
	if err == nil {
		t.Fatal("duplicate register should fail")
	}
	if !strings.Contains(err.Error(), "already registered") {
		t.Errorf("unexpected error: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 tool after duplicate rejection, got %d", r.Len())
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: ""}); err == nil {
		t.Fatal("empty name should be rejected")
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"zeta", "alpha", "mid"}
	for _, n := range names {
		if err := r.Register(&fakeTool{name: n}); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}

	got := r.Names()
	if len(got) != len(names) {
		t.Fatalf("expected %d names, got %d", len(names), len(got))
	}
	for i, n := range names {
		if got[i] != n {
			t.Errorf("position %d: expected %s, got %s", i, n, got[i])
		}
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a"})
	r.Register(&fakeTool{name: "b"})

	if !r.Unregister("a") {
		t.Fatal("unregister of existing tool returned false")
	}
	if r.Unregister("a") {
		t.Fatal("second unregister returned true")
	}
	if r.Has("a") {
		t.Error("tool still present after unregister")
	}
	if got := r.Names(); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected [b], got %v", got)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "ghost", nil)

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if toolErr.Code != CodeToolNotFound {
		t.Errorf("expected code %d, got %d", CodeToolNotFound, toolErr.Code)
	}
}

const volumeSchema = `{
	"type": "object",
	"properties": {
		"level": {"type": "integer"},
		"device": {"type": "string"},
		"action": {"type": "string", "enum": ["on", "off", "read", "pwm"]},
		"force": {"type": "boolean"}
	},
	"required": ["level"]
}`

func TestValidateArguments(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		wantErr string
	}{
		{"valid", `{"level": 30}`, ""},
		{"valid with extras", `{"level": 30, "unknown": "ignored"}`, ""},
		{"missing required", `{"device": "headphones"}`, "missing required argument: level"},
		{"wrong type string for int", `{"level": "loud"}`, "must be of type integer"},
		{"wrong type fraction for int", `{"level": 30.5}`, "must be of type integer"},
		{"wrong type for string", `{"level": 1, "device": 5}`, "must be of type string"},
		{"wrong type for boolean", `{"level": 1, "force": "yes"}`, "must be of type boolean"},
		{"enum violation", `{"level": 1, "action": "explode"}`, "must be one of"},
		{"enum ok", `{"level": 1, "action": "pwm"}`, ""},
		{"null optional ok", `{"level": 1, "device": null}`, ""},
		{"non-object args", `[1,2]`, "arguments must be an object"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateArguments(json.RawMessage(volumeSchema), json.RawMessage(tc.args))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			var toolErr *ToolError
			if !errors.As(err, &toolErr) {
				t.Fatalf("expected ToolError, got %T", err)
			}
			if toolErr.Code != CodeInvalidParams {
				t.Errorf("expected code %d, got %d", CodeInvalidParams, toolErr.Code)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected %q in error, got %q", tc.wantErr, err.Error())
			}
		})
	}
}

func TestExecuteValidatesBeforeRunning(t *testing.T) {
	ran := false
	r := NewRegistry()
	r.Register(&fakeTool{
		name:   "set_volume",
		schema: volumeSchema,
		run: func(ctx context.Context, input json.RawMessage) (interface{}, error) {
			ran = true
			return nil, nil
		},
	})

	_, err := r.Execute(context.Background(), "set_volume", json.RawMessage(`{"level":"high"}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if ran {
		t.Error("tool ran despite invalid arguments")
	}

	if _, err := r.Execute(context.Background(), "set_volume", json.RawMessage(`{"level":50}`)); err != nil {
		t.Fatalf("valid call failed: %v", err)
	}
	if !ran {
		t.Error("tool did not run on valid arguments")
	}
}

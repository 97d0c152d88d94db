package hooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNewToolHookManager(t *testing.T) {
	t.Run("creates with nil registry", func(t *testing.T) {
		mgr := NewToolHookManager(nil, nil)
		if mgr == nil {
			t.Fatal("expected non-nil manager")
		}
		if mgr.registry == nil {
			t.Error("registry should default to a fresh Registry")
		}
		if mgr.logger == nil {
			t.Error("logger should default")
		}
	})

	t.Run("creates with provided registry", func(t *testing.T) {
		reg := NewRegistry(nil)
		mgr := NewToolHookManager(reg, nil)
		if mgr.registry != reg {
			t.Error("should use provided registry")
		}
	})
}

func TestToolHookManager_RegisterPreHook(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	id := mgr.RegisterPreHook("test-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		return nil
	})

	if id == "" {
		t.Error("expected non-empty hook ID")
	}

	// Verify hook is registered
	mgr.mu.RLock()
	if len(mgr.preHooks) != 1 {
		t.Errorf("expected 1 pre-hook, got %d", len(mgr.preHooks))
	}
	mgr.mu.RUnlock()
}

func TestToolHookManager_RegisterPostHook(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	id := mgr.RegisterPostHook("test-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		return nil
	})

	if id == "" {
		t.Error("expected non-empty hook ID")
	}

	// Verify hook is registered
	mgr.mu.RLock()
	if len(mgr.postHooks) != 1 {
		t.Errorf("expected 1 post-hook, got %d", len(mgr.postHooks))
	}
	mgr.mu.RUnlock()
}

func TestToolHookManager_Unregister(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	id := mgr.RegisterPreHook("test-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		return nil
	})

	// Unregister
	result := mgr.Unregister(id)
	if !result {
		t.Error("expected successful unregister")
	}

	mgr.mu.RLock()
	if len(mgr.preHooks) != 0 {
		t.Errorf("expected 0 pre-hooks after unregister, got %d", len(mgr.preHooks))
	}
	mgr.mu.RUnlock()
}

func TestToolHookManager_TriggerPreExecution(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	called := false
	mgr.RegisterPreHook("test-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		called = true
		return nil
	})

	hookCtx := &ToolHookContext{
		ToolName:   "test-tool",
		ToolCallID: "call-1",
		SessionKey: "session-1",
	}

	err := mgr.TriggerPreExecution(context.Background(), hookCtx)
	if err != nil {
		t.Errorf("TriggerPreExecution error: %v", err)
	}
	if !called {
		t.Error("pre-hook was not called")
	}
}

func TestToolHookManager_TriggerPostExecution(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	called := false
	mgr.RegisterPostHook("test-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		called = true
		return nil
	})

	hookCtx := &ToolHookContext{
		ToolName:   "test-tool",
		ToolCallID: "call-1",
		Duration:   100 * time.Millisecond,
	}

	err := mgr.TriggerPostExecution(context.Background(), hookCtx)
	if err != nil {
		t.Errorf("TriggerPostExecution error: %v", err)
	}
	if !called {
		t.Error("post-hook was not called")
	}
}

func TestToolHookManager_TriggerPostExecution_WithError(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	mgr.RegisterPostHook("test-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		return nil
	})

	hookCtx := &ToolHookContext{
		ToolName:   "test-tool",
		ToolCallID: "call-1",
		Error:      context.DeadlineExceeded,
	}

	err := mgr.TriggerPostExecution(context.Background(), hookCtx)
	if err != nil {
		t.Errorf("TriggerPostExecution error: %v", err)
	}
}

func TestForTools(t *testing.T) {
	opt := ForTools("tool-a", "tool-b")
	cfg := &toolHookConfig{}
	opt(cfg)

	if len(cfg.tools) != 2 {
		t.Errorf("expected 2 tools, got %d", len(cfg.tools))
	}
}

func TestWithHookPriority(t *testing.T) {
	opt := WithHookPriority(PriorityHigh)
	cfg := &toolHookConfig{}
	opt(cfg)

	if cfg.priority != PriorityHigh {
		t.Errorf("priority = %d, want %d", cfg.priority, PriorityHigh)
	}
}

func TestToolHookContext_Struct(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"key": "value"})
	ctx := ToolHookContext{
		ToolName:     "bash",
		ToolCallID:   "call-1",
		Input:        input,
		Output:       "result",
		Duration:     100 * time.Millisecond,
		Attempt:      1,
		MaxAttempts:  3,
		SessionKey:   "session-1",
		AgentID:      "agent-1",
		Canceled:     false,
		CancelReason: "",
		Modified:     true,
		Metadata:     map[string]any{"key": "value"},
	}

	if ctx.ToolName != "bash" {
		t.Errorf("ToolName = %q", ctx.ToolName)
	}
	if ctx.Attempt != 1 {
		t.Errorf("Attempt = %d", ctx.Attempt)
	}
}

func TestToolEventConstants(t *testing.T) {
	tests := []struct {
		event    EventType
		expected string
	}{
		{EventToolPreExecution, "tool.pre_execution"},
		{EventToolPostExecution, "tool.post_execution"},
	}

	for _, tt := range tests {
		if string(tt.event) != tt.expected {
			t.Errorf("EventType = %q, want %q", tt.event, tt.expected)
		}
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		slice    []string
		value    string
		expected bool
	}{
		{[]string{"a", "b", "c"}, "b", true},
		{[]string{"a", "b", "c"}, "d", false},
		{[]string{}, "a", false},
		{nil, "a", false},
	}

	for _, tt := range tests {
		result := contains(tt.slice, tt.value)
		if result != tt.expected {
			t.Errorf("contains(%v, %q) = %v, want %v", tt.slice, tt.value, result, tt.expected)
		}
	}
}

func TestToolHookManager_HookWithToolFilter(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	called := false
	mgr.RegisterPreHook("filtered-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		called = true
		return nil
	}, ForTools("specific-tool"))

	// Trigger for different tool - should not call
	hookCtx := &ToolHookContext{
		ToolName:   "other-tool",
		ToolCallID: "call-1",
	}

	_ = mgr.TriggerPreExecution(context.Background(), hookCtx)
	if called {
		t.Error("hook should not be called for filtered tool")
	}

	// Trigger for matching tool
	hookCtx.ToolName = "specific-tool"
	_ = mgr.TriggerPreExecution(context.Background(), hookCtx)
	if !called {
		t.Error("hook should be called for matching tool")
	}
}

func TestToolHookManager_UnregisterPostHook(t *testing.T) {
	reg := NewRegistry(nil)
	mgr := NewToolHookManager(reg, nil)

	id := mgr.RegisterPostHook("test-hook", func(ctx context.Context, hookCtx *ToolHookContext) error {
		return nil
	}, ForTools("bash"))

	// Unregister
	result := mgr.Unregister(id)
	if !result {
		t.Error("expected successful unregister")
	}

	mgr.mu.RLock()
	if len(mgr.postHooks) != 0 {
		t.Errorf("expected 0 post-hooks after unregister, got %d", len(mgr.postHooks))
	}
	if _, exists := mgr.toolFilters[id]; exists {
		t.Error("tool filter should be removed")
	}
	mgr.mu.RUnlock()
}

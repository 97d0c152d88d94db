package sessions

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestSanitizeTranscriptInsertsMissingResult(t *testing.T) {
	messages := []*models.Message{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "read_file", Input: json.RawMessage(`{}`)},
			},
		},
	}

	out := SanitizeTranscript(messages)
	if len(out) != 2 {
		t.Fatalf("expected assistant turn plus synthetic result, got %d messages", len(out))
	}
	if out[1].Role != models.RoleTool || !out[1].ToolResults[0].IsError {
		t.Errorf("expected a synthetic error tool result, got %+v", out[1])
	}
}

func TestSanitizeTranscriptDropsOrphanResult(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "no-such-call", Content: "x"}}},
	}

	out := SanitizeTranscript(messages)
	if len(out) != 1 {
		t.Fatalf("expected the orphan tool result to be dropped, got %d messages", len(out))
	}
}

func TestSanitizeTranscriptDropsDuplicateResult(t *testing.T) {
	messages := []*models.Message{
		{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{{ID: "call-1", Name: "echo"}},
		},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "call-1", Content: "first"}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "call-1", Content: "duplicate"}}},
	}

	out := SanitizeTranscript(messages)
	var resultCount int
	for _, msg := range out {
		resultCount += len(msg.ToolResults)
	}
	if resultCount != 1 {
		t.Errorf("expected exactly one surviving tool result, got %d", resultCount)
	}
}

func TestSanitizeTranscriptNoopWhenAlreadyPaired(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{{ID: "call-1", Name: "echo"}},
		},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "call-1", Content: "ok"}}},
	}

	out := SanitizeTranscript(messages)
	if len(out) != len(messages) {
		t.Fatalf("expected already-paired transcript to pass through unchanged, got %d messages", len(out))
	}
}

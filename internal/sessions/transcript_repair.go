package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// SanitizeTranscript ensures every assistant tool call is immediately
// followed by its matching tool result before history is handed to an LLM
// provider. Anthropic-compatible APIs reject transcripts where a tool call
// isn't paired this way, so the runtime runs loaded history through this
// before every turn.
//
// It moves matching tool results directly after their assistant tool-call
// turn, inserts a synthetic error result for any tool call with no
// recorded result, and drops duplicate or orphaned tool results.
func SanitizeTranscript(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(messages))
	seen := make(map[string]bool)
	changed := false

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		if msg == nil {
			continue
		}

		if msg.Role != models.RoleAssistant {
			if msg.Role == models.RoleTool && len(msg.ToolResults) > 0 {
				// A tool result not anchored to the preceding assistant turn
				// is an orphan; drop it.
				changed = true
				continue
			}
			out = append(out, msg)
			continue
		}

		if len(msg.ToolCalls) == 0 {
			out = append(out, msg)
			continue
		}

		pending := make(map[string]bool, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" {
				pending[tc.ID] = true
			}
		}

		results := make(map[string]*models.Message)
		var remainder []*models.Message

		j := i + 1
		for ; j < len(messages); j++ {
			next := messages[j]
			if next == nil {
				continue
			}
			if next.Role == models.RoleAssistant {
				break
			}
			if next.Role == models.RoleTool && len(next.ToolResults) > 0 {
				kept := make([]models.ToolResult, 0, len(next.ToolResults))
				for _, tr := range next.ToolResults {
					if !pending[tr.ToolCallID] || seen[tr.ToolCallID] {
						changed = true
						continue
					}
					seen[tr.ToolCallID] = true
					delete(pending, tr.ToolCallID)
					kept = append(kept, tr)
				}
				if len(kept) == 0 {
					changed = true
					continue
				}
				clone := *next
				clone.ToolResults = kept
				for _, tr := range kept {
					results[tr.ToolCallID] = &clone
				}
				if len(kept) != len(next.ToolResults) {
					changed = true
				}
				continue
			}
			remainder = append(remainder, next)
		}

		out = append(out, msg)
		if len(results) > 0 && len(remainder) > 0 {
			changed = true
		}

		emitted := make(map[*models.Message]bool)
		for _, tc := range msg.ToolCalls {
			if resultMsg, ok := results[tc.ID]; ok {
				if !emitted[resultMsg] {
					out = append(out, resultMsg)
					emitted[resultMsg] = true
				}
				continue
			}
			if seen[tc.ID] {
				continue
			}
			out = append(out, syntheticToolResult(msg, tc))
			seen[tc.ID] = true
			changed = true
		}
		out = append(out, remainder...)
		i = j - 1
	}

	if !changed {
		return messages
	}
	return out
}

func syntheticToolResult(call *models.Message, tc models.ToolCall) *models.Message {
	name := tc.Name
	if name == "" {
		name = "unknown"
	}
	createdAt := time.Now()
	if !call.CreatedAt.IsZero() {
		createdAt = call.CreatedAt.Add(time.Nanosecond)
	}
	return &models.Message{
		ID:        uuid.NewString(),
		SessionID: call.SessionID,
		BranchID:  call.BranchID,
		Channel:   call.Channel,
		ChannelID: call.ChannelID,
		Role:      models.RoleTool,
		Direction: models.DirectionInbound,
		ToolResults: []models.ToolResult{{
			ToolCallID: tc.ID,
			Content:    "missing tool result in session history; inserted synthetic error result",
			IsError:    true,
		}},
		Metadata: map[string]any{
			"synthetic": true,
			"tool_name": name,
		},
		CreatedAt: createdAt,
	}
}

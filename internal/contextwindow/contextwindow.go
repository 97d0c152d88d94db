// Package contextwindow tracks how much of a model's context window a
// turn's transcript has consumed and decides when compaction must run. It
// generalizes the teacher's internal/context (model window table,
// characters-per-token heuristic) and internal/compaction (chunked
// summarization) packages to per-item-kind token accounting over a
// pkg/models.Message transcript.
package contextwindow

import (
	"context"
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/haasonsaas/nexus/internal/compaction"
	llmcontext "github.com/haasonsaas/nexus/internal/context"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ItemKind distinguishes the pieces of a message that are priced
// differently when estimating token cost.
type ItemKind int

const (
	ItemText ItemKind = iota
	ItemToolCall
	ItemToolResult
	ItemImageAttachment
	ItemOtherAttachment
)

// Per-kind token-estimation constants. Text/tool payloads use the
// teacher's conservative chars-per-token ratio; attachments are priced
// with fixed overheads since their token cost isn't proportional to a
// serialized byte count the way text is.
const (
	charsPerTokenText   = 1 / llmcontext.TokensPerChar // ~4 chars/token
	toolEnvelopeTokens  = 8                             // role/name/id JSON scaffolding
	imageTokens         = 1_600                         // flat estimate, matches typical vision-model tiling cost
	otherAttachmentCost = 64
)

// Manager tracks cumulative token usage for one turn's transcript against
// a model's context window and decides when compaction should run.
type Manager struct {
	window        *llmcontext.Window
	compactAtFrac float64 // trigger compaction once usage crosses this fraction
}

// New constructs a Manager sized for modelID, compacting once usage
// crosses compactAtFrac of the window (e.g. 0.8 for "compact at 80% full").
func New(modelID string, compactAtFrac float64) *Manager {
	if compactAtFrac <= 0 || compactAtFrac > 1 {
		compactAtFrac = 0.8
	}
	return &Manager{
		window:        llmcontext.NewWindowForModel(modelID),
		compactAtFrac: compactAtFrac,
	}
}

// EstimateItemTokens prices one item of the given kind. text is the raw
// serialized form (message content, tool-call JSON, tool-result content);
// it is ignored for the two attachment kinds, whose cost is a flat
// per-item estimate.
func EstimateItemTokens(kind ItemKind, text string) int {
	switch kind {
	case ItemImageAttachment:
		return imageTokens
	case ItemOtherAttachment:
		return otherAttachmentCost
	case ItemToolCall, ItemToolResult:
		return textTokens(text) + toolEnvelopeTokens
	default:
		return textTokens(text)
	}
}

func textTokens(text string) int {
	chars := utf8.RuneCountInString(text)
	if chars == 0 {
		return 0
	}
	tokens := int(math.Ceil(float64(chars) / charsPerTokenText))
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// EstimateMessageTokens sums the per-item token cost across one message's
// content, tool calls, tool results, and attachments.
func EstimateMessageTokens(msg models.Message) int {
	total := EstimateItemTokens(ItemText, msg.Content)
	for _, tc := range msg.ToolCalls {
		total += EstimateItemTokens(ItemToolCall, string(tc.Input)+tc.Name)
	}
	for _, tr := range msg.ToolResults {
		total += EstimateItemTokens(ItemToolResult, tr.Content)
	}
	for _, att := range msg.Attachments {
		if att.Type == "image" {
			total += EstimateItemTokens(ItemImageAttachment, "")
		} else {
			total += EstimateItemTokens(ItemOtherAttachment, "")
		}
	}
	return total
}

// AddMessage records a message's estimated token cost against the window.
func (m *Manager) AddMessage(msg models.Message) int {
	tokens := EstimateMessageTokens(msg)
	m.window.Add(tokens)
	return tokens
}

// AddMessages records a batch of messages, saturating rather than
// overflowing if the caller passes an implausibly large transcript — token
// counts are clamped to the int range by Go's own arithmetic limits, but
// Remaining() below additionally floors at zero rather than going negative.
func (m *Manager) AddMessages(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.AddMessage(msg)
	}
	return total
}

// Reset clears accumulated usage, e.g. immediately after compaction
// replaces the transcript with a shorter summary.
func (m *Manager) Reset() {
	m.window.Reset()
}

// Info returns the current window usage snapshot.
func (m *Manager) Info() *llmcontext.WindowInfo {
	return m.window.Info()
}

// ShouldCompact reports whether usage has crossed the configured
// compaction threshold.
func (m *Manager) ShouldCompact() bool {
	info := m.window.Info()
	if info.TotalTokens <= 0 {
		return false
	}
	return float64(info.UsedTokens)/float64(info.TotalTokens) >= m.compactAtFrac
}

// CanFit reports whether the estimated cost of adding item would still fit
// in the window's remaining budget.
func (m *Manager) CanFit(kind ItemKind, text string) bool {
	return m.window.CanFit(EstimateItemTokens(kind, text))
}

// Compact summarizes messages down to a single summary message once
// ShouldCompact reports true, replacing the window's usage with just the
// summary's own cost. It delegates the actual chunking/multi-stage
// summarization strategy to compaction.SummarizeWithFallback, converting
// between this package's models.Message and compaction's lighter Message.
func (m *Manager) Compact(ctx context.Context, messages []models.Message, summarizer compaction.Summarizer) (string, error) {
	converted := make([]*compaction.Message, 0, len(messages))
	for _, msg := range messages {
		toolCalls, _ := json.Marshal(msg.ToolCalls)
		toolResults, _ := json.Marshal(msg.ToolResults)
		converted = append(converted, &compaction.Message{
			Role:        string(msg.Role),
			Content:     msg.Content,
			Timestamp:   msg.CreatedAt.Unix(),
			ID:          msg.ID,
			ToolCalls:   string(toolCalls),
			ToolResults: string(toolResults),
		})
	}

	config := compaction.DefaultSummarizationConfig()
	config.ContextWindow = m.window.Info().TotalTokens

	summary, err := compaction.SummarizeWithFallback(ctx, converted, summarizer, config)
	if err != nil {
		return "", err
	}

	m.Reset()
	m.window.Add(EstimateItemTokens(ItemText, summary))
	return summary, nil
}

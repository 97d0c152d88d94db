package context

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/haasonsaas/nexus/pkg/models"
)

// PackResult is the outcome of PackWithDiagnostics: the packed messages plus
// a record of why each candidate was included or dropped.
type PackResult struct {
	Messages    []*models.Message
	Diagnostics *models.ContextEventPayload
}

// PackWithDiagnostics behaves like Pack but also returns per-item accounting
// suitable for emitting as a models.ContextEventPayload (see
// EventEmitter.ContextPacked). It re-derives the same selection Pack makes
// rather than delegating to it, so every candidate - included or dropped -
// gets a diagnostic entry.
func (p *Packer) PackWithDiagnostics(history []*models.Message, incoming *models.Message, summary *models.Message) *PackResult {
	diag := &models.ContextEventPayload{
		BudgetChars:    p.opts.MaxChars,
		BudgetMessages: p.opts.MaxMessages,
	}

	var result []*models.Message
	totalChars := 0
	totalMsgs := 0

	var incomingChars int
	if incoming != nil {
		incomingChars = p.messageChars(incoming)
		totalChars += incomingChars
		totalMsgs++
	}

	if p.opts.IncludeSummary && summary != nil {
		summaryChars := p.messageChars(summary)
		totalChars += summaryChars
		totalMsgs++
		diag.SummaryUsed = true
		diag.SummaryChars = summaryChars
		diag.Items = append(diag.Items, models.ContextPackItem{
			ID:       itemID(summary),
			Kind:     models.ContextItemSummary,
			Chars:    summaryChars,
			Included: true,
			Reason:   models.ContextReasonReserved,
		})
		result = append(result, summary)
	}

	filtered := make([]*models.Message, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		if p.isSummaryMessage(m) {
			continue
		}
		filtered = append(filtered, m)
	}
	diag.Candidates = len(filtered)

	selectedReverse := make([]*models.Message, 0)
	itemsReverse := make([]models.ContextPackItem, 0, len(filtered))
	for i := len(filtered) - 1; i >= 0; i-- {
		m := filtered[i]
		msgChars := p.messageChars(m)
		kind := itemKind(m)

		if totalMsgs+1 > p.opts.MaxMessages || totalChars+msgChars > p.opts.MaxChars {
			itemsReverse = append(itemsReverse, models.ContextPackItem{
				ID:       itemID(m),
				Kind:     kind,
				Chars:    msgChars,
				Included: false,
				Reason:   models.ContextReasonOverBudget,
			})
			continue
		}

		selectedReverse = append(selectedReverse, m)
		totalMsgs++
		totalChars += msgChars
		itemsReverse = append(itemsReverse, models.ContextPackItem{
			ID:       itemID(m),
			Kind:     kind,
			Chars:    msgChars,
			Included: true,
			Reason:   models.ContextReasonIncluded,
		})
	}

	selected := make([]*models.Message, len(selectedReverse))
	for i, m := range selectedReverse {
		selected[len(selectedReverse)-1-i] = m
	}
	for i := len(itemsReverse) - 1; i >= 0; i-- {
		diag.Items = append(diag.Items, itemsReverse[i])
	}

	for _, m := range selected {
		result = append(result, p.truncateToolResults(m))
	}

	if incoming != nil {
		diag.Items = append(diag.Items, models.ContextPackItem{
			ID:       itemID(incoming),
			Kind:     models.ContextItemIncoming,
			Chars:    incomingChars,
			Included: true,
			Reason:   models.ContextReasonIncluded,
		})
		result = append(result, incoming)
	}

	diag.Included = totalMsgs
	if diag.SummaryUsed {
		diag.Included--
	}
	if incoming != nil {
		diag.Included--
	}
	diag.Dropped = diag.Candidates - (diag.Included)
	if diag.Dropped < 0 {
		diag.Dropped = 0
	}
	diag.UsedChars = totalChars
	diag.UsedMessages = totalMsgs

	return &PackResult{Messages: result, Diagnostics: diag}
}

// itemKind classifies a message for diagnostics: tool calls/results get
// ContextItemTool, everything else in history is ContextItemHistory.
func itemKind(m *models.Message) models.ContextItemKind {
	if len(m.ToolCalls) > 0 || len(m.ToolResults) > 0 {
		return models.ContextItemTool
	}
	return models.ContextItemHistory
}

// itemID derives a stable diagnostic ID for a message, preferring its own ID
// and falling back to a content hash when absent.
func itemID(m *models.Message) string {
	if m == nil {
		return ""
	}
	source := m.ID
	if source == "" {
		source = m.Content
	}
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:12]
}

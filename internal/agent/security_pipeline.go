package agent

import (
	"context"

	"github.com/haasonsaas/nexus/internal/contentgateway"
	"github.com/haasonsaas/nexus/internal/exclusion"
	"github.com/haasonsaas/nexus/internal/sensitivepath"
	"github.com/haasonsaas/nexus/pkg/models"
)

// SecurityPipeline bundles the sensitive-path policy, content gateway, and
// exclusion counters/log into the single per-session unit the turn loop
// consults when scanning tool output before it reaches the model or
// storage. A nil *SecurityPipeline (the Runtime default) disables scanning
// entirely so existing callers that never opt in see no behavior change.
type SecurityPipeline struct {
	Policy  *sensitivepath.Policy
	Gateway *contentgateway.Gateway
	Cache   *contentgateway.Cache
	Counters *exclusion.TurnCounters
	Logger  *exclusion.Logger
}

// NewSecurityPipeline constructs a pipeline from its already-configured
// parts. Counters is typically fresh per turn; Policy/Gateway/Cache/Logger
// are typically shared for the lifetime of a session.
func NewSecurityPipeline(policy *sensitivepath.Policy, gateway *contentgateway.Gateway, cache *contentgateway.Cache, logger *exclusion.Logger) *SecurityPipeline {
	return &SecurityPipeline{
		Policy:   policy,
		Gateway:  gateway,
		Cache:    cache,
		Counters: exclusion.NewTurnCounters(),
		Logger:   logger,
	}
}

// ResetForTurn replaces the pipeline's counters with an empty set, called
// once at the start of each new turn.
func (p *SecurityPipeline) ResetForTurn() {
	if p == nil {
		return
	}
	p.Counters = exclusion.NewTurnCounters()
}

// ScanToolResult runs a tool result's content through the content gateway
// (layer 2: output sanitization) and records the outcome in the turn's
// exclusion counters and log. It returns the possibly-redacted content;
// when the pipeline is nil or disabled, content is returned unchanged.
func (p *SecurityPipeline) ScanToolResult(ctx context.Context, toolName, content string) string {
	if p == nil || p.Policy == nil || p.Gateway == nil {
		return content
	}
	epoch := p.Policy.IgnoreEpoch()
	sanitized, report := p.Gateway.ScanText(content, p.Policy, p.Cache, epoch)
	if !report.Redacted && !report.Blocked {
		return content
	}

	if p.Counters != nil {
		p.Counters.Record(exclusion.Layer2OutputSanitization, exclusion.SourceShell, toolName, report.Redacted, report.Blocked)
	}
	if p.Logger != nil {
		p.Logger.LogRedactionEvent(
			exclusion.EventContext{
				Layer:      exclusion.Layer2OutputSanitization,
				Source:     exclusion.SourceShell,
				ToolName:   toolName,
				OriginType: "tool_output",
			},
			report,
			content,
			sanitized,
		)
	}
	return sanitized
}

// ScanOutboundPrompt runs the composed system prompt and latest user turn
// through the content gateway's layer 4 (full-payload request interceptor)
// before the request reaches the model, returning the possibly-redacted
// text. Unlike ScanToolResult this never blocks tool execution — it only
// redacts what the model is about to see.
func (p *SecurityPipeline) ScanOutboundPrompt(ctx context.Context, content string) string {
	if p == nil || p.Policy == nil || p.Gateway == nil || content == "" {
		return content
	}
	epoch := p.Policy.IgnoreEpoch()
	sanitized, report := p.Gateway.ScanText(content, p.Policy, p.Cache, epoch)
	if !report.Redacted && !report.Blocked {
		return content
	}

	if p.Counters != nil {
		p.Counters.Record(exclusion.Layer4RequestInterceptor, exclusion.SourcePrompt, "model_request", report.Redacted, report.Blocked)
	}
	if p.Logger != nil {
		p.Logger.LogRedactionEvent(
			exclusion.EventContext{
				Layer:      exclusion.Layer4RequestInterceptor,
				Source:     exclusion.SourcePrompt,
				ToolName:   "model_request",
				OriginType: "outbound_prompt",
			},
			report,
			content,
			sanitized,
		)
	}
	return sanitized
}

// ScanToolResults applies ScanToolResult across a batch of results in
// place, keyed by the parallel tool-call slice for per-tool attribution.
func (p *SecurityPipeline) ScanToolResults(ctx context.Context, calls []models.ToolCall, results []models.ToolResult) {
	if p == nil {
		return
	}
	for i := range results {
		toolName := "unknown"
		if i < len(calls) {
			toolName = calls[i].Name
		}
		results[i].Content = p.ScanToolResult(ctx, toolName, results[i].Content)
	}
}

// FinishTurn returns the turn's exclusion summary, if anything was
// redacted or blocked, and resets counters for the next turn.
func (p *SecurityPipeline) FinishTurn() (exclusion.SummaryEvent, bool) {
	if p == nil || p.Counters == nil {
		return exclusion.SummaryEvent{}, false
	}
	summary, ok := p.Counters.Snapshot()
	p.ResetForTurn()
	return summary, ok
}

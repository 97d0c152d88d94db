// Package hookdispatch spawns user-configured external programs in
// response to agent lifecycle events. Unlike internal/hooks (in-process Go
// handlers invoked for prompt/tool shaping), every hook here is a
// subprocess: it receives a JSON payload on stdin and writes to its own
// log file, exactly the shape the turn engine's external lifecycle hooks
// take.
package hookdispatch

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the fixed schema-version field stamped on every
// HookPayload and HookStdinEnvelope.
const SchemaVersion = 1

// Event names the fixed set of lifecycle events a hook may be registered
// against. Names are kebab-case, matching the wire format exactly.
type Event string

const (
	EventSessionStart        Event = "session-start"
	EventSessionEnd          Event = "session-end"
	EventUserPromptSubmit    Event = "user-prompt-submit"
	EventAgentTurnComplete   Event = "agent-turn-complete"
	EventModelRequestStarted Event = "model-request-started"
	EventModelResponseDone   Event = "model-response-completed"
	EventToolCallStarted     Event = "tool-call-started"
	EventToolCallFinished    Event = "tool-call-finished"
	EventPreCompact          Event = "pre-compact"
	EventNotification        Event = "notification"
	EventSubagentStop        Event = "subagent-stop"
	EventApprovalRequested   Event = "approval-requested"
)

// ApprovalKind distinguishes what an approval-requested event is asking
// about.
type ApprovalKind string

const (
	ApprovalKindExec        ApprovalKind = "exec"
	ApprovalKindApplyPatch  ApprovalKind = "apply_patch"
	ApprovalKindElicitation ApprovalKind = "elicitation"
)

// HookPayload is the JSON document piped to a hook's stdin when it fits
// under the dispatcher's spill threshold: `{schema-version, event-id,
// timestamp, type, ...event-specific fields}` with every key kebab-case.
// Fields is marshaled inline at the top level alongside the four fixed
// fields, matching the wire format in spec §4.9/§6 exactly (no nested
// "payload" object).
type HookPayload struct {
	SchemaVersion int            `json:"-"`
	EventID       string         `json:"-"`
	Timestamp     time.Time      `json:"-"`
	Type          Event          `json:"-"`
	Fields        map[string]any `json:"-"`
}

// NewPayload constructs a HookPayload with SchemaVersion fixed at 1.
func NewPayload(eventID string, ts time.Time, eventType Event, fields map[string]any) HookPayload {
	return HookPayload{
		SchemaVersion: SchemaVersion,
		EventID:       eventID,
		Timestamp:     ts,
		Type:          eventType,
		Fields:        fields,
	}
}

// MarshalJSON flattens the fixed fields and Fields into one JSON object.
func (p HookPayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+4)
	for k, v := range p.Fields {
		out[k] = v
	}
	out["schema-version"] = p.SchemaVersion
	out["event-id"] = p.EventID
	out["timestamp"] = p.Timestamp.UTC().Format(time.RFC3339)
	out["type"] = string(p.Type)
	return json.Marshal(out)
}

// HookStdinEnvelope replaces a HookPayload on stdin when the serialized
// payload exceeds the dispatcher's spill threshold: the full payload is
// written to PayloadPath instead and the hook receives a pointer to it.
type HookStdinEnvelope struct {
	SchemaVersion int    `json:"schema-version"`
	EventID       string `json:"event-id"`
	Timestamp     string `json:"timestamp"`
	Type          string `json:"type"`
	PayloadPath   string `json:"payload-path"`
}

func newEnvelope(p HookPayload, payloadPath string) HookStdinEnvelope {
	return HookStdinEnvelope{
		SchemaVersion: SchemaVersion,
		EventID:       p.EventID,
		Timestamp:     p.Timestamp.UTC().Format(time.RFC3339),
		Type:          string(p.Type),
		PayloadPath:   payloadPath,
	}
}

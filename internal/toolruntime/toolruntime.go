// Package toolruntime executes a single tool call end to end: acquiring the
// correct lock discipline for the turn, firing pre/post-execution hooks,
// racing execution against cancellation, and summarizing output for
// downstream hook payloads. It is the Go analog of codex-rs's
// tools/parallel.rs ToolCallRuntime.
package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/pkg/models"
)

// toolOutputPreviewBytes caps how much of a tool's output is embedded in
// hook payloads and summary events; the full output still reaches the
// model's transcript.
const toolOutputPreviewBytes = 512

// shellFamily lists the tool names that run a subprocess and therefore get
// a distinct "shell command" wording in abort messages. This mirrors the
// original's match arm exactly, including its inclusion of both
// "container.exec" and "shell_command" alongside "shell".
var shellFamily = map[string]bool{
	"shell":          true,
	"container.exec": true,
	"local_shell":    true,
	"shell_command":  true,
	"unified_exec":   true,
}

// Dispatcher executes one tool call and returns its result. Implementations
// are supplied by the tool registry/router.
type Dispatcher func(ctx context.Context, call models.ToolCall) (models.ToolResult, error)

// ParallelChecker reports whether a tool is declared safe to run
// concurrently with other tool calls in the same turn.
type ParallelChecker func(toolName string) bool

// Runtime drives tool-call execution for a single turn, applying the turn's
// RWMutex discipline: tools marked parallel-safe take the turn's read lock
// (many can run concurrently), everything else takes the write lock (runs
// exclusively against every other tool call in the turn).
type Runtime struct {
	dispatch        Dispatcher
	supportsParallel ParallelChecker
	hookManager     *hooks.ToolHookManager

	mu sync.RWMutex
}

// New constructs a Runtime. hookManager may be nil, in which case hook
// firing is skipped entirely (useful for tests that don't exercise hooks).
func New(dispatch Dispatcher, supportsParallel ParallelChecker, hookManager *hooks.ToolHookManager) *Runtime {
	if supportsParallel == nil {
		supportsParallel = func(string) bool { return false }
	}
	return &Runtime{dispatch: dispatch, supportsParallel: supportsParallel, hookManager: hookManager}
}

// Outcome is the result of handling one tool call, including whether it was
// aborted by cancellation rather than completing (possibly with an error).
type Outcome struct {
	Result   models.ToolResult
	Aborted  bool
	Duration time.Duration
}

// HandleToolCall runs one tool call under the appropriate lock, races it
// against ctx cancellation, fires tool_call_started/finished hooks, and
// returns a result that is never itself an unhandled error — cancellation
// and dispatch failures are both folded into an error ToolResult, matching
// the original's "the turn always gets a tool result back" contract.
func (r *Runtime) HandleToolCall(ctx context.Context, call models.ToolCall, sessionKey string) Outcome {
	if r.supportsParallel(call.Name) {
		r.mu.RLock()
		defer r.mu.RUnlock()
	} else {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	start := time.Now()

	hookCtx := &hooks.ToolHookContext{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Input:      call.Input,
		SessionKey: sessionKey,
	}
	if r.hookManager != nil {
		if err := r.hookManager.TriggerPreExecution(ctx, hookCtx); err != nil {
			hookCtx.Canceled = true
			hookCtx.CancelReason = err.Error()
		}
	}
	if hookCtx.Canceled {
		duration := time.Since(start)
		result := models.ToolResult{
			ToolCallID: call.ID,
			Content:    abortMessage(call.Name, duration),
			IsError:    true,
		}
		r.fireFinished(ctx, hookCtx, result, duration)
		return Outcome{Result: result, Aborted: true, Duration: duration}
	}

	if hookCtx.Modified {
		call.Input = hookCtx.Input
	}

	type execOutcome struct {
		result models.ToolResult
		err    error
	}
	resultChan := make(chan execOutcome, 1)

	go func() {
		result, err := r.dispatch(ctx, call)
		select {
		case resultChan <- execOutcome{result: result, err: err}:
		default:
		}
	}()

	var outcome Outcome
	select {
	case <-ctx.Done():
		duration := time.Since(start)
		result := models.ToolResult{
			ToolCallID: call.ID,
			Content:    abortMessage(call.Name, duration),
			IsError:    true,
		}
		outcome = Outcome{Result: result, Aborted: true, Duration: duration}
	case res := <-resultChan:
		if res.err != nil {
			outcome = Outcome{
				Result: models.ToolResult{
					ToolCallID: call.ID,
					Content:    res.err.Error(),
					IsError:    true,
				},
				Duration: time.Since(start),
			}
		} else {
			outcome = Outcome{Result: res.result, Duration: time.Since(start)}
		}
	}

	r.fireFinished(ctx, hookCtx, outcome.Result, outcome.Duration)
	return outcome
}

func (r *Runtime) fireFinished(ctx context.Context, hookCtx *hooks.ToolHookContext, result models.ToolResult, duration time.Duration) {
	if r.hookManager == nil {
		return
	}
	hookCtx.Output, _ = summarizeToolOutput(result.Content)
	hookCtx.Duration = duration
	if result.IsError {
		hookCtx.ErrorMsg = result.Content
	}
	_ = r.hookManager.TriggerPostExecution(ctx, hookCtx)
}

// abortMessage renders the per-tool-family wording used whenever a tool
// call never ran (or was cut short) because its turn was aborted. Shell-
// family tools report the wall time they ran before the abort on its own
// line, matching the wording shell commands use for ordinary completion;
// every other tool gets the shorter generic form.
func abortMessage(toolName string, elapsed time.Duration) string {
	secs := elapsed.Seconds()
	if shellFamily[toolName] {
		return fmt.Sprintf("Wall time: %.1f seconds\naborted by user", secs)
	}
	return fmt.Sprintf("aborted by user after %.1fs", secs)
}

// summarizeToolOutput truncates content to a UTF-8-boundary-safe preview
// and reports whether truncation occurred, mirroring
// summarize_tool_output/summarize_mcp_tool_output's combined behavior: both
// treat the tool's full textual content as a single string to preview over,
// never allocating more than the preview window plus a small remainder
// check.
func summarizeToolOutput(content string) (preview string, truncated bool) {
	return truncatePreview(content, toolOutputPreviewBytes)
}

// truncatePreview returns the first n bytes of s, shortened further if
// needed so it ends on a rune boundary, without ever materializing more
// than n+utf8.UTFMax bytes of s.
func truncatePreview(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	cut := n
	for cut > 0 && !isRuneBoundary(s, cut) {
		cut--
	}
	return s[:cut], true
}

func isRuneBoundary(s string, i int) bool {
	if i == 0 || i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

// toolInputValue converts a tool call's raw JSON input into a generic value
// suitable for embedding in a hook payload, the Go analog of
// tool_input_value's tagged-payload-to-JSON-value conversion.
func toolInputValue(input json.RawMessage) any {
	if len(input) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return strings.TrimSpace(string(input))
	}
	return v
}

package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/applypatch"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

// ApplyPatchTool applies patches to workspace files. Patches in the
// `*** Begin Patch` envelope format run through internal/applypatch's
// parser and in-process applier, with the sandbox-escalation and
// approval-cache discipline internal/applypatch implements; anything else
// is treated as a classic unified diff (---/+++/@@) and applied with the
// legacy path below.
type ApplyPatchTool struct {
	resolver  Resolver
	runner    *applypatch.Runner
	workspace string

	// sandboxPolicy/approvalPolicy select the attempt the envelope path
	// runs under. Default is {KindNone, ApprovalDangerFullAccess}, which
	// ShouldRunInProcess accepts directly (no sandboxed re-invoke). A
	// caller wiring a real sandboxed binary can override both via
	// SetSandboxPolicy/SetApprovalPolicy.
	sandboxPolicy  sandbox.Kind
	approvalPolicy sandbox.ApprovalPolicy
}

// NewApplyPatchTool creates an apply_patch tool scoped to the workspace.
func NewApplyPatchTool(cfg Config) *ApplyPatchTool {
	return &ApplyPatchTool{
		resolver:       Resolver{Root: cfg.Workspace},
		runner:         applypatch.NewRunner(nil),
		workspace:      cfg.Workspace,
		sandboxPolicy:  sandbox.KindNone,
		approvalPolicy: sandbox.ApprovalDangerFullAccess,
	}
}

// SetApprovalCache installs a persisted approval cache so identical
// {patch,cwd} pairs across turns (or process restarts) skip re-prompting.
func (t *ApplyPatchTool) SetApprovalCache(cache *applypatch.ApprovalCache) {
	t.runner = applypatch.NewRunner(cache)
}

// SetSandboxPolicy overrides the attempt's sandbox kind. Passing anything
// other than sandbox.KindNone means every envelope patch is re-invoked out
// of process via BuildCommandSpec rather than applied in-process.
func (t *ApplyPatchTool) SetSandboxPolicy(kind sandbox.Kind) {
	t.sandboxPolicy = kind
}

// SetApprovalPolicy overrides the attempt's approval posture.
func (t *ApplyPatchTool) SetApprovalPolicy(policy sandbox.ApprovalPolicy) {
	t.approvalPolicy = policy
}

// Name returns the tool name.
func (t *ApplyPatchTool) Name() string {
	return "apply_patch"
}

// Description returns the tool description.
func (t *ApplyPatchTool) Description() string {
	return "Apply a unified diff patch to one or more files in the workspace."
}

// Schema returns the JSON schema for tool parameters.
func (t *ApplyPatchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"patch": map[string]interface{}{
				"type":        "string",
				"description": "Unified diff patch (---/+++ headers required).",
			},
		},
		"required": []string{"patch"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute applies a unified diff patch.
func (t *ApplyPatchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Patch) == "" {
		return toolError("patch is required"), nil
	}

	if strings.HasPrefix(strings.TrimSpace(input.Patch), "*** Begin Patch") {
		return t.executeEnvelope(ctx, input.Patch)
	}

	patches, err := parseUnifiedDiff(input.Patch)
	if err != nil {
		return toolError(err.Error()), nil
	}

	results := make([]map[string]interface{}, 0, len(patches))
	for _, patch := range patches {
		resolved, err := t.resolver.Resolve(patch.Path)
		if err != nil {
			return toolError(err.Error()), nil
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return toolError(fmt.Sprintf("read file: %v", err)), nil
		}
		updated, err := applyFilePatch(string(data), patch)
		if err != nil {
			return toolError(fmt.Sprintf("apply patch: %v", err)), nil
		}
		if err := os.WriteFile(resolved, []byte(updated.Content), 0o644); err != nil {
			return toolError(fmt.Sprintf("write file: %v", err)), nil
		}
		results = append(results, map[string]interface{}{
			"path":          patch.Path,
			"hunks":         len(patch.Hunks),
			"lines_added":   updated.Added,
			"lines_removed": updated.Removed,
		})
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"applied": results,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

// executeEnvelope runs a `*** Begin Patch` envelope through
// internal/applypatch's Runner: parse, consult the approval cache, then
// either apply in-process or re-invoke this binary under the sandbox per
// ShouldRunInProcess. A failed sandboxed attempt is retried once at
// escalated (danger-full-access) permissions, matching the single-shot
// escalation order in sandbox.NextAttempt.
func (t *ApplyPatchTool) executeEnvelope(ctx context.Context, patchText string) (*agent.ToolResult, error) {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	outcome := t.runner.Run(ctx, exe, t.workspace, patchText, t.sandboxPolicy, t.approvalPolicy)
	if outcome.Err != nil && outcome.CommandSpec == nil && !outcome.RanInProcess {
		return toolError(outcome.Err.Error()), nil
	}

	if outcome.RanInProcess {
		if outcome.Err != nil {
			return toolError(fmt.Sprintf("apply patch: %v", outcome.Err)), nil
		}
		return t.envelopeSuccess(patchText)
	}

	output, exitCode, runErr := runCommandSpec(ctx, *outcome.CommandSpec)
	if runErr == nil && exitCode == 0 {
		return t.envelopeSuccess(patchText)
	}

	attempt := sandbox.NewAttempt(t.sandboxPolicy, t.approvalPolicy, nil)
	escalated, ok := t.runner.RetryAfterFailure(attempt)
	if !ok {
		return toolError(fmt.Sprintf("apply patch: exit %d: %s", exitCode, sanitizeCwd(t.workspace, output))), nil
	}

	retry := t.runner.Run(ctx, exe, t.workspace, patchText, escalated.Kind, escalated.Policy)
	if retry.RanInProcess {
		if retry.Err != nil {
			return toolError(fmt.Sprintf("apply patch (escalated): %v", retry.Err)), nil
		}
		return t.envelopeSuccess(patchText)
	}

	output, exitCode, runErr = runCommandSpec(ctx, *retry.CommandSpec)
	if runErr != nil || exitCode != 0 {
		return toolError(fmt.Sprintf("apply patch (escalated): exit %d: %s", exitCode, sanitizeCwd(t.workspace, output))), nil
	}
	return t.envelopeSuccess(patchText)
}

// envelopeSuccess re-parses patchText to report which files changed. The
// parse is cheap relative to a tool-call round trip and keeps the Runner's
// own parse (used for the apply decision) independent of the summary.
func (t *ApplyPatchTool) envelopeSuccess(patchText string) (*agent.ToolResult, error) {
	patch, err := applypatch.ParseEnvelope(patchText)
	if err != nil {
		return &agent.ToolResult{Content: "patch applied"}, nil
	}
	results := make([]map[string]interface{}, 0, len(patch.Changes))
	for _, change := range patch.Changes {
		kind := "update"
		switch change.Kind {
		case applypatch.ChangeAdd:
			kind = "add"
		case applypatch.ChangeDelete:
			kind = "delete"
		}
		entry := map[string]interface{}{"path": change.Path, "kind": kind}
		if change.MoveTo != "" {
			entry["moved_to"] = change.MoveTo
		}
		results = append(results, entry)
	}
	payload, err := json.MarshalIndent(map[string]interface{}{"applied": results}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: "patch applied"}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// runCommandSpec re-invokes this binary under the sandboxed CommandSpec
// internal/applypatch built, capturing combined stdout+stderr.
func runCommandSpec(ctx context.Context, spec applypatch.CommandSpec) (output string, exitCode int, err error) {
	if len(spec.Argv) == 0 {
		return "", -1, fmt.Errorf("apply_patch: empty command spec")
	}
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Cwd
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	out, runErr := cmd.CombinedOutput()
	exitCode = -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return string(out), exitCode, runErr
}

// sanitizeCwd strips cwd from msg so a failed re-invoke never leaks the
// session's absolute working directory back to the model.
func sanitizeCwd(cwd, msg string) string {
	trimmed := strings.ReplaceAll(msg, cwd+string(os.PathSeparator), "")
	return strings.ReplaceAll(trimmed, cwd, ".")
}

type filePatch struct {
	Path  string
	Hunks []hunk
}

type hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
}

type patchResult struct {
	Content string
	Added   int
	Removed int
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

func parseUnifiedDiff(patch string) ([]filePatch, error) {
	lines := strings.Split(patch, "\n")
	var patches []filePatch
	var current *filePatch
	var currentHunk *hunk

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index "):
			continue
		case strings.HasPrefix(line, "--- "):
			oldPath := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			_ = oldPath
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("invalid patch: missing +++ header")
			}
			newPath := strings.TrimSpace(strings.TrimPrefix(lines[i+1], "+++ "))
			newPath = strings.TrimPrefix(strings.TrimPrefix(newPath, "b/"), "a/")
			patches = append(patches, filePatch{Path: newPath})
			current = &patches[len(patches)-1]
			currentHunk = nil
			i++
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("invalid patch: hunk without file header")
			}
			match := hunkHeader.FindStringSubmatch(line)
			if match == nil {
				return nil, fmt.Errorf("invalid patch: malformed hunk header")
			}
			oldStart := atoi(match[1])
			oldLines := atoiDefault(match[2], 1)
			newStart := atoi(match[3])
			newLines := atoiDefault(match[4], 1)
			h := hunk{
				OldStart: oldStart,
				OldLines: oldLines,
				NewStart: newStart,
				NewLines: newLines,
			}
			current.Hunks = append(current.Hunks, h)
			currentHunk = &current.Hunks[len(current.Hunks)-1]
		default:
			if currentHunk == nil {
				continue
			}
			if line == "\\ No newline at end of file" {
				continue
			}
			if line == "" {
				continue
			}
			prefix := line[:1]
			if prefix != " " && prefix != "+" && prefix != "-" {
				return nil, fmt.Errorf("invalid patch line: %s", line)
			}
			currentHunk.Lines = append(currentHunk.Lines, line)
		}
	}

	if len(patches) == 0 {
		return nil, fmt.Errorf("invalid patch: no file headers found")
	}
	return patches, nil
}

func applyFilePatch(content string, patch filePatch) (patchResult, error) {
	hadTrailing := strings.HasSuffix(content, "\n")
	trimmed := strings.TrimSuffix(content, "\n")
	var lines []string
	if trimmed == "" {
		lines = []string{}
	} else {
		lines = strings.Split(trimmed, "\n")
	}

	added := 0
	removed := 0

	for _, h := range patch.Hunks {
		idx := h.OldStart - 1
		if idx < 0 {
			idx = 0
		}
		for _, line := range h.Lines {
			if line == "" {
				continue
			}
			prefix := line[:1]
			text := ""
			if len(line) > 1 {
				text = line[1:]
			}
			switch prefix {
			case " ":
				if idx >= len(lines) || lines[idx] != text {
					return patchResult{}, fmt.Errorf("context mismatch")
				}
				idx++
			case "-":
				if idx >= len(lines) || lines[idx] != text {
					return patchResult{}, fmt.Errorf("delete mismatch")
				}
				lines = append(lines[:idx], lines[idx+1:]...)
				removed++
			case "+":
				lines = append(lines[:idx], append([]string{text}, lines[idx:]...)...)
				idx++
				added++
			}
		}
	}

	result := strings.Join(lines, "\n")
	if hadTrailing {
		result += "\n"
	}
	return patchResult{Content: result, Added: added, Removed: removed}, nil
}

func atoi(value string) int {
	if value == "" {
		return 0
	}
	var out int
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0
		}
		out = out*10 + int(r-'0')
	}
	return out
}

func atoiDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed := atoi(value)
	if parsed == 0 {
		return fallback
	}
	return parsed
}

package applypatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/haasonsaas/nexus/internal/sandbox"
)

// SandboxPolicy is the subset of internal/sandbox.Kind that affects where a
// patch runs: fully unsandboxed, platform-sandboxed, or explicitly granted
// full access for this call. Aliased (not redeclared) so apply_patch shares
// the turn engine's one canonical sandbox-kind enum.
type SandboxPolicy = sandbox.Kind

const (
	SandboxNone             = sandbox.KindNone
	SandboxWorkspaceWrite   = sandbox.KindOSSandbox
	SandboxDangerFullAccess = sandbox.KindDangerFullAccess
)

// ApprovalPolicy mirrors the turn engine's configured escalation posture;
// aliased to internal/sandbox.ApprovalPolicy for the same reason.
type ApprovalPolicy = sandbox.ApprovalPolicy

const (
	ApprovalUnlessTrusted    = sandbox.ApprovalUnlessTrusted
	ApprovalOnFailure        = sandbox.ApprovalOnFailure
	ApprovalNever            = sandbox.ApprovalNever
	ApprovalDangerFullAccess = sandbox.ApprovalDangerFullAccess
)

// CommandSpec describes how to re-invoke this binary, out of process, to
// apply a patch under the sandbox rather than in-process.
type CommandSpec struct {
	Argv []string
	Env  map[string]string
	Cwd  string
}

// reinvokeArg is injected by the caller from config.ApplyPatchConfig so the
// re-invocation argv always matches the binary's actual flag name.
var reinvokeArg = "--agent-run-as-apply-patch"

// SetReinvokeArg overrides the default reinvoke flag, called once at
// startup from the loaded config.
func SetReinvokeArg(arg string) {
	if arg != "" {
		reinvokeArg = arg
	}
}

// ShouldRunInProcess decides whether a patch can be applied directly in
// this process rather than re-invoked under a sandboxed subprocess.
// Mirrors the original: in-process application is only safe when there is
// no sandbox active AND the call has already been granted full-access
// approval — any other combination re-invokes itself under the sandbox so
// the OS (or container) boundary enforces the write restriction instead of
// this process's own bookkeeping.
func ShouldRunInProcess(sandbox SandboxPolicy, approval ApprovalPolicy) bool {
	return sandbox == SandboxNone && approval == ApprovalDangerFullAccess
}

// BuildCommandSpec constructs the argv used to re-invoke this binary under
// the sandbox with the raw patch text piped via argv rather than stdin, so
// the sandboxed child needs no special stdin plumbing. The environment map
// is intentionally empty: the sandboxed child inherits nothing from the
// parent's environment by default, matching the original's empty env map
// for apply_patch re-invocation.
func BuildCommandSpec(exe, cwd, patchText string) CommandSpec {
	return CommandSpec{
		Argv: []string{exe, reinvokeArg, patchText},
		Env:  map[string]string{},
		Cwd:  cwd,
	}
}

// EscalateOnFailure reports whether a failed in-process or sandboxed
// application attempt should be retried once with SandboxNone +
// ApprovalDangerFullAccess, pending interactive approval. apply_patch
// always escalates on failure; other tools may not.
const EscalateOnFailure = true

// ApprovalKey derives the cache key for a (patch, cwd) pair: a prior
// approval for identical patch text in the same working directory can be
// replayed without re-prompting, but changing either invalidates it.
func ApprovalKey(patchText, cwd string) string {
	sum := sha256.Sum256([]byte(cwd + "\x00" + patchText))
	return hex.EncodeToString(sum[:])
}

// Runner ties parsing, the in-process/sandboxed decision, and the
// approval cache together into the single entry point the tool router
// calls for an apply_patch invocation.
type Runner struct {
	cache *ApprovalCache
}

// NewRunner constructs a Runner backed by the given approval cache (nil
// disables caching — every call requires a fresh approval decision).
func NewRunner(cache *ApprovalCache) *Runner {
	return &Runner{cache: cache}
}

// Outcome reports what a Run call decided and, if applicable, did.
type Outcome struct {
	RanInProcess bool
	CommandSpec  *CommandSpec
	Err          error
}

// Run parses the envelope, consults the approval cache, and either applies
// the patch in-process or returns the CommandSpec the caller should
// re-invoke the binary with under its sandbox.
func (r *Runner) Run(ctx context.Context, exe, cwd, patchText string, sandbox SandboxPolicy, approval ApprovalPolicy) Outcome {
	patch, err := ParseEnvelope(patchText)
	if err != nil {
		return Outcome{Err: fmt.Errorf("parse patch: %w", err)}
	}

	if r.cache != nil {
		if approved, ok := r.cache.Lookup(ctx, ApprovalKey(patchText, cwd)); ok && approved {
			approval = ApprovalDangerFullAccess
		}
	}

	if ShouldRunInProcess(sandbox, approval) {
		if err := Apply(cwd, patch); err != nil {
			return Outcome{RanInProcess: true, Err: err}
		}
		if r.cache != nil {
			_ = r.cache.Remember(ctx, ApprovalKey(patchText, cwd), true)
		}
		return Outcome{RanInProcess: true}
	}

	spec := BuildCommandSpec(exe, cwd, patchText)
	return Outcome{CommandSpec: &spec}
}

// RetryAfterFailure decides whether a failed apply_patch attempt should be
// retried once with escalated (danger-full-access) permissions, per
// EscalateOnFailure. Delegates to sandbox.NextAttempt, which enforces the
// engine's single-shot escalation order: ok is false once attempt was
// already at KindDangerFullAccess, so a caller looping on this never
// retries more than twice total for one patch application.
func (r *Runner) RetryAfterFailure(attempt sandbox.Attempt) (sandbox.Attempt, bool) {
	return sandbox.NextAttempt(attempt, EscalateOnFailure)
}

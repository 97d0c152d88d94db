// Package sensitivepath implements the gitignore-style allow/deny policy that
// gates which repository paths may be discovered, read, or sent to the model.
//
// It is the Go analog of codex-rs's sensitive_paths.rs: a policy keyed off a
// small set of ignore files (".agentignore" by default) found at the
// repository root, with an epoch value cheap enough to recompute every turn
// so callers can invalidate path-based caches without re-parsing the ignore
// files themselves.
package sensitivepath

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/config"
)

// Decision is the result of evaluating a path against the policy.
type Decision int

const (
	// Allow indicates the path may be discovered, read, or sent.
	Allow Decision = iota
	// Deny indicates the path is sensitive and must be excluded.
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

// DeniedMessage is the stable, path-free message surfaced to callers when a
// path is denied. It intentionally never echoes the path back, to avoid
// leaking sensitive path segments into model-visible text.
const DeniedMessage = "denied by sensitive-path policy"

// Policy evaluates paths against a repository's ignore files.
//
// A Policy is safe for concurrent use. The compiled matcher is built lazily
// on first use and cached until Invalidate is called (typically in response
// to an fsnotify event on one of the ignore files).
type Policy struct {
	repoRoot     string // empty if no repo root was found
	enabled      bool
	pathMatching bool
	ignoreFiles  []string

	mu      sync.Mutex
	matcher *gitignoreMatcher // nil until built; absent-ignore-files also caches as nil
	built   bool
}

// New constructs a Policy rooted at cwd using the given exclusion settings.
func New(cwd string, exclusion config.ExclusionPolicyConfig) *Policy {
	root, _ := findRepoRoot(cwd)
	return &Policy{
		repoRoot:     root,
		enabled:      exclusion.Enabled,
		pathMatching: exclusion.PathMatching,
		ignoreFiles:  exclusion.Files,
	}
}

// findRepoRoot walks up from dir looking for a ".git" entry.
func findRepoRoot(dir string) (string, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	for {
		if info, err := os.Stat(filepath.Join(abs, ".git")); err == nil && info != nil {
			return abs, true
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", false
		}
		abs = parent
	}
}

// DecisionDiscover evaluates an absolute path during discovery (directory
// walk, globbing). isDir, when non-nil, avoids a stat call.
func (p *Policy) DecisionDiscover(path string, isDir *bool) Decision {
	if p.isIgnoreFile(path) {
		return Deny
	}
	if p.isIgnoreMatch(path, isDir) {
		return Deny
	}
	return Allow
}

// DecisionSend evaluates an absolute path before its contents are sent to
// the model. It is stricter than DecisionDiscover only in that ignore-file
// names are always denied even when path matching is disabled.
func (p *Policy) DecisionSend(path string) Decision {
	if p.isIgnoreFile(path) {
		return Deny
	}
	return p.DecisionDiscover(path, nil)
}

// DecisionSendRelative evaluates a path already relative to the repo root.
func (p *Policy) DecisionSendRelative(relative string, isDir *bool) Decision {
	if p.isIgnoreFile(relative) {
		return Deny
	}
	return p.decisionDiscoverRelative(relative, isDir)
}

// IsExclusionControlPath reports whether path names one of the policy's own
// ignore files (so editing it can itself be gated or logged distinctly).
func (p *Policy) IsExclusionControlPath(path string) bool {
	return p.isIgnoreFile(path)
}

// IgnoreFilePaths returns the absolute paths of the configured ignore files
// that currently exist under the repo root. Empty when disabled or when no
// repo root was found.
func (p *Policy) IgnoreFilePaths() []string {
	if !p.enabled || p.repoRoot == "" {
		return nil
	}
	var out []string
	for _, name := range p.ignoreFiles {
		candidate := filepath.Join(p.repoRoot, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			out = append(out, candidate)
		}
	}
	return out
}

// ignoreEpoch mixing constants, preserved exactly from the original
// implementation so epoch values remain stable test fixtures.
const (
	epochSeed   uint64 = 0x9e3779b97f4a7c15
	epochSecs   uint64 = 0x9e3779b97f4a7c15
	epochNanos  uint64 = 0xc2b2ae3d27d4eb4f
	epochLen    uint64 = 0x165667b19e3779f9
	rotSecs     = 13
	rotNanos    = 17
	rotLen      = 11
)

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// IgnoreEpoch combines the mtime and size of every configured ignore file
// that currently exists into a single cheap-to-recompute value. Callers use
// it to invalidate path-based caches without re-parsing ignore files on
// every lookup: if the epoch hasn't changed, the cache is still valid.
func (p *Policy) IgnoreEpoch() uint64 {
	acc := epochSeed
	for _, path := range p.IgnoreFilePaths() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		mtime := info.ModTime()
		secs := uint64(mtime.Unix())
		nanos := uint64(mtime.Nanosecond())
		length := uint64(info.Size())

		acc ^= secs * epochSecs
		acc = rotl(acc, rotSecs)
		acc ^= nanos * epochNanos
		acc = rotl(acc, rotNanos)
		acc ^= length * epochLen
		acc = rotl(acc, rotLen)
	}
	return acc
}

// Invalidate drops the cached matcher, forcing the next match to recompile
// the ignore files. Call this when an fsnotify watch fires on an ignore file.
func (p *Policy) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.built = false
	p.matcher = nil
}

func (p *Policy) isIgnoreMatch(path string, isDir *bool) bool {
	if !p.enabled || !p.pathMatching || p.repoRoot == "" {
		return false
	}
	rel, err := filepath.Rel(p.repoRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return p.decisionDiscoverRelative(rel, isDir) == Deny
}

func (p *Policy) decisionDiscoverRelative(relative string, isDir *bool) Decision {
	if p.isIgnoreFile(relative) {
		return Deny
	}
	if !p.enabled || !p.pathMatching || p.repoRoot == "" {
		return Allow
	}
	matcher := p.ignoreMatcher()
	if matcher == nil {
		return Allow
	}
	dir := false
	if isDir != nil {
		dir = *isDir
	}
	if matcher.matches(relative, dir) {
		return Deny
	}
	return Allow
}

func (p *Policy) isIgnoreFile(path string) bool {
	name := filepath.Base(path)
	for _, candidate := range p.ignoreFiles {
		if candidate == name {
			return true
		}
	}
	return false
}

func (p *Policy) ignoreMatcher() *gitignoreMatcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.built {
		return p.matcher
	}
	p.built = true
	if !p.enabled || !p.pathMatching || p.repoRoot == "" {
		return nil
	}
	var paths []string
	for _, name := range p.ignoreFiles {
		candidate := filepath.Join(p.repoRoot, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			paths = append(paths, candidate)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	m, err := newGitignoreMatcher(paths)
	if err != nil {
		return nil
	}
	p.matcher = m
	return p.matcher
}

// FormatDeniedMessage returns the stable, path-free denial message.
func (p *Policy) FormatDeniedMessage() string {
	return DeniedMessage
}

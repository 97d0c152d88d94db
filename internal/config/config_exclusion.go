package config

import "time"

// ExclusionPolicyConfig configures the sensitive-path policy used to decide
// which repository paths may be discovered, read, or sent to the model.
type ExclusionPolicyConfig struct {
	// Enabled toggles the policy entirely. When false, every path is Allow.
	Enabled bool `yaml:"enabled"`

	// PathMatching toggles gitignore-style pattern matching against the
	// configured ignore files. When false, only the ignore files themselves
	// are denied (their contents are not consulted).
	PathMatching bool `yaml:"path_matching"`

	// Files lists the ignore-file names consulted at the repo root, in
	// order. Default: [".agentignore"].
	Files []string `yaml:"files"`
}

// ContentGatewayConfig configures the layered content gateway that scans
// tool output and response text for sensitive-path mentions and secrets
// before they reach the transcript or the model.
type ContentGatewayConfig struct {
	// Enabled toggles the gateway. When false, ScanText is a no-op.
	Enabled bool `yaml:"enabled"`

	// ContentHashing toggles the L3 fingerprint cache that skips rescanning
	// content whose SHA-256 prefix was already classified this epoch.
	ContentHashing bool `yaml:"content_hashing"`

	// SubstringMatching toggles L2 path-candidate scanning.
	SubstringMatching bool `yaml:"substring_matching"`

	// SecretPatterns toggles L2 secret-pattern scanning as a whole.
	SecretPatterns bool `yaml:"secret_patterns"`

	// SecretPatternsBuiltin toggles the built-in secret regex set (AWS keys,
	// GitHub PATs, PEM headers, generic key=value secrets).
	SecretPatternsBuiltin bool `yaml:"secret_patterns_builtin"`

	// SecretPatternsAllowlist are additional regexes scanned for alongside
	// (or instead of, when the builtin set is disabled) the builtin set.
	SecretPatternsAllowlist []string `yaml:"secret_patterns_allowlist"`

	// SecretPatternsBlocklist are regexes whose matches are never redacted,
	// used to suppress known false positives.
	SecretPatternsBlocklist []string `yaml:"secret_patterns_blocklist"`

	// OnMatch controls what happens when L2 finds a match: "warn" (report
	// only), "redact" (replace with a placeholder), or "block" (replace the
	// entire text with "[BLOCKED]"). Default: "redact".
	OnMatch string `yaml:"on_match"`

	// LogRedactions mirrors exclusion_log.enabled; kept here too so the
	// gateway can short-circuit its own structured-log emission.
	LogRedactions bool `yaml:"log_redactions"`

	// FingerprintCacheSize bounds the number of content fingerprints cached
	// to skip re-scanning unchanged safe content. 0 disables the cache.
	FingerprintCacheSize int `yaml:"fingerprint_cache_size"`
}

// ExclusionLogConfig configures the JSONL audit log of redaction/exclusion
// decisions made by the content gateway and sensitive-path policy.
type ExclusionLogConfig struct {
	// Enabled toggles logging entirely.
	Enabled bool `yaml:"enabled"`

	// Directory is where rotated JSONL log files are written.
	Directory string `yaml:"directory"`

	// Mode controls how much context is logged: "summary" (sanitized text
	// only) or "raw" (also includes pre-redaction text, for debugging).
	Mode string `yaml:"mode"`

	// FlushMaxEntries buffers writes, flushing once this many entries have
	// queued. Default: 100.
	FlushMaxEntries int `yaml:"flush_max_entries"`

	// FlushInterval buffers writes, flushing at least this often even if
	// FlushMaxEntries hasn't been reached. Default: 500ms.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// ContextWindowLines is the number of lines of context captured around
	// the first line where original and sanitized text diverge. Default: 5.
	ContextWindowLines int `yaml:"context_window_lines"`

	// MaxBytes triggers rotation once the current file plus pending writes
	// would exceed this size.
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxFiles bounds how many rotated files are kept (current + backups).
	// MaxFiles == 1 truncates by deleting instead of rotating.
	MaxFiles int `yaml:"max_files"`
}

// HookDispatchConfig configures the subprocess hook dispatcher that runs
// external hook executables in response to agent lifecycle events.
type HookDispatchConfig struct {
	// Enabled toggles the dispatcher.
	Enabled bool `yaml:"enabled"`

	// Directories lists directories scanned for hook executables.
	Directories []string `yaml:"directories"`

	// Timeout bounds a single hook invocation.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrent bounds how many hook subprocesses may run at once.
	// Default: 8.
	MaxConcurrent int `yaml:"max_concurrent"`

	// SpillThresholdBytes is the payload size above which the hook's stdin
	// envelope is written to a temp file and the path is passed instead of
	// inlining the payload.
	SpillThresholdBytes int `yaml:"spill_threshold_bytes"`

	// LogDirectory is where hook stdout/stderr transcripts are written.
	LogDirectory string `yaml:"log_directory"`

	// PayloadDirectory is where oversize hook payloads are spilled before
	// a HookStdinEnvelope pointing at the file is piped to the hook.
	PayloadDirectory string `yaml:"payload_directory"`

	// PruneSchedule is a cron expression controlling how often spilled
	// payload files and rotated logs older than PruneAge are removed.
	PruneSchedule string `yaml:"prune_schedule"`

	// PruneAge is the minimum age of a spilled/log artifact before it is
	// eligible for pruning.
	PruneAge time.Duration `yaml:"prune_age"`

	// KeepLastNPayloads bounds how many payload and log files are kept per
	// directory after a prune sweep, newest first by filename (the
	// millisecond-timestamp prefix sorts chronologically).
	KeepLastNPayloads int `yaml:"keep_last_n_payloads"`
}

// ApplyPatchConfig configures the apply-patch tool runtime.
type ApplyPatchConfig struct {
	// ReinvokeArg is the frozen argv[1] used when the runtime re-invokes
	// itself under a sandboxed command spec to apply a patch out of
	// process.
	ReinvokeArg string `yaml:"reinvoke_arg"`

	// ApprovalCachePath is the sqlite database file backing the persisted
	// per-{patch,cwd} approval cache.
	ApprovalCachePath string `yaml:"approval_cache_path"`

	// ApprovalCacheSigningKey signs cache entries so they can't be replayed
	// across a different {patch, cwd} pair after a restart.
	ApprovalCacheSigningKey string `yaml:"approval_cache_signing_key"`
}

func applyExclusionDefaults(cfg *ExclusionPolicyConfig) {
	if len(cfg.Files) == 0 {
		cfg.Files = []string{".agentignore"}
	}
}

func applyContentGatewayDefaults(cfg *ContentGatewayConfig) {
	if cfg.OnMatch == "" {
		cfg.OnMatch = "redact"
	}
	if cfg.FingerprintCacheSize == 0 {
		cfg.FingerprintCacheSize = 2048
	}
}

func applyExclusionLogDefaults(cfg *ExclusionLogConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "summary"
	}
	if cfg.FlushMaxEntries == 0 {
		cfg.FlushMaxEntries = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.ContextWindowLines == 0 {
		cfg.ContextWindowLines = 5
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 5
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 * 1024 * 1024
	}
}

func applyHookDispatchDefaults(cfg *HookDispatchConfig) {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SpillThresholdBytes == 0 {
		cfg.SpillThresholdBytes = 64 * 1024
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "@hourly"
	}
	if cfg.PruneAge == 0 {
		cfg.PruneAge = 24 * time.Hour
	}
	if cfg.LogDirectory == "" {
		cfg.LogDirectory = "tmp/hooks/logs"
	}
	if cfg.PayloadDirectory == "" {
		cfg.PayloadDirectory = "tmp/hooks/payloads"
	}
	if cfg.KeepLastNPayloads == 0 {
		cfg.KeepLastNPayloads = 200
	}
}

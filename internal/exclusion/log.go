package exclusion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/contentgateway"
	"github.com/haasonsaas/nexus/internal/observability"
)

const (
	logDirName  = "log"
	logFileName = "exclusion-redactions.jsonl"
)

// EventContext carries the per-event metadata that accompanies a redaction
// or block decision into the JSONL log.
type EventContext struct {
	Layer      Layer
	Source     Source
	ToolName   string
	OriginType string
	OriginPath string // empty means omit
}

// Logger buffers redaction-event JSONL entries and flushes them to disk on
// a count/time threshold, rotating the log file when it would grow past
// its configured size.
//
// Unlike the original's process-global LOG_QUEUE, Logger is an explicit
// per-session instance: codex-rs's global made sense for a single-process
// CLI, but this module's turn engine may host multiple concurrent sessions
// in one process, so each Session owns its own Logger writing into its own
// directory.
type Logger struct {
	cfg config.ExclusionLogConfig
	log *observability.Logger

	mu        sync.Mutex
	buffer    []string
	lastFlush time.Time
}

// NewLogger constructs a Logger. log may be nil, in which case flush
// failures are silently dropped rather than logged.
func NewLogger(cfg config.ExclusionLogConfig, log *observability.Logger) *Logger {
	return &Logger{cfg: cfg, log: log, lastFlush: time.Now()}
}

// LogRedactionEvent records one scan outcome. It is a no-op when logging is
// disabled or the report reflects neither a redaction nor a block.
func (l *Logger) LogRedactionEvent(ctx EventContext, report contentgateway.ScanReport, original, sanitized string) {
	if !l.cfg.Enabled || l.cfg.Mode == "off" {
		return
	}
	if !report.Redacted && !report.Blocked {
		return
	}

	timestampMS := time.Now().UnixMilli()
	startLine, matchLine, originalContext, sanitizedContext := buildContextWindow(original, sanitized, l.cfg.ContextWindowLines)

	reasons := make([]string, len(report.Reasons))
	for i, r := range report.Reasons {
		reasons[i] = r.String()
	}

	fields := map[string]any{
		"timestamp_ms":       timestampMS,
		"layer":              ctx.Layer.label(),
		"source":             ctx.Source.label(),
		"tool_name":          ctx.ToolName,
		"redacted":           report.Redacted,
		"blocked":            report.Blocked,
		"origin_type":        ctx.OriginType,
		"reasons":            reasons,
		"context_start_line": startLine,
		"match_line":         matchLine,
		"context_sanitized":  sanitizedContext,
	}
	if ctx.OriginPath != "" {
		fields["origin_path"] = ctx.OriginPath
	}
	if strings.EqualFold(l.cfg.Mode, "raw") {
		fields["context_original"] = originalContext
	}

	line, err := json.Marshal(fields)
	if err != nil {
		l.warn("failed to serialize exclusion log entry", err)
		return
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, string(line))
	shouldFlush := len(l.buffer) >= maxInt(l.cfg.FlushMaxEntries, 1) || time.Since(l.lastFlush) >= l.cfg.FlushInterval
	var pending []string
	if shouldFlush {
		pending = l.buffer
		l.buffer = nil
		l.lastFlush = time.Now()
	}
	l.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if err := l.flushEntries(pending); err != nil {
		l.warn("failed to flush exclusion log entries", err)
	}
}

// Flush forces any buffered entries to disk, e.g. on session shutdown.
func (l *Logger) Flush() error {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.lastFlush = time.Now()
	l.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	return l.flushEntries(pending)
}

func (l *Logger) flushEntries(entries []string) error {
	if len(entries) == 0 {
		return nil
	}
	logDir := filepath.Join(l.cfg.Directory, logDirName)
	if err := ensureDir(logDir); err != nil {
		return err
	}
	logPath := filepath.Join(logDir, logFileName)
	if err := rotateLogIfNeeded(logPath, l.cfg.MaxBytes, l.cfg.MaxFiles, entries); err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	setFilePermissions(logPath)
	for _, line := range entries {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}

func rotateLogIfNeeded(logPath string, maxBytes int64, maxFiles int, pending []string) error {
	if maxBytes <= 0 {
		return nil
	}
	if maxFiles < 1 {
		maxFiles = 1
	}
	var pendingBytes int64
	for _, line := range pending {
		pendingBytes += int64(len(line)) + 1
	}
	var currentSize int64
	if info, err := os.Stat(logPath); err == nil {
		currentSize = info.Size()
	}
	if currentSize+pendingBytes <= maxBytes {
		return nil
	}
	if maxFiles == 1 {
		_ = os.Remove(logPath)
		return nil
	}
	for idx := maxFiles - 1; idx >= 1; idx-- {
		src := rotatedPath(logPath, idx-1)
		dst := rotatedPath(logPath, idx)
		if _, err := os.Stat(src); err == nil {
			_ = os.Remove(dst)
			_ = os.Rename(src, dst)
		}
	}
	return nil
}

func rotatedPath(logPath string, index int) string {
	if index == 0 {
		return logPath
	}
	ext := strings.TrimPrefix(filepath.Ext(logPath), ".")
	if ext == "" {
		ext = "jsonl"
	}
	base := strings.TrimSuffix(logPath, filepath.Ext(logPath))
	return fmt.Sprintf("%s.%s.%d", base, ext, index)
}

func buildContextWindow(original, sanitized string, window int) (startLine, matchLine int, originalContext, sanitizedContext []string) {
	if window <= 0 {
		window = 5
	}
	originalLines := strings.Split(original, "\n")
	sanitizedLines := strings.Split(sanitized, "\n")
	diffIndex := firstDiffLine(originalLines, sanitizedLines)

	start := diffIndex - window
	if start < 0 {
		start = 0
	}
	maxLen := len(originalLines)
	if len(sanitizedLines) > maxLen {
		maxLen = len(sanitizedLines)
	}
	end := diffIndex + window + 1
	if end > maxLen {
		end = maxLen
	}

	return start + 1, diffIndex + 1, sliceLines(originalLines, start, end), sliceLines(sanitizedLines, start, end)
}

func firstDiffLine(original, sanitized []string) int {
	minLen := len(original)
	if len(sanitized) < minLen {
		minLen = len(sanitized)
	}
	for i := 0; i < minLen; i++ {
		if original[i] != sanitized[i] {
			return i
		}
	}
	return minLen
}

func sliceLines(lines []string, start, end int) []string {
	if start >= len(lines) || start >= end {
		return nil
	}
	if end > len(lines) {
		end = len(lines)
	}
	out := make([]string, end-start)
	copy(out, lines[start:end])
	return out
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}
	setDirPermissions(path)
	return nil
}

func setDirPermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	_ = os.Chmod(path, 0o700)
}

func setFilePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	_ = os.Chmod(path, 0o600)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (l *Logger) warn(msg string, err error) {
	if l.log == nil {
		return
	}
	l.log.Warn(context.Background(), msg, "error", err)
}

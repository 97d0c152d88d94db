package hookdispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type recordingSink struct {
	begins []ProcessBegin
	ends   []ProcessEnd
}

func (r *recordingSink) HookProcessBegin(b ProcessBegin) { r.begins = append(r.begins, b) }
func (r *recordingSink) HookProcessEnd(e ProcessEnd)     { r.ends = append(r.ends, e) }

func shellCommand(t *testing.T, script string) Command {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based hook fixtures require a POSIX shell")
	}
	return Command{ID: "fixture", Argv: []string{"/bin/sh", "-c", script}}
}

func TestDispatchRunsRegisteredHooksAndLogs(t *testing.T) {
	payloadDir := t.TempDir()
	logDir := t.TempDir()
	sink := &recordingSink{}

	d, err := New(Options{PayloadDir: payloadDir, LogDir: logDir, Sink: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Register(EventSessionStart, shellCommand(t, "cat > /dev/null; echo ran"))

	if err := d.Dispatch(context.Background(), EventSessionStart, map[string]any{"thread-id": "abc"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(sink.begins) != 1 || len(sink.ends) != 1 {
		t.Fatalf("expected one begin/end pair, got begins=%d ends=%d", len(sink.begins), len(sink.ends))
	}
	if sink.ends[0].ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (err=%v)", sink.ends[0].ExitCode, sink.ends[0].Err)
	}

	logs, err := os.ReadDir(logDir)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one log file, got %v (err=%v)", logs, err)
	}
	data, err := os.ReadFile(filepath.Join(logDir, logs[0].Name()))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "ran") {
		t.Fatalf("expected log to contain hook stdout, got %q", string(data))
	}
	info, err := os.Stat(filepath.Join(logDir, logs[0].Name()))
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 log perms, got %v", info.Mode().Perm())
	}
}

func TestDispatchSpillsOversizePayload(t *testing.T) {
	payloadDir := t.TempDir()
	d, err := New(Options{PayloadDir: payloadDir, SpillBytes: 16})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Exercise prepareStdin directly: the spill path is the behavior under
	// test, not process stdout plumbing.
	payload := NewPayload("evt-1", time.Now(), EventNotification, map[string]any{
		"message": strings.Repeat("x", 200),
	})
	stdin, err := d.prepareStdin(payload)
	if err != nil {
		t.Fatalf("prepareStdin: %v", err)
	}

	var envelope HookStdinEnvelope
	if err := json.Unmarshal(stdin, &envelope); err != nil {
		t.Fatalf("expected an envelope, got %s: %v", stdin, err)
	}
	if envelope.PayloadPath == "" {
		t.Fatal("expected payload-path to be set")
	}
	if envelope.SchemaVersion != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, envelope.SchemaVersion)
	}

	info, err := os.Stat(envelope.PayloadPath)
	if err != nil {
		t.Fatalf("stat spilled payload: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 payload perms, got %v", info.Mode().Perm())
	}

	body, err := os.ReadFile(envelope.PayloadPath)
	if err != nil {
		t.Fatalf("read spilled payload: %v", err)
	}
	var full map[string]any
	if err := json.Unmarshal(body, &full); err != nil {
		t.Fatalf("unmarshal spilled payload: %v", err)
	}
	if full["event-id"] != "evt-1" {
		t.Fatalf("spilled payload missing event-id: %v", full)
	}
}

func TestDispatchSmallPayloadInlinesDirectly(t *testing.T) {
	d, err := New(Options{SpillBytes: 4096})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := NewPayload("evt-2", time.Now(), EventSessionEnd, map[string]any{"reason": "shutdown"})
	stdin, err := d.prepareStdin(payload)
	if err != nil {
		t.Fatalf("prepareStdin: %v", err)
	}
	var direct map[string]any
	if err := json.Unmarshal(stdin, &direct); err != nil {
		t.Fatalf("expected direct payload json, got %s: %v", stdin, err)
	}
	if _, spilled := direct["payload-path"]; spilled {
		t.Fatal("small payload should not spill")
	}
	if direct["type"] != string(EventSessionEnd) {
		t.Fatalf("unexpected type field: %v", direct["type"])
	}
}

func TestPruneKeepsOnlyNewestFiles(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, "000"+string(rune('0'+i))+"-x.json")
		if err := os.WriteFile(name, []byte("{}"), 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	if err := pruneDir(dir, 2); err != nil {
		t.Fatalf("pruneDir: %v", err)
	}
	remaining, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 files remaining, got %d", len(remaining))
	}
	if remaining[0].Name() != "0003-x.json" || remaining[1].Name() != "0004-x.json" {
		t.Fatalf("expected the two newest files to survive, got %v", remaining)
	}
}

func TestHookProcessBeginEndParity(t *testing.T) {
	sink := &recordingSink{}
	d, err := New(Options{Sink: sink, LogDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Register(EventToolCallStarted, shellCommand(t, "cat > /dev/null"))
	d.Register(EventToolCallStarted, shellCommand(t, "cat > /dev/null; exit 1"))

	if err := d.Dispatch(context.Background(), EventToolCallStarted, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sink.begins) != len(sink.ends) {
		t.Fatalf("begin/end count mismatch: begins=%d ends=%d", len(sink.begins), len(sink.ends))
	}
	if len(sink.begins) != 2 {
		t.Fatalf("expected 2 hooks dispatched, got %d", len(sink.begins))
	}
}

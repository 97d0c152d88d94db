package exclusion

import "testing"

func TestTurnCountersSnapshotNilWhenEmpty(t *testing.T) {
	counters := NewTurnCounters()
	if _, ok := counters.Snapshot(); ok {
		t.Fatalf("expected no snapshot for empty counters")
	}
}

func TestTurnCountersRecordAccumulatesPerLayerSourceAndTool(t *testing.T) {
	counters := NewTurnCounters()
	counters.Record(Layer2OutputSanitization, SourceShell, "exec", true, false)
	counters.Record(Layer2OutputSanitization, SourceShell, "exec", false, true)
	counters.Record(Layer1InputGuards, SourceFilesystem, "read_file", true, false)
	// A call with neither redacted nor blocked must be ignored.
	counters.Record(Layer3SendFirewall, SourceOther, "noop", false, false)

	snap, ok := counters.Snapshot()
	if !ok {
		t.Fatalf("expected a snapshot")
	}
	if snap.TotalRedacted != 2 || snap.TotalBlocked != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
	if snap.Layers.Layer2OutputSanitization.Redacted != 1 || snap.Layers.Layer2OutputSanitization.Blocked != 1 {
		t.Fatalf("unexpected layer2 counts: %+v", snap.Layers.Layer2OutputSanitization)
	}
	if snap.Sources.Shell.Redacted != 1 || snap.Sources.Shell.Blocked != 1 {
		t.Fatalf("unexpected shell source counts: %+v", snap.Sources.Shell)
	}
	if len(snap.PerTool) != 2 {
		t.Fatalf("expected 2 distinct tools, got %d: %+v", len(snap.PerTool), snap.PerTool)
	}
	// per_tool is sorted by name: "exec" before "read_file".
	if snap.PerTool[0].ToolName != "exec" || snap.PerTool[1].ToolName != "read_file" {
		t.Fatalf("unexpected per-tool ordering: %+v", snap.PerTool)
	}
}

package applypatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseEnvelopeAddFile(t *testing.T) {
	patch, err := ParseEnvelope("*** Begin Patch\n*** Add File: greeting.txt\n+hello\n+world\n*** End Patch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(patch.Changes) != 1 || patch.Changes[0].Kind != ChangeAdd {
		t.Fatalf("unexpected changes: %+v", patch.Changes)
	}
	if patch.Changes[0].Content != "hello\nworld\n" {
		t.Fatalf("unexpected content: %q", patch.Changes[0].Content)
	}
}

func TestParseEnvelopeRejectsMissingFooter(t *testing.T) {
	_, err := ParseEnvelope("*** Begin Patch\n*** Add File: a.txt\n+x\n")
	if err == nil {
		t.Fatal("expected error for missing footer")
	}
}

func TestApplyAddFileWritesContent(t *testing.T) {
	dir := t.TempDir()
	patch, err := ParseEnvelope("*** Begin Patch\n*** Add File: notes/a.txt\n+line one\n*** End Patch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Apply(dir, patch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "notes/a.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "line one\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestApplyUpdateFileReplacesMatchedHunk(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	patch, err := ParseEnvelope("*** Begin Patch\n*** Update File: a.txt\n@@\n one\n-two\n+TWO\n three\n*** End Patch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Apply(dir, patch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "one\nTWO\nthree\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestApplyDeleteFileRemovesFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(target, []byte("bye"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	patch, err := ParseEnvelope("*** Begin Patch\n*** Delete File: gone.txt\n*** End Patch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Apply(dir, patch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
}

func TestShouldRunInProcessOnlyWhenUnsandboxedAndFullyApproved(t *testing.T) {
	cases := []struct {
		sandbox  SandboxPolicy
		approval ApprovalPolicy
		want     bool
	}{
		{SandboxNone, ApprovalDangerFullAccess, true},
		{SandboxNone, ApprovalUnlessTrusted, false},
		{SandboxWorkspaceWrite, ApprovalDangerFullAccess, false},
	}
	for _, c := range cases {
		if got := ShouldRunInProcess(c.sandbox, c.approval); got != c.want {
			t.Fatalf("ShouldRunInProcess(%v, %v) = %v, want %v", c.sandbox, c.approval, got, c.want)
		}
	}
}

func TestApprovalKeyChangesWithPatchOrCwd(t *testing.T) {
	k1 := ApprovalKey("patch-a", "/cwd/one")
	k2 := ApprovalKey("patch-a", "/cwd/two")
	k3 := ApprovalKey("patch-b", "/cwd/one")
	if k1 == k2 || k1 == k3 {
		t.Fatalf("expected distinct keys, got %q %q %q", k1, k2, k3)
	}
}

func TestApprovalCacheRememberAndLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewApprovalCache(filepath.Join(dir, "approvals.db"), []byte("test-signing-key"))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	key := ApprovalKey("patch text", dir)

	if _, found := cache.Lookup(ctx, key); found {
		t.Fatalf("expected no entry before Remember")
	}
	if err := cache.Remember(ctx, key, true); err != nil {
		t.Fatalf("remember: %v", err)
	}
	approved, found := cache.Lookup(ctx, key)
	if !found || !approved {
		t.Fatalf("expected approved=true found=true, got approved=%v found=%v", approved, found)
	}
}

func TestApprovalCacheRejectsTokensSignedWithDifferentKey(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "approvals.db")
	cacheA, err := NewApprovalCache(dbPath, []byte("key-a"))
	if err != nil {
		t.Fatalf("new cache a: %v", err)
	}
	key := ApprovalKey("patch text", dir)
	if err := cacheA.Remember(context.Background(), key, true); err != nil {
		t.Fatalf("remember: %v", err)
	}
	cacheA.Close()

	cacheB, err := NewApprovalCache(dbPath, []byte("key-b"))
	if err != nil {
		t.Fatalf("new cache b: %v", err)
	}
	defer cacheB.Close()
	if _, found := cacheB.Lookup(context.Background(), key); found {
		t.Fatalf("expected lookup with mismatched signing key to fail")
	}
}

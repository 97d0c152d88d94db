package sessions

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestMemoryBranchStoreEnsurePrimaryBranchIsStable(t *testing.T) {
	store := NewMemoryBranchStore()
	ctx := context.Background()

	first, err := store.EnsurePrimaryBranch(ctx, "session-1")
	if err != nil {
		t.Fatalf("EnsurePrimaryBranch: %v", err)
	}
	if !first.IsPrimary {
		t.Error("expected the created branch to be primary")
	}

	second, err := store.EnsurePrimaryBranch(ctx, "session-1")
	if err != nil {
		t.Fatalf("EnsurePrimaryBranch: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected stable branch ID, got %q and %q", first.ID, second.ID)
	}
}

func TestMemoryBranchStoreAppendAndGetHistory(t *testing.T) {
	store := NewMemoryBranchStore()
	ctx := context.Background()

	branch, err := store.EnsurePrimaryBranch(ctx, "session-1")
	if err != nil {
		t.Fatalf("EnsurePrimaryBranch: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := &models.Message{Role: models.RoleUser, Content: "hi"}
		if err := store.AppendMessageToBranch(ctx, "session-1", branch.ID, msg); err != nil {
			t.Fatalf("AppendMessageToBranch: %v", err)
		}
	}

	history, err := store.GetBranchHistory(ctx, branch.ID, 100)
	if err != nil {
		t.Fatalf("GetBranchHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].SequenceNum != 1 || history[2].SequenceNum != 3 {
		t.Errorf("expected sequential sequence numbers, got %v", []int64{history[0].SequenceNum, history[1].SequenceNum, history[2].SequenceNum})
	}
}

func TestMemoryBranchStoreAppendToUnknownBranchFails(t *testing.T) {
	store := NewMemoryBranchStore()
	ctx := context.Background()

	err := store.AppendMessageToBranch(ctx, "session-1", "does-not-exist", &models.Message{})
	if err != ErrBranchNotFound {
		t.Fatalf("expected ErrBranchNotFound, got %v", err)
	}
}

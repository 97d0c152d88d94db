package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrBranchNotFound is returned when a branch ID has no matching branch.
var ErrBranchNotFound = errors.New("branch not found")

// BranchStore is the persistence interface the runtime uses for
// branch-aware history. Unlike Store, it is optional: a Runtime with no
// BranchStore set falls back to flat per-session history. The interface is
// intentionally narrow — it covers only what the turn loop needs to resolve
// "which branch is this message on" and to read/append that branch's
// history — not branch creation, merging, or archival, which belong to a
// richer branch-management surface this module doesn't implement.
type BranchStore interface {
	// EnsurePrimaryBranch returns the session's primary branch, creating it
	// if this is the session's first turn.
	EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)

	// GetBranchHistory returns up to limit messages for a branch, including
	// messages inherited from ancestor branches up to the branch point.
	GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error)

	// AppendMessageToBranch appends a message to a branch's own history.
	AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error
}

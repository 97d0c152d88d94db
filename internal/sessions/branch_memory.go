package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// MemoryBranchStore is an in-memory BranchStore for tests and local runs.
type MemoryBranchStore struct {
	mu       sync.Mutex
	primary  map[string]*models.Branch   // sessionID -> primary branch
	branches map[string]*models.Branch   // branchID -> branch
	messages map[string][]*models.Message // branchID -> own messages
}

// NewMemoryBranchStore creates a new in-memory branch store.
func NewMemoryBranchStore() *MemoryBranchStore {
	return &MemoryBranchStore{
		primary:  make(map[string]*models.Branch),
		branches: make(map[string]*models.Branch),
		messages: make(map[string][]*models.Message),
	}
}

func (s *MemoryBranchStore) EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch, ok := s.primary[sessionID]; ok {
		return cloneBranch(branch), nil
	}

	branch := models.NewPrimaryBranch(sessionID)
	branch.ID = uuid.NewString()
	s.primary[sessionID] = branch
	s.branches[branch.ID] = branch
	return cloneBranch(branch), nil
}

func (s *MemoryBranchStore) AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branchID == "" {
		if branch, ok := s.primary[sessionID]; ok {
			branchID = branch.ID
		}
	}
	if _, ok := s.branches[branchID]; !ok {
		return ErrBranchNotFound
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.BranchID = branchID

	var maxSeq int64
	for _, m := range s.messages[branchID] {
		if m.SequenceNum > maxSeq {
			maxSeq = m.SequenceNum
		}
	}
	clone.SequenceNum = maxSeq + 1

	s.messages[branchID] = append(s.messages[branchID], clone)
	return nil
}

func (s *MemoryBranchStore) GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}

	var result []*models.Message

	// Walk ancestors to collect inherited messages up to each branch point,
	// guarding against a circular parent chain.
	visited := make(map[string]bool)
	current := branch
	for current.ParentBranchID != nil {
		parentID := *current.ParentBranchID
		if visited[current.ID] {
			break
		}
		visited[current.ID] = true

		for _, msg := range s.messages[parentID] {
			if msg.SequenceNum <= current.BranchPoint {
				result = append(result, msg)
			}
		}
		parent, ok := s.branches[parentID]
		if !ok {
			break
		}
		current = parent
	}

	result = append(result, s.messages[branchID]...)
	if len(result) > limit {
		result = result[len(result)-limit:]
	}

	out := make([]*models.Message, len(result))
	for i, msg := range result {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

func cloneBranch(b *models.Branch) *models.Branch {
	if b == nil {
		return nil
	}
	clone := *b
	if b.ParentBranchID != nil {
		parentID := *b.ParentBranchID
		clone.ParentBranchID = &parentID
	}
	if b.Metadata != nil {
		clone.Metadata = deepCloneMap(b.Metadata)
	}
	return &clone
}

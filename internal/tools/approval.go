package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// ApprovalStatus is the lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// ApprovalRequest records a tool call waiting on a human.
type ApprovalRequest struct {
	ID             string          `json:"id"`
	ToolCallID     string          `json:"tool_call_id"`
	ToolName       string          `json:"tool_name"`
	Input          json.RawMessage `json:"input,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Status         ApprovalStatus  `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DecidedAt      time.Time       `json:"decided_at,omitempty"`
}

// Decision is the external answer to an approval request.
type Decision struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ApprovalStore persists approval requests.
type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Resolve(ctx context.Context, d Decision) (*ApprovalRequest, error)
	ListPending(ctx context.Context, conversationID string) ([]*ApprovalRequest, error)
	Prune(ctx context.Context, olderThan time.Duration) (int, error)

	// Wait blocks until the request is resolved or ctx ends.
	Wait(ctx context.Context, id string) (Decision, error)
}

type approvalRecord struct {
	req  ApprovalRequest
	done chan struct{}
}

// MemoryApprovalStore keeps approval requests in process memory.
type MemoryApprovalStore struct {
	mu       sync.Mutex
	requests map[string]*approvalRecord
	now      func() time.Time
}

// NewMemoryApprovalStore creates an empty store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{
		requests: make(map[string]*approvalRecord),
		now:      time.Now,
	}
}

// Create records req as pending. Re-creating an id that is still pending is
// a no-op.
func (s *MemoryApprovalStore) Create(ctx context.Context, req *ApprovalRequest) error {
	if req == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.requests[req.ID]; ok && existing.req.Status == ApprovalPending {
		return nil
	}
	stored := *req
	stored.Status = ApprovalPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.requests[req.ID] = &approvalRecord{req: stored, done: make(chan struct{})}
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	req := rec.req
	return &req, nil
}

// Resolve applies d and wakes every waiter.
func (s *MemoryApprovalStore) Resolve(ctx context.Context, d Decision) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[d.ID]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	if rec.req.Status != ApprovalPending {
		return nil, ErrAlreadyResolved
	}
	rec.req.Status = ApprovalDenied
	if d.Approved {
		rec.req.Status = ApprovalApproved
	}
	rec.req.Reason = d.Reason
	rec.req.DecidedAt = s.now()
	close(rec.done)

	req := rec.req
	return &req, nil
}

// ListPending returns pending requests, oldest first. An empty
// conversationID matches all.
func (s *MemoryApprovalStore) ListPending(ctx context.Context, conversationID string) ([]*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*ApprovalRequest
	for _, rec := range s.requests {
		if rec.req.Status != ApprovalPending {
			continue
		}
		if conversationID != "" && rec.req.ConversationID != conversationID {
			continue
		}
		req := rec.req
		result = append(result, &req)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// Prune drops requests created before now-olderThan, pending or not.
func (s *MemoryApprovalStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	pruned := 0
	for id, rec := range s.requests {
		if rec.req.CreatedAt.Before(cutoff) {
			delete(s.requests, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryApprovalStore) Wait(ctx context.Context, id string) (Decision, error) {
	s.mu.Lock()
	rec, ok := s.requests[id]
	s.mu.Unlock()
	if !ok {
		return Decision{}, ErrApprovalNotFound
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Decision{
		ID:       id,
		Approved: rec.req.Status == ApprovalApproved,
		Reason:   rec.req.Reason,
	}, nil
}

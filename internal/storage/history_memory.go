package storage

import (
	"context"
	"sync"

	"kinechat/internal/models"
)

// MemoryHistory is a process-local history store.
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message
	maxTurns int
}

// NewMemoryHistory keeps at most maxTurns per session (0 = unbounded).
func NewMemoryHistory(maxTurns int) *MemoryHistory {
	return &MemoryHistory{
		sessions: make(map[string][]models.Message),
		maxTurns: maxTurns,
	}
}

func (h *MemoryHistory) Append(_ context.Context, sessionID string, msg models.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append(h.sessions[sessionID], msg)
	if h.maxTurns > 0 && len(turns) > h.maxTurns {
		turns = append([]models.Message(nil), turns[len(turns)-h.maxTurns:]...)
	}
	h.sessions[sessionID] = turns
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	turns := h.sessions[sessionID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]models.Message, len(turns))
	copy(out, turns)
	return out, nil
}

func (h *MemoryHistory) Name() string { return "memory" }

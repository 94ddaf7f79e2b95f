package data

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// MemoryRecoveryStore is the default RecoveryStore. Entries live for the lifetime of the
// process only; a crash or restart loses them.
type MemoryRecoveryStore struct {
	mu      sync.Mutex
	entries map[string]model.Message
}

var _ core.RecoveryStore = (*MemoryRecoveryStore)(nil)

// NewMemoryRecoveryStore creates an empty in-memory store.
func NewMemoryRecoveryStore() *MemoryRecoveryStore {
	return &MemoryRecoveryStore{entries: make(map[string]model.Message)}
}

// Put records msg under its ID.
func (s *MemoryRecoveryStore) Put(_ context.Context, msg model.Message) error {
	if msg.ID == "" {
		return ErrMessageIDRequired
	}
	s.mu.Lock()
	s.entries[msg.ID] = msg
	s.mu.Unlock()
	return nil
}

// Remove deletes the entry for id.
func (s *MemoryRecoveryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Snapshot copies the current entries ordered by receive time.
func (s *MemoryRecoveryStore) Snapshot(_ context.Context) ([]model.Message, error) {
	s.mu.Lock()
	out := make([]model.Message, 0, len(s.entries))
	for _, m := range s.entries {
		out = append(out, m)
	}
	s.mu.Unlock()
	sortMessages(out)
	return out, nil
}

// Len returns the number of tracked entries.
func (s *MemoryRecoveryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Has reports whether id is tracked.
func (s *MemoryRecoveryStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
	})
}

// ErrMessageIDRequired is returned when a message without an ID is stored.
var ErrMessageIDRequired = errors.New("message id is required")

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

// MemoryTaskStore keeps task records in process memory. Updates to the same
// task are serialised by a per-key mutex; updates to different tasks never
// wait on each other's callbacks.
type MemoryTaskStore struct {
	mu      sync.RWMutex
	records map[string]*domain.TaskRecord

	locksMu sync.Mutex
	locks   map[string]*keyLock

	now func() time.Time
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		records: make(map[string]*domain.TaskRecord),
		locks:   make(map[string]*keyLock),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// lock acquires the mutex for taskID and returns its release function.
func (s *MemoryTaskStore) lock(taskID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &keyLock{}
		s.locks[taskID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, taskID)
		}
		s.locksMu.Unlock()
	}
}

// Create stores a new record, failing with ErrDuplicateTask if the id exists.
func (s *MemoryTaskStore) Create(ctx context.Context, rec *domain.TaskRecord) error {
	unlock := s.lock(rec.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return domain.Duplicate(rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Get returns a copy of the record for taskID.
func (s *MemoryTaskStore) Get(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[taskID]
	if !ok {
		return nil, domain.NotFound(taskID)
	}
	return rec.Clone(), nil
}

// Update atomically applies the patch computed by fn to the record.
func (s *MemoryTaskStore) Update(ctx context.Context, taskID string, fn domain.UpdateFunc) (*domain.TaskRecord, error) {
	unlock := s.lock(taskID)
	defer unlock()

	current, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	patch, err := fn(*current.Clone())
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	current.Apply(patch, s.now())

	s.mu.Lock()
	s.records[taskID] = current.Clone()
	s.mu.Unlock()

	return current, nil
}

// Delete removes the record, reporting whether it existed.
func (s *MemoryTaskStore) Delete(ctx context.Context, taskID string) (bool, error) {
	unlock := s.lock(taskID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[taskID]; !ok {
		return false, nil
	}
	delete(s.records, taskID)
	return true, nil
}

// ListByStatus returns records in the given status, oldest first. If
// olderThan is non-zero only records not updated for at least that long are
// returned.
func (s *MemoryTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.TaskRecord, error) {
	cutoff := s.now().Add(-olderThan)

	s.mu.RLock()
	var out []*domain.TaskRecord
	for _, rec := range s.records {
		if rec.Status != status {
			continue
		}
		if olderThan > 0 && rec.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

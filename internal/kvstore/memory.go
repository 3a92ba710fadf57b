package kvstore

import (
	"context"
	"sync"

	"laundry-room-coordinator/internal/model"
)

// memoryStore is a mutex-guarded in-memory Store. Used for local mode and
// tests; the single mutex gives every transaction full isolation.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]*model.MachineRecord
	subs    *subscribers
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		records: make(map[string]*model.MachineRecord),
		subs:    newSubscribers(),
	}
}

func (s *memoryStore) Transact(ctx context.Context, key string, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	next, err := fn(s.records[key].Clone())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	changed := true
	if next == nil {
		_, existed := s.records[key]
		delete(s.records, key)
		changed = existed
	} else {
		s.records[key] = next.Clone()
	}
	s.mu.Unlock()

	if changed {
		s.subs.broadcast(s.snapshot())
	}
	return nil
}

func (s *memoryStore) Read(ctx context.Context, key string) (*model.MachineRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key].Clone(), nil
}

func (s *memoryStore) Write(ctx context.Context, key string, rec *model.MachineRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key] = rec.Clone()
	s.mu.Unlock()

	s.subs.broadcast(s.snapshot())
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.records[key]
	delete(s.records, key)
	s.mu.Unlock()

	if existed {
		s.subs.broadcast(s.snapshot())
	}
	return nil
}

func (s *memoryStore) Subscribe(prefix string, fn func(Snapshot)) func() {
	return s.subs.add(prefix, fn)
}

func (s *memoryStore) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneSnapshot(s.records)
}

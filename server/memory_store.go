// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskwire/taskwire"
)

// record pairs a task with its own lock so contention stays per-task:
// the store-level lock only guards the id map.
type record struct {
	mu   sync.Mutex
	task taskwire.Task
}

// MemoryStore is an in-memory TaskStore. Writers for the same task id
// are serialized on a per-record mutex; unrelated ids proceed
// independently.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
	logger  *slog.Logger
}

var _ TaskStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*record),
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger used by the sweeper.
func (s *MemoryStore) WithLogger(logger *slog.Logger) *MemoryStore {
	s.logger = logger
	return s
}

// Create implements [TaskStore].
func (s *MemoryStore) Create(ctx context.Context, initial taskwire.Message) (*taskwire.Task, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	rec := &record{task: *taskwire.NewTask(initial)}

	s.mu.Lock()
	s.records[rec.task.ID] = rec
	s.mu.Unlock()

	return rec.task.Clone(), nil
}

// Get implements [TaskStore].
func (s *MemoryStore) Get(ctx context.Context, id string) (*taskwire.Task, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.task.Clone(), nil
}

// Apply implements [TaskStore].
func (s *MemoryStore) Apply(ctx context.Context, id string, update Update) (*taskwire.Task, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := applyUpdate(&rec.task, update, time.Now().UTC()); err != nil {
		return nil, err
	}
	return rec.task.Clone(), nil
}

// Sweep implements [TaskStore].
func (s *MemoryStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for id, rec := range s.records {
		rec.mu.Lock()
		expired := rec.task.Status.State.Terminal() && rec.task.Status.Timestamp.Before(cutoff)
		rec.mu.Unlock()
		if expired {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// RunSweeper evicts expired terminal records every interval until ctx is
// canceled. Retention is an external policy; servers that want unbounded
// history simply never start the sweeper.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx, maxAge)
			if err != nil {
				s.logger.WarnContext(ctx, "task sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.InfoContext(ctx, "swept expired tasks", "removed", removed)
			}
		}
	}
}

func (s *MemoryStore) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"

	"github.com/taskwire/taskwire"
	"github.com/taskwire/taskwire/server"
)

func newDatabaseStore(t *testing.T) *server.DatabaseStore {
	t.Helper()
	return openDatabaseStore(t, filepath.Join(t.TempDir(), "tasks.db"))
}

// openDatabaseStore opens a store over the given sqlite file. SQLite
// allows one writer at a time, so each handle is pinned to a single
// connection with a busy timeout and concurrent writers queue instead of
// erroring.
func openDatabaseStore(t *testing.T, path string) *server.DatabaseStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA busy_timeout = 10000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}
	store, err := server.NewDatabaseStore(db)
	if err != nil {
		t.Fatalf("NewDatabaseStore() error = %v", err)
	}
	return store
}

// TestTaskStores runs the store contract against every implementation.
func TestTaskStores(t *testing.T) {
	stores := map[string]func(t *testing.T) server.TaskStore{
		"memory":   func(t *testing.T) server.TaskStore { return server.NewMemoryStore() },
		"database": func(t *testing.T) server.TaskStore { return newDatabaseStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			runStoreContract(t, newStore)
		})
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) server.TaskStore) {
	ctx := context.Background()
	initial := taskwire.NewUserMessage(taskwire.NewDataPart(map[string]any{"a": float64(5), "b": float64(3)}))

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)

		created, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if created.ID == "" {
			t.Error("Create() returned a task without an id")
		}
		if created.Status.State != taskwire.TaskStateSubmitted {
			t.Errorf("Create() state = %s, want %s", created.Status.State, taskwire.TaskStateSubmitted)
		}
		if created.Status.Timestamp.IsZero() {
			t.Error("Create() returned a zero status timestamp")
		}
		if len(created.History) != 1 {
			t.Fatalf("Create() history length = %d, want 1", len(created.History))
		}

		got, err := store.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if diff := cmp.Diff(created, got); diff != "" {
			t.Errorf("Get() mismatch (-created +got):\n%s", diff)
		}
	})

	t.Run("create rejects invalid message", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Create(ctx, taskwire.Message{Role: taskwire.RoleUser}); err == nil {
			t.Error("Create() with empty message expected error, got nil")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		store := newStore(t)

		if _, err := store.Get(ctx, "no-such-task"); !errors.Is(err, server.ErrTaskNotFound) {
			t.Errorf("Get() error = %v, want ErrTaskNotFound", err)
		}
		_, err := store.Apply(ctx, "no-such-task", server.Update{State: taskwire.TaskStateWorking})
		if !errors.Is(err, server.ErrTaskNotFound) {
			t.Errorf("Apply() error = %v, want ErrTaskNotFound", err)
		}
	})

	t.Run("lifecycle updates", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatal(err)
		}

		working, err := store.Apply(ctx, created.ID, server.Update{State: taskwire.TaskStateWorking})
		if err != nil {
			t.Fatalf("Apply(working) error = %v", err)
		}
		if working.Status.State != taskwire.TaskStateWorking {
			t.Errorf("state = %s, want %s", working.Status.State, taskwire.TaskStateWorking)
		}

		message := taskwire.NewAgentTextMessage("5 + 3 = 8")
		artifact := taskwire.NewDataArtifact("sum", map[string]any{"result": float64(8)})
		completed, err := store.Apply(ctx, created.ID, server.Update{
			State:     taskwire.TaskStateCompleted,
			Message:   &message,
			Artifacts: []taskwire.Artifact{artifact},
		})
		if err != nil {
			t.Fatalf("Apply(completed) error = %v", err)
		}
		if completed.Status.State != taskwire.TaskStateCompleted {
			t.Errorf("state = %s, want %s", completed.Status.State, taskwire.TaskStateCompleted)
		}
		if completed.Status.Message == nil || completed.Status.Message.Text() != "5 + 3 = 8" {
			t.Errorf("status message = %+v, want agent text", completed.Status.Message)
		}
		if diff := cmp.Diff([]taskwire.Artifact{artifact}, completed.Artifacts); diff != "" {
			t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
		}
		// History carries the seed message plus every update message.
		if len(completed.History) != 2 {
			t.Errorf("history length = %d, want 2", len(completed.History))
		}
	})

	t.Run("invalid transitions", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatal(err)
		}

		// completed is not reachable from submitted.
		_, err = store.Apply(ctx, created.ID, server.Update{State: taskwire.TaskStateCompleted})
		if !errors.Is(err, server.ErrInvalidTransition) {
			t.Errorf("Apply(submitted->completed) error = %v, want ErrInvalidTransition", err)
		}

		if _, err := store.Apply(ctx, created.ID, server.Update{State: taskwire.TaskStateWorking}); err != nil {
			t.Fatal(err)
		}

		// rejected marks work that never began.
		_, err = store.Apply(ctx, created.ID, server.Update{State: taskwire.TaskStateRejected})
		if !errors.Is(err, server.ErrInvalidTransition) {
			t.Errorf("Apply(working->rejected) error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("terminal records are immutable", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := store.Apply(ctx, created.ID, server.Update{State: taskwire.TaskStateCanceled}); err != nil {
			t.Fatal(err)
		}

		for _, state := range []taskwire.TaskState{taskwire.TaskStateWorking, taskwire.TaskStateCompleted, taskwire.TaskStateFailed} {
			_, err := store.Apply(ctx, created.ID, server.Update{State: state})
			if !errors.Is(err, server.ErrInvalidTransition) {
				t.Errorf("Apply(canceled->%s) error = %v, want ErrInvalidTransition", state, err)
			}
		}

		// Even a message-only update must not touch a settled record.
		message := taskwire.NewAgentTextMessage("late")
		if _, err := store.Apply(ctx, created.ID, server.Update{Message: &message}); !errors.Is(err, server.ErrInvalidTransition) {
			t.Errorf("Apply(message only) error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("timestamps never decrease", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatal(err)
		}

		previous := created.Status.Timestamp
		for _, state := range []taskwire.TaskState{taskwire.TaskStateWorking, taskwire.TaskStateWorking, taskwire.TaskStateCompleted} {
			task, err := store.Apply(ctx, created.ID, server.Update{State: state})
			if err != nil {
				t.Fatal(err)
			}
			if task.Status.Timestamp.Before(previous) {
				t.Errorf("timestamp went backwards: %s -> %s", previous, task.Status.Timestamp)
			}
			previous = task.Status.Timestamp
		}
	})

	t.Run("snapshots do not alias store memory", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatal(err)
		}

		created.History[0].Parts[0].Data["a"] = float64(999)
		created.Status.State = taskwire.TaskStateFailed

		got, err := store.Get(ctx, created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status.State != taskwire.TaskStateSubmitted {
			t.Errorf("state = %s, want %s", got.Status.State, taskwire.TaskStateSubmitted)
		}
		if got.History[0].Parts[0].Data["a"] != float64(5) {
			t.Error("mutating a snapshot leaked into the store")
		}
	})

	t.Run("sweep removes only aged terminal records", func(t *testing.T) {
		store := newStore(t)

		settled, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := store.Apply(ctx, settled.ID, server.Update{State: taskwire.TaskStateCanceled}); err != nil {
			t.Fatal(err)
		}
		live, err := store.Create(ctx, initial)
		if err != nil {
			t.Fatal(err)
		}

		time.Sleep(50 * time.Millisecond)

		removed, err := store.Sweep(ctx, time.Millisecond)
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if removed != 1 {
			t.Errorf("Sweep() removed = %d, want 1", removed)
		}
		if _, err := store.Get(ctx, settled.ID); !errors.Is(err, server.ErrTaskNotFound) {
			t.Errorf("Get(settled) error = %v, want ErrTaskNotFound", err)
		}
		if _, err := store.Get(ctx, live.ID); err != nil {
			t.Errorf("Get(live) error = %v, want nil", err)
		}
	})
}

// TestTaskStoreConcurrentWriters exercises per-id serialization on every
// implementation: many goroutines race working updates against the same
// record while readers poll it, and every artifact must survive.
func TestTaskStoreConcurrentWriters(t *testing.T) {
	stores := map[string]func(t *testing.T) server.TaskStore{
		"memory":   func(t *testing.T) server.TaskStore { return server.NewMemoryStore() },
		"database": func(t *testing.T) server.TaskStore { return newDatabaseStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			runConcurrentWriters(t, store, []server.TaskStore{store})
		})
	}
}

// TestDatabaseStoreConcurrentHandles races writers through two separate
// handles over the same database file, the way two server processes
// share one backing store.
func TestDatabaseStoreConcurrentHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	first := openDatabaseStore(t, path)
	second := openDatabaseStore(t, path)
	runConcurrentWriters(t, first, []server.TaskStore{first, second})
}

func runConcurrentWriters(t *testing.T, store server.TaskStore, writers []server.TaskStore) {
	t.Helper()
	ctx := context.Background()

	created, err := store.Create(ctx, taskwire.NewUserMessage(taskwire.NewTextPart("go")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Apply(ctx, created.ID, server.Update{State: taskwire.TaskStateWorking}); err != nil {
		t.Fatal(err)
	}

	const updates = 32
	var wg sync.WaitGroup
	for i := range updates {
		writer := writers[i%len(writers)]
		wg.Add(2)
		go func() {
			defer wg.Done()
			artifact := taskwire.NewDataArtifact(fmt.Sprintf("chunk-%d", i), map[string]any{"seq": float64(i)})
			_, err := writer.Apply(ctx, created.ID, server.Update{
				State:     taskwire.TaskStateWorking,
				Artifacts: []taskwire.Artifact{artifact},
			})
			if err != nil {
				t.Errorf("Apply() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := writer.Get(ctx, created.ID); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	task, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(task.Artifacts) != updates {
		t.Errorf("artifacts length = %d, want %d", len(task.Artifacts), updates)
	}
	if task.Status.State != taskwire.TaskStateWorking {
		t.Errorf("state = %s, want %s", task.Status.State, taskwire.TaskStateWorking)
	}
}

// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskwire/taskwire"
)

// Store errors.
var (
	// ErrTaskNotFound is returned when the task id is unknown to the
	// store, whether it never existed or was swept.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when an update would move a task
	// out of a terminal state or along an edge the state machine does
	// not permit.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// Update is a partial mutation of one task record: an optional state
// transition, an optional message (recorded as the status message and
// appended to history), and artifacts to append. The zero state keeps
// the record's current state.
type Update struct {
	State     taskwire.TaskState
	Message   *taskwire.Message
	Artifacts []taskwire.Artifact
}

// TaskStore owns all task records. Every mutation flows through Apply,
// which serializes concurrent writers per task id; snapshots returned
// from any method never alias store-owned memory. Implementations never
// delete records on their own — retention is the caller's policy,
// exercised through Sweep.
type TaskStore interface {
	// Create allocates a fresh record in the submitted state with the
	// given message seeding its history, and returns a snapshot.
	Create(ctx context.Context, initial taskwire.Message) (*taskwire.Task, error)

	// Get returns a snapshot of the record, or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*taskwire.Task, error)

	// Apply atomically merges an update into the record and returns the
	// resulting snapshot. It returns ErrTaskNotFound for unknown ids and
	// ErrInvalidTransition for updates the state machine forbids.
	Apply(ctx context.Context, id string, update Update) (*taskwire.Task, error)

	// Sweep removes terminal records whose last update is older than
	// maxAge and reports how many were removed.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// applyUpdate merges an update into a task in place. It is shared by the
// store implementations; callers hold whatever lock serializes writers
// for this record.
func applyUpdate(task *taskwire.Task, update Update, now time.Time) error {
	if task.Status.State.Terminal() {
		return fmt.Errorf("task %s is %s: %w", task.ID, task.Status.State, ErrInvalidTransition)
	}
	if update.State != "" && update.State != task.Status.State {
		if !task.Status.State.CanTransition(update.State) {
			return fmt.Errorf("task %s: %s -> %s: %w", task.ID, task.Status.State, update.State, ErrInvalidTransition)
		}
		task.Status.State = update.State
	}
	// The status timestamp never decreases, even if the wall clock does.
	if now.Before(task.Status.Timestamp) {
		now = task.Status.Timestamp
	}
	task.Status.Timestamp = now
	if update.Message != nil {
		msg := *update.Message
		task.Status.Message = &msg
		task.History = append(task.History, msg)
	}
	task.Artifacts = append(task.Artifacts, update.Artifacts...)
	return nil
}

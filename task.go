// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package taskwire

import (
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of a task record.
type TaskState string

// Task states. A task starts in TaskStateSubmitted and always ends in
// exactly one of the terminal states.
const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStateRejected  TaskState = "rejected"
)

// Terminal reports whether no further transition is possible out of s.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s
// to the given state. Repeated working updates are permitted; rejected is
// only reachable from submitted, because it marks a capability refusing
// to start rather than failing mid-flight.
func (s TaskState) CanTransition(to TaskState) bool {
	switch s {
	case TaskStateSubmitted:
		switch to {
		case TaskStateWorking, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
			return true
		}
	case TaskStateWorking:
		switch to {
		case TaskStateWorking, TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
			return true
		}
	}
	return false
}

// TaskStatus is the current position of a task in the state machine,
// stamped with the time of the last transition. The timestamp never
// decreases across updates to the same record.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   *Message  `json:"message,omitzero"`
}

// Task is the record of one capability invocation. History and artifacts
// are append-only; history always contains at least the user message that
// created the task.
type Task struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitzero"`
	History   []Message  `json:"history,omitzero"`
}

// NewTask creates a fresh task record in the submitted state with the
// given message seeding its history.
func NewTask(initial Message) *Task {
	return &Task{
		ID: uuid.NewString(),
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: time.Now().UTC(),
		},
		History: []Message{cloneMessage(initial)},
	}
}

// Clone returns a deep copy of the task. Stores hand out clones so no
// caller ever holds a mutable reference into store-owned memory.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := &Task{
		ID: t.ID,
		Status: TaskStatus{
			State:     t.Status.State,
			Timestamp: t.Status.Timestamp,
		},
		Artifacts: cloneArtifacts(t.Artifacts),
		History:   cloneMessages(t.History),
	}
	if t.Status.Message != nil {
		msg := cloneMessage(*t.Status.Message)
		out.Status.Message = &msg
	}
	return out
}

// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	"github.com/taskwire/taskwire"
)

// Sentinel errors returned by the client.
var (
	// ErrUnknownCapability is returned by SendTask when the capability
	// id is not listed in the agent's manifest. The check runs locally
	// against the cached manifest, before any RPC round trip.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrTaskNotFound is returned by GetTask when the agent does not
	// know the task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDeadlineExceeded is returned by WaitForCompletion when maxWait
	// elapses. The timeout is local: the remote task may still be
	// running and can be polled again.
	ErrDeadlineExceeded = errors.New("deadline exceeded waiting for task")
)

// RPCError is a JSON-RPC error envelope surfaced to the caller. The code
// is preserved so callers can branch programmatically instead of
// matching message strings.
type RPCError struct {
	Code    int
	Message string
	Data    string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TaskFailedError is returned by WaitForCompletion when the task reached
// a terminal state other than completed. The three failure states are
// uniform in that no usable artifact was produced, but the state is
// preserved for diagnostics.
type TaskFailedError struct {
	State         taskwire.TaskState
	StatusMessage string
	Task          *taskwire.Task
}

// Error implements the error interface.
func (e *TaskFailedError) Error() string {
	if e.StatusMessage != "" {
		return fmt.Sprintf("task %s ended %s: %s", e.Task.ID, e.State, e.StatusMessage)
	}
	return fmt.Sprintf("task %s ended %s", e.Task.ID, e.State)
}

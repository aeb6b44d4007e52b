// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskwire/taskwire"
)

// Rejection is returned by a handler that refuses to start, typically on
// malformed input. The executor records it as the rejected terminal
// state rather than failed, so audits can tell the two apart. If the
// handler already advanced the task to working, the rejection is
// downgraded to failed: rejected marks work that never began.
type Rejection struct {
	Reason string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("capability rejected task: %s", r.Reason)
}

// Reject creates a Rejection with the given reason.
func Reject(format string, args ...any) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// Executor runs capability handlers, one goroutine per in-flight task.
// Its only channel back to the rest of the system is the shared task
// store: Dispatch returns immediately and the spawned worker reports
// progress through an UpdateSink bound to the task id.
//
// The executor guarantees every dispatched task ends in exactly one
// terminal state. Handler errors, panics, and clean returns that leave
// the record non-terminal are all converted into a terminal update, so a
// record can never be stuck in submitted or working by a faulty handler.
type Executor struct {
	store    TaskStore
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewExecutor creates an Executor. timeout bounds each handler run; zero
// means no bound. Workers observe cancellation when the executor shuts
// down or when their timeout elapses.
func NewExecutor(store TaskStore, registry *Registry, logger *slog.Logger, timeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:    store,
		registry: registry,
		logger:   logger,
		timeout:  timeout,
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

// Dispatch spawns an independent worker for the task. It never blocks on
// the handler: tasks/send latency is bounded by store-creation cost, not
// task runtime.
func (e *Executor) Dispatch(capabilityID, taskID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(capabilityID, taskID)
	}()
}

// Shutdown signals cancellation to all in-flight workers and waits for
// them to finish, or until ctx expires. Workers observe the signal
// cooperatively; their records end up canceled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) run(capabilityID, taskID string) {
	logger := e.logger.With("task_id", taskID, "capability", capabilityID)

	handler, ok := e.registry.Lookup(capabilityID)
	if !ok {
		// No work is performed for an unknown capability: the record
		// goes straight from submitted to failed.
		e.finish(taskID, taskwire.TaskStateFailed, fmt.Sprintf("unknown capability: %q", capabilityID), logger)
		return
	}

	ctx := e.baseCtx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	task, err := e.store.Get(ctx, taskID)
	if err != nil {
		logger.Warn("task vanished before execution", "error", err)
		return
	}

	sink := func(update Update) error {
		_, err := e.store.Apply(ctx, taskID, update)
		return err
	}

	execErr := e.invoke(ctx, handler, task, sink)

	// Terminal bookkeeping must succeed even when the handler context
	// has already expired.
	current, err := e.store.Get(context.WithoutCancel(ctx), taskID)
	if err != nil {
		logger.Warn("task vanished during execution", "error", err)
		return
	}
	if current.Status.State.Terminal() {
		if execErr != nil {
			logger.Warn("handler returned an error after reaching a terminal state", "error", execErr)
		}
		return
	}

	var rejection *Rejection
	switch {
	case errors.As(execErr, &rejection):
		state := taskwire.TaskStateRejected
		if current.Status.State != taskwire.TaskStateSubmitted {
			state = taskwire.TaskStateFailed
		}
		e.finish(taskID, state, rejection.Reason, logger)
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason := "execution deadline exceeded"
			// Keep the handler's own diagnostic alongside the deadline
			// note; a bare ctx.Err() return adds nothing.
			if execErr != nil && execErr != ctx.Err() {
				reason += ": " + execErr.Error()
			}
			e.finish(taskID, taskwire.TaskStateFailed, reason, logger)
		} else {
			e.finish(taskID, taskwire.TaskStateCanceled, "execution canceled", logger)
		}
	case execErr != nil:
		e.finish(taskID, taskwire.TaskStateFailed, execErr.Error(), logger)
	default:
		e.finish(taskID, taskwire.TaskStateFailed, "capability finished without reaching a terminal state", logger)
	}
}

// invoke runs the handler, converting a panic into an error so an
// uncaught fault never escapes the execution path.
func (e *Executor) invoke(ctx context.Context, handler Handler, task *taskwire.Task, sink UpdateSink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability panicked: %v", r)
		}
	}()
	return handler.Execute(ctx, task, sink)
}

// finish applies the synthetic terminal update for a task the handler
// did not terminate itself.
func (e *Executor) finish(taskID string, state taskwire.TaskState, reason string, logger *slog.Logger) {
	message := taskwire.NewAgentTextMessage(reason)
	_, err := e.store.Apply(context.WithoutCancel(e.baseCtx), taskID, Update{
		State:   state,
		Message: &message,
	})
	switch {
	case errors.Is(err, ErrInvalidTransition):
		// Lost the race against another terminal update; the record is
		// already settled.
		logger.Debug("terminal update ignored", "state", state)
	case err != nil:
		logger.Warn("failed to record terminal state", "state", state, "error", err)
	default:
		logger.Info("task finished", "state", state, "reason", reason)
	}
}

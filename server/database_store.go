// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"gorm.io/gorm"

	"github.com/taskwire/taskwire"
)

// taskModel is the database row backing one task record. The record
// itself is stored as a JSON document; state and update time are lifted
// into columns so sweeping can run as a single query. Version guards
// every write: an update commits only against the version it read.
type taskModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Version   int64     `gorm:"not null"`
	State     string    `gorm:"size:16;index"`
	Document  []byte    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName implements the GORM table-name convention.
func (taskModel) TableName() string { return "taskwire_tasks" }

// DatabaseStore is a TaskStore backed by a GORM-supported database.
// Writes serialize per id through a compare-and-swap on the row's
// version column, which holds under any isolation level, so multiple
// server processes can share one backing store.
type DatabaseStore struct {
	db *gorm.DB
}

var _ TaskStore = (*DatabaseStore)(nil)

// NewDatabaseStore creates a DatabaseStore and migrates its table.
func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if err := db.AutoMigrate(&taskModel{}); err != nil {
		return nil, fmt.Errorf("migrate task table: %w", err)
	}
	return &DatabaseStore{db: db}, nil
}

// Create implements [TaskStore].
func (s *DatabaseStore) Create(ctx context.Context, initial taskwire.Message) (*taskwire.Task, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	task := taskwire.NewTask(initial)
	model, err := newTaskModel(task)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return task, nil
}

// Get implements [TaskStore].
func (s *DatabaseStore) Get(ctx context.Context, id string) (*taskwire.Task, error) {
	var model taskModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return model.toTask()
}

// Apply implements [TaskStore]. The read-modify-write is guarded by a
// compare-and-swap on the version column: the merged document commits
// only if the row still carries the version that was read, so a writer
// that lost the race re-reads and merges again instead of overwriting
// the other writer's update.
func (s *DatabaseStore) Apply(ctx context.Context, id string, update Update) (*taskwire.Task, error) {
	for {
		var model taskModel
		if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrTaskNotFound
			}
			return nil, fmt.Errorf("get task %s: %w", id, err)
		}
		task, err := model.toTask()
		if err != nil {
			return nil, err
		}
		if err := applyUpdate(task, update, time.Now().UTC()); err != nil {
			return nil, err
		}
		document, err := json.Marshal(task)
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", id, err)
		}

		result := s.db.WithContext(ctx).Model(&taskModel{}).
			Where("id = ? AND version = ?", id, model.Version).
			Updates(map[string]any{
				"version":  model.Version + 1,
				"state":    string(task.Status.State),
				"document": document,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("save task %s: %w", id, result.Error)
		}
		if result.RowsAffected == 1 {
			return task, nil
		}

		// Another writer committed between the read and the swap.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Sweep implements [TaskStore].
func (s *DatabaseStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	terminal := []string{
		string(taskwire.TaskStateCompleted),
		string(taskwire.TaskStateFailed),
		string(taskwire.TaskStateCanceled),
		string(taskwire.TaskStateRejected),
	}
	result := s.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", terminal, cutoff).
		Delete(&taskModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweep tasks: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func newTaskModel(task *taskwire.Task) (*taskModel, error) {
	document, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	return &taskModel{
		ID:       task.ID,
		State:    string(task.Status.State),
		Document: document,
	}, nil
}

func (m *taskModel) toTask() (*taskwire.Task, error) {
	var task taskwire.Task
	if err := json.Unmarshal(m.Document, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", m.ID, err)
	}
	return &task, nil
}

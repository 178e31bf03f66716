package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// TaskStore keeps task status records in memory.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]webmention.TaskRecord
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]webmention.TaskRecord)}
}

// CreateTask stores a new task in the received state.
func (s *TaskStore) CreateTask(_ context.Context, task webmention.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	s.tasks[task.ID] = webmention.TaskRecord{
		ID:       task.ID,
		Request:  task.Request,
		State:    webmention.TaskReceived,
		Received: task.Received,
		Updated:  task.Received,
	}
	return nil
}

// UpdateTask replaces the record of a known task. Terminal records are final.
func (s *TaskStore) UpdateTask(_ context.Context, record webmention.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[record.ID]
	if !ok {
		return webmention.ErrTaskNotFound
	}
	if current.State.Terminal() {
		return errors.New("task already finished")
	}
	record.Request = current.Request
	record.Received = current.Received
	s.tasks[record.ID] = record
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (webmention.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tasks[taskID]
	if !ok {
		return webmention.TaskRecord{}, webmention.ErrTaskNotFound
	}
	return record, nil
}

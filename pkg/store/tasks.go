package store

import (
	"context"
	"sync"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// taskTracker keeps track of queued tasks in memory. It backs every store that has no shared
// place to coordinate task scheduling across processes.
type taskTracker struct {
	tasks              schemas.Tasks
	tasksMutex         sync.RWMutex // Mutex for thread-safe access to tasks
	executedTasksCount uint64       // Counter for the number of executed tasks
}

// isTaskAlreadyQueued assesses if a task is already queued or not.
func (t *taskTracker) isTaskAlreadyQueued(tt schemas.TaskType, uniqueID string) bool {
	t.tasksMutex.Lock()
	defer t.tasksMutex.Unlock()

	if t.tasks == nil {
		t.tasks = make(schemas.Tasks)
	}

	taskTypeQueue, ok := t.tasks[tt]
	if !ok {
		t.tasks[tt] = make(map[string]interface{})

		return false
	}

	_, alreadyQueued := taskTypeQueue[uniqueID]

	return alreadyQueued
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
func (t *taskTracker) QueueTask(_ context.Context, tt schemas.TaskType, uniqueID, _ string) (bool, error) {
	if t.isTaskAlreadyQueued(tt, uniqueID) {
		return false, nil
	}

	t.tasksMutex.Lock()
	defer t.tasksMutex.Unlock()

	// Checked again under the write lock, two callers may have raced past the first check
	if _, alreadyQueued := t.tasks[tt][uniqueID]; alreadyQueued {
		return false, nil
	}

	t.tasks[tt][uniqueID] = nil

	return true, nil
}

// UnqueueTask removes the task from the tracker.
func (t *taskTracker) UnqueueTask(_ context.Context, tt schemas.TaskType, uniqueID string) error {
	if t.isTaskAlreadyQueued(tt, uniqueID) {
		t.tasksMutex.Lock()
		defer t.tasksMutex.Unlock()

		delete(t.tasks[tt], uniqueID)

		t.executedTasksCount++
	}

	return nil
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (t *taskTracker) CurrentlyQueuedTasksCount(_ context.Context) (count uint64, err error) {
	t.tasksMutex.RLock()
	defer t.tasksMutex.RUnlock()

	for _, q := range t.tasks {
		count += uint64(len(q))
	}

	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (t *taskTracker) ExecutedTasksCount(_ context.Context) (uint64, error) {
	t.tasksMutex.RLock()
	defer t.tasksMutex.RUnlock()

	return t.executedTasksCount, nil
}

// internal/services/task.go
package services

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/store"
)

// TaskStatus is the lifecycle state of an asynchronous editor operation
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskApplied   TaskStatus = "applied"   // result written to the store
	TaskDiscarded TaskStatus = "discarded" // result arrived for a target that changed or vanished
	TaskFailed    TaskStatus = "failed"    // backend call failed; store untouched
	TaskCanceled  TaskStatus = "canceled"
)

// Task is the future of one regeneration or insertion
type Task struct {
	ID     string
	Kind   store.TicketKind
	Ticket store.Ticket

	startedAt time.Time
	done      chan struct{}
	cancel    context.CancelFunc

	mu         sync.Mutex
	status     TaskStatus
	err        error
	finishedAt time.Time
}

// TaskInfo is a point in time view of a task
type TaskInfo struct {
	ID         string           `json:"id"`
	Kind       store.TicketKind `json:"kind"`
	Status     TaskStatus       `json:"status"`
	SceneID    string           `json:"scene_id"`
	ShotID     string           `json:"shot_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func newTask(id string, ticket store.Ticket, cancel context.CancelFunc) *Task {
	return &Task{
		ID:        id,
		Kind:      ticket.Kind,
		Ticket:    ticket,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		cancel:    cancel,
		status:    TaskPending,
	}
}

// Done is closed once the task reached a final status
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel abandons the backend call. A result that already arrived is unaffected.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes or ctx ends. It returns nil when the
// result was applied, a stale_response_discarded error when it was dropped and
// the backend or cancellation error otherwise.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return apperrors.NewCanceledError("stopped waiting for task "+t.ID, ctx.Err())
	}
}

// Status returns the current status
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the final error, nil while pending or once applied
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Info snapshots the task for API responses
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := TaskInfo{
		ID:        t.ID,
		Kind:      t.Kind,
		Status:    t.status,
		SceneID:   t.Ticket.SceneID,
		ShotID:    t.Ticket.ShotID,
		StartedAt: t.startedAt,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		info.FinishedAt = &finished
	}
	return info
}

func (t *Task) finishedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.finishedAt.IsZero() && t.finishedAt.Before(cutoff)
}

func (t *Task) finish(err error) TaskStatus {
	status := TaskApplied
	switch {
	case err == nil:
	case apperrors.IsStaleResponse(err):
		status = TaskDiscarded
	case apperrors.IsCanceled(err):
		status = TaskCanceled
	default:
		status = TaskFailed
	}

	t.mu.Lock()
	t.status = status
	t.err = err
	t.finishedAt = time.Now()
	t.mu.Unlock()

	t.cancel()
	close(t.done)
	return status
}

// Package scheduler runs delayed follow-up prompts, such as the compliance
// check sent some minutes after a medication reminder.
package scheduler

import (
	"errors"
	"time"
)

// FollowUpPrefix marks scheduled prompts in the conversation history.
const FollowUpPrefix = "[SCHEDULED FOLLOW-UP] "

var (
	// ErrTaskNotFound is returned for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotPending is returned when cancelling a task that already ran.
	ErrNotPending = errors.New("task is not pending")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is a prompt to run in a session at a later time.
type Task struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Prompt      string    `json:"prompt"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExecuteAt   time.Time `json:"execute_at"`
	Status      Status    `json:"status"`
	ExecutedAt  time.Time `json:"executed_at,omitempty"`
	Error       string    `json:"error,omitempty"`

	index int // position in the heap, -1 when not queued
}

// Content is the prompt as it appears in the history.
func (t Task) Content() string {
	return FollowUpPrefix + t.Prompt
}

// Remaining is the time left until the task is due, never negative.
func (t Task) Remaining(now time.Time) time.Duration {
	if d := t.ExecuteAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Progress is the fraction of the waiting period that has elapsed, in
// [0, 1].
func (t Task) Progress(now time.Time) float64 {
	total := t.ExecuteAt.Sub(t.ScheduledAt)
	if total <= 0 {
		return 1
	}
	elapsed := now.Sub(t.ScheduledAt)
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= total:
		return 1
	}
	return float64(elapsed) / float64(total)
}

// View is a task with its countdown as of a point in time.
type View struct {
	Task
	RemainingSeconds float64 `json:"remaining_seconds"`
	Fraction         float64 `json:"progress"`
}

// At returns the task's countdown as of now.
func (t Task) At(now time.Time) View {
	return View{
		Task:             t,
		RemainingSeconds: t.Remaining(now).Seconds(),
		Fraction:         t.Progress(now),
	}
}

// taskHeap orders queued tasks by ExecuteAt.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].ExecuteAt.Equal(h[j].ExecuteAt) {
		return h[i].ScheduledAt.Before(h[j].ScheduledAt)
	}
	return h[i].ExecuteAt.Before(h[j].ExecuteAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

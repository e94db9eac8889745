package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dailyux/eldercare-go/observability"
)

// DefaultConcurrency bounds the number of tasks executing at once.
const DefaultConcurrency = 4

// Handler executes a due task. A returned error marks the task failed.
type Handler func(ctx context.Context, task Task) error

// Options configures a Scheduler.
type Options struct {
	// Concurrency bounds parallel handler calls (default: 4).
	Concurrency int
	// Now is the clock (default: time.Now).
	Now     func() time.Time
	Metrics *observability.Instruments
	Audit   *observability.AuditLogger
	Logger  *slog.Logger
}

// Scheduler keeps tasks in a min-heap by due time and executes them from
// Run with a single timer. Schedule and Cancel may be called concurrently
// with Run.
type Scheduler struct {
	handler     Handler
	concurrency int
	now         func() time.Time
	metrics     *observability.Instruments
	audit       *observability.AuditLogger
	logger      *slog.Logger

	mu    sync.Mutex
	queue taskHeap
	tasks map[string]*Task
	wake  chan struct{}
}

// New creates a scheduler that executes tasks with handler.
func New(handler Handler, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		handler:     handler,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		logger:      opts.Logger,
		tasks:       make(map[string]*Task),
		wake:        make(chan struct{}, 1),
	}
}

// Schedule queues prompt for sessionID after delay. Negative delays are
// treated as zero.
func (s *Scheduler) Schedule(ctx context.Context, sessionID, prompt string, delay time.Duration) (Task, error) {
	if prompt == "" {
		return Task{}, fmt.Errorf("prompt cannot be empty")
	}
	if delay < 0 {
		delay = 0
	}
	now := s.now()
	task := &Task{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Prompt:      prompt,
		ScheduledAt: now,
		ExecuteAt:   now.Add(delay),
		Status:      StatusPending,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	heap.Push(&s.queue, task)
	snapshot := *task
	s.mu.Unlock()

	s.notify()
	s.audit.LogFollowUpScheduled(ctx, sessionID, task.ID, task.ExecuteAt)
	s.metrics.RecordFollowUp(ctx, string(StatusPending))
	s.logger.InfoContext(ctx, "follow-up scheduled",
		"task_id", task.ID, "session_id", sessionID, "execute_at", task.ExecuteAt.Format(time.RFC3339))
	return snapshot, nil
}

// Cancel removes a pending task from the queue.
func (s *Scheduler) Cancel(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status != StatusPending {
		return *task, fmt.Errorf("%w: %s is %s", ErrNotPending, id, task.Status)
	}
	if task.index >= 0 {
		heap.Remove(&s.queue, task.index)
	}
	task.Status = StatusCancelled
	s.notify()
	return *task, nil
}

// Get returns a copy of the task.
func (s *Scheduler) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *task, nil
}

// Now reads the scheduler's clock.
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// List returns every known task ordered by due time.
func (s *Scheduler) List() []Task {
	return s.collect(func(*Task) bool { return true })
}

// Pending returns the session's tasks that have not run yet.
func (s *Scheduler) Pending(sessionID string) []Task {
	return s.collect(func(t *Task) bool {
		return t.SessionID == sessionID && t.Status == StatusPending
	})
}

// Session returns all tasks of the session.
func (s *Scheduler) Session(sessionID string) []Task {
	return s.collect(func(t *Task) bool { return t.SessionID == sessionID })
}

// Forget drops the session's finished tasks.
func (s *Scheduler) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.SessionID == sessionID && t.Status.Done() {
			delete(s.tasks, id)
		}
	}
}

func (s *Scheduler) collect(keep func(*Task) bool) []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, *t)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecuteAt.Equal(out[j].ExecuteAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExecuteAt.Before(out[j].ExecuteAt)
	})
	return out
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes tasks as they come due until ctx is cancelled. It waits for
// running handlers before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		for _, task := range s.due() {
			g.Go(func() error {
				s.execute(gctx, task)
				return nil
			})
		}

		if next, ok := s.next(); ok {
			timer.Reset(max(next.Sub(s.now()), 0))
		}

		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// due pops every task whose time has come and marks it ready.
func (s *Scheduler) due() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ready []*Task
	for s.queue.Len() > 0 && !s.queue[0].ExecuteAt.After(now) {
		task := heap.Pop(&s.queue).(*Task)
		task.Status = StatusReady
		ready = append(ready, task)
	}
	return ready
}

func (s *Scheduler) next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].ExecuteAt, true
}

func (s *Scheduler) execute(ctx context.Context, task *Task) {
	s.mu.Lock()
	task.Status = StatusExecuting
	snapshot := *task
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "executing follow-up", "task_id", snapshot.ID, "session_id", snapshot.SessionID)
	err := s.handler(ctx, snapshot)

	s.mu.Lock()
	task.ExecutedAt = s.now()
	if err != nil {
		task.Status = StatusFailed
		task.Error = err.Error()
	} else {
		task.Status = StatusCompleted
	}
	status := task.Status
	s.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "follow-up failed", "task_id", snapshot.ID, "error", err)
	}
	s.metrics.RecordFollowUp(ctx, string(status))
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	order []string
	done  chan string
	err   error
}

func newRecorder() *recorder {
	return &recorder{done: make(chan string, 16)}
}

func (r *recorder) handle(ctx context.Context, task Task) error {
	r.mu.Lock()
	r.order = append(r.order, task.Prompt)
	r.mu.Unlock()
	r.done <- task.ID
	return r.err
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for task %d", i+1)
		}
	}
}

// start runs the scheduler and returns a function that stops it and waits
// for Run to return.
func start(t *testing.T, s *Scheduler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not stop")
		}
	}
}

// waitStatus polls until the task reaches a terminal status.
func waitStatus(t *testing.T, s *Scheduler, id string) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if task.Status.Done() {
			return task
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return Task{}
}

func TestSchedulerRunsTasksInDueOrder(t *testing.T) {
	rec := newRecorder()
	s := New(rec.handle, Options{Concurrency: 1})
	stop := start(t, s)
	defer stop()

	ctx := context.Background()
	late, _ := s.Schedule(ctx, "s1", "late", 60*time.Millisecond)
	early, _ := s.Schedule(ctx, "s1", "early", 20*time.Millisecond)

	rec.wait(t, 2)
	waitStatus(t, s, late.ID)
	task := waitStatus(t, s, early.ID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.order) != 2 || rec.order[0] != "early" || rec.order[1] != "late" {
		t.Errorf("unexpected order %v", rec.order)
	}
	if task.Status != StatusCompleted || task.ExecutedAt.IsZero() {
		t.Errorf("unexpected task %+v", task)
	}
}

func TestSchedulerScheduleWhileIdle(t *testing.T) {
	rec := newRecorder()
	s := New(rec.handle, Options{})
	stop := start(t, s)
	defer stop()

	// Run is already waiting with an empty queue; scheduling must wake it.
	time.Sleep(10 * time.Millisecond)
	task, err := s.Schedule(context.Background(), "s1", "now", 0)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	rec.wait(t, 1)
	if got := waitStatus(t, s, task.ID); got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestSchedulerCancel(t *testing.T) {
	rec := newRecorder()
	s := New(rec.handle, Options{})
	stop := start(t, s)

	ctx := context.Background()
	task, _ := s.Schedule(ctx, "s1", "never", 50*time.Millisecond)
	cancelled, err := s.Cancel(task.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	time.Sleep(100 * time.Millisecond)
	stop()

	if len(rec.order) != 0 {
		t.Errorf("cancelled task ran: %v", rec.order)
	}
	if _, err := s.Cancel(task.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
	if _, err := s.Cancel("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSchedulerHandlerError(t *testing.T) {
	rec := newRecorder()
	rec.err = errors.New("model unavailable")
	s := New(rec.handle, Options{})
	stop := start(t, s)
	defer stop()

	task, _ := s.Schedule(context.Background(), "s1", "check", 0)
	rec.wait(t, 1)
	got := waitStatus(t, s, task.ID)
	if got.Status != StatusFailed || got.Error != "model unavailable" {
		t.Errorf("unexpected task %+v", got)
	}
}

func TestSchedulerStopCancelsRunningHandler(t *testing.T) {
	started := make(chan struct{})
	s := New(func(ctx context.Context, task Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, Options{})
	stop := start(t, s)

	task, _ := s.Schedule(context.Background(), "s1", "slow", 0)
	<-started
	stop()

	got, _ := s.Get(task.ID)
	if got.Status != StatusFailed {
		t.Errorf("expected failed after shutdown, got %s", got.Status)
	}
}

func TestSchedulerQueries(t *testing.T) {
	s := New(func(context.Context, Task) error { return nil }, Options{})
	ctx := context.Background()

	if _, err := s.Schedule(ctx, "s1", "", time.Minute); err == nil {
		t.Error("expected error for empty prompt")
	}
	a, _ := s.Schedule(ctx, "s1", "a", 2*time.Minute)
	b, _ := s.Schedule(ctx, "s1", "b", time.Minute)
	c, _ := s.Schedule(ctx, "s2", "c", -time.Minute)
	if !c.ExecuteAt.Equal(c.ScheduledAt) {
		t.Error("negative delay should be treated as zero")
	}

	pending := s.Pending("s1")
	if len(pending) != 2 || pending[0].ID != b.ID || pending[1].ID != a.ID {
		t.Errorf("unexpected pending %v", pending)
	}
	if len(s.List()) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(s.List()))
	}

	_, _ = s.Cancel(a.ID)
	s.Forget("s1")
	if len(s.Session("s1")) != 1 {
		t.Errorf("Forget should only drop finished tasks, got %v", s.Session("s1"))
	}
	if _, err := s.Get(a.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected forgotten task to be gone, got %v", err)
	}
}

func TestTaskProgress(t *testing.T) {
	base := time.Date(2024, 1, 1, 19, 30, 0, 0, time.UTC)
	task := Task{ScheduledAt: base, ExecuteAt: base.Add(3 * time.Minute)}

	tests := []struct {
		name      string
		now       time.Time
		remaining time.Duration
		progress  float64
	}{
		{"before", base.Add(-time.Second), 3*time.Minute + time.Second, 0},
		{"start", base, 3 * time.Minute, 0},
		{"middle", base.Add(90 * time.Second), 90 * time.Second, 0.5},
		{"due", base.Add(3 * time.Minute), 0, 1},
		{"overdue", base.Add(time.Hour), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := task.Remaining(tt.now); got != tt.remaining {
				t.Errorf("Remaining = %v, want %v", got, tt.remaining)
			}
			if got := task.Progress(tt.now); got != tt.progress {
				t.Errorf("Progress = %v, want %v", got, tt.progress)
			}
		})
	}

	immediate := Task{ScheduledAt: base, ExecuteAt: base}
	if immediate.Progress(base) != 1 {
		t.Error("zero-length wait should report full progress")
	}
	if task.Content() != "[SCHEDULED FOLLOW-UP] " {
		t.Errorf("unexpected content %q", task.Content())
	}
}

func TestTaskView(t *testing.T) {
	base := time.Date(2024, 1, 1, 19, 30, 0, 0, time.UTC)
	now := base.Add(45 * time.Second)
	s := New(func(context.Context, Task) error { return nil }, Options{
		Now: func() time.Time { return now },
	})

	task, err := s.Schedule(context.Background(), "s1", "Have you had your heart medicine?", 3*time.Minute)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !s.Now().Equal(now) {
		t.Errorf("Now = %v, want %v", s.Now(), now)
	}

	now = now.Add(90 * time.Second)
	view := task.At(s.Now())
	if view.ID != task.ID || view.Status != StatusPending {
		t.Errorf("view should carry the task, got %+v", view.Task)
	}
	if view.RemainingSeconds != 90 || view.Fraction != 0.5 {
		t.Errorf("remaining %v progress %v, want 90 and 0.5", view.RemainingSeconds, view.Fraction)
	}
}

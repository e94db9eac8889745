// Package assistant is the session layer in front of the supervisor: it keeps
// each session's history, runs quick actions and scheduled follow-ups, and
// exports transcripts.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dailyux/eldercare-go/archive"
	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/memory"
	"github.com/dailyux/eldercare-go/observability"
	"github.com/dailyux/eldercare-go/patterns"
	"github.com/dailyux/eldercare-go/safety"
	"github.com/dailyux/eldercare-go/scheduler"
)

// UnavailableMessage is shown when no language model is configured.
const UnavailableMessage = "Healthcare agent system not available. Please set an API key environment variable " +
	"(GROQ_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY) and restart."

var (
	// ErrUnavailable is returned when the assistant has no agent.
	ErrUnavailable = errors.New(UnavailableMessage)
	// ErrUnknownAction is returned for quick actions that do not exist.
	ErrUnknownAction = errors.New("unknown quick action")
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message content cannot be empty")
)

const (
	// DefaultHistoryLimit is the number of prior messages shown to the
	// agent.
	DefaultHistoryLimit = 10
	exportLimit         = 1000
	eventKey            = "event"
	finalEvent          = "final"
)

// Options configures a Service.
type Options struct {
	// Agent answers user turns. Nil makes the service unavailable.
	Agent eldercare.StreamingAgent
	// Memory stores history (default: in-memory, 200 messages per session,
	// 1000 sessions).
	Memory   memory.Memory
	Archiver archive.Archiver
	// FollowUpDelay is the wait before a quick action's follow-up
	// (default: 3 minutes).
	FollowUpDelay time.Duration
	HistoryLimit  int
	// Guard screens user messages. Nil accepts everything.
	Guard *safety.Guard

	Metrics *observability.Instruments
	Audit   *observability.AuditLogger
	Logger  *slog.Logger
}

// Service handles chat sessions.
type Service struct {
	agent         eldercare.StreamingAgent
	memory        memory.Memory
	archiver      archive.Archiver
	scheduler     *scheduler.Scheduler
	followUpDelay time.Duration
	historyLimit  int
	hub           *hub
	guard         *safety.Guard

	audit  *observability.AuditLogger
	logger *slog.Logger
}

// New creates a service and its follow-up scheduler. Call Run to start
// executing follow-ups.
func New(opts Options) *Service {
	if opts.Memory == nil {
		opts.Memory = memory.NewInMemoryMemory(200, 1000)
	}
	if opts.Archiver == nil {
		opts.Archiver = archive.NopArchiver{}
	}
	if opts.FollowUpDelay <= 0 {
		opts.FollowUpDelay = DefaultFollowUpDelay
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		agent:         opts.Agent,
		memory:        opts.Memory,
		archiver:      opts.Archiver,
		followUpDelay: opts.FollowUpDelay,
		historyLimit:  opts.HistoryLimit,
		hub:           newHub(),
		guard:         opts.Guard,
		audit:         opts.Audit,
		logger:        opts.Logger,
	}
	s.scheduler = scheduler.New(s.runFollowUp, scheduler.Options{
		Metrics: opts.Metrics,
		Audit:   opts.Audit,
		Logger:  opts.Logger,
	})
	return s
}

// Available reports whether an agent is configured.
func (s *Service) Available() bool {
	return s.agent != nil
}

// MemoryUsage reports what the history backend holds.
func (s *Service) MemoryUsage(ctx context.Context) (memory.Usage, error) {
	return s.memory.Usage(ctx)
}

// Agent returns the configured agent, or nil.
func (s *Service) Agent() eldercare.StreamingAgent {
	return s.agent
}

// Scheduler returns the follow-up scheduler.
func (s *Service) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Run executes scheduled follow-ups until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.scheduler.Run(ctx)
}

// NewSession returns a fresh session ID.
func (s *Service) NewSession() string {
	return uuid.NewString()
}

// Chat runs one user turn and returns the assistant's reply.
func (s *Service) Chat(ctx context.Context, sessionID, text string) (*eldercare.Message, error) {
	text, err := s.screen(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}
	return s.turn(ctx, sessionID, text, text)
}

// screen trims the user's text and runs it through the guard.
func (s *Service) screen(ctx context.Context, sessionID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return s.guard.Check(ctx, sessionID, text)
}

// turn stores stored as the user's message, asks the agent about prompt and
// stores the reply.
func (s *Service) turn(ctx context.Context, sessionID, stored, prompt string) (*eldercare.Message, error) {
	request, err := s.begin(ctx, sessionID, stored, prompt)
	if err != nil {
		return nil, err
	}
	reply, err := s.agent.Process(ctx, request)
	if err != nil {
		s.logger.ErrorContext(ctx, "chat failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("chat: %w", err)
	}
	if err := s.finish(ctx, sessionID, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// begin records the user message and builds the agent request with the
// prior history attached.
func (s *Service) begin(ctx context.Context, sessionID, stored, prompt string) (*eldercare.Message, error) {
	if s.agent == nil {
		return nil, ErrUnavailable
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	history, err := s.historyText(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	user := eldercare.NewMessage(eldercare.RoleUser, stored).WithMetadata("session_id", sessionID)
	if err := s.memory.Store(ctx, sessionID, user); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	request := eldercare.NewMessage(eldercare.RoleUser, prompt).WithMetadata("session_id", sessionID)
	if history != "" {
		request.WithMetadata(patterns.HistoryKey, history)
	}
	return request, nil
}

func (s *Service) finish(ctx context.Context, sessionID string, reply *eldercare.Message) error {
	stored := eldercare.NewMessage(eldercare.RoleAssistant, reply.Content)
	for _, key := range []string{"agent", "routed_to", "routed_by", "stop_reason"} {
		if v, ok := reply.Metadata[key]; ok {
			stored.Metadata[key] = v
		}
	}
	if err := s.memory.Store(ctx, sessionID, stored); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	return nil
}

// ChatStream runs one user turn and streams the agent's progress events
// followed by the reply, whose "event" metadata is "final".
func (s *Service) ChatStream(ctx context.Context, sessionID, text string) (<-chan *eldercare.Message, <-chan error) {
	out := make(chan *eldercare.Message)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		text, err := s.screen(ctx, sessionID, text)
		if err != nil {
			errs <- err
			return
		}
		request, err := s.begin(ctx, sessionID, text, text)
		if err != nil {
			errs <- err
			return
		}

		messages, agentErrs := s.agent.Stream(ctx, request)
		for msg := range messages {
			if msg.MetadataString(eventKey) == finalEvent {
				if err := s.finish(ctx, sessionID, msg); err != nil {
					errs <- err
					return
				}
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := <-agentErrs; err != nil {
			s.logger.ErrorContext(ctx, "chat stream failed", "session_id", sessionID, "error", err)
			errs <- fmt.Errorf("chat: %w", err)
		}
	}()

	return out, errs
}

// QuickActionResult is the outcome of RunQuickAction.
type QuickActionResult struct {
	Action   QuickAction        `json:"action"`
	Reply    *eldercare.Message `json:"reply"`
	FollowUp *scheduler.Task    `json:"follow_up,omitempty"`
}

// RunQuickAction runs the named quick action in the session. Its follow-up,
// if any, is scheduled before the prompt runs and cancelled if the prompt
// fails.
func (s *Service) RunQuickAction(ctx context.Context, sessionID, name string) (*QuickActionResult, error) {
	action, ok := LookupQuickAction(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	if s.agent == nil {
		return nil, ErrUnavailable
	}

	result := &QuickActionResult{Action: action}
	if action.FollowUp != "" {
		task, err := s.scheduler.Schedule(ctx, sessionID, action.FollowUp, s.followUpDelay)
		if err != nil {
			return nil, err
		}
		result.FollowUp = &task
	}

	reply, err := s.Chat(ctx, sessionID, action.Prompt)
	if err != nil {
		// The follow-up checks on a reminder that was never given.
		if result.FollowUp != nil {
			cancelled, cerr := s.scheduler.Cancel(result.FollowUp.ID)
			if cerr != nil {
				s.logger.WarnContext(ctx, "follow-up not cancelled", "task_id", result.FollowUp.ID, "error", cerr)
			} else {
				result.FollowUp = &cancelled
			}
		}
		return result, err
	}
	result.Reply = reply
	return result, nil
}

// runFollowUp is the scheduler handler.
func (s *Service) runFollowUp(ctx context.Context, task scheduler.Task) error {
	reply, err := s.turn(ctx, task.SessionID, task.Content(), task.Prompt)
	if err != nil {
		return err
	}
	reply.WithMetadata("task_id", task.ID).WithMetadata(eventKey, "follow_up")
	s.hub.publish(task.SessionID, reply)
	return nil
}

// Subscribe delivers the replies to the session's scheduled follow-ups.
// The returned function unsubscribes and closes the channel.
func (s *Service) Subscribe(sessionID string) (<-chan *eldercare.Message, func()) {
	return s.hub.subscribe(sessionID)
}

// History returns the session's messages, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]*eldercare.Message, error) {
	messages, err := s.memory.Retrieve(ctx, sessionID, memory.RetrieveOptions{Limit: exportLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return memory.Chronological(messages), nil
}

// historyText renders recent history for the agent prompt.
func (s *Service) historyText(ctx context.Context, sessionID string) (string, error) {
	messages, err := s.memory.Retrieve(ctx, sessionID, memory.RetrieveOptions{Limit: s.historyLimit})
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	return FormatHistory(memory.Chronological(messages)), nil
}

// FormatHistory renders messages as "User: ..." and "Assistant: ..." lines.
func FormatHistory(messages []*eldercare.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		speaker := "Assistant"
		if m.Role == eldercare.RoleUser {
			speaker = "User"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	return strings.TrimSpace(sb.String())
}

// Tasks returns the session's scheduled follow-ups.
func (s *Service) Tasks(sessionID string) []scheduler.View {
	now := s.scheduler.Now()
	tasks := s.scheduler.Session(sessionID)
	views := make([]scheduler.View, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, task.At(now))
	}
	return views
}

// Task returns one follow-up with its countdown.
func (s *Service) Task(id string) (scheduler.View, error) {
	task, err := s.scheduler.Get(id)
	if err != nil {
		return scheduler.View{}, err
	}
	return task.At(s.scheduler.Now()), nil
}

// CancelTask cancels a pending follow-up.
func (s *Service) CancelTask(id string) (scheduler.Task, error) {
	return s.scheduler.Cancel(id)
}

// DeleteSession clears history and cancels pending follow-ups.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	for _, task := range s.scheduler.Pending(sessionID) {
		if _, err := s.scheduler.Cancel(task.ID); err != nil && !errors.Is(err, scheduler.ErrNotPending) {
			return err
		}
	}
	s.scheduler.Forget(sessionID)
	if err := s.memory.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Export archives the session transcript and returns its location.
func (s *Service) Export(ctx context.Context, sessionID string) (string, error) {
	messages, err := s.History(ctx, sessionID)
	if err != nil {
		return "", err
	}
	summary, err := s.memory.Summarize(ctx, sessionID, memory.SummarizeOptions{})
	if err != nil {
		return "", err
	}
	location, err := s.archiver.Put(ctx, archive.Transcript{
		SessionID:  sessionID,
		ExportedAt: time.Now().UTC(),
		Messages:   messages,
		Summary:    summary.Content,
		Tasks:      s.scheduler.Session(sessionID),
	})
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	s.audit.LogTranscriptExported(ctx, sessionID, location)
	return location, nil
}

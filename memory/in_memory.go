package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/dailyux/eldercare-go/eldercare"
)

// InMemoryMemory keeps history in process memory.
//
// Each session holds at most maxMessages messages; older ones are dropped.
// At most maxSessions sessions are kept, evicting the least recently used.
// Zero means unlimited for either bound.
type InMemoryMemory struct {
	maxMessages int
	maxSessions int

	mu       sync.Mutex
	sessions map[string]*list.Element
	lru      *list.List // front = most recently used
}

type session struct {
	id       string
	messages []*eldercare.Message
}

var _ Memory = (*InMemoryMemory)(nil)

// NewInMemoryMemory creates an in-memory store.
func NewInMemoryMemory(maxMessages, maxSessions int) *InMemoryMemory {
	return &InMemoryMemory{
		maxMessages: maxMessages,
		maxSessions: maxSessions,
		sessions:    make(map[string]*list.Element),
		lru:         list.New(),
	}
}

// touch returns the session, creating it if needed, and marks it used.
// Callers hold m.mu.
func (m *InMemoryMemory) touch(sessionID string, create bool) *session {
	if el, ok := m.sessions[sessionID]; ok {
		m.lru.MoveToFront(el)
		return el.Value.(*session)
	}
	if !create {
		return nil
	}
	s := &session{id: sessionID}
	m.sessions[sessionID] = m.lru.PushFront(s)
	for m.maxSessions > 0 && m.lru.Len() > m.maxSessions {
		oldest := m.lru.Back()
		m.lru.Remove(oldest)
		delete(m.sessions, oldest.Value.(*session).id)
	}
	return s
}

// Store appends a message to the session.
func (m *InMemoryMemory) Store(ctx context.Context, sessionID string, message *eldercare.Message) error {
	if message == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.touch(sessionID, true)
	s.messages = append(s.messages, message)
	if m.maxMessages > 0 && len(s.messages) > m.maxMessages {
		s.messages = s.messages[len(s.messages)-m.maxMessages:]
	}
	return nil
}

// Retrieve returns matching messages, most recent first.
func (m *InMemoryMemory) Retrieve(ctx context.Context, sessionID string, opts RetrieveOptions) ([]*eldercare.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.touch(sessionID, false)
	if s == nil {
		return []*eldercare.Message{}, nil
	}

	limit := opts.limit()
	out := make([]*eldercare.Message, 0, min(limit, len(s.messages)))
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if opts.match(s.messages[i]) {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

// Summarize lists the most recent messages of the session.
func (m *InMemoryMemory) Summarize(ctx context.Context, sessionID string, opts SummarizeOptions) (*eldercare.Message, error) {
	messages, err := m.Retrieve(ctx, sessionID, RetrieveOptions{Limit: 100})
	if err != nil {
		return nil, err
	}
	return summarize(messages, opts), nil
}

// Clear removes the session.
func (m *InMemoryMemory) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.sessions[sessionID]; ok {
		m.lru.Remove(el)
		delete(m.sessions, sessionID)
	}
	return nil
}

// Capabilities returns the memory capabilities.
func (m *InMemoryMemory) Capabilities() []string {
	return []string{"basic_retrieval", "time_filtering", "role_filtering", "lru_eviction"}
}

// Usage counts the sessions and messages held in process.
func (m *InMemoryMemory) Usage(ctx context.Context) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := Usage{Backend: "memory", Sessions: len(m.sessions)}
	for _, el := range m.sessions {
		usage.Messages += len(el.Value.(*session).messages)
	}
	return usage, nil
}

// Package memory stores per-session conversation history.
//
// Implementations:
//   - InMemoryMemory: process-local storage with LRU session eviction
//   - RedisMemory: Redis sorted set per session with TTL
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dailyux/eldercare-go/eldercare"
)

// DefaultLimit is the number of messages Retrieve returns when no limit is
// given.
const DefaultLimit = 10

// Memory stores and retrieves conversation history by session.
type Memory interface {
	// Store appends a message to the session.
	Store(ctx context.Context, sessionID string, message *eldercare.Message) error

	// Retrieve returns messages most recent first.
	Retrieve(ctx context.Context, sessionID string, opts RetrieveOptions) ([]*eldercare.Message, error)

	// Summarize condenses the session into a single system message.
	Summarize(ctx context.Context, sessionID string, opts SummarizeOptions) (*eldercare.Message, error)

	// Clear removes all messages of the session.
	Clear(ctx context.Context, sessionID string) error

	// Capabilities lists what the backend supports, e.g. "persistence", "ttl".
	Capabilities() []string

	// Usage reports what the backend holds. It fails when the backend
	// cannot be reached.
	Usage(ctx context.Context) (Usage, error)
}

// Usage is reported by /health.
type Usage struct {
	Backend  string `json:"backend"`
	Sessions int    `json:"sessions"`
	Messages int    `json:"messages"`
}

// RetrieveOptions filters Retrieve.
type RetrieveOptions struct {
	// Limit is the maximum number of messages to return (default: 10).
	Limit int

	// Since drops messages older than this time when set.
	Since time.Time

	// Roles keeps only messages with one of these roles when set.
	Roles []string
}

func (o RetrieveOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

func (o RetrieveOptions) match(m *eldercare.Message) bool {
	if !o.Since.IsZero() && m.Timestamp.Before(o.Since) {
		return false
	}
	if len(o.Roles) == 0 {
		return true
	}
	for _, role := range o.Roles {
		if m.Role == role {
			return true
		}
	}
	return false
}

// SummarizeOptions controls Summarize.
type SummarizeOptions struct {
	// MaxMessages is the number of recent messages listed (default: 10).
	MaxMessages int

	// PreviewLength truncates each listed message (default: 100).
	PreviewLength int
}

// Chronological returns messages oldest first. Retrieve returns the reverse.
func Chronological(messages []*eldercare.Message) []*eldercare.Message {
	out := make([]*eldercare.Message, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}

func summarize(messages []*eldercare.Message, opts SummarizeOptions) *eldercare.Message {
	if len(messages) == 0 {
		return eldercare.NewMessage(eldercare.RoleSystem, "No messages in session.")
	}
	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 10
	}
	previewLength := opts.PreviewLength
	if previewLength <= 0 {
		previewLength = 100
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session summary (%d messages):", len(messages))
	for i, msg := range messages {
		if i == maxMessages {
			break
		}
		preview := msg.Content
		if runes := []rune(preview); len(runes) > previewLength {
			preview = string(runes[:previewLength]) + "..."
		}
		fmt.Fprintf(&sb, "\n%d. [%s] %s", i+1, msg.Role, preview)
	}
	return eldercare.NewMessage(eldercare.RoleSystem, sb.String())
}

package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dailyux/eldercare-go/eldercare"
)

func TestInMemoryMemory(t *testing.T) {
	ctx := context.Background()
	memory := NewInMemoryMemory(100, 0)

	if err := memory.Store(ctx, "session-1", eldercare.NewMessage(eldercare.RoleUser, "Hello")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := memory.Store(ctx, "session-1", eldercare.NewMessage(eldercare.RoleAssistant, "Hi there")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	messages, err := memory.Retrieve(ctx, "session-1", RetrieveOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "Hi there" {
		t.Errorf("Expected most recent first, got '%s'", messages[0].Content)
	}
	usage, err := memory.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage != (Usage{Backend: "memory", Sessions: 1, Messages: 2}) {
		t.Errorf("unexpected usage %+v", usage)
	}

	if err := memory.Clear(ctx, "session-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	messages, _ = memory.Retrieve(ctx, "session-1", RetrieveOptions{})
	if len(messages) != 0 {
		t.Errorf("Expected 0 messages after clear, got %d", len(messages))
	}
}

func TestInMemoryMemoryFiltering(t *testing.T) {
	ctx := context.Background()
	memory := NewInMemoryMemory(0, 0)

	old := eldercare.NewMessage(eldercare.RoleUser, "old question")
	old.Timestamp = time.Now().Add(-time.Hour)
	_ = memory.Store(ctx, "s", old)
	_ = memory.Store(ctx, "s", eldercare.NewMessage(eldercare.RoleUser, "new question"))
	_ = memory.Store(ctx, "s", eldercare.NewMessage(eldercare.RoleAssistant, "new answer"))

	tests := []struct {
		name string
		opts RetrieveOptions
		want []string
	}{
		{"all", RetrieveOptions{}, []string{"new answer", "new question", "old question"}},
		{"limit", RetrieveOptions{Limit: 1}, []string{"new answer"}},
		{"since", RetrieveOptions{Since: time.Now().Add(-time.Minute)}, []string{"new answer", "new question"}},
		{"roles", RetrieveOptions{Roles: []string{eldercare.RoleUser}}, []string{"new question", "old question"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := memory.Retrieve(ctx, "s", tt.opts)
			if err != nil {
				t.Fatalf("Retrieve failed: %v", err)
			}
			var got []string
			for _, m := range messages {
				got = append(got, m.Content)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryMemoryMessageLimit(t *testing.T) {
	ctx := context.Background()
	memory := NewInMemoryMemory(3, 0)

	for i := 0; i < 5; i++ {
		_ = memory.Store(ctx, "s", eldercare.NewMessage(eldercare.RoleUser, fmt.Sprintf("m%d", i)))
	}
	messages, _ := memory.Retrieve(ctx, "s", RetrieveOptions{Limit: 10})
	if len(messages) != 3 || messages[2].Content != "m2" {
		t.Errorf("expected m4..m2, got %d messages", len(messages))
	}
}

func TestInMemoryMemorySessionEviction(t *testing.T) {
	ctx := context.Background()
	memory := NewInMemoryMemory(0, 2)

	_ = memory.Store(ctx, "a", eldercare.NewMessage(eldercare.RoleUser, "a"))
	_ = memory.Store(ctx, "b", eldercare.NewMessage(eldercare.RoleUser, "b"))
	// Reading a marks it recently used, so b is evicted next.
	_, _ = memory.Retrieve(ctx, "a", RetrieveOptions{})
	_ = memory.Store(ctx, "c", eldercare.NewMessage(eldercare.RoleUser, "c"))

	if msgs, _ := memory.Retrieve(ctx, "b", RetrieveOptions{}); len(msgs) != 0 {
		t.Errorf("expected b to be evicted, got %d messages", len(msgs))
	}
	for _, id := range []string{"a", "c"} {
		if msgs, _ := memory.Retrieve(ctx, id, RetrieveOptions{}); len(msgs) != 1 {
			t.Errorf("expected session %s to be kept", id)
		}
	}
	if usage, _ := memory.Usage(ctx); usage.Sessions != 2 {
		t.Errorf("unexpected usage %+v", usage)
	}
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	memory := NewInMemoryMemory(0, 0)

	summary, err := memory.Summarize(ctx, "empty", SummarizeOptions{})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Content != "No messages in session." {
		t.Errorf("unexpected empty summary %q", summary.Content)
	}

	_ = memory.Store(ctx, "s", eldercare.NewMessage(eldercare.RoleUser, strings.Repeat("x", 20)))
	summary, _ = memory.Summarize(ctx, "s", SummarizeOptions{PreviewLength: 5})
	want := "Session summary (1 messages):\n1. [user] xxxxx..."
	if summary.Content != want {
		t.Errorf("got %q, want %q", summary.Content, want)
	}

	_ = memory.Store(ctx, "es", eldercare.NewMessage(eldercare.RoleUser, "¿Tomó su medicina?"))
	summary, _ = memory.Summarize(ctx, "es", SummarizeOptions{PreviewLength: 4})
	if want := "Session summary (1 messages):\n1. [user] ¿Tom..."; summary.Content != want {
		t.Errorf("got %q, want %q", summary.Content, want)
	}
}

func TestChronological(t *testing.T) {
	in := []*eldercare.Message{
		eldercare.NewMessage(eldercare.RoleAssistant, "2"),
		eldercare.NewMessage(eldercare.RoleUser, "1"),
	}
	out := Chronological(in)
	if out[0].Content != "1" || out[1].Content != "2" {
		t.Errorf("unexpected order %s, %s", out[0].Content, out[1].Content)
	}
	if in[0].Content != "2" {
		t.Error("input slice was modified")
	}
}

func TestRedisKeyLayout(t *testing.T) {
	memory := NewRedisMemoryWithClient(nil, RedisOptions{})
	key := memory.sessionKey("abc-123")
	if key != "dailycare:memory:abc-123:messages" {
		t.Errorf("unexpected key %s", key)
	}
	id, ok := memory.sessionFromKey(key)
	if !ok || id != "abc-123" {
		t.Errorf("sessionFromKey(%s) = %s, %v", key, id, ok)
	}
	if _, ok := memory.sessionFromKey("other:abc:messages"); ok {
		t.Error("foreign key should not parse")
	}
}

func TestRedisMessageEncoding(t *testing.T) {
	msg := eldercare.NewMessage(eldercare.RoleAssistant, "Take your aspirin").
		WithMetadata("agent", "medication_reminder_agent")
	data, err := encodeMessage(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Content != msg.Content || decoded.MetadataString("agent") != "medication_reminder_agent" {
		t.Errorf("unexpected message %+v", decoded)
	}
	if !decoded.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp changed: %v vs %v", decoded.Timestamp, msg.Timestamp)
	}
	if _, err := decodeMessage("{broken"); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewRedisMemoryRejectsBadURL(t *testing.T) {
	if _, err := NewRedisMemory("not a url", RedisOptions{}); err == nil {
		t.Error("expected error for invalid URL")
	}
}

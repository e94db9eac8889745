package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dailyux/eldercare-go/eldercare"
)

// RedisMemory stores history in Redis so sessions survive restarts and are
// shared between server instances.
//
// Redis data layout:
//   - Key: "{prefix}:{session_id}:messages"
//   - Type: sorted set, score = message timestamp in seconds
//   - Member: JSON-encoded eldercare.Message
type RedisMemory struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	maxMessages int
}

var _ Memory = (*RedisMemory)(nil)

// RedisOptions configures RedisMemory.
type RedisOptions struct {
	// KeyPrefix namespaces keys (default: "dailycare:memory").
	KeyPrefix string
	// TTL expires idle sessions; zero keeps them forever.
	TTL time.Duration
	// MaxMessages trims each session to its most recent messages; zero
	// keeps everything.
	MaxMessages int
}

// NewRedisMemory connects using a redis:// URL.
func NewRedisMemory(redisURL string, opts RedisOptions) (*RedisMemory, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisMemoryWithClient(redis.NewClient(parsed), opts), nil
}

// NewRedisMemoryWithClient wraps an existing client.
func NewRedisMemoryWithClient(client *redis.Client, opts RedisOptions) *RedisMemory {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "dailycare:memory"
	}
	return &RedisMemory{
		client:      client,
		keyPrefix:   opts.KeyPrefix,
		ttl:         opts.TTL,
		maxMessages: opts.MaxMessages,
	}
}

func (r *RedisMemory) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:messages", r.keyPrefix, sessionID)
}

// sessionFromKey extracts the session ID from a key built by sessionKey.
func (r *RedisMemory) sessionFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, r.keyPrefix+":")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, ":messages")
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func encodeMessage(message *eldercare.Message) (string, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to serialize message: %w", err)
	}
	return string(data), nil
}

func decodeMessage(data string) (*eldercare.Message, error) {
	var message eldercare.Message
	if err := json.Unmarshal([]byte(data), &message); err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}
	if message.Metadata == nil {
		message.Metadata = make(map[string]interface{})
	}
	return &message, nil
}

// Store adds the message to the session's sorted set and refreshes the TTL.
func (r *RedisMemory) Store(ctx context.Context, sessionID string, message *eldercare.Message) error {
	if message == nil {
		return nil
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	value, err := encodeMessage(message)
	if err != nil {
		return err
	}

	key := r.sessionKey(sessionID)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score(message.Timestamp), Member: value})
	if r.maxMessages > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-r.maxMessages-1))
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// Retrieve returns matching messages, most recent first. Malformed members
// are skipped.
func (r *RedisMemory) Retrieve(ctx context.Context, sessionID string, opts RetrieveOptions) ([]*eldercare.Message, error) {
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !opts.Since.IsZero() {
		rangeBy.Min = strconv.FormatFloat(score(opts.Since), 'f', -1, 64)
	}
	values, err := r.client.ZRevRangeByScore(ctx, r.sessionKey(sessionID), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}

	limit := opts.limit()
	out := make([]*eldercare.Message, 0, min(limit, len(values)))
	for _, value := range values {
		message, err := decodeMessage(value)
		if err != nil || !opts.match(message) {
			continue
		}
		out = append(out, message)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Summarize lists the most recent messages of the session.
func (r *RedisMemory) Summarize(ctx context.Context, sessionID string, opts SummarizeOptions) (*eldercare.Message, error) {
	messages, err := r.Retrieve(ctx, sessionID, RetrieveOptions{Limit: 100})
	if err != nil {
		return nil, err
	}
	return summarize(messages, opts), nil
}

// Clear deletes the session key.
func (r *RedisMemory) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Capabilities returns the memory capabilities.
func (r *RedisMemory) Capabilities() []string {
	caps := []string{"basic_retrieval", "persistence", "time_filtering", "role_filtering"}
	if r.ttl > 0 {
		caps = append(caps, "ttl")
	}
	return caps
}

// SessionCount returns the number of messages stored for a session.
func (r *RedisMemory) SessionCount(ctx context.Context, sessionID string) (int64, error) {
	count, err := r.client.ZCard(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get session count: %w", err)
	}
	return count, nil
}

// Sessions scans for stored session IDs.
func (r *RedisMemory) Sessions(ctx context.Context) ([]string, error) {
	var sessions []string
	iter := r.client.Scan(ctx, 0, r.keyPrefix+":*:messages", 0).Iterator()
	for iter.Next(ctx) {
		if id, ok := r.sessionFromKey(iter.Val()); ok {
			sessions = append(sessions, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return sessions, nil
}

// Usage pings Redis, then counts the stored sessions and their messages.
func (r *RedisMemory) Usage(ctx context.Context) (Usage, error) {
	usage := Usage{Backend: "redis"}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return usage, fmt.Errorf("redis unreachable: %w", err)
	}
	sessions, err := r.Sessions(ctx)
	if err != nil {
		return usage, err
	}
	usage.Sessions = len(sessions)
	for _, id := range sessions {
		n, err := r.SessionCount(ctx, id)
		if err != nil {
			return usage, err
		}
		usage.Messages += int(n)
	}
	return usage, nil
}

// Close closes the Redis connection.
func (r *RedisMemory) Close() error {
	return r.client.Close()
}

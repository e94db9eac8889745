package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisRepository serves records stored as JSON in Redis.
//
// Redis data layout:
//   - "{prefix}:profile"      string, JSON UserProfile
//   - "{prefix}:schedule"     string, JSON []Medication
//   - "{prefix}:contacts"     string, JSON []FamilyContact
//   - "{prefix}:plans"        hash, lower-case emergency type -> JSON ActionPlan
//   - "{prefix}:environment"  string, JSON EnvironmentStatus (time is ignored)
type RedisRepository struct {
	client    *redis.Client
	keyPrefix string
	clock     Clock
}

// NewRedisRepository connects to Redis using a redis:// URL.
func NewRedisRepository(redisURL, keyPrefix string, clock Clock) (*RedisRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisRepositoryWithClient(redis.NewClient(opts), keyPrefix, clock), nil
}

// NewRedisRepositoryWithClient wraps an existing client.
func NewRedisRepositoryWithClient(client *redis.Client, keyPrefix string, clock Clock) *RedisRepository {
	if keyPrefix == "" {
		keyPrefix = "dailycare:records"
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &RedisRepository{client: client, keyPrefix: keyPrefix, clock: clock}
}

func (r *RedisRepository) key(name string) string {
	return r.keyPrefix + ":" + name
}

// Seed writes the mock records, replacing whatever is stored.
func (r *RedisRepository) Seed(ctx context.Context) error {
	pipe := r.client.TxPipeline()

	values := map[string]interface{}{
		"profile":     MockUserProfile(),
		"schedule":    MockMedicationSchedule(),
		"contacts":    MockFamilyContacts(),
		"environment": mockEnvironment(r.clock()),
	}
	for name, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		pipe.Set(ctx, r.key(name), data, 0)
	}

	pipe.Del(ctx, r.key("plans"))
	for typ, plan := range MockActionPlans() {
		data, err := json.Marshal(plan)
		if err != nil {
			return fmt.Errorf("failed to encode plan %q: %w", typ, err)
		}
		pipe.HSet(ctx, r.key("plans"), typ, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to seed records: %w", err)
	}
	return nil
}

func (r *RedisRepository) get(ctx context.Context, name string, v interface{}) error {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

// Profile returns the stored user profile.
func (r *RedisRepository) Profile(ctx context.Context) (UserProfile, error) {
	var p UserProfile
	err := r.get(ctx, "profile", &p)
	return p, err
}

// Schedule returns the stored medication schedule.
func (r *RedisRepository) Schedule(ctx context.Context) ([]Medication, error) {
	var s []Medication
	err := r.get(ctx, "schedule", &s)
	return s, err
}

// Contacts returns the stored family contacts.
func (r *RedisRepository) Contacts(ctx context.Context) ([]FamilyContact, error) {
	var c []FamilyContact
	err := r.get(ctx, "contacts", &c)
	return c, err
}

// ActionPlan returns the stored plan for an emergency type, or the generic
// unknown-type plan when none is stored.
func (r *RedisRepository) ActionPlan(ctx context.Context, emergencyType string) (ActionPlan, error) {
	key := strings.ToLower(strings.TrimSpace(emergencyType))
	data, err := r.client.HGet(ctx, r.key("plans"), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return UnknownActionPlan(emergencyType), nil
	}
	if err != nil {
		return ActionPlan{}, fmt.Errorf("failed to read action plan: %w", err)
	}
	var plan ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return ActionPlan{}, fmt.Errorf("failed to decode action plan: %w", err)
	}
	return plan, nil
}

// Environment returns the stored device states stamped with the current clock.
func (r *RedisRepository) Environment(ctx context.Context) (EnvironmentStatus, error) {
	var e EnvironmentStatus
	if err := r.get(ctx, "environment", &e); err != nil {
		return EnvironmentStatus{}, err
	}
	e.CurrentTime = r.clock()
	return e, nil
}

// Close closes the Redis connection.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

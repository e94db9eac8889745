package records

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Clock returns the current time. Repositories and tools take a Clock so the
// demo can pin the household to a fixed evening.
type Clock func() time.Time

// SystemClock returns time.Now.
func SystemClock() Clock { return time.Now }

// FixedClock returns a clock that always reports the given hour and minute of
// today in the local time zone.
func FixedClock(hour, minute int) Clock {
	return func() time.Time {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	}
}

// ParseDemoTime parses "19:30" or "7:30pm" style times into a FixedClock.
// An empty string yields the system clock.
func ParseDemoTime(s string) (Clock, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return SystemClock(), nil
	}
	for _, layout := range []string{"15:04", "3:04pm", "3:04 pm", "03:04pm"} {
		if t, err := time.Parse(layout, s); err == nil {
			return FixedClock(t.Hour(), t.Minute()), nil
		}
	}
	return nil, errors.New("invalid demo time " + s + ": expected HH:MM or h:mmpm")
}

// Repository is the read side of the assistant's records.
type Repository interface {
	Profile(ctx context.Context) (UserProfile, error)
	Schedule(ctx context.Context) ([]Medication, error)
	Contacts(ctx context.Context) ([]FamilyContact, error)
	ActionPlan(ctx context.Context, emergencyType string) (ActionPlan, error)
	Environment(ctx context.Context) (EnvironmentStatus, error)
}

// FindContact returns the first contact whose name appears in query,
// compared case-insensitively.
func FindContact(ctx context.Context, repo Repository, query string) (FamilyContact, error) {
	contacts, err := repo.Contacts(ctx)
	if err != nil {
		return FamilyContact{}, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return FamilyContact{}, ErrNotFound
	}
	for _, c := range contacts {
		if strings.Contains(q, strings.ToLower(c.Name)) {
			return c, nil
		}
	}
	return FamilyContact{}, ErrNotFound
}

// ContactNames returns the names of the given contacts in order.
func ContactNames(contacts []FamilyContact) []string {
	names := make([]string, len(contacts))
	for i, c := range contacts {
		names[i] = c.Name
	}
	return names
}

// MockRepository serves the literal demo records. It is safe for concurrent
// use; every read returns a fresh copy.
type MockRepository struct {
	clock Clock
}

// NewMockRepository creates a repository over the mock literals. A nil clock
// uses the system clock.
func NewMockRepository(clock Clock) *MockRepository {
	if clock == nil {
		clock = SystemClock()
	}
	return &MockRepository{clock: clock}
}

// Profile returns the mock user profile.
func (r *MockRepository) Profile(ctx context.Context) (UserProfile, error) {
	return MockUserProfile(), nil
}

// Schedule returns the mock medication schedule.
func (r *MockRepository) Schedule(ctx context.Context) ([]Medication, error) {
	return MockMedicationSchedule(), nil
}

// Contacts returns the mock family contacts.
func (r *MockRepository) Contacts(ctx context.Context) ([]FamilyContact, error) {
	return MockFamilyContacts(), nil
}

// ActionPlan looks up the plan for an emergency type, case-insensitively.
// Unknown types return the generic plan rather than an error.
func (r *MockRepository) ActionPlan(ctx context.Context, emergencyType string) (ActionPlan, error) {
	return lookupActionPlan(MockActionPlans(), emergencyType), nil
}

// Environment returns the mock household status at the repository's clock.
func (r *MockRepository) Environment(ctx context.Context) (EnvironmentStatus, error) {
	return mockEnvironment(r.clock()), nil
}

func mockEnvironment(now time.Time) EnvironmentStatus {
	return EnvironmentStatus{
		CurrentTime:     now,
		TVStatus:        "on",
		KitchenActivity: "cooktop_active",
		UserLocation:    "living_room",
		Devices:         MockDevices(),
	}
}

func lookupActionPlan(plans map[string]ActionPlan, emergencyType string) ActionPlan {
	key := strings.ToLower(strings.TrimSpace(emergencyType))
	if plan, ok := plans[key]; ok {
		return plan
	}
	return UnknownActionPlan(emergencyType)
}

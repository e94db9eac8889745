// Package notify delivers messages to the user's devices and to family
// contacts.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dailyux/eldercare-go/records"
)

// Urgency is the priority attached to a notification.
type Urgency string

const (
	UrgencyStandard Urgency = "standard"
	UrgencyElevated Urgency = "elevated"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ParseUrgency normalizes s; unrecognized values become UrgencyStandard.
func ParseUrgency(s string) Urgency {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyStandard, UrgencyElevated, UrgencyHigh, UrgencyCritical:
		return u
	default:
		return UrgencyStandard
	}
}

// Message contexts used by the communication agent.
const (
	ContextMedicationReminder = "medication_reminder"
	ContextEmergencyAlert     = "emergency_alert"
	ContextFamilyNotification = "family_notification"
	ContextPreMealMedication  = "pre_meal_medication"
)

// Delivery statuses reported per device.
const (
	StatusDelivered         = "delivered"
	StatusDeviceUnavailable = "device_unavailable"
	StatusFailed            = "failed"
)

const watchMaxLen = 50

// Notification is a single message bound for one device of one recipient.
type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Device    string    `json:"device"`
	Body      string    `json:"body"`
	Urgency   Urgency   `json:"urgency"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification creates a notification with a fresh ID.
func NewNotification(recipient, device, body string, urgency Urgency, msgContext string) Notification {
	return Notification{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Device:    device,
		Body:      body,
		Urgency:   urgency,
		Context:   msgContext,
		CreatedAt: time.Now().UTC(),
	}
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Deliver(ctx context.Context, n Notification) error
}

// FormatForDevice adapts a message to the device it is shown on: the watch
// gets a truncated line, a running TV gets an ALERT banner and an active
// kitchen appliance gets a KITCHEN ALERT banner.
func FormatForDevice(device, message string, env records.EnvironmentStatus) string {
	switch device {
	case records.DeviceWatch:
		if utf8.RuneCountInString(message) > watchMaxLen {
			return string([]rune(message)[:watchMaxLen]) + "..."
		}
		return message
	case records.DeviceTV:
		if env.TVOn() {
			return "ALERT: " + message
		}
	case records.DeviceKitchenAppliances:
		if env.KitchenActive() {
			return "KITCHEN ALERT: " + message
		}
	}
	return message
}

// ParseDevices splits a comma-separated device list, trimming blanks and
// dropping duplicates while keeping order.
func ParseDevices(devices string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range strings.Split(devices, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// ConsoleDispatcher prints notifications, one line per delivery.
type ConsoleDispatcher struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

// NewConsoleDispatcher writes to out, or stdout when out is nil.
func NewConsoleDispatcher(out io.Writer, logger *slog.Logger) *ConsoleDispatcher {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleDispatcher{out: out, logger: logger}
}

// Deliver prints "[DEVICE] TO recipient: body".
func (c *ConsoleDispatcher) Deliver(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.Urgency == UrgencyHigh || n.Urgency == UrgencyCritical {
		if _, err := fmt.Fprintf(c.out, "[URGENCY: %s] ", strings.ToUpper(string(n.Urgency))); err != nil {
			return fmt.Errorf("failed to write notification: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.out, "[%s] TO %s: %s\n", strings.ToUpper(n.Device), n.Recipient, n.Body); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	c.logger.InfoContext(ctx, "notification delivered",
		"id", n.ID,
		"device", n.Device,
		"recipient", n.Recipient,
		"urgency", string(n.Urgency),
		"context", n.Context,
	)
	return nil
}

// Recorder keeps delivered notifications in memory, newest last. It backs the
// /v1/notifications endpoint and is used in tests.
type Recorder struct {
	mu    sync.RWMutex
	items []Notification
	limit int
}

// NewRecorder keeps at most limit notifications (0 = 500).
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 500
	}
	return &Recorder{limit: limit}
}

// Deliver records the notification.
func (r *Recorder) Deliver(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
	return nil
}

// List returns a copy of the recorded notifications.
func (r *Recorder) List() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Fanout delivers every notification to all dispatchers and returns the first
// error after trying each one.
type Fanout []Dispatcher

// Deliver implements Dispatcher.
func (f Fanout) Deliver(ctx context.Context, n Notification) error {
	var firstErr error
	for _, d := range f {
		if err := d.Deliver(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package notify

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dailyux/eldercare-go/records"
)

func demoEnv() records.EnvironmentStatus {
	return records.EnvironmentStatus{
		TVStatus:        "on",
		KitchenActivity: "cooktop_active",
		Devices:         records.MockDevices(),
	}
}

func TestFormatForDevice(t *testing.T) {
	// 49 characters, 55 bytes.
	pills := "Time for your heart medicine now, John, please 💊💊"
	spanish := "Hora de su medicina 💊 para el corazón, Jóhn, tómela ahora ❤️"
	long := "Hi John, it's time to take your aspirin 650, the red round pill for your heart."
	env := demoEnv()

	tests := []struct {
		device string
		env    records.EnvironmentStatus
		msg    string
		want   string
	}{
		{records.DeviceWatch, env, long, long[:50] + "..."},
		{records.DeviceWatch, env, "Take aspirin", "Take aspirin"},
		{records.DeviceTV, env, "Take aspirin", "ALERT: Take aspirin"},
		{records.DeviceTV, records.EnvironmentStatus{TVStatus: "off"}, "Take aspirin", "Take aspirin"},
		{records.DeviceKitchenAppliances, env, "Take gastro", "KITCHEN ALERT: Take gastro"},
		{records.DeviceKitchenAppliances, records.EnvironmentStatus{KitchenActivity: "inactive"}, "Take gastro", "Take gastro"},
		{records.DevicePhone, env, long, long},
		{records.DeviceWatch, env, pills, pills},
		{records.DeviceWatch, env, spanish, "Hora de su medicina 💊 para el corazón, Jóhn, tómel..."},
	}
	for _, tt := range tests {
		got := FormatForDevice(tt.device, tt.msg, tt.env)
		if got != tt.want {
			t.Errorf("FormatForDevice(%s) = %q, want %q", tt.device, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("FormatForDevice(%s) produced invalid UTF-8: %q", tt.device, got)
		}
	}
}

func TestParseDevices(t *testing.T) {
	got := ParseDevices(" phone, Watch ,,phone,tv ")
	want := []string{"phone", "watch", "tv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDevices = %v, want %v", got, want)
	}
	if got := ParseDevices(""); len(got) != 0 {
		t.Errorf("expected no devices, got %v", got)
	}
}

func TestParseUrgency(t *testing.T) {
	tests := map[string]Urgency{
		"":          UrgencyStandard,
		"HIGH":      UrgencyHigh,
		" critical": UrgencyCritical,
		"elevated":  UrgencyElevated,
		"urgent":    UrgencyStandard,
	}
	for in, want := range tests {
		if got := ParseUrgency(in); got != want {
			t.Errorf("ParseUrgency(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConsoleDispatcher(t *testing.T) {
	var buf bytes.Buffer
	d := NewConsoleDispatcher(&buf, nil)

	n := NewNotification("John", records.DeviceWatch, "Take aspirin", UrgencyStandard, ContextMedicationReminder)
	if err := d.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if got := buf.String(); got != "[WATCH] TO John: Take aspirin\n" {
		t.Errorf("unexpected output %q", got)
	}

	buf.Reset()
	n = NewNotification("Mary Smith", records.DevicePhone, "Gas leak", UrgencyCritical, ContextEmergencyAlert)
	if err := d.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "[URGENCY: CRITICAL] [PHONE] TO Mary Smith") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestRecorderLimit(t *testing.T) {
	r := NewRecorder(2)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		if err := r.Deliver(ctx, NewNotification("u", "phone", body, UrgencyStandard, "")); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}
	items := r.List()
	if len(items) != 2 || items[0].Body != "b" || items[1].Body != "c" {
		t.Errorf("unexpected recorder contents: %+v", items)
	}
}

type failingDispatcher struct{ err error }

func (f failingDispatcher) Deliver(ctx context.Context, n Notification) error { return f.err }

func TestFanout(t *testing.T) {
	boom := errors.New("broker down")
	rec := NewRecorder(0)
	f := Fanout{failingDispatcher{err: boom}, rec}

	err := f.Deliver(context.Background(), NewNotification("u", "phone", "hi", UrgencyStandard, ""))
	if !errors.Is(err, boom) {
		t.Errorf("expected first error to be returned, got %v", err)
	}
	if len(rec.List()) != 1 {
		t.Error("expected delivery to continue after a failing dispatcher")
	}
}

func TestNotificationIDsUnique(t *testing.T) {
	a := NewNotification("u", "phone", "x", UrgencyStandard, "")
	b := NewNotification("u", "phone", "x", UrgencyStandard, "")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected unique non-empty IDs, got %q and %q", a.ID, b.ID)
	}
	if RoutingKey("watch") != "notify.watch" {
		t.Errorf("unexpected routing key %q", RoutingKey("watch"))
	}
}

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dailyux/eldercare-go/adherence"
	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/notify"
	"github.com/dailyux/eldercare-go/observability"
	"github.com/dailyux/eldercare-go/records"
)

// Tool names. The model emits these verbatim.
const (
	GetUserProfile             = "get_user_profile"
	GetMedicationSchedule      = "get_medication_schedule"
	GetFamilyContacts          = "get_family_contacts"
	GetEnvironmentalStatus     = "get_environmental_status"
	CheckMealTimingContext     = "check_meal_timing_context"
	MedicineNotification       = "medicine_notification"
	MedicineIntakeVerification = "medicine_intake_verification"
	HealthEscalation           = "health_escalation"
	NotifyFamily               = "notify_family"
	GetActionPlan              = "get_action_plan"
	SendMessage                = "send_message"
)

// Tool sets of the three specialists.
var (
	MedicationTools = []string{
		GetUserProfile, GetMedicationSchedule, MedicineNotification,
		MedicineIntakeVerification, HealthEscalation, GetFamilyContacts,
		NotifyFamily, GetEnvironmentalStatus, CheckMealTimingContext,
	}
	EmergencyTools = []string{
		GetEnvironmentalStatus, GetUserProfile, GetActionPlan,
		GetFamilyContacts, NotifyFamily,
	}
	CommunicationTools = []string{SendMessage, GetEnvironmentalStatus}
)

const (
	defaultElapsed   = "60+ minutes"
	defaultRecipient = "user"
	clockLayout      = "03:04 PM"
)

// Deps are the collaborators the healthcare tools read from and report to.
// Only Records is required.
type Deps struct {
	Records   records.Repository
	Notifier  notify.Dispatcher
	Adherence *adherence.Tracker
	Audit     *observability.AuditLogger
	Metrics   *observability.Instruments
	Logger    *slog.Logger
}

type healthcare struct {
	Deps
}

// NewRegistry builds a registry with all eleven healthcare tools.
func NewRegistry(deps Deps) (*ToolRegistry, error) {
	if deps.Records == nil {
		return nil, fmt.Errorf("tools: records repository is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewConsoleDispatcher(nil, deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &healthcare{Deps: deps}

	registry := NewToolRegistry().WithMetrics(deps.Metrics)
	for _, tool := range h.tools() {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (h *healthcare) tools() []eldercare.Tool {
	return []eldercare.Tool{
		NewFuncTool(GetUserProfile,
			"Get user profile including age, gender, medical history, and allergies.",
			nil, h.userProfile),
		NewFuncTool(GetMedicationSchedule,
			"Get all medications and their scheduled intake times.",
			nil, h.medicationSchedule),
		NewFuncTool(GetFamilyContacts,
			"Get family contacts for emergency notifications.",
			nil, h.familyContacts),
		NewFuncTool(GetEnvironmentalStatus,
			"Get current environmental status including device states, user location, and activity detection. "+
				"Returns status of TV (on/off), kitchen appliances (active/inactive), user presence in rooms, and current time.",
			nil, h.environmentalStatus),
		NewFuncTool(CheckMealTimingContext,
			"Check if user is preparing meals and identify medications that need to be taken before eating. "+
				"Returns meal preparation status and any pre-meal medication requirements.",
			nil, h.mealTimingContext),
		NewFuncTool(MedicineNotification,
			"Check current time and identify medications due now. "+
				"Returns medication name, description, timing, and health context.",
			nil, h.medicineNotification),
		NewFuncTool(MedicineIntakeVerification,
			"Verify if user took their medicine using sensor data, visual tracking, or contact sensors. "+
				"Returns verification status including detection method and confidence level.",
			[]eldercare.Parameter{
				{Name: "medication_name", Type: "string", Description: "Medication to verify"},
				{Name: "confirmed", Type: "boolean", Description: "True when the user says they have taken it"},
			}, h.intakeVerification),
		NewFuncTool(HealthEscalation,
			"Direct patient reconfirmation when sensors indicate missed medication. "+
				"Returns user response and escalation recommendation.",
			[]eldercare.Parameter{
				{Name: "medication_name", Type: "string", Description: "Medication that was missed", Required: true},
				{Name: "time_elapsed", Type: "string", Description: "Time since the scheduled dose, e.g. '30 minutes'"},
			}, h.healthEscalation),
		NewFuncTool(NotifyFamily,
			"Send notification to family member with specified message and urgency level.",
			[]eldercare.Parameter{
				{Name: "contact_name", Type: "string", Description: "Family member to contact, e.g. 'John Smith', 'Mary Smith', 'Emergency Contact'", Required: true},
				{Name: "message", Type: "string", Description: "Message content to send", Required: true},
				{Name: "urgency", Type: "string", Description: "Priority level: standard, high or critical"},
			}, h.notifyFamily),
		NewFuncTool(GetActionPlan,
			"Get detailed action plan for emergency situations including environmental context and device coordination. "+
				"Supports 'gas leak', 'fire alarm', 'water burst'.",
			[]eldercare.Parameter{
				{Name: "emergency_type", Type: "string", Description: "Kind of emergency, e.g. 'gas leak'", Required: true},
			}, h.actionPlan),
		NewFuncTool(SendMessage,
			"Send formatted messages across multiple devices with context awareness and urgency levels.",
			[]eldercare.Parameter{
				{Name: "recipient", Type: "string", Description: "Target person, e.g. 'John' or 'Sarah (daughter)'"},
				{Name: "devices", Type: "string", Description: "Comma-separated devices: phone,watch,tv,kitchen_appliances,smart_speakers"},
				{Name: "message", Type: "string", Description: "Message content", Required: true},
				{Name: "urgency", Type: "string", Description: "Priority level: standard, elevated, high or critical"},
				{Name: "context", Type: "string", Description: "Message category: medication_reminder, emergency_alert, family_notification or pre_meal_medication"},
			}, h.sendMessage),
	}
}

func (h *healthcare) userProfile(ctx context.Context, _ Args) (interface{}, error) {
	return h.Records.Profile(ctx)
}

func (h *healthcare) medicationSchedule(ctx context.Context, _ Args) (interface{}, error) {
	return h.Records.Schedule(ctx)
}

func (h *healthcare) familyContacts(ctx context.Context, _ Args) (interface{}, error) {
	return h.Records.Contacts(ctx)
}

func (h *healthcare) environmentalStatus(ctx context.Context, _ Args) (interface{}, error) {
	env, err := h.Records.Environment(ctx)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Environmental Status: Time=%s, TV=%s, Kitchen=%s, Location=%s, Devices=[%s]",
		env.CurrentTime.Format(clockLayout), env.TVStatus, env.KitchenActivity,
		env.UserLocation, strings.Join(env.Devices, ",")), nil
}

func describeMedication(m records.Medication, timing string) string {
	return fmt.Sprintf("%s (%s) - %s for %s", m.Name, m.Description, timing, m.Condition)
}

func (h *healthcare) mealTimingContext(ctx context.Context, _ Args) (interface{}, error) {
	schedule, err := h.Records.Schedule(ctx)
	if err != nil {
		return nil, err
	}
	var preMeal []string
	for _, m := range schedule {
		if m.BeforeMeals() {
			preMeal = append(preMeal, describeMedication(m, m.Time))
		}
	}
	if len(preMeal) == 0 {
		return "MEAL PREPARATION DETECTED: Cooktop is active. No pre-meal medications required.", nil
	}
	return fmt.Sprintf("MEAL PREPARATION DETECTED: Cooktop is active. Pre-meal medications needed: %s. Estimated meal time: 1:00 PM.",
		strings.Join(preMeal, "; ")), nil
}

// DemoTime formats the environment time the way schedule entries spell
// times, e.g. "7:30pm".
func DemoTime(env records.EnvironmentStatus) string {
	return strings.ToLower(env.CurrentTime.Format("3:04pm"))
}

func (h *healthcare) medicineNotification(ctx context.Context, _ Args) (interface{}, error) {
	env, err := h.Records.Environment(ctx)
	if err != nil {
		return nil, err
	}
	schedule, err := h.Records.Schedule(ctx)
	if err != nil {
		return nil, err
	}

	now := DemoTime(env)
	var due []string
	for _, m := range schedule {
		if strings.Contains(strings.ToLower(m.Time), now) || strings.Contains(strings.ToLower(m.Name), "aspirin") {
			due = append(due, describeMedication(m, "scheduled at "+m.Time))
		}
	}
	if len(due) == 0 {
		return fmt.Sprintf("No medications due at current time (%s)", now), nil
	}
	return fmt.Sprintf("MEDICATIONS DUE NOW (%s): %s", now, strings.Join(due, "; ")), nil
}

func (h *healthcare) intakeVerification(ctx context.Context, args Args) (interface{}, error) {
	name := args.StringOr("medication_name", "prescribed medication")
	if args.Bool("confirmed") {
		return h.confirmIntake(ctx, name)
	}
	h.Adherence.RecordMissed(name)
	h.Audit.LogMedicationMissed(ctx, name)
	return fmt.Sprintf("VERIFICATION RESULT: %s NOT TAKEN. Detection method: contact sensors and visual tracking. "+
		"Confidence: HIGH. No medication intake detected through monitoring systems.", name), nil
}

// confirmIntake records a dose the user says they took, with its delay
// against the schedule.
func (h *healthcare) confirmIntake(ctx context.Context, name string) (interface{}, error) {
	env, err := h.Records.Environment(ctx)
	if err != nil {
		return nil, err
	}
	schedule, err := h.Records.Schedule(ctx)
	if err != nil {
		return nil, err
	}

	var delay time.Duration
	for _, m := range schedule {
		if !strings.EqualFold(m.Name, name) {
			continue
		}
		if at, ok := m.ScheduledOn(env.CurrentTime); ok && env.CurrentTime.After(at) {
			delay = env.CurrentTime.Sub(at)
		}
		break
	}
	h.Adherence.RecordTaken(name, delay)
	h.Audit.LogMedicationTaken(ctx, name, delay)
	return fmt.Sprintf("VERIFICATION RESULT: %s TAKEN. Confirmed by the user %d minutes after the scheduled time.",
		name, int(delay.Minutes())), nil
}

func (h *healthcare) healthEscalation(ctx context.Context, args Args) (interface{}, error) {
	name := args.String("medication_name")
	elapsed := args.StringOr("time_elapsed", defaultElapsed)

	if d, ok := adherence.ParseElapsed(elapsed); ok {
		h.Adherence.RecordEscalation(name, d)
	} else {
		h.Adherence.RecordEscalation(name, 0)
	}
	h.Audit.LogEscalation(ctx, name, elapsed)
	h.Metrics.RecordEscalation(ctx, name)

	return fmt.Sprintf("ESCALATION RESULT: Patient response for %s: NO. Time elapsed: %s. "+
		"ESCALATION NEEDED - Recommend family notification. Urgency level: HIGH.", name, elapsed), nil
}

func (h *healthcare) notifyFamily(ctx context.Context, args Args) (interface{}, error) {
	query := args.String("contact_name")
	message := args.String("message")
	urgency := notify.ParseUrgency(args.String("urgency"))

	contact, err := records.FindContact(ctx, h.Records, query)
	if err != nil {
		contacts, cerr := h.Records.Contacts(ctx)
		if cerr != nil {
			return nil, cerr
		}
		return fmt.Sprintf("Family contact '%s' not found. Available contacts: %s",
			query, strings.Join(records.ContactNames(contacts), ", ")), nil
	}

	recipient := fmt.Sprintf("%s (%s) at %s", contact.Name, contact.Relation, contact.Phone)
	n := notify.NewNotification(recipient, records.DevicePhone, message, urgency, notify.ContextFamilyNotification)
	status := notify.StatusDelivered
	if err := h.Notifier.Deliver(ctx, n); err != nil {
		h.Logger.ErrorContext(ctx, "family notification failed", "contact", contact.Name, "error", err)
		status = notify.StatusFailed
	}
	h.Metrics.RecordNotification(ctx, records.DevicePhone, string(urgency), status)
	if status == notify.StatusFailed {
		return nil, fmt.Errorf("failed to notify %s: delivery error", contact.Name)
	}
	h.Audit.LogFamilyNotification(ctx, contact.Name, contact.Relation, string(urgency))

	return fmt.Sprintf("Family notification sent successfully to %s. Urgency: %s. Message: %s",
		recipient, urgency, message), nil
}

func (h *healthcare) actionPlan(ctx context.Context, args Args) (interface{}, error) {
	plan, err := h.Records.ActionPlan(ctx, args.String("emergency_type"))
	if err != nil {
		return nil, err
	}
	env, err := h.Records.Environment(ctx)
	if err != nil {
		return nil, err
	}
	h.Audit.LogEmergencyPlan(ctx, plan.EmergencyType, plan.Critical())

	return fmt.Sprintf("%s Current time: %s. User location: living room. "+
		"Devices available: phone, watch, TV, kitchen appliances, smart speakers.",
		plan.Instructions, env.CurrentTime.Format(clockLayout)), nil
}

func (h *healthcare) sendMessage(ctx context.Context, args Args) (interface{}, error) {
	message := args.String("message")
	recipient := args.StringOr("recipient", defaultRecipient)
	devices := notify.ParseDevices(args.StringOr("devices", records.DevicePhone))
	urgency := notify.ParseUrgency(args.String("urgency"))
	msgContext := args.String("context")

	env, err := h.Records.Environment(ctx)
	if err != nil {
		return nil, err
	}

	var delivered []string
	for _, device := range devices {
		status := notify.StatusDeviceUnavailable
		if env.HasDevice(device) {
			body := notify.FormatForDevice(device, message, env)
			n := notify.NewNotification(recipient, device, body, urgency, msgContext)
			if err := h.Notifier.Deliver(ctx, n); err != nil {
				h.Logger.ErrorContext(ctx, "message delivery failed", "device", device, "error", err)
				status = notify.StatusFailed
			} else {
				status = notify.StatusDelivered
				delivered = append(delivered, device)
			}
		}
		h.Metrics.RecordNotification(ctx, device, string(urgency), status)
	}

	if len(delivered) == 0 {
		return fmt.Sprintf("Failed to deliver message to %s. No devices were available.", recipient), nil
	}
	return fmt.Sprintf("Message successfully delivered to %s on devices: %s. Urgency: %s, Context: %s",
		recipient, strings.Join(delivered, ", "), urgency, msgContext), nil
}

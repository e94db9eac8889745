// Package records holds the assistant's data model: the user profile, the
// medication schedule, family contacts, emergency action plans and the
// household environment, together with the mock values the demo runs on.
package records

import (
	"strings"
	"time"
)

// UserProfile describes the person being cared for.
type UserProfile struct {
	Age             int      `json:"age" yaml:"age"`
	Gender          string   `json:"gender" yaml:"gender"`
	LivingSituation string   `json:"living_situation" yaml:"living_situation"`
	MedicalHistory  []string `json:"medical_history" yaml:"medical_history"`
	Allergies       []string `json:"allergies" yaml:"allergies"`
}

// Medication is one entry of the medication schedule. Time is free text
// because some entries are relative ("30 minutes before meals").
type Medication struct {
	Name        string `json:"medication" yaml:"medication"`
	Time        string `json:"time" yaml:"time"`
	Description string `json:"description" yaml:"description"`
	Condition   string `json:"condition" yaml:"condition"`
}

// BeforeMeals reports whether the medication must be taken before eating.
func (m Medication) BeforeMeals() bool {
	return strings.Contains(strings.ToLower(m.Time), "before meals")
}

// ScheduledOn returns the dose time on the day of ref. It reports false for
// relative times such as "30 minutes before meals".
func (m Medication) ScheduledOn(ref time.Time) (time.Time, bool) {
	t, err := time.Parse("3:04pm", strings.ToLower(strings.ReplaceAll(m.Time, " ", "")))
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), 0, 0, ref.Location()), true
}

// FamilyContact is someone who can be notified on the user's behalf.
type FamilyContact struct {
	Name     string `json:"name" yaml:"name"`
	Relation string `json:"relation" yaml:"relation"`
	Phone    string `json:"phone" yaml:"phone"`
}

// Severity classifies an emergency action plan.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityUnknown  Severity = "unknown"
)

// ActionPlan is the canned response for an emergency type.
type ActionPlan struct {
	EmergencyType string   `json:"emergency_type"`
	Severity      Severity `json:"severity"`
	Instructions  string   `json:"instructions"`
}

// Critical reports whether the plan requires immediate notification.
func (p ActionPlan) Critical() bool {
	return p.Severity == SeverityCritical
}

// EnvironmentStatus is the snapshot of household sensors and devices.
type EnvironmentStatus struct {
	CurrentTime     time.Time `json:"current_time"`
	TVStatus        string    `json:"tv_status"`
	KitchenActivity string    `json:"kitchen_activity"`
	UserLocation    string    `json:"user_location"`
	Devices         []string  `json:"devices_available"`
}

// TVOn reports whether the television is currently on.
func (e EnvironmentStatus) TVOn() bool {
	return e.TVStatus == "on"
}

// KitchenActive reports whether any kitchen appliance is in use.
func (e EnvironmentStatus) KitchenActive() bool {
	return e.KitchenActivity != "" && e.KitchenActivity != "inactive"
}

// HasDevice reports whether the named device is available for delivery.
func (e EnvironmentStatus) HasDevice(device string) bool {
	for _, d := range e.Devices {
		if d == device {
			return true
		}
	}
	return false
}

// Known device names.
const (
	DevicePhone             = "phone"
	DeviceWatch             = "watch"
	DeviceTV                = "tv"
	DeviceKitchenAppliances = "kitchen_appliances"
	DeviceSmartSpeakers     = "smart_speakers"
)

// MockUserProfile returns the demo user profile.
func MockUserProfile() UserProfile {
	return UserProfile{
		Age:             52,
		Gender:          "Male",
		LivingSituation: "Living alone",
		MedicalHistory:  []string{"high blood pressure", "diabetes"},
		Allergies:       []string{"peanut", "sunflower"},
	}
}

// MockMedicationSchedule returns the demo medication schedule.
func MockMedicationSchedule() []Medication {
	return []Medication{
		{Name: "paracetamol", Time: "3:00pm", Description: "white round tablet", Condition: "pain relief"},
		{Name: "aspirin 650", Time: "7:30pm", Description: "red round pill", Condition: "heart medication"},
		{Name: "gastro medicine", Time: "30 minutes before meals", Description: "blue capsule", Condition: "digestive health"},
		{Name: "metformin", Time: "8:00am", Description: "white oval tablet", Condition: "diabetes"},
		{Name: "lisinopril", Time: "10:00pm", Description: "yellow round tablet", Condition: "blood pressure"},
	}
}

// MockFamilyContacts returns the demo family contacts.
func MockFamilyContacts() []FamilyContact {
	return []FamilyContact{
		{Name: "John Smith", Relation: "Son", Phone: "+1-555-0123"},
		{Name: "Mary Smith", Relation: "Daughter", Phone: "+1-555-0456"},
		{Name: "Emergency Contact", Relation: "Neighbor", Phone: "+1-555-0789"},
	}
}

// MockActionPlans returns the canned emergency plans keyed by lower-case type.
func MockActionPlans() map[string]ActionPlan {
	return map[string]ActionPlan{
		"gas leak": {
			EmergencyType: "gas leak",
			Severity:      SeverityCritical,
			Instructions:  "CRITICAL EMERGENCY: Gas leak detected! Evacuate immediately. Do not use electrical switches. Call gas company at 911. Alert all devices: phone, watch, TV, smart speakers.",
		},
		"fire alarm": {
			EmergencyType: "fire alarm",
			Severity:      SeverityCritical,
			Instructions:  "CRITICAL EMERGENCY: Fire alarm activated! Evacuate the building immediately. Call 911. Do not use elevators. Alert all devices: phone, watch, TV, smart speakers.",
		},
		"water burst": {
			EmergencyType: "water burst",
			Severity:      SeverityHigh,
			Instructions:  "HIGH PRIORITY EMERGENCY: Water burst detected! Turn off main water supply. Move to safe area. Call emergency services. Alert devices: phone, watch, smart speakers.",
		},
	}
}

// UnknownActionPlan is returned for emergency types without a canned plan.
func UnknownActionPlan(emergencyType string) ActionPlan {
	return ActionPlan{
		EmergencyType: emergencyType,
		Severity:      SeverityUnknown,
		Instructions:  "Unknown emergency type: " + emergencyType + ". Call 911 for assistance. Alert all available devices.",
	}
}

// MockDevices returns the devices present in the demo household.
func MockDevices() []string {
	return []string{DevicePhone, DeviceWatch, DeviceTV, DeviceKitchenAppliances, DeviceSmartSpeakers}
}

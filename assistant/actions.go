package assistant

import "time"

// DefaultFollowUpDelay is how long the medicine reminder waits before the
// compliance follow-up.
const DefaultFollowUpDelay = 3 * time.Minute

// QuickAction is a canned scenario offered as a one-click shortcut.
type QuickAction struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	// FollowUp, when set, is scheduled after the prompt runs.
	FollowUp string `json:"follow_up,omitempty"`
}

// Quick action names.
const (
	ActionMedicineReminder = "medicine_reminder"
	ActionForgotMedicine   = "forgot_medicine"
)

var quickActions = []QuickAction{
	{
		Name:        ActionMedicineReminder,
		Label:       "Medicine Reminder",
		Description: "Check what medications are due now and get reminders",
		Prompt: "It's 7:30 PM, John is sitting in his living room with his phone and watch. " +
			"He is watching TV and needs to be reminded to take the heart medication.",
		FollowUp: "It's now 8:00 PM and 30 minutes have passed since the heart medication reminder was sent to John. " +
			"The system has not detected John taking the medication through contact sensors or visual tracking. " +
			"Please send a follow-up alert asking John 'Have you had your heart medicine? Don't forget to have it'.",
	},
	{
		Name:        ActionForgotMedicine,
		Label:       "Forgot to Take Medicine",
		Description: "Report a missed medication dose and get compliance assistance",
		Prompt: "It's 12:30 PM, John has turned on cooktop and is about to have lunch. " +
			"He hasn't taken his gastro medicine that should be taken 30 minutes before meals. " +
			"Please help remind him and check compliance.",
	},
}

// QuickActions returns the available quick actions.
func QuickActions() []QuickAction {
	out := make([]QuickAction, len(quickActions))
	copy(out, quickActions)
	return out
}

// LookupQuickAction finds a quick action by name.
func LookupQuickAction(name string) (QuickAction, bool) {
	for _, a := range quickActions {
		if a.Name == name {
			return a, true
		}
	}
	return QuickAction{}, false
}

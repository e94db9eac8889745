package main

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dailyux/eldercare-go/records"
	"github.com/dailyux/eldercare-go/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Run every stub tool and check its output",
	Long: `Calls each of the eleven healthcare tools against the configured records
and checks the results against the mock literals. No language model is needed.
Notifications produced by the checks are printed, not sent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg.Notify.AMQPURL = ""
		a, err := newApp(ctx, cfg, logger, appOptions{Console: io.Discard})
		if err != nil {
			return err
		}
		defer a.Close()

		if failed := runToolChecks(ctx, a.tools, cmd.OutOrStdout()); failed > 0 {
			return fmt.Errorf("%d tool checks failed", failed)
		}
		return nil
	},
}

type toolCheck struct {
	tool   string
	params map[string]interface{}
	// check returns a description of what is wrong, or "".
	check func(data interface{}) string
}

func equals(want interface{}) func(interface{}) string {
	return func(got interface{}) string {
		if !reflect.DeepEqual(got, want) {
			return fmt.Sprintf("got %v, want %v", got, want)
		}
		return ""
	}
}

func contains(substrings ...string) func(interface{}) string {
	return func(got interface{}) string {
		s, ok := got.(string)
		if !ok {
			return fmt.Sprintf("expected a string, got %T", got)
		}
		for _, sub := range substrings {
			if !strings.Contains(s, sub) {
				return fmt.Sprintf("%q does not contain %q", s, sub)
			}
		}
		return ""
	}
}

func toolChecks() []toolCheck {
	checks := []toolCheck{
		{tool: tools.GetUserProfile, check: equals(records.MockUserProfile())},
		{tool: tools.GetMedicationSchedule, check: equals(records.MockMedicationSchedule())},
		{tool: tools.GetFamilyContacts, check: equals(records.MockFamilyContacts())},
		{tool: tools.GetEnvironmentalStatus, check: contains("Environmental Status", "TV=on")},
		{tool: tools.CheckMealTimingContext, check: contains("MEAL PREPARATION DETECTED", "gastro medicine")},
		{tool: tools.MedicineNotification, check: contains("aspirin 650")},
		{
			tool:   tools.MedicineIntakeVerification,
			params: map[string]interface{}{"medication_name": "aspirin 650"},
			check:  contains("NOT TAKEN"),
		},
		{
			tool:   tools.HealthEscalation,
			params: map[string]interface{}{"medication_name": "aspirin 650", "time_elapsed": "30 minutes"},
			check:  contains("ESCALATION NEEDED", "30 minutes"),
		},
		{
			tool: tools.NotifyFamily,
			params: map[string]interface{}{
				"contact_name": "John Smith",
				"message":      "Tool check: please call your father",
				"urgency":      "high",
			},
			check: contains("sent successfully", "+1-555-0123"),
		},
		{
			tool:   tools.SendMessage,
			params: map[string]interface{}{"message": "Test emergency alert: User needs immediate assistance", "devices": "phone,watch"},
			check:  contains("successfully delivered", "phone, watch"),
		},
	}
	for _, emergency := range []string{"fire alarm", "gas leak", "water burst", "unknown emergency"} {
		want := []string{"Current time"}
		switch emergency {
		case "fire alarm", "gas leak":
			want = append(want, "CRITICAL EMERGENCY")
		case "unknown emergency":
			want = append(want, "Unknown emergency type")
		}
		checks = append(checks, toolCheck{
			tool:   tools.GetActionPlan,
			params: map[string]interface{}{"emergency_type": emergency},
			check:  contains(want...),
		})
	}
	return checks
}

// runToolChecks executes the checks and returns how many failed.
func runToolChecks(ctx context.Context, registry *tools.ToolRegistry, out io.Writer) int {
	fmt.Fprintln(out, "DailyCare - Tool Checks")
	fmt.Fprintln(out, strings.Repeat("=", 60))

	failed := 0
	for i, c := range toolChecks() {
		label := c.tool
		if len(c.params) > 0 {
			label = fmt.Sprintf("%s(%v)", c.tool, c.params)
		}
		fmt.Fprintf(out, "%2d. %s\n", i+1, label)

		result, err := registry.Execute(ctx, "tool_check", c.tool, c.params)
		problem := ""
		switch {
		case err != nil:
			problem = err.Error()
		case !result.Success:
			problem = result.Error
		default:
			fmt.Fprintf(out, "    Result: %v\n", result.Data)
			problem = c.check(result.Data)
		}
		if problem != "" {
			failed++
			fmt.Fprintf(out, "    FAILED: %s\n\n", problem)
			continue
		}
		fmt.Fprint(out, "    PASSED\n\n")
	}

	fmt.Fprintln(out, strings.Repeat("=", 60))
	if failed == 0 {
		fmt.Fprintln(out, "All tool checks PASSED.")
		fmt.Fprintln(out, "Set GROQ_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY to run the agents.")
	} else {
		fmt.Fprintf(out, "%d tool checks FAILED.\n", failed)
	}
	return failed
}

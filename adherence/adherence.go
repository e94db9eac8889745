// Package adherence tracks whether scheduled medications were taken and
// summarizes compliance per medication.
package adherence

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Outcome is the result of a single adherence check.
type Outcome string

const (
	OutcomeTaken     Outcome = "taken"
	OutcomeMissed    Outcome = "missed"
	OutcomeEscalated Outcome = "escalated"
)

// Event is one recorded outcome. Delay is how late the dose was relative to
// its scheduled time, when known.
type Event struct {
	Medication string        `json:"medication"`
	Outcome    Outcome       `json:"outcome"`
	Delay      time.Duration `json:"delay_ns,omitempty"`
	At         time.Time     `json:"at"`
}

// MedicationStats summarizes the events for one medication.
type MedicationStats struct {
	Medication       string  `json:"medication"`
	Taken            int     `json:"taken"`
	Missed           int     `json:"missed"`
	Escalations      int     `json:"escalations"`
	ComplianceRate   float64 `json:"compliance_rate"`
	MeanDelayMinutes float64 `json:"mean_delay_minutes"`
	StdDelayMinutes  float64 `json:"std_delay_minutes"`
}

// Report is a compliance summary across all medications.
type Report struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	Medications    []MedicationStats `json:"medications"`
	ComplianceRate float64           `json:"compliance_rate"`
	Events         int               `json:"events"`
}

// Tracker records adherence events in memory. It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

// NewTracker creates a tracker. A nil clock uses time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record stores an event. Medication names are compared case-insensitively.
func (t *Tracker) Record(e Event) {
	if t == nil {
		return
	}
	e.Medication = normalize(e.Medication)
	if e.At.IsZero() {
		e.At = t.now()
	}
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

// RecordTaken records a dose taken delay after its scheduled time.
func (t *Tracker) RecordTaken(medication string, delay time.Duration) {
	t.Record(Event{Medication: medication, Outcome: OutcomeTaken, Delay: delay})
}

// RecordMissed records a verification that found the dose not taken.
func (t *Tracker) RecordMissed(medication string) {
	t.Record(Event{Medication: medication, Outcome: OutcomeMissed})
}

// RecordEscalation records an escalation raised after elapsed.
func (t *Tracker) RecordEscalation(medication string, elapsed time.Duration) {
	t.Record(Event{Medication: medication, Outcome: OutcomeEscalated, Delay: elapsed})
}

// Events returns a copy of the recorded events in insertion order.
func (t *Tracker) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Report computes per-medication statistics. Compliance is taken doses over
// taken plus missed; a medication with neither reports a rate of 1.
func (t *Tracker) Report() Report {
	events := t.Events()

	byMed := make(map[string][]Event)
	for _, e := range events {
		byMed[e.Medication] = append(byMed[e.Medication], e)
	}

	report := Report{GeneratedAt: t.now(), Events: len(events), ComplianceRate: 1}
	var taken, missed int
	for med, evs := range byMed {
		s := summarize(med, evs)
		taken += s.Taken
		missed += s.Missed
		report.Medications = append(report.Medications, s)
	}
	sort.Slice(report.Medications, func(i, j int) bool {
		return report.Medications[i].Medication < report.Medications[j].Medication
	})
	if taken+missed > 0 {
		report.ComplianceRate = float64(taken) / float64(taken+missed)
	}
	return report
}

func summarize(medication string, events []Event) MedicationStats {
	s := MedicationStats{Medication: medication, ComplianceRate: 1}
	var delays []float64
	for _, e := range events {
		switch e.Outcome {
		case OutcomeTaken:
			s.Taken++
		case OutcomeMissed:
			s.Missed++
		case OutcomeEscalated:
			s.Escalations++
		}
		if e.Delay > 0 {
			delays = append(delays, e.Delay.Minutes())
		}
	}
	if s.Taken+s.Missed > 0 {
		s.ComplianceRate = float64(s.Taken) / float64(s.Taken+s.Missed)
	}
	if len(delays) > 0 {
		s.MeanDelayMinutes = stat.Mean(delays, nil)
	}
	if len(delays) > 1 {
		s.StdDelayMinutes = stat.StdDev(delays, nil)
	}
	return s
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

var elapsedPattern = regexp.MustCompile(`(?i)(\d+)\s*\+?\s*(h|hr|hrs|hour|hours|m|min|mins|minute|minutes)\b`)

// ParseElapsed reads phrases such as "60+ minutes" or "2 hours" as used by
// the escalation tool. It reports false when no duration is found.
func ParseElapsed(s string) (time.Duration, bool) {
	m := elapsedPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "h") {
		return time.Duration(n) * time.Hour, true
	}
	return time.Duration(n) * time.Minute, true
}

// Package safety screens user input before it reaches the language model.
//
// A Guard combines two checks:
//   - InjectionDetector scores text for prompt-injection attempts
//   - ContentFilter enforces size limits and blocked phrases, and redacts
//     identifiers that should not be sent to a hosted model
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dailyux/eldercare-go/observability"
)

// ErrRejected is wrapped by every ValidationError.
var ErrRejected = errors.New("input rejected")

// ValidationError is returned when input fails a check.
type ValidationError struct {
	Reason  string
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrRejected
}

// DefaultInjectionThreshold is the score at which input is treated as an
// injection attempt.
const DefaultInjectionThreshold = 10

var injectionPatterns = []string{
	`ignore\s+(all\s+)?(the\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?)`,
	`ignore\s+all\s+(instructions?|rules?)`,
	`disregard\s+(all\s+)?(previous|all|above|prior)`,
	`forget\s+(everything|all|previous)\s+(you|instructions?)`,
	`new\s+instructions?:`,
	`system\s*(prompt|message)\s*:`,
	`(?m)^\s*system\s*:`,
	`you\s+are\s+now\s+(a|an|the)\b`,
	`pretend\s+(you|to)\s+(are|be)`,
	`roleplay\s+as`,
	`(admin|developer|god)\s+mode`,
	`jailbreak`,
	`</?\s*system\s*>`,
	`<\|.*?\|>`,
	`\[INST\]`,
	// ReAct control lines typed by the user would steer the tool loop.
	`(?m)^\s*(action|action input|observation|final answer)\s*:`,
}

var suspiciousKeywords = map[string]int{
	"ignore":       3,
	"disregard":    3,
	"override":     2,
	"bypass":       3,
	"jailbreak":    5,
	"injection":    4,
	"prompt":       2,
	"sudo":         3,
	"instructions": 2,
}

var (
	wordRe    = regexp.MustCompile(`\w+`)
	specialRe = regexp.MustCompile(`[<>{}\[\]|]`)
)

// Detection is the result of InjectionDetector.Detect.
type Detection struct {
	Injection bool
	Score     int
	Patterns  []string
}

// InjectionDetector scores text with pattern matches and weighted keywords.
type InjectionDetector struct {
	threshold int
	patterns  []*regexp.Regexp
	sources   []string
}

// NewInjectionDetector creates a detector. A threshold <= 0 uses
// DefaultInjectionThreshold.
func NewInjectionDetector(threshold int) *InjectionDetector {
	if threshold <= 0 {
		threshold = DefaultInjectionThreshold
	}
	d := &InjectionDetector{threshold: threshold}
	for _, p := range injectionPatterns {
		d.patterns = append(d.patterns, regexp.MustCompile("(?i)"+p))
		d.sources = append(d.sources, p)
	}
	return d
}

// Detect scores text. Each matched pattern adds 10; keywords add their
// weight; heavy use of markup characters adds 2.
func (d *InjectionDetector) Detect(text string) Detection {
	var det Detection
	for i, re := range d.patterns {
		if re.MatchString(text) {
			det.Score += 10
			det.Patterns = append(det.Patterns, d.sources[i])
		}
	}
	for _, word := range wordRe.FindAllString(strings.ToLower(text), -1) {
		det.Score += suspiciousKeywords[word]
	}
	if len(specialRe.FindAllString(text, -1)) > 5 {
		det.Score += 2
	}
	det.Injection = det.Score >= d.threshold
	return det
}

// DefaultMaxInputChars bounds a single user message.
const DefaultMaxInputChars = 4000

type redaction struct {
	name    string
	pattern *regexp.Regexp
}

var redactions = []redaction{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"card number", regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`)},
	{"email", regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)},
}

// ContentFilter enforces size limits and blocked phrases.
type ContentFilter struct {
	maxChars int
	blocked  []string
}

// NewContentFilter creates a filter. maxChars <= 0 uses
// DefaultMaxInputChars. Blocked phrases match case-insensitively.
func NewContentFilter(maxChars int, blocked []string) *ContentFilter {
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	f := &ContentFilter{maxChars: maxChars}
	for _, phrase := range blocked {
		if phrase = strings.ToLower(strings.TrimSpace(phrase)); phrase != "" {
			f.blocked = append(f.blocked, phrase)
		}
	}
	return f
}

// Validate returns a *ValidationError for oversized text or text containing
// a blocked phrase.
func (f *ContentFilter) Validate(text string) error {
	if n := utf8.RuneCountInString(text); n > f.maxChars {
		return &ValidationError{
			Reason:  fmt.Sprintf("message exceeds maximum length (%d characters)", f.maxChars),
			Details: map[string]interface{}{"length": n, "max_length": f.maxChars},
		}
	}
	lower := strings.ToLower(text)
	for _, phrase := range f.blocked {
		if strings.Contains(lower, phrase) {
			return &ValidationError{Reason: "message contains a blocked phrase"}
		}
	}
	return nil
}

// Redact replaces social security numbers, card numbers and email
// addresses with placeholders. It returns the redacted text and the kinds
// of data found. Phone numbers are kept; contacts are reached by phone.
func Redact(text string) (string, []string) {
	var found []string
	for _, r := range redactions {
		if r.pattern.MatchString(text) {
			text = r.pattern.ReplaceAllString(text, "[REDACTED "+strings.ToUpper(r.name)+"]")
			found = append(found, r.name)
		}
	}
	return text, found
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Strict rejects suspected injections. Otherwise they are logged and
	// let through.
	Strict             bool
	InjectionThreshold int
	MaxInputChars      int
	BlockedPhrases     []string
	RedactPII          bool

	Audit  *observability.AuditLogger
	Logger *slog.Logger
}

// Guard screens user messages.
type Guard struct {
	detector  *InjectionDetector
	filter    *ContentFilter
	strict    bool
	redactPII bool
	audit     *observability.AuditLogger
	logger    *slog.Logger
}

// NewGuard creates a guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		detector:  NewInjectionDetector(cfg.InjectionThreshold),
		filter:    NewContentFilter(cfg.MaxInputChars, cfg.BlockedPhrases),
		strict:    cfg.Strict,
		redactPII: cfg.RedactPII,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
	}
}

// Check validates a user message and returns the text to send on, which
// differs from the input only when PII was redacted. A nil Guard accepts
// everything.
func (g *Guard) Check(ctx context.Context, sessionID, text string) (string, error) {
	if g == nil {
		return text, nil
	}
	if err := g.filter.Validate(text); err != nil {
		g.audit.LogInputRejected(ctx, sessionID, err.Error(), 0)
		return "", err
	}

	if det := g.detector.Detect(text); det.Injection {
		if g.strict {
			g.audit.LogInputRejected(ctx, sessionID, "suspected prompt injection", det.Score)
			return "", &ValidationError{
				Reason: "message looks like an attempt to override the assistant's instructions",
				Details: map[string]interface{}{
					"score":    det.Score,
					"patterns": len(det.Patterns),
				},
			}
		}
		g.logger.WarnContext(ctx, "suspected prompt injection", "session_id", sessionID, "score", det.Score)
	}

	if g.redactPII {
		redacted, found := Redact(text)
		if len(found) > 0 {
			g.logger.InfoContext(ctx, "redacted user input", "session_id", sessionID, "kinds", found)
			text = redacted
		}
	}
	return text, nil
}

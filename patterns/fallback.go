package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dailyux/eldercare-go/eldercare"
)

// FallbackClassifier tries classifiers in sequence until one succeeds.
//
// The supervisor pairs the LLM classifier with the keyword classifier so a
// provider outage or an unusable reply still produces a route.
type FallbackClassifier struct {
	classifiers []Classifier
	logger      *slog.Logger
}

var _ Classifier = (*FallbackClassifier)(nil)

// NewFallbackClassifier creates a classifier that tries each of classifiers
// in order. A nil logger uses slog.Default().
func NewFallbackClassifier(logger *slog.Logger, classifiers ...Classifier) (*FallbackClassifier, error) {
	if len(classifiers) == 0 {
		return nil, fmt.Errorf("at least one classifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackClassifier{classifiers: classifiers, logger: logger}, nil
}

// Name joins the names of the wrapped classifiers with "+".
func (f *FallbackClassifier) Name() string {
	names := make([]string, len(f.classifiers))
	for i, c := range f.classifiers {
		names[i] = c.Name()
	}
	return strings.Join(names, "+")
}

// Classify returns the first successful classification. If all classifiers
// fail, the error lists every attempt and wraps the last failure.
func (f *FallbackClassifier) Classify(ctx context.Context, message *eldercare.Message) (string, error) {
	var errs []string
	var last error

	for i, c := range f.classifiers {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("fallback cancelled after %d attempts: %w", i, ctx.Err())
		default:
		}

		route, err := c.Classify(ctx, message)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "classified by fallback", "classifier", c.Name(), "route", route)
			}
			return route, nil
		}
		f.logger.WarnContext(ctx, "classifier failed", "classifier", c.Name(), "error", err)
		errs = append(errs, fmt.Sprintf("[%d] %s: %v", i, c.Name(), err))
		last = err
	}

	return "", fmt.Errorf("all %d classifiers failed (%s): %w", len(errs), strings.Join(errs, "; "), last)
}

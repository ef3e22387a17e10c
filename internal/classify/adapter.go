// internal/classify/adapter.go
// Package classify adapts an external label classifier's output into
// the same per-tick candidate verdict the spectral extractor produces.
package classify

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidConfidence indicates the confidence threshold must be in (0, 1]
	ErrInvalidConfidence = errors.New("confidence threshold must be between 0.0 and 1.0")
	// ErrNoAlarmLabels indicates the allow-list must not be empty
	ErrNoAlarmLabels = errors.New("alarm label allow-list must not be empty")
)

// Result is one classification produced by the external classifier.
type Result struct {
	// Label is the classifier's category label, e.g. "Smoke detector, smoke alarm"
	Label string
	// Confidence is the classifier's score for the label (0.0-1.0)
	Confidence float64
	// Timestamp is when the classification was produced
	Timestamp time.Time
}

// AdapterConfig holds configuration for the classifier adapter.
// All values should come from the application config file.
type AdapterConfig struct {
	// ConfidenceThreshold is the minimum confidence (from config: confidence_threshold)
	ConfidenceThreshold float64
	// AlarmLabels is the alarm-category allow-list (from config: alarm_labels)
	AlarmLabels []string
}

// Adapter turns classifier results into candidate verdicts. The
// classifier runs asynchronously and usually slower than the analysis
// tick loop, so the same result may be observed across several ticks;
// the adapter counts each result at most once.
type Adapter struct {
	config AdapterConfig

	// Dedup state for the previously processed result
	last     *Result
	lastTime time.Time
	seen     bool
}

// NewAdapter creates a classifier adapter with the given configuration.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		return nil, ErrInvalidConfidence
	}
	if len(cfg.AlarmLabels) == 0 {
		return nil, ErrNoAlarmLabels
	}
	return &Adapter{config: cfg}, nil
}

// Evaluate reports whether the result qualifies as an alarm candidate.
// A nil result, or a result already processed on an earlier tick (same
// identity or same timestamp), is not a candidate.
func (a *Adapter) Evaluate(r *Result) bool {
	if r == nil {
		return false
	}
	if a.seen && (r == a.last || r.Timestamp.Equal(a.lastTime)) {
		return false
	}
	a.last = r
	a.lastTime = r.Timestamp
	a.seen = true

	if r.Confidence < a.config.ConfidenceThreshold {
		return false
	}
	return a.matchesAlarmLabel(r.Label)
}

// matchesAlarmLabel tests the label against the allow-list. Model
// versions phrase labels inconsistently ("Smoke detector, smoke alarm"
// vs "Smoke detector"), so matching is case-insensitive substring in
// either direction.
func (a *Adapter) matchesAlarmLabel(label string) bool {
	got := strings.ToLower(strings.TrimSpace(label))
	if got == "" {
		return false
	}
	for _, want := range a.config.AlarmLabels {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return true
		}
	}
	return false
}

// Reset clears the duplicate-detection state.
func (a *Adapter) Reset() {
	a.last = nil
	a.lastTime = time.Time{}
	a.seen = false
}

// Config returns the current configuration
func (a *Adapter) Config() AdapterConfig {
	return a.config
}

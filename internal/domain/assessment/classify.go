package assessment

import "strings"

// EmptyResultText is stored when the analyzer returns nothing.
const EmptyResultText = "report generation returned an empty result"

// StalePendingText is stored on records failed because no worker picked them up in time.
const StalePendingText = "analysis was not started before the pending timeout"

// Classification is the verdict on an analyzer result.
type Classification struct {
	Outcome Outcome
	// Text is what gets stored as report text.
	Text string
	// Marker is the failure marker that matched, if any.
	Marker string
}

// Classifier decides whether analyzer output is a report or a failure message.
type Classifier struct {
	markers []string
}

// NewClassifier returns a classifier for the given failure markers. Blank markers are ignored.
func NewClassifier(markers []string) *Classifier {
	c := &Classifier{}
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			c.markers = append(c.markers, m)
		}
	}
	return c
}

// Classify applies the result rules: empty output fails with a generic message,
// output containing a failure marker fails and keeps its text, anything else succeeds.
func (c *Classifier) Classify(result string) Classification {
	if strings.TrimSpace(result) == "" {
		return Classification{Outcome: OutcomeFailed, Text: EmptyResultText}
	}
	for _, m := range c.markers {
		if strings.Contains(result, m) {
			return Classification{Outcome: OutcomeFailed, Text: result, Marker: m}
		}
	}
	return Classification{Outcome: OutcomeSuccess, Text: result}
}

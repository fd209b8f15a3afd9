// Package detect scores channel messages for likely abuse. The score is a
// confidence in [0,1]; messages at or above the configured threshold are
// filed as automatic reports for moderators to review.
package detect

import "context"

// Finding is a single rule match.
type Finding struct {
	Rule        string  `json:"rule"`
	Description string  `json:"description"`
	AbuseType   string  `json:"abuse_type"`
	Confidence  float64 `json:"confidence"`
}

// Result is the output of scoring one message.
type Result struct {
	// Confidence is the combined score in [0,1].
	Confidence float64 `json:"confidence"`

	// AbuseType is the abuse type label of the strongest finding, or "" when
	// nothing matched.
	AbuseType string `json:"abuse_type"`

	Findings []Finding `json:"findings"`
}

// Flagged reports whether the result reaches threshold.
func (r *Result) Flagged(threshold float64) bool {
	return len(r.Findings) > 0 && r.Confidence >= threshold
}

// Scorer estimates how likely a message is abusive.
type Scorer interface {
	Score(ctx context.Context, text string) (*Result, error)
}

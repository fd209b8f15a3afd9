package moderation

import (
	"context"
	"time"
)

// Outcome is how a moderation ended.
type Outcome string

const (
	OutcomeNone            Outcome = ""
	OutcomeNothingToReview Outcome = "nothing_to_review"
	OutcomePlaceholder     Outcome = "placeholder"
	OutcomeWatchlisted     Outcome = "watchlisted"
	OutcomeReporterWarned  Outcome = "reporter_warned"
	OutcomePermanentBan    Outcome = "permanent_ban"
	OutcomeTemporaryBan    Outcome = "temporary_ban"
)

// TemporaryBanDuration is the length of a non-permanent ban.
const TemporaryBanDuration = 7 * 24 * time.Hour

// Enforcer applies bans decided by moderators. A zero duration is a
// permanent ban.
type Enforcer interface {
	Ban(ctx context.Context, userID string, duration time.Duration, reason string) error
}

// Result is the archived summary of a finished moderation.
type Result struct {
	ReportID    string            `json:"report_id"`
	ModeratorID string            `json:"moderator_id"`
	OffenderID  string            `json:"offender_id"`
	AbuseType   string            `json:"abuse_type"`
	Automatic   bool              `json:"automatic"`
	Outcome     Outcome           `json:"outcome"`
	WatchTarget string            `json:"watch_target,omitempty"`
	Record      map[string]string `json:"record"`
	ResolvedAt  time.Time         `json:"resolved_at"`
}

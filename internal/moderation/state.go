package moderation

// State is a step of the moderation dialogue.
type State int

const (
	StateStart State = iota
	StateAwaitReviewLowConfidence
	StateAwaitAutoFlaggedClearViolationUnknownVictim
	StateAwaitAutoFlaggedPlausibleViolation
	StateAwaitMessageClearViolation
	StateAwaitUserReportPlausibleViolation
	StateAwaitModIdentifyVictim
	StateAwaitUsernameInput
	StateAwaitUserReportLikelyViolationUnknownVictim
	StateAwaitMaliciousDecision
	StateComplete
	StateCancelled
)

var stateNames = map[State]string{
	StateStart:                    "start",
	StateAwaitReviewLowConfidence: "await_review_low_confidence",
	StateAwaitAutoFlaggedClearViolationUnknownVictim: "await_auto_flagged_clear_violation_unknown_victim",
	StateAwaitAutoFlaggedPlausibleViolation:          "await_auto_flagged_plausible_violation",
	StateAwaitMessageClearViolation:                  "await_message_clear_violation",
	StateAwaitUserReportPlausibleViolation:           "await_user_report_plausible_violation",
	StateAwaitModIdentifyVictim:                      "await_mod_identify_victim",
	StateAwaitUsernameInput:                          "await_username_input",
	StateAwaitUserReportLikelyViolationUnknownVictim: "await_user_report_likely_violation_unknown_victim",
	StateAwaitMaliciousDecision:                      "await_malicious_decision",
	StateComplete:                                    "complete",
	StateCancelled:                                   "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether s ends the dialogue.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled
}

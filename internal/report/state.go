package report

// State is a step of the report dialogue.
type State int

const (
	StateReportStart State = iota
	StateAwaitReportType
	StateAwaitMessage
	StateAwaitUser
	StateAwaitAbuseType
	StateAwaitImpersonationVictim
	StateAwaitHasProfile
	StateAwaitRealProfile
	StateAwaitRealProfileConfirm
	StateAwaitImpersonatingRealPerson
	StateAwaitBlockDecision
	StateBlockStart
	StateAwaitUserToBlock
	StateAwaitReportDecision
	StateComplete
	StateCancelled
)

var stateNames = map[State]string{
	StateReportStart:                  "report_start",
	StateAwaitReportType:              "await_report_type",
	StateAwaitMessage:                 "await_message",
	StateAwaitUser:                    "await_user",
	StateAwaitAbuseType:               "await_abuse_type",
	StateAwaitImpersonationVictim:     "await_impersonation_victim",
	StateAwaitHasProfile:              "await_has_profile",
	StateAwaitRealProfile:             "await_real_profile",
	StateAwaitRealProfileConfirm:      "await_real_profile_confirm",
	StateAwaitImpersonatingRealPerson: "await_impersonating_real_person",
	StateAwaitBlockDecision:           "await_block_decision",
	StateBlockStart:                   "block_start",
	StateAwaitUserToBlock:             "await_user_to_block",
	StateAwaitReportDecision:          "await_report_decision",
	StateComplete:                     "complete",
	StateCancelled:                    "cancelled",
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

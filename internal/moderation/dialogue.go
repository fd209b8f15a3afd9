// Package moderation implements the moderator-side flow: a dialogue that
// walks one moderator through the disposition of a single queued report,
// the watchlist it feeds, and the outcomes it produces.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/platform"
	"github.com/whisper/modbot/internal/report"
)

// KeywordModerate starts a moderation in the moderators' channel.
const KeywordModerate = "!moderate"

// LowConfidenceThreshold is the detector score at or below which a moderator
// may decline to review an automatic report.
const LowConfidenceThreshold = 0.5

const (
	msgCancelled = "Moderation cancelled."
	msgEmpty     = "There are no reports to review."
	msgInvalid   = "That is not a valid response. Please enter `yes` or `no`, or say `" + report.KeywordCancel + "` to cancel."
	msgPlatform  = "I'm having trouble reaching the platform right now. Please try again in a moment or say `" + report.KeywordCancel + "` to cancel."
	msgClosed    = "The report has been closed."

	dmPermanentBan = "Your account has been permanently banned for impersonation, in violation of our Community Guidelines."
	dmTemporaryBan = "Your account has been suspended for 7 days for impersonation, in violation of our Community Guidelines."
	dmFalseReport  = "Your recent impersonation report was reviewed and could not be substantiated. " +
		"Please note that knowingly filing false reports is a violation of our Community Guidelines."
)

// Deps are the collaborators a moderation dialogue calls. Enforcer may be
// nil, in which case bans are only announced by direct message.
type Deps struct {
	Identity platform.IdentityResolver
	DM       platform.DMSender
	Enforcer Enforcer
	Logger   *zap.Logger
}

// Dialogue walks one moderator through one report. The record is borrowed
// from the queue, not copied.
type Dialogue struct {
	state       State
	moderatorID string
	record      *report.Record
	outcome     Outcome
	watch       string
	deps        Deps
	logger      *zap.Logger
}

type handlerFunc func(d *Dialogue, ctx context.Context, msg report.Message) []string

var handlers = map[State]handlerFunc{
	StateStart:                                       (*Dialogue).handleStart,
	StateAwaitReviewLowConfidence:                    (*Dialogue).handleLowConfidence,
	StateAwaitAutoFlaggedClearViolationUnknownVictim: (*Dialogue).handleAutoClear,
	StateAwaitAutoFlaggedPlausibleViolation:          (*Dialogue).handleAutoPlausible,
	StateAwaitMessageClearViolation:                  (*Dialogue).handleMessageClear,
	StateAwaitUserReportPlausibleViolation:           (*Dialogue).handleUserPlausible,
	StateAwaitModIdentifyVictim:                      (*Dialogue).handleIdentifyVictim,
	StateAwaitUsernameInput:                          (*Dialogue).handleUsernameInput,
	StateAwaitUserReportLikelyViolationUnknownVictim: (*Dialogue).handleLikelyViolation,
	StateAwaitMaliciousDecision:                      (*Dialogue).handleMalicious,
}

// New returns a dialogue for moderatorID reviewing rec. rec is nil when the
// queue had nothing to claim.
func New(deps Deps, moderatorID string, rec *report.Record) *Dialogue {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialogue{
		state:       StateStart,
		moderatorID: moderatorID,
		record:      rec,
		deps:        deps,
		logger:      logger.Named("moderation"),
	}
}

// State returns the current state.
func (d *Dialogue) State() State { return d.state }

// Report returns the record under review, or nil.
func (d *Dialogue) Report() *report.Record { return d.record }

// Outcome returns how the dialogue ended; OutcomeNone until it completes.
func (d *Dialogue) Outcome() Outcome { return d.outcome }

// WatchTarget returns the user id to add to the watchlist, or "".
func (d *Dialogue) WatchTarget() string { return d.watch }

// Complete reports whether the moderation finished.
func (d *Dialogue) Complete() bool { return d.state == StateComplete }

// Cancelled reports whether the moderator abandoned the review.
func (d *Dialogue) Cancelled() bool { return d.state == StateCancelled }

// Terminal reports whether the dialogue has ended.
func (d *Dialogue) Terminal() bool { return d.state.Terminal() }

// Result summarises a completed moderation. It returns nil when there was no
// report to review.
func (d *Dialogue) Result() *Result {
	if d.record == nil || d.state != StateComplete {
		return nil
	}
	return &Result{
		ReportID:    d.record.ID,
		ModeratorID: d.moderatorID,
		OffenderID:  d.record.OffenderID(),
		AbuseType:   d.record.AbuseType(),
		Automatic:   d.record.Automatic(),
		Outcome:     d.outcome,
		WatchTarget: d.watch,
		Record:      d.record.Map(),
		ResolvedAt:  time.Now().UTC(),
	}
}

// Handle advances the dialogue by one moderator message and returns the
// replies for the moderators' channel.
func (d *Dialogue) Handle(ctx context.Context, msg report.Message) []string {
	if d.state.Terminal() {
		return nil
	}
	if report.IsCancel(msg.Content) {
		d.transition(StateCancelled)
		return []string{msgCancelled}
	}
	h, ok := handlers[d.state]
	if !ok {
		return nil
	}
	return h(d, ctx, msg)
}

func (d *Dialogue) transition(to State) {
	fields := []zap.Field{
		zap.String("moderator", d.moderatorID),
		zap.Stringer("from", d.state),
		zap.Stringer("to", to),
	}
	if d.record != nil {
		fields = append(fields, zap.String("record", d.record.ID))
	}
	d.logger.Debug("state change", fields...)
	d.state = to
}

func (d *Dialogue) complete(outcome Outcome) {
	d.outcome = outcome
	d.transition(StateComplete)
}

func (d *Dialogue) offender() string {
	if name := d.record.OffenderName(); name != "" {
		return "`" + name + "`"
	}
	return "user `" + d.record.OffenderID() + "`"
}

// ---------------------------------------------------------------------------
// Entry dispatch
// ---------------------------------------------------------------------------

func (d *Dialogue) handleStart(_ context.Context, _ report.Message) []string {
	if d.record == nil {
		d.complete(OutcomeNothingToReview)
		return []string{msgEmpty}
	}

	summary := d.summary()
	if d.record.AbuseType() != report.AbuseImpersonation {
		d.complete(OutcomePlaceholder)
		return []string{summary, "Assume appropriate action was taken for this report. " + msgClosed}
	}

	if d.record.Automatic() {
		score, _ := d.record.Confidence()
		if score <= LowConfidenceThreshold {
			d.transition(StateAwaitReviewLowConfidence)
			return []string{summary, fmt.Sprintf("The detector has low confidence in this flag (%.2f). "+
				"Would you like to review it anyway? Enter `yes` or `no`.", score)}
		}
		return []string{summary, d.enterAutoReview()}
	}

	if d.record.Value(report.FieldReporting) == report.ReportingMessage {
		d.transition(StateAwaitMessageClearViolation)
		return []string{summary, promptMessageClear()}
	}
	return []string{summary, d.enterUserReview()}
}

// enterAutoReview picks the first question for an automatic report that is
// being reviewed.
func (d *Dialogue) enterAutoReview() string {
	if victim := d.record.VictimID(); victim != "" {
		d.transition(StateAwaitAutoFlaggedPlausibleViolation)
		return promptPlausible(victim)
	}
	d.transition(StateAwaitAutoFlaggedClearViolationUnknownVictim)
	return "No victim has been identified. Is this message a clear impersonation violation? Enter `yes` or `no`."
}

// enterUserReview picks the next question for a human report once the
// obvious-violation check has been passed or skipped.
func (d *Dialogue) enterUserReview() string {
	if victim := d.record.VictimID(); victim != "" {
		d.transition(StateAwaitUserReportPlausibleViolation)
		return promptPlausible(victim)
	}
	return d.enterIdentifyVictim()
}

func (d *Dialogue) enterIdentifyVictim() string {
	d.transition(StateAwaitModIdentifyVictim)
	return "Can you identify the person being impersonated? Enter `yes` or `no`."
}

func (d *Dialogue) enterMalicious() string {
	d.transition(StateAwaitMaliciousDecision)
	return "Is " + d.offender() + " acting maliciously, for example scamming, harassing or deceiving others? " +
		"Enter `yes` for a permanent ban or `no` for a 7-day ban."
}

func (d *Dialogue) enterLikely() string {
	d.transition(StateAwaitUserReportLikelyViolationUnknownVictim)
	return "Is " + d.offender() + " likely impersonating someone, even without a confirmed victim? Enter `yes` or `no`."
}

// ---------------------------------------------------------------------------
// Questions
// ---------------------------------------------------------------------------

func (d *Dialogue) handleLowConfidence(_ context.Context, msg report.Message) []string {
	switch report.Normalize(msg.Content) {
	case report.AnswerYes:
		return []string{d.enterAutoReview()}
	case report.AnswerNo:
		return []string{d.watchOffender()}
	default:
		return []string{msgInvalid}
	}
}

func (d *Dialogue) handleAutoClear(_ context.Context, msg report.Message) []string {
	return d.yesNo(msg, d.enterMalicious, d.enterIdentifyVictim)
}

func (d *Dialogue) handleAutoPlausible(_ context.Context, msg report.Message) []string {
	return d.yesNo(msg, d.enterMalicious, d.enterIdentifyVictim)
}

func (d *Dialogue) handleMessageClear(_ context.Context, msg report.Message) []string {
	return d.yesNo(msg, d.enterMalicious, d.enterUserReview)
}

func (d *Dialogue) handleLikelyViolation(_ context.Context, msg report.Message) []string {
	return d.yesNo(msg, d.enterMalicious, d.watchOffender)
}

func (d *Dialogue) handleUserPlausible(ctx context.Context, msg report.Message) []string {
	switch report.Normalize(msg.Content) {
	case report.AnswerYes:
		return []string{d.enterMalicious()}
	case report.AnswerNo:
		d.sendDM(ctx, d.record.ReporterID(), dmFalseReport)
		d.complete(OutcomeReporterWarned)
		return []string{"A false-report warning has been sent to the reporter. " + msgClosed}
	default:
		return []string{msgInvalid}
	}
}

func (d *Dialogue) handleIdentifyVictim(_ context.Context, msg report.Message) []string {
	switch report.Normalize(msg.Content) {
	case report.AnswerYes:
		d.transition(StateAwaitUsernameInput)
		return []string{"Please enter the username of the person being impersonated."}
	case report.AnswerNo:
		return []string{d.enterLikely()}
	default:
		return []string{msgInvalid}
	}
}

func (d *Dialogue) handleUsernameInput(ctx context.Context, msg report.Message) []string {
	user, err := platform.LookupUser(ctx, d.deps.Identity, strings.TrimSpace(msg.Content))
	switch {
	case err == nil:
	case errors.Is(err, platform.ErrNotMember):
		return []string{"That user is not in a guild I'm in. Please enter another username or say `" + report.KeywordCancel + "` to cancel."}
	case errors.Is(err, platform.ErrUserNotFound):
		return []string{"That user profile was deleted or never existed. Please enter another username or say `" + report.KeywordCancel + "` to cancel."}
	default:
		d.logger.Warn("resolve victim failed", zap.String("moderator", d.moderatorID), zap.Error(err))
		return []string{msgPlatform}
	}
	if user.ID == d.record.OffenderID() {
		return []string{"That is the reported user. Please enter the username of the person being impersonated or say `" +
			report.KeywordCancel + "` to cancel."}
	}

	d.record.Set(report.FieldPotentialVictimUserID, user.ID)
	return []string{"Recorded `" + user.Name + "` as the potential victim.", d.enterLikely()}
}

func (d *Dialogue) handleMalicious(ctx context.Context, msg report.Message) []string {
	switch report.Normalize(msg.Content) {
	case report.AnswerYes:
		d.sendDM(ctx, d.record.OffenderID(), dmPermanentBan)
		d.enforce(ctx, 0)
		d.complete(OutcomePermanentBan)
		return []string{"A permanent ban has been issued to " + d.offender() + ". " + msgClosed}
	case report.AnswerNo:
		d.sendDM(ctx, d.record.OffenderID(), dmTemporaryBan)
		d.enforce(ctx, TemporaryBanDuration)
		d.complete(OutcomeTemporaryBan)
		return []string{"A 7-day ban has been issued to " + d.offender() + ". " + msgClosed}
	default:
		return []string{msgInvalid}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (d *Dialogue) yesNo(msg report.Message, onYes, onNo func() string) []string {
	switch report.Normalize(msg.Content) {
	case report.AnswerYes:
		return []string{onYes()}
	case report.AnswerNo:
		return []string{onNo()}
	default:
		return []string{msgInvalid}
	}
}

func (d *Dialogue) watchOffender() string {
	d.watch = d.record.OffenderID()
	d.complete(OutcomeWatchlisted)
	return d.offender() + " has been added to the watchlist. " + msgClosed
}

// sendDM delivers a notice. Failures are logged and do not change the
// outcome.
func (d *Dialogue) sendDM(ctx context.Context, userID, text string) {
	if d.deps.DM == nil || userID == "" {
		return
	}
	if err := d.deps.DM.SendDM(ctx, userID, text); err != nil {
		d.logger.Warn("direct message failed",
			zap.String("moderator", d.moderatorID),
			zap.String("user", userID),
			zap.Error(err),
		)
	}
}

func (d *Dialogue) enforce(ctx context.Context, duration time.Duration) {
	if d.deps.Enforcer == nil {
		return
	}
	if err := d.deps.Enforcer.Ban(ctx, d.record.OffenderID(), duration, d.record.AbuseType()); err != nil {
		d.logger.Error("ban failed",
			zap.String("moderator", d.moderatorID),
			zap.String("user", d.record.OffenderID()),
			zap.Error(err),
		)
	}
}

func (d *Dialogue) summary() string {
	var b strings.Builder
	b.WriteString("Report `")
	b.WriteString(d.record.ID)
	b.WriteString("`:\n```\n")
	b.WriteString(d.record.String())
	b.WriteString("\n```")
	if def := Definition(d.record.AbuseType()); def != "" {
		b.WriteString("\n**")
		b.WriteString(d.record.AbuseType())
		b.WriteString("**: ")
		b.WriteString(def)
	}
	return b.String()
}

func promptMessageClear() string {
	return "Does the reported message clearly show impersonation? Enter `yes` or `no`."
}

func promptPlausible(victimID string) string {
	return "The report names user `" + victimID + "` as the person being impersonated. " +
		"Compare the two profiles. Is this a plausible impersonation violation? Enter `yes` or `no`."
}

// Package report implements the user-side reporting flow: a per-user
// dialogue that collects the details of one abuse report, the ordered record
// it fills in, and the queue completed reports wait in for moderation.
package report

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/platform"
)

// linkPattern extracts guild, channel and message ids from a message link.
var linkPattern = regexp.MustCompile(`/(\d+)/(\d+)/(\d+)`)

// Message is one inbound message as seen by a dialogue.
type Message struct {
	AuthorID   string
	AuthorName string
	Content    string
}

// Deps are the collaborators a report dialogue calls.
type Deps struct {
	Identity platform.IdentityResolver
	Messages platform.MessageResolver
	Logger   *zap.Logger
}

// Dialogue walks one user through filing a report. A Dialogue is driven by a
// single goroutine at a time.
type Dialogue struct {
	state  State
	record *Record
	deps   Deps
	logger *zap.Logger
}

type handlerFunc func(d *Dialogue, ctx context.Context, msg Message) []string

var handlers = map[State]handlerFunc{
	StateBlockStart:                   (*Dialogue).handleBlockStart,
	StateAwaitUserToBlock:             (*Dialogue).handleUserToBlock,
	StateAwaitReportDecision:          (*Dialogue).handleReportDecision,
	StateReportStart:                  (*Dialogue).handleReportStart,
	StateAwaitReportType:              (*Dialogue).handleReportType,
	StateAwaitMessage:                 (*Dialogue).handleMessageLink,
	StateAwaitUser:                    (*Dialogue).handleUser,
	StateAwaitAbuseType:               (*Dialogue).handleAbuseType,
	StateAwaitImpersonationVictim:     (*Dialogue).handleImpersonationVictim,
	StateAwaitHasProfile:              (*Dialogue).handleHasProfile,
	StateAwaitRealProfile:             (*Dialogue).handleRealProfile,
	StateAwaitRealProfileConfirm:      (*Dialogue).handleRealProfileConfirm,
	StateAwaitImpersonatingRealPerson: (*Dialogue).handleRealPerson,
	StateAwaitBlockDecision:           (*Dialogue).handleBlockDecision,
}

// New returns a dialogue at the start of the report flow.
func New(deps Deps) *Dialogue {
	return newDialogue(deps, StateReportStart)
}

// NewBlock returns a dialogue at the start of the block flow, which may
// continue into a report.
func NewBlock(deps Deps) *Dialogue {
	return newDialogue(deps, StateBlockStart)
}

func newDialogue(deps Deps, start State) *Dialogue {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialogue{
		state:  start,
		record: NewRecord(),
		deps:   deps,
		logger: logger.Named("report"),
	}
}

// State returns the current state.
func (d *Dialogue) State() State { return d.state }

// Record returns the working record.
func (d *Dialogue) Record() *Record { return d.record }

// Complete reports whether the report was filed.
func (d *Dialogue) Complete() bool { return d.state == StateComplete }

// Cancelled reports whether the flow ended without a report.
func (d *Dialogue) Cancelled() bool { return d.state == StateCancelled }

// Terminal reports whether the dialogue has ended.
func (d *Dialogue) Terminal() bool { return d.state.Terminal() }

// TakeSnapshot hands the completed record over: it returns a copy and clears
// the working record so it cannot be queued twice. It returns nil unless the
// dialogue is complete and still holds data.
func (d *Dialogue) TakeSnapshot() *Record {
	if d.state != StateComplete || d.record.Len() == 0 {
		return nil
	}
	snap := d.record.Clone()
	d.record.Clear()
	return snap
}

// Handle advances the dialogue by one inbound message and returns the replies
// to send back, in order. The cancel keyword is honoured in every
// non-terminal state; terminal dialogues ignore input.
func (d *Dialogue) Handle(ctx context.Context, msg Message) []string {
	if d.state.Terminal() {
		return nil
	}
	if IsCancel(msg.Content) {
		d.transition(msg, StateCancelled)
		return []string{msgCancelled}
	}
	h, ok := handlers[d.state]
	if !ok {
		return nil
	}
	return h(d, ctx, msg)
}

func (d *Dialogue) transition(msg Message, to State) {
	d.logger.Debug("state change",
		zap.String("actor", msg.AuthorID),
		zap.String("record", d.record.ID),
		zap.Stringer("from", d.state),
		zap.Stringer("to", to),
	)
	d.state = to
}

func (d *Dialogue) setReporter(msg Message) {
	d.record.Set(FieldReporter, msg.AuthorName)
	d.record.Set(FieldReporterID, msg.AuthorID)
}

// ---------------------------------------------------------------------------
// Block flow
// ---------------------------------------------------------------------------

func (d *Dialogue) handleBlockStart(_ context.Context, msg Message) []string {
	d.setReporter(msg)
	d.transition(msg, StateAwaitUserToBlock)
	return []string{promptUsername("block")}
}

func (d *Dialogue) handleUserToBlock(ctx context.Context, msg Message) []string {
	user, reply, ok := d.lookupUser(ctx, msg.Content, msgNoProfile)
	if !ok {
		return []string{reply}
	}
	if user.ID == msg.AuthorID {
		return []string{"You cannot block yourself. Please enter a different username or say `" + KeywordCancel + "` to cancel."}
	}

	d.record.Set(FieldReporting, ReportingUser)
	d.record.Set(FieldOffenderID, user.ID)
	d.record.Set(FieldOffenderName, user.Name)
	d.transition(msg, StateAwaitReportDecision)
	return []string{blocked(user.Name) + "\nWould you also like to report `" + user.Name + "`? Enter `yes` or `no`."}
}

func (d *Dialogue) handleReportDecision(_ context.Context, msg Message) []string {
	switch Normalize(msg.Content) {
	case AnswerYes:
		d.record.Set(FieldOffenderBlocked, AnswerYes)
		d.transition(msg, StateAwaitAbuseType)
		return []string{promptAbuseType("Thank you for starting the reporting process. What are you reporting `" +
			d.record.OffenderName() + "` for?")}
	case AnswerNo:
		d.transition(msg, StateCancelled)
		return []string{msgOk}
	default:
		return []string{msgInvalid}
	}
}

// ---------------------------------------------------------------------------
// Report flow
// ---------------------------------------------------------------------------

func (d *Dialogue) handleReportStart(_ context.Context, msg Message) []string {
	d.setReporter(msg)
	d.transition(msg, StateAwaitReportType)
	return []string{promptStart()}
}

func (d *Dialogue) handleReportType(_ context.Context, msg Message) []string {
	switch Normalize(msg.Content) {
	case KeywordMessage:
		d.record.Set(FieldReporting, ReportingMessage)
		d.transition(msg, StateAwaitMessage)
		return []string{promptMessageLink()}
	case KeywordUser:
		d.record.Set(FieldReporting, ReportingUser)
		d.transition(msg, StateAwaitUser)
		return []string{promptUsername("report")}
	default:
		return []string{promptInvalidReportType()}
	}
}

func (d *Dialogue) handleMessageLink(ctx context.Context, msg Message) []string {
	m := linkPattern.FindStringSubmatch(msg.Content)
	if m == nil {
		return []string{msgBadLink}
	}

	found, err := d.deps.Messages.ResolveMessage(ctx, m[1], m[2], m[3])
	switch {
	case err == nil:
	case errors.Is(err, platform.ErrGuildUnreachable):
		return []string{msgGuildUnreachable}
	case errors.Is(err, platform.ErrChannelMissing):
		return []string{msgChannelMissing}
	case errors.Is(err, platform.ErrMessageMissing):
		return []string{msgMessageMissing}
	default:
		d.logger.Warn("resolve message failed", zap.String("actor", msg.AuthorID), zap.Error(err))
		return []string{msgPlatform}
	}

	d.record.Set(FieldMessageLink, strings.TrimSpace(msg.Content))
	d.record.Set(FieldOffenderID, found.Author.ID)
	d.record.Set(FieldOffenderName, found.Author.Name)
	d.record.Set(FieldOffendingMessage, found.Content)
	d.transition(msg, StateAwaitAbuseType)
	return []string{"I found this message:```" + found.Author.Name + ": " + found.Content + "```\n" +
		promptAbuseType("What are you reporting this message for?")}
}

func (d *Dialogue) handleUser(ctx context.Context, msg Message) []string {
	user, reply, ok := d.lookupUser(ctx, msg.Content, msgNoProfile)
	if !ok {
		return []string{reply}
	}
	d.record.Set(FieldOffenderID, user.ID)
	d.record.Set(FieldOffenderName, user.Name)
	d.transition(msg, StateAwaitAbuseType)
	return []string{promptAbuseType("What are you reporting `" + user.Name + "` for?")}
}

func (d *Dialogue) handleAbuseType(_ context.Context, msg Message) []string {
	label, ok := lookup(abuseTypes, Normalize(msg.Content))
	if !ok {
		return []string{msgInvalid}
	}
	d.record.Set(FieldAbuseType, label)
	if label == AbuseImpersonation {
		d.transition(msg, StateAwaitImpersonationVictim)
		return []string{promptVictim()}
	}
	return d.finish(msg, "Thank you for your report with the listed reason of `"+label+"`.")
}

func (d *Dialogue) handleImpersonationVictim(_ context.Context, msg Message) []string {
	label, ok := lookup(impersonationVictims, Normalize(msg.Content))
	if !ok {
		return []string{msgInvalid}
	}
	if label == VictimMe {
		if d.record.OffenderID() == d.record.ReporterID() {
			return []string{"You cannot be impersonating yourself. Please enter `2` for `someone I know` or `3` for `someone else`, or say `" +
				KeywordCancel + "` to cancel."}
		}
		d.record.Set(FieldImpersonationVictim, label)
		return d.finish(msg, "Thank you for your report.")
	}
	d.record.Set(FieldImpersonationVictim, label)
	d.transition(msg, StateAwaitHasProfile)
	return []string{promptHasProfile()}
}

func (d *Dialogue) handleHasProfile(_ context.Context, msg Message) []string {
	answer := Normalize(msg.Content)
	switch answer {
	case AnswerYes:
		d.record.Set(FieldVictimHasProfile, AnswerYes)
		d.transition(msg, StateAwaitRealProfile)
		return []string{promptRealProfile()}
	case AnswerNo, AnswerDontKnow:
		if answer == AnswerNo {
			d.record.Set(FieldVictimHasProfile, AnswerNo)
		} else {
			d.record.Set(FieldVictimHasProfile, Unknown)
		}
		if d.record.Value(FieldImpersonationVictim) == impersonationVictims[1].label {
			return d.finish(msg, "Thank you for your report.")
		}
		d.transition(msg, StateAwaitImpersonatingRealPerson)
		return []string{promptRealPerson()}
	default:
		return []string{msgInvalid}
	}
}

func (d *Dialogue) handleRealProfile(ctx context.Context, msg Message) []string {
	if Normalize(msg.Content) == AnswerDontKnow {
		d.record.Set(FieldVictimUserID, Unknown)
		return d.finish(msg, "Thank you for your report.")
	}

	notFound := msgNoProfile + " Or, if you don't have the username of the person being impersonated, say `I don't know`."
	user, reply, ok := d.lookupUser(ctx, msg.Content, notFound)
	if !ok {
		return []string{reply}
	}
	if user.ID == d.record.OffenderID() {
		return []string{"This is the same user as the user you are reporting. Please enter a different username or say `" +
			KeywordCancel + "` to cancel."}
	}

	d.record.Set(FieldVictimUserID, user.ID)
	d.transition(msg, StateAwaitRealProfileConfirm)
	return []string{"I found the user `" + user.Name + "`. Is this the person being impersonated? Enter `yes` or `no`."}
}

func (d *Dialogue) handleRealProfileConfirm(_ context.Context, msg Message) []string {
	switch Normalize(msg.Content) {
	case AnswerYes:
		return d.finish(msg, "Thank you for your report.")
	case AnswerNo:
		d.record.Undo()
		d.transition(msg, StateAwaitRealProfile)
		return []string{msgOk + " " + promptRealProfile()}
	default:
		return []string{msgInvalid}
	}
}

func (d *Dialogue) handleRealPerson(_ context.Context, msg Message) []string {
	switch answer := Normalize(msg.Content); answer {
	case AnswerYes, AnswerNo:
		d.record.Set(FieldVictimIsRealPerson, answer)
	case AnswerDontKnow:
		d.record.Set(FieldVictimIsRealPerson, Unknown)
	default:
		return []string{msgInvalid}
	}
	return d.finish(msg, "Thank you for your report.")
}

func (d *Dialogue) handleBlockDecision(_ context.Context, msg Message) []string {
	switch Normalize(msg.Content) {
	case AnswerYes:
		d.record.Set(FieldOffenderBlocked, AnswerYes)
		d.transition(msg, StateComplete)
		return []string{blocked(d.record.OffenderName())}
	case AnswerNo:
		d.transition(msg, StateComplete)
		return []string{msgOk}
	default:
		return []string{msgInvalid}
	}
}

// finish emits the closing thank-you and either offers to block the offender
// or completes the report. The offer is skipped when the reporter already
// blocked the offender or is the offender.
func (d *Dialogue) finish(msg Message, lead string) []string {
	reply := lead + "\n\n" + msgThanks
	if !d.record.Has(FieldOffenderBlocked) && d.record.OffenderID() != d.record.ReporterID() {
		d.transition(msg, StateAwaitBlockDecision)
		return []string{reply + "\n\n" + promptBlock(d.record.OffenderName())}
	}
	d.transition(msg, StateComplete)
	return []string{reply}
}

// lookupUser resolves a username typed by the reporter. On failure it
// returns the reply to send and ok=false; the caller stays in its state.
func (d *Dialogue) lookupUser(ctx context.Context, content, notFound string) (platform.User, string, bool) {
	user, err := platform.LookupUser(ctx, d.deps.Identity, strings.TrimSpace(content))
	switch {
	case err == nil:
		return user, "", true
	case errors.Is(err, platform.ErrNotMember):
		return platform.User{}, msgNotMember, false
	case errors.Is(err, platform.ErrUserNotFound):
		return platform.User{}, notFound, false
	default:
		d.logger.Warn("resolve user failed", zap.Error(err))
		return platform.User{}, msgPlatform, false
	}
}

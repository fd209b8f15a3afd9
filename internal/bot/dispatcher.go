// Package bot routes inbound platform messages to the right dialogue. It owns
// the per-actor sessions for both flows and moves records between the report
// queue, the watchlist and the archive as dialogues end.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/chat"
	"github.com/whisper/modbot/internal/detect"
	"github.com/whisper/modbot/internal/metrics"
	"github.com/whisper/modbot/internal/moderation"
	"github.com/whisper/modbot/internal/platform"
	"github.com/whisper/modbot/internal/protocol"
	"github.com/whisper/modbot/internal/ratelimit"
	"github.com/whisper/modbot/internal/report"
	"github.com/whisper/modbot/internal/session"
)

// DefaultFlagThreshold is the detector score at which a channel message is
// filed as an automatic report.
const DefaultFlagThreshold = 0.3

// historyLimit bounds the past outcomes listed in an announcement.
const historyLimit = 3

const (
	sourceGateway = "gateway"

	resultHandled     = "handled"
	resultIgnored     = "ignored"
	resultInvalid     = "invalid"
	resultRateLimited = "rate_limited"
	resultBanned      = "banned"

	kindReport     = "report"
	kindModeration = "moderation"
)

const (
	helpDM = "Use the `" + report.KeywordReport + "` command to begin the reporting process.\n" +
		"Use the `" + report.KeywordBlock + "` command to block a user.\n" +
		"Use the `" + report.KeywordCancel + "` command to cancel the reporting process.\n"

	helpMod = "Use the `" + moderation.KeywordModerate + "` command to review the next report in the queue.\n" +
		"Use the `" + report.KeywordCancel + "` command to put the report back and stop.\n"
)

// Config selects the channels the bot answers in.
type Config struct {
	// BotUserID is the bot's own platform id; its messages are ignored.
	BotUserID string

	// ReportChannel is the guild channel whose messages are scored. It
	// matches an inbound channel id or name.
	ReportChannel string

	// ModChannel is the moderators' channel. It must be a channel id since
	// automatic report announcements are posted to it.
	ModChannel string

	// FlagThreshold is the minimum detector score for an automatic report.
	FlagThreshold float64

	// MessageRule throttles dialogue input per actor. A zero Limit uses
	// ratelimit.RuleMessage.
	MessageRule ratelimit.Rule
}

// Archiver stores finished moderations and reads back an offender's past
// outcomes. archive.Store implements it.
type Archiver interface {
	Save(ctx context.Context, res *moderation.Result) error
	History(ctx context.Context, offenderID string, limit int) ([]moderation.Result, error)
}

// BanChecker reports whether a user is banned. ban.Store implements it.
type BanChecker interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
}

// OffenseCounter counts a user's recent bans. ban.Store implements it.
type OffenseCounter interface {
	Offenses(ctx context.Context, userID string) (int, error)
}

// Limiter throttles actors. ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Deps are the dispatcher's collaborators. Identity, Messages, DM, Queue and
// Watchlist are required; the rest may be nil.
type Deps struct {
	Identity  platform.IdentityResolver
	Messages  platform.MessageResolver
	DM        platform.DMSender
	Enforcer  moderation.Enforcer
	Queue     report.Queue
	Watchlist moderation.Watchlist
	Scorer    detect.Scorer
	Bans      BanChecker
	Offenses  OffenseCounter
	Limiter   Limiter
	Archive   Archiver
	Logger    *zap.Logger
}

// Dispatcher handles one inbound message at a time. All dialogue state is
// guarded by a single mutex, so replies for an actor are produced in the
// order their messages arrive.
type Dispatcher struct {
	cfg         Config
	deps        Deps
	reports     *session.Store[*report.Dialogue]
	moderations *session.Store[*moderation.Dialogue]
	history     *chat.MessageBuffer
	mu          sync.Mutex
	logger      *zap.Logger
}

// New creates a Dispatcher with empty session stores.
func New(cfg Config, deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.FlagThreshold <= 0 {
		cfg.FlagThreshold = DefaultFlagThreshold
	}
	if cfg.MessageRule.Limit <= 0 {
		cfg.MessageRule = ratelimit.RuleMessage
	}
	return &Dispatcher{
		cfg:         cfg,
		deps:        deps,
		reports:     session.NewStore[*report.Dialogue](),
		moderations: session.NewStore[*moderation.Dialogue](),
		history:     chat.NewMessageBuffer(),
		logger:      deps.Logger.Named("bot"),
	}
}

// Reports exposes the report session store.
func (d *Dispatcher) Reports() *session.Store[*report.Dialogue] { return d.reports }

// Moderations exposes the moderation session store.
func (d *Dispatcher) Moderations() *session.Store[*moderation.Dialogue] { return d.moderations }

// Handle processes one inbound message and returns the replies to post, in
// order. It never returns an error; failures are logged and answered.
func (d *Dispatcher) Handle(ctx context.Context, in protocol.Inbound) []protocol.Outbound {
	start := time.Now()
	defer func() { metrics.HandleLatency.Observe(time.Since(start).Seconds()) }()

	source := in.Source
	if source == "" {
		source = sourceGateway
	}

	result, out := d.route(ctx, in)
	metrics.InboundTotal.WithLabelValues(source, result).Inc()
	return out
}

func (d *Dispatcher) route(ctx context.Context, in protocol.Inbound) (string, []protocol.Outbound) {
	if in.AuthorID == "" || in.AuthorID == d.cfg.BotUserID {
		return resultIgnored, nil
	}

	var handler func(context.Context, protocol.Inbound) []protocol.Outbound
	switch {
	case in.DM:
		handler = d.handleDM
	case d.isChannel(in, d.cfg.ModChannel):
		handler = d.handleModChannel
	case d.isChannel(in, d.cfg.ReportChannel):
		handler = d.handleReportChannel
	default:
		return resultIgnored, nil
	}

	if err := chat.ValidateMessage(in.Content); err != nil {
		d.logger.Debug("invalid content", zap.String("author", in.AuthorID), zap.Error(err))
		return resultInvalid, nil
	}

	if d.deps.Bans != nil {
		banned, err := d.deps.Bans.IsBanned(ctx, in.AuthorID)
		if err != nil {
			d.logger.Warn("ban check failed, allowing", zap.String("author", in.AuthorID), zap.Error(err))
		}
		if banned {
			return resultBanned, nil
		}
	}

	// Channel traffic is scored regardless of volume; only dialogue input is
	// throttled.
	if d.deps.Limiter != nil && (in.DM || d.isChannel(in, d.cfg.ModChannel)) {
		allowed, err := d.deps.Limiter.Allow(ctx, in.AuthorID, d.cfg.MessageRule)
		if err != nil {
			d.logger.Warn("rate limit check failed", zap.String("author", in.AuthorID), zap.Error(err))
		}
		if !allowed {
			return resultRateLimited, nil
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := handler(ctx, in)
	d.updateGauges()
	return resultHandled, out
}

func (d *Dispatcher) isChannel(in protocol.Inbound, want string) bool {
	return want != "" && (in.ChannelID == want || in.ChannelName == want)
}

// handleDM drives the author's report dialogue. A dialogue starts only on
// the report or block keyword; later keywords are ordinary input.
func (d *Dispatcher) handleDM(ctx context.Context, in protocol.Inbound) []protocol.Outbound {
	norm := report.Normalize(in.Content)
	if norm == report.KeywordHelp {
		return replies(in.ChannelID, []string{helpDM})
	}

	dlg, ok := d.reports.Get(in.AuthorID)
	if !ok {
		rdeps := report.Deps{
			Identity: d.deps.Identity,
			Messages: d.deps.Messages,
			Logger:   d.deps.Logger,
		}
		switch {
		case strings.HasPrefix(norm, report.KeywordReport):
			dlg = report.New(rdeps)
		case strings.HasPrefix(norm, report.KeywordBlock):
			dlg = report.NewBlock(rdeps)
		default:
			return nil
		}
		// d.mu spans the Get above and this Put, so a failed Put means the
		// session store was changed behind the dispatcher's back.
		if !d.reports.Put(in.AuthorID, dlg) {
			d.logger.Error("report session already exists", zap.String("author", in.AuthorID))
			return nil
		}
		d.logger.Debug("report session started", zap.String("author", in.AuthorID), zap.Stringer("state", dlg.State()))
	}

	texts := dlg.Handle(ctx, report.Message{
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		Content:    in.Content,
	})

	switch {
	case dlg.Complete():
		if snap := dlg.TakeSnapshot(); snap != nil {
			d.deps.Queue.Push(snap)
			metrics.ReportsQueued.WithLabelValues("human").Inc()
			d.logger.Info("report queued",
				zap.String("record", snap.ID),
				zap.String("offender", snap.OffenderID()),
				zap.String("abuse_type", snap.AbuseType()))
		}
		d.reports.Remove(in.AuthorID)
		metrics.DialoguesEnded.WithLabelValues(kindReport, "complete").Inc()
	case dlg.Cancelled():
		d.reports.Remove(in.AuthorID)
		metrics.DialoguesEnded.WithLabelValues(kindReport, "cancelled").Inc()
	}

	return replies(in.ChannelID, texts)
}

// handleModChannel drives the author's moderation dialogue. Starting one
// claims the oldest unclaimed report for that moderator.
func (d *Dispatcher) handleModChannel(ctx context.Context, in protocol.Inbound) []protocol.Outbound {
	norm := report.Normalize(in.Content)

	dlg, ok := d.moderations.Get(in.AuthorID)
	if !ok {
		if norm == report.KeywordHelp {
			return replies(in.ChannelID, []string{helpMod})
		}
		if !strings.HasPrefix(norm, moderation.KeywordModerate) {
			return nil
		}
		rec := d.deps.Queue.Claim(in.AuthorID)
		dlg = moderation.New(moderation.Deps{
			Identity: d.deps.Identity,
			DM:       d.deps.DM,
			Enforcer: d.deps.Enforcer,
			Logger:   d.deps.Logger,
		}, in.AuthorID, rec)
		if !d.moderations.Put(in.AuthorID, dlg) {
			d.logger.Error("moderation session already exists", zap.String("moderator", in.AuthorID))
			if rec != nil {
				if err := d.deps.Queue.Release(rec.ID); err != nil {
					d.logger.Warn("release claim", zap.String("record", rec.ID), zap.Error(err))
				}
			}
			return nil
		}
	}

	texts := dlg.Handle(ctx, report.Message{
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		Content:    in.Content,
	})

	switch {
	case dlg.Complete():
		d.finishModeration(ctx, dlg)
		d.moderations.Remove(in.AuthorID)
		metrics.DialoguesEnded.WithLabelValues(kindModeration, "complete").Inc()
	case dlg.Cancelled():
		if rec := dlg.Report(); rec != nil {
			if err := d.deps.Queue.Release(rec.ID); err != nil {
				d.logger.Warn("release claim", zap.String("record", rec.ID), zap.Error(err))
			}
		}
		d.moderations.Remove(in.AuthorID)
		metrics.DialoguesEnded.WithLabelValues(kindModeration, "cancelled").Inc()
	}

	return replies(in.ChannelID, texts)
}

// finishModeration applies a completed moderation: watch-list the target,
// drop the record from the queue and archive the result.
func (d *Dispatcher) finishModeration(ctx context.Context, dlg *moderation.Dialogue) {
	metrics.ModerationOutcomes.WithLabelValues(string(dlg.Outcome())).Inc()

	rec := dlg.Report()
	if rec == nil {
		return
	}

	if target := dlg.WatchTarget(); target != "" {
		d.deps.Watchlist.Add(target, rec)
		d.logger.Info("user watch-listed", zap.String("user", target), zap.String("record", rec.ID))
	}

	if err := d.deps.Queue.Remove(rec.ID); err != nil {
		d.logger.Warn("remove from queue", zap.String("record", rec.ID), zap.Error(err))
	}

	res := dlg.Result()
	d.logger.Info("moderation complete",
		zap.String("record", rec.ID),
		zap.String("moderator", res.ModeratorID),
		zap.String("outcome", string(res.Outcome)))

	if d.deps.Archive != nil {
		if err := d.deps.Archive.Save(ctx, res); err != nil {
			d.logger.Error("archive moderation", zap.String("record", rec.ID), zap.Error(err))
		}
	}
}

// handleReportChannel keeps the channel history and files an automatic
// report when the detector flags the message.
func (d *Dispatcher) handleReportChannel(ctx context.Context, in protocol.Inbound) []protocol.Outbound {
	ts := in.Ts
	if ts == 0 {
		ts = time.Now().Unix()
	}
	d.history.Add(in.ChannelID, chat.BufferedMessage{
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		Text:       in.Content,
		Ts:         ts,
	})

	if d.deps.Scorer == nil {
		return nil
	}

	res, err := d.deps.Scorer.Score(ctx, in.Content)
	if err != nil {
		d.logger.Warn("score message", zap.String("channel", in.ChannelID), zap.Error(err))
		return nil
	}
	if !res.Flagged(d.cfg.FlagThreshold) {
		return nil
	}

	rec := report.NewRecord()
	rec.Set(report.FieldReporter, report.AutomaticReporter)
	rec.Set(report.FieldReporting, report.ReportingMessage)
	if in.GuildID != "" && in.MessageID != "" {
		rec.Set(report.FieldMessageLink, platform.MessageLink(in.GuildID, in.ChannelID, in.MessageID))
	}
	rec.Set(report.FieldOffenderID, in.AuthorID)
	rec.Set(report.FieldOffenderName, in.AuthorName)
	rec.Set(report.FieldOffendingMessage, in.Content)
	rec.Set(report.FieldAbuseType, res.AbuseType)
	rec.Set(report.FieldConfidence, strconv.FormatFloat(res.Confidence, 'f', -1, 64))

	d.deps.Queue.Push(rec)
	metrics.ReportsQueued.WithLabelValues("automatic").Inc()
	d.logger.Info("message flagged",
		zap.String("record", rec.ID),
		zap.String("offender", in.AuthorID),
		zap.String("abuse_type", res.AbuseType),
		zap.Float64("confidence", res.Confidence))

	if d.cfg.ModChannel == "" {
		return nil
	}
	return []protocol.Outbound{{ChannelID: d.cfg.ModChannel, Text: d.announce(ctx, in, res)}}
}

func (d *Dispatcher) announce(ctx context.Context, in protocol.Inbound, res *detect.Result) string {
	rules := make([]string, 0, len(res.Findings))
	for _, f := range res.Findings {
		rules = append(rules, f.Rule)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Automatically flagged a message from `%s` as %s (confidence %.2f, rules: %s).",
		in.AuthorName, res.AbuseType, res.Confidence, strings.Join(rules, ", "))

	if d.deps.Offenses != nil {
		n, err := d.deps.Offenses.Offenses(ctx, in.AuthorID)
		if err != nil {
			d.logger.Warn("count offenses", zap.String("user", in.AuthorID), zap.Error(err))
		} else if n > 0 {
			fmt.Fprintf(&b, " This user has %d recent ban(s).", n)
		}
	}

	if recs := d.deps.Watchlist.Get(in.AuthorID); len(recs) > 0 {
		fmt.Fprintf(&b, " This user is on the watchlist with %d earlier report(s).", len(recs))
	}

	if d.deps.Archive != nil {
		past, err := d.deps.Archive.History(ctx, in.AuthorID, historyLimit)
		if err != nil {
			d.logger.Warn("load moderation history", zap.String("user", in.AuthorID), zap.Error(err))
		} else if len(past) > 0 {
			outcomes := make([]string, len(past))
			for i, r := range past {
				outcomes[i] = string(r.Outcome)
			}
			fmt.Fprintf(&b, " Previous outcomes: %s.", strings.Join(outcomes, ", "))
		}
	}

	b.WriteString("\nRecent messages:\n```\n")
	b.WriteString(chat.Format(d.history.Get(in.ChannelID)))
	b.WriteString("\n```\nSay `" + moderation.KeywordModerate + "` to review the queue.")
	return b.String()
}

func (d *Dispatcher) updateGauges() {
	metrics.ActiveSessions.WithLabelValues(kindReport).Set(float64(d.reports.Len()))
	metrics.ActiveSessions.WithLabelValues(kindModeration).Set(float64(d.moderations.Len()))
	metrics.QueueSize.Set(float64(d.deps.Queue.Len()))
	metrics.WatchlistSize.Set(float64(d.deps.Watchlist.Len()))
}

func replies(channelID string, texts []string) []protocol.Outbound {
	if len(texts) == 0 {
		return nil
	}
	out := make([]protocol.Outbound, len(texts))
	for i, t := range texts {
		out[i] = protocol.Outbound{ChannelID: channelID, Text: t}
	}
	return out
}

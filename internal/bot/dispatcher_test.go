package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/detect"
	"github.com/whisper/modbot/internal/moderation"
	"github.com/whisper/modbot/internal/platform"
	"github.com/whisper/modbot/internal/protocol"
	"github.com/whisper/modbot/internal/ratelimit"
	"github.com/whisper/modbot/internal/report"
)

const (
	botID         = "1"
	reportChannel = "group-7"
	modChannel    = "7000"
)

var (
	alice   = platform.User{ID: "100", Name: "alice"}
	mallory = platform.User{ID: "200", Name: "mallory"}
	bob     = platform.User{ID: "300", Name: "bob"}
	mod1    = platform.User{ID: "900", Name: "mod-one"}
	mod2    = platform.User{ID: "901", Name: "mod-two"}
)

type fakeArchive struct {
	saved []*moderation.Result
}

func (f *fakeArchive) Save(_ context.Context, res *moderation.Result) error {
	f.saved = append(f.saved, res)
	return nil
}

func (f *fakeArchive) History(_ context.Context, offenderID string, limit int) ([]moderation.Result, error) {
	var out []moderation.Result
	for i := len(f.saved) - 1; i >= 0 && len(out) < limit; i-- {
		if f.saved[i].OffenderID == offenderID {
			out = append(out, *f.saved[i])
		}
	}
	return out, nil
}

type fakeBans struct {
	banned   map[string]bool
	err      error
	offenses map[string]int
}

func (f *fakeBans) IsBanned(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.banned[userID], nil
}

func (f *fakeBans) Offenses(_ context.Context, userID string) (int, error) {
	return f.offenses[userID], nil
}

type fakeLimiter struct {
	deny map[string]bool
}

func (f *fakeLimiter) Allow(_ context.Context, id string, _ ratelimit.Rule) (bool, error) {
	return !f.deny[id], nil
}

type fixedScorer struct {
	confidence float64
}

func (f fixedScorer) Score(context.Context, string) (*detect.Result, error) {
	return &detect.Result{
		Confidence: f.confidence,
		AbuseType:  report.AbuseImpersonation,
		Findings: []detect.Finding{{
			Rule:       "fixed",
			AbuseType:  report.AbuseImpersonation,
			Confidence: f.confidence,
		}},
	}, nil
}

type fixture struct {
	d         *Dispatcher
	dir       *platform.MemoryDirectory
	queue     *report.MemoryQueue
	watchlist *moderation.MemoryWatchlist
	archive   *fakeArchive
	bans      *fakeBans
	limiter   *fakeLimiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := platform.NewMemoryDirectory()
	for _, u := range []platform.User{alice, mallory, bob} {
		dir.AddMember(u)
	}
	dir.AddMessage(platform.Message{GuildID: "10", ChannelID: "20", ID: "30", Author: mallory, Content: "hi, I'm bob"})

	f := &fixture{
		dir:       dir,
		queue:     report.NewMemoryQueue(),
		watchlist: moderation.NewMemoryWatchlist(),
		archive:   &fakeArchive{},
		bans:      &fakeBans{banned: map[string]bool{}, offenses: map[string]int{}},
		limiter:   &fakeLimiter{deny: map[string]bool{}},
	}
	f.d = New(Config{
		BotUserID:     botID,
		ReportChannel: reportChannel,
		ModChannel:    modChannel,
		FlagThreshold: DefaultFlagThreshold,
	}, Deps{
		Identity:  dir,
		Messages:  dir,
		DM:        dir,
		Queue:     f.queue,
		Watchlist: f.watchlist,
		Scorer:    detect.NewRuleScorer(),
		Bans:      f.bans,
		Offenses:  f.bans,
		Limiter:   f.limiter,
		Archive:   f.archive,
		Logger:    zap.NewNop(),
	})
	return f
}

// dm sends each input as a direct message from u and returns the replies to
// the last one.
func (f *fixture) dm(u platform.User, inputs ...string) []protocol.Outbound {
	var out []protocol.Outbound
	for _, in := range inputs {
		out = f.d.Handle(context.Background(), protocol.Inbound{
			ChannelID: "dm-" + u.ID, DM: true, AuthorID: u.ID, AuthorName: u.Name, Content: in,
		})
	}
	return out
}

// mod sends each input in the moderators' channel.
func (f *fixture) mod(u platform.User, inputs ...string) []protocol.Outbound {
	var out []protocol.Outbound
	for _, in := range inputs {
		out = f.d.Handle(context.Background(), protocol.Inbound{
			ChannelID: modChannel, ChannelName: "group-7-mod", GuildID: "10",
			AuthorID: u.ID, AuthorName: u.Name, Content: in,
		})
	}
	return out
}

func (f *fixture) channel(u platform.User, content string) []protocol.Outbound {
	return f.d.Handle(context.Background(), protocol.Inbound{
		ChannelID: "20", ChannelName: reportChannel, GuildID: "10", MessageID: "31",
		AuthorID: u.ID, AuthorName: u.Name, Content: content,
	})
}

func texts(out []protocol.Outbound) string {
	parts := make([]string, len(out))
	for i, o := range out {
		parts[i] = o.Text
	}
	return strings.Join(parts, "\n")
}

// fileUserReport has alice report mallory for impersonating alice.
func (f *fixture) fileUserReport() {
	f.dm(alice, "!report", "user", "mallory", "9", "1", "no")
}

func TestIgnoresUnroutedMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   protocol.Inbound
	}{
		{"bot's own message", protocol.Inbound{DM: true, ChannelID: "dm", AuthorID: botID, Content: "!report"}},
		{"other channel", protocol.Inbound{ChannelID: "555", ChannelName: "general", AuthorID: alice.ID, Content: "!report"}},
		{"dm without keyword", protocol.Inbound{DM: true, ChannelID: "dm", AuthorID: alice.ID, Content: "hello"}},
		{"empty content", protocol.Inbound{DM: true, ChannelID: "dm", AuthorID: alice.ID, Content: ""}},
		{"mod chatter", protocol.Inbound{ChannelID: modChannel, AuthorID: mod1.ID, Content: "morning all"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out := f.d.Handle(ctx, tt.in); len(out) != 0 {
				t.Errorf("expected no replies, got %q", texts(out))
			}
		})
	}
	if f.d.Reports().Len() != 0 || f.d.Moderations().Len() != 0 {
		t.Error("no session should have been created")
	}
}

func TestHelp(t *testing.T) {
	f := newFixture(t)

	if out := f.dm(alice, "!help"); !strings.Contains(texts(out), report.KeywordReport) {
		t.Errorf("expected report help, got %q", texts(out))
	}
	if out := f.mod(mod1, "!HELP"); !strings.Contains(texts(out), moderation.KeywordModerate) {
		t.Errorf("expected moderation help, got %q", texts(out))
	}
	if f.d.Reports().Len() != 0 {
		t.Error("help must not start a session")
	}
}

func TestReportIsQueuedOnCompletion(t *testing.T) {
	f := newFixture(t)

	out := f.dm(alice, "!report")
	if len(out) != 1 || out[0].ChannelID != "dm-"+alice.ID {
		t.Fatalf("expected one reply in the DM channel, got %+v", out)
	}
	if f.d.Reports().Len() != 1 {
		t.Fatalf("expected live session")
	}

	f.dm(alice, "user", "mallory", "9", "1")
	if f.queue.Len() != 0 {
		t.Fatal("report must not be queued before completion")
	}

	f.dm(alice, "no")
	if f.queue.Len() != 1 {
		t.Fatalf("expected 1 queued report, got %d", f.queue.Len())
	}
	if f.d.Reports().Len() != 0 {
		t.Error("completed session must be removed")
	}

	rec := f.queue.List()[0].Record
	if rec.OffenderID() != mallory.ID || rec.AbuseType() != report.AbuseImpersonation {
		t.Errorf("unexpected queued record:\n%s", rec)
	}
}

func TestCancelledReportIsNotQueued(t *testing.T) {
	f := newFixture(t)
	f.dm(alice, "!report", "user", "mallory")

	out := f.dm(alice, "!cancel")
	if texts(out) != "Report cancelled." {
		t.Errorf("unexpected reply %q", texts(out))
	}
	if f.queue.Len() != 0 || f.d.Reports().Len() != 0 {
		t.Error("cancelled report must leave no trace")
	}
}

func TestRestartKeywordIsOrdinaryInput(t *testing.T) {
	f := newFixture(t)
	f.dm(alice, "!report")

	out := f.dm(alice, "!block")
	if !strings.Contains(texts(out), "not a valid response") {
		t.Errorf("expected re-prompt, got %q", texts(out))
	}
	dlg, ok := f.d.Reports().Get(alice.ID)
	if !ok || dlg.State() != report.StateAwaitReportType {
		t.Errorf("expected the original dialogue to be kept")
	}
}

func TestModerationPermanentBan(t *testing.T) {
	f := newFixture(t)
	f.fileUserReport()

	out := f.mod(mod1, "!moderate")
	if len(out) != 2 || out[0].ChannelID != modChannel {
		t.Fatalf("expected summary and question, got %+v", out)
	}
	if !strings.Contains(out[1].Text, "plausible impersonation") {
		t.Errorf("expected plausibility question, got %q", out[1].Text)
	}

	out = f.mod(mod1, "yes", "yes")
	if !strings.Contains(texts(out), "A permanent ban has been issued to `mallory`") {
		t.Errorf("unexpected reply %q", texts(out))
	}

	if f.queue.Len() != 0 {
		t.Error("resolved report must leave the queue")
	}
	if f.d.Moderations().Len() != 0 {
		t.Error("completed moderation must be removed")
	}
	if len(f.archive.saved) != 1 || f.archive.saved[0].Outcome != moderation.OutcomePermanentBan {
		t.Fatalf("expected archived permanent ban, got %+v", f.archive.saved)
	}
	if f.archive.saved[0].ModeratorID != mod1.ID {
		t.Errorf("expected moderator %s, got %s", mod1.ID, f.archive.saved[0].ModeratorID)
	}

	sent := f.dir.Sent()
	if len(sent) != 1 || sent[0].UserID != mallory.ID {
		t.Errorf("expected ban notice to mallory, got %+v", sent)
	}
}

func TestModerationWatchlist(t *testing.T) {
	f := newFixture(t)
	f.dm(alice, "!report", "user", "mallory", "9", "3", "no", "no", "no")
	if f.queue.Len() != 1 {
		t.Fatalf("expected queued report, got %d", f.queue.Len())
	}

	f.mod(mod1, "!moderate", "no")
	out := f.mod(mod1, "no")
	if !strings.Contains(texts(out), "watchlist") {
		t.Errorf("unexpected reply %q", texts(out))
	}

	if recs := f.watchlist.Get(mallory.ID); len(recs) != 1 {
		t.Fatalf("expected mallory on the watchlist, got %d records", len(recs))
	}
	if f.queue.Len() != 0 {
		t.Error("resolved report must leave the queue")
	}

	// A later automatic flag tells moderators about the earlier outcome.
	announce := texts(f.channel(mallory, "I am the real bob, this is my new account"))
	for _, want := range []string{"on the watchlist with 1 earlier report(s)", "Previous outcomes: " + string(moderation.OutcomeWatchlisted)} {
		if !strings.Contains(announce, want) {
			t.Errorf("announcement missing %q:\n%s", want, announce)
		}
	}
}

func TestConcurrentStartsKeepOneSession(t *testing.T) {
	f := newFixture(t)
	f.fileUserReport()
	f.fileUserReport()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.mod(mod1, "!moderate")
		}()
		go func() {
			defer wg.Done()
			f.dm(bob, "!report")
		}()
	}
	wg.Wait()

	if n := f.d.Moderations().Len(); n != 1 {
		t.Errorf("expected one moderation session, got %d", n)
	}
	if n := f.d.Reports().Len(); n != 1 {
		t.Errorf("expected one report session, got %d", n)
	}
	claimed := 0
	for _, e := range f.queue.List() {
		if e.ClaimedBy == mod1.ID {
			claimed++
		}
	}
	if claimed != 1 {
		t.Errorf("expected exactly one claim for %s, got %d", mod1.ID, claimed)
	}
}

func TestModerationEmptyQueue(t *testing.T) {
	f := newFixture(t)

	out := f.mod(mod1, "!moderate")
	if texts(out) != "There are no reports to review." {
		t.Errorf("unexpected reply %q", texts(out))
	}
	if f.d.Moderations().Len() != 0 {
		t.Error("empty-queue moderation must end immediately")
	}
	if len(f.archive.saved) != 0 {
		t.Error("nothing should be archived")
	}
}

func TestModerationClaims(t *testing.T) {
	f := newFixture(t)
	f.fileUserReport()
	f.fileUserReport()

	first := f.mod(mod1, "!moderate")
	second := f.mod(mod2, "!moderate")
	if strings.Contains(texts(second), "no reports") {
		t.Fatal("second moderator should get the second report")
	}
	if texts(first) == texts(second) {
		t.Error("moderators must not review the same report")
	}

	// A third moderator finds nothing unclaimed.
	if out := f.mod(platform.User{ID: "902"}, "!moderate"); !strings.Contains(texts(out), "no reports") {
		t.Errorf("expected empty queue, got %q", texts(out))
	}

	// Cancelling hands the report back.
	f.mod(mod1, "!cancel")
	if f.queue.Len() != 2 {
		t.Fatalf("cancel must keep the report queued, got %d", f.queue.Len())
	}
	if out := f.mod(platform.User{ID: "902"}, "!moderate"); strings.Contains(texts(out), "no reports") {
		t.Error("released report should be claimable again")
	}
}

func TestAutomaticReport(t *testing.T) {
	f := newFixture(t)
	f.bans.offenses[mallory.ID] = 2

	f.channel(bob, "anyone up for a game tonight?")
	out := f.channel(mallory, "I am the real bob, this is my new account")
	if len(out) != 1 || out[0].ChannelID != modChannel {
		t.Fatalf("expected one announcement in the mod channel, got %+v", out)
	}
	announce := out[0].Text
	for _, want := range []string{"`mallory`", report.AbuseImpersonation, "2 recent ban(s)", "bob: anyone up for a game tonight?", "!moderate"} {
		if !strings.Contains(announce, want) {
			t.Errorf("announcement missing %q:\n%s", want, announce)
		}
	}

	if f.queue.Len() != 1 {
		t.Fatalf("expected automatic report in queue, got %d", f.queue.Len())
	}
	rec := f.queue.List()[0].Record
	if !rec.Automatic() || rec.OffenderID() != mallory.ID {
		t.Errorf("unexpected record:\n%s", rec)
	}
	if score, ok := rec.Confidence(); !ok || score <= 0.5 {
		t.Errorf("expected high confidence, got %v (ok=%v)", score, ok)
	}
	if rec.Value(report.FieldMessageLink) != platform.MessageLink("10", "20", "31") {
		t.Errorf("unexpected link %q", rec.Value(report.FieldMessageLink))
	}

	modOut := f.mod(mod1, "!moderate")
	if !strings.Contains(texts(modOut), "clear impersonation violation") {
		t.Errorf("expected automatic review question, got %q", texts(modOut))
	}
}

func TestAutomaticReportConfidenceBoundary(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		low        bool
	}{
		{"at threshold", 0.5, true},
		{"below threshold", 0.42, true},
		{"just above threshold", 0.5001, false},
		{"rounds to threshold at two places", 0.505, false},
		{"above threshold", 0.51, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.d.deps.Scorer = fixedScorer{confidence: tt.confidence}

			if out := f.channel(mallory, "I am the real bob"); len(out) != 1 {
				t.Fatalf("expected an announcement, got %q", texts(out))
			}
			rec := f.queue.List()[0].Record
			if score, ok := rec.Confidence(); !ok || score != tt.confidence {
				t.Fatalf("stored confidence = %v (ok=%v), want %v", score, ok, tt.confidence)
			}

			f.mod(mod1, "!moderate")
			dlg, ok := f.d.Moderations().Get(mod1.ID)
			if !ok {
				t.Fatal("expected an active moderation")
			}
			gotLow := dlg.State() == moderation.StateAwaitReviewLowConfidence
			if gotLow != tt.low {
				t.Errorf("low confidence gate = %v, want %v (state %s)", gotLow, tt.low, dlg.State())
			}
		})
	}
}

func TestCleanChannelMessageIsNotReported(t *testing.T) {
	f := newFixture(t)
	if out := f.channel(bob, "good game everyone"); len(out) != 0 {
		t.Errorf("expected no announcement, got %q", texts(out))
	}
	if f.queue.Len() != 0 {
		t.Error("clean message must not be queued")
	}
}

func TestBannedUserIsDropped(t *testing.T) {
	f := newFixture(t)
	f.bans.banned[alice.ID] = true

	if out := f.dm(alice, "!report"); len(out) != 0 {
		t.Errorf("expected banned user to be ignored, got %q", texts(out))
	}

	// Ban lookups fail open.
	f.bans.err = errors.New("redis down")
	if out := f.dm(alice, "!report"); len(out) == 0 {
		t.Error("expected dialogue to start when the ban check fails")
	}
}

func TestRateLimitedDialogueInput(t *testing.T) {
	f := newFixture(t)
	f.limiter.deny[alice.ID] = true

	if out := f.dm(alice, "!report"); len(out) != 0 {
		t.Errorf("expected throttled message to be dropped, got %q", texts(out))
	}

	// Channel traffic is still scored.
	f.limiter.deny[mallory.ID] = true
	if out := f.channel(mallory, "I am the real bob"); len(out) != 1 {
		t.Errorf("expected channel scoring despite rate limit, got %d replies", len(out))
	}
}

func TestSameUserCanReportAndModerate(t *testing.T) {
	f := newFixture(t)
	f.fileUserReport()

	f.dm(bob, "!report")
	f.mod(bob, "!moderate")
	if f.d.Reports().Len() != 1 || f.d.Moderations().Len() != 1 {
		t.Errorf("expected independent report and moderation sessions, got %d and %d",
			f.d.Reports().Len(), f.d.Moderations().Len())
	}
}

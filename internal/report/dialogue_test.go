package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/platform"
)

var (
	alice   = platform.User{ID: "100", Name: "alice"}
	mallory = platform.User{ID: "200", Name: "mallory"}
	bob     = platform.User{ID: "300", Name: "bob"}
)

func newTestDirectory() *platform.MemoryDirectory {
	dir := platform.NewMemoryDirectory()
	dir.AddMember(alice)
	dir.AddMember(mallory)
	dir.AddMember(bob)
	dir.AddDeletedMember("ghost", "400")
	dir.AddMessage(platform.Message{
		GuildID: "1", ChannelID: "2", ID: "3",
		Author: mallory, Content: "send me your password",
	})
	dir.AddChannel("1", "9")
	return dir
}

func testDeps() Deps {
	dir := newTestDirectory()
	return Deps{Identity: dir, Messages: dir, Logger: zap.NewNop()}
}

// say sends each input as alice and returns the replies to the last one.
func say(t *testing.T, d *Dialogue, inputs ...string) []string {
	t.Helper()
	return sayAs(t, d, alice, inputs...)
}

func sayAs(t *testing.T, d *Dialogue, u platform.User, inputs ...string) []string {
	t.Helper()
	var out []string
	for _, in := range inputs {
		out = d.Handle(context.Background(), Message{AuthorID: u.ID, AuthorName: u.Name, Content: in})
	}
	return out
}

// paths reach every non-terminal state from a fresh dialogue.
var paths = []struct {
	state  State
	block  bool
	inputs []string
}{
	{StateReportStart, false, nil},
	{StateAwaitReportType, false, []string{"!report"}},
	{StateAwaitMessage, false, []string{"!report", "message"}},
	{StateAwaitUser, false, []string{"!report", "user"}},
	{StateAwaitAbuseType, false, []string{"!report", "user", "mallory"}},
	{StateAwaitImpersonationVictim, false, []string{"!report", "user", "mallory", "9"}},
	{StateAwaitHasProfile, false, []string{"!report", "user", "mallory", "9", "3"}},
	{StateAwaitRealProfile, false, []string{"!report", "user", "mallory", "9", "3", "yes"}},
	{StateAwaitRealProfileConfirm, false, []string{"!report", "user", "mallory", "9", "3", "yes", "bob"}},
	{StateAwaitImpersonatingRealPerson, false, []string{"!report", "user", "mallory", "9", "3", "no"}},
	{StateAwaitBlockDecision, false, []string{"!report", "user", "mallory", "1"}},
	{StateBlockStart, true, nil},
	{StateAwaitUserToBlock, true, []string{"!block"}},
	{StateAwaitReportDecision, true, []string{"!block", "mallory"}},
}

func reach(t *testing.T, block bool, inputs []string) *Dialogue {
	t.Helper()
	d := New(testDeps())
	if block {
		d = NewBlock(testDeps())
	}
	say(t, d, inputs...)
	return d
}

func TestPathsReachState(t *testing.T) {
	for _, p := range paths {
		t.Run(p.state.String(), func(t *testing.T) {
			d := reach(t, p.block, p.inputs)
			if d.State() != p.state {
				t.Fatalf("expected state %s, got %s", p.state, d.State())
			}
		})
	}
}

func TestCancelFromEveryState(t *testing.T) {
	for _, p := range paths {
		t.Run(p.state.String(), func(t *testing.T) {
			d := reach(t, p.block, p.inputs)
			replies := say(t, d, "  !CANCEL ")
			if len(replies) != 1 || replies[0] != "Report cancelled." {
				t.Fatalf("expected cancel reply, got %q", replies)
			}
			if !d.Cancelled() {
				t.Fatalf("expected cancelled, got %s", d.State())
			}
			if got := say(t, d, "yes"); got != nil {
				t.Errorf("terminal dialogue replied %q", got)
			}
		})
	}
}

func TestInvalidInputIsIdempotent(t *testing.T) {
	for _, p := range paths {
		if p.state == StateReportStart || p.state == StateBlockStart {
			continue
		}
		t.Run(p.state.String(), func(t *testing.T) {
			d := reach(t, p.block, p.inputs)
			before := d.Record().Len()
			for i := 0; i < 3; i++ {
				replies := say(t, d, "banana")
				if len(replies) != 1 {
					t.Fatalf("expected exactly one reply, got %d", len(replies))
				}
				if d.State() != p.state {
					t.Fatalf("state moved to %s", d.State())
				}
				if d.Record().Len() != before {
					t.Fatalf("record changed from %d to %d fields", before, d.Record().Len())
				}
			}
		})
	}
}

func TestMessageReport(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "Message")
	replies := say(t, d, "https://chat.example/channels/1/2/3")
	if len(replies) != 1 || !strings.Contains(replies[0], "mallory: send me your password") {
		t.Fatalf("expected quoted message, got %q", replies)
	}
	if d.State() != StateAwaitAbuseType {
		t.Fatalf("expected abuse type prompt, got %s", d.State())
	}

	replies = say(t, d, "7")
	if d.State() != StateAwaitBlockDecision {
		t.Fatalf("expected block offer, got %s", d.State())
	}
	if !strings.Contains(replies[0], "misleading content or scams") {
		t.Errorf("expected reason in thank-you, got %q", replies[0])
	}

	say(t, d, "no")
	if !d.Complete() {
		t.Fatalf("expected complete, got %s", d.State())
	}

	r := d.Record()
	want := map[Field]string{
		FieldReporter:         "alice",
		FieldReporterID:       "100",
		FieldReporting:        ReportingMessage,
		FieldOffenderID:       "200",
		FieldOffendingMessage: "send me your password",
		FieldAbuseType:        "misleading content or scams",
	}
	for f, v := range want {
		if got := r.Value(f); got != v {
			t.Errorf("%s = %q, want %q", f, got, v)
		}
	}
	if r.Has(FieldOffenderBlocked) {
		t.Error("declined block must not be recorded")
	}
}

func TestMessageImpersonationRoundTrip(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "message", "https://discord.com/channels/1/2/3", "9", "1")
	if d.State() != StateAwaitBlockDecision {
		t.Fatalf("expected block offer, got %s", d.State())
	}
	say(t, d, "no")
	if !d.Complete() {
		t.Fatalf("expected complete, got %s", d.State())
	}
	if got := d.Record().Value(FieldAbuseType); got != AbuseImpersonation {
		t.Errorf("Abuse type = %q, want %q", got, AbuseImpersonation)
	}
	if got := d.Record().Value(FieldImpersonationVictim); got != VictimMe {
		t.Errorf("Impersonation victim = %q, want %q", got, VictimMe)
	}
}

func TestMessageResolutionFailures(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
	}{
		{"unreadable", "not a link", msgBadLink},
		{"guild unreachable", "/5/2/3", msgGuildUnreachable},
		{"channel missing", "/1/8/3", msgChannelMissing},
		{"message missing", "/1/9/3", msgMessageMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(testDeps())
			say(t, d, "!report", "message")
			replies := say(t, d, tt.link)
			if len(replies) != 1 || replies[0] != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, replies)
			}
			if d.State() != StateAwaitMessage {
				t.Fatalf("expected to stay in await_message, got %s", d.State())
			}
		})
	}
}

func TestUnreachableGuildIsDeadEnd(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "message")
	for i := 0; i < 3; i++ {
		say(t, d, "/5/2/3")
	}
	if d.State() != StateAwaitMessage {
		t.Fatalf("expected await_message, got %s", d.State())
	}
	say(t, d, "!cancel")
	if !d.Cancelled() {
		t.Fatal("expected cancel to end the dead end")
	}
}

func TestUserResolutionFailures(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "user")

	if got := say(t, d, "stranger"); got[0] != msgNotMember {
		t.Errorf("expected not-member reply, got %q", got)
	}
	if got := say(t, d, "ghost"); got[0] != msgNoProfile {
		t.Errorf("expected deleted-profile reply, got %q", got)
	}
	if d.State() != StateAwaitUser {
		t.Errorf("expected await_user, got %s", d.State())
	}
}

type failingResolver struct{}

var errTimeout = errors.New("nats: timeout")

func (failingResolver) ResolveMemberByName(context.Context, string) (string, error) {
	return "", errTimeout
}

func (failingResolver) FetchUser(context.Context, string) (platform.User, error) {
	return platform.User{}, errTimeout
}

func (failingResolver) ResolveMessage(context.Context, string, string, string) (platform.Message, error) {
	return platform.Message{}, errTimeout
}

func TestTransportFailureDoesNotAdvance(t *testing.T) {
	d := New(Deps{Identity: failingResolver{}, Messages: failingResolver{}})
	say(t, d, "!report", "user")
	if got := say(t, d, "mallory"); len(got) != 1 || got[0] != msgPlatform {
		t.Fatalf("expected platform error reply, got %q", got)
	}
	if d.State() != StateAwaitUser {
		t.Fatalf("expected await_user, got %s", d.State())
	}

	d = New(Deps{Identity: failingResolver{}, Messages: failingResolver{}})
	say(t, d, "!report", "message")
	if got := say(t, d, "/1/2/3"); got[0] != msgPlatform {
		t.Fatalf("expected platform error reply, got %q", got)
	}
}

func TestImpersonationRoundTrip(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "user", "mallory", "9", "3", "yes")

	if got := say(t, d, "mallory"); !strings.Contains(got[0], "same user") {
		t.Fatalf("expected offender-as-victim rejection, got %q", got)
	}

	say(t, d, "bob")
	if d.State() != StateAwaitRealProfileConfirm {
		t.Fatalf("expected confirm, got %s", d.State())
	}
	if d.Record().Value(FieldVictimUserID) != "300" {
		t.Fatalf("expected tentative victim id")
	}

	// Rejecting the candidate undoes it.
	say(t, d, "no")
	if d.State() != StateAwaitRealProfile {
		t.Fatalf("expected re-prompt, got %s", d.State())
	}
	if d.Record().Has(FieldVictimUserID) {
		t.Fatal("expected victim id undone")
	}

	say(t, d, "bob")
	replies := say(t, d, "yes")
	if d.State() != StateAwaitBlockDecision {
		t.Fatalf("expected block offer, got %s", d.State())
	}
	if !strings.Contains(replies[0], "block `mallory`") {
		t.Errorf("expected block offer text, got %q", replies[0])
	}

	replies = say(t, d, "yes")
	if !d.Complete() {
		t.Fatalf("expected complete, got %s", d.State())
	}
	if replies[0] != blocked("mallory") {
		t.Errorf("unexpected block reply %q", replies[0])
	}

	want := []Field{
		FieldReporter, FieldReporterID, FieldReporting, FieldOffenderID, FieldOffenderName,
		FieldAbuseType, FieldImpersonationVictim, FieldVictimHasProfile, FieldVictimUserID,
		FieldOffenderBlocked,
	}
	got := d.Record().Fields()
	if len(got) != len(want) {
		t.Fatalf("expected fields %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if d.Record().VictimID() != "300" {
		t.Errorf("expected victim 300, got %q", d.Record().VictimID())
	}
}

func TestImpersonationVictimBranches(t *testing.T) {
	tests := []struct {
		name      string
		inputs    []string
		wantState State
		field     Field
		wantValue string
	}{
		{"me", []string{"1"}, StateAwaitBlockDecision, FieldImpersonationVictim, VictimMe},
		{"someone I know without profile", []string{"2", "no"}, StateAwaitBlockDecision, FieldVictimHasProfile, AnswerNo},
		{"someone I know unsure", []string{"2", "I dont know"}, StateAwaitBlockDecision, FieldVictimHasProfile, Unknown},
		{"someone else without profile", []string{"3", "no", "yes"}, StateAwaitBlockDecision, FieldVictimIsRealPerson, AnswerYes},
		{"someone else unsure", []string{"3", "i don't know", "I don't know"}, StateAwaitBlockDecision, FieldVictimIsRealPerson, Unknown},
		{"victim profile unknown", []string{"3", "yes", "i dont know"}, StateAwaitBlockDecision, FieldVictimUserID, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(testDeps())
			say(t, d, "!report", "user", "mallory", "9")
			say(t, d, tt.inputs...)
			if d.State() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, d.State())
			}
			if got := d.Record().Value(tt.field); got != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.field, got, tt.wantValue)
			}
		})
	}
}

func TestSelfImpersonationRejected(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "user", "alice", "9")
	replies := say(t, d, "1")
	if !strings.Contains(replies[0], "cannot be impersonating yourself") {
		t.Fatalf("expected rejection, got %q", replies)
	}
	if d.State() != StateAwaitImpersonationVictim {
		t.Fatalf("expected to stay, got %s", d.State())
	}

	// Reporting yourself never offers a block.
	say(t, d, "2", "no")
	if !d.Complete() {
		t.Fatalf("expected complete without block offer, got %s", d.State())
	}
}

func TestBlockFlow(t *testing.T) {
	d := NewBlock(testDeps())
	say(t, d, "!block")

	if got := say(t, d, "alice"); !strings.Contains(got[0], "cannot block yourself") {
		t.Fatalf("expected self-block rejection, got %q", got)
	}

	replies := say(t, d, "mallory")
	if !strings.HasPrefix(replies[0], blocked("mallory")) {
		t.Fatalf("expected block confirmation, got %q", replies[0])
	}

	say(t, d, "yes")
	if d.State() != StateAwaitAbuseType {
		t.Fatalf("expected abuse menu, got %s", d.State())
	}

	// Already blocked: the thank-you does not offer another block.
	say(t, d, "2")
	if !d.Complete() {
		t.Fatalf("expected complete, got %s", d.State())
	}
	if d.Record().Value(FieldOffenderBlocked) != AnswerYes {
		t.Error("expected offender marked blocked")
	}
}

func TestBlockWithoutReport(t *testing.T) {
	d := NewBlock(testDeps())
	replies := say(t, d, "!block", "mallory", "No")
	if replies[0] != msgOk {
		t.Fatalf("expected Ok., got %q", replies)
	}
	if !d.Cancelled() {
		t.Fatalf("block without report must not complete, got %s", d.State())
	}
	if d.TakeSnapshot() != nil {
		t.Error("cancelled dialogue must not yield a snapshot")
	}
}

func TestBlockDecisionIdempotence(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "user", "mallory", "1", "yes")
	if !d.Complete() {
		t.Fatalf("expected complete, got %s", d.State())
	}
	fields := d.Record().Len()
	if got := say(t, d, "yes"); got != nil {
		t.Errorf("expected no reply after completion, got %q", got)
	}
	if d.Record().Len() != fields {
		t.Error("record changed after completion")
	}
}

func TestTakeSnapshot(t *testing.T) {
	d := New(testDeps())
	say(t, d, "!report", "user", "mallory", "4", "no")

	snap := d.TakeSnapshot()
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if snap.AbuseType() != "violence or drug abuse" {
		t.Errorf("unexpected abuse type %q", snap.AbuseType())
	}
	if d.Record().Len() != 0 {
		t.Error("expected working record cleared")
	}
	if d.TakeSnapshot() != nil {
		t.Error("second snapshot must be nil")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  YES ", "yes"},
		{"I Dont Know", AnswerDontKnow},
		{"i don't know", AnswerDontKnow},
		{"!Cancel", KeywordCancel},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field is the name of one piece of report data. Names are shown verbatim to
// moderators, so they read as labels rather than identifiers.
type Field string

const (
	FieldReporter              Field = "Reporter"
	FieldReporterID            Field = "Reporter ID"
	FieldReporting             Field = "Reporting"
	FieldMessageLink           Field = "Offending message link"
	FieldOffenderID            Field = "Offending user ID"
	FieldOffenderName          Field = "Offending username"
	FieldOffendingMessage      Field = "Offending message"
	FieldOffenderBlocked       Field = "Offending user blocked"
	FieldAbuseType             Field = "Abuse type"
	FieldImpersonationVictim   Field = "Impersonation victim"
	FieldVictimHasProfile      Field = "Victim has profile"
	FieldVictimUserID          Field = "Victim user ID"
	FieldVictimIsRealPerson    Field = "Victim is a real person"
	FieldConfidence            Field = "Confidence"
	FieldPotentialVictimUserID Field = "Potential victim user ID"
)

// Well-known field values.
const (
	ReportingMessage = "message"
	ReportingUser    = "user"

	// AutomaticReporter is the Reporter value of records filed by the
	// detector rather than a person.
	AutomaticReporter = "automatic bot detection"

	AbuseImpersonation = "impersonation"
	VictimMe           = "me"
	Unknown            = "unknown"
)

type entry struct {
	field Field
	value string
}

// Record is the data accumulated by one report dialogue. Fields keep the
// order in which they were first written. It is not safe for concurrent use;
// the dispatcher serializes access.
type Record struct {
	ID        string
	CreatedAt time.Time

	entries   []entry
	last      int    // index of the most recently written entry, -1 if none
	prev      string // value at last before the write, if it was an overwrite
	overwrote bool
}

// NewRecord returns an empty record with a fresh id.
func NewRecord() *Record {
	return &Record{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		last:      -1,
	}
}

// Set writes value under f. An existing field keeps its position.
func (r *Record) Set(f Field, value string) {
	for i := range r.entries {
		if r.entries[i].field == f {
			r.prev, r.overwrote = r.entries[i].value, true
			r.entries[i].value = value
			r.last = i
			return
		}
	}
	r.entries = append(r.entries, entry{field: f, value: value})
	r.last = len(r.entries) - 1
	r.prev, r.overwrote = "", false
}

// Get returns the value of f and whether it is present.
func (r *Record) Get(f Field) (string, bool) {
	for _, e := range r.entries {
		if e.field == f {
			return e.value, true
		}
	}
	return "", false
}

// Value returns the value of f or "" when absent.
func (r *Record) Value(f Field) string {
	v, _ := r.Get(f)
	return v
}

// Has reports whether f has been written.
func (r *Record) Has(f Field) bool {
	_, ok := r.Get(f)
	return ok
}

// Undo reverts the most recent Set: a newly added field is removed and an
// overwritten one gets its previous value back. Only one step of history is
// kept, so a second Undo without an intervening Set is a no-op.
func (r *Record) Undo() {
	if r.last < 0 || r.last >= len(r.entries) {
		return
	}
	if r.overwrote {
		r.entries[r.last].value = r.prev
	} else {
		r.entries = append(r.entries[:r.last], r.entries[r.last+1:]...)
	}
	r.last, r.prev, r.overwrote = -1, "", false
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.entries)
}

// Fields returns the field names in insertion order.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.field
	}
	return out
}

// Map returns the record as a plain map, e.g. for JSON encoding.
func (r *Record) Map() map[string]string {
	out := make(map[string]string, len(r.entries))
	for _, e := range r.entries {
		out[string(e.field)] = e.value
	}
	return out
}

// Clone returns a shallow snapshot with the same id. The snapshot shares no
// slice storage with r.
func (r *Record) Clone() *Record {
	c := &Record{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		entries:   make([]entry, len(r.entries)),
		last:      -1,
	}
	copy(c.entries, r.entries)
	return c
}

// Clear drops every field. The id is kept.
func (r *Record) Clear() {
	r.entries = nil
	r.last, r.prev, r.overwrote = -1, "", false
}

// String renders the record one "field: value" line per field, in order.
func (r *Record) String() string {
	var b strings.Builder
	for i, e := range r.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(e.field))
		b.WriteString(": ")
		b.WriteString(e.value)
	}
	return b.String()
}

// OffenderID returns the offending user's id.
func (r *Record) OffenderID() string { return r.Value(FieldOffenderID) }

// OffenderName returns the offending user's name.
func (r *Record) OffenderName() string { return r.Value(FieldOffenderName) }

// ReporterID returns the reporting user's id; empty for automatic reports.
func (r *Record) ReporterID() string { return r.Value(FieldReporterID) }

// AbuseType returns the selected abuse type label.
func (r *Record) AbuseType() string { return r.Value(FieldAbuseType) }

// Automatic reports whether the detector filed the record.
func (r *Record) Automatic() bool { return r.Value(FieldReporter) == AutomaticReporter }

// Confidence returns the detector score of an automatic record. ok is false
// when the field is missing or malformed.
func (r *Record) Confidence() (score float64, ok bool) {
	v, found := r.Get(FieldConfidence)
	if !found {
		return 0, false
	}
	score, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

// VictimID returns the id of the person believed to be impersonated, or ""
// when nobody has been identified. A reporter who named themselves as the
// victim counts as identified.
func (r *Record) VictimID() string {
	if v := r.Value(FieldPotentialVictimUserID); v != "" {
		return v
	}
	if v := r.Value(FieldVictimUserID); v != "" && v != Unknown {
		return v
	}
	if r.Value(FieldImpersonationVictim) == VictimMe {
		return r.ReporterID()
	}
	return ""
}

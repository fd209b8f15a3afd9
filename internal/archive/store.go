// Package archive provides PostgreSQL-backed storage for finished
// moderations. Each row captures the report as reviewed, who reviewed it and
// how it ended.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/whisper/modbot/internal/moderation"
)

// validOutcomes matches the CHECK constraint on moderation_results.
var validOutcomes = map[moderation.Outcome]bool{
	moderation.OutcomeNothingToReview: true,
	moderation.OutcomePlaceholder:     true,
	moderation.OutcomeWatchlisted:     true,
	moderation.OutcomeReporterWarned:  true,
	moderation.OutcomePermanentBan:    true,
	moderation.OutcomeTemporaryBan:    true,
}

// Store manages moderation results in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new archive backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the lib/pq driver and pings it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return db, nil
}

// Save inserts a finished moderation. The record snapshot is stored as JSONB.
func (s *Store) Save(ctx context.Context, res *moderation.Result) error {
	if !validOutcomes[res.Outcome] {
		return fmt.Errorf("archive: invalid outcome %q", res.Outcome)
	}

	recordJSON, err := json.Marshal(res.Record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	resolvedAt := res.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now()
	}

	const query = `
		INSERT INTO moderation_results
			(report_id, moderator_id, offender_id, abuse_type, automatic, outcome, watch_target, record, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.ExecContext(ctx, query,
		res.ReportID,
		res.ModeratorID,
		res.OffenderID,
		res.AbuseType,
		res.Automatic,
		string(res.Outcome),
		res.WatchTarget,
		recordJSON,
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: insert: %w", err)
	}
	return nil
}

// History returns the most recent results for offenderID, newest first.
func (s *Store) History(ctx context.Context, offenderID string, limit int) ([]moderation.Result, error) {
	const query = `
		SELECT report_id, moderator_id, offender_id, abuse_type, automatic, outcome, watch_target, record, resolved_at
		FROM moderation_results
		WHERE offender_id = $1
		ORDER BY resolved_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, offenderID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: history: %w", err)
	}
	defer rows.Close()

	var out []moderation.Result
	for rows.Next() {
		var (
			r          moderation.Result
			outcome    string
			recordJSON []byte
		)
		if err := rows.Scan(&r.ReportID, &r.ModeratorID, &r.OffenderID, &r.AbuseType,
			&r.Automatic, &outcome, &r.WatchTarget, &recordJSON, &r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		r.Outcome = moderation.Outcome(outcome)
		if err := json.Unmarshal(recordJSON, &r.Record); err != nil {
			return nil, fmt.Errorf("archive: unmarshal record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

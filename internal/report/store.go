// Package report provides PostgreSQL-backed archival for partner reports.
// Each record captures who reported whom, the room, and a snapshot of the
// recent conversation for moderator review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store manages archived reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Record represents a single partner report to be persisted.
type Record struct {
	ReporterClientID string         `json:"reporter_client_id"`
	ReportedClientID string         `json:"reported_client_id"`
	RoomID           string         `json:"room_id"`
	ReportCount      int            `json:"report_count"` // running count against the reported connection
	Messages         []MessageEntry `json:"messages"`     // recent messages from the room history
	FiledAt          time.Time      `json:"filed_at"`
}

// MessageEntry is one message in the conversation snapshot attached to a report.
type MessageEntry struct {
	From string `json:"from"` // "reporter" or "reported"
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts one report record. Messages are marshalled to JSONB.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	var messagesJSON []byte
	if len(rec.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(rec.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	filedAt := rec.FiledAt
	if filedAt.IsZero() {
		filedAt = time.Now()
	}

	const query = `
		INSERT INTO partner_reports (reporter_client_id, reported_client_id, room_id, report_count, messages, filed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ReporterClientID,
		rec.ReportedClientID,
		rec.RoomID,
		rec.ReportCount,
		messagesJSON,
		filedAt,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a client within the
// given time window. Moderators use this to spot repeat offenders across
// reconnects, which the in-memory counters cannot see.
func (s *Store) CountRecent(ctx context.Context, reportedClientID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM partner_reports
		WHERE reported_client_id = $1
		  AND filed_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedClientID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// Package sqlite keeps an append-only history of triage runs. The history is
// advisory: pipeline outcomes never depend on it.
package sqlite

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"clouddoctor/internal/triage"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS triage_runs (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id      TEXT NOT NULL,
		triggered_by    TEXT DEFAULT '',
		window_minutes  INTEGER NOT NULL,
		logs_fetched    INTEGER NOT NULL DEFAULT 0,
		severity        TEXT DEFAULT '',
		detected_issues TEXT DEFAULT '',
		drafted         INTEGER NOT NULL DEFAULT 0,
		notified        INTEGER NOT NULL DEFAULT 0,
		duration_ms     INTEGER NOT NULL DEFAULT 0,
		error           TEXT DEFAULT '',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_triage_runs_created ON triage_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_triage_runs_request ON triage_runs(request_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return db, nil
}

// RunStore satisfies the orchestrator's RunStore interface.
type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) RecordRun(rec triage.RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO triage_runs (request_id, triggered_by, window_minutes, logs_fetched, severity, detected_issues, drafted, notified, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.TriggeredBy, rec.WindowMinutes, rec.LogsFetched, rec.Severity,
		strings.Join(rec.DetectedIssues, ","), rec.Drafted, rec.Notified, rec.Duration.Milliseconds(), rec.Err,
	)
	return err
}

// RunRow is one stored run, as served by the history endpoint.
type RunRow struct {
	ID             int64     `json:"id"`
	RequestID      string    `json:"request_id"`
	TriggeredBy    string    `json:"triggered_by"`
	WindowMinutes  int       `json:"window_minutes"`
	LogsFetched    int       `json:"logs_fetched"`
	Severity       string    `json:"severity"`
	DetectedIssues []string  `json:"detected_issues"`
	Drafted        bool      `json:"drafted"`
	Notified       bool      `json:"notified"`
	DurationMillis int64     `json:"duration_ms"`
	Err            string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *RunStore) RecentRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, request_id, triggered_by, window_minutes, logs_fetched, severity, detected_issues, drafted, notified, duration_ms, error, created_at
		 FROM triage_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var row RunRow
		var issues string
		if err := rows.Scan(&row.ID, &row.RequestID, &row.TriggeredBy, &row.WindowMinutes, &row.LogsFetched,
			&row.Severity, &issues, &row.Drafted, &row.Notified, &row.DurationMillis, &row.Err, &row.CreatedAt); err != nil {
			return nil, err
		}
		if issues != "" {
			row.DetectedIssues = strings.Split(issues, ",")
		} else {
			row.DetectedIssues = []string{}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Package store handles SQLite persistence for proctoring reports.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/proctor/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound is returned when no report exists for a session id.
var ErrNotFound = errors.New("report not found")

// Store wraps SQLite access for report data.
type Store struct {
	db *sql.DB
}

// Filter narrows report listings. Zero values mean no restriction.
type Filter struct {
	Candidate string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Summary aggregates the stored reports.
type Summary struct {
	TotalReports int            `json:"total_reports"`
	AverageScore float64        `json:"average_score"`
	FlaggedCount int            `json:"flagged_count"`
	LastSevenDay int            `json:"reports_last_7_days"`
	AlertTotals  map[string]int `json:"alert_totals"`
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			session_id TEXT PRIMARY KEY,
			candidate_name TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			total_frames INTEGER NOT NULL,
			looking_away_frames INTEGER NOT NULL,
			mobile_detected_frames INTEGER NOT NULL,
			multiple_people_frames INTEGER NOT NULL,
			no_face_frames INTEGER NOT NULL,
			integrity_score INTEGER NOT NULL,
			deductions TEXT NOT NULL,
			recommendations TEXT NOT NULL,
			generated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS report_alerts (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			details TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_ended_at ON reports(ended_at);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_candidate ON reports(candidate_name);`,
		`CREATE INDEX IF NOT EXISTS idx_report_alerts_type ON report_alerts(type);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport stores a report and its alert log. Saving the same session id
// again replaces the previous report, so retried submissions are safe.
func (s *Store) SaveReport(ctx context.Context, rep model.Report) error {
	deductions, err := json.Marshal(rep.Deductions)
	if err != nil {
		return fmt.Errorf("failed to encode deductions: %w", err)
	}
	recommendations, err := json.Marshal(rep.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO reports (session_id, candidate_name, started_at, ended_at, duration_seconds,
			total_frames, looking_away_frames, mobile_detected_frames, multiple_people_frames, no_face_frames,
			integrity_score, deductions, recommendations, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.SessionID,
		rep.CandidateName,
		rep.StartedAt.Format(time.RFC3339Nano),
		rep.EndedAt.Format(time.RFC3339Nano),
		rep.DurationSeconds,
		rep.TotalFrames,
		rep.Counters.LookingAway,
		rep.Counters.MobileDetected,
		rep.Counters.MultiplePeople,
		rep.Counters.NoFace,
		rep.IntegrityScore,
		string(deductions),
		string(recommendations),
		rep.GeneratedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM report_alerts WHERE session_id = ?`, rep.SessionID); err != nil {
		return err
	}
	if len(rep.Alerts) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO report_alerts (session_id, seq, type, details, timestamp_ms) VALUES (?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for i, a := range rep.Alerts {
			if _, err = stmt.ExecContext(ctx, rep.SessionID, i, a.Type, a.Details, a.Timestamp); err != nil {
				return err
			}
		}
	}

	err = tx.Commit()
	return err
}

// GetReport loads a single report with its full alert log.
func (s *Store) GetReport(ctx context.Context, sessionID string) (model.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, candidate_name, started_at, ended_at, duration_seconds,
			total_frames, looking_away_frames, mobile_detected_frames, multiple_people_frames, no_face_frames,
			integrity_score, deductions, recommendations, generated_at
		 FROM reports WHERE session_id = ?`, sessionID)
	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Report{}, ErrNotFound
		}
		return model.Report{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, details, timestamp_ms FROM report_alerts WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return model.Report{}, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.Type, &a.Details, &a.Timestamp); err != nil {
			return model.Report{}, err
		}
		rep.Alerts = append(rep.Alerts, a)
	}
	if err := rows.Err(); err != nil {
		return model.Report{}, err
	}
	rep.AlertSummary = make(map[string]int, 4)
	for _, a := range rep.Alerts {
		rep.AlertSummary[a.Type]++
	}
	return rep, nil
}

// DeleteReport removes a report and its alerts.
func (s *Store) DeleteReport(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM report_alerts WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// ListReports returns reports matching the filter, newest first, plus the
// total match count before pagination. Alert logs are not loaded; use
// GetReport for the full record.
func (s *Store) ListReports(ctx context.Context, f Filter) ([]model.Report, int, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if f.Candidate != "" {
		clauses = append(clauses, "candidate_name LIKE ?")
		args = append(args, "%"+f.Candidate+"%")
	}
	if f.From != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, f.From.Format(time.RFC3339Nano))
	}
	if f.To != nil {
		clauses = append(clauses, "ended_at <= ?")
		args = append(args, f.To.Format(time.RFC3339Nano))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM reports WHERE %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT session_id, candidate_name, started_at, ended_at, duration_seconds,
			total_frames, looking_away_frames, mobile_detected_frames, multiple_people_frames, no_face_frames,
			integrity_score, deductions, recommendations, generated_at
		 FROM reports WHERE %s ORDER BY ended_at DESC`, where)
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var reports []model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

// Summarize aggregates all stored reports for the summary endpoint.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	summary := Summary{AlertTotals: map[string]int{}}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(integrity_score), 0),
			COALESCE(SUM(CASE WHEN integrity_score < 60 THEN 1 ELSE 0 END), 0)
		 FROM reports`)
	if err := row.Scan(&summary.TotalReports, &summary.AverageScore, &summary.FlaggedCount); err != nil {
		return Summary{}, err
	}

	weekAgo := time.Now().AddDate(0, 0, -7).Format(time.RFC3339Nano)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE ended_at >= ?`, weekAgo).Scan(&summary.LastSevenDay); err != nil {
		return Summary{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM report_alerts GROUP BY type`)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		var alertType string
		var count int
		if err := rows.Scan(&alertType, &count); err != nil {
			return Summary{}, err
		}
		summary.AlertTotals[alertType] = count
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (model.Report, error) {
	var rep model.Report
	var startedAt, endedAt, generatedAt string
	var deductions, recommendations string
	if err := row.Scan(
		&rep.SessionID,
		&rep.CandidateName,
		&startedAt,
		&endedAt,
		&rep.DurationSeconds,
		&rep.TotalFrames,
		&rep.Counters.LookingAway,
		&rep.Counters.MobileDetected,
		&rep.Counters.MultiplePeople,
		&rep.Counters.NoFace,
		&rep.IntegrityScore,
		&deductions,
		&recommendations,
		&generatedAt,
	); err != nil {
		return model.Report{}, err
	}
	rep.Counters.TotalFrames = rep.TotalFrames

	var err error
	if rep.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return model.Report{}, err
	}
	if rep.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return model.Report{}, err
	}
	if rep.GeneratedAt, err = time.Parse(time.RFC3339Nano, generatedAt); err != nil {
		return model.Report{}, err
	}
	if err := json.Unmarshal([]byte(deductions), &rep.Deductions); err != nil {
		return model.Report{}, fmt.Errorf("failed to decode deductions: %w", err)
	}
	if err := json.Unmarshal([]byte(recommendations), &rep.Recommendations); err != nil {
		return model.Report{}, fmt.Errorf("failed to decode recommendations: %w", err)
	}
	return rep, nil
}

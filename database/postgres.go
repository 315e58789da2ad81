package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"smart-prefetch/models"
)

// PostgresDB is the prefetch outcome log. Each settled attempt becomes one
// row keyed by the session that issued it.
type PostgresDB struct {
	DB *sql.DB
}

type Session struct {
	ID         uuid.UUID
	PageURL    string
	Tier       models.DeviceTier
	Connection models.ConnectionClass
	StartedAt  time.Time
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pgDB := &PostgresDB{DB: db}
	if err := pgDB.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return pgDB, nil
}

func (p *PostgresDB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS prefetch_sessions (
			id UUID PRIMARY KEY,
			page_url TEXT NOT NULL,
			tier TEXT NOT NULL,
			connection TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prefetch_outcomes (
			id SERIAL PRIMARY KEY,
			session_id UUID REFERENCES prefetch_sessions(id),
			url TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			priority INTEGER NOT NULL,
			reason TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			timed_out BOOLEAN DEFAULT FALSE,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			duration_ms BIGINT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prefetch_outcomes_session ON prefetch_outcomes(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_prefetch_outcomes_url ON prefetch_outcomes(url)`,
	}

	for _, query := range queries {
		if _, err := p.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}

func (p *PostgresDB) StartSession(ctx context.Context, s Session) error {
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO prefetch_sessions (id, page_url, tier, connection, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		s.ID.String(), s.PageURL, s.Tier.String(), s.Connection.String(), s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to start session %s: %w", s.ID, err)
	}
	return nil
}

const insertOutcome = `
	INSERT INTO prefetch_outcomes (session_id, url, resource_type, priority, reason, state, attempts, timed_out, started_at, completed_at, duration_ms, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func outcomeArgs(session uuid.UUID, rec models.PrefetchRecord) []interface{} {
	return []interface{}{
		session.String(), rec.URL, string(rec.Type), int(rec.Priority), string(rec.Reason),
		string(rec.State), rec.Attempts, rec.TimedOut, nullTime(rec.StartedAt), nullTime(rec.CompletedAt),
		rec.LoadTime().Milliseconds(), rec.Err,
	}
}

// SaveOutcomes writes a batch of outcomes in one transaction.
func (p *PostgresDB) SaveOutcomes(ctx context.Context, session uuid.UUID, recs []models.PrefetchRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertOutcome)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, outcomeArgs(session, rec)...); err != nil {
			return fmt.Errorf("failed to save outcome for %s: %w", rec.URL, err)
		}
	}

	return tx.Commit()
}

// Outcomes returns every logged attempt of a session, oldest first.
func (p *PostgresDB) Outcomes(ctx context.Context, session uuid.UUID) ([]models.PrefetchRecord, error) {
	query := `
		SELECT url, resource_type, priority, reason, state, attempts, timed_out, started_at, completed_at, error
		FROM prefetch_outcomes
		WHERE session_id = $1
		ORDER BY id ASC
	`

	rows, err := p.DB.QueryContext(ctx, query, session.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.PrefetchRecord
	for rows.Next() {
		var (
			rec                models.PrefetchRecord
			typ, reason, state string
			priority           int
			started, completed sql.NullTime
			errText            sql.NullString
		)
		err := rows.Scan(&rec.URL, &typ, &priority, &reason, &state, &rec.Attempts, &rec.TimedOut, &started, &completed, &errText)
		if err != nil {
			return nil, err
		}
		rec.Type = models.ResourceType(typ)
		rec.Priority = models.Priority(priority)
		rec.Reason = models.Reason(reason)
		rec.State = models.PrefetchState(state)
		rec.Retried = rec.Attempts > 1
		rec.StartedAt = started.Time
		rec.CompletedAt = completed.Time
		rec.Err = errText.String
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// SessionSummary aggregates the logged attempts of a session.
func (p *PostgresDB) SessionSummary(ctx context.Context, session uuid.UUID) (models.SessionStats, error) {
	recs, err := p.Outcomes(ctx, session)
	if err != nil {
		return models.SessionStats{}, fmt.Errorf("failed to load session %s: %w", session, err)
	}
	return Summarize(recs), nil
}

// Summarize folds settled attempts into session counters. Every row is one
// issued attempt; a second attempt counts as a retry.
func Summarize(recs []models.PrefetchRecord) models.SessionStats {
	stats := models.SessionStats{
		ByReason:   make(map[models.Reason]int),
		ByPriority: make(map[models.Priority]int),
	}

	var total time.Duration
	var first, last time.Time
	for _, rec := range recs {
		stats.Issued++
		stats.ByReason[rec.Reason]++
		stats.ByPriority[rec.Priority]++
		if rec.Attempts > 1 {
			stats.Retried++
		}
		if rec.TimedOut {
			stats.TimedOut++
		}
		switch rec.State {
		case models.StateDone:
			stats.Done++
			total += rec.LoadTime()
		case models.StateFailed:
			stats.Failed++
		}
		if !rec.StartedAt.IsZero() && (first.IsZero() || rec.StartedAt.Before(first)) {
			first = rec.StartedAt
		}
		if rec.CompletedAt.After(last) {
			last = rec.CompletedAt
		}
	}

	if stats.Done > 0 {
		stats.AvgLoadTime = total / time.Duration(stats.Done)
	}
	if !first.IsZero() && last.After(first) {
		stats.Duration = last.Sub(first)
	}
	return stats
}

func (p *PostgresDB) Close() error {
	return p.DB.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

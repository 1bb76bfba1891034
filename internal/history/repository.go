// Package history persists every interaction and its outcome for the ops API.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/interaction"
)

// ErrNotFound is returned by Get for an unknown interaction ID.
var ErrNotFound = errors.New("interaction not found")

const columns = `id, platform_id, caller, command, params, phase, job_id, error_kind, message,
	late_result, created_at, acknowledged_at, completed_at`

// Repository stores interaction records in the history database.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new history repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts a record. An empty LateResult never overwrites a stored one.
func (r *Repository) Save(ctx context.Context, rec interaction.Record) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if rec.Params == nil {
		params = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO interactions (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			job_id = excluded.job_id,
			error_kind = excluded.error_kind,
			message = excluded.message,
			late_result = CASE WHEN excluded.late_result = '' THEN interactions.late_result ELSE excluded.late_result END,
			acknowledged_at = excluded.acknowledged_at,
			completed_at = excluded.completed_at`,
		rec.ID, rec.PlatformID, rec.Caller, rec.Command, string(params), string(rec.Phase),
		rec.JobID, string(rec.ErrorKind), rec.Message, rec.LateResult,
		rec.CreatedAt.UnixMilli(), unixMilli(rec.AcknowledgedAt), unixMilli(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save interaction %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one record by interaction ID.
func (r *Repository) Get(ctx context.Context, id string) (*interaction.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM interactions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the most recent records, newest first. Optional command filters by name.
func (r *Repository) List(ctx context.Context, limit int, command string) ([]interaction.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + columns + ` FROM interactions`
	args := []interface{}{}
	if command != "" {
		query += ` WHERE command = ?`
		args = append(args, command)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	var out []interaction.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats summarises stored interactions.
type Stats struct {
	Total        int                   `json:"total"`
	ByPhase      map[string]int        `json:"by_phase"`
	ByErrorKind  map[classify.Kind]int `json:"by_error_kind"`
	LateResults  int                   `json:"late_results"`
	AvgLatencyMs float64               `json:"avg_latency_ms"`
	P50LatencyMs float64               `json:"p50_latency_ms"`
	P95LatencyMs float64               `json:"p95_latency_ms"`
}

// Stats counts interactions by phase and error kind.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByPhase:     make(map[string]int),
		ByErrorKind: make(map[classify.Kind]int),
	}

	rows, err := r.db.QueryContext(ctx, `SELECT phase, error_kind, COUNT(*) FROM interactions GROUP BY phase, error_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var phase, kind string
		var n int
		if err := rows.Scan(&phase, &kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Total += n
		stats.ByPhase[phase] += n
		if kind != "" {
			stats.ByErrorKind[classify.Kind(kind)] += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE late_result != ''`).Scan(&stats.LateResults)
	if err != nil {
		return nil, fmt.Errorf("failed to count late results: %w", err)
	}

	latencies, err := r.latencies(ctx)
	if err != nil {
		return nil, err
	}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.AvgLatencyMs = stat.Mean(latencies, nil)
		stats.P50LatencyMs = stat.Quantile(0.5, stat.Empirical, latencies, nil)
		stats.P95LatencyMs = stat.Quantile(0.95, stat.Empirical, latencies, nil)
	}
	return stats, nil
}

// latencies returns receipt-to-follow-up durations of finished interactions in milliseconds.
func (r *Repository) latencies(ctx context.Context) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT completed_at - created_at FROM interactions WHERE completed_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latencies: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("failed to scan latency: %w", err)
		}
		out = append(out, float64(ms))
	}
	return out, rows.Err()
}

// Prune deletes records created before now - olderThan and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, `DELETE FROM interactions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune interactions: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*interaction.Record, error) {
	var (
		rec              interaction.Record
		params           string
		phase, errorKind string
		created          int64
		acked, completed sql.NullInt64
	)
	err := s.Scan(&rec.ID, &rec.PlatformID, &rec.Caller, &rec.Command, &params, &phase,
		&rec.JobID, &errorKind, &rec.Message, &rec.LateResult, &created, &acked, &completed)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params for %s: %w", rec.ID, err)
	}
	rec.Phase = interaction.Phase(phase)
	rec.ErrorKind = classify.Kind(errorKind)
	rec.CreatedAt = time.UnixMilli(created)
	rec.AcknowledgedAt = fromMilli(acked)
	rec.CompletedAt = fromMilli(completed)
	return &rec, nil
}

func unixMilli(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMilli(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run matches an id.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the parity suite against an environment.
type Run struct {
	ID          string     `json:"id"`
	Environment string     `json:"environment"`
	Suite       string     `json:"suite"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Total       int        `json:"total"`
	Passed      int        `json:"passed"`
	Failed      int        `json:"failed"`
	Errors      int        `json:"errors"`
}

// Finished reports whether FinishRun was called for the run.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// PassRate returns the passed share in percent, 0 for an empty run.
func (r *Run) PassRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total) * 100
}

// Result is the stored verdict for one compared request.
type Result struct {
	RunID       string    `json:"run_id"`
	Endpoint    string    `json:"endpoint"`
	Path        string    `json:"path"`
	Params      string    `json:"params,omitempty"`
	Equal       bool      `json:"equal"`
	Status1     int       `json:"status1"`
	Status2     int       `json:"status2"`
	Duration1Ms float64   `json:"duration1_ms"`
	Duration2Ms float64   `json:"duration2_ms"`
	Differences []string  `json:"differences"`
	CreatedAt   time.Time `json:"created_at"`
}

// FailedEndpoint groups the failing results of a run by endpoint.
type FailedEndpoint struct {
	Endpoint string    `json:"endpoint"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
	// Paths holds the failing request paths, most recent first.
	Paths    []string  `json:"paths"`
	Failures []*Result `json:"failures"`
}

// BeginRun records the start of a run and returns it with a fresh id.
func (c *Client) BeginRun(ctx context.Context, environment, suite string) (*Run, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	run := &Run{
		ID:          uuid.NewString(),
		Environment: environment,
		Suite:       suite,
		StartedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, environment, suite, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Environment, run.Suite, run.StartedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordResult stores one result under its run.
func (c *Client) RecordResult(ctx context.Context, r *Result) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	diffs := r.Differences
	if diffs == nil {
		diffs = []string{}
	}
	data, err := json.Marshal(diffs)
	if err != nil {
		return fmt.Errorf("encode differences: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO results (run_id, endpoint, path, params, equal, status1, status2, duration1, duration2, differences, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Endpoint, r.Path, r.Params, r.Equal, r.Status1, r.Status2,
		r.Duration1Ms, r.Duration2Ms, string(data), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// FinishRun stores the final counts of a run.
func (c *Client) FinishRun(ctx context.Context, run *Run) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	finished := time.Now().UTC().Truncate(time.Millisecond)
	res, err := c.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, total = ?, passed = ?, failed = ?, errors = ? WHERE id = ?`,
		finished.UnixMilli(), run.Total, run.Passed, run.Failed, run.Errors, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	run.FinishedAt = &finished
	return nil
}

const runColumns = `id, environment, suite, started_at, finished_at, total, passed, failed, errors`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		r          Run
		started    int64
		finishedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Environment, &r.Suite, &started, &finishedAt, &r.Total, &r.Passed, &r.Failed, &r.Errors); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}

// Runs returns the most recent runs first. A limit of 0 or less returns
// every run.
func (c *Client) Runs(ctx context.Context, limit int) ([]*Run, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// Run looks a run up by id or by a unique id prefix.
func (c *Client) Run(ctx context.Context, id string) (*Run, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`,
		id, id+"%", id)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case found[0].ID == id || len(found) == 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// LatestRun returns the most recent run, optionally limited to one
// environment, or ErrRunNotFound.
func (c *Client) LatestRun(ctx context.Context, environment string) (*Run, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM runs WHERE finished_at IS NOT NULL`
	args := []any{}
	if environment != "" {
		query += ` AND environment = ?`
		args = append(args, environment)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT 1`

	r, err := scanRun(c.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	return r, nil
}

// Results returns every result of a run in insertion order.
func (c *Client) Results(ctx context.Context, runID string) ([]*Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	return scanResults(rows)
}

// FailureFilter narrows FailedEndpoints. Zero fields match everything.
type FailureFilter struct {
	RunID string
	Since time.Time
	// Endpoint matches an endpoint name exactly or a request path prefix.
	Endpoint string
}

func (f FailureFilter) match(r *Result) bool {
	if f.Endpoint == "" {
		return true
	}
	return r.Endpoint == f.Endpoint || strings.HasPrefix(strings.TrimPrefix(r.Path, "/"), strings.TrimPrefix(f.Endpoint, "/"))
}

// FailedEndpoints groups unequal results by endpoint, most failures first.
func (c *Client) FailedEndpoints(ctx context.Context, f FailureFilter) ([]*FailedEndpoint, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + resultColumns + ` FROM results WHERE equal = 0`
	args := []any{}
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UnixMilli())
	}
	query += ` ORDER BY id DESC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}

	byName := map[string]*FailedEndpoint{}
	var order []*FailedEndpoint
	for _, r := range results {
		if !f.match(r) {
			continue
		}
		fe, ok := byName[r.Endpoint]
		if !ok {
			fe = &FailedEndpoint{Endpoint: r.Endpoint, LastSeen: r.CreatedAt}
			byName[r.Endpoint] = fe
			order = append(order, fe)
		}
		fe.Count++
		fe.Failures = append(fe.Failures, r)
		path := r.Path
		if r.Params != "" {
			path += "?" + r.Params
		}
		fe.Paths = append(fe.Paths, path)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Count > order[j].Count
	})
	return order, nil
}

const resultColumns = `run_id, endpoint, path, params, equal, status1, status2, duration1, duration2, differences, created_at`

func scanResults(rows *sql.Rows) ([]*Result, error) {
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var (
			r       Result
			diffs   string
			created int64
		)
		if err := rows.Scan(&r.RunID, &r.Endpoint, &r.Path, &r.Params, &r.Equal, &r.Status1, &r.Status2,
			&r.Duration1Ms, &r.Duration2Ms, &diffs, &created); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(diffs), &r.Differences); err != nil {
			return nil, fmt.Errorf("decode differences: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}

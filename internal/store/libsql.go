package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowfunc/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowfunc.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	if !strings.HasPrefix(dbPath, "file:") && !strings.Contains(dbPath, "://") {
		dbPath = "file:" + dbPath
	}
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, storeError("open libsql database", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Open opens the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*LibSQLStore, error) {
	s, err := NewLibSQLStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return storeError("migrate", err)
	}
	return nil
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

// RecordRun inserts the summary, replacing an earlier record of the same run.
func (s *LibSQLStore) RecordRun(ctx context.Context, sum *schema.Summary) error {
	if sum == nil || sum.RunID == "" {
		return schema.NewError(schema.ErrCodeStore, "run summary without run id")
	}
	userParams, err := marshalMap(sum.UserParams)
	if err != nil {
		return storeError("marshal user_params", err)
	}
	resolved, err := marshalMap(sum.ResolvedParams)
	if err != nil {
		return storeError("marshal resolved_params", err)
	}
	artifacts, err := marshalMap(sum.Artifacts)
	if err != nil {
		return storeError("marshal artifacts", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_name, workflow_file, status, run_dir, output_dir, start_time, end_time, error_message, user_params, resolved_params, artifacts, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   workflow_name=excluded.workflow_name, workflow_file=excluded.workflow_file, status=excluded.status,
		   run_dir=excluded.run_dir, output_dir=excluded.output_dir, start_time=excluded.start_time,
		   end_time=excluded.end_time, error_message=excluded.error_message, user_params=excluded.user_params,
		   resolved_params=excluded.resolved_params, artifacts=excluded.artifacts, recorded_at=excluded.recorded_at`,
		sum.RunID, sum.WorkflowName, sum.WorkflowFile, string(sum.Status),
		nullStr(sum.RunDir), nullStr(sum.OutputDir), nullTime(sum.StartTime), nullTime(sum.EndTime),
		nullStr(sum.ErrorMessage), userParams, resolved, artifacts, s.now(),
	)
	if err != nil {
		return storeError("record run "+sum.RunID, err)
	}
	return nil
}

const runColumns = `run_id, workflow_name, workflow_file, status, run_dir, output_dir, start_time, end_time, error_message, user_params, resolved_params, artifacts`

// GetRun returns the recorded summary of a run.
func (s *LibSQLStore) GetRun(ctx context.Context, runID string) (*schema.Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	sum, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", runID)
	}
	if err != nil {
		return nil, storeError("get run "+runID, err)
	}
	return sum, nil
}

// ListRuns returns recorded runs matching filter, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Summary, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var where []string
	var args []any

	if filter.Workflow != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "start_time >= ?")
		args = append(args, *filter.Since)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC, run_id DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list runs", err)
	}
	defer rows.Close()

	var runs []*schema.Summary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, storeError("scan run", err)
		}
		runs = append(runs, sum)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its stage events.
func (s *LibSQLStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin delete run", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return storeError("delete run "+runID, err)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, runID); err != nil {
		return storeError("delete run events "+runID, err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit delete run", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*schema.Summary, error) {
	sum := &schema.Summary{}
	var (
		status                             string
		runDir, outputDir, errMsg          sql.NullString
		startTime, endTime                 sql.NullTime
		userParams, resolved, artifactsRaw string
	)
	if err := row.Scan(&sum.RunID, &sum.WorkflowName, &sum.WorkflowFile, &status, &runDir, &outputDir,
		&startTime, &endTime, &errMsg, &userParams, &resolved, &artifactsRaw); err != nil {
		return nil, err
	}
	sum.Status = schema.RunStatus(status)
	sum.RunDir = runDir.String
	sum.OutputDir = outputDir.String
	sum.ErrorMessage = errMsg.String
	sum.StartTime = timePtr(startTime)
	sum.EndTime = timePtr(endTime)

	if err := json.Unmarshal([]byte(userParams), &sum.UserParams); err != nil {
		return nil, fmt.Errorf("unmarshal user_params: %w", err)
	}
	if err := json.Unmarshal([]byte(resolved), &sum.ResolvedParams); err != nil {
		return nil, fmt.Errorf("unmarshal resolved_params: %w", err)
	}
	if err := json.Unmarshal([]byte(artifactsRaw), &sum.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	return sum, nil
}

// --- Stage events ---

// AppendStageEvent appends ev with the next sequence number of its run.
func (s *LibSQLStore) AppendStageEvent(ctx context.Context, ev schema.StageEvent) (int64, error) {
	if ev.RunID == "" {
		return 0, schema.NewError(schema.ErrCodeStore, "stage event without run id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin append stage event", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, ev.RunID,
	).Scan(&seq); err != nil {
		return 0, storeError("next stage event sequence", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, sequence, stage, event_type, duration_ms, error, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, seq, string(ev.Stage), string(ev.Type), ev.Duration.Milliseconds(), nullStr(ev.Error), ev.Timestamp.UTC(),
	); err != nil {
		return 0, storeError("insert stage event", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeError("commit stage event", err)
	}
	return seq, nil
}

// ListStageEvents returns a run's stage events ordered by sequence.
func (s *LibSQLStore) ListStageEvents(ctx context.Context, runID string) ([]*StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sequence, stage, event_type, duration_ms, error, timestamp FROM run_events WHERE run_id = ? ORDER BY sequence`,
		runID)
	if err != nil {
		return nil, storeError("list stage events", err)
	}
	defer rows.Close()

	var out []*StageRecord
	for rows.Next() {
		r := &StageRecord{}
		var stage, typ string
		var durationMs int64
		var errMsg sql.NullString
		if err := rows.Scan(&r.RunID, &r.Sequence, &stage, &typ, &durationMs, &errMsg, &r.Timestamp); err != nil {
			return nil, storeError("scan stage event", err)
		}
		r.Stage = schema.Stage(stage)
		r.Type = schema.StageEventType(typ)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Scheduled runs ---

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	params, err := marshalMap(run.Params)
	if err != nil {
		return storeError("marshal scheduled run params", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, workflow_file, run_name, cron_expression, params, enabled, last_run_at, next_run_at, last_run_id, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowFile, nullStr(run.RunName), run.CronExpression, params, run.Enabled,
		nullTime(run.LastRunAt), nullTime(run.NextRunAt), nullStr(run.LastRunID), nullStr(string(run.LastRunStatus)),
		run.CreatedAt,
	)
	if err != nil {
		return storeError("create scheduled run "+run.ID, err)
	}
	return nil
}

const scheduledColumns = `id, workflow_file, run_name, cron_expression, params, enabled, last_run_at, next_run_at, last_run_id, last_run_status, created_at`

func (s *LibSQLStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_runs WHERE id = ?`, id)
	run, err := scanScheduled(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled run", id)
	}
	if err != nil {
		return nil, storeError("get scheduled run "+id, err)
	}
	return run, nil
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunID != nil {
		sets = append(sets, "last_run_id = ?")
		args = append(args, *update.LastRunID)
	}
	if update.LastRunStatus != nil {
		sets = append(sets, "last_run_status = ?")
		args = append(args, string(*update.LastRunStatus))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE scheduled_runs SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return storeError("update scheduled run "+id, err)
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	query := `SELECT ` + scheduledColumns + ` FROM scheduled_runs`
	var args []any
	if filter.Enabled != nil {
		query += " WHERE enabled = ?"
		args = append(args, *filter.Enabled)
	}
	query += " ORDER BY created_at, id"
	query += limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list scheduled runs", err)
	}
	defer rows.Close()

	var out []*ScheduledRun
	for rows.Next() {
		run, err := scanScheduled(rows)
		if err != nil {
			return nil, storeError("scan scheduled run", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return storeError("delete scheduled run "+id, err)
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func scanScheduled(row scanner) (*ScheduledRun, error) {
	run := &ScheduledRun{}
	var (
		runName, lastRunID, lastStatus sql.NullString
		params                         string
		lastRunAt, nextRunAt           sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.WorkflowFile, &runName, &run.CronExpression, &params, &run.Enabled,
		&lastRunAt, &nextRunAt, &lastRunID, &lastStatus, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.RunName = runName.String
	run.LastRunID = lastRunID.String
	run.LastRunStatus = schema.RunStatus(lastStatus.String)
	run.LastRunAt = timePtr(lastRunAt)
	run.NextRunAt = timePtr(nextRunAt)
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if len(run.Params) == 0 {
		run.Params = nil
	}
	return run, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(msg string, err error) *schema.FlowError {
	return schema.NewError(schema.ErrCodeStore, msg).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func limitClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalMap[V any](m map[string]V) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

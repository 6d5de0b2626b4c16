// Package state persists workflows and steps in SQLite.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Mowd/claude-dashboard/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

const timeLayout = time.RFC3339Nano

// Store implements core.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies pending
// migrations. WAL mode for concurrent readers while the engine writes.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// CreateWorkflow persists the workflow and one step per role in a
// single transaction, so a crash never leaves a half-created workflow.
func (s *Store) CreateWorkflow(ctx context.Context, wf *core.Workflow, plan []core.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, title, user_prompt, status, current_step_index, project_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Title, wf.Task, string(wf.Status), wf.CurrentStage, wf.ProjectPath,
		wf.CreatedAt.Format(timeLayout), wf.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}

	planned := make(map[core.Role]bool, len(plan))
	for _, r := range plan {
		planned[r] = true
	}
	for _, role := range core.AllRoles {
		status := core.StepSkipped
		if planned[role] {
			status = core.StepPending
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_steps (id, workflow_id, role, status)
			VALUES (?, ?, ?, ?)`,
			uuid.NewString(), wf.ID, string(role), string(status))
		if err != nil {
			return fmt.Errorf("inserting step %s: %w", role, err)
		}
	}

	return tx.Commit()
}

// UpdateWorkflowStatus transitions a workflow. A terminal status is
// final: once completed, failed or cancelled is on disk the row stops
// accepting updates, so a lagging pipeline write racing a cancel can
// never flip the workflow back to running. completed_at is written
// when the workflow turns terminal.
func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, status core.WorkflowStatus, currentStage *int) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET
			status = ?,
			updated_at = ?,
			current_step_index = COALESCE(?, current_step_index),
			completed_at = CASE WHEN ? AND completed_at IS NULL THEN ? ELSE completed_at END
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
		string(status), now, currentStage, status.IsTerminal(), now, id)
	if err != nil {
		return fmt.Errorf("updating workflow status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nothing matched: either the workflow does not exist, or it is
	// already terminal and the update is silently ignored.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return core.ErrNotFound("workflow", id)
	}
	if err != nil {
		return fmt.Errorf("checking workflow status: %w", err)
	}
	return nil
}

// GetWorkflow loads one workflow.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*core.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, user_prompt, status, current_step_index, project_path, created_at, updated_at, completed_at
		FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("workflow", id)
	}
	return wf, err
}

// ListWorkflows returns workflows newest first, narrowed by the
// filter. A zero limit defaults to 50.
func (s *Store) ListWorkflows(ctx context.Context, f core.ListFilter) ([]*core.Workflow, error) {
	where, args := listWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, user_prompt, status, current_step_index, project_path, created_at, updated_at, completed_at
		FROM workflows `+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var out []*core.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// CountWorkflows counts workflows matching the filter.
func (s *Store) CountWorkflows(ctx context.Context, f core.ListFilter) (int, error) {
	where, args := listWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting workflows: %w", err)
	}
	return n, nil
}

func listWhere(f core.ListFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Query != "" {
		conds = append(conds, "(title LIKE ? OR user_prompt LIKE ?)")
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// StepsForWorkflow returns the workflow's steps in canonical role
// order (pm, rd, ui, test, sec).
func (s *Store) StepsForWorkflow(ctx context.Context, workflowID string) ([]*core.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, role, status, prompt, output, error, retry_count,
		       duration_ms, tokens_in, tokens_out, started_at, completed_at
		FROM agent_steps
		WHERE workflow_id = ?
		ORDER BY CASE role
			WHEN 'pm' THEN 0
			WHEN 'rd' THEN 1
			WHEN 'ui' THEN 2
			WHEN 'test' THEN 3
			WHEN 'sec' THEN 4
			ELSE 5
		END`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading steps: %w", err)
	}
	defer rows.Close()

	var out []*core.Step
	for rows.Next() {
		var (
			st                       core.Step
			role, status             string
			prompt, output, stepErr  sql.NullString
			durationMS               sql.NullInt64
			tokensIn, tokensOut      sql.NullInt64
			startedAt, completedAt   sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.WorkflowID, &role, &status, &prompt, &output, &stepErr,
			&st.RetryCount, &durationMS, &tokensIn, &tokensOut, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		st.Role = core.Role(role)
		st.Status = core.StepStatus(status)
		st.Prompt = prompt.String
		st.Output = output.String
		st.Error = stepErr.String
		if durationMS.Valid {
			v := durationMS.Int64
			st.DurationMS = &v
		}
		if tokensIn.Valid {
			v := int(tokensIn.Int64)
			st.TokensIn = &v
		}
		if tokensOut.Valid {
			v := int(tokensOut.Int64)
			st.TokensOut = &v
		}
		st.StartedAt = parseNullTime(startedAt)
		st.CompletedAt = parseNullTime(completedAt)
		out = append(out, &st)
	}
	return out, rows.Err()
}

// UpdateStep applies a sparse update; nil fields leave their columns
// untouched.
func (s *Store) UpdateStep(ctx context.Context, stepID string, upd core.StepUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Prompt != nil {
		add("prompt", *upd.Prompt)
	}
	if upd.Output != nil {
		add("output", *upd.Output)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.RetryCount != nil {
		add("retry_count", *upd.RetryCount)
	}
	if upd.DurationMS != nil {
		add("duration_ms", *upd.DurationMS)
	}
	if upd.TokensIn != nil {
		add("tokens_in", *upd.TokensIn)
	}
	if upd.TokensOut != nil {
		add("tokens_out", *upd.TokensOut)
	}
	if upd.StartedAt != nil {
		add("started_at", upd.StartedAt.Format(timeLayout))
	}
	if upd.CompletedAt != nil {
		add("completed_at", upd.CompletedAt.Format(timeLayout))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, stepID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE agent_steps SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("step", stepID)
	}
	return nil
}

// Metrics aggregates workflow counts and the average wall-clock
// duration of completed workflows.
func (s *Store) Metrics(ctx context.Context) (*core.Metrics, error) {
	m := &core.Metrics{ByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM workflows GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("aggregating statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		m.ByStatus[status] = n
		m.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(completed_at) - julianday(created_at)) * 86400.0)
		FROM workflows
		WHERE status = 'completed' AND completed_at IS NOT NULL`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("averaging durations: %w", err)
	}
	if avg.Valid {
		m.AvgDurationSec = avg.Float64
	}
	return m, nil
}

// DeleteTerminalBefore removes terminal workflows last touched before
// the cutoff; steps go with them via the cascade.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflows
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("deleting terminal workflows: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkOrphanedRunning fails every workflow a dead process left
// non-terminal, together with its in-flight steps.
func (s *Store) MarkOrphanedRunning(ctx context.Context, reason string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM workflows WHERE status IN ('pending', 'running', 'paused')`)
	if err != nil {
		return nil, fmt.Errorf("finding orphans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC().Format(timeLayout)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflows SET status = 'failed', updated_at = ?,
				completed_at = COALESCE(completed_at, ?)
			WHERE id = ?`, now, now, id); err != nil {
			return nil, fmt.Errorf("failing orphan %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent_steps SET status = 'failed', error = ?, completed_at = COALESCE(completed_at, ?)
			WHERE workflow_id = ? AND status IN ('pending', 'running')`,
			reason, now, id); err != nil {
			return nil, fmt.Errorf("failing orphan steps %s: %w", id, err)
		}
	}
	return ids, tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*core.Workflow, error) {
	var (
		wf                    core.Workflow
		status                string
		createdAt, updatedAt  string
		completedAt           sql.NullString
	)
	err := row.Scan(&wf.ID, &wf.Title, &wf.Task, &status, &wf.CurrentStage, &wf.ProjectPath,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	wf.Status = core.WorkflowStatus(status)
	wf.CreatedAt = parseTime(createdAt)
	wf.UpdatedAt = parseTime(updatedAt)
	if t := parseNullTime(completedAt); t != nil {
		wf.CompletedAt = t
	}
	return &wf, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate second-precision timestamps written by SQL defaults.
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

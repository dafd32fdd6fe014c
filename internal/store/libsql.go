package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/conductor/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. run log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Flows ---

func (s *LibSQLStore) SaveFlow(ctx context.Context, f *Flow) error {
	graph, err := json.Marshal(f.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, graph, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, graph=excluded.graph, updated_at=CURRENT_TIMESTAMP`,
		f.ID, nullStr(f.Name), string(graph), timeOrNow(f.CreatedAt), timeOrNow(f.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetFlow(ctx context.Context, id string) (*Flow, error) {
	f := &Flow{}
	var name sql.NullString
	var graphJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, graph, created_at, updated_at FROM flows WHERE id = ?`, id,
	).Scan(&f.ID, &name, &graphJSON, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("flow", id)
	}
	if err != nil {
		return nil, err
	}
	f.Name = name.String
	if err := json.Unmarshal([]byte(graphJSON), &f.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return f, nil
}

func (s *LibSQLStore) ListFlows(ctx context.Context, filter FlowFilter) ([]*Flow, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT id, name, graph, created_at, updated_at FROM flows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*Flow
	for rows.Next() {
		f := &Flow{}
		var name sql.NullString
		var graphJSON string
		if err := rows.Scan(&f.ID, &name, &graphJSON, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Name = name.String
		if err := json.Unmarshal([]byte(graphJSON), &f.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *LibSQLStore) DeleteFlow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "flow", id)
}

// --- Compiled strategies ---

func (s *LibSQLStore) RecordStrategy(ctx context.Context, cs *CompiledStrategy) error {
	strategy, err := json.Marshal(cs.Strategy)
	if err != nil {
		return fmt.Errorf("marshal strategy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compiled_strategies (id, flow_id, strategy, estimated_llm_calls, estimated_direct_actions, conductor_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.FlowID, string(strategy),
		cs.EstimatedLLMCalls, cs.EstimatedDirectActions, cs.ConductorUsed,
		timeOrNow(cs.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetStrategy(ctx context.Context, id string) (*CompiledStrategy, error) {
	cs, err := s.scanStrategy(s.db.QueryRowContext(ctx,
		`SELECT id, flow_id, strategy, estimated_llm_calls, estimated_direct_actions, conductor_used, created_at
		 FROM compiled_strategies WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("strategy", id)
	}
	return cs, err
}

func (s *LibSQLStore) LatestStrategy(ctx context.Context, flowID string) (*CompiledStrategy, error) {
	cs, err := s.scanStrategy(s.db.QueryRowContext(ctx,
		`SELECT id, flow_id, strategy, estimated_llm_calls, estimated_direct_actions, conductor_used, created_at
		 FROM compiled_strategies WHERE flow_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, flowID,
	))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("strategy for flow", flowID)
	}
	return cs, err
}

func (s *LibSQLStore) ListStrategies(ctx context.Context, filter StrategyFilter) ([]*CompiledStrategy, error) {
	var where []string
	var args []any

	if filter.FlowID != "" {
		where = append(where, "flow_id = ?")
		args = append(args, filter.FlowID)
	}

	query := `SELECT id, flow_id, strategy, estimated_llm_calls, estimated_direct_actions, conductor_used, created_at FROM compiled_strategies`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strategies []*CompiledStrategy
	for rows.Next() {
		cs := &CompiledStrategy{}
		var strategyJSON string
		if err := rows.Scan(&cs.ID, &cs.FlowID, &strategyJSON,
			&cs.EstimatedLLMCalls, &cs.EstimatedDirectActions, &cs.ConductorUsed, &cs.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(strategyJSON), &cs.Strategy); err != nil {
			return nil, fmt.Errorf("unmarshal strategy: %w", err)
		}
		strategies = append(strategies, cs)
	}
	return strategies, rows.Err()
}

func (s *LibSQLStore) scanStrategy(row *sql.Row) (*CompiledStrategy, error) {
	cs := &CompiledStrategy{}
	var strategyJSON string
	err := row.Scan(&cs.ID, &cs.FlowID, &strategyJSON,
		&cs.EstimatedLLMCalls, &cs.EstimatedDirectActions, &cs.ConductorUsed, &cs.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(strategyJSON), &cs.Strategy); err != nil {
		return nil, fmt.Errorf("unmarshal strategy: %w", err)
	}
	return cs, nil
}

// --- Flow runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *FlowRun) error {
	input, err := marshalMapOrDefault(run.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_runs (id, flow_id, strategy_id, status, input, output, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FlowID, nullStr(run.StrategyID), string(run.Status),
		string(input), nullRaw(run.Output), nullRaw(run.Error),
		timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*FlowRun, error) {
	run := &FlowRun{}
	var (
		strategyID            sql.NullString
		status, inputJSON     string
		outputJSON, errorJSON sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, flow_id, strategy_id, status, input, output, error, created_at, started_at, completed_at, updated_at
		 FROM flow_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.FlowID, &strategyID, &status, &inputJSON, &outputJSON, &errorJSON,
		&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.StrategyID = strategyID.String
	run.Status = RunStatus(status)
	if inputJSON != "" {
		_ = json.Unmarshal([]byte(inputJSON), &run.Input)
	}
	run.Output = rawOrNil(outputJSON)
	run.Error = rawOrNil(errorJSON)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE flow_runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*FlowRun, error) {
	var where []string
	var args []any

	if filter.FlowID != "" {
		where = append(where, "flow_id = ?")
		args = append(args, filter.FlowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, flow_id, strategy_id, status, input, output, error, created_at, started_at, completed_at, updated_at FROM flow_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*FlowRun
	for rows.Next() {
		run := &FlowRun{}
		var (
			strategyID            sql.NullString
			status, inputJSON     string
			outputJSON, errorJSON sql.NullString
			startedAt, completedAt sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.FlowID, &strategyID, &status, &inputJSON, &outputJSON, &errorJSON,
			&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.StrategyID = strategyID.String
		run.Status = RunStatus(status)
		if inputJSON != "" {
			_ = json.Unmarshal([]byte(inputJSON), &run.Input)
		}
		run.Output = rawOrNil(outputJSON)
		run.Error = rawOrNil(errorJSON)
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ConductorError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
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

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/conductor/pkg/schema"
)

// RunLog provides the append-only event log for flow runs on top of a
// LibSQLStore. Events carry a per-run contiguous sequence so an executor's
// progress can be replayed or streamed incrementally.
type RunLog struct {
	store *LibSQLStore
}

// NewRunLog wraps a LibSQLStore to provide run event operations.
func NewRunLog(s *LibSQLStore) *RunLog {
	return &RunLog{store: s}
}

// Append writes an event with a monotonically increasing per-run sequence.
func (rl *RunLog) Append(ctx context.Context, event *RunEvent) error {
	db := rl.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone starts a deferred transaction. Force lock
	// acquisition with a write-intent statement so concurrent appenders
	// cannot interleave the sequence read and the insert.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, unit_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.UnitID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Events returns events for a run with sequence > since, ordered by sequence ASC.
func (rl *RunLog) Events(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := rl.store.DB().QueryContext(ctx,
		`SELECT id, run_id, unit_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var unitID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &unitID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.UnitID = unitID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Replay reconstructs the per-unit progress of a run from its event log.
// Returns an error if sequence gaps are detected.
func (rl *RunLog) Replay(ctx context.Context, runID string) (map[string]*UnitProgress, error) {
	events, err := rl.Events(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	progress := make(map[string]*UnitProgress)
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
		if e.UnitID == "" {
			continue
		}

		up, ok := progress[e.UnitID]
		if !ok {
			up = &UnitProgress{UnitID: e.UnitID}
			progress[e.UnitID] = up
		}

		switch e.Type {
		case EventUnitStarted:
			ts := e.Timestamp
			up.StartedAt = &ts
			up.Done = false
		case EventUnitFinished:
			ts := e.Timestamp
			up.CompletedAt = &ts
			up.Output = e.Payload
			up.Done = true
		case EventMeshRound:
			up.MeshRounds++
		}
	}
	return progress, nil
}

// UnitProgress is the replayed state of one execution unit within a run.
type UnitProgress struct {
	UnitID      string          `json:"unit_id"`
	Done        bool            `json:"done"`
	MeshRounds  int             `json:"mesh_rounds,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/conductor/pkg/schema"
)

// RunStatus tracks the lifecycle of a flow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Flow is a persisted flow graph with bookkeeping timestamps.
type Flow struct {
	ID        string           `json:"id"`
	Name      string           `json:"name,omitempty"`
	Graph     schema.FlowGraph `json:"graph"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// FlowFilter narrows ListFlows results.
type FlowFilter struct {
	Name   string
	Limit  int
	Offset int
}

// CompiledStrategy is one compilation record for a flow. Every compile is
// kept; the latest record per flow is what runs execute against.
type CompiledStrategy struct {
	ID                     string                   `json:"id"`
	FlowID                 string                   `json:"flow_id"`
	Strategy               schema.ExecutionStrategy `json:"strategy"`
	EstimatedLLMCalls      int                      `json:"estimated_llm_calls"`
	EstimatedDirectActions int                      `json:"estimated_direct_actions"`
	ConductorUsed          bool                     `json:"conductor_used"`
	CreatedAt              time.Time                `json:"created_at"`
}

// StrategyFilter narrows ListStrategies results.
type StrategyFilter struct {
	FlowID string
	Limit  int
}

// FlowRun is one execution of a flow against a compiled strategy.
type FlowRun struct {
	ID          string          `json:"id"`
	FlowID      string          `json:"flow_id"`
	StrategyID  string          `json:"strategy_id,omitempty"`
	Status      RunStatus       `json:"status"`
	Input       map[string]any  `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RunUpdate is a partial update to a flow run; nil fields are untouched.
type RunUpdate struct {
	Status      *RunStatus
	Output      json.RawMessage
	Error       json.RawMessage
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	FlowID string
	Status RunStatus
	Since  *time.Time
	Limit  int
	Offset int
}

// RunEvent is one entry in the append-only per-run event log.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	UnitID    string          `json:"unit_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Run event types emitted by an executor.
const (
	EventRunStarted    = "run_started"
	EventPhaseStarted  = "phase_started"
	EventPhaseFinished = "phase_finished"
	EventUnitStarted   = "unit_started"
	EventUnitFinished  = "unit_finished"
	EventMeshRound     = "mesh_round"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
)

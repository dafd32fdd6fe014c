package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Flows
	SaveFlow(ctx context.Context, f *Flow) error
	GetFlow(ctx context.Context, id string) (*Flow, error)
	ListFlows(ctx context.Context, filter FlowFilter) ([]*Flow, error)
	DeleteFlow(ctx context.Context, id string) error

	// Compiled strategies (append-only compile history)
	RecordStrategy(ctx context.Context, cs *CompiledStrategy) error
	GetStrategy(ctx context.Context, id string) (*CompiledStrategy, error)
	LatestStrategy(ctx context.Context, flowID string) (*CompiledStrategy, error)
	ListStrategies(ctx context.Context, filter StrategyFilter) ([]*CompiledStrategy, error)

	// Flow runs
	CreateRun(ctx context.Context, run *FlowRun) error
	GetRun(ctx context.Context, id string) (*FlowRun, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*FlowRun, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

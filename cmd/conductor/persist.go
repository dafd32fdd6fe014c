package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/conductor/internal/store"
	"github.com/rendis/conductor/pkg/schema"
)

// persistStrategy upserts the flow and records the compiled strategy.
func persistStrategy(ctx context.Context, st store.Store, g *schema.FlowGraph, strategy *schema.ExecutionStrategy) error {
	now := time.Now().UTC()
	if err := st.SaveFlow(ctx, &store.Flow{
		ID:        g.ID,
		Name:      g.Name,
		Graph:     *g,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}
	return st.RecordStrategy(ctx, &store.CompiledStrategy{
		ID:                     uuid.New().String(),
		FlowID:                 g.ID,
		Strategy:               *strategy,
		EstimatedLLMCalls:      strategy.EstimatedLLMCalls,
		EstimatedDirectActions: strategy.EstimatedDirectActions,
		ConductorUsed:          strategy.ConductorUsed,
		CreatedAt:              now,
	})
}

package storage

import (
	"context"

	"netsynth/internal/model"
)

// Store defines persistence operations for synthesized models, corpus runs
// and layer statistics.
type Store interface {
	Init(ctx context.Context) error
	SaveModel(ctx context.Context, record model.ModelRecord) error
	GetModel(ctx context.Context, id string) (model.ModelRecord, bool, error)
	ListModels(ctx context.Context, runID string) ([]model.ModelRecord, error)
	SaveCorpusRun(ctx context.Context, run model.CorpusRun) error
	GetCorpusRun(ctx context.Context, id string) (model.CorpusRun, bool, error)
	ListCorpusRuns(ctx context.Context) ([]model.CorpusRun, error)
	SaveLayerStats(ctx context.Context, stats model.LayerStats) error
	GetLayerStats(ctx context.Context, id string) (model.LayerStats, bool, error)
}

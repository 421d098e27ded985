package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"netsynth/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	models      map[string]model.ModelRecord
	runs        map[string]model.CorpusRun
	layerStats  map[string]model.LayerStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.models = make(map[string]model.ModelRecord)
	s.runs = make(map[string]model.CorpusRun)
	s.layerStats = make(map[string]model.LayerStats)
	return nil
}

func (s *MemoryStore) SaveModel(_ context.Context, record model.ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.models[record.ID] = cloneModel(record)
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, id string) (model.ModelRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.models[id]
	if !ok {
		return model.ModelRecord{}, false, nil
	}
	return cloneModel(record), true, nil
}

// ListModels returns the models of one run ordered by batch then index.
func (s *MemoryStore) ListModels(_ context.Context, runID string) ([]model.ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ModelRecord, 0)
	for _, record := range s.models {
		if record.RunID == runID {
			out = append(out, cloneModel(record))
		}
	}
	sortModels(out)
	return out, nil
}

func (s *MemoryStore) SaveCorpusRun(_ context.Context, run model.CorpusRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	run.Summaries = append([]model.BatchSummary(nil), run.Summaries...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetCorpusRun(_ context.Context, id string) (model.CorpusRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.CorpusRun{}, false, nil
	}
	run.Summaries = append([]model.BatchSummary(nil), run.Summaries...)
	return run, true, nil
}

// ListCorpusRuns returns every stored run, oldest first.
func (s *MemoryStore) ListCorpusRuns(_ context.Context) ([]model.CorpusRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CorpusRun, 0, len(s.runs))
	for _, run := range s.runs {
		run.Summaries = append([]model.BatchSummary(nil), run.Summaries...)
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SaveLayerStats(_ context.Context, stats model.LayerStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.layerStats[stats.ID] = cloneLayerStats(stats)
	return nil
}

func (s *MemoryStore) GetLayerStats(_ context.Context, id string) (model.LayerStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.layerStats[id]
	if !ok {
		return model.LayerStats{}, false, nil
	}
	return cloneLayerStats(stats), true, nil
}

func cloneModel(record model.ModelRecord) model.ModelRecord {
	record.InputShape = append([]int(nil), record.InputShape...)
	record.OutputShape = append([]int(nil), record.OutputShape...)
	return record
}

func cloneLayerStats(stats model.LayerStats) model.LayerStats {
	buckets := make(map[int]model.LayerBucket, len(stats.Buckets))
	for k, v := range stats.Buckets {
		buckets[k] = v
	}
	stats.Buckets = buckets
	return stats
}

func sortModels(records []model.ModelRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Batch != records[j].Batch {
			return records[i].Batch < records[j].Batch
		}
		if records[i].Index != records[j].Index {
			return records[i].Index < records[j].Index
		}
		return records[i].ID < records[j].ID
	})
}

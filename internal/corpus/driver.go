// Package corpus dispatches batches of synthesis runs to the task executor
// and persists what they produce.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"netsynth/internal/executor"
	"netsynth/internal/model"
	"netsynth/internal/params"
	"netsynth/internal/stats"
	"netsynth/internal/storage"
	"netsynth/internal/synth"
)

const (
	DefaultMinLayers = 3
	DefaultMaxLayers = 10
	DefaultPrefix    = "conv2d"
	runsDirName      = "runs"
)

var ErrInvalidRequest = errors.New("invalid corpus request")

type Request struct {
	RunID     string
	Batches   int
	BatchSize int
	// MinLayers and MaxLayers bound the uniformly drawn primary layer count
	// of each network, inclusive.
	MinLayers int
	MaxLayers int
	Seed      int64
	Prefix    string
	OutDir    string
	// Params defaults to params.Default().
	Params *params.Parameters
	// CorpusFile also writes <prefix>_corpus.json mapping model name to
	// serialized graph. It goes next to the run artifacts, not the batch
	// files, so a directory load of OutDir counts each model once.
	CorpusFile bool
}

type Options struct {
	Policy      executor.Policy
	MaxAttempts int
	Logger      *log.Logger
	Now         func() time.Time
}

type Driver struct {
	store       storage.Store
	policy      executor.Policy
	maxAttempts int
	logger      *log.Logger
	now         func() time.Time
}

func NewDriver(store storage.Store, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Driver{
		store:       store,
		policy:      opts.Policy,
		maxAttempts: opts.MaxAttempts,
		logger:      logger,
		now:         now,
	}
}

// generated is what one successful task hands back to the batch barrier.
type generated struct {
	name        string
	json        string
	layers      int
	quantized   bool
	start       string
	attempts    int
	inputShape  []int
	outputShape []int
}

func normalizeRequest(req Request) (Request, error) {
	if req.MinLayers == 0 && req.MaxLayers == 0 {
		req.MinLayers, req.MaxLayers = DefaultMinLayers, DefaultMaxLayers
	}
	if req.Prefix == "" {
		req.Prefix = DefaultPrefix
	}
	if req.OutDir == "" {
		req.OutDir = "."
	}
	switch {
	case req.Batches <= 0:
		return Request{}, fmt.Errorf("%w: batches must be > 0, got %d", ErrInvalidRequest, req.Batches)
	case req.BatchSize <= 0:
		return Request{}, fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidRequest, req.BatchSize)
	case req.MinLayers < 1 || req.MaxLayers < req.MinLayers:
		return Request{}, fmt.Errorf("%w: layer range [%d,%d]", ErrInvalidRequest, req.MinLayers, req.MaxLayers)
	}
	if req.Params == nil {
		p := params.Default()
		req.Params = &p
	}
	if err := req.Params.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Run executes every batch in order. Tasks within a batch run concurrently;
// the batch file is written once all of them have finished. Failed tasks
// are counted and dropped.
func (d *Driver) Run(ctx context.Context, req Request) (model.CorpusRun, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return model.CorpusRun{}, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return model.CorpusRun{}, err
	}

	exec := executor.NewWithHooks(d.policy, executor.Hooks{
		OnTaskRetry: func(name string, err error, retry int) {
			d.logger.Printf("corpus: %s retry %d: %v", name, retry, err)
		},
		OnTaskPermanentFailure: func(name string, err error, retries int) {
			d.logger.Printf("corpus: %s dropped after %d retries: %v", name, retries, err)
		},
	})
	defer exec.Close()

	run := model.CorpusRun{
		VersionedRecord: storage.Versioned(),
		ID:              req.RunID,
		Prefix:          req.Prefix,
		Seed:            req.Seed,
		Batches:         req.Batches,
		BatchSize:       req.BatchSize,
		MinLayers:       req.MinLayers,
		MaxLayers:       req.MaxLayers,
		Workers:         exec.Policy().Workers,
		StartedAt:       d.now().UTC(),
	}
	corpus := make(map[string]string)
	var batchFiles []string

	for b := 0; b < req.Batches; b++ {
		summary, models, err := d.runBatch(ctx, exec, req, b)
		if err != nil {
			return model.CorpusRun{}, err
		}
		run.Summaries = append(run.Summaries, summary)
		run.Succeeded += summary.Succeeded
		run.Failed += summary.Failed
		batchFiles = append(batchFiles, filepath.Base(summary.Path))
		for _, m := range models {
			corpus[m.name] = m.json
		}
	}

	if req.CorpusFile {
		dir := filepath.Join(RunsDir(req.OutDir), req.RunID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return model.CorpusRun{}, err
		}
		path := filepath.Join(dir, req.Prefix+"_corpus.json")
		data, err := json.Marshal(corpus)
		if err != nil {
			return model.CorpusRun{}, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return model.CorpusRun{}, err
		}
		run.CorpusFile = path
	}
	run.FinishedAt = d.now().UTC()

	if d.store != nil {
		if err := d.store.SaveCorpusRun(ctx, run); err != nil {
			return model.CorpusRun{}, err
		}
	}
	if err := d.writeArtifacts(req, run, exec.Policy(), batchFiles); err != nil {
		return model.CorpusRun{}, err
	}
	d.logger.Printf("corpus: run %s finished: %s succeeded, %s failed",
		run.ID, humanize.Comma(int64(run.Succeeded)), humanize.Comma(int64(run.Failed)))
	return run, nil
}

func (d *Driver) runBatch(ctx context.Context, exec *executor.Executor, req Request, batch int) (model.BatchSummary, []generated, error) {
	counters := make([]*synth.Counter, req.BatchSize)
	futures := make([]*executor.Future, req.BatchSize)
	for i := 0; i < req.BatchSize; i++ {
		counters[i] = &synth.Counter{}
		task, err := d.task(req, batch, i, counters[i])
		if err != nil {
			return model.BatchSummary{}, nil, err
		}
		futures[i] = exec.Submit(ctx, fmt.Sprintf("batch %d model %d", batch, i), task)
	}
	outcomes := executor.AwaitAll(ctx, futures)
	if err := ctx.Err(); err != nil {
		return model.BatchSummary{}, nil, err
	}

	summary := model.BatchSummary{Index: batch, Requested: req.BatchSize}
	models := make([]generated, 0, len(outcomes))
	texts := make([]string, 0, len(outcomes))
	for i, out := range outcomes {
		summary.ShapeRetries += counters[i].Failures()
		if out.Err != nil {
			summary.Failed++
			continue
		}
		m := out.Value.(generated)
		models = append(models, m)
		texts = append(texts, m.json)
		summary.Succeeded++

		if d.store == nil {
			continue
		}
		record := model.ModelRecord{
			VersionedRecord: storage.Versioned(),
			ID:              fmt.Sprintf("%s-%d-%d", req.RunID, batch, i),
			RunID:           req.RunID,
			Batch:           batch,
			Index:           i,
			Name:            m.name,
			Layers:          m.layers,
			Quantized:       m.quantized,
			StartLayer:      m.start,
			Attempts:        m.attempts,
			InputShape:      m.inputShape,
			OutputShape:     m.outputShape,
			Graph:           m.json,
		}
		if err := d.store.SaveModel(ctx, record); err != nil {
			return model.BatchSummary{}, nil, err
		}
	}

	data, err := json.Marshal(texts)
	if err != nil {
		return model.BatchSummary{}, nil, err
	}
	summary.Path = filepath.Join(req.OutDir, fmt.Sprintf("%s_batch_%d.json", req.Prefix, batch))
	if err := os.WriteFile(summary.Path, data, 0o644); err != nil {
		return model.BatchSummary{}, nil, err
	}
	summary.Bytes = int64(len(data))

	d.logger.Printf("corpus: batch %d: %d/%d models, %d failed, %d shape retries, %s -> %s",
		batch, summary.Succeeded, summary.Requested, summary.Failed, summary.ShapeRetries,
		humanize.Bytes(uint64(summary.Bytes)), summary.Path)
	return summary, models, nil
}

// task builds the unit of work for one model. Each task owns a generator
// seeded from (seed, batch, index), so results do not depend on scheduling.
// A retried task continues drawing from the same generator.
func (d *Driver) task(req Request, batch, index int, counter *synth.Counter) (executor.Task, error) {
	rng := rand.New(rand.NewSource(TaskSeed(req.Seed, batch, index)))
	gen, err := synth.NewGenerator(*req.Params, synth.Options{
		Rand:        rng,
		Logger:      d.logger,
		MaxAttempts: d.maxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (any, error) {
		total := req.MinLayers + rng.Intn(req.MaxLayers-req.MinLayers+1)
		res, err := gen.Generate(ctx, synth.Request{TotalLayers: total, Counter: counter})
		if err != nil {
			return nil, err
		}
		start := ""
		if len(res.Steps) > 0 {
			start = res.Steps[0].Type.ClassName
		}
		return generated{
			name:        res.Serialized.Name,
			json:        res.Serialized.JSON,
			layers:      res.Graph.PrimaryCount(),
			quantized:   res.State.Quantized,
			start:       start,
			attempts:    res.Attempts,
			inputShape:  res.Graph.Input(),
			outputShape: res.Graph.Output(),
		}, nil
	}, nil
}

// TaskSeed derives the generator seed of one task by folding each component
// through a splitmix64 step.
func TaskSeed(seed int64, batch, index int) int64 {
	h := mix64(uint64(seed))
	h = mix64(h ^ uint64(int64(batch)))
	h = mix64(h ^ uint64(int64(index)))
	return int64(h)
}

func mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func (d *Driver) writeArtifacts(req Request, run model.CorpusRun, policy executor.Policy, batchFiles []string) error {
	runsDir := filepath.Join(req.OutDir, runsDirName)
	if _, err := stats.WriteRunArtifacts(runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:      run.ID,
			Prefix:     run.Prefix,
			Batches:    run.Batches,
			BatchSize:  run.BatchSize,
			MinLayers:  run.MinLayers,
			MaxLayers:  run.MaxLayers,
			Seed:       run.Seed,
			Workers:    policy.Workers,
			MaxRetries: policy.MaxRetries,
			Params:     *req.Params,
		},
		Summaries:  run.Summaries,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		BatchFiles: batchFiles,
		CorpusFile: run.CorpusFile,
	}); err != nil {
		return err
	}
	return stats.AppendRunIndex(runsDir, stats.RunIndexEntry{
		RunID:        run.ID,
		Prefix:       run.Prefix,
		Batches:      run.Batches,
		BatchSize:    run.BatchSize,
		Seed:         run.Seed,
		Workers:      policy.Workers,
		Succeeded:    run.Succeeded,
		Failed:       run.Failed,
		CreatedAtUTC: run.FinishedAt.Format(time.RFC3339Nano),
	})
}

// RunsDir is where a corpus written to outDir keeps its run index.
func RunsDir(outDir string) string {
	return filepath.Join(outDir, runsDirName)
}

package netsynth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"netsynth/internal/corpus"
	"netsynth/internal/executor"
	"netsynth/internal/loader"
	"netsynth/internal/model"
	"netsynth/internal/params"
	"netsynth/internal/stats"
	"netsynth/internal/storage"
	"netsynth/internal/synth"
)

const (
	defaultOutDir     = "corpus"
	defaultExportsDir = "exports"
	defaultDBPath     = "netsynth.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	OutDir     string
	ExportsDir string
	Logger     *log.Logger
}

type Client struct {
	store  storage.Store
	logger *log.Logger

	outDir     string
	exportsDir string

	initOnce sync.Once
	initErr  error
}

// ParamsSource selects generation parameters: a JSON file, an inline map of
// snake_case keys overlaid on it, or the defaults when both are empty.
type ParamsSource struct {
	Path      string
	Overrides map[string]any
}

type GenerateRequest struct {
	Layers      int
	Seed        int64
	Name        string
	MaxAttempts int
	Params      ParamsSource
}

type GenerateSummary struct {
	Name        string
	JSON        string
	Layers      int
	Attempts    int
	Quantized   bool
	InputShape  []int
	OutputShape []int
}

type CorpusRequest struct {
	RunID     string
	Batches   int
	BatchSize int
	MinLayers int
	MaxLayers int
	Seed      int64
	Prefix    string
	OutDir    string
	Workers   int
	// MaxRetries of 0 uses the executor default; a negative value disables
	// task retries.
	MaxRetries  int
	MaxAttempts int
	CorpusFile  bool
	Params      ParamsSource
}

type CorpusSummary struct {
	RunID      string
	Succeeded  int
	Failed     int
	Batches    []model.BatchSummary
	CorpusFile string
	RunsDir    string
}

type AggregateRequest struct {
	// In is a corpus file, a batch file, or a directory of them.
	In string
	// Out optionally receives the layer metadata file.
	Out string
	ID  string
}

type AggregateSummary struct {
	ID      string
	Models  int
	Buckets map[int]model.LayerBucket
	Out     string
}

type RunsRequest struct {
	OutDir string
	Limit  int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Prefix       string
	Seed         int64
	Batches      int
	BatchSize    int
	Succeeded    int
	Failed       int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ModelsRequest struct {
	RunID string
	Limit int
}

type ModelItem struct {
	ID          string
	Name        string
	Batch       int
	Index       int
	Layers      int
	Quantized   bool
	StartLayer  string
	Attempts    int
	OutputShape []int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = defaultOutDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logger,
		outDir:     outDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureInit(ctx)
}

func (c *Client) ensureInit(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (s ParamsSource) resolve() (params.Parameters, error) {
	p := params.Default()
	if s.Path != "" {
		loaded, err := params.Load(s.Path)
		if err != nil {
			return params.Parameters{}, err
		}
		p = loaded
	}
	if len(s.Overrides) > 0 {
		if err := p.Overlay(s.Overrides); err != nil {
			return params.Parameters{}, err
		}
	}
	return p, p.Validate()
}

// Generate synthesizes a single network. The same seed and parameters
// always yield the same network.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateSummary, error) {
	if req.Layers <= 0 {
		return GenerateSummary{}, errors.New("layers must be > 0")
	}
	p, err := req.Params.resolve()
	if err != nil {
		return GenerateSummary{}, err
	}
	gen, err := synth.NewGenerator(p, synth.Options{
		Rand:        rand.New(rand.NewSource(req.Seed)),
		Logger:      c.logger,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		return GenerateSummary{}, err
	}
	res, err := gen.Generate(ctx, synth.Request{TotalLayers: req.Layers, Name: req.Name})
	if err != nil {
		return GenerateSummary{}, err
	}
	return GenerateSummary{
		Name:        res.Serialized.Name,
		JSON:        res.Serialized.JSON,
		Layers:      res.Graph.PrimaryCount(),
		Attempts:    res.Attempts,
		Quantized:   res.State.Quantized,
		InputShape:  res.Graph.Input(),
		OutputShape: res.Graph.Output(),
	}, nil
}

func (c *Client) Corpus(ctx context.Context, req CorpusRequest) (CorpusSummary, error) {
	if err := c.ensureInit(ctx); err != nil {
		return CorpusSummary{}, err
	}
	p, err := req.Params.resolve()
	if err != nil {
		return CorpusSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.outDir
	}
	policy := executor.DefaultPolicy()
	if req.Workers > 0 {
		policy.Workers = req.Workers
	}
	switch {
	case req.MaxRetries > 0:
		policy.MaxRetries = req.MaxRetries
	case req.MaxRetries < 0:
		policy.MaxRetries = 0
	}

	driver := corpus.NewDriver(c.store, corpus.Options{
		Policy:      policy,
		MaxAttempts: req.MaxAttempts,
		Logger:      c.logger,
	})
	run, err := driver.Run(ctx, corpus.Request{
		RunID:      req.RunID,
		Batches:    req.Batches,
		BatchSize:  req.BatchSize,
		MinLayers:  req.MinLayers,
		MaxLayers:  req.MaxLayers,
		Seed:       req.Seed,
		Prefix:     req.Prefix,
		OutDir:     req.OutDir,
		Params:     &p,
		CorpusFile: req.CorpusFile,
	})
	if err != nil {
		return CorpusSummary{}, err
	}
	return CorpusSummary{
		RunID:      run.ID,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		Batches:    run.Summaries,
		CorpusFile: run.CorpusFile,
		RunsDir:    corpus.RunsDir(req.OutDir),
	}, nil
}

// Aggregate loads every model under req.In, buckets layer counts by
// primary-layer count and stores the result.
func (c *Client) Aggregate(ctx context.Context, req AggregateRequest) (AggregateSummary, error) {
	if strings.TrimSpace(req.In) == "" {
		return AggregateSummary{}, errors.New("aggregate requires an input path")
	}
	if err := c.ensureInit(ctx); err != nil {
		return AggregateSummary{}, err
	}
	entries, err := loader.New(c.logger).Load(req.In)
	if err != nil {
		return AggregateSummary{}, err
	}

	agg := stats.NewAggregator()
	for _, e := range entries {
		agg.Add(e.Graph)
	}
	buckets := agg.Buckets()

	if req.Out != "" {
		if err := stats.WriteLayerMetadata(req.Out, buckets); err != nil {
			return AggregateSummary{}, err
		}
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := c.store.SaveLayerStats(ctx, model.LayerStats{
		VersionedRecord: storage.Versioned(),
		ID:              id,
		Source:          filepath.Clean(req.In),
		Models:          agg.Models(),
		Buckets:         buckets,
	}); err != nil {
		return AggregateSummary{}, err
	}
	return AggregateSummary{ID: id, Models: agg.Models(), Buckets: buckets, Out: req.Out}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.OutDir == "" {
		req.OutDir = c.outDir
	}

	entries, err := stats.ListRunIndex(corpus.RunsDir(req.OutDir))
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Prefix:       e.Prefix,
			Seed:         e.Seed,
			Batches:      e.Batches,
			BatchSize:    e.BatchSize,
			Succeeded:    e.Succeeded,
			Failed:       e.Failed,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runsDir := corpus.RunsDir(c.outDir)

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(runsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) Models(ctx context.Context, req ModelsRequest) ([]ModelItem, error) {
	if req.RunID == "" {
		return nil, errors.New("models requires a run id")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListModels(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	out := make([]ModelItem, 0, len(records))
	for _, r := range records {
		out = append(out, ModelItem{
			ID:          r.ID,
			Name:        r.Name,
			Batch:       r.Batch,
			Index:       r.Index,
			Layers:      r.Layers,
			Quantized:   r.Quantized,
			StartLayer:  r.StartLayer,
			Attempts:    r.Attempts,
			OutputShape: r.OutputShape,
		})
	}
	return out, nil
}

// Model returns the stored serialized graph of one model.
func (c *Client) Model(ctx context.Context, id string) (string, error) {
	if err := c.ensureInit(ctx); err != nil {
		return "", err
	}
	record, ok, err := c.store.GetModel(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("model not found: %s", id)
	}
	return record.Graph, nil
}

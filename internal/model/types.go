package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ModelRecord is one synthesized network as persisted by a corpus run.
type ModelRecord struct {
	VersionedRecord
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	Batch       int    `json:"batch"`
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Layers      int    `json:"layers"`
	Quantized   bool   `json:"quantized"`
	StartLayer  string `json:"start_layer"`
	Attempts    int    `json:"attempts"`
	InputShape  []int  `json:"input_shape"`
	OutputShape []int  `json:"output_shape"`
	// Graph is the serialized functional-model description.
	Graph string `json:"graph"`
}

type BatchSummary struct {
	Index        int    `json:"index"`
	Requested    int    `json:"requested"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	ShapeRetries int    `json:"shape_retries"`
	Path         string `json:"path,omitempty"`
	Bytes        int64  `json:"bytes"`
}

// CorpusRun records one invocation of the corpus driver.
type CorpusRun struct {
	VersionedRecord
	ID         string         `json:"id"`
	Prefix     string         `json:"prefix"`
	Seed       int64          `json:"seed"`
	Batches    int            `json:"batches"`
	BatchSize  int            `json:"batch_size"`
	MinLayers  int            `json:"min_layers"`
	MaxLayers  int            `json:"max_layers"`
	Workers    int            `json:"workers"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Summaries  []BatchSummary `json:"summaries"`
	CorpusFile string         `json:"corpus_file,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// LayerBucket holds the per-layer-count counters of the aggregator.
type LayerBucket struct {
	ModelCount int `json:"model_cnt"`
	Conv       int `json:"conv"`
	Dense      int `json:"dense"`
	Conv1D     int `json:"conv1d"`
	Conv2D     int `json:"conv2d"`
	Activation int `json:"activation"`
	Pooling    int `json:"pooling"`
	OnlyDense  int `json:"only_dense"`
}

func (b *LayerBucket) Add(other LayerBucket) {
	b.ModelCount += other.ModelCount
	b.Conv += other.Conv
	b.Dense += other.Dense
	b.Conv1D += other.Conv1D
	b.Conv2D += other.Conv2D
	b.Activation += other.Activation
	b.Pooling += other.Pooling
	b.OnlyDense += other.OnlyDense
}

// LayerStats is a persisted aggregation keyed by primary-layer count.
type LayerStats struct {
	VersionedRecord
	ID      string              `json:"id"`
	Source  string              `json:"source"`
	Models  int                 `json:"models"`
	Buckets map[int]LayerBucket `json:"buckets"`
}

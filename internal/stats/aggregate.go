package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"netsynth/internal/graph"
	"netsynth/internal/layers"
	"netsynth/internal/model"
)

// Aggregator counts layer kinds per primary-layer count.
type Aggregator struct {
	models  int
	buckets map[int]*model.LayerBucket
}

func NewAggregator() *Aggregator {
	return &Aggregator{buckets: make(map[int]*model.LayerBucket)}
}

// Classify counts one graph's layers. It returns the primary-layer count
// and the graph's contribution to that bucket.
func Classify(g *graph.Graph) (int, model.LayerBucket) {
	var b model.LayerBucket
	primaries := 0
	for _, n := range g.Nodes {
		kind := n.Layer.Type.Kind
		switch kind {
		case layers.KindDense:
			b.Dense++
		case layers.KindConv2D, layers.KindDepthwiseConv2D, layers.KindSeparableConv2D:
			b.Conv2D++
		case layers.KindConv1D, layers.KindSeparableConv1D:
			b.Conv1D++
		case layers.KindActivation:
			b.Activation++
		case layers.KindMaxPooling2D, layers.KindAveragePooling2D:
			b.Pooling++
		}
		if kind.Primary() {
			primaries++
		}
	}
	b.ModelCount = 1
	b.Conv = b.Conv1D + b.Conv2D
	if b.Conv == 0 {
		b.OnlyDense = 1
	}
	return primaries, b
}

func (a *Aggregator) Add(g *graph.Graph) {
	count, contribution := Classify(g)
	bucket, ok := a.buckets[count]
	if !ok {
		bucket = &model.LayerBucket{}
		a.buckets[count] = bucket
	}
	bucket.Add(contribution)
	a.models++
}

func (a *Aggregator) Models() int {
	return a.models
}

// Buckets returns a copy of the counters keyed by primary-layer count.
func (a *Aggregator) Buckets() map[int]model.LayerBucket {
	out := make(map[int]model.LayerBucket, len(a.buckets))
	for k, v := range a.buckets {
		out[k] = *v
	}
	return out
}

// LayerCounts returns the populated layer counts in ascending order.
func (a *Aggregator) LayerCounts() []int {
	out := make([]int, 0, len(a.buckets))
	for k := range a.buckets {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// WriteLayerMetadata writes buckets as a JSON object keyed by the
// stringified layer count.
func WriteLayerMetadata(path string, buckets map[int]model.LayerBucket) error {
	out := make(map[string]model.LayerBucket, len(buckets))
	for k, v := range buckets {
		out[strconv.Itoa(k)] = v
	}
	return writeJSON(path, out)
}

func ReadLayerMetadata(path string) (map[int]model.LayerBucket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]model.LayerBucket
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[int]model.LayerBucket, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("layer metadata key %q is not a layer count", k)
		}
		out[n] = v
	}
	return out, nil
}

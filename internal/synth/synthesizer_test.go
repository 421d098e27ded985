package synth

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	"netsynth/internal/graph"
	"netsynth/internal/layers"
	"netsynth/internal/params"
)

func newTestGenerator(t *testing.T, p params.Parameters, seed int64, opts Options) *Generator {
	t.Helper()
	opts.Rand = rand.New(rand.NewSource(seed))
	g, err := NewGenerator(p, opts)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return g
}

func denseOnlyParams() params.Parameters {
	p := params.Default()
	p.QChance = 0
	// Conv1D, QConv1D, Conv2D, QConv2D, QDense, Dense, QSeparableConv2D, QDepthwiseConv2D
	p.Probs.StartLayers = []float64{0, 0, 0, 0, 0, 1, 0, 0}
	p.Probs.DenseLayers = []float64{1, 0}
	return p
}

func TestGenerateDenseOnlyFiveLayers(t *testing.T) {
	g := newTestGenerator(t, denseOnlyParams(), 42, Options{})
	res, err := g.Generate(context.Background(), Request{TotalLayers: 5})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	primaries := res.Graph.Primaries()
	if len(primaries) != 5 {
		t.Fatalf("expected 5 primary layers, got %d", len(primaries))
	}
	for _, l := range primaries {
		if l.Type.ClassName != "Dense" {
			t.Fatalf("unexpected primary layer %s", l.Type.ClassName)
		}
	}
	if len(res.Steps) != 5 {
		t.Fatalf("expected 5 step records, got %d", len(res.Steps))
	}
	forced := 0
	for i, step := range res.Steps {
		if step.FlattenForced {
			forced++
			if i != 3 {
				t.Fatalf("flatten forced at step %d, want 3", i)
			}
		}
	}
	if forced != 1 {
		t.Fatalf("expected exactly one flatten-forced step, got %d", forced)
	}
	if rate := res.Steps[4].DropoutRate; rate != 0 {
		t.Fatalf("terminal dropout rate = %v, want 0", rate)
	}
	if res.State.Quantized || res.State.Params.DropoutRate != 0 {
		t.Fatalf("unexpected final state: %+v", res.State)
	}
	last := res.Graph.Nodes[len(res.Graph.Nodes)-1].Layer
	if last.Type.Kind == layers.KindDropout {
		t.Fatal("output layer is followed by dropout")
	}
	if res.Serialized.JSON == "" || res.Serialized.Name != res.Graph.Name {
		t.Fatalf("unexpected serialized model: %+v", res.Serialized)
	}
}

func TestGenerateCategoryTransitionsAreMonotonic(t *testing.T) {
	p := params.Default()
	for seed := int64(1); seed <= 60; seed++ {
		g := newTestGenerator(t, p, seed, Options{})
		total := 3 + int(seed%8)
		res, err := g.Generate(context.Background(), Request{TotalLayers: total})
		if err != nil {
			t.Fatalf("seed %d: generate: %v", seed, err)
		}
		if got := res.Graph.PrimaryCount(); got != total {
			t.Fatalf("seed %d: primary layers = %d, want %d", seed, got, total)
		}
		dense := false
		flattens := 0
		for _, step := range res.Steps {
			if dense && step.Category != layers.CategoryDense {
				t.Fatalf("seed %d: step %d returns to %s after dense", seed, step.Step, step.Category)
			}
			if step.Category == layers.CategoryDense {
				dense = true
			}
			if step.Flattened {
				if step.Step == 0 {
					t.Fatalf("seed %d: input-attached layer flattened", seed)
				}
				flattens++
			}
		}
		if flattens > 1 {
			t.Fatalf("seed %d: %d flatten transitions", seed, flattens)
		}
		if total >= 3 && !dense && res.State.Category != layers.CategoryDense {
			t.Fatalf("seed %d: network never reached dense with %d layers", seed, total)
		}
		for _, l := range res.Graph.Layers() {
			if !l.Output.Valid() {
				t.Fatalf("seed %d: layer %s has invalid shape %s", seed, l.Name, l.Output)
			}
			if l.Type.Kind.Primary() && l.Type.Quantized != res.State.Quantized {
				t.Fatalf("seed %d: layer %s quantized=%t in a run with quantized=%t", seed, l.Name, l.Type.Quantized, res.State.Quantized)
			}
		}
		if _, err := graph.Parse([]byte(res.Serialized.JSON)); err != nil && !errors.Is(err, layers.ErrUnsupportedConfigKey) {
			t.Fatalf("seed %d: serialized graph does not parse: %v", seed, err)
		}
	}
}

func TestGenerateNeverFlattensInputLayer(t *testing.T) {
	p := params.Default()
	p.QChance = 0
	p.FlattenChance = 1
	p.Probs.StartLayers = []float64{0, 0, 1, 0, 0, 0, 0, 0}
	for seed := int64(1); seed <= 10; seed++ {
		g := newTestGenerator(t, p, seed, Options{})
		res, err := g.Generate(context.Background(), Request{TotalLayers: 4})
		if err != nil {
			t.Fatalf("seed %d: generate: %v", seed, err)
		}
		if res.Steps[0].Type.ClassName != "Conv2D" {
			t.Fatalf("seed %d: start layer = %s, want Conv2D", seed, res.Steps[0].Type.ClassName)
		}
		if res.Steps[0].Flattened {
			t.Fatalf("seed %d: step 0 flattened", seed)
		}
		if !res.Steps[1].Flattened || res.Steps[1].Category != layers.CategoryConv {
			t.Fatalf("seed %d: step 1 = %+v, want a flattened conv layer", seed, res.Steps[1])
		}
		if res.Steps[2].Category != layers.CategoryDense {
			t.Fatalf("seed %d: step 2 category = %s, want dense", seed, res.Steps[2].Category)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	p := params.Default()
	for seed := int64(1); seed <= 10; seed++ {
		a, err := newTestGenerator(t, p, seed, Options{}).Generate(context.Background(), Request{TotalLayers: 6})
		if err != nil {
			t.Fatalf("generate a: %v", err)
		}
		b, err := newTestGenerator(t, p, seed, Options{}).Generate(context.Background(), Request{TotalLayers: 6})
		if err != nil {
			t.Fatalf("generate b: %v", err)
		}
		if !bytes.Equal([]byte(a.Serialized.JSON), []byte(b.Serialized.JSON)) {
			t.Fatalf("seed %d: runs differ\n%s\n%s", seed, a.Serialized.JSON, b.Serialized.JSON)
		}
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	p := params.Default()
	p.QChance = 0
	p.ConvInitSizeLB, p.ConvInitSizeUB = 1, 1
	p.PoolingChance = 1
	p.Layers.Start = []string{"Conv2D"}

	counter := &Counter{}
	g := newTestGenerator(t, p, 1, Options{MaxAttempts: 3})
	_, err := g.Generate(context.Background(), Request{TotalLayers: 4, Counter: counter})
	if !errors.Is(err, ErrSynthesisExhausted) {
		t.Fatalf("expected ErrSynthesisExhausted, got: %v", err)
	}
	if !errors.Is(err, layers.ErrInvalidShape) {
		t.Fatalf("expected the last shape error to be wrapped, got: %v", err)
	}
	if counter.Attempts() != 3 || counter.Failures() != 3 {
		t.Fatalf("unexpected counter: attempts=%d failures=%d", counter.Attempts(), counter.Failures())
	}
}

func TestGenerateUnsupportedKindIsNotRetried(t *testing.T) {
	p := params.Default()
	p.QChance = 0
	p.Layers.Start = []string{"LSTM"}

	counter := &Counter{}
	g := newTestGenerator(t, p, 1, Options{})
	_, err := g.Generate(context.Background(), Request{TotalLayers: 3, Counter: counter})
	if !errors.Is(err, layers.ErrUnsupportedLayerKind) {
		t.Fatalf("expected ErrUnsupportedLayerKind, got: %v", err)
	}
	if counter.Attempts() != 1 || counter.Failures() != 0 {
		t.Fatalf("unexpected counter: attempts=%d failures=%d", counter.Attempts(), counter.Failures())
	}
}

func TestGenerateZeroWeightsIsFatal(t *testing.T) {
	p := denseOnlyParams()
	p.Probs.DenseLayers = []float64{0, 1}
	g := newTestGenerator(t, p, 1, Options{})
	if _, err := g.Generate(context.Background(), Request{TotalLayers: 3}); !errors.Is(err, ErrZeroWeights) {
		t.Fatalf("expected ErrZeroWeights, got: %v", err)
	}
}

func TestGenerateHookStopsEarly(t *testing.T) {
	calls := 0
	hook := func(g *graph.Graph, st State) (any, bool) {
		calls++
		if st.Depth >= 2 {
			return g.PrimaryCount(), true
		}
		return nil, false
	}
	g := newTestGenerator(t, denseOnlyParams(), 9, Options{Hook: hook})
	res, err := g.Generate(context.Background(), Request{TotalLayers: 6, Name: "hooked"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Stopped || res.HookValue != 2 || calls != 2 {
		t.Fatalf("unexpected hook result: stopped=%t value=%v calls=%d", res.Stopped, res.HookValue, calls)
	}
	if res.Graph.Name != "hooked" || res.Serialized.JSON != "" {
		t.Fatalf("unexpected stopped result: %+v", res.Serialized)
	}
}

func TestGenerateValidatesRequest(t *testing.T) {
	g := newTestGenerator(t, params.Default(), 1, Options{})
	if _, err := g.Generate(context.Background(), Request{}); !errors.Is(err, params.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, Request{TotalLayers: 3}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}

	bad := params.Default()
	bad.DenseLB = 0
	if _, err := NewGenerator(bad, Options{}); !errors.Is(err, params.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got: %v", err)
	}
}

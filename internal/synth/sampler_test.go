package synth

import (
	"errors"
	"math/rand"
	"testing"

	"netsynth/internal/layers"
	"netsynth/internal/params"
	"netsynth/internal/shape"
)

func testState(t *testing.T, quantized bool, p params.Parameters, category layers.Category, in shape.Shape) *State {
	t.Helper()
	f, err := Filter(quantized, p, layers.DefaultUniverse())
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	st := newState(f, p)
	st.Category = category
	st.Shape = in
	return st
}

func TestClipPow2(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 4, 5: 4, 6: 8, 32: 32, 45: 32, 46: 64, 1024: 1024}
	for in, want := range cases {
		if got := clipPow2(in); got != want {
			t.Fatalf("clipPow2(%d)=%d want=%d", in, got, want)
		}
	}
}

func TestSampleDenseBounds(t *testing.T) {
	p := params.Default()
	st := testState(t, false, p, layers.CategoryDense, shape.Shape{128})
	s := NewSampler(rand.New(rand.NewSource(3)))
	for i := 0; i < 200; i++ {
		spec, err := s.Sample(layers.MustLookup("Dense"), st)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if spec.Size < 32 || spec.Size > 1024 || spec.Size&(spec.Size-1) != 0 {
			t.Fatalf("dense size %d is not a power of two in range", spec.Size)
		}
		if spec.DropoutRate != p.DropoutRate || spec.Pooling || spec.Flatten {
			t.Fatalf("unexpected dense spec: %+v", spec)
		}
	}
}

func TestSampleConvBoundsKernelBySpatialDims(t *testing.T) {
	p := params.Default()
	p.ConvKernelLB, p.ConvKernelUB = 6, 6
	p.ConvStrideLB, p.ConvStrideUB = 3, 3
	p.Probs.Padding = []float64{0, 1}
	st := testState(t, false, p, layers.CategoryConv, shape.Shape{9, 3, 4})

	spec, err := NewSampler(rand.New(rand.NewSource(1))).Sample(layers.MustLookup("Conv2D"), st)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if spec.Kernel != 3 || spec.Degraded {
		t.Fatalf("kernel not bounded by spatial dims: %+v", spec)
	}
	if !spec.Flatten {
		t.Fatal("expected flatten forced by a dimension below the limit")
	}
}

func TestSampleRankMismatchIsShapeError(t *testing.T) {
	p := params.Default()
	s := NewSampler(rand.New(rand.NewSource(5)))
	cases := []struct {
		class string
		in    shape.Shape
	}{
		{"Conv2D", shape.Shape{64, 16}},
		{"Conv1D", shape.Shape{32, 32, 8}},
	}
	for _, tc := range cases {
		typ := layers.MustLookup(tc.class)
		st := testState(t, false, p, typ.Category(), tc.in)
		_, err := s.Sample(typ, st)
		var se *layers.ShapeError
		if !errors.As(err, &se) || !errors.Is(err, layers.ErrInvalidShape) {
			t.Fatalf("%s on %s: expected ShapeError, got: %v", tc.class, tc.in, err)
		}
		if se.Class != tc.class {
			t.Fatalf("unexpected error class: %s", se.Class)
		}
	}
}

func TestSampleTemporalDegradesCollapsingWindow(t *testing.T) {
	p := params.Default()
	p.ConvKernelLB, p.ConvKernelUB = 6, 6
	p.Probs.Padding = []float64{0, 1}
	st := testState(t, false, p, layers.CategoryTemporal, shape.Shape{3, 10})

	spec, err := NewSampler(rand.New(rand.NewSource(1))).Sample(layers.MustLookup("Conv1D"), st)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	k, stride, pad := shape.Safe()
	if !spec.Degraded || spec.Kernel != k || spec.Stride != stride || spec.Padding != pad {
		t.Fatalf("expected the safe window, got: %+v", spec)
	}
}

func TestSampleWindowAlwaysPredictsPositive(t *testing.T) {
	p := params.Default()
	p.ConvStrideUB = 8
	s := NewSampler(rand.New(rand.NewSource(11)))
	for i := 0; i < 500; i++ {
		category, class := layers.CategoryConv, "Conv2D"
		in := shape.Shape{1 + i%12, 1 + (i*7)%12, 3}
		if i%2 == 1 {
			category, class = layers.CategoryTemporal, "Conv1D"
			in = shape.Shape{1 + i%9, 16}
		}
		st := testState(t, false, p, category, in)
		spec, err := s.Sample(layers.MustLookup(class), st)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if _, ok := shape.Predict(in, spec.Kernel, spec.Stride, spec.Padding); !ok {
			t.Fatalf("sampled window collapses %s: %+v", in, spec)
		}
	}
}

func TestSampleTemporalHasNoPooling(t *testing.T) {
	p := params.Default()
	p.PoolingChance = 1
	st := testState(t, true, p, layers.CategoryTemporal, shape.Shape{64, 100})
	spec, err := NewSampler(rand.New(rand.NewSource(5))).Sample(layers.MustLookup("QConv1D"), st)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if spec.Pooling || !spec.Quantized || !layers.IsQuantizedName(spec.Activation) {
		t.Fatalf("unexpected temporal spec: %+v", spec)
	}
}

func TestSampleQuantizedPoolingIsAverage(t *testing.T) {
	p := params.Default()
	p.PoolingChance = 1
	st := testState(t, true, p, layers.CategoryConv, shape.Shape{32, 32, 8})
	spec, err := NewSampler(rand.New(rand.NewSource(5))).Sample(layers.MustLookup("QConv2D"), st)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !spec.Pooling || spec.PoolClass != "QAveragePooling2D" {
		t.Fatalf("unexpected pooling: %+v", spec)
	}
}

func TestWeightedIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		got, err := weightedIndex(rng, "x", []float64{0, 1, 0}, 3)
		if err != nil || got != 1 {
			t.Fatalf("got=%d err=%v", got, err)
		}
	}
	if _, err := weightedIndex(rng, "x", []float64{0, 0}, 2); !errors.Is(err, ErrZeroWeights) {
		t.Fatalf("expected ErrZeroWeights, got: %v", err)
	}
	if _, err := weightedIndex(rng, "x", nil, 0); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got: %v", err)
	}
	if _, err := weightedIndex(rng, "x", []float64{1}, 2); !errors.Is(err, params.ErrProbabilityLength) {
		t.Fatalf("expected ErrProbabilityLength, got: %v", err)
	}
}

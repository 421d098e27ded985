package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"netsynth/internal/layers"
	"netsynth/internal/params"
	"netsynth/internal/shape"
)

var (
	ErrZeroWeights  = errors.New("every candidate weight is zero")
	ErrNoCandidates = errors.New("no candidate survives filtering")
)

// LayerSpec is one sampled layer: the primary type and everything that
// decides which auxiliary nodes follow it.
type LayerSpec struct {
	Category  layers.Category
	Type      layers.Type
	Quantized bool

	// Size is the unit count for dense layers and the filter count for
	// convolutions.
	Size        int
	Kernel      int
	Stride      int
	Padding     shape.Padding
	Activation  string
	UseBias     bool
	Pooling     bool
	PoolClass   string
	Dropout     bool
	DropoutRate float64
	Flatten     bool
	// Degraded is set when the sampled window would have collapsed a spatial
	// axis and the safe window was used instead.
	Degraded bool

	Output shape.Shape
}

// Sampler draws layer hyperparameters. It never fails on shape grounds:
// windows that would collapse are replaced by shape.Safe.
type Sampler struct {
	rng *rand.Rand
}

func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{rng: ensureRNG(rng)}
}

// Sample draws the hyperparameters of one primary layer of type t. A running
// shape whose rank does not fit t's category is reported as a *layers.ShapeError
// so the generator treats it like any other construction failure.
func (s *Sampler) Sample(t layers.Type, st *State) (LayerSpec, error) {
	p := st.Params
	spec := LayerSpec{Category: t.Category(), Type: t, Quantized: st.Quantized}

	i, err := s.weighted("activations", st.Probs.Activations, len(st.Activations))
	if err != nil {
		return LayerSpec{}, err
	}
	spec.Activation = st.Activations[i]
	spec.UseBias = s.rng.Float64() < p.BiasRate

	switch spec.Category {
	case layers.CategoryDense:
		spec.Size = clipPow2(s.randInt(p.DenseLB, p.DenseUB))
		spec.Dropout = s.rng.Float64() < p.DropoutChance
		spec.DropoutRate = p.DropoutRate
	case layers.CategoryConv:
		if st.Shape.Rank() != 3 {
			return LayerSpec{}, &layers.ShapeError{Class: t.ClassName, Input: st.Shape.Clone(), Reason: "convolution needs a rank 3 input"}
		}
		spec.Size = clipPow2(s.randInt(p.ConvOutFiltersLB, p.ConvOutFiltersUB))
		rows, cols := st.Shape[0], st.Shape[1]
		spec.Flatten = s.rng.Float64() < p.FlattenChance || rows < p.ConvFlattenLimit || cols < p.ConvFlattenLimit
		spec.Pooling = s.rng.Float64() < p.PoolingChance
		if err := s.window(&spec, st); err != nil {
			return LayerSpec{}, err
		}
		if spec.Pooling {
			spec.PoolClass, err = s.poolClass(st)
			if err != nil {
				return LayerSpec{}, err
			}
		}
	case layers.CategoryTemporal:
		if st.Shape.Rank() != 2 {
			return LayerSpec{}, &layers.ShapeError{Class: t.ClassName, Input: st.Shape.Clone(), Reason: "temporal layer needs a rank 2 input"}
		}
		spec.Size = clipPow2(s.randInt(p.ConvOutFiltersLB, p.ConvOutFiltersUB))
		spec.Flatten = s.rng.Float64() < p.FlattenChance
		if err := s.window(&spec, st); err != nil {
			return LayerSpec{}, err
		}
	default:
		return LayerSpec{}, fmt.Errorf("%w: %s has no synthesis category", layers.ErrUnsupportedLayerKind, t.ClassName)
	}
	return spec, nil
}

// window draws padding, kernel and stride for a spatial layer and degrades
// to the safe window when the prediction collapses. Only 2D kernels are
// bounded by the current spatial dims.
func (s *Sampler) window(spec *LayerSpec, st *State) error {
	p := st.Params
	i, err := s.weighted("padding", st.Probs.Padding, len(shape.Paddings))
	if err != nil {
		return err
	}
	spec.Padding = shape.Paddings[i]
	spec.Kernel = s.randInt(p.ConvKernelLB, p.ConvKernelUB)
	if spec.Category == layers.CategoryConv {
		for _, d := range st.Shape.Spatial() {
			spec.Kernel = min(spec.Kernel, d)
		}
	}
	spec.Stride = s.randInt(p.ConvStrideLB, p.ConvStrideUB)

	if _, ok := shape.Predict(st.Shape, spec.Kernel, spec.Stride, spec.Padding); !ok {
		spec.Kernel, spec.Stride, spec.Padding = shape.Safe()
		spec.Degraded = true
	}
	return nil
}

func (s *Sampler) poolClass(st *State) (string, error) {
	if st.Quantized {
		return "QAveragePooling2D", nil
	}
	i, err := s.weighted("pooling", st.Probs.Pooling, len(params.PoolingClasses))
	if err != nil {
		return "", err
	}
	return params.PoolingClasses[i], nil
}

func (s *Sampler) randInt(lb, ub int) int {
	if ub <= lb {
		return lb
	}
	return lb + s.rng.Intn(ub-lb+1)
}

func (s *Sampler) weighted(name string, weights []float64, n int) (int, error) {
	return weightedIndex(s.rng, name, weights, n)
}

// weightedIndex draws an index in [0,n) with the given weights.
func weightedIndex(rng *rand.Rand, name string, weights []float64, n int) (int, error) {
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoCandidates, name)
	}
	if len(weights) != n {
		return 0, fmt.Errorf("%w: %s has %d weights for %d candidates", params.ErrProbabilityLength, name, len(weights), n)
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrZeroWeights, name)
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i, nil
		}
	}
	for i := n - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i, nil
		}
	}
	return n - 1, nil
}

// clipPow2 rounds x to the nearest power of two in log space.
func clipPow2(x int) int {
	if x <= 1 {
		return 1
	}
	return 1 << int(math.Round(math.Log2(float64(x))))
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

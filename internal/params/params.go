// Package params holds the knobs of network synthesis: numeric bounds,
// Bernoulli rates, quantization widths and categorical weight vectors.
package params

import (
	"errors"
	"fmt"

	"netsynth/internal/layers"
	"netsynth/internal/shape"
)

var (
	ErrInvalidParameters = errors.New("invalid generation parameters")
	ErrProbabilityLength = errors.New("probability vector length does not match candidate list")
)

// Probs holds categorical weight vectors. An empty vector means uniform over
// whatever survives filtering.
type Probs struct {
	Activations []float64 `json:"activations"`
	StartLayers []float64 `json:"start_layers"`
	DenseLayers []float64 `json:"dense_layers"`
	ConvLayers  []float64 `json:"conv_layers"`
	TimeLayers  []float64 `json:"time_layers"`
	// Padding weights same then valid.
	Padding []float64 `json:"padding"`
	// Pooling weights MaxPooling2D then AveragePooling2D.
	Pooling []float64 `json:"pooling"`
}

// LayerLists overrides the candidate universes by class name. Empty lists
// keep the defaults.
type LayerLists struct {
	Start []string `json:"start_layers,omitempty"`
	Dense []string `json:"dense_layers,omitempty"`
	Conv  []string `json:"conv_layers,omitempty"`
	Time  []string `json:"time_layers,omitempty"`
}

func (p Probs) Clone() Probs {
	return Probs{
		Activations: cloneFloats(p.Activations),
		StartLayers: cloneFloats(p.StartLayers),
		DenseLayers: cloneFloats(p.DenseLayers),
		ConvLayers:  cloneFloats(p.ConvLayers),
		TimeLayers:  cloneFloats(p.TimeLayers),
		Padding:     cloneFloats(p.Padding),
		Pooling:     cloneFloats(p.Pooling),
	}
}

type Parameters struct {
	DenseLB int `json:"dense_lb"`
	DenseUB int `json:"dense_ub"`

	ConvInitSizeLB   int `json:"conv_init_size_lb"`
	ConvInitSizeUB   int `json:"conv_init_size_ub"`
	ConvFiltersLB    int `json:"conv_filters_lb"`
	ConvFiltersUB    int `json:"conv_filters_ub"`
	ConvOutFiltersLB int `json:"conv_out_filters_lb"`
	ConvOutFiltersUB int `json:"conv_out_filters_ub"`
	ConvStrideLB     int `json:"conv_stride_lb"`
	ConvStrideUB     int `json:"conv_stride_ub"`
	ConvKernelLB     int `json:"conv_kernel_lb"`
	ConvKernelUB     int `json:"conv_kernel_ub"`
	ConvFlattenLimit int `json:"conv_flatten_limit"`

	TimeLB int `json:"time_lb"`
	TimeUB int `json:"time_ub"`

	QChance        float64 `json:"q_chance"`
	ActivBitWidth  int     `json:"activ_bit_width"`
	ActivIntWidth  int     `json:"activ_int_width"`
	WeightBitWidth int     `json:"weight_bit_width"`
	WeightIntWidth int     `json:"weight_int_width"`

	ActivationRate float64 `json:"activation_rate"`
	DropoutChance  float64 `json:"dropout_chance"`
	DropoutRate    float64 `json:"dropout_rate"`
	FlattenChance  float64 `json:"flatten_chance"`
	PoolingChance  float64 `json:"pooling_chance"`
	BiasRate       float64 `json:"bias_rate"`

	Probs  Probs      `json:"probs"`
	Layers LayerLists `json:"layers,omitempty"`
}

func Default() Parameters {
	return Parameters{
		DenseLB:          32,
		DenseUB:          1024,
		ConvInitSizeLB:   32,
		ConvInitSizeUB:   128,
		ConvFiltersLB:    3,
		ConvFiltersUB:    64,
		ConvOutFiltersLB: 3,
		ConvOutFiltersUB: 256,
		ConvStrideLB:     1,
		ConvStrideUB:     3,
		ConvKernelLB:     1,
		ConvKernelUB:     6,
		ConvFlattenLimit: 8,
		TimeLB:           30,
		TimeUB:           150,
		QChance:          0.5,
		ActivBitWidth:    8,
		ActivIntWidth:    4,
		WeightBitWidth:   6,
		WeightIntWidth:   3,
		ActivationRate:   0.5,
		DropoutChance:    0.5,
		DropoutRate:      0.4,
		FlattenChance:    0.5,
		PoolingChance:    0.5,
		BiasRate:         0.5,
		Probs: Probs{
			Padding: []float64{0.5, 0.5},
			Pooling: []float64{0.5, 0.5},
		},
	}
}

// Clone deep-copies p. Synthesis mutates its own copy.
func (p Parameters) Clone() Parameters {
	out := p
	out.Probs = p.Probs.Clone()
	out.Layers = LayerLists{
		Start: cloneStrings(p.Layers.Start),
		Dense: cloneStrings(p.Layers.Dense),
		Conv:  cloneStrings(p.Layers.Conv),
		Time:  cloneStrings(p.Layers.Time),
	}
	return out
}

func (p Parameters) Validate() error {
	bounds := []struct {
		name   string
		lb, ub int
	}{
		{"dense", p.DenseLB, p.DenseUB},
		{"conv_init_size", p.ConvInitSizeLB, p.ConvInitSizeUB},
		{"conv_filters", p.ConvFiltersLB, p.ConvFiltersUB},
		{"conv_out_filters", p.ConvOutFiltersLB, p.ConvOutFiltersUB},
		{"conv_stride", p.ConvStrideLB, p.ConvStrideUB},
		{"conv_kernel", p.ConvKernelLB, p.ConvKernelUB},
		{"time", p.TimeLB, p.TimeUB},
	}
	for _, b := range bounds {
		if b.lb <= 0 {
			return fmt.Errorf("%w: %s_lb must be > 0, got %d", ErrInvalidParameters, b.name, b.lb)
		}
		if b.lb > b.ub {
			return fmt.Errorf("%w: %s_lb=%d exceeds %s_ub=%d", ErrInvalidParameters, b.name, b.lb, b.name, b.ub)
		}
	}
	if p.ConvFlattenLimit < 0 {
		return fmt.Errorf("%w: conv_flatten_limit must be >= 0", ErrInvalidParameters)
	}

	chances := []struct {
		name  string
		value float64
	}{
		{"q_chance", p.QChance},
		{"activation_rate", p.ActivationRate},
		{"dropout_chance", p.DropoutChance},
		{"flatten_chance", p.FlattenChance},
		{"pooling_chance", p.PoolingChance},
		{"bias_rate", p.BiasRate},
	}
	for _, c := range chances {
		if c.value < 0 || c.value > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidParameters, c.name, c.value)
		}
	}
	if p.DropoutRate < 0 || p.DropoutRate >= 1 {
		return fmt.Errorf("%w: dropout_rate must be in [0,1), got %v", ErrInvalidParameters, p.DropoutRate)
	}

	if p.ActivBitWidth <= 0 || p.ActivIntWidth < 0 || p.ActivIntWidth > p.ActivBitWidth {
		return fmt.Errorf("%w: activation quantizer (%d,%d)", ErrInvalidParameters, p.ActivBitWidth, p.ActivIntWidth)
	}
	if p.WeightBitWidth <= 0 || p.WeightIntWidth < 0 || p.WeightIntWidth > p.WeightBitWidth {
		return fmt.Errorf("%w: weight quantizer (%d,%d)", ErrInvalidParameters, p.WeightBitWidth, p.WeightIntWidth)
	}

	vectors := map[string][]float64{
		"activations":  p.Probs.Activations,
		"start_layers": p.Probs.StartLayers,
		"dense_layers": p.Probs.DenseLayers,
		"conv_layers":  p.Probs.ConvLayers,
		"time_layers":  p.Probs.TimeLayers,
		"padding":      p.Probs.Padding,
		"pooling":      p.Probs.Pooling,
	}
	for name, weights := range vectors {
		for _, w := range weights {
			if w < 0 {
				return fmt.Errorf("%w: probs.%s has a negative weight", ErrInvalidParameters, name)
			}
		}
	}
	if n := len(p.Probs.Padding); n != 0 && n != len(shape.Paddings) {
		return fmt.Errorf("%w: probs.padding has %d weights, want %d", ErrProbabilityLength, n, len(shape.Paddings))
	}
	if n := len(p.Probs.Pooling); n != 0 && n != len(PoolingClasses) {
		return fmt.Errorf("%w: probs.pooling has %d weights, want %d", ErrProbabilityLength, n, len(PoolingClasses))
	}

	if _, err := p.Universe(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}

// PoolingClasses are the non-quantized pooling choices weighted by probs.pooling.
var PoolingClasses = []string{"MaxPooling2D", "AveragePooling2D"}

// Universe resolves the candidate layer lists, applying any class-name
// overrides on top of the default universe.
func (p Parameters) Universe() (layers.Universe, error) {
	u := layers.DefaultUniverse()
	overrides := []struct {
		names []string
		dst   *[]layers.Type
		want  layers.Category
	}{
		{p.Layers.Start, &u.Start, layers.CategoryNone},
		{p.Layers.Dense, &u.Dense, layers.CategoryDense},
		{p.Layers.Conv, &u.Conv, layers.CategoryConv},
		{p.Layers.Time, &u.Temporal, layers.CategoryTemporal},
	}
	for _, o := range overrides {
		if len(o.names) == 0 {
			continue
		}
		types, err := layers.LookupAll(o.names)
		if err != nil {
			return layers.Universe{}, err
		}
		for _, t := range types {
			if !t.Kind.Primary() {
				return layers.Universe{}, fmt.Errorf("%s is not a primary layer", t.ClassName)
			}
			if o.want != layers.CategoryNone && t.Category() != o.want {
				return layers.Universe{}, fmt.Errorf("%s is %s, not %s", t.ClassName, t.Category(), o.want)
			}
		}
		*o.dst = types
	}
	return u, nil
}

func cloneFloats(xs []float64) []float64 {
	if xs == nil {
		return nil
	}
	return append([]float64(nil), xs...)
}

func cloneStrings(xs []string) []string {
	if xs == nil {
		return nil
	}
	return append([]string(nil), xs...)
}

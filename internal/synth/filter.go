package synth

import (
	"netsynth/internal/layers"
	"netsynth/internal/params"
	"netsynth/internal/shape"
)

// Filtered is the outcome of the layer category filter for one attempt.
type Filtered struct {
	Quantized   bool
	Universe    layers.Universe
	Activations []string
	Probs       params.Probs
}

// Filter keeps the layer types whose quantized tag matches the run mode,
// adapts the activation catalogue and aligns every weight vector with the
// surviving candidates.
func Filter(quantized bool, p params.Parameters, u layers.Universe) (Filtered, error) {
	out := Filtered{Quantized: quantized}

	lists := []struct {
		name    string
		src     []layers.Type
		dst     *[]layers.Type
		weights []float64
		aligned *[]float64
	}{
		{"start_layers", u.Start, &out.Universe.Start, p.Probs.StartLayers, &out.Probs.StartLayers},
		{"dense_layers", u.Dense, &out.Universe.Dense, p.Probs.DenseLayers, &out.Probs.DenseLayers},
		{"conv_layers", u.Conv, &out.Universe.Conv, p.Probs.ConvLayers, &out.Probs.ConvLayers},
		{"time_layers", u.Temporal, &out.Universe.Temporal, p.Probs.TimeLayers, &out.Probs.TimeLayers},
	}
	for _, l := range lists {
		keep := make([]bool, len(l.src))
		kept := make([]layers.Type, 0, len(l.src))
		for i, t := range l.src {
			if t.Quantized == quantized {
				keep[i] = true
				kept = append(kept, t)
			}
		}
		weights, err := params.Align(l.name, l.weights, keep)
		if err != nil {
			return Filtered{}, err
		}
		*l.dst = kept
		*l.aligned = weights
	}

	keep := make([]bool, len(layers.Activations))
	for i, act := range layers.Activations {
		if quantized && !layers.SupportsQuantized(act) {
			continue
		}
		keep[i] = true
		if quantized {
			act = layers.QuantizedName(act, p.ActivBitWidth, p.ActivIntWidth)
		}
		out.Activations = append(out.Activations, act)
	}
	weights, err := params.Align("activations", p.Probs.Activations, keep)
	if err != nil {
		return Filtered{}, err
	}
	out.Probs.Activations = weights

	out.Probs.Padding = p.Probs.Padding
	if len(out.Probs.Padding) == 0 {
		out.Probs.Padding = params.Uniform(len(shape.Paddings))
	}
	out.Probs.Pooling = p.Probs.Pooling
	if len(out.Probs.Pooling) == 0 {
		out.Probs.Pooling = params.Uniform(len(params.PoolingClasses))
	}
	out.Probs.Padding = append([]float64(nil), out.Probs.Padding...)
	out.Probs.Pooling = append([]float64(nil), out.Probs.Pooling...)
	return out, nil
}

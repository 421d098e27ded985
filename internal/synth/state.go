// Package synth randomly synthesizes shape-consistent network graphs.
package synth

import (
	"netsynth/internal/layers"
	"netsynth/internal/params"
	"netsynth/internal/shape"
)

// State is the mutable state of one synthesis attempt. It is rebuilt from
// scratch on every retry.
type State struct {
	Category  layers.Category
	Shape     shape.Shape
	Depth     int
	Quantized bool

	Universe    layers.Universe
	Activations []string
	Probs       params.Probs
	// Params is the attempt's private copy; flatten chance and dropout rate
	// are forced near the end of the network.
	Params params.Parameters
}

func newState(f Filtered, p params.Parameters) *State {
	return &State{
		Quantized:   f.Quantized,
		Universe:    f.Universe,
		Activations: f.Activations,
		Probs:       f.Probs,
		Params:      p,
	}
}

// Snapshot returns a copy that does not share slices with s.
func (s *State) Snapshot() State {
	out := *s
	out.Shape = s.Shape.Clone()
	out.Universe = s.Universe.Clone()
	out.Activations = append([]string(nil), s.Activations...)
	out.Probs = s.Probs.Clone()
	out.Params = s.Params.Clone()
	return out
}

// categoryWeights returns the candidate list and aligned weights for c.
func (s *State) categoryWeights(c layers.Category) ([]layers.Type, []float64) {
	switch c {
	case layers.CategoryDense:
		return s.Universe.Dense, s.Probs.DenseLayers
	case layers.CategoryConv:
		return s.Universe.Conv, s.Probs.ConvLayers
	case layers.CategoryTemporal:
		return s.Universe.Temporal, s.Probs.TimeLayers
	default:
		return nil, nil
	}
}

package layers

import (
	"errors"
	"fmt"

	"netsynth/internal/shape"
)

var (
	ErrInvalidShape         = errors.New("invalid layer shape")
	ErrUnsupportedLayerKind = errors.New("unsupported layer kind")
	ErrInvalidHyper         = errors.New("invalid layer hyperparameters")
)

const defaultPoolSize = 2

// Quantizer is a fixed-point quantizer with Bits total and Integer integer bits.
type Quantizer struct {
	Bits    int `json:"bits"`
	Integer int `json:"integer"`
}

// Hyper is the declarative description a layer is constructed from. Fields
// not used by a kind are ignored.
type Hyper struct {
	Units      int
	Filters    int
	Kernel     int
	Stride     int
	Padding    shape.Padding
	UseBias    bool
	Activation string
	Rate       float64
	PoolSize   int
	Quantizer  *Quantizer
}

// Layer is a constructed layer with its inferred output shape.
type Layer struct {
	Type   Type
	Name   string
	Hyper  Hyper
	Input  shape.Shape
	Output shape.Shape
}

func (l Layer) OutputShape() shape.Shape {
	return l.Output.Clone()
}

// ShapeError reports a layer whose output would have a non-positive axis or
// whose input rank does not fit the kind.
type ShapeError struct {
	Layer  string
	Class  string
	Input  shape.Shape
	Output shape.Shape
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Output != nil {
		return fmt.Sprintf("%s (%s): %s: input=%s output=%s", e.Layer, e.Class, e.Reason, e.Input, e.Output)
	}
	return fmt.Sprintf("%s (%s): %s: input=%s", e.Layer, e.Class, e.Reason, e.Input)
}

func (e *ShapeError) Unwrap() error {
	return ErrInvalidShape
}

// Construct builds a layer of type t on an input of shape in and infers its
// output shape.
func Construct(t Type, name string, h Hyper, in shape.Shape) (Layer, error) {
	l := Layer{Type: t, Name: name, Hyper: h, Input: in.Clone()}
	shapeErr := func(reason string, out shape.Shape) error {
		return &ShapeError{Layer: name, Class: t.ClassName, Input: in.Clone(), Output: out, Reason: reason}
	}
	if !in.Valid() {
		return Layer{}, shapeErr("input has a non-positive axis", nil)
	}

	switch t.Kind {
	case KindInput, KindActivation:
		l.Output = in.Clone()
	case KindDropout:
		if h.Rate < 0 || h.Rate >= 1 {
			return Layer{}, fmt.Errorf("%w: %s dropout rate %v outside [0,1)", ErrInvalidHyper, name, h.Rate)
		}
		l.Output = in.Clone()
	case KindDense:
		if h.Units <= 0 {
			return Layer{}, fmt.Errorf("%w: %s units=%d", ErrInvalidHyper, name, h.Units)
		}
		out := in.Clone()
		out[len(out)-1] = h.Units
		l.Output = out
	case KindConv2D, KindDepthwiseConv2D, KindSeparableConv2D, KindConv1D, KindSeparableConv1D:
		wantRank := 3
		if t.Kind == KindConv1D || t.Kind == KindSeparableConv1D {
			wantRank = 2
		}
		if in.Rank() != wantRank {
			return Layer{}, shapeErr(fmt.Sprintf("expected rank %d input", wantRank), nil)
		}
		padding := h.Padding
		if padding == "" {
			padding = shape.PaddingValid
		}
		out, ok := shape.Predict(in, h.Kernel, h.Stride, padding)
		if !ok {
			return Layer{}, shapeErr("window collapses a spatial axis", out)
		}
		if t.Kind != KindDepthwiseConv2D {
			if h.Filters <= 0 {
				return Layer{}, fmt.Errorf("%w: %s filters=%d", ErrInvalidHyper, name, h.Filters)
			}
			out[len(out)-1] = h.Filters
		}
		l.Hyper.Padding = padding
		l.Output = out
	case KindMaxPooling2D, KindAveragePooling2D:
		if in.Rank() != 3 {
			return Layer{}, shapeErr("expected rank 3 input", nil)
		}
		pool := h.PoolSize
		if pool <= 0 {
			pool = defaultPoolSize
		}
		out, ok := shape.Predict(in, pool, pool, shape.PaddingValid)
		if !ok {
			return Layer{}, shapeErr("pool window larger than input", out)
		}
		l.Hyper.PoolSize = pool
		l.Output = out
	case KindFlatten:
		l.Output = shape.Shape{in.Size()}
	case KindRecurrent:
		return Layer{}, fmt.Errorf("%w: %s", ErrUnsupportedLayerKind, t.ClassName)
	default:
		return Layer{}, fmt.Errorf("%w: %s", ErrUnsupportedLayerKind, t.Kind)
	}
	return l, nil
}

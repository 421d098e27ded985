package params

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads a JSON parameter file and overlays it on the defaults.
func Load(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Parameters{}, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, path, err)
	}
	return FromMap(raw)
}

// FromMap overlays snake_case keys on the defaults. Unknown keys are
// ignored; a known key holding the wrong type is an error.
func FromMap(raw map[string]any) (Parameters, error) {
	p := Default()
	if err := p.Overlay(raw); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Overlay applies raw on top of p in place.
func (p *Parameters) Overlay(raw map[string]any) error {
	ints := map[string]*int{
		"dense_lb":            &p.DenseLB,
		"dense_ub":            &p.DenseUB,
		"conv_init_size_lb":   &p.ConvInitSizeLB,
		"conv_init_size_ub":   &p.ConvInitSizeUB,
		"conv_filters_lb":     &p.ConvFiltersLB,
		"conv_filters_ub":     &p.ConvFiltersUB,
		"conv_out_filters_lb": &p.ConvOutFiltersLB,
		"conv_out_filters_ub": &p.ConvOutFiltersUB,
		"conv_stride_lb":      &p.ConvStrideLB,
		"conv_stride_ub":      &p.ConvStrideUB,
		"conv_kernel_lb":      &p.ConvKernelLB,
		"conv_kernel_ub":      &p.ConvKernelUB,
		"conv_flatten_limit":  &p.ConvFlattenLimit,
		"time_lb":             &p.TimeLB,
		"time_ub":             &p.TimeUB,
		"activ_bit_width":     &p.ActivBitWidth,
		"activ_int_width":     &p.ActivIntWidth,
		"weight_bit_width":    &p.WeightBitWidth,
		"weight_int_width":    &p.WeightIntWidth,
	}
	for key, dst := range ints {
		v, present := raw[key]
		if !present {
			continue
		}
		n, ok := asInt(v)
		if !ok {
			return fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameters, key, v)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"q_chance":        &p.QChance,
		"activation_rate": &p.ActivationRate,
		"dropout_chance":  &p.DropoutChance,
		"dropout_rate":    &p.DropoutRate,
		"flatten_chance":  &p.FlattenChance,
		"pooling_chance":  &p.PoolingChance,
		"bias_rate":       &p.BiasRate,
	}
	for key, dst := range floats {
		v, present := raw[key]
		if !present {
			continue
		}
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("%w: %s must be a number, got %v", ErrInvalidParameters, key, v)
		}
		*dst = f
	}

	if v, present := raw["probs"]; present {
		probsMap, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: probs must be an object", ErrInvalidParameters)
		}
		vectors := map[string]*[]float64{
			"activations":  &p.Probs.Activations,
			"start_layers": &p.Probs.StartLayers,
			"dense_layers": &p.Probs.DenseLayers,
			"conv_layers":  &p.Probs.ConvLayers,
			"time_layers":  &p.Probs.TimeLayers,
			"padding":      &p.Probs.Padding,
			"pooling":      &p.Probs.Pooling,
		}
		for key, dst := range vectors {
			v, present := probsMap[key]
			if !present {
				continue
			}
			weights, ok := asFloat64s(v)
			if !ok {
				return fmt.Errorf("%w: probs.%s must be a list of numbers", ErrInvalidParameters, key)
			}
			*dst = weights
		}
	}

	if v, present := raw["layers"]; present {
		layersMap, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: layers must be an object", ErrInvalidParameters)
		}
		lists := map[string]*[]string{
			"start_layers": &p.Layers.Start,
			"dense_layers": &p.Layers.Dense,
			"conv_layers":  &p.Layers.Conv,
			"time_layers":  &p.Layers.Time,
		}
		for key, dst := range lists {
			v, present := layersMap[key]
			if !present {
				continue
			}
			names, ok := asStrings(v)
			if !ok {
				return fmt.Errorf("%w: layers.%s must be a list of class names", ErrInvalidParameters, key)
			}
			*dst = names
		}
	}
	return nil
}

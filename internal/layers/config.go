package layers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"netsynth/internal/shape"
)

var ErrUnsupportedConfigKey = errors.New("unsupported layer config key")

// Config renders the layer's configuration the way the reference layer
// library serializes it. The result includes inherited keys that
// FromConfig rejects for some quantized classes.
func (l Layer) Config() map[string]any {
	keys := make([]string, 0, len(l.Type.accepted)+len(l.Type.inherited))
	for key := range l.Type.accepted {
		keys = append(keys, key)
	}
	keys = append(keys, l.Type.inherited...)

	cfg := make(map[string]any, len(keys))
	for _, key := range keys {
		cfg[key] = l.configValue(key)
	}
	return cfg
}

func (l Layer) spatialRank() int {
	switch l.Type.Kind {
	case KindConv1D, KindSeparableConv1D:
		return 1
	default:
		return 2
	}
}

func (l Layer) repeat(v int) []int {
	out := make([]int, l.spatialRank())
	for i := range out {
		out[i] = v
	}
	return out
}

func (l Layer) configValue(key string) any {
	h := l.Hyper
	switch key {
	case "name":
		return l.Name
	case "trainable":
		return true
	case "dtype":
		return "float32"
	case "batch_input_shape":
		dims := make([]any, 0, len(l.Output)+1)
		dims = append(dims, nil)
		for _, d := range l.Output {
			dims = append(dims, d)
		}
		return dims
	case "sparse", "ragged", "return_sequences":
		return false
	case "units":
		return h.Units
	case "filters":
		return h.Filters
	case "kernel_size":
		return l.repeat(h.Kernel)
	case "strides":
		if l.Type.Kind.Pooling() {
			return l.repeat(h.PoolSize)
		}
		return l.repeat(h.Stride)
	case "pool_size":
		return l.repeat(h.PoolSize)
	case "padding":
		if l.Type.Kind.Pooling() || h.Padding == "" {
			return string(shape.PaddingValid)
		}
		return string(h.Padding)
	case "data_format":
		return "channels_last"
	case "dilation_rate":
		return l.repeat(1)
	case "groups", "depth_multiplier":
		return 1
	case "activation":
		switch l.Type.Kind {
		case KindActivation:
			return h.Activation
		case KindAveragePooling2D:
			return nil
		default:
			return "linear"
		}
	case "recurrent_activation":
		return "sigmoid"
	case "use_bias":
		return h.UseBias
	case "rate":
		return h.Rate
	case "bias_initializer":
		return map[string]any{"class_name": "Zeros", "config": map[string]any{}}
	case "kernel_initializer", "depthwise_initializer", "pointwise_initializer":
		return map[string]any{"class_name": "GlorotUniform", "config": map[string]any{"seed": nil}}
	case "kernel_quantizer", "depthwise_quantizer", "pointwise_quantizer":
		if h.Quantizer == nil {
			return nil
		}
		return map[string]any{
			"class_name": "quantized_bits",
			"config": map[string]any{
				"bits":          h.Quantizer.Bits,
				"integer":       h.Quantizer.Integer,
				"symmetric":     0,
				"keep_negative": true,
				"alpha":         nil,
			},
		}
	default:
		// regularizers, constraints, ranges, noise_shape, seed, other quantizers
		return nil
	}
}

// FromConfig reconstructs a layer of class className from a serialized
// config. Keys the class constructor does not accept fail with
// ErrUnsupportedConfigKey. For InputLayer the shape comes from the config
// and in is ignored.
func FromConfig(className string, cfg map[string]any, in shape.Shape) (Layer, error) {
	t, err := Lookup(className)
	if err != nil {
		return Layer{}, err
	}
	for key := range cfg {
		if !t.Accepts(key) {
			return Layer{}, fmt.Errorf("%w: %s.%s", ErrUnsupportedConfigKey, className, key)
		}
	}

	name, _ := cfg["name"].(string)
	h := Hyper{}
	if v, ok := asInt(cfg["units"]); ok {
		h.Units = v
	}
	if v, ok := asInt(cfg["filters"]); ok {
		h.Filters = v
	}
	if v, ok := firstInt(cfg["kernel_size"]); ok {
		h.Kernel = v
	}
	if v, ok := firstInt(cfg["strides"]); ok {
		h.Stride = v
	}
	if v, ok := firstInt(cfg["pool_size"]); ok {
		h.PoolSize = v
	}
	if s, ok := cfg["padding"].(string); ok && !t.Kind.Pooling() {
		p, err := shape.ParsePadding(s)
		if err != nil {
			return Layer{}, fmt.Errorf("%s: %w", name, err)
		}
		h.Padding = p
	}
	if v, ok := cfg["use_bias"].(bool); ok {
		h.UseBias = v
	}
	if v, ok := cfg["rate"]; ok {
		if f, ok := asFloat64(v); ok {
			h.Rate = f
		}
	}
	if t.Kind == KindActivation {
		act, _ := cfg["activation"].(string)
		if strings.TrimSpace(act) == "" {
			return Layer{}, fmt.Errorf("%w: %s activation is required", ErrInvalidHyper, name)
		}
		h.Activation = act
	}
	for _, key := range []string{"kernel_quantizer", "depthwise_quantizer", "pointwise_quantizer"} {
		if q, ok := asQuantizer(cfg[key]); ok {
			h.Quantizer = q
			break
		}
	}

	if t.Kind == KindInput {
		dims, ok := cfg["batch_input_shape"].([]any)
		if !ok || len(dims) < 2 {
			return Layer{}, fmt.Errorf("%w: %s batch_input_shape is required", ErrInvalidHyper, name)
		}
		in = make(shape.Shape, 0, len(dims)-1)
		for _, d := range dims[1:] {
			v, ok := asInt(d)
			if !ok {
				return Layer{}, fmt.Errorf("%w: %s batch_input_shape has a non-integer axis", ErrInvalidHyper, name)
			}
			in = append(in, v)
		}
	}
	return Construct(t, name, h, in)
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func firstInt(v any) (int, bool) {
	switch xs := v.(type) {
	case []any:
		if len(xs) == 0 {
			return 0, false
		}
		return asInt(xs[0])
	case []int:
		if len(xs) == 0 {
			return 0, false
		}
		return xs[0], true
	default:
		return asInt(v)
	}
}

func asQuantizer(v any) (*Quantizer, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	inner, ok := m["config"].(map[string]any)
	if !ok {
		return nil, false
	}
	bits, ok1 := asInt(inner["bits"])
	integer, ok2 := asInt(inner["integer"])
	if !ok1 || !ok2 {
		return nil, false
	}
	return &Quantizer{Bits: bits, Integer: integer}, true
}

package layers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrTypeExists   = errors.New("layer type already registered")
	ErrTypeNotFound = errors.New("layer type not found")
)

// Type describes one concrete layer class. The quantized tag is fixed when
// the type is registered and never derived from the class name.
type Type struct {
	ClassName string
	Kind      Kind
	Quantized bool
	// BaseName prefixes auto-generated layer names, e.g. q_conv2d_3.
	BaseName string

	accepted  map[string]struct{}
	inherited []string
}

// TypeSpec registers a Type. Keys lists the config keys the class constructor
// accepts on reconstruction. Inherited lists keys the serializer writes for
// the class (carried over from its base convolution config) that the
// constructor rejects.
type TypeSpec struct {
	ClassName string
	Kind      Kind
	Quantized bool
	BaseName  string
	Keys      []string
	Inherited []string
}

func (t Type) Category() Category {
	return t.Kind.Category()
}

func (t Type) Accepts(key string) bool {
	_, ok := t.accepted[key]
	return ok
}

// InheritedKeys returns the serialized keys the constructor does not accept.
func (t Type) InheritedKeys() []string {
	return append([]string(nil), t.inherited...)
}

func (t Type) String() string {
	return t.ClassName
}

var typeRegistry = struct {
	mu sync.RWMutex
	m  map[string]Type
}{
	m: make(map[string]Type),
}

func init() {
	initializeBuiltInTypes()
}

func Register(spec TypeSpec) error {
	if spec.ClassName == "" {
		return errors.New("layer class name is required")
	}
	if spec.BaseName == "" {
		return errors.New("layer base name is required")
	}
	t := Type{
		ClassName: spec.ClassName,
		Kind:      spec.Kind,
		Quantized: spec.Quantized,
		BaseName:  spec.BaseName,
		accepted:  make(map[string]struct{}, len(spec.Keys)+len(commonKeys)),
		inherited: append([]string(nil), spec.Inherited...),
	}
	for _, key := range commonKeys {
		t.accepted[key] = struct{}{}
	}
	for _, key := range spec.Keys {
		t.accepted[key] = struct{}{}
	}

	typeRegistry.mu.Lock()
	defer typeRegistry.mu.Unlock()

	if _, exists := typeRegistry.m[spec.ClassName]; exists {
		return fmt.Errorf("%w: %s", ErrTypeExists, spec.ClassName)
	}
	typeRegistry.m[spec.ClassName] = t
	return nil
}

func MustRegister(spec TypeSpec) {
	if err := Register(spec); err != nil {
		panic(err)
	}
}

func Lookup(className string) (Type, error) {
	typeRegistry.mu.RLock()
	t, ok := typeRegistry.m[className]
	typeRegistry.mu.RUnlock()
	if !ok {
		return Type{}, fmt.Errorf("%w: %s", ErrTypeNotFound, className)
	}
	return t, nil
}

func MustLookup(className string) Type {
	t, err := Lookup(className)
	if err != nil {
		panic(err)
	}
	return t
}

// LookupAll resolves class names in order.
func LookupAll(classNames []string) ([]Type, error) {
	out := make([]Type, 0, len(classNames))
	for _, name := range classNames {
		t, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func List() []string {
	typeRegistry.mu.RLock()
	defer typeRegistry.mu.RUnlock()

	names := make([]string, 0, len(typeRegistry.m))
	for name := range typeRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	typeRegistry.mu.Lock()
	typeRegistry.m = make(map[string]Type)
	typeRegistry.mu.Unlock()
	initializeBuiltInTypes()
}

var commonKeys = []string{"name", "trainable", "dtype"}

var (
	denseKeys = []string{
		"units", "activation", "use_bias", "kernel_initializer", "bias_initializer",
		"kernel_regularizer", "bias_regularizer", "activity_regularizer",
		"kernel_constraint", "bias_constraint",
	}
	convKeys = []string{
		"filters", "kernel_size", "strides", "padding", "data_format", "dilation_rate",
		"groups", "activation", "use_bias", "kernel_initializer", "bias_initializer",
		"kernel_regularizer", "bias_regularizer", "activity_regularizer",
		"kernel_constraint", "bias_constraint",
	}
	depthwiseKeys = []string{
		"kernel_size", "strides", "padding", "data_format", "dilation_rate",
		"depth_multiplier", "activation", "use_bias", "depthwise_initializer",
		"bias_initializer", "depthwise_regularizer", "bias_regularizer",
		"activity_regularizer", "depthwise_constraint", "bias_constraint",
		"kernel_initializer",
	}
	separableKeys = []string{
		"filters", "kernel_size", "strides", "padding", "data_format", "dilation_rate",
		"depth_multiplier", "activation", "use_bias", "depthwise_initializer",
		"pointwise_initializer", "bias_initializer", "depthwise_regularizer",
		"pointwise_regularizer", "bias_regularizer", "activity_regularizer",
		"depthwise_constraint", "pointwise_constraint", "bias_constraint",
	}
	recurrentKeys = []string{
		"units", "activation", "recurrent_activation", "use_bias", "return_sequences",
	}
	quantizerKeys = []string{"kernel_quantizer", "bias_quantizer", "kernel_range", "bias_range"}
)

func withKeys(base []string, extra ...string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

func initializeBuiltInTypes() {
	MustRegister(TypeSpec{ClassName: "InputLayer", Kind: KindInput, BaseName: "input", Keys: []string{"batch_input_shape", "sparse", "ragged"}})

	MustRegister(TypeSpec{ClassName: "Dense", Kind: KindDense, BaseName: "dense", Keys: denseKeys})
	MustRegister(TypeSpec{ClassName: "QDense", Kind: KindDense, Quantized: true, BaseName: "q_dense", Keys: withKeys(denseKeys, quantizerKeys...)})

	MustRegister(TypeSpec{ClassName: "Conv2D", Kind: KindConv2D, BaseName: "conv2d", Keys: convKeys})
	MustRegister(TypeSpec{ClassName: "QConv2D", Kind: KindConv2D, Quantized: true, BaseName: "q_conv2d", Keys: withKeys(convKeys, quantizerKeys...)})
	MustRegister(TypeSpec{ClassName: "DepthwiseConv2D", Kind: KindDepthwiseConv2D, BaseName: "depthwise_conv2d", Keys: depthwiseKeys})
	MustRegister(TypeSpec{
		ClassName: "QDepthwiseConv2D", Kind: KindDepthwiseConv2D, Quantized: true, BaseName: "q_depthwise_conv2d",
		Keys:      withKeys(depthwiseKeys, "depthwise_quantizer", "bias_quantizer", "depthwise_range", "bias_range"),
		Inherited: []string{"groups", "kernel_regularizer", "kernel_constraint"},
	})
	MustRegister(TypeSpec{ClassName: "SeparableConv2D", Kind: KindSeparableConv2D, BaseName: "separable_conv2d", Keys: separableKeys})
	MustRegister(TypeSpec{
		ClassName: "QSeparableConv2D", Kind: KindSeparableConv2D, Quantized: true, BaseName: "q_separable_conv2d",
		Keys:      withKeys(separableKeys, "depthwise_quantizer", "pointwise_quantizer", "bias_quantizer"),
		Inherited: []string{"groups", "kernel_initializer", "kernel_regularizer", "kernel_constraint"},
	})

	MustRegister(TypeSpec{ClassName: "Conv1D", Kind: KindConv1D, BaseName: "conv1d", Keys: convKeys})
	MustRegister(TypeSpec{ClassName: "QConv1D", Kind: KindConv1D, Quantized: true, BaseName: "q_conv1d", Keys: withKeys(convKeys, quantizerKeys...)})
	MustRegister(TypeSpec{ClassName: "SeparableConv1D", Kind: KindSeparableConv1D, BaseName: "separable_conv1d", Keys: separableKeys})
	MustRegister(TypeSpec{
		ClassName: "QSeparableConv1D", Kind: KindSeparableConv1D, Quantized: true, BaseName: "q_separable_conv1d",
		Keys: withKeys(separableKeys, "depthwise_quantizer", "pointwise_quantizer", "bias_quantizer"),
	})
	MustRegister(TypeSpec{ClassName: "LSTM", Kind: KindRecurrent, BaseName: "lstm", Keys: recurrentKeys})
	MustRegister(TypeSpec{ClassName: "QLSTM", Kind: KindRecurrent, Quantized: true, BaseName: "qlstm", Keys: withKeys(recurrentKeys, quantizerKeys...)})

	MustRegister(TypeSpec{ClassName: "Activation", Kind: KindActivation, BaseName: "activation", Keys: []string{"activation"}})
	MustRegister(TypeSpec{ClassName: "QActivation", Kind: KindActivation, Quantized: true, BaseName: "q_activation", Keys: []string{"activation"}})
	MustRegister(TypeSpec{ClassName: "Dropout", Kind: KindDropout, BaseName: "dropout", Keys: []string{"rate", "noise_shape", "seed"}})
	poolKeys := []string{"pool_size", "padding", "strides", "data_format"}
	MustRegister(TypeSpec{ClassName: "MaxPooling2D", Kind: KindMaxPooling2D, BaseName: "max_pooling2d", Keys: poolKeys})
	MustRegister(TypeSpec{ClassName: "AveragePooling2D", Kind: KindAveragePooling2D, BaseName: "average_pooling2d", Keys: poolKeys})
	MustRegister(TypeSpec{ClassName: "QAveragePooling2D", Kind: KindAveragePooling2D, Quantized: true, BaseName: "q_average_pooling2d", Keys: withKeys(poolKeys, "average_quantizer", "activation")})
	MustRegister(TypeSpec{ClassName: "Flatten", Kind: KindFlatten, BaseName: "flatten", Keys: []string{"data_format"}})
}

// Universe is the set of candidate layer types per synthesis list.
type Universe struct {
	Start    []Type
	Dense    []Type
	Conv     []Type
	Temporal []Type
}

// DefaultUniverse returns the candidate lists a fresh generator starts from.
func DefaultUniverse() Universe {
	return Universe{
		Start:    mustLookupAll("Conv1D", "QConv1D", "Conv2D", "QConv2D", "QDense", "Dense", "QSeparableConv2D", "QDepthwiseConv2D"),
		Dense:    mustLookupAll("Dense", "QDense"),
		Conv:     mustLookupAll("QConv2D", "Conv2D", "QSeparableConv2D", "QDepthwiseConv2D"),
		Temporal: mustLookupAll("Conv1D", "QConv1D"),
	}
}

// ForCategory returns the candidate list for a primary category.
func (u Universe) ForCategory(c Category) []Type {
	switch c {
	case CategoryDense:
		return u.Dense
	case CategoryConv:
		return u.Conv
	case CategoryTemporal:
		return u.Temporal
	default:
		return nil
	}
}

func (u Universe) Clone() Universe {
	return Universe{
		Start:    append([]Type(nil), u.Start...),
		Dense:    append([]Type(nil), u.Dense...),
		Conv:     append([]Type(nil), u.Conv...),
		Temporal: append([]Type(nil), u.Temporal...),
	}
}

func mustLookupAll(names ...string) []Type {
	out, err := LookupAll(names)
	if err != nil {
		panic(err)
	}
	return out
}

// ClassNames returns the class names of types in order.
func ClassNames(types []Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.ClassName
	}
	return out
}

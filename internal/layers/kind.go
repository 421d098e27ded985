package layers

import "fmt"

// Category groups layer kinds by the shape rules they follow.
type Category string

const (
	CategoryNone     Category = ""
	CategoryDense    Category = "dense"
	CategoryConv     Category = "conv"
	CategoryTemporal Category = "temporal"
)

// Categories lists the primary categories a synthesized network moves through.
var Categories = []Category{CategoryDense, CategoryConv, CategoryTemporal}

func (c Category) Spatial() bool {
	return c == CategoryConv || c == CategoryTemporal
}

// Kind is the operation a layer type performs, independent of quantization.
type Kind int

const (
	KindInput Kind = iota
	KindDense
	KindConv2D
	KindDepthwiseConv2D
	KindSeparableConv2D
	KindConv1D
	KindSeparableConv1D
	KindRecurrent
	KindActivation
	KindDropout
	KindMaxPooling2D
	KindAveragePooling2D
	KindFlatten
)

var kindNames = []string{
	"Input", "Dense", "Conv2D", "DepthwiseConv2D", "SeparableConv2D",
	"Conv1D", "SeparableConv1D", "Recurrent", "Activation", "Dropout",
	"MaxPooling2D", "AveragePooling2D", "Flatten",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Category reports which synthesis category a kind belongs to. Structural
// kinds (input, activation, dropout, pooling, flatten) have none.
func (k Kind) Category() Category {
	switch k {
	case KindDense:
		return CategoryDense
	case KindConv2D, KindDepthwiseConv2D, KindSeparableConv2D:
		return CategoryConv
	case KindConv1D, KindSeparableConv1D, KindRecurrent:
		return CategoryTemporal
	default:
		return CategoryNone
	}
}

// Primary reports whether the kind carries weights and counts toward depth.
func (k Kind) Primary() bool {
	return k.Category() != CategoryNone
}

func (k Kind) Pooling() bool {
	return k == KindMaxPooling2D || k == KindAveragePooling2D
}

package layers

import (
	"fmt"
	"strings"
)

const (
	NoActivation = "no_activation"
	Softmax      = "softmax"
)

// Activations is the activation catalogue in the order probability vectors
// weight it. NoActivation means no activation node is emitted.
var Activations = []string{NoActivation, "relu", "tanh", "sigmoid", Softmax}

// QuantizedName renders the quantized-activation identifier for act, e.g.
// quantized_relu(8,4).
func QuantizedName(act string, bits, integer int) string {
	return fmt.Sprintf("quantized_%s(%d,%d)", act, bits, integer)
}

// IsQuantizedName reports whether name follows the quantized naming convention.
func IsQuantizedName(name string) bool {
	return strings.HasPrefix(name, "quantized_") && strings.HasSuffix(name, ")")
}

// IsNoActivation matches both the plain and the quantized spelling.
func IsNoActivation(name string) bool {
	return strings.Contains(name, NoActivation)
}

// SupportsQuantized reports whether the quantized numeric path has act.
func SupportsQuantized(act string) bool {
	return act != Softmax
}

// Package shape computes tensor shapes through windowed operations
// (convolution and pooling) without building any layer.
package shape

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape is a tensor shape without the leading batch axis. For spatial
// tensors the last axis holds channels and every earlier axis is spatial.
type Shape []int

type Padding string

const (
	PaddingSame  Padding = "same"
	PaddingValid Padding = "valid"
)

// Paddings lists padding modes in the order probability vectors weight them.
var Paddings = []Padding{PaddingSame, PaddingValid}

func ParsePadding(s string) (Padding, error) {
	switch Padding(strings.ToLower(strings.TrimSpace(s))) {
	case PaddingSame:
		return PaddingSame, nil
	case PaddingValid:
		return PaddingValid, nil
	default:
		return "", fmt.Errorf("unsupported padding: %q", s)
	}
}

// Window returns the output length of one spatial axis of size d.
// same: ceil(d/stride); valid: floor((d-kernel)/stride) + 1.
func Window(d, kernel, stride int, padding Padding) int {
	if stride <= 0 || kernel <= 0 {
		return 0
	}
	if padding == PaddingSame {
		return ceilDiv(d, stride)
	}
	return floorDiv(d-kernel, stride) + 1
}

// Predict applies a square window to every spatial axis of in and keeps the
// channel axis. ok is false when any resulting spatial axis is not positive;
// callers are expected to fall back to Safe rather than use the result.
func Predict(in Shape, kernel, stride int, padding Padding) (out Shape, ok bool) {
	if len(in) < 2 {
		return nil, false
	}
	out = in.Clone()
	for i := 0; i < len(in)-1; i++ {
		out[i] = Window(in[i], kernel, stride, padding)
		if out[i] <= 0 {
			return out, false
		}
	}
	return out, true
}

// Safe is the configuration that never shrinks a spatial axis.
func Safe() (kernel, stride int, padding Padding) {
	return 1, 1, PaddingSame
}

func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	return append(Shape(nil), s...)
}

func (s Shape) Rank() int {
	return len(s)
}

// Spatial returns the spatial axes of s (every axis but the channels).
func (s Shape) Spatial() []int {
	if len(s) < 2 {
		return nil
	}
	return append([]int(nil), s[:len(s)-1]...)
}

func (s Shape) Channels() int {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// Size is the number of elements of one sample.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Valid reports whether every axis is positive.
func (s Shape) Valid() bool {
	if len(s) == 0 {
		return false
	}
	for _, d := range s {
		if d <= 0 {
			return false
		}
	}
	return true
}

func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

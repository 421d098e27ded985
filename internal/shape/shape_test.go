package shape

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowMatchesClosedForm(t *testing.T) {
	for d := 1; d <= 40; d++ {
		for kernel := 1; kernel <= 7; kernel++ {
			for stride := 1; stride <= 4; stride++ {
				same := Window(d, kernel, stride, PaddingSame)
				require.Equal(t, int(math.Ceil(float64(d)/float64(stride))), same, "same d=%d k=%d s=%d", d, kernel, stride)

				valid := Window(d, kernel, stride, PaddingValid)
				want := int(math.Floor(float64(d-kernel)/float64(stride))) + 1
				require.Equal(t, want, valid, "valid d=%d k=%d s=%d", d, kernel, stride)
			}
		}
	}
}

func TestPredictKeepsChannels(t *testing.T) {
	out, ok := Predict(Shape{32, 20, 16}, 3, 2, PaddingValid)
	require.True(t, ok)
	require.Equal(t, Shape{15, 9, 16}, out)

	out, ok = Predict(Shape{7, 9, 4}, 5, 3, PaddingSame)
	require.True(t, ok)
	require.Equal(t, Shape{3, 3, 4}, out)
}

func TestPredictFlagsCollapsedAxis(t *testing.T) {
	_, ok := Predict(Shape{3, 40, 8}, 5, 1, PaddingValid)
	require.False(t, ok)

	_, ok = Predict(Shape{16}, 1, 1, PaddingSame)
	require.False(t, ok, "rank-1 shapes have no spatial axis")

	_, ok = Predict(Shape{8, 8, 1}, 3, 0, PaddingSame)
	require.False(t, ok, "zero stride is never valid")
}

func TestSafeConfigurationPreservesShape(t *testing.T) {
	kernel, stride, padding := Safe()
	in := Shape{1, 1, 3}
	out, ok := Predict(in, kernel, stride, padding)
	require.True(t, ok)
	require.True(t, in.Equal(out))
}

func TestShapeHelpers(t *testing.T) {
	s := Shape{4, 5, 6}
	require.Equal(t, 120, s.Size())
	require.Equal(t, []int{4, 5}, s.Spatial())
	require.Equal(t, 6, s.Channels())
	require.Equal(t, "(4, 5, 6)", s.String())
	require.Equal(t, "(128,)", Shape{128}.String())
	require.False(t, Shape{4, 0}.Valid())

	clone := s.Clone()
	clone[0] = 99
	require.Equal(t, 4, s[0])
}

func TestParsePadding(t *testing.T) {
	p, err := ParsePadding(" Valid ")
	require.NoError(t, err)
	require.Equal(t, PaddingValid, p)

	_, err = ParsePadding("causal")
	require.Error(t, err)
}

package params

import "fmt"

// Uniform returns n equal weights summing to 1.
func Uniform(n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// Align fits an explicit weight vector to a filtered candidate list. keep
// marks which members of the unfiltered list survived. An empty vector
// yields a uniform distribution over the survivors; a vector as long as the
// unfiltered list is projected onto the survivors; a vector already as long
// as the survivor list is used as is.
func Align(name string, explicit []float64, keep []bool) ([]float64, error) {
	survivors := 0
	for _, k := range keep {
		if k {
			survivors++
		}
	}
	switch len(explicit) {
	case 0:
		return Uniform(survivors), nil
	case len(keep):
		out := make([]float64, 0, survivors)
		for i, k := range keep {
			if k {
				out = append(out, explicit[i])
			}
		}
		return out, nil
	case survivors:
		return cloneFloats(explicit), nil
	default:
		return nil, fmt.Errorf("%w: probs.%s has %d weights for %d candidates (%d before filtering)",
			ErrProbabilityLength, name, len(explicit), survivors, len(keep))
	}
}

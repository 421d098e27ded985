package synth

import (
	"errors"
	"strings"
	"testing"

	"netsynth/internal/layers"
	"netsynth/internal/params"
)

func TestFilterQuantizedDropsSoftmax(t *testing.T) {
	f, err := Filter(true, params.Default(), layers.DefaultUniverse())
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(f.Activations) != len(layers.Activations)-1 {
		t.Fatalf("unexpected activation count: %v", f.Activations)
	}
	for _, act := range f.Activations {
		if strings.Contains(act, layers.Softmax) {
			t.Fatalf("softmax survived quantized filtering: %v", f.Activations)
		}
		if !layers.IsQuantizedName(act) || !strings.HasSuffix(act, "(8,4)") {
			t.Fatalf("activation %q not in quantized form", act)
		}
	}
}

func TestFilterKeepsMatchingQuantizedTag(t *testing.T) {
	for _, quantized := range []bool{false, true} {
		f, err := Filter(quantized, params.Default(), layers.DefaultUniverse())
		if err != nil {
			t.Fatalf("filter quantized=%t: %v", quantized, err)
		}
		for _, list := range [][]layers.Type{f.Universe.Start, f.Universe.Dense, f.Universe.Conv, f.Universe.Temporal} {
			for _, typ := range list {
				if typ.Quantized != quantized {
					t.Fatalf("%s survived filtering with quantized=%t", typ, quantized)
				}
			}
		}
	}

	f, err := Filter(false, params.Default(), layers.DefaultUniverse())
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if got := strings.Join(layers.ClassNames(f.Universe.Start), ","); got != "Conv1D,Conv2D,Dense" {
		t.Fatalf("unexpected start list: %s", got)
	}
	if len(f.Activations) != len(layers.Activations) || f.Activations[4] != layers.Softmax {
		t.Fatalf("unexpected activations: %v", f.Activations)
	}
}

func TestFilterProbabilityLengthsMatchLists(t *testing.T) {
	explicit := map[string][]float64{
		"activations":  {0.2, 0.2, 0.2, 0.2, 0.2},
		"start_layers": {1, 1, 1, 1, 1, 1, 1, 1},
		"dense_layers": {0.5, 0.5},
		"conv_layers":  {0.1, 0.2, 0.3, 0.4},
		"time_layers":  {0.7, 0.3},
	}
	// every subset of explicit vectors, both modes
	keys := []string{"activations", "start_layers", "dense_layers", "conv_layers", "time_layers"}
	for mask := 0; mask < 1<<len(keys); mask++ {
		p := params.Default()
		for bit, key := range keys {
			if mask&(1<<bit) == 0 {
				continue
			}
			w := explicit[key]
			switch key {
			case "activations":
				p.Probs.Activations = w
			case "start_layers":
				p.Probs.StartLayers = w
			case "dense_layers":
				p.Probs.DenseLayers = w
			case "conv_layers":
				p.Probs.ConvLayers = w
			case "time_layers":
				p.Probs.TimeLayers = w
			}
		}
		for _, quantized := range []bool{false, true} {
			f, err := Filter(quantized, p, layers.DefaultUniverse())
			if err != nil {
				t.Fatalf("mask=%b quantized=%t: %v", mask, quantized, err)
			}
			checks := []struct {
				name    string
				weights int
				members int
			}{
				{"activations", len(f.Probs.Activations), len(f.Activations)},
				{"start", len(f.Probs.StartLayers), len(f.Universe.Start)},
				{"dense", len(f.Probs.DenseLayers), len(f.Universe.Dense)},
				{"conv", len(f.Probs.ConvLayers), len(f.Universe.Conv)},
				{"time", len(f.Probs.TimeLayers), len(f.Universe.Temporal)},
				{"padding", len(f.Probs.Padding), 2},
				{"pooling", len(f.Probs.Pooling), 2},
			}
			for _, c := range checks {
				if c.weights != c.members {
					t.Fatalf("mask=%b quantized=%t %s: %d weights for %d members", mask, quantized, c.name, c.weights, c.members)
				}
			}
		}
	}
}

func TestFilterRejectsMisalignedVector(t *testing.T) {
	p := params.Default()
	p.Probs.ConvLayers = []float64{1, 1, 1}
	if _, err := Filter(true, p, layers.DefaultUniverse()); !errors.Is(err, params.ErrProbabilityLength) {
		t.Fatalf("expected ErrProbabilityLength, got: %v", err)
	}
}

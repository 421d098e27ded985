package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("default parameters invalid: %v", err)
	}
	if p.DenseLB != 32 || p.DenseUB != 1024 || p.ConvFlattenLimit != 8 || p.DropoutRate != 0.4 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if len(p.Probs.Activations) != 0 || len(p.Probs.Padding) != 2 {
		t.Fatalf("unexpected default probs: %+v", p.Probs)
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := Default()
	p.Probs.DenseLayers = []float64{1, 0}
	p.Layers.Dense = []string{"Dense"}
	c := p.Clone()
	c.Probs.DenseLayers[0] = 0
	c.Probs.Padding[0] = 1
	c.Layers.Dense[0] = "QDense"
	c.FlattenChance = 1
	if p.Probs.DenseLayers[0] != 1 || p.Probs.Padding[0] != 0.5 || p.Layers.Dense[0] != "Dense" || p.FlattenChance != 0.5 {
		t.Fatalf("clone mutated source: %+v", p)
	}
}

func TestFromMapOverlaysDefaults(t *testing.T) {
	p, err := FromMap(map[string]any{
		"dense_lb":       float64(64),
		"q_chance":       float64(0),
		"flatten_chance": 1,
		"unknown_key":    "ignored",
		"probs": map[string]any{
			"dense_layers": []any{float64(1), float64(0)},
		},
		"layers": map[string]any{
			"dense_layers": []any{"Dense"},
		},
	})
	if err != nil {
		t.Fatalf("from map: %v", err)
	}
	if p.DenseLB != 64 || p.DenseUB != 1024 || p.QChance != 0 || p.FlattenChance != 1 {
		t.Fatalf("unexpected overlay: %+v", p)
	}
	if len(p.Probs.DenseLayers) != 2 || len(p.Probs.Pooling) != 2 {
		t.Fatalf("unexpected probs: %+v", p.Probs)
	}
	u, err := p.Universe()
	if err != nil {
		t.Fatalf("universe: %v", err)
	}
	if len(u.Dense) != 1 || u.Dense[0].ClassName != "Dense" {
		t.Fatalf("unexpected dense universe: %v", u.Dense)
	}
}

func TestFromMapRejectsWrongTypes(t *testing.T) {
	cases := []map[string]any{
		{"dense_lb": "big"},
		{"dense_lb": 1.5},
		{"bias_rate": "half"},
		{"probs": []any{1}},
		{"probs": map[string]any{"padding": "same"}},
		{"layers": map[string]any{"conv_layers": []any{1}}},
	}
	for _, raw := range cases {
		if _, err := FromMap(raw); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("expected ErrInvalidParameters for %v, got: %v", raw, err)
		}
	}
}

func TestValidateBounds(t *testing.T) {
	p := Default()
	p.ConvKernelLB = 7
	if err := p.Validate(); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected lb > ub error, got: %v", err)
	}

	p = Default()
	p.DropoutRate = 1
	if err := p.Validate(); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected dropout rate error, got: %v", err)
	}

	p = Default()
	p.Probs.Padding = []float64{1}
	if err := p.Validate(); !errors.Is(err, ErrProbabilityLength) {
		t.Fatalf("expected padding length error, got: %v", err)
	}

	p = Default()
	p.Layers.Conv = []string{"Dense"}
	if err := p.Validate(); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected category mismatch error, got: %v", err)
	}
}

func TestAlign(t *testing.T) {
	keep := []bool{true, false, true, false}

	got, err := Align("x", nil, keep)
	if err != nil || len(got) != 2 || got[0] != 0.5 {
		t.Fatalf("uniform: got=%v err=%v", got, err)
	}

	got, err = Align("x", []float64{1, 2, 3, 4}, keep)
	if err != nil || len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("projected: got=%v err=%v", got, err)
	}

	got, err = Align("x", []float64{0.9, 0.1}, keep)
	if err != nil || len(got) != 2 || got[0] != 0.9 {
		t.Fatalf("already filtered: got=%v err=%v", got, err)
	}

	if _, err := Align("x", []float64{1, 2, 3}, keep); !errors.Is(err, ErrProbabilityLength) {
		t.Fatalf("expected ErrProbabilityLength, got: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	if err := os.WriteFile(path, []byte(`{"time_lb": 10, "probs": {"activations": [1, 0, 0, 0, 0]}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.TimeLB != 10 || len(p.Probs.Activations) != 5 {
		t.Fatalf("unexpected params: %+v", p)
	}

	if err := os.WriteFile(path, []byte(`{`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got: %v", err)
	}
}

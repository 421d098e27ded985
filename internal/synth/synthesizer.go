package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"

	"netsynth/internal/graph"
	"netsynth/internal/layers"
	"netsynth/internal/params"
	"netsynth/internal/shape"
)

const DefaultMaxAttempts = 25

var ErrSynthesisExhausted = errors.New("synthesis exhausted retry attempts")

// StepHook runs after every synthesis step. Returning stop ends the run and
// makes value the result.
type StepHook func(g *graph.Graph, st State) (value any, stop bool)

// Counter tracks attempts and shape failures of one logical request across
// its restarts. The caller owns it; it is safe for concurrent use.
type Counter struct {
	mu       sync.Mutex
	attempts int
	failures int
}

func (c *Counter) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Counter) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func (c *Counter) attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return c.attempts
}

func (c *Counter) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

type Options struct {
	Rand        *rand.Rand
	Logger      *log.Logger
	MaxAttempts int
	Hook        StepHook
}

type Generator struct {
	params      params.Parameters
	universe    layers.Universe
	rng         *rand.Rand
	sampler     *Sampler
	logger      *log.Logger
	maxAttempts int
	hook        StepHook
}

func NewGenerator(p params.Parameters, opts Options) (*Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	u, err := p.Universe()
	if err != nil {
		return nil, err
	}
	rng := ensureRNG(opts.Rand)
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		params:      p.Clone(),
		universe:    u,
		rng:         rng,
		sampler:     NewSampler(rng),
		logger:      logger,
		maxAttempts: maxAttempts,
		hook:        opts.Hook,
	}, nil
}

type Request struct {
	// TotalLayers is the number of primary layers to emit.
	TotalLayers int
	// Name defaults to model_<id>.
	Name    string
	Counter *Counter
}

// StepRecord describes one synthesis step.
type StepRecord struct {
	Step int
	LayerSpec
	// FlattenForced marks the step at which the flatten chance was forced
	// to certainty.
	FlattenForced bool
	Flattened     bool
	Nodes         []string
}

type Result struct {
	Graph      *graph.Graph
	Serialized graph.Serialized
	State      State
	Steps      []StepRecord
	Attempts   int

	// Stopped is set when the step hook ended the run; HookValue holds what
	// it returned and Serialized is empty.
	Stopped   bool
	HookValue any
}

// Generate synthesizes one network. A shape failure discards the graph and
// restarts from scratch with fresh state, up to the attempt ceiling. Other
// failures end the request immediately.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if req.TotalLayers < 1 {
		return Result{}, fmt.Errorf("%w: total layers must be >= 1, got %d", params.ErrInvalidParameters, req.TotalLayers)
	}
	counter := req.Counter
	if counter == nil {
		counter = &Counter{}
	}
	name := req.Name
	if name == "" {
		name = g.modelName()
	}

	var lastErr error
	for i := 0; i < g.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		attempt := counter.attempt()
		res, err := g.synthesize(name, req.TotalLayers)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		if !errors.Is(err, layers.ErrInvalidShape) {
			return Result{}, err
		}
		counter.fail()
		lastErr = err
		g.logger.Printf("synth: %s attempt %d discarded: %v", name, attempt, err)
	}
	return Result{}, fmt.Errorf("%w: %s after %d attempts: %w", ErrSynthesisExhausted, name, g.maxAttempts, lastErr)
}

func (g *Generator) modelName() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		id = uuid.New()
	}
	return "model_" + strings.ReplaceAll(id.String(), "-", "")[:12]
}

func (g *Generator) synthesize(name string, total int) (Result, error) {
	p := g.params.Clone()
	quantized := g.rng.Float64() < p.QChance
	filtered, err := Filter(quantized, p, g.universe)
	if err != nil {
		return Result{}, err
	}
	st := newState(filtered, p)

	i, err := weightedIndex(g.rng, "start_layers", st.Probs.StartLayers, len(st.Universe.Start))
	if err != nil {
		return Result{}, err
	}
	start := st.Universe.Start[i]
	st.Category = start.Category()
	st.Shape = g.inputShape(st.Category, p)

	net, err := graph.New(name, st.Shape)
	if err != nil {
		return Result{}, err
	}

	steps := make([]StepRecord, 0, total)
	for step := 0; step < total; step++ {
		forced := step == total-2
		if forced {
			st.Params.FlattenChance = 1
		}
		if step == total-1 {
			st.Params.DropoutRate = 0
		}

		typ := start
		if step > 0 {
			candidates, weights := st.categoryWeights(st.Category)
			j, err := weightedIndex(g.rng, string(st.Category)+"_layers", weights, len(candidates))
			if err != nil {
				return Result{}, err
			}
			typ = candidates[j]
		}

		spec, err := g.sampler.Sample(typ, st)
		if err != nil {
			return Result{}, err
		}
		record, err := g.emit(net, st, step, spec)
		if err != nil {
			return Result{}, err
		}
		record.FlattenForced = forced
		steps = append(steps, record)
		st.Depth++

		if g.hook != nil {
			if value, stop := g.hook(net, st.Snapshot()); stop {
				return Result{Graph: net, State: st.Snapshot(), Steps: steps, Stopped: true, HookValue: value}, nil
			}
		}
	}

	serialized, err := graph.Serialize(net)
	if err != nil {
		return Result{}, err
	}
	return Result{Graph: net, Serialized: serialized, State: st.Snapshot(), Steps: steps}, nil
}

// emit appends the primary layer and its auxiliary nodes: activation, then
// dropout or pooling, then flatten when the category leaves the spatial path.
// The layer attached to the input (step 0) never flattens.
func (g *Generator) emit(net *graph.Graph, st *State, step int, spec LayerSpec) (StepRecord, error) {
	record := StepRecord{Step: step, LayerSpec: spec}
	add := func(t layers.Type, h layers.Hyper) error {
		l, err := net.Append(t, h)
		if err != nil {
			return err
		}
		record.Nodes = append(record.Nodes, l.Name)
		return nil
	}

	primary := layers.Hyper{UseBias: spec.UseBias}
	switch spec.Category {
	case layers.CategoryDense:
		primary.Units = spec.Size
	default:
		primary.Filters = spec.Size
		primary.Kernel = spec.Kernel
		primary.Stride = spec.Stride
		primary.Padding = spec.Padding
	}
	if spec.Quantized && carriesKernelQuantizer(spec.Type.Kind) {
		primary.Quantizer = &layers.Quantizer{Bits: st.Params.WeightBitWidth, Integer: st.Params.WeightIntWidth}
	}
	if err := add(spec.Type, primary); err != nil {
		return StepRecord{}, err
	}
	record.Output = net.Output()

	if !layers.IsNoActivation(spec.Activation) {
		class := "Activation"
		if spec.Quantized {
			class = "QActivation"
		}
		if err := add(layers.MustLookup(class), layers.Hyper{Activation: spec.Activation}); err != nil {
			return StepRecord{}, err
		}
	}

	switch {
	case spec.Category == layers.CategoryDense && spec.Dropout && !spec.Quantized && st.Params.DropoutRate > 0:
		if err := add(layers.MustLookup("Dropout"), layers.Hyper{Rate: st.Params.DropoutRate}); err != nil {
			return StepRecord{}, err
		}
	case spec.Category == layers.CategoryConv && spec.Pooling:
		if err := add(layers.MustLookup(spec.PoolClass), layers.Hyper{PoolSize: 2}); err != nil {
			return StepRecord{}, err
		}
	}

	if step > 0 && spec.Flatten && st.Category.Spatial() {
		if err := add(layers.MustLookup("Flatten"), layers.Hyper{}); err != nil {
			return StepRecord{}, err
		}
		st.Category = layers.CategoryDense
		record.Flattened = true
	}
	st.Shape = net.Output()
	return record, nil
}

func carriesKernelQuantizer(k layers.Kind) bool {
	switch k {
	case layers.KindDense, layers.KindConv2D, layers.KindConv1D:
		return true
	default:
		return false
	}
}

// inputShape draws the input tensor shape for a start category.
func (g *Generator) inputShape(c layers.Category, p params.Parameters) shape.Shape {
	switch c {
	case layers.CategoryConv:
		rows := g.sampler.randInt(p.ConvInitSizeLB, p.ConvInitSizeUB)
		cols := g.sampler.randInt(p.ConvInitSizeLB, p.ConvInitSizeUB)
		channels := clipPow2(g.sampler.randInt(p.ConvFiltersLB, p.ConvFiltersUB))
		return shape.Shape{rows, cols, channels}
	case layers.CategoryTemporal:
		steps := clipPow2(g.sampler.randInt(p.TimeLB, p.TimeUB))
		features := g.sampler.randInt(p.DenseLB, p.DenseUB)
		return shape.Shape{steps, features}
	default:
		return shape.Shape{clipPow2(g.sampler.randInt(p.DenseLB, p.DenseUB))}
	}
}

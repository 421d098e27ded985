// Package graph holds linear architecture graphs: an input node followed by
// layers each consuming the previous node's output.
package graph

import (
	"errors"
	"fmt"

	"netsynth/internal/layers"
	"netsynth/internal/shape"
)

var ErrMalformedGraph = errors.New("malformed architecture graph")

type Node struct {
	Layer layers.Layer
	// Inbound names the node this one consumes; empty for the input node.
	Inbound string
}

type Graph struct {
	Name  string
	Nodes []Node

	counters map[string]int
}

// New starts a graph rooted at an input node of the given shape.
func New(name string, input shape.Shape) (*Graph, error) {
	g := &Graph{Name: name, counters: make(map[string]int)}
	in, err := layers.Construct(layers.MustLookup("InputLayer"), g.nextName("input"), layers.Hyper{}, input)
	if err != nil {
		return nil, err
	}
	g.Nodes = append(g.Nodes, Node{Layer: in})
	return g, nil
}

// Append constructs a layer on the current output and attaches it. The graph
// is left unchanged when construction fails.
func (g *Graph) Append(t layers.Type, h layers.Hyper) (layers.Layer, error) {
	if len(g.Nodes) == 0 {
		return layers.Layer{}, fmt.Errorf("%w: graph has no input node", ErrMalformedGraph)
	}
	prev := g.Nodes[len(g.Nodes)-1].Layer
	name := g.peekName(t.BaseName)
	l, err := layers.Construct(t, name, h, prev.Output)
	if err != nil {
		return layers.Layer{}, err
	}
	g.nextName(t.BaseName)
	g.Nodes = append(g.Nodes, Node{Layer: l, Inbound: prev.Name})
	return l, nil
}

func (g *Graph) peekName(base string) string {
	return fmt.Sprintf("%s_%d", base, g.counters[base]+1)
}

func (g *Graph) nextName(base string) string {
	g.counters[base]++
	return fmt.Sprintf("%s_%d", base, g.counters[base])
}

func (g *Graph) Input() shape.Shape {
	if len(g.Nodes) == 0 {
		return nil
	}
	return g.Nodes[0].Layer.Output.Clone()
}

func (g *Graph) Output() shape.Shape {
	if len(g.Nodes) == 0 {
		return nil
	}
	return g.Nodes[len(g.Nodes)-1].Layer.Output.Clone()
}

func (g *Graph) Len() int {
	return len(g.Nodes)
}

// Layers returns the constructed layers in order, input node first.
func (g *Graph) Layers() []layers.Layer {
	out := make([]layers.Layer, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.Layer
	}
	return out
}

// PrimaryCount counts weight-carrying layers.
func (g *Graph) PrimaryCount() int {
	count := 0
	for _, n := range g.Nodes {
		if n.Layer.Type.Kind.Primary() {
			count++
		}
	}
	return count
}

// Primaries returns the weight-carrying layers in order.
func (g *Graph) Primaries() []layers.Layer {
	out := make([]layers.Layer, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.Layer.Type.Kind.Primary() {
			out = append(out, n.Layer)
		}
	}
	return out
}

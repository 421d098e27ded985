package graph

import (
	"encoding/json"
	"fmt"

	"netsynth/internal/layers"
	"netsynth/internal/shape"
)

const (
	functionalClass = "Functional"
	formatVersion   = "2.13.1"
	formatBackend   = "tensorflow"
)

// Document is the functional-model description a graph serializes to.
type Document struct {
	ClassName    string         `json:"class_name"`
	Config       DocumentConfig `json:"config"`
	KerasVersion string         `json:"keras_version,omitempty"`
	Backend      string         `json:"backend,omitempty"`
}

type DocumentConfig struct {
	Name         string       `json:"name"`
	Layers       []LayerEntry `json:"layers"`
	InputLayers  [][]any      `json:"input_layers"`
	OutputLayers [][]any      `json:"output_layers"`
}

type LayerEntry struct {
	ClassName    string         `json:"class_name"`
	Config       map[string]any `json:"config"`
	Name         string         `json:"name"`
	InboundNodes [][][]any      `json:"inbound_nodes"`
}

func (g *Graph) Document() Document {
	doc := Document{
		ClassName:    functionalClass,
		KerasVersion: formatVersion,
		Backend:      formatBackend,
		Config: DocumentConfig{
			Name:   g.Name,
			Layers: make([]LayerEntry, 0, len(g.Nodes)),
		},
	}
	for _, n := range g.Nodes {
		entry := LayerEntry{
			ClassName:    n.Layer.Type.ClassName,
			Config:       n.Layer.Config(),
			Name:         n.Layer.Name,
			InboundNodes: [][][]any{},
		}
		if n.Inbound != "" {
			entry.InboundNodes = [][][]any{{{n.Inbound, 0, 0, map[string]any{}}}}
		}
		doc.Config.Layers = append(doc.Config.Layers, entry)
	}
	if len(g.Nodes) > 0 {
		doc.Config.InputLayers = [][]any{{g.Nodes[0].Layer.Name, 0, 0}}
		doc.Config.OutputLayers = [][]any{{g.Nodes[len(g.Nodes)-1].Layer.Name, 0, 0}}
	}
	return doc
}

// Marshal renders the graph as compact functional-model JSON.
func Marshal(g *Graph) ([]byte, error) {
	return json.Marshal(g.Document())
}

// Parse reconstructs a graph from functional-model JSON. Every layer config
// is rebuilt strictly, so keys the layer class does not accept fail.
func Parse(data []byte) (*Graph, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
	}
	return FromDocument(doc)
}

func FromDocument(doc Document) (*Graph, error) {
	if doc.ClassName != functionalClass && doc.ClassName != "Model" {
		return nil, fmt.Errorf("%w: unsupported model class %q", ErrMalformedGraph, doc.ClassName)
	}
	if len(doc.Config.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrMalformedGraph)
	}

	g := &Graph{Name: doc.Config.Name, counters: make(map[string]int)}
	var prev shape.Shape
	for i, entry := range doc.Config.Layers {
		inbound, err := inboundName(entry)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			if entry.ClassName != "InputLayer" || inbound != "" {
				return nil, fmt.Errorf("%w: first layer %q is not an input", ErrMalformedGraph, entry.Name)
			}
		} else if inbound != doc.Config.Layers[i-1].Name {
			return nil, fmt.Errorf("%w: layer %q consumes %q, not its predecessor", ErrMalformedGraph, entry.Name, inbound)
		}

		cfg := entry.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		l, err := layers.FromConfig(entry.ClassName, cfg, prev)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", entry.Name, err)
		}
		if l.Name == "" {
			l.Name = entry.Name
		}
		g.Nodes = append(g.Nodes, Node{Layer: l, Inbound: inbound})
		g.counters[l.Type.BaseName]++
		prev = l.Output
	}
	return g, nil
}

func inboundName(entry LayerEntry) (string, error) {
	switch len(entry.InboundNodes) {
	case 0:
		return "", nil
	case 1:
	default:
		return "", fmt.Errorf("%w: layer %q is called more than once", ErrMalformedGraph, entry.Name)
	}
	call := entry.InboundNodes[0]
	if len(call) != 1 || len(call[0]) == 0 {
		return "", fmt.Errorf("%w: layer %q must have exactly one inbound tensor", ErrMalformedGraph, entry.Name)
	}
	name, ok := call[0][0].(string)
	if !ok {
		return "", fmt.Errorf("%w: layer %q has a non-string inbound reference", ErrMalformedGraph, entry.Name)
	}
	return name, nil
}

// Serialized is a named graph description ready to persist.
type Serialized struct {
	Name string
	JSON string
}

func Serialize(g *Graph) (Serialized, error) {
	data, err := Marshal(g)
	if err != nil {
		return Serialized{}, err
	}
	return Serialized{Name: g.Name, JSON: string(data)}, nil
}

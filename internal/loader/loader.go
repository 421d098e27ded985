// Package loader reads persisted corpus and batch files back into graphs.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"netsynth/internal/graph"
	"netsynth/internal/layers"
)

var ErrMalformedCorpus = errors.New("malformed corpus file")

// Entry is one reconstructed model and the label it was stored under.
type Entry struct {
	Label string
	Graph *graph.Graph
}

// Sanitize removes config keys that serialization writes for a layer class
// but reconstruction of that class rejects. Layers of unknown classes are
// left untouched. Sanitizing twice yields the same document.
func Sanitize(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCorpus, err)
	}
	cfg, _ := doc["config"].(map[string]any)
	entries, _ := cfg["layers"].([]any)
	for _, item := range entries {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		className, _ := entry["class_name"].(string)
		t, err := layers.Lookup(className)
		if err != nil {
			continue
		}
		layerCfg, ok := entry["config"].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range t.InheritedKeys() {
			delete(layerCfg, key)
		}
	}
	return json.Marshal(doc)
}

// Decode sanitizes and reconstructs one serialized graph.
func Decode(text string) (*graph.Graph, error) {
	clean, err := Sanitize([]byte(text))
	if err != nil {
		return nil, err
	}
	return graph.Parse(clean)
}

type Loader struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loader{logger: logger}
}

// LoadFile reads either a corpus mapping (label -> serialized graph) or a
// batch array of serialized graphs. Batch entries are labelled
// <file>#<index>. Mapping entries are returned in label order. The first
// entry that fails to parse aborts the load.
func (l *Loader) LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMalformedCorpus, path)
	}

	var labels []string
	texts := make(map[string]string)
	switch trimmed[0] {
	case '{':
		if err := json.Unmarshal(trimmed, &texts); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCorpus, path, err)
		}
		for label := range texts {
			labels = append(labels, label)
		}
		sort.Strings(labels)
	case '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCorpus, path, err)
		}
		base := filepath.Base(path)
		for i, item := range items {
			label := fmt.Sprintf("%s#%d", base, i)
			labels = append(labels, label)
			texts[label] = item
		}
	default:
		return nil, fmt.Errorf("%w: %s is neither an object nor an array", ErrMalformedCorpus, path)
	}

	entries := make([]Entry, 0, len(labels))
	for _, label := range labels {
		g, err := Decode(texts[label])
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, label, err)
		}
		entries = append(entries, Entry{Label: label, Graph: g})
	}
	l.logger.Printf("loader: %s: %d models", path, len(entries))
	return entries, nil
}

// LoadDir loads every .json file in dir in name order.
func (l *Loader) LoadDir(dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	var out []Entry
	for _, name := range names {
		entries, err := l.LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// Load dispatches to LoadDir or LoadFile depending on what path names.
func (l *Loader) Load(path string) ([]Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return l.LoadDir(path)
	}
	return l.LoadFile(path)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	api "netsynth/pkg/netsynth"
)

func readConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// loadParamsSource reads the "params" object and "params_path" keys shared
// by every config file.
func loadParamsSource(raw map[string]any, base api.ParamsSource) (api.ParamsSource, error) {
	if v, ok := asString(raw["params_path"]); ok {
		base.Path = v
	}
	if v, present := raw["params"]; present {
		m, ok := v.(map[string]any)
		if !ok {
			return api.ParamsSource{}, fmt.Errorf("params must be an object")
		}
		base.Overrides = m
	}
	return base, nil
}

// loadGenerateRequestFromConfig overlays the config file on base.
func loadGenerateRequestFromConfig(path string, base api.GenerateRequest) (api.GenerateRequest, error) {
	raw, err := readConfig(path)
	if err != nil {
		return api.GenerateRequest{}, err
	}

	req := base
	if v, ok := asInt(raw["layers"]); ok {
		req.Layers = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asString(raw["name"]); ok {
		req.Name = v
	}
	if v, ok := asInt(raw["max_attempts"]); ok {
		req.MaxAttempts = v
	}
	req.Params, err = loadParamsSource(raw, req.Params)
	if err != nil {
		return api.GenerateRequest{}, err
	}
	return req, nil
}

// overrideGenerateRequest applies explicitly set flags over a loaded config.
func overrideGenerateRequest(req, flags api.GenerateRequest, set map[string]bool) api.GenerateRequest {
	if set["layers"] {
		req.Layers = flags.Layers
	}
	if set["seed"] {
		req.Seed = flags.Seed
	}
	if set["name"] {
		req.Name = flags.Name
	}
	if set["max-attempts"] {
		req.MaxAttempts = flags.MaxAttempts
	}
	return req
}

// loadCorpusRequestFromConfig overlays the config file on base. A
// max_retries of 0 disables task retries, as the flag does.
func loadCorpusRequestFromConfig(path string, base api.CorpusRequest) (api.CorpusRequest, error) {
	raw, err := readConfig(path)
	if err != nil {
		return api.CorpusRequest{}, err
	}

	req := base
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asInt(raw["batches"]); ok {
		req.Batches = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt(raw["min_layers"]); ok {
		req.MinLayers = v
	}
	if v, ok := asInt(raw["max_layers"]); ok {
		req.MaxLayers = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asString(raw["prefix"]); ok {
		req.Prefix = v
	}
	if v, ok := asString(raw["out_dir"]); ok {
		req.OutDir = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt(raw["max_retries"]); ok {
		req.MaxRetries = retriesFlag(v)
	}
	if v, ok := asInt(raw["max_attempts"]); ok {
		req.MaxAttempts = v
	}
	if v, ok := asBool(raw["corpus_file"]); ok {
		req.CorpusFile = v
	}
	req.Params, err = loadParamsSource(raw, req.Params)
	if err != nil {
		return api.CorpusRequest{}, err
	}
	return req, nil
}

func overrideCorpusRequest(req, flags api.CorpusRequest, set map[string]bool) api.CorpusRequest {
	if set["run-id"] {
		req.RunID = flags.RunID
	}
	if set["batches"] {
		req.Batches = flags.Batches
	}
	if set["batch-size"] {
		req.BatchSize = flags.BatchSize
	}
	if set["min-layers"] {
		req.MinLayers = flags.MinLayers
	}
	if set["max-layers"] {
		req.MaxLayers = flags.MaxLayers
	}
	if set["seed"] {
		req.Seed = flags.Seed
	}
	if set["prefix"] {
		req.Prefix = flags.Prefix
	}
	if set["out-dir"] {
		req.OutDir = flags.OutDir
	}
	if set["workers"] {
		req.Workers = flags.Workers
	}
	if set["max-retries"] {
		req.MaxRetries = flags.MaxRetries
	}
	if set["max-attempts"] {
		req.MaxAttempts = flags.MaxAttempts
	}
	if set["corpus-file"] {
		req.CorpusFile = flags.CorpusFile
	}
	return req
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	n, ok := asInt64(v)
	return int(n), ok
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}

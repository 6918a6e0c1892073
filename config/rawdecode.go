package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"
)

// RawNode is the untyped tree ConfigParser pass 1 walks. Decoupling the
// parser from the serialization format (YAML, JSON, or a Go value authored
// directly by an embedding program) mirrors the teacher's discovery.Engine,
// which is itself decoupled from whichever transport (NATS, in-process)
// delivered the query it's executing.
type RawNode = map[string]any

// DecodeYAML decodes a YAML document into a RawNode tree. gopkg.in/yaml.v3
// is used directly here (as in the docker-compose-formatter example, the
// pack repo whose entire job is normalizing YAML config shape) because it
// preserves map key order better than round-tripping through JSON first.
func DecodeYAML(doc []byte) (RawNode, error) {
	var out RawNode
	if err := yaml.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return normalizeKeys(out), nil
}

// DecodeJSON decodes a JSON document into a RawNode tree.
func DecodeJSON(doc []byte) (RawNode, error) {
	var out RawNode
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	return out, nil
}

// DecodeStructAsYAML accepts a Go value carrying `json:"..."` tags (as a
// generated or hand-authored config struct would) and normalizes it through
// sigs.k8s.io/yaml's JSON<->YAML bridge into a RawNode, the same bridge
// style cappyzawa-score-orchestrator's controllers use to move Kubernetes
// API objects (JSON-tagged) through YAML tooling.
func DecodeStructAsYAML(v any) (RawNode, error) {
	doc, err := k8syaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("config: marshal struct to yaml: %w", err)
	}
	return DecodeYAML(doc)
}

// normalizeKeys recursively converts map[any]any (yaml.v3 can still produce
// these for non-string keys) into map[string]any so downstream code only
// ever deals with one map shape.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeKeys(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeKeys(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeKeys(val)
		}
		return t
	default:
		return v
	}
}

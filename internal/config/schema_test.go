package config

import (
	"encoding/json"
	"testing"
)

func TestJSONSchemaReflectsConfigFields(t *testing.T) {
	raw, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}

	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema missing top-level properties map: %v", doc)
	}
	if _, ok := props["llm"]; !ok {
		t.Errorf("expected reflected schema to contain the llm config field, got keys %v", mapKeys(props))
	}
}

func TestJSONSchemaIsCached(t *testing.T) {
	first, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error: %v", err)
	}
	second, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("expected cached schema bytes to be stable across calls")
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

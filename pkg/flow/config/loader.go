package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// decodeFunc turns raw file bytes into the config's backing map.
type decodeFunc func(data []byte, into *map[string]any) error

// decoders maps a lowercase file extension to its decoder.
var decoders = map[string]decodeFunc{
	".yaml": decodeYAML,
	".yml":  decodeYAML,
	".json": decodeJSON,
}

func decodeYAML(data []byte, into *map[string]any) error {
	return yaml.Unmarshal(data, into)
}

func decodeJSON(data []byte, into *map[string]any) error {
	return json.Unmarshal(data, into)
}

// FromFile loads configuration from path, picking the decoder by extension.
// Supported: .yaml, .yml, .json.
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return Config{}, fmt.Errorf("config: no decoder for %q files", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var m map[string]any
	if err := decode(data, &m); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return New(m), nil
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := decodeYAML(data, &m); err != nil {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := decodeJSON(data, &m); err != nil {
		return Config{}, fmt.Errorf("config: decode json: %w", err)
	}
	return New(m), nil
}

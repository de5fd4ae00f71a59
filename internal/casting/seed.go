package casting

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoadSeed reads a character→timbre map saved by SaveSeed. A missing file is
// an empty seed.
func LoadSeed(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	seed := map[string]string{}
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

// SaveSeed replaces path atomically.
func SaveSeed(path string, assignments map[string]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create seed dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".seed-*.json")
	if err != nil {
		return fmt.Errorf("create seed temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(assignments); err != nil {
		tmp.Close()
		return fmt.Errorf("encode seed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close seed temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace seed: %w", err)
	}
	return nil
}

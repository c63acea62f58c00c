package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	PipelineSuffix     = "*.pipeline.json"
	FeatureGroupSuffix = "*.fg.json"
	ModelSuffix        = "*.model.json"
)

// LoadPipelineConfigs reads every *.pipeline.json in dir, sorted by file name.
func LoadPipelineConfigs(dir string) ([]PipelineConfig, error) {
	return loadAll[PipelineConfig](dir, PipelineSuffix)
}

// LoadFeatureGroupConfigs reads every *.fg.json in dir, sorted by file name.
func LoadFeatureGroupConfigs(dir string) ([]FeatureGroupConfig, error) {
	return loadAll[FeatureGroupConfig](dir, FeatureGroupSuffix)
}

// LoadModelConfigs reads every *.model.json in dir, sorted by file name.
func LoadModelConfigs(dir string) ([]ModelConfig, error) {
	return loadAll[ModelConfig](dir, ModelSuffix)
}

func loadAll[T any](dir, pattern string) ([]T, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to glob %s in %s: %w", pattern, dir, err)
	}
	sort.Strings(paths)

	results := make([]T, 0, len(paths))
	for _, path := range paths {
		v, err := LoadJSON[T](path)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// LoadJSON decodes a single JSON file into T.
func LoadJSON[T any](path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return v, nil
}

package models

import (
	"path/filepath"
	"strings"
)

// PipelineConfig is the content of a *.pipeline.json file.
type PipelineConfig struct {
	PipelineName  string         `json:"pipeline_name"`
	CodeFilePath  string         `json:"code_file_path"`
	Strategy      string         `json:"strategy,omitempty"`       // registered definition tag; defaults to the code file stem
	IndexName     string         `json:"index_name,omitempty"`     // batch transforms only: DynamoDB partition key column
	Configuration map[string]any `json:"pipeline_configuration"`
}

// StrategyTag returns the name of the definition strategy to use for this pipeline.
func (p PipelineConfig) StrategyTag() string {
	if p.Strategy != "" {
		return p.Strategy
	}
	base := filepath.Base(p.CodeFilePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CloneConfiguration returns a shallow copy of the configuration safe to mutate.
func (p PipelineConfig) CloneConfiguration() map[string]any {
	m := make(map[string]any, len(p.Configuration))
	for k, v := range p.Configuration {
		m[k] = v
	}
	return m
}

// PrefixFeatureGroups rewrites every configuration value whose key contains marker
// to {project}-{value}. It returns a new map.
func PrefixFeatureGroups(conf map[string]any, marker, projectName string) map[string]any {
	out := make(map[string]any, len(conf))
	for k, v := range conf {
		if s, ok := v.(string); ok && strings.Contains(k, marker) {
			out[k] = projectName + "-" + s
			continue
		}
		out[k] = v
	}
	return out
}

package pipelinedef

import (
	"fmt"

	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// Config is a pipeline_configuration map with typed accessors.
type Config map[string]any

// String returns the string value of key or ErrMissingConfiguration.
func (c Config) String(key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrMissingConfiguration, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", errors.ErrMissingConfiguration, key)
	}
	return s, nil
}

// Strings returns the string list value of key.
func (c Config) Strings(key string) ([]string, error) {
	v, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingConfiguration, key)
	}
	switch items := v.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings", errors.ErrMissingConfiguration, key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", errors.ErrMissingConfiguration, key)
	}
}

// strings reads several keys at once, stopping at the first missing one.
func (c Config) strings(keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := c.String(k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

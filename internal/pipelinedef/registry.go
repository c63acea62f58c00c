// Package pipelinedef builds SageMaker pipeline definition JSON from *.pipeline.json
// configuration using a table of registered strategies.
package pipelinedef

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// Input is everything a strategy needs to build one pipeline.
type Input struct {
	Role     string
	Name     string
	Session  *Session
	Config   Config
	Strategy string
}

// Factory builds a definition.
type Factory func(ctx context.Context, in Input) (*Definition, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a strategy. Registering a tag twice replaces the earlier factory.
func Register(tag string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[tag] = factory
}

// Lookup returns the factory registered under tag.
func Lookup(tag string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[tag]
	return f, ok
}

// Strategies lists the registered tags in sorted order.
func Strategies() []string {
	mu.RLock()
	defer mu.RUnlock()
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Generate resolves the strategy and returns the serialized definition.
func Generate(ctx context.Context, in Input) (string, error) {
	factory, ok := Lookup(in.Strategy)
	if !ok {
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownPipelineStrategy, in.Strategy)
	}
	if in.Session == nil {
		return "", fmt.Errorf("pipeline %s: no session", in.Name)
	}

	def, err := factory(ctx, in)
	if err != nil {
		return "", fmt.Errorf("pipeline %s: %w", in.Name, err)
	}
	return def.Marshal()
}

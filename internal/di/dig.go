// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// It simplifies container setup and provides type-safe dependency retrieval with generics.
package di

import (
	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet returns an instance constructed via dependency injection or panics.
//
// Example:
//
//	gate := MustGet[*approval.Gate](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// New creates a new dependency injection container for the given project.
// The project name is registered as a plain string dependency.
//
// Example:
//
//	container, err := New("mlopsdemo",
//	    WithRegion("us-east-1"),
//	    WithProviders(NewHandler),
//	)
func New(project string, opts ...Option) (Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()
	if err := container.Provide(func() string { return project }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() Region { return o.region }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() Credentials { return o.credentials }); err != nil {
		return nil, err
	}

	for _, provider := range core {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideLogger,
	ProvideContext,
	ProvideAWSConfig,
	ProvideSSMClient,
	ProvideParameterStore,
	ProvideAppConfig,
	ProvideSageMaker,
	ProvideSageMakerRuntime,
	ProvideFeatureStoreRuntime,
	ProvideStepFunctions,
	ProvideGlue,
	ProvideCodePipeline,
	ProvideDynamoDB,
	ProvideS3Client,
	ProvideSNS,
	ProvideIAM,
	ProvideSTS,
	ProvideCloudFormation,
	ProvideOrchestrator,
	ProvideModelRegistry,
	ProvideCatalogResolver,
	ProvideIAMService,
	ProvideUploader,
	ProvideScoresService,
	ProvideCallbacks,
	ProvideSubmitter,
	ProvideStatusChecker,
	ProvidePoller,
	ProvideExecutor,
	ProvideApprovalGate,
}

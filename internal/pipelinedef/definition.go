package pipelinedef

import (
	"encoding/json"
	"fmt"
)

// DefinitionVersion is the pipeline definition schema version.
const DefinitionVersion = "2020-12-01"

// Definition is a SageMaker pipeline definition document.
type Definition struct {
	Version    string      `json:"Version"`
	Metadata   struct{}    `json:"Metadata"`
	Parameters []Parameter `json:"Parameters"`
	Steps      []Step      `json:"Steps"`
}

// Parameter is a pipeline execution parameter.
type Parameter struct {
	Name         string   `json:"Name"`
	Type         string   `json:"Type"`
	DefaultValue any      `json:"DefaultValue,omitempty"`
	EnumValues   []string `json:"EnumValues,omitempty"`
}

// Output is a typed output of a Lambda or Callback step.
type Output struct {
	OutputName string `json:"OutputName"`
	OutputType string `json:"OutputType"`
}

// CacheConfig enables step result caching.
type CacheConfig struct {
	Enabled     bool   `json:"Enabled"`
	ExpireAfter string `json:"ExpireAfter,omitempty"`
}

// Step is one node of a pipeline. Only the fields relevant to Type are set.
type Step struct {
	Name             string       `json:"Name"`
	Type             string       `json:"Type"`
	Arguments        any          `json:"Arguments"`
	DependsOn        []string     `json:"DependsOn,omitempty"`
	CacheConfig      *CacheConfig `json:"CacheConfig,omitempty"`
	FunctionArn      string       `json:"FunctionArn,omitempty"`
	SqsQueueURL      string       `json:"SqsQueueUrl,omitempty"`
	OutputParameters []Output     `json:"OutputParameters,omitempty"`

	CheckType             string `json:"CheckType,omitempty"`
	ModelPackageGroupName string `json:"ModelPackageGroupName,omitempty"`
	SkipCheck             *bool  `json:"SkipCheck,omitempty"`
	RegisterNewBaseline   *bool  `json:"RegisterNewBaseline,omitempty"`
}

// ConditionArguments are the arguments of a Condition step.
type ConditionArguments struct {
	Conditions []Condition `json:"Conditions"`
	IfSteps    []Step      `json:"IfSteps"`
	ElseSteps  []Step      `json:"ElseSteps"`
}

// Condition compares two values.
type Condition struct {
	Type       string `json:"Type"`
	LeftValue  any    `json:"LeftValue"`
	RightValue any    `json:"RightValue"`
}

// Marshal renders the definition as compact JSON.
func (d *Definition) Marshal() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pipeline definition: %w", err)
	}
	return string(data), nil
}

// StepNames returns the names of the top-level steps.
func (d *Definition) StepNames() []string {
	names := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		names = append(names, s.Name)
	}
	return names
}

func get(path string) map[string]any {
	return map[string]any{"Get": path}
}

// Param references a pipeline parameter.
func Param(name string) map[string]any {
	return get("Parameters." + name)
}

// ExecutionID references the running pipeline execution id.
func ExecutionID() map[string]any {
	return get("Execution.PipelineExecutionId")
}

// StepProperty references a property of an earlier step.
func StepProperty(step, property string) map[string]any {
	return get(fmt.Sprintf("Steps.%s.%s", step, property))
}

// ProcessingOutputURI references the S3 URI of a named processing output.
func ProcessingOutputURI(step, output string) map[string]any {
	return StepProperty(step, fmt.Sprintf("ProcessingOutputConfig.Outputs['%s'].S3Output.S3Uri", output))
}

// StepOutput references a Lambda or Callback output parameter.
func StepOutput(step, output string) map[string]any {
	return StepProperty(step, fmt.Sprintf("OutputParameters['%s']", output))
}

// Join concatenates values at execution time.
func Join(on string, values ...any) map[string]any {
	return map[string]any{"Std:Join": map[string]any{"On": on, "Values": values}}
}

// ExecutionPath returns s3://{bucket}/{prefix}/{execution id}/{suffix}.
func ExecutionPath(bucket, prefix, suffix string) map[string]any {
	return Join("/", "s3:/", bucket, prefix, ExecutionID(), suffix)
}

func boolPtr(v bool) *bool { return &v }

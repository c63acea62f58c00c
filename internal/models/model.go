package models

import "strings"

// Variant is one production variant of an endpoint.
type Variant struct {
	VariantName          string  `json:"variant_name"`
	InstanceType         string  `json:"instance_type"`
	InstanceCount        float64 `json:"instance_count"`
	InitialVariantWeight float64 `json:"initial_variant_weight"`
}

// ScheduleConfig drives data capture, the monitoring schedule and its alarm.
type ScheduleConfig struct {
	DataCaptureSamplingPercentage float64 `json:"data_capture_sampling_percentage"`
	ScheduleExpression            string  `json:"schedule_expression"`
	MetricName                    string  `json:"metric_name"`
	MetricThreshold               float64 `json:"metric_threshold"`
	Statistic                     string  `json:"statistic"`
	DatapointsToAlarm             float64 `json:"datapoints_to_alarm"`
	EvaluationPeriods             float64 `json:"evaluation_periods"`
	Period                        float64 `json:"period"`
	ComparisonOperator            string  `json:"comparison_operator"`
}

// EndpointConfig describes a real-time endpoint and its inference function.
type EndpointConfig struct {
	EndpointName      string            `json:"endpoint_name"`
	Prefix            string            `json:"prefix"`
	LambdaEntryPoint  string            `json:"lambda_entry_point,omitempty"`
	LambdaEnvironment map[string]string `json:"lambda_environment"`
	Variants          []Variant         `json:"variants"`
	ScheduleConfig    ScheduleConfig    `json:"schedule_config"`
}

// ModelConfig is the content of a *.model.json file.
type ModelConfig struct {
	ModelName             string           `json:"model_name"`
	ModelPackageGroupName string           `json:"model_package_group_name"`
	FeaturesNames         []string         `json:"features_names"`
	Endpoints             []EndpointConfig `json:"endpoints"`
	BatchTransforms       []PipelineConfig `json:"batch_transforms"`
}

// PrefixedEnvironment returns the lambda environment with every *_fg_name value
// scoped to the project.
func (e EndpointConfig) PrefixedEnvironment(projectName string) map[string]string {
	out := make(map[string]string, len(e.LambdaEnvironment))
	for k, v := range e.LambdaEnvironment {
		if strings.Contains(k, "_fg_name") {
			v = projectName + "-" + v
		}
		out[k] = v
	}
	return out
}

package pipelinedef

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/savaki/sagemaker-mlops/internal/featurestore"
)

// BatchTransformStrategy scores the offline store and hands the output to the loader.
const BatchTransformStrategy = "batch_transform_serving_pipeline"

const (
	// DatasetKey is where CreateDataset writes the dataset to score.
	DatasetKey = "CreateDataset-Step/output"
	// TransformOutputKey is the batch transform output picked up by the loader.
	TransformOutputKey = "step_transform/output/dataset.csv.out"
)

func init() {
	Register(BatchTransformStrategy, buildBatchTransform)
}

func buildBatchTransform(ctx context.Context, in Input) (*Definition, error) {
	conf, err := in.Config.strings(
		"prefix",
		"queue_url",
		"datafreshness_func_arn",
		"create_dataset_script_path",
		"customers_fg_name",
		"claims_fg_name",
		"model_package_group_name",
	)
	if err != nil {
		return nil, err
	}
	features, err := in.Config.Strings("features_names")
	if err != nil {
		return nil, err
	}

	s := in.Session
	bucket, prefix := s.DefaultBucket, conf["prefix"]

	image, err := ImageURI(SKLearn, s.Region)
	if err != nil {
		return nil, err
	}

	packageARN, err := s.Registry.LatestApproved(ctx, conf["model_package_group_name"])
	if err != nil {
		return nil, err
	}

	claims, err := s.Catalog.Resolve(ctx, conf["claims_fg_name"])
	if err != nil {
		return nil, err
	}
	customers, err := s.Catalog.Resolve(ctx, conf["customers_fg_name"])
	if err != nil {
		return nil, err
	}
	query := featurestore.TransformQuery(claims, customers, features)

	code, err := s.stage(ctx, prefix, conf["create_dataset_script_path"])
	if err != nil {
		return nil, err
	}

	createDataset := Step{
		Name: stepCreateDataset,
		Type: "Processing",
		Arguments: processingJob{
			Role:          in.Role,
			Image:         image,
			InstanceType:  "ml.m5.large",
			InstanceCount: 1,
			Entrypoint:    scriptEntrypoint(filepath.Base(conf["create_dataset_script_path"])),
			Arguments:     []string{"--athena-data", athenaLocalPath},
			Inputs: []map[string]any{
				athenaInput(athenaDataset{
					Catalog:     query.Catalog,
					Database:    query.Database,
					QueryString: query.QueryString,
					OutputURI:   fmt.Sprintf("s3://%s/%s/athena/data/", bucket, prefix),
				}),
				codeInput(code),
			},
			Outputs: []map[string]any{
				s3Output("batch_transform_data", "/opt/ml/processing/output/dataset", fmt.Sprintf("s3://%s/%s", bucket, DatasetKey)),
			},
		}.arguments(),
	}

	freshness := lambdaStep("DatafreshnessCheckLambda", conf["datafreshness_func_arn"], map[string]any{
		"bucket_name": bucket,
		"key_name":    DatasetKey + "/dataset.csv",
	}, "statusCode", "body")
	freshness.DependsOn = []string{stepCreateDataset}

	model := Step{
		Name: "BatchTransform-CreateModel",
		Type: "Model",
		Arguments: map[string]any{
			"ExecutionRoleArn": in.Role,
			"Containers":       []map[string]any{{"ModelPackageName": packageARN}},
		},
	}

	transform := Step{
		Name: "BatchTransform",
		Type: "Transform",
		Arguments: transformJob{
			ModelName:     StepProperty(model.Name, "ModelName"),
			InputURI:      fmt.Sprintf("s3://%s/%s/dataset.csv", bucket, DatasetKey),
			OutputURI:     fmt.Sprintf("s3://%s/step_transform/output", bucket),
			InstanceType:  Param("InferenceInstanceType"),
			InstanceCount: 1,
			InputFilter:   "$[1:]",
			Strategy:      "SingleRecord",
		}.arguments(),
	}

	callback := Step{
		Name: "GluePrepCallbackStep",
		Type: "Callback",
		Arguments: map[string]any{
			"bucket":         bucket,
			"key_to_process": TransformOutputKey,
		},
		DependsOn:        []string{transform.Name},
		SqsQueueURL:      conf["queue_url"],
		OutputParameters: []Output{{OutputName: "final_status", OutputType: "String"}},
	}

	fresh := Step{
		Name: "DataFreshCond",
		Type: "Condition",
		Arguments: ConditionArguments{
			Conditions: []Condition{{
				Type:       "Equals",
				LeftValue:  StepOutput(freshness.Name, "body"),
				RightValue: "1",
			}},
			IfSteps:   []Step{model, transform, callback},
			ElseSteps: []Step{},
		},
	}

	return &Definition{
		Version: DefinitionVersion,
		Parameters: []Parameter{
			{Name: "ProcessingInstanceType", Type: "String", DefaultValue: "ml.m5.xlarge"},
			{Name: "InferenceInstanceType", Type: "String", DefaultValue: "ml.m5.xlarge"},
		},
		Steps: []Step{createDataset, freshness, fresh},
	}, nil
}

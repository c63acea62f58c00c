package pipelinedef

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/savaki/sagemaker-mlops/internal/featurestore"
)

// XGBoostStrategy trains, evaluates and conditionally registers the fraud model.
const XGBoostStrategy = "xgboost_pipeline"

const (
	stepCreateDataset    = "CreateDataset"
	stepDataBias         = "DataBiasCheckStep"
	stepDataQuality      = "DataQualityCheckStep"
	stepTraining         = "ModelTraining"
	stepScoringModel     = "TestScoring-CreateModel"
	stepScoringTransform = "TestScoring-Transform"
	stepModelQuality     = "ModelQualityCheckStep"
	stepExtractMetrics   = "LambdaExtractMetrics"
	stepCheckAUC         = "CheckAUC"
	stepRegister         = "RegisterModel"

	// BiasFacet is the sensitive attribute checked for pre-training bias.
	BiasFacet = "customer_gender_female"
)

func init() {
	Register(XGBoostStrategy, buildXGBoost)
}

func xgboostParameters() []Parameter {
	return []Parameter{
		{Name: "BaselineInstanceType", Type: "String", DefaultValue: "ml.c5.xlarge"},
		{Name: "BaselineInstanceCount", Type: "Integer", DefaultValue: 1},
		{Name: "TrainingInstance", Type: "String", DefaultValue: "ml.m4.xlarge"},
		{Name: "TrainingInstanceCount", Type: "Integer", DefaultValue: 1},
		{Name: "ModelApprovalStatus", Type: "String", DefaultValue: "PendingManualApproval", EnumValues: []string{"PendingManualApproval", "Approved"}},
		{Name: "ModelMinAcceptableAUC", Type: "Float", DefaultValue: 0.75},
	}
}

func buildXGBoost(ctx context.Context, in Input) (*Definition, error) {
	conf, err := in.Config.strings(
		"prefix",
		"model_package_group_name",
		"model_training_script_path",
		"create_dataset_script_path",
		"label_name",
		"customers_fg_name",
		"claims_fg_name",
		"metric_extraction_lambda_arn",
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

	sklearnImage, err := ImageURI(SKLearn, s.Region)
	if err != nil {
		return nil, err
	}
	xgbImage, err := ImageURI(XGBoost, s.Region)
	if err != nil {
		return nil, err
	}
	analyzerImage, err := ImageURI(ModelMonitorAnalyzer, s.Region)
	if err != nil {
		return nil, err
	}
	clarifyImage, err := ImageURI(Clarify, s.Region)
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
	query := featurestore.TrainingQuery(claims, customers, conf["label_name"], features)

	datasetCode, err := s.stage(ctx, prefix, conf["create_dataset_script_path"])
	if err != nil {
		return nil, err
	}
	trainingCode, err := s.stage(ctx, prefix, conf["model_training_script_path"])
	if err != nil {
		return nil, err
	}
	biasConfig, err := stageBiasConfig(ctx, s, prefix, conf["label_name"])
	if err != nil {
		return nil, err
	}

	createDataset := Step{
		Name:        stepCreateDataset,
		Type:        "Processing",
		CacheConfig: defaultCache,
		Arguments: processingJob{
			Role:          in.Role,
			Image:         sklearnImage,
			InstanceType:  "ml.m5.xlarge",
			InstanceCount: 1,
			Entrypoint:    scriptEntrypoint(filepath.Base(conf["create_dataset_script_path"])),
			Arguments:     []string{"--athena-data", athenaLocalPath},
			Inputs: []map[string]any{
				athenaInput(athenaDataset{
					Catalog:     query.Catalog,
					Database:    query.Database,
					QueryString: query.QueryString,
					OutputURI:   ExecutionPath(bucket, prefix, "raw_dataset"),
				}),
				codeInput(datasetCode),
			},
			Outputs: []map[string]any{
				s3Output("train_data", "/opt/ml/processing/output/train", ExecutionPath(bucket, prefix, "train_dataset")),
				s3Output("test_data", "/opt/ml/processing/output/test", ExecutionPath(bucket, prefix, "test_dataset")),
				s3Output("baseline", "/opt/ml/processing/output/baseline", ExecutionPath(bucket, prefix, "baseline_dataset")),
			},
		}.arguments(),
	}

	dataBias := Step{
		Name:                stepDataBias,
		Type:                "ClarifyCheck",
		CheckType:           "DATA_BIAS",
		SkipCheck:           boolPtr(true),
		RegisterNewBaseline: boolPtr(true),
		CacheConfig:         defaultCache,
		Arguments: processingJob{
			Role:          in.Role,
			Image:         clarifyImage,
			InstanceType:  Param("BaselineInstanceType"),
			InstanceCount: Param("BaselineInstanceCount"),
			VolumeGB:      120,
			Inputs: []map[string]any{
				s3Input("analysis_config", biasConfig, "/opt/ml/processing/input/config"),
				s3Input("dataset", ProcessingOutputURI(stepCreateDataset, "train_data"), "/opt/ml/processing/input/data"),
			},
			Outputs: []map[string]any{
				s3Output("analysis_result", "/opt/ml/processing/output", ExecutionPath(bucket, prefix, "databiascheckstep")),
			},
		}.arguments(),
	}

	dataQuality := Step{
		Name:                stepDataQuality,
		Type:                "QualityCheck",
		CheckType:           "DATA_QUALITY",
		SkipCheck:           boolPtr(true),
		RegisterNewBaseline: boolPtr(true),
		CacheConfig:         defaultCache,
		Arguments: processingJob{
			Role:          in.Role,
			Image:         analyzerImage,
			InstanceType:  Param("BaselineInstanceType"),
			InstanceCount: Param("BaselineInstanceCount"),
			VolumeGB:      120,
			Environment: map[string]any{
				"dataset_format":             `{"csv": {"header": true, "output_columns_position": "START"}}`,
				"dataset_source":             "/opt/ml/processing/input/baseline_dataset_input",
				"output_path":                "/opt/ml/processing/output",
				"publish_cloudwatch_metrics": "Disabled",
			},
			Inputs: []map[string]any{
				s3Input("baseline_dataset_input", ProcessingOutputURI(stepCreateDataset, "baseline"), "/opt/ml/processing/input/baseline_dataset_input"),
			},
			Outputs: []map[string]any{
				s3Output("quality_check_output", "/opt/ml/processing/output", ExecutionPath(bucket, prefix, "dataqualitycheckstep")),
			},
		}.arguments(),
	}

	hyperparameters := map[string]string{
		"max_depth":                  "3",
		"eta":                        "0.2",
		"objective":                  "binary:logistic",
		"num_round":                  "100",
		"bucket":                     bucket,
		"object":                     prefix + "/training_jobs/metrics_output/metrics.json",
		"sagemaker_program":          filepath.Base(conf["model_training_script_path"]),
		"sagemaker_submit_directory": trainingCode,
	}
	training := Step{
		Name:        stepTraining,
		Type:        "Training",
		CacheConfig: defaultCache,
		Arguments: map[string]any{
			"AlgorithmSpecification": map[string]any{"TrainingImage": xgbImage, "TrainingInputMode": "File"},
			"OutputDataConfig":       map[string]any{"S3OutputPath": fmt.Sprintf("s3://%s/%s/training_jobs", bucket, prefix)},
			"StoppingCondition":      map[string]any{"MaxRuntimeInSeconds": 86400},
			"ResourceConfig": map[string]any{
				"InstanceCount":  Param("TrainingInstanceCount"),
				"InstanceType":   Param("TrainingInstance"),
				"VolumeSizeInGB": defaultVolumeSizeGB,
			},
			"RoleArn": in.Role,
			"InputDataConfig": []map[string]any{{
				"ChannelName": "train",
				"DataSource": map[string]any{"S3DataSource": map[string]any{
					"S3DataType":             "S3Prefix",
					"S3Uri":                  ProcessingOutputURI(stepCreateDataset, "train_data"),
					"S3DataDistributionType": "FullyReplicated",
				}},
			}},
			"HyperParameters": hyperparameters,
		},
	}

	modelData := StepProperty(stepTraining, "ModelArtifacts.S3ModelArtifacts")
	scoringModel := Step{
		Name: stepScoringModel,
		Type: "Model",
		Arguments: map[string]any{
			"ExecutionRoleArn": in.Role,
			"PrimaryContainer": map[string]any{
				"Image":        xgbImage,
				"ModelDataUrl": modelData,
				"Environment": map[string]string{
					"SAGEMAKER_PROGRAM":          hyperparameters["sagemaker_program"],
					"SAGEMAKER_SUBMIT_DIRECTORY": trainingCode,
				},
			},
		},
	}
	scoring := Step{
		Name: stepScoringTransform,
		Type: "Transform",
		Arguments: transformJob{
			ModelName:     StepProperty(stepScoringModel, "ModelName"),
			InputURI:      ProcessingOutputURI(stepCreateDataset, "test_data"),
			OutputURI:     Join("/", "s3:/", bucket, prefix, ExecutionID(), "test_step", "output"),
			InstanceType:  Param("TrainingInstance"),
			InstanceCount: 1,
			InputFilter:   "$[1:]",
			OutputFilter:  "$[0, -1]",
		}.arguments(),
	}

	modelQuality := Step{
		Name:                stepModelQuality,
		Type:                "QualityCheck",
		CheckType:           "MODEL_QUALITY",
		SkipCheck:           boolPtr(true),
		RegisterNewBaseline: boolPtr(true),
		Arguments: processingJob{
			Role:          in.Role,
			Image:         analyzerImage,
			InstanceType:  Param("BaselineInstanceType"),
			InstanceCount: Param("BaselineInstanceCount"),
			VolumeGB:      120,
			Environment: map[string]any{
				"analysis_type":                   "MODEL_QUALITY",
				"problem_type":                    "BinaryClassification",
				"probability_attribute":           "_c1",
				"ground_truth_attribute":          "_c0",
				"probability_threshold_attribute": ".1",
				"dataset_format":                  `{"csv": {"header": false}}`,
				"dataset_source":                  "/opt/ml/processing/input/baseline_dataset_input",
				"output_path":                     "/opt/ml/processing/output",
				"publish_cloudwatch_metrics":      "Disabled",
			},
			Inputs: []map[string]any{
				s3Input("baseline_dataset_input", StepProperty(stepScoringTransform, "TransformOutput.S3OutputPath"), "/opt/ml/processing/input/baseline_dataset_input"),
			},
			Outputs: []map[string]any{
				s3Output("quality_check_output", "/opt/ml/processing/output", ExecutionPath(bucket, prefix, "modelqualitycheckstep")),
			},
		}.arguments(),
	}

	extract := lambdaStep(stepExtractMetrics, conf["metric_extraction_lambda_arn"], map[string]any{
		"model_quality_report_uri": StepProperty(stepModelQuality, "CalculatedBaselineStatistics"),
		"metric_name":              "auc",
	}, "statusCode", "body", "metric_value")

	register := Step{
		Name: stepRegister,
		Type: "RegisterModel",
		Arguments: map[string]any{
			"ModelPackageGroupName":   conf["model_package_group_name"],
			"ModelPackageDescription": "Binary classification model based on XGBoost",
			"ModelApprovalStatus":     Param("ModelApprovalStatus"),
			"InferenceSpecification": map[string]any{
				"Containers":                              []map[string]any{{"Image": xgbImage, "ModelDataUrl": modelData}},
				"SupportedContentTypes":                   []string{"text/csv"},
				"SupportedResponseMIMETypes":              []string{"text/csv"},
				"SupportedRealtimeInferenceInstanceTypes": []string{"ml.t2.medium", "ml.t2.large", "ml.m5.large"},
				"SupportedTransformInstanceTypes":         []string{"ml.m5.xlarge"},
			},
			"ModelMetrics": map[string]any{
				"ModelQuality": map[string]any{
					"Statistics":  metricsSource(StepProperty(stepModelQuality, "CalculatedBaselineStatistics")),
					"Constraints": metricsSource(StepProperty(stepModelQuality, "CalculatedBaselineConstraints")),
				},
				"ModelDataQuality": map[string]any{
					"Statistics":  metricsSource(StepProperty(stepDataQuality, "CalculatedBaselineStatistics")),
					"Constraints": metricsSource(StepProperty(stepDataQuality, "CalculatedBaselineConstraints")),
				},
				"Bias": map[string]any{
					"Report":            metricsSource(StepProperty(stepDataBias, "CalculatedBaselineConstraints")),
					"PreTrainingReport": metricsSource(StepProperty(stepDataBias, "CalculatedBaselineConstraints")),
				},
			},
			"DriftCheckBaselines": map[string]any{
				"ModelQuality": map[string]any{
					"Statistics":  metricsSource(StepProperty(stepModelQuality, "BaselineUsedForDriftCheckStatistics")),
					"Constraints": metricsSource(StepProperty(stepModelQuality, "BaselineUsedForDriftCheckConstraints")),
				},
				"ModelDataQuality": map[string]any{
					"Statistics":  metricsSource(StepProperty(stepDataQuality, "BaselineUsedForDriftCheckStatistics")),
					"Constraints": metricsSource(StepProperty(stepDataQuality, "BaselineUsedForDriftCheckConstraints")),
				},
				"Bias": map[string]any{
					"PreTrainingConstraints": metricsSource(StepProperty(stepDataBias, "BaselineUsedForDriftCheckConstraints")),
				},
			},
		},
	}

	checkAUC := Step{
		Name: stepCheckAUC,
		Type: "Condition",
		Arguments: ConditionArguments{
			Conditions: []Condition{{
				Type:       "GreaterThanOrEqualTo",
				LeftValue:  StepOutput(stepExtractMetrics, "metric_value"),
				RightValue: Param("ModelMinAcceptableAUC"),
			}},
			IfSteps:   []Step{register},
			ElseSteps: []Step{},
		},
	}

	return &Definition{
		Version:    DefinitionVersion,
		Parameters: xgboostParameters(),
		Steps: []Step{
			createDataset,
			dataBias,
			dataQuality,
			training,
			scoringModel,
			scoring,
			modelQuality,
			extract,
			checkAUC,
		},
	}, nil
}

type biasAnalysisConfig struct {
	DatasetType            string      `json:"dataset_type"`
	Label                  string      `json:"label"`
	LabelValuesOrThreshold []int       `json:"label_values_or_threshold"`
	Facet                  []biasFacet `json:"facet"`
	Methods                biasMethods `json:"methods"`
}

type biasFacet struct {
	NameOrIndex      string `json:"name_or_index"`
	ValueOrThreshold []int  `json:"value_or_threshold"`
}

type biasMethods struct {
	PreTrainingBias map[string]string `json:"pre_training_bias"`
}

// stageBiasConfig writes the Clarify analysis configuration and uploads it.
func stageBiasConfig(ctx context.Context, s *Session, prefix, label string) (string, error) {
	data, err := json.Marshal(biasAnalysisConfig{
		DatasetType:            "text/csv",
		Label:                  label,
		LabelValuesOrThreshold: []int{0},
		Facet:                  []biasFacet{{NameOrIndex: BiasFacet, ValueOrThreshold: []int{1}}},
		Methods:                biasMethods{PreTrainingBias: map[string]string{"methods": "all"}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal bias config: %w", err)
	}

	dir, err := os.MkdirTemp("", "clarify")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "analysis_config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write bias config: %w", err)
	}
	return s.Code.UploadFile(ctx, s.DefaultBucket, prefix+"/databiascheckstep/analysis_cfg/analysis_config.json", path)
}

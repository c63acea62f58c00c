package pipelinedef

import (
	"context"
	"encoding/json"
	"fmt"
)

// FeatureIngestionStrategy runs a Data Wrangler flow into a feature group.
const FeatureIngestionStrategy = "feature_ingestion_pipeline"

func init() {
	Register(FeatureIngestionStrategy, buildFeatureIngestion)
}

func buildFeatureIngestion(ctx context.Context, in Input) (*Definition, error) {
	conf, err := in.Config.strings("flow_file_path", "feature_group_name")
	if err != nil {
		return nil, err
	}

	s := in.Session
	if s.Flows == nil {
		return nil, fmt.Errorf("no flow reader configured")
	}
	flow, err := s.Flows.ReadFlow(conf["flow_file_path"])
	if err != nil {
		return nil, err
	}

	image, err := ImageURI(DataWrangler, s.Region)
	if err != nil {
		return nil, err
	}

	prefix := in.Name
	if p, err := in.Config.String("prefix"); err == nil {
		prefix = p
	}
	flowURI, err := s.stage(ctx, prefix, conf["flow_file_path"])
	if err != nil {
		return nil, err
	}

	outputConfig, err := json.Marshal(map[string]any{
		flow.OutputName(): map[string]string{"content_type": "CSV"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output config: %w", err)
	}

	wrangler := Step{
		Name: "data-wrangler-step",
		Type: "Processing",
		Arguments: processingJob{
			Role:          in.Role,
			Image:         image,
			InstanceType:  Param("InstanceType"),
			InstanceCount: Param("InstanceCount"),
			Arguments:     []string{fmt.Sprintf("--output-config '%s'", outputConfig)},
			Inputs: []map[string]any{
				s3Input("flow", flowURI, "/opt/ml/processing/flow"),
				s3Input(flow.InputName(), Param("InputDataUrl"), "/opt/ml/processing/"+flow.InputName()),
			},
			Outputs: []map[string]any{{
				"OutputName": flow.OutputName(),
				"AppManaged": true,
				"FeatureStoreOutput": map[string]any{
					"FeatureGroupName": conf["feature_group_name"],
				},
			}},
		}.arguments(),
	}

	return &Definition{
		Version: DefinitionVersion,
		Parameters: []Parameter{
			{Name: "InstanceCount", Type: "Integer", DefaultValue: 1},
			{Name: "InstanceType", Type: "String", DefaultValue: "ml.m5.4xlarge"},
			{Name: "InputDataUrl", Type: "String"},
		},
		Steps: []Step{wrangler},
	}, nil
}

package pipelinedef

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/savaki/sagemaker-mlops/internal/featurestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct{}

func (fakeCatalog) Resolve(_ context.Context, fg string) (featurestore.CatalogInfo, error) {
	return featurestore.CatalogInfo{Catalog: "AwsDataCatalog", Database: "sagemaker_featurestore", TableName: fg + "_table"}, nil
}

type fakeRegistry struct {
	arn string
	err error
}

func (f fakeRegistry) LatestApproved(context.Context, string) (string, error) {
	return f.arn, f.err
}

type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) UploadFile(_ context.Context, bucket, key, _ string) (string, error) {
	f.keys = append(f.keys, key)
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

type fakeFlows struct{ flow Flow }

func (f fakeFlows) ReadFlow(string) (Flow, error) { return f.flow, nil }

func testSession() *Session {
	var flow Flow
	_ = json.Unmarshal([]byte(`{"nodes":[
		{"node_id":"a1","parameters":{"dataset_definition":{"name":"claims.csv","s3ExecutionContext":{"s3Uri":"s3://b/claims.csv"}}},"outputs":[{"name":"default"}]},
		{"node_id":"z9","outputs":[{"name":"default"}]}
	]}`), &flow)

	return &Session{
		Region:        "us-east-1",
		DefaultBucket: "project-bucket",
		Catalog:       fakeCatalog{},
		Registry:      fakeRegistry{arn: "arn:aws:sagemaker:us-east-1:123456789012:model-package/group/3"},
		Code:          &fakeUploader{},
		Flows:         fakeFlows{flow: flow},
	}
}

func decode(t *testing.T, definition string) Definition {
	t.Helper()
	var raw struct {
		Version    string
		Parameters []Parameter
		Steps      []struct {
			Name      string
			Type      string
			Arguments json.RawMessage
		}
	}
	require.NoError(t, json.Unmarshal([]byte(definition), &raw))

	def := Definition{Version: raw.Version, Parameters: raw.Parameters}
	for _, s := range raw.Steps {
		def.Steps = append(def.Steps, Step{Name: s.Name, Type: s.Type, Arguments: s.Arguments})
	}
	return def
}

func TestStrategies(t *testing.T) {
	assert.Subset(t, Strategies(), []string{XGBoostStrategy, FeatureIngestionStrategy, BatchTransformStrategy})
}

func TestGenerate_UnknownStrategy(t *testing.T) {
	_, err := Generate(context.Background(), Input{Name: "p", Strategy: "nope", Session: testSession()})
	assert.ErrorIs(t, err, errors.ErrUnknownPipelineStrategy)
}

func TestGenerate_MissingConfiguration(t *testing.T) {
	definition, err := Generate(context.Background(), Input{Name: "p", Strategy: XGBoostStrategy, Session: testSession(), Config: Config{}})
	assert.ErrorContains(t, err, "pipeline p")
	assert.Empty(t, definition)
}

func xgboostConfig() Config {
	return Config{
		"prefix":                       "build",
		"model_package_group_name":     "proj-fraud",
		"model_training_script_path":   "scripts/train.py",
		"create_dataset_script_path":   "scripts/create_dataset.py",
		"label_name":                   "fraud",
		"customers_fg_name":            "proj-customers",
		"claims_fg_name":               "proj-claims",
		"metric_extraction_lambda_arn": "arn:aws:lambda:us-east-1:123456789012:function:extract",
		"features_names":               []any{"incident_severity", "customer_age"},
	}
}

func TestGenerate_XGBoost(t *testing.T) {
	in := Input{Role: "arn:role", Name: "proj-build", Strategy: XGBoostStrategy, Session: testSession(), Config: xgboostConfig()}

	definition, err := Generate(context.Background(), in)
	require.NoError(t, err)

	def := decode(t, definition)
	assert.Equal(t, DefinitionVersion, def.Version)
	assert.Equal(t, []string{
		"CreateDataset",
		"DataBiasCheckStep",
		"DataQualityCheckStep",
		"ModelTraining",
		"TestScoring-CreateModel",
		"TestScoring-Transform",
		"ModelQualityCheckStep",
		"LambdaExtractMetrics",
		"CheckAUC",
	}, def.StepNames())

	assert.Contains(t, definition, `SELECT DISTINCT \"fraud\", \"incident_severity\", \"customer_age\"`)
	assert.Contains(t, definition, `"Name":"RegisterModel"`)
	assert.Contains(t, definition, `"Get":"Parameters.ModelMinAcceptableAUC"`)
	assert.Contains(t, definition, "sagemaker-xgboost:1.0-1-cpu-py3")

	again, err := Generate(context.Background(), Input{Role: "arn:role", Name: "proj-build", Strategy: XGBoostStrategy, Session: testSession(), Config: xgboostConfig()})
	require.NoError(t, err)
	assert.Equal(t, definition, again)
}

func TestGenerate_FeatureIngestion(t *testing.T) {
	in := Input{
		Role:     "arn:role",
		Name:     "proj-claims-ingest",
		Strategy: FeatureIngestionStrategy,
		Session:  testSession(),
		Config:   Config{"flow_file_path": "flows/claims.flow", "feature_group_name": "proj-claims"},
	}

	definition, err := Generate(context.Background(), in)
	require.NoError(t, err)

	def := decode(t, definition)
	assert.Equal(t, []string{"data-wrangler-step"}, def.StepNames())
	assert.Contains(t, definition, `"FeatureGroupName":"proj-claims"`)
	assert.Contains(t, definition, `"Get":"Parameters.InputDataUrl"`)
	assert.Contains(t, definition, "z9.default")
	require.Len(t, def.Parameters, 3)
	assert.Equal(t, "InputDataUrl", def.Parameters[2].Name)
}

func TestGenerate_BatchTransform(t *testing.T) {
	conf := Config{
		"prefix":                     "serving",
		"queue_url":                  "https://sqs.us-east-1.amazonaws.com/123456789012/q",
		"datafreshness_func_arn":     "arn:aws:lambda:us-east-1:123456789012:function:fresh",
		"create_dataset_script_path": "scripts/create_dataset.py",
		"customers_fg_name":          "proj-customers",
		"claims_fg_name":             "proj-claims",
		"model_package_group_name":   "proj-fraud",
		"features_names":             []string{"incident_severity"},
	}
	in := Input{Role: "arn:role", Name: "proj-batch", Strategy: BatchTransformStrategy, Session: testSession(), Config: conf}

	definition, err := Generate(context.Background(), in)
	require.NoError(t, err)

	def := decode(t, definition)
	assert.Equal(t, []string{"CreateDataset", "DatafreshnessCheckLambda", "DataFreshCond"}, def.StepNames())
	assert.Contains(t, definition, `"SqsQueueUrl":"https://sqs.us-east-1.amazonaws.com/123456789012/q"`)
	assert.Contains(t, definition, TransformOutputKey)
	assert.Contains(t, definition, "SELECT DISTINCT claims.policy_id")
	assert.Contains(t, definition, "model-package/group/3")
}

func TestGenerate_BatchTransformWithoutApprovedModel(t *testing.T) {
	s := testSession()
	s.Registry = fakeRegistry{err: errors.ErrNoApprovedModelPackage}

	_, err := Generate(context.Background(), Input{Name: "proj-batch", Strategy: BatchTransformStrategy, Session: s, Config: Config{
		"prefix": "p", "queue_url": "q", "datafreshness_func_arn": "f", "create_dataset_script_path": "c.py",
		"customers_fg_name": "a", "claims_fg_name": "b", "model_package_group_name": "g",
		"features_names": []string{"x"},
	}})
	assert.ErrorIs(t, err, errors.ErrNoApprovedModelPackage)
}

func TestImageURI(t *testing.T) {
	uri, err := ImageURI(SKLearn, "us-west-2")
	require.NoError(t, err)
	assert.Equal(t, "246618743249.dkr.ecr.us-west-2.amazonaws.com/sagemaker-scikit-learn:0.23-1-cpu-py3", uri)

	uri, err = ImageURI(XGBoost, "us-west-2")
	require.NoError(t, err)
	assert.Equal(t, "246618743249.dkr.ecr.us-west-2.amazonaws.com/sagemaker-xgboost:1.0-1-cpu-py3", uri)

	_, err = ImageURI(ModelMonitorAnalyzer, "mars-north-1")
	assert.ErrorIs(t, err, errors.ErrUnsupportedRegion)
}

func TestConfig_Strings(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		want    []string
		wantErr bool
	}{
		{name: "strings", conf: Config{"k": []string{"a"}}, want: []string{"a"}},
		{name: "decoded json", conf: Config{"k": []any{"a", "b"}}, want: []string{"a", "b"}},
		{name: "missing", conf: Config{}, wantErr: true},
		{name: "mixed", conf: Config{"k": []any{"a", 1}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.conf.Strings("k")
			if tc.wantErr {
				assert.ErrorIs(t, err, errors.ErrMissingConfiguration)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFileFlowReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.flow")
	require.NoError(t, os.WriteFile(path, []byte(`{"nodes":[{"node_id":"n1","parameters":{"dataset_definition":{"name":"in.csv"}},"outputs":[{"name":"default"}]}]}`), 0o644))

	flow, err := FileFlowReader{}.ReadFlow(path)
	require.NoError(t, err)
	assert.Equal(t, "in.csv", flow.InputName())
	assert.Equal(t, "n1.default", flow.OutputName())

	empty := filepath.Join(t.TempDir(), "empty.flow")
	require.NoError(t, os.WriteFile(empty, []byte(`{"nodes":[]}`), 0o644))
	_, err = FileFlowReader{}.ReadFlow(empty)
	assert.Error(t, err)
}

package services

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values map[string]string
	gets   int
	puts   int
	paths  int
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.gets++
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func (f *fakeSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.puts++
	f.values[aws.ToString(in.Name)] = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{}, nil
}

func (f *fakeSSM) GetParametersByPath(_ context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.paths++
	var params []types.Parameter
	for k, v := range f.values {
		params = append(params, types.Parameter{Name: aws.String(k), Value: aws.String(v)})
	}
	return &ssm.GetParametersByPathOutput{Parameters: params}, nil
}

func TestSSMParameterStore_GetParameter(t *testing.T) {
	client := &fakeSSM{values: map[string]string{"/sagemaker-demo/x": "1"}}
	store := NewSSMParameterStore(client, "demo")
	ctx := context.Background()

	v, err := store.GetParameter(ctx, "/sagemaker-demo/x")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = store.GetParameter(ctx, "/sagemaker-demo/x")
	require.NoError(t, err)
	assert.Equal(t, 1, client.gets, "second read should be served from cache")

	_, err = store.GetParameter(ctx, "/sagemaker-demo/missing")
	assert.Error(t, err)
}

func TestSSMParameterStore_GetParameterFresh(t *testing.T) {
	client := &fakeSSM{values: map[string]string{"/sagemaker-demo/Build/AutoApprovalFlag": "1"}}
	store := NewSSMParameterStore(client, "demo")
	ctx := context.Background()

	_, err := store.GetParametersByPath(ctx, "/sagemaker-demo")
	require.NoError(t, err)

	client.values["/sagemaker-demo/Build/AutoApprovalFlag"] = "0"

	cached, err := store.GetParameter(ctx, "/sagemaker-demo/Build/AutoApprovalFlag")
	require.NoError(t, err)
	assert.Equal(t, "1", cached)

	fresh, err := store.GetParameterFresh(ctx, "/sagemaker-demo/Build/AutoApprovalFlag")
	require.NoError(t, err)
	assert.Equal(t, "0", fresh)
	assert.Equal(t, 1, client.gets)

	cached, err = store.GetParameter(ctx, "/sagemaker-demo/Build/AutoApprovalFlag")
	require.NoError(t, err)
	assert.Equal(t, "0", cached, "fresh read refreshes the cache")
}

func TestSSMParameterStore_PutParameter(t *testing.T) {
	client := &fakeSSM{values: map[string]string{}}
	store := NewSSMParameterStore(client, "demo")
	ctx := context.Background()

	require.NoError(t, store.PutParameter(ctx, "/sagemaker-demo/flag", "0"))
	v, err := store.GetParameter(ctx, "/sagemaker-demo/flag")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
	assert.Equal(t, 0, client.gets)
}

func TestSSMParameterStore_GetConfig(t *testing.T) {
	t.Setenv("SAGEMAKER_PROJECT_NAME", "demo")
	t.Setenv("SAGEMAKER_PROJECT_ID", "p-123")
	t.Setenv("CODEPIPELINE_CONSTRUCT_ID", "Serving")
	t.Setenv("PROJECT_BUCKET", "bucket")

	client := &fakeSSM{values: map[string]string{
		"/sagemaker-demo/Serving/CodePipelineARN": "arn:aws:codepipeline:us-east-1:123:sagemaker-p-123-Serving",
	}}
	store := NewSSMParameterStore(client, "")

	config, err := store.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", config.ProjectName)
	assert.Equal(t, "p-123", config.ProjectID)
	assert.Equal(t, "bucket", config.ProjectBucket)
	assert.Equal(t, "arn:aws:codepipeline:us-east-1:123:sagemaker-p-123-Serving", config.CodePipelineARN)
	assert.NoError(t, config.RequireProject())
}

func TestSSMParameterStore_GetConfig_NoConstruct(t *testing.T) {
	t.Setenv("SAGEMAKER_PROJECT_NAME", "demo")
	t.Setenv("SAGEMAKER_PROJECT_ID", "p-123")
	t.Setenv("CODEPIPELINE_CONSTRUCT_ID", "")

	client := &fakeSSM{values: map[string]string{
		"/sagemaker-demo/Build/AutoApprovalFlag": "1",
	}}
	store := NewSSMParameterStore(client, "")

	config, err := store.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", config.ProjectName)
	assert.Empty(t, config.CodePipelineARN)
	assert.Equal(t, 0, client.gets)
	assert.Equal(t, 0, client.paths, "config load must not list the project path")
}

func TestSSMParameterStore_GetConfig_MissingPipelineARN(t *testing.T) {
	t.Setenv("SAGEMAKER_PROJECT_NAME", "demo")
	t.Setenv("SAGEMAKER_PROJECT_ID", "p-123")
	t.Setenv("CODEPIPELINE_CONSTRUCT_ID", "Serving")

	store := NewSSMParameterStore(&fakeSSM{values: map[string]string{}}, "")

	config, err := store.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Empty(t, config.CodePipelineARN)
}

func TestEnvParameterStore_GetConfig(t *testing.T) {
	t.Setenv("PROJECT_NAME", "lambda-project")
	t.Setenv("PROJECT_ID", "p-9")
	t.Setenv("TARGET_DDB_TABLE", "scores")

	config, err := NewEnvParameterStore("").GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lambda-project", config.ProjectName)
	assert.Equal(t, "p-9", config.ProjectID)
	assert.Equal(t, "scores", config.TargetTable)
}

func TestConfig_RequireProject(t *testing.T) {
	assert.Error(t, (&Config{ProjectName: "demo"}).RequireProject())
}

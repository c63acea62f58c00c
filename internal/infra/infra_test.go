package infra

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssqs"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/constants"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/savaki/sagemaker-mlops/internal/pipelinedef"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject(t *testing.T) {
	p := Project{Name: "demo", ID: "p-abc123"}

	assert.Equal(t, "demo-api", p.Scoped("api"))
	assert.Equal(t, "sagemaker-p-abc123-GlueJob", p.Resource("GlueJob"))
	assert.Equal(t, "/sagemaker-demo/claims", p.ParameterName("claims"))

	tags := p.Tags()
	require.Len(t, tags, 2)
	assert.Equal(t, constants.TagProjectName, *tags[0].Key)
	assert.Equal(t, "demo", *tags[0].Value)
	assert.Equal(t, constants.TagProjectID, *tags[1].Key)
	assert.Equal(t, "p-abc123", *tags[1].Value)
}

func TestRoles(t *testing.T) {
	roles := UniformRoles("arn:aws:iam::123456789012:role/use")
	assert.Len(t, roles, len(constants.RoleKeys))
	assert.Empty(t, roles.Missing())

	delete(roles, constants.GlueRole)
	roles[constants.EventsRole] = ""
	assert.Equal(t, []string{constants.EventsRole, constants.GlueRole}, roles.Missing())
}

func TestBuildEnvironment(t *testing.T) {
	props := CICDProps{
		ConstructID:       "ServingPipeline",
		StudioUserRoleARN: "arn:studio",
		Project:           Project{Name: "demo", ID: "p-1"},
		Roles:             UniformRoles("arn:use"),
	}

	env := BuildEnvironment("bucket", props)
	assert.Len(t, env, 10)
	assert.Equal(t, "bucket", env["PROJECT_BUCKET"])
	assert.Equal(t, "arn:use", env["SAGEMAKER_PIPELINE_ROLE_ARN"])
	assert.Equal(t, "arn:studio", env["SAGEMAKER_STUDIO_USER_ROLE_ARN"])
	assert.Equal(t, "demo", env["SAGEMAKER_PROJECT_NAME"])
	assert.Equal(t, "p-1", env["SAGEMAKER_PROJECT_ID"])
	assert.Equal(t, "ServingPipeline", env["CODEPIPELINE_CONSTRUCT_ID"])

	for key, value := range env {
		assert.NotEmpty(t, value, key)
	}
}

func TestExecutionGrants(t *testing.T) {
	account := Account{Region: "us-east-1", ID: "123456789012"}
	grants := ExecutionGrants(Project{Name: "demo", ID: "p-1"}, "arn:use", account)

	assert.Len(t, grants, 14)
	assert.Equal(t, []string{"sts:AssumeRole", "iam:PassRole"}, grants[1].Actions)
	assert.Equal(t, []string{"arn:use"}, grants[1].Resources)
	assert.Contains(t, grants[2].Resources, "arn:aws:cloudformation:us-east-1:123456789012:stack/demo*/*")

	var conditional int
	for _, g := range grants {
		if len(g.Conditions) > 0 {
			conditional++
			assert.Equal(t, []string{"*"}, g.Actions)
		}
	}
	assert.Equal(t, 1, conditional)
}

func TestLaunchGrants(t *testing.T) {
	grants := LaunchGrants("arn:use", Account{Region: "eu-west-1", ID: "123456789012"})

	require.Len(t, grants, 6)
	last := grants[len(grants)-1]
	assert.Equal(t, []string{"arn:use"}, last.Resources)
	assert.Contains(t, last.Actions, "iam:PutRolePolicy")
	assert.Equal(t, []string{"arn:aws:ssm:eu-west-1:123456789012:parameter/cdk-bootstrap/*"}, grants[3].Resources)
}

func TestBucketName(t *testing.T) {
	re := regexp.MustCompile(`^sagemaker-p-abc123-[a-z0-9]{7}$`)

	a, b := BucketName("p-abc123"), BucketName("p-abc123")
	assert.Regexp(t, re, a)
	assert.Regexp(t, re, b)
	assert.NotEqual(t, a, b)
}

func TestLogicalID(t *testing.T) {
	tests := map[string]string{
		"demo-claims":      "demo-claims",
		"demo_claims":      "demo-claims",
		"demo.claims v2":   "democlaimsv2",
		"BuildPipeline123": "BuildPipeline123",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, logicalID(in))
		})
	}
}

func TestSeeds(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"serving", "build_pipeline", ".git"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	dirs, err := SeedDirs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "build_pipeline"), filepath.Join(dir, "serving")}, dirs)

	assert.Equal(t, "build_pipeline.zip", SeedKey("repos/build_pipeline"))

	_, err = SeedDirs(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestTransformConfiguration(t *testing.T) {
	p := models.PipelineConfig{
		PipelineName: "batch-scoring",
		Configuration: map[string]any{
			"claims_fg_name":    "claims",
			"customers_fg_name": "customers",
			"instance_type":     "ml.m5.xlarge",
		},
	}

	conf := TransformConfiguration(p, "demo", "arn:fn", "https://queue", "demo-group", []string{"a", "b"})
	assert.Equal(t, "demo-claims", conf["claims_fg_name"])
	assert.Equal(t, "demo-customers", conf["customers_fg_name"])
	assert.Equal(t, "ml.m5.xlarge", conf["instance_type"])
	assert.Equal(t, "arn:fn", conf["datafreshness_func_arn"])
	assert.Equal(t, "https://queue", conf["queue_url"])
	assert.Equal(t, "demo-group", conf["model_package_group_name"])
	assert.Equal(t, []string{"a", "b"}, conf["features_names"])
	assert.Equal(t, "claims", p.Configuration["claims_fg_name"], "source configuration is untouched")
}

func TestRedeployPattern(t *testing.T) {
	pattern := RedeployPattern("demo-models")

	assert.Equal(t, "aws.sagemaker", *(*pattern.Source)[0])
	assert.Equal(t, "SageMaker Model Package State Change", *(*pattern.DetailType)[0])
	detail := *pattern.Detail
	assert.Equal(t, []string{"demo-models"}, detail["ModelPackageGroupName"])
	assert.Equal(t, []string{"Approved", "Rejected"}, detail["ModelApprovalStatus"])
}

// requireNode skips tests that synthesize constructs; the jsii runtime needs node.
func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is not installed")
	}
}

func writeJSON(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func lambdaDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		writeJSON(t, filepath.Join(dir, name), "bootstrap", "#!/bin/sh\n")
	}
	return dir
}

func testConfig() *services.Config {
	return &services.Config{
		ProjectBucket:   "project-bucket",
		PipelineRoleARN: "arn:aws:iam::123456789012:role/pipeline",
		ProjectName:     "demo",
		ProjectID:       "p-abc123",
		ConstructID:     "FeaturesIngestionPipeline",
		EventsRoleARN:   "arn:aws:iam::123456789012:role/events",
		LambdaRoleARN:   "arn:aws:iam::123456789012:role/lambda",
		GlueRoleARN:     "arn:aws:iam::123456789012:role/glue",
		Region:          "us-east-1",
	}
}

func TestFeatureIngestionStack_Synth(t *testing.T) {
	requireNode(t)

	repo := t.TempDir()
	configs := filepath.Join(repo, ConfigurationDir)
	writeJSON(t, configs, "claims.fg.json", `{
		"feature_group_name": "claims",
		"record_identifier_feature_name": "policy_id",
		"event_time_feature_name": "event_time",
		"enable_online_store": true,
		"column_schemas": [
			{"name": "policy_id", "type": "long"},
			{"name": "event_time", "type": "float"},
			{"name": "incident_type", "type": "string"}
		]
	}`)
	writeJSON(t, configs, "broken.fg.json", `{"feature_group_name": "broken", "column_schemas": []}`)
	writeJSON(t, configs, "claims.pipeline.json", `{
		"pipeline_name": "claims-ingestion",
		"code_file_path": "pipelines/unregistered.py",
		"pipeline_configuration": {"feature_group_name": "claims"}
	}`)

	ctx := zerolog.Nop().WithContext(context.Background())
	app := awscdk.NewApp(nil)
	stack, err := NewFeatureIngestionStack(ctx, app, "demo-FeatureStore", &Environment{
		Config:  testConfig(),
		Session: &pipelinedef.Session{Region: "us-east-1", DefaultBucket: "project-bucket"},
		Account: "123456789012",
		RepoDir: repo,
	}, nil)
	require.NoError(t, err)
	assert.Len(t, stack.FeatureGroups.Succeeded(), 1)
	assert.Len(t, stack.FeatureGroups.Failed(), 1)
	assert.Empty(t, stack.Pipelines.Succeeded())
	assert.Len(t, stack.Pipelines.Failed(), 1, "unregistered strategies are reported")

	template := assertions.Template_FromStack(stack.Stack, nil)
	template.ResourceCountIs(jsii.String("AWS::SageMaker::FeatureGroup"), jsii.Number(1))
	template.ResourceCountIs(jsii.String("AWS::SageMaker::Pipeline"), jsii.Number(0))
	template.HasResourceProperties(jsii.String("AWS::SageMaker::FeatureGroup"), map[string]interface{}{
		"FeatureGroupName": "demo-claims",
		"FeatureDefinitions": []interface{}{
			map[string]interface{}{"FeatureName": "policy_id", "FeatureType": "Integral"},
			map[string]interface{}{"FeatureName": "event_time", "FeatureType": "Fractional"},
			map[string]interface{}{"FeatureName": "incident_type", "FeatureType": "String"},
		},
	})
	template.HasResourceProperties(jsii.String("AWS::S3::Bucket"), map[string]interface{}{
		"BucketName": "sagemaker-p-abc123-fg-123456789012",
	})
}

type stagedCode struct{ keys []string }

func (s *stagedCode) UploadFile(_ context.Context, bucket, key, _ string) (string, error) {
	s.keys = append(s.keys, key)
	return "s3://" + bucket + "/" + key, nil
}

func TestFeatureIngestionStack_Pipelines(t *testing.T) {
	requireNode(t)

	repo := t.TempDir()
	configs := filepath.Join(repo, ConfigurationDir)
	flows := filepath.Join(repo, "flows")
	flow := `{"nodes":[
		{"node_id":"a1","parameters":{"dataset_definition":{"name":"raw.csv","s3ExecutionContext":{"s3Uri":"s3://b/raw.csv"}}},"outputs":[{"name":"default"}]},
		{"node_id":"z9","outputs":[{"name":"default"}]}
	]}`
	writeJSON(t, flows, "claims.flow", flow)
	writeJSON(t, flows, "customers.flow", flow)

	for _, name := range []string{"claims", "customers"} {
		writeJSON(t, configs, name+".pipeline.json", `{
			"pipeline_name": "`+name+`-ingestion",
			"code_file_path": "pipelines/`+pipelinedef.FeatureIngestionStrategy+`.py",
			"pipeline_configuration": {
				"flow_file_path": "`+filepath.Join(flows, name+".flow")+`",
				"feature_group_name": "`+name+`"
			}
		}`)
	}
	writeJSON(t, configs, "legacy.pipeline.json", `{
		"pipeline_name": "legacy",
		"code_file_path": "pipelines/unregistered.py",
		"pipeline_configuration": {"feature_group_name": "legacy"}
	}`)

	code := &stagedCode{}
	ctx := zerolog.Nop().WithContext(context.Background())
	app := awscdk.NewApp(nil)
	stack, err := NewFeatureIngestionStack(ctx, app, "demo-FeatureStore", &Environment{
		Config: testConfig(),
		Session: &pipelinedef.Session{
			Region:        "us-east-1",
			DefaultBucket: "project-bucket",
			Code:          code,
			Flows:         pipelinedef.FileFlowReader{},
		},
		Account: "123456789012",
		RepoDir: repo,
	}, nil)
	require.NoError(t, err)

	project := ProjectFromConfig(testConfig())
	assert.ElementsMatch(t, []string{project.Scoped("claims-ingestion"), project.Scoped("customers-ingestion")}, stack.Pipelines.Succeeded().Names())
	assert.Equal(t, []string{project.Scoped("legacy")}, stack.Pipelines.Failed().Names())
	assert.Len(t, code.keys, 2)

	template := assertions.Template_FromStack(stack.Stack, nil)
	template.ResourceCountIs(jsii.String("AWS::SageMaker::Pipeline"), jsii.Number(2))
	template.ResourceCountIs(jsii.String("AWS::Events::Rule"), jsii.Number(2))
	template.HasResourceProperties(jsii.String("AWS::Events::Rule"), map[string]interface{}{
		"Name":               project.Scoped("claims-ingestion"),
		"ScheduleExpression": IngestionSchedule,
	})
}

func TestLoader_Synth(t *testing.T) {
	requireNode(t)

	ctx := zerolog.Nop().WithContext(context.Background())
	app := awscdk.NewApp(nil)
	stack := awscdk.NewStack(app, jsii.String("LoaderStack"), nil)
	queue := awssqs.NewQueue(stack, jsii.String("Queue"), nil)
	_, err := NewLoader(ctx, stack, "Loader", &Environment{
		Config:    testConfig(),
		Uploader:  &stagedCode{},
		LambdaDir: lambdaDir(t, "read-scores", "execute-state-machine", "job-submit", "job-status-check"),
		RepoDir:   t.TempDir(),
	}, LoaderProps{
		Queue:     queue,
		ModelName: "batch",
		IndexName: "policy_id",
	})
	require.NoError(t, err)

	template := assertions.Template_FromStack(stack, nil)
	template.HasResourceProperties(jsii.String("AWS::Lambda::EventSourceMapping"), map[string]interface{}{
		"FunctionResponseTypes": []interface{}{"ReportBatchItemFailures"},
	})
}

func TestProjectStack_Synth(t *testing.T) {
	requireNode(t)

	app := awscdk.NewApp(nil)
	stack := NewProjectStack(app, ProjectStackID, ProjectStackProps{
		CodeAssets: map[string]assets.CodeAsset{
			"BuildPipeline":   {Bucket: "seeds", Key: "build_pipeline.zip"},
			"ServingPipeline": {Bucket: "seeds", Key: "serving.zip"},
		},
		DemoAsset:         &assets.CodeAsset{Bucket: "seeds", Key: "demo.zip"},
		StudioUserRoleARN: "arn:aws:iam::123456789012:role/studio",
		LambdaDir:         lambdaDir(t, "auto-approval"),
	})
	assert.Len(t, stack.CICD, 2)

	template := assertions.Template_FromStack(stack.Stack, nil)
	template.ResourceCountIs(jsii.String("AWS::CodePipeline::Pipeline"), jsii.Number(2))
	template.ResourceCountIs(jsii.String("AWS::CodeCommit::Repository"), jsii.Number(3))
	template.ResourceCountIs(jsii.String("AWS::Lambda::Function"), jsii.Number(1))
	template.HasParameter(jsii.String("SageMakerProjectName"), map[string]interface{}{
		"Default":   "MLOpsDemo",
		"MaxLength": 16,
	})
	template.HasResourceProperties(jsii.String("AWS::SSM::Parameter"), map[string]interface{}{
		"Value":          "1",
		"AllowedPattern": "[0,1]",
	})
}

func TestGenerateTemplate(t *testing.T) {
	requireNode(t)

	outdir := t.TempDir()
	path, err := GenerateTemplate(func(scope constructs.Construct, id string, synthesizer awscdk.IStackSynthesizer) awscdk.Stack {
		stack := awscdk.NewStack(scope, jsii.String(id), &awscdk.StackProps{Synthesizer: synthesizer})
		awssns.NewTopic(stack, jsii.String("Topic"), nil)
		return stack
	}, "TemplateStack", outdir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "AWS::SNS::Topic")
	assert.NotContains(t, string(data), "BootstrapVersion")
}

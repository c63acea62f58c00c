// Package infra holds the CDK stacks and constructs of the MLOps platform: the
// Service Catalog product, the project stack it launches, the per-repository CI/CD
// pipelines and the build, ingestion and serving stacks those pipelines deploy.
package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/savaki/sagemaker-mlops/internal/constants"
	"github.com/savaki/sagemaker-mlops/internal/pipelinedef"
	"github.com/savaki/sagemaker-mlops/internal/services"
)

// DefaultLambdaDir is where the build places one {name}/bootstrap per function.
const DefaultLambdaDir = "dist/lambda"

// ModelRegistry is what the serving stack needs from the SageMaker model registry.
type ModelRegistry interface {
	LatestApproved(ctx context.Context, group string) (string, error)
	DataQualityBaselines(ctx context.Context, packageARN string) (services.Baselines, error)
}

// CodeUploader stages a local file in S3 and returns its URI.
type CodeUploader interface {
	UploadFile(ctx context.Context, bucket, key, path string) (string, error)
}

// Environment is everything the sub-repository stacks read at synth time.
type Environment struct {
	Config    *services.Config
	Session   *pipelinedef.Session
	Registry  ModelRegistry
	Uploader  CodeUploader
	Account   string
	LambdaDir string
	RepoDir   string // root of the repository being deployed

	NativeLoader bool // run the Glue job from Step Functions instead of polling from Lambda
}

func (e *Environment) path(elem ...string) string {
	return filepath.Join(append([]string{e.RepoDir}, elem...)...)
}

// Project identifies a SageMaker project. Values may be CloudFormation tokens.
type Project struct {
	Name string
	ID   string
}

// Tags returns the tags SageMaker Studio uses to associate resources with the project.
func (p Project) Tags() []*awscdk.CfnTag {
	return []*awscdk.CfnTag{
		{Key: jsii.String(constants.TagProjectName), Value: jsii.String(p.Name)},
		{Key: jsii.String(constants.TagProjectID), Value: jsii.String(p.ID)},
	}
}

// Apply tags every resource under scope.
func (p Project) Apply(scope constructs.Construct) {
	tags := awscdk.Tags_Of(scope)
	tags.Add(jsii.String(constants.TagProjectName), jsii.String(p.Name), nil)
	tags.Add(jsii.String(constants.TagProjectID), jsii.String(p.ID), nil)
}

// Scoped returns {project}-{name}.
func (p Project) Scoped(name string) string {
	return constants.ProjectScoped(p.Name, name)
}

// Resource returns sagemaker-{projectId}-{name}.
func (p Project) Resource(name string) string {
	return fmt.Sprintf("sagemaker-%s-%s", p.ID, name)
}

// ParameterName returns /sagemaker-{project}/{name}.
func (p Project) ParameterName(name string) string {
	return constants.ResourceParamName(p.Name, name)
}

// ProjectFromConfig reads the project identity out of the environment config.
func ProjectFromConfig(config *services.Config) Project {
	return Project{Name: config.ProjectName, ID: config.ProjectID}
}

func importRole(scope constructs.Construct, id, arn string, mutable bool) awsiam.IRole {
	return awsiam.Role_FromRoleArn(scope, jsii.String(id), jsii.String(arn), &awsiam.FromRoleArnOptions{
		Mutable: jsii.Bool(mutable),
	})
}

func statement(actions, resources []string) awsiam.PolicyStatement {
	return awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Actions:   jsii.Strings(actions...),
		Resources: jsii.Strings(resources...),
	})
}

// FunctionOptions configures a Go Lambda built from the lambda asset directory.
type FunctionOptions struct {
	FunctionName string
	Asset        string // directory name under the lambda dir, e.g. "auto-approval"
	Timeout      float64
	MemorySize   float64
	Environment  map[string]string
	Role         awsiam.IRole
}

func newGoFunction(scope constructs.Construct, id, lambdaDir string, opts FunctionOptions) awslambda.Function {
	if lambdaDir == "" {
		lambdaDir = DefaultLambdaDir
	}
	env := make(map[string]*string, len(opts.Environment))
	for k, v := range opts.Environment {
		env[k] = jsii.String(v)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30
	}
	memory := opts.MemorySize
	if memory == 0 {
		memory = 128
	}

	props := &awslambda.FunctionProps{
		Runtime:      awslambda.Runtime_PROVIDED_AL2023(),
		Architecture: awslambda.Architecture_ARM_64(),
		Handler:      jsii.String("bootstrap"),
		Code:         awslambda.Code_FromAsset(jsii.String(filepath.Join(lambdaDir, opts.Asset)), nil),
		Timeout:      awscdk.Duration_Seconds(jsii.Number(timeout)),
		MemorySize:   jsii.Number(memory),
		Environment:  &env,
		Role:         opts.Role,
	}
	if opts.FunctionName != "" {
		props.FunctionName = jsii.String(opts.FunctionName)
	}
	return awslambda.NewFunction(scope, jsii.String(id), props)
}

// logicalID turns a resource name into something usable as a construct id.
func logicalID(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return b.String()
}

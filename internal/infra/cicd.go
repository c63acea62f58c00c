package infra

import (
	"fmt"
	"sort"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodebuild"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipelineactions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsssm"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/savaki/sagemaker-mlops/internal/constants"
)

// Roles maps a role key from constants.RoleKeys to a role ARN.
type Roles map[string]string

// UniformRoles assigns arn to every role key.
func UniformRoles(arn string) Roles {
	roles := make(Roles, len(constants.RoleKeys))
	for _, key := range constants.RoleKeys {
		roles[key] = arn
	}
	return roles
}

// Missing lists role keys with no ARN, sorted.
func (r Roles) Missing() []string {
	var missing []string
	for _, key := range constants.RoleKeys {
		if r[key] == "" {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// Synth and deploy commands run by the pipeline's CodeBuild projects. The seed
// repository's Makefile builds the mlops binary and the Lambda bootstraps the
// cdk.json app points at.
var (
	SynthCommands = []string{
		"make build",
		"npx cdk diff --path-metadata false",
	}
	DeployCommands = []string{
		"cdk -a . deploy --all --require-approval=never --verbose",
	}
)

func synthSpec() awscodebuild.BuildSpec {
	return awscodebuild.BuildSpec_FromObject(&map[string]interface{}{
		"version": "0.2",
		"phases": map[string]interface{}{
			"install": map[string]interface{}{
				"runtime-versions": map[string]interface{}{
					"nodejs": "20",
					"golang": "1.23",
				},
				"commands": []string{"npm install -g aws-cdk@latest"},
			},
			"build": map[string]interface{}{
				"commands": SynthCommands,
			},
		},
		"artifacts": map[string]interface{}{
			"base-directory": "cdk.out",
			"files":          []string{"**/*"},
		},
		"env": map[string]interface{}{
			"exported-variables": []string{"CODEBUILD_BUILD_ID", "CODEBUILD_BUILD_NUMBER"},
		},
	})
}

func deploySpec() awscodebuild.BuildSpec {
	return awscodebuild.BuildSpec_FromObject(&map[string]interface{}{
		"version": "0.2",
		"phases": map[string]interface{}{
			"install": map[string]interface{}{
				"runtime-versions": map[string]interface{}{"nodejs": "20"},
				"commands":         []string{"npm install -g aws-cdk@latest"},
			},
			"build": map[string]interface{}{
				"commands": DeployCommands,
			},
		},
	})
}

// CICDProps configures the pipeline for one seed repository.
type CICDProps struct {
	ConstructID       string
	SeedBucket        string
	SeedKey           string
	ProjectBucket     awss3.IBucket
	StudioUserRoleARN string
	Project           Project
	Topic             awssns.ITopic
	Roles             Roles
}

// CICD is a CodeCommit repository wired to a Source, Synth (with manual approval)
// and Deploy pipeline.
type CICD struct {
	constructs.Construct

	Repository *Repository
	Pipeline   awscodepipeline.Pipeline
}

// BuildEnvironment returns the variables every build of the construct sees.
func BuildEnvironment(bucket string, props CICDProps) map[string]string {
	return map[string]string{
		"PROJECT_BUCKET":                 bucket,
		"SAGEMAKER_PIPELINE_ROLE_ARN":    props.Roles[constants.SageMakerRole],
		"SAGEMAKER_STUDIO_USER_ROLE_ARN": props.StudioUserRoleARN,
		"SAGEMAKER_PROJECT_NAME":         props.Project.Name,
		"SAGEMAKER_PROJECT_ID":           props.Project.ID,
		"CODEPIPELINE_CONSTRUCT_ID":      props.ConstructID,
		"EVENTS_ROLE_ARN":                props.Roles[constants.EventsRole],
		"LAMBDA_ROLE_ARN":                props.Roles[constants.LambdaRole],
		"API_GATEWAY_ROLE_ARN":           props.Roles[constants.APIGatewayRole],
		"GLUE_ROLE_ARN":                  props.Roles[constants.GlueRole],
	}
}

func buildVariables(env map[string]string) *map[string]*awscodebuild.BuildEnvironmentVariable {
	out := make(map[string]*awscodebuild.BuildEnvironmentVariable, len(env))
	for k, v := range env {
		out[k] = &awscodebuild.BuildEnvironmentVariable{Value: jsii.String(v)}
	}
	return &out
}

func NewCICD(scope constructs.Construct, props CICDProps) *CICD {
	id := props.ConstructID
	construct := constructs.NewConstruct(scope, jsii.String(id))
	project := props.Project

	role := func(key string) awsiam.IRole {
		return importRole(construct, key, props.Roles[key], false)
	}
	pipelineRole := role(constants.CodePipelineRole)
	eventsRole := role(constants.EventsRole)

	repo := NewRepository(scope, fmt.Sprintf("Sagemaker%sRepository", id), RepositoryProps{
		Name:   fmt.Sprintf("sagemaker-%s-%s", project.Name, id),
		Bucket: props.SeedBucket,
		Key:    props.SeedKey,
		Tags:   project.Tags(),
	})

	pipeline := awscodepipeline.NewPipeline(scope, jsii.String(id+"CodePipeline"), &awscodepipeline.PipelineProps{
		PipelineName:   jsii.String(project.Resource(id)),
		ArtifactBucket: props.ProjectBucket,
		Role:           pipelineRole,
	})

	awsevents.NewRule(construct, jsii.String("CodeCommitRule"), &awsevents.RuleProps{
		RuleName:    jsii.String(fmt.Sprintf("sagemaker-%s-codecommit-%s", project.Name, id)),
		Description: jsii.String("Rule to trigger a build when code is updated in CodeCommit."),
		EventPattern: &awsevents.EventPattern{
			Source:     jsii.Strings("aws.codecommit"),
			DetailType: jsii.Strings("CodeCommit Repository State Change"),
			Detail: &map[string]interface{}{
				"event":         []string{"referenceCreated", "referenceUpdated"},
				"referenceType": []string{"branch"},
				"referenceName": []string{constants.DefaultBranch},
			},
			Resources: &[]*string{repo.Repository.RepositoryArn()},
		},
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewCodePipeline(pipeline, &awseventstargets.CodePipelineTargetOptions{
				EventRole: eventsRole,
			}),
		},
	})

	awsssm.NewStringParameter(construct, jsii.String("PipelineARN"), &awsssm.StringParameterProps{
		ParameterName: jsii.String(constants.PipelineARNName(project.Name, id)),
		StringValue:   pipeline.PipelineArn(),
		SimpleName:    jsii.Bool(false),
	})

	env := buildVariables(BuildEnvironment(*props.ProjectBucket.BucketName(), props))
	source := awscodepipeline.NewArtifact(nil, nil)
	assembly := awscodepipeline.NewArtifact(nil, nil)

	sourceAction := awscodepipelineactions.NewCodeCommitSourceAction(&awscodepipelineactions.CodeCommitSourceActionProps{
		ActionName:         jsii.String("CodeCommit"),
		Repository:         repo.Repository,
		Output:             source,
		Trigger:            awscodepipelineactions.CodeCommitTrigger_NONE,
		Branch:             jsii.String(constants.DefaultBranch),
		EventRole:          eventsRole,
		Role:               pipelineRole,
		VariablesNamespace: jsii.String("SourceVariables"),
	})

	synthProject := awscodebuild.NewPipelineProject(scope, jsii.String(id+"BuildProject"), &awscodebuild.PipelineProjectProps{
		ProjectName: jsii.String(project.Resource(id + "-Synth")),
		BuildSpec:   synthSpec(),
		Environment: &awscodebuild.BuildEnvironment{
			BuildImage:           awscodebuild.LinuxBuildImage_STANDARD_7_0(),
			EnvironmentVariables: env,
			Privileged:           jsii.Bool(true),
		},
		Role: role(constants.CodeBuildRole),
	})
	synthAction := awscodepipelineactions.NewCodeBuildAction(&awscodepipelineactions.CodeBuildActionProps{
		ActionName: jsii.String("CodeBuild"),
		Project:    synthProject,
		Input:      source,
		Outputs:    &[]awscodepipeline.Artifact{assembly},
		Role:       pipelineRole,
		RunOrder:   jsii.Number(1),
	})

	deployProject := awscodebuild.NewPipelineProject(scope, jsii.String(id+"DeployProject"), &awscodebuild.PipelineProjectProps{
		ProjectName: jsii.String(project.Resource(id + "Deploy")),
		BuildSpec:   deploySpec(),
		Cache:       awscodebuild.Cache_Local(awscodebuild.LocalCacheMode_DOCKER_LAYER),
		Environment: &awscodebuild.BuildEnvironment{
			BuildImage:           awscodebuild.LinuxBuildImage_STANDARD_7_0(),
			EnvironmentVariables: env,
		},
		Role: role(constants.CloudFormationRole),
	})
	deployAction := awscodepipelineactions.NewCodeBuildAction(&awscodepipelineactions.CodeBuildActionProps{
		ActionName: jsii.String("Deploy"),
		Project:    deployProject,
		Input:      assembly,
		Role:       pipelineRole,
	})

	pipeline.AddStage(&awscodepipeline.StageOptions{
		StageName: jsii.String("Source"),
		Actions:   &[]awscodepipeline.IAction{sourceAction},
	})
	synthStage := pipeline.AddStage(&awscodepipeline.StageOptions{
		StageName: jsii.String("Synth"),
		Actions:   &[]awscodepipeline.IAction{synthAction},
	})

	commit := sourceAction.Variables()
	link := fmt.Sprintf("https://%s.console.aws.amazon.com/codesuite/codebuild/%s/projects/%s/build/%s",
		*awscdk.Aws_REGION(), *awscdk.Aws_ACCOUNT_ID(), *synthProject.ProjectName(),
		*synthAction.Variable(jsii.String("CODEBUILD_BUILD_ID")))
	synthStage.AddAction(awscodepipelineactions.NewManualApprovalAction(&awscodepipelineactions.ManualApprovalActionProps{
		ActionName:         jsii.String("ManualApproval"),
		NotificationTopic:  props.Topic,
		Role:               pipelineRole,
		ExternalEntityLink: jsii.String(link),
		AdditionalInformation: jsii.String(fmt.Sprintf("%s-%s ready to be deployed.\nCommit %s\n%s",
			project.Name, id, *commit.CommitId, *commit.CommitMessage)),
		RunOrder: jsii.Number(2),
	}))

	awsssm.NewStringParameter(construct, jsii.String("AutoApprovalFlag"), &awsssm.StringParameterProps{
		ParameterName:  jsii.String(constants.ApprovalFlagName(project.Name, id)),
		StringValue:    jsii.String("1"),
		AllowedPattern: jsii.String("[0,1]"),
		SimpleName:     jsii.Bool(false),
		Description:    jsii.String("Set to 1 to approve the Synth stage automatically"),
	})

	pipeline.AddStage(&awscodepipeline.StageOptions{
		StageName: jsii.String("Deploy"),
		Actions:   &[]awscodepipeline.IAction{deployAction},
	})

	return &CICD{
		Construct:  construct,
		Repository: repo,
		Pipeline:   pipeline,
	}
}

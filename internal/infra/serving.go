package infra

import (
	"context"
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsssm"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/batch"
	"github.com/savaki/sagemaker-mlops/internal/constants"
	"github.com/savaki/sagemaker-mlops/internal/models"
)

// ServingStack exposes the approved models through real-time endpoints and batch
// transform pipelines behind one REST API.
type ServingStack struct {
	awscdk.Stack

	API             awsapigateway.RestApi
	Endpoints       batch.Results[*ModelEndpoint]
	BatchTransforms batch.Results[*BatchTransform]
}

func NewServingStack(ctx context.Context, scope constructs.Construct, id string, env *Environment, props *awscdk.StackProps) (*ServingStack, error) {
	logger := zerolog.Ctx(ctx)
	stack := awscdk.NewStack(scope, jsii.String(id), props)
	config := env.Config
	project := ProjectFromConfig(config)

	configs, err := models.LoadModelConfigs(env.path(ConfigurationDir))
	if err != nil {
		return nil, err
	}

	pipelineRole := importRole(stack, "SageMakerExecutionRole", config.PipelineRoleARN, true)
	bucket := awss3.Bucket_FromBucketName(stack, jsii.String("ProjectBucket"), jsii.String(config.ProjectBucket))

	api := awsapigateway.NewRestApi(stack, jsii.String(project.Scoped("api")), &awsapigateway.RestApiProps{
		RestApiName: jsii.String(project.Scoped("api")),
		Description: jsii.String(fmt.Sprintf("API Endpoint for %s", project.Name)),
		EndpointConfiguration: &awsapigateway.EndpointConfiguration{
			Types: &[]awsapigateway.EndpointType{awsapigateway.EndpointType_REGIONAL},
		},
	})
	api.Root().AddMethod(jsii.String("GET"), nil, nil)

	s := &ServingStack{Stack: stack, API: api}

	var (
		endpoints  []batch.Item[EndpointProps]
		transforms []batch.Item[BatchTransformProps]
	)
	for _, model := range configs {
		group := project.Scoped(model.ModelPackageGroupName)
		NewRedeploy(stack, "RedeployConstruct-"+model.ModelName, env, group)

		for _, e := range model.Endpoints {
			endpoints = append(endpoints, batch.Item[EndpointProps]{
				Name:  e.EndpointName,
				Input: EndpointProps{Group: group, Endpoint: e, API: api},
			})
		}
		for _, t := range model.BatchTransforms {
			transforms = append(transforms, batch.Item[BatchTransformProps]{
				Name: t.PipelineName,
				Input: BatchTransformProps{
					Group:         group,
					Pipeline:      t,
					FeaturesNames: model.FeaturesNames,
					API:           api,
					PipelineRole:  pipelineRole,
					Bucket:        bucket,
				},
			})
		}
	}

	s.Endpoints = batch.RunWithConcurrency(ctx, 1, endpoints, func(ctx context.Context, in EndpointProps) (*ModelEndpoint, error) {
		return NewModelEndpoint(ctx, stack, "Endpoint-"+in.Endpoint.EndpointName, env, in)
	})
	s.BatchTransforms = batch.RunWithConcurrency(ctx, 1, transforms, func(ctx context.Context, in BatchTransformProps) (*BatchTransform, error) {
		return NewBatchTransform(ctx, stack, "BatchTransform-"+in.Pipeline.PipelineName, env, in)
	})

	logger.Info().
		Int("models", len(configs)).
		Strs("endpoints", s.Endpoints.Succeeded().Names()).
		Strs("batch_transforms", s.BatchTransforms.Succeeded().Names()).
		Msg("Serving stack defined")
	return s, nil
}

// Redeploy restarts this construct's CodePipeline whenever a model package in the
// group is approved or rejected.
type Redeploy struct {
	constructs.Construct

	Rule awsevents.Rule
}

// RedeployPattern matches approval changes of a model package group.
func RedeployPattern(group string) *awsevents.EventPattern {
	return &awsevents.EventPattern{
		Source:     jsii.Strings("aws.sagemaker"),
		DetailType: jsii.Strings("SageMaker Model Package State Change"),
		Detail: &map[string]interface{}{
			"ModelPackageGroupName": []string{group},
			"ModelApprovalStatus":   []string{"Approved", "Rejected"},
		},
	}
}

func NewRedeploy(scope constructs.Construct, id string, env *Environment, group string) *Redeploy {
	construct := constructs.NewConstruct(scope, jsii.String(id))
	config := env.Config
	project := ProjectFromConfig(config)

	eventsRole := importRole(construct, "EventBridgeRole", firstOf(config.EventsRoleARN, config.LambdaRoleARN), false)
	arn := awsssm.StringParameter_ValueForStringParameter(construct,
		jsii.String(constants.PipelineARNName(project.Name, config.ConstructID)), nil)
	pipeline := awscodepipeline.Pipeline_FromPipelineArn(construct, jsii.String("CodePipeline"), arn)

	rule := awsevents.NewRule(construct, jsii.String("ModelRegistryRule"), &awsevents.RuleProps{
		RuleName:     jsii.String(group + "-modelregistry"),
		Description:  jsii.String("Rule to trigger a deployment when SageMaker Model registry is updated with a new model package."),
		EventPattern: RedeployPattern(group),
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewCodePipeline(pipeline, &awseventstargets.CodePipelineTargetOptions{
				EventRole: eventsRole,
			}),
		},
	})
	return &Redeploy{Construct: construct, Rule: rule}
}

// addGetResource exposes fn as GET /get-{name} and stores the URL in SSM.
func addGetResource(scope constructs.Construct, api awsapigateway.RestApi, project Project, name string, integration awsapigateway.Integration) awsssm.StringParameter {
	resource := api.Root().AddResource(jsii.String("get-"+name), nil)
	resource.AddMethod(jsii.String("GET"), integration, nil)
	return awsssm.NewStringParameter(scope, jsii.String(name+"-URL"), &awsssm.StringParameterProps{
		ParameterName: jsii.String(project.ParameterName(name)),
		StringValue:   api.UrlForPath(resource.Path()),
	})
}

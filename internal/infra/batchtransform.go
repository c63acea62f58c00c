package infra

import (
	"context"
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssagemaker"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssqs"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/savaki/sagemaker-mlops/internal/pipelinedef"
)

// BatchTransformProps configures one batch transform pipeline of a model.
type BatchTransformProps struct {
	Group         string // project scoped model package group
	Pipeline      models.PipelineConfig
	FeaturesNames []string
	API           awsapigateway.RestApi
	PipelineRole  awsiam.IRole
	Bucket        awss3.IBucket
}

// BatchTransform is a scheduled scoring pipeline whose results land in DynamoDB and
// are served by GET /get-{pipeline}.
type BatchTransform struct {
	constructs.Construct

	Name      string
	Topic     awssns.Topic
	Queue     awssqs.Queue
	Freshness awslambda.Function
	Pipeline  awssagemaker.CfnPipeline
	Loader    *Loader
}

// TransformConfiguration returns the pipeline configuration with the feature group
// names scoped to the project and the runtime resources injected.
func TransformConfiguration(p models.PipelineConfig, projectName, freshnessARN, queueURL, group string, features []string) map[string]any {
	conf := models.PrefixFeatureGroups(p.CloneConfiguration(), "_fg_name", projectName)
	conf["datafreshness_func_arn"] = freshnessARN
	conf["queue_url"] = queueURL
	conf["model_package_group_name"] = group
	conf["features_names"] = features
	return conf
}

// NewBatchTransform returns an error when the pipeline definition or its loader could
// not be built. The topic, queue and freshness check exist either way.
func NewBatchTransform(ctx context.Context, scope constructs.Construct, id string, env *Environment, props BatchTransformProps) (*BatchTransform, error) {
	config := env.Config
	project := ProjectFromConfig(config)
	name := project.Scoped(props.Pipeline.PipelineName)

	construct := constructs.NewConstruct(scope, jsii.String(id))
	b := &BatchTransform{Construct: construct, Name: name}

	b.Topic = awssns.NewTopic(construct, jsii.String("BatchTransformPipeline"), &awssns.TopicProps{
		DisplayName: jsii.String(name + "-Topic"),
		TopicName:   jsii.String(name + "-Topic"),
	})
	b.Queue = awssqs.NewQueue(construct, jsii.String(name+"-Queue"), &awssqs.QueueProps{
		QueueName:         jsii.String(name + "-Queue"),
		VisibilityTimeout: awscdk.Duration_Minutes(jsii.Number(15)),
	})

	b.Freshness = newGoFunction(construct, name+"DataFreshnessCheck", env.LambdaDir, FunctionOptions{
		FunctionName: name + "-DataFreshnessCheck",
		Asset:        "data-freshness-check",
		Timeout:      120,
		Environment: map[string]string{
			"PROJECT_NAME": project.Name,
			"TOPIC_ARN":    *b.Topic.TopicArn(),
		},
		Role: importRole(construct, "LambdaRole", config.LambdaRoleARN, true),
	})
	b.Topic.GrantPublish(b.Freshness)
	props.Bucket.GrantReadWrite(b.Freshness, nil)
	b.Freshness.GrantInvoke(props.PipelineRole)
	b.Queue.GrantSendMessages(props.PipelineRole)

	conf := TransformConfiguration(props.Pipeline, project.Name, *b.Freshness.FunctionArn(), *b.Queue.QueueUrl(), props.Group, props.FeaturesNames)
	definition, err := pipelinedef.Generate(ctx, pipelinedef.Input{
		Role:     *props.PipelineRole.RoleArn(),
		Name:     name,
		Session:  env.Session,
		Config:   conf,
		Strategy: props.Pipeline.StrategyTag(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create a pipeline definition: %w", err)
	}
	b.Pipeline = newPipeline(construct, project, name, definition, *props.PipelineRole.RoleArn())

	b.Loader, err = NewLoader(ctx, construct, "UploadResults-"+name, env, LoaderProps{
		Queue:     b.Queue,
		ModelName: name,
		IndexName: props.Pipeline.IndexName,
	})
	if err != nil {
		return nil, err
	}
	addGetResource(construct, props.API, project, name, awsapigateway.NewLambdaIntegration(b.Loader.ReadScores, nil))
	return b, nil
}

package infra

import (
	"context"
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssagemaker"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsssm"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/batch"
	"github.com/savaki/sagemaker-mlops/internal/constants"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/savaki/sagemaker-mlops/internal/pipelinedef"
)

// FeaturesIngestionConstruct is the CI/CD construct whose successful runs rebuild the model.
const FeaturesIngestionConstruct = "FeaturesIngestionPipeline"

// BuildStack holds the model build pipelines.
type BuildStack struct {
	awscdk.Stack

	MetricsFunction awslambda.Function
	Pipelines       batch.Results[awssagemaker.CfnPipeline]
}

func NewBuildStack(ctx context.Context, scope constructs.Construct, id string, env *Environment, props *awscdk.StackProps) (*BuildStack, error) {
	logger := zerolog.Ctx(ctx)
	stack := awscdk.NewStack(scope, jsii.String(id), props)
	config := env.Config
	project := ProjectFromConfig(config)

	configs, err := models.LoadPipelineConfigs(env.path(ConfigurationDir))
	if err != nil {
		return nil, err
	}

	metrics := newGoFunction(stack, "ExtractMetricsLambda", env.LambdaDir, FunctionOptions{
		FunctionName: project.Resource("extract-metrics"),
		Asset:        "extract-metrics",
		Timeout:      60,
		Environment: map[string]string{
			"PROJECT_NAME": project.Name,
		},
		Role: importRole(stack, "ExtractMetricsRole", config.LambdaRoleARN, false),
	})

	items := make([]batch.Item[models.PipelineConfig], 0, len(configs))
	for _, c := range configs {
		items = append(items, batch.Item[models.PipelineConfig]{Name: project.Scoped(c.PipelineName), Input: c})
	}
	results := batch.RunWithConcurrency(ctx, 1, items, func(ctx context.Context, c models.PipelineConfig) (awssagemaker.CfnPipeline, error) {
		name := project.Scoped(c.PipelineName)
		conf := c.CloneConfiguration()
		conf["metric_extraction_lambda_arn"] = *metrics.FunctionArn()

		definition, err := pipelinedef.Generate(ctx, pipelinedef.Input{
			Role:     config.PipelineRoleARN,
			Name:     name,
			Session:  env.Session,
			Config:   conf,
			Strategy: c.StrategyTag(),
		})
		if err != nil {
			return nil, err
		}
		return newPipeline(stack, project, name, definition, config.PipelineRoleARN), nil
	})

	eventsRole := importRole(stack, "EventBridgeRole", firstOf(config.EventsRoleARN, config.LambdaRoleARN), false)
	codePipelineARN := awsssm.StringParameter_ValueForStringParameter(stack,
		jsii.String(constants.PipelineARNName(project.Name, config.ConstructID)), nil)
	pipeline := awscodepipeline.Pipeline_FromPipelineArn(stack, jsii.String("BuildCodePipeline"), codePipelineARN)

	featuresARN := awsssm.StringParameter_ValueForStringParameter(stack,
		jsii.String(constants.PipelineARNName(project.Name, FeaturesIngestionConstruct)), nil)
	awsevents.NewRule(stack, jsii.String("FeatureIngestionUpdateRule"), &awsevents.RuleProps{
		RuleName:    jsii.String(fmt.Sprintf("sagemaker-%s-FeaturesIngestionUpdateRule", project.Name)),
		Description: jsii.String("Rule to trigger a new deployment when the Feature Ingestion CodePipeline is executed successfully."),
		EventPattern: &awsevents.EventPattern{
			Source:     jsii.Strings("aws.codepipeline"),
			DetailType: jsii.Strings("CodePipeline Pipeline Execution State Change"),
			Detail: &map[string]interface{}{
				"state": []string{"SUCCEEDED"},
			},
			Resources: &[]*string{featuresARN},
		},
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewCodePipeline(pipeline, &awseventstargets.CodePipelineTargetOptions{
				EventRole: eventsRole,
			}),
		},
	})

	logger.Info().
		Int("succeeded", len(results.Succeeded())).
		Int("failed", len(results.Failed())).
		Msg("Build stack defined")

	return &BuildStack{
		Stack:           stack,
		MetricsFunction: metrics,
		Pipelines:       results,
	}, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

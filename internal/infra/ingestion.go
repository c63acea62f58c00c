package infra

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssagemaker"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsssm"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/batch"
	"github.com/savaki/sagemaker-mlops/internal/featurestore"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/savaki/sagemaker-mlops/internal/pipelinedef"
)

// ConfigurationDir is where each seed repository keeps its *.json configuration.
const ConfigurationDir = "configurations"

// IngestionSchedule is how often the feature ingestion pipelines run.
const IngestionSchedule = "rate(12 hours)"

// FeatureIngestionStack creates the feature groups and the scheduled ingestion pipelines.
type FeatureIngestionStack struct {
	awscdk.Stack

	OfflineBucket awss3.Bucket
	FeatureGroups batch.Results[awssagemaker.CfnFeatureGroup]
	Pipelines     batch.Results[awssagemaker.CfnPipeline]
}

func NewFeatureIngestionStack(ctx context.Context, scope constructs.Construct, id string, env *Environment, props *awscdk.StackProps) (*FeatureIngestionStack, error) {
	logger := zerolog.Ctx(ctx)
	stack := awscdk.NewStack(scope, jsii.String(id), props)
	config := env.Config
	project := ProjectFromConfig(config)

	pipelineRole := importRole(stack, "SageMakerExecutionRole", config.PipelineRoleARN, true)
	pipelineRole.AddManagedPolicy(awsiam.ManagedPolicy_FromAwsManagedPolicyName(jsii.String("AmazonSageMakerFeatureStoreAccess")))

	account := env.Account
	if account == "" {
		account = *awscdk.Aws_ACCOUNT_ID()
	}
	offline := awss3.NewBucket(stack, jsii.String("Sagemaker-FeatureStoreOfflineBucket"), &awss3.BucketProps{
		BucketName:        jsii.String(fmt.Sprintf("sagemaker-%s-fg-%s", project.ID, account)),
		RemovalPolicy:     awscdk.RemovalPolicy_DESTROY,
		AutoDeleteObjects: jsii.Bool(true),
	})

	dir := env.path(ConfigurationDir)
	groups, err := models.LoadFeatureGroupConfigs(dir)
	if err != nil {
		return nil, err
	}
	pipelines, err := models.LoadPipelineConfigs(dir)
	if err != nil {
		return nil, err
	}

	s := &FeatureIngestionStack{
		Stack:         stack,
		OfflineBucket: offline,
	}

	items := make([]batch.Item[models.FeatureGroupConfig], 0, len(groups))
	for _, fg := range groups {
		items = append(items, batch.Item[models.FeatureGroupConfig]{Name: fg.FeatureGroupName, Input: fg})
	}
	s.FeatureGroups = batch.RunWithConcurrency(ctx, 1, items, func(ctx context.Context, fg models.FeatureGroupConfig) (awssagemaker.CfnFeatureGroup, error) {
		return newFeatureGroup(stack, project, fg, *offline.BucketName(), config.PipelineRoleARN)
	})

	eventsRoleARN := config.EventsRoleARN
	if eventsRoleARN == "" {
		eventsRoleARN = config.LambdaRoleARN
	}
	pipelineItems := make([]batch.Item[models.PipelineConfig], 0, len(pipelines))
	for _, p := range pipelines {
		pipelineItems = append(pipelineItems, batch.Item[models.PipelineConfig]{Name: project.Scoped(p.PipelineName), Input: p})
	}
	s.Pipelines = batch.RunWithConcurrency(ctx, 1, pipelineItems, func(ctx context.Context, p models.PipelineConfig) (awssagemaker.CfnPipeline, error) {
		name := project.Scoped(p.PipelineName)
		conf := models.PrefixFeatureGroups(p.CloneConfiguration(), "feature_group_name", project.Name)

		definition, err := pipelinedef.Generate(ctx, pipelinedef.Input{
			Role:     config.PipelineRoleARN,
			Name:     name,
			Session:  env.Session,
			Config:   conf,
			Strategy: p.StrategyTag(),
		})
		if err != nil {
			return nil, err
		}
		pipeline := newPipeline(stack, project, name, definition, config.PipelineRoleARN)

		fg, _ := conf["feature_group_name"].(string)
		if fg == "" {
			logger.Warn().Str("pipeline", name).Msg("No feature_group_name configured, skipping schedule")
			return pipeline, nil
		}
		newIngestionSchedule(stack, p.PipelineName, name, fg, config.ProjectBucket, eventsRoleARN, project)
		return pipeline, nil
	})

	logger.Info().
		Int("feature_groups", len(s.FeatureGroups.Succeeded())).
		Int("pipelines", len(s.Pipelines.Succeeded())).
		Strs("skipped_pipelines", s.Pipelines.Failed().Names()).
		Msg("Feature ingestion stack defined")
	return s, nil
}

// newIngestionSchedule runs the pipeline every IngestionSchedule against the raw data
// URI kept in SSM for its feature group.
func newIngestionSchedule(stack awscdk.Stack, id, name, featureGroup, bucket, eventsRoleARN string, project Project) {
	source := awsssm.NewStringParameter(stack, jsii.String(id+"SourceFileUri"), &awsssm.StringParameterProps{
		ParameterName: jsii.String(project.ParameterName(featureGroup)),
		StringValue:   jsii.String(fmt.Sprintf("s3://%s/data/raw/%s.csv", bucket, featureGroup)),
	})

	awsevents.NewCfnRule(stack, jsii.String("ScheduledSourceProcessing"+id), &awsevents.CfnRuleProps{
		Name:               jsii.String(name),
		ScheduleExpression: jsii.String(IngestionSchedule),
		State:              jsii.String("ENABLED"),
		Targets: &[]interface{}{
			&awsevents.CfnRule_TargetProperty{
				Arn:     jsii.String(PipelineARN(name)),
				Id:      jsii.String("Target0"),
				RoleArn: jsii.String(eventsRoleARN),
				SageMakerPipelineParameters: &awsevents.CfnRule_SageMakerPipelineParametersProperty{
					PipelineParameterList: &[]interface{}{
						&awsevents.CfnRule_SageMakerPipelineParameterProperty{
							Name:  jsii.String("InputDataUrl"),
							Value: source.StringValue(),
						},
					},
				},
			},
		},
	})
}

// PipelineARN returns the ARN EventBridge targets for a SageMaker pipeline.
// SageMaker lowercases pipeline names in ARNs.
func PipelineARN(name string) string {
	return fmt.Sprintf("arn:aws:sagemaker:%s:%s:pipeline/%s", *awscdk.Aws_REGION(), *awscdk.Aws_ACCOUNT_ID(), strings.ToLower(name))
}

func newFeatureGroup(scope constructs.Construct, project Project, fg models.FeatureGroupConfig, bucket, roleARN string) (awssagemaker.CfnFeatureGroup, error) {
	if fg.FeatureGroupName == "" || fg.RecordIdentifierFeatureName == "" || fg.EventTimeFeatureName == "" {
		return nil, fmt.Errorf("feature group %q: name, record identifier and event time are required", fg.FeatureGroupName)
	}
	name := project.Scoped(fg.FeatureGroupName)

	definitions := make([]interface{}, 0, len(fg.ColumnSchemas))
	for _, d := range featurestore.FeatureDefinitions(fg.ColumnSchemas) {
		definitions = append(definitions, &awssagemaker.CfnFeatureGroup_FeatureDefinitionProperty{
			FeatureName: jsii.String(d.FeatureName),
			FeatureType: jsii.String(string(d.FeatureType)),
		})
	}

	tags := make([]*awscdk.CfnTag, 0, len(fg.Tags)+2)
	for _, t := range fg.Tags {
		tags = append(tags, &awscdk.CfnTag{Key: jsii.String(t.Key), Value: jsii.String(t.Value)})
	}
	tags = append(tags, project.Tags()...)

	props := &awssagemaker.CfnFeatureGroupProps{
		FeatureGroupName:            jsii.String(name),
		RecordIdentifierFeatureName: jsii.String(fg.RecordIdentifierFeatureName),
		EventTimeFeatureName:        jsii.String(fg.EventTimeFeatureName),
		FeatureDefinitions:          &definitions,
		RoleArn:                     jsii.String(roleARN),
		Tags:                        &tags,
	}
	if fg.OnlineEnabled() {
		props.OnlineStoreConfig = &awssagemaker.CfnFeatureGroup_OnlineStoreConfigProperty{
			EnableOnlineStore: jsii.Bool(true),
		}
	}
	if fg.OfflineEnabled() {
		props.OfflineStoreConfig = &awssagemaker.CfnFeatureGroup_OfflineStoreConfigProperty{
			S3StorageConfig: &awssagemaker.CfnFeatureGroup_S3StorageConfigProperty{
				S3Uri: jsii.String(fmt.Sprintf("s3://%s/", bucket)),
			},
			DisableGlueTableCreation: jsii.Bool(fg.DisableGlueTableCreation),
		}
	}
	return awssagemaker.NewCfnFeatureGroup(scope, jsii.String("FeatureGroup"+name), props), nil
}

func newPipeline(scope constructs.Construct, project Project, name, definition, roleARN string) awssagemaker.CfnPipeline {
	tags := project.Tags()
	return awssagemaker.NewCfnPipeline(scope, jsii.String("SageMakerPipeline-"+name), &awssagemaker.CfnPipelineProps{
		PipelineName: jsii.String(name),
		PipelineDefinition: map[string]interface{}{
			"PipelineDefinitionBody": definition,
		},
		RoleArn: jsii.String(roleARN),
		Tags:    &tags,
	})
}

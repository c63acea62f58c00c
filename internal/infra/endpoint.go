package infra

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudwatch"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssagemaker"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/savaki/sagemaker-mlops/internal/pipelinedef"
)

// Monitoring job defaults.
const (
	monitorInstanceType = "ml.m5.xlarge"
	monitorVolumeGB     = 30
	monitorMaxRuntime   = 1800
	monitorNamespace    = "aws/sagemaker/Endpoints/data-metrics"
	defaultContentType  = "text/csv"
)

// EndpointProps configures one real-time endpoint.
type EndpointProps struct {
	Group    string // project scoped model package group
	Endpoint models.EndpointConfig
	API      awsapigateway.RestApi
}

// ModelEndpoint is a SageMaker endpoint serving the latest approved model package,
// with an inference function behind the REST API and optional drift monitoring.
type ModelEndpoint struct {
	constructs.Construct

	Name       string
	Endpoint   awssagemaker.CfnEndpoint
	Function   awslambda.Function
	Monitoring awssagemaker.CfnMonitoringSchedule
	Alarm      awscloudwatch.Alarm
}

// NewModelEndpoint returns an error, and creates nothing, when the group has no
// approved model package.
func NewModelEndpoint(ctx context.Context, scope constructs.Construct, id string, env *Environment, props EndpointProps) (*ModelEndpoint, error) {
	logger := zerolog.Ctx(ctx).With().Str("endpoint", props.Endpoint.EndpointName).Logger()
	config := env.Config
	project := ProjectFromConfig(config)
	conf := props.Endpoint
	name := project.Scoped(conf.EndpointName)

	if env.Registry == nil {
		return nil, fmt.Errorf("endpoint %s: no model registry configured", name)
	}
	packageARN, err := env.Registry.LatestApproved(ctx, props.Group)
	if err != nil {
		return nil, fmt.Errorf("no suitable model version found for %s: %w", name, err)
	}

	construct := constructs.NewConstruct(scope, jsii.String(id))
	e := &ModelEndpoint{Construct: construct, Name: name}

	variants := make([]interface{}, 0, len(conf.Variants))
	for _, v := range conf.Variants {
		model := awssagemaker.NewCfnModel(construct, jsii.String(v.VariantName), &awssagemaker.CfnModelProps{
			ExecutionRoleArn: jsii.String(config.PipelineRoleARN),
			PrimaryContainer: &awssagemaker.CfnModel_ContainerDefinitionProperty{
				ModelPackageName: jsii.String(packageARN),
			},
		})
		variants = append(variants, &awssagemaker.CfnEndpointConfig_ProductionVariantProperty{
			InitialInstanceCount: jsii.Number(v.InstanceCount),
			InitialVariantWeight: jsii.Number(v.InitialVariantWeight),
			InstanceType:         jsii.String(v.InstanceType),
			ModelName:            model.AttrModelName(),
			VariantName:          jsii.String(v.VariantName),
		})
	}

	schedule := conf.ScheduleConfig
	endpointConfig := awssagemaker.NewCfnEndpointConfig(construct, jsii.String(props.Group+"EndpointConfig"), &awssagemaker.CfnEndpointConfigProps{
		ProductionVariants: &variants,
		DataCaptureConfig: &awssagemaker.CfnEndpointConfig_DataCaptureConfigProperty{
			EnableCapture:             jsii.Bool(true),
			DestinationS3Uri:          jsii.String(fmt.Sprintf("s3://%s/%s/datacapture", config.ProjectBucket, conf.Prefix)),
			InitialSamplingPercentage: jsii.Number(schedule.DataCaptureSamplingPercentage),
			CaptureOptions: &[]interface{}{
				&awssagemaker.CfnEndpointConfig_CaptureOptionProperty{CaptureMode: jsii.String("Input")},
				&awssagemaker.CfnEndpointConfig_CaptureOptionProperty{CaptureMode: jsii.String("Output")},
			},
			CaptureContentTypeHeader: &awssagemaker.CfnEndpointConfig_CaptureContentTypeHeaderProperty{
				CsvContentTypes:  jsii.Strings("text/csv"),
				JsonContentTypes: jsii.Strings("application/json"),
			},
		},
	})

	e.Endpoint = awssagemaker.NewCfnEndpoint(construct, jsii.String(name), &awssagemaker.CfnEndpointProps{
		EndpointConfigName: endpointConfig.AttrEndpointConfigName(),
		EndpointName:       jsii.String(name),
	})

	environment := map[string]string{
		"PROJECT_NAME":  project.Name,
		"region":        config.Region,
		"endpoint_name": name,
		"content_type":  defaultContentType,
	}
	for k, v := range conf.PrefixedEnvironment(project.Name) {
		environment[k] = v
	}
	e.Function = newGoFunction(construct, "FunctionReadOnlineFeatureStore-"+name, env.LambdaDir, FunctionOptions{
		FunctionName: project.Resource(conf.EndpointName + "-EndpointFeatures"),
		Asset:        "inference",
		Timeout:      300,
		Environment:  environment,
		Role:         importRole(construct, "LambdaRole", config.LambdaRoleARN, true),
	})
	e.Function.AddToRolePolicy(statement(
		[]string{"sagemaker:InvokeEndpoint"},
		[]string{fmt.Sprintf("arn:aws:sagemaker:%s:%s:endpoint/%s", *awscdk.Aws_REGION(), *awscdk.Aws_ACCOUNT_ID(), strings.ToLower(name))},
	))
	e.Function.AddToRolePolicy(statement([]string{"sagemaker:GetRecord"}, []string{"*"}))

	parameter := addGetResource(construct, props.API, project, name, awsapigateway.NewLambdaIntegration(e.Function, nil))
	parameter.GrantRead(importRole(construct, "SmRole", config.PipelineRoleARN, false))

	if err := e.monitor(ctx, env, packageARN, conf); err != nil {
		logger.Error().Err(err).Msg("Failed to create model monitor")
	}
	return e, nil
}

func (e *ModelEndpoint) monitor(ctx context.Context, env *Environment, packageARN string, conf models.EndpointConfig) error {
	config := env.Config
	project := ProjectFromConfig(config)
	schedule := conf.ScheduleConfig

	baselines, err := env.Registry.DataQualityBaselines(ctx, packageARN)
	if err != nil {
		return err
	}
	image, err := pipelinedef.ImageURI(pipelinedef.ModelMonitorAnalyzer, config.Region)
	if err != nil {
		return err
	}

	scheduleName := fmt.Sprintf("%s-%s-schedule", project.ID, e.Name)

	e.Monitoring = awssagemaker.NewCfnMonitoringSchedule(e.Construct, jsii.String("MonitoringSchedule"), &awssagemaker.CfnMonitoringScheduleProps{
		MonitoringScheduleName: jsii.String(scheduleName),
		EndpointName:           jsii.String(e.Name),
		MonitoringScheduleConfig: &awssagemaker.CfnMonitoringSchedule_MonitoringScheduleConfigProperty{
			MonitoringJobDefinition: &awssagemaker.CfnMonitoringSchedule_MonitoringJobDefinitionProperty{
				BaselineConfig: &awssagemaker.CfnMonitoringSchedule_BaselineConfigProperty{
					StatisticsResource: &awssagemaker.CfnMonitoringSchedule_StatisticsResourceProperty{
						S3Uri: jsii.String(baselines.StatisticsURI),
					},
					ConstraintsResource: &awssagemaker.CfnMonitoringSchedule_ConstraintsResourceProperty{
						S3Uri: jsii.String(baselines.ConstraintsURI),
					},
				},
				MonitoringAppSpecification: &awssagemaker.CfnMonitoringSchedule_MonitoringAppSpecificationProperty{
					ImageUri: jsii.String(image),
				},
				MonitoringInputs: &[]interface{}{
					&awssagemaker.CfnMonitoringSchedule_MonitoringInputProperty{
						EndpointInput: &awssagemaker.CfnMonitoringSchedule_EndpointInputProperty{
							EndpointName: jsii.String(e.Name),
							LocalPath:    jsii.String("/opt/ml/processing/endpointdata"),
						},
					},
				},
				MonitoringOutputConfig: &awssagemaker.CfnMonitoringSchedule_MonitoringOutputConfigProperty{
					MonitoringOutputs: &[]interface{}{
						&awssagemaker.CfnMonitoringSchedule_MonitoringOutputProperty{
							S3Output: &awssagemaker.CfnMonitoringSchedule_S3OutputProperty{
								LocalPath: jsii.String("/opt/ml/processing/localpath"),
								S3Uri:     jsii.String(fmt.Sprintf("s3://%s/%s/monitoring", config.ProjectBucket, conf.Prefix)),
							},
						},
					},
				},
				MonitoringResources: &awssagemaker.CfnMonitoringSchedule_MonitoringResourcesProperty{
					ClusterConfig: &awssagemaker.CfnMonitoringSchedule_ClusterConfigProperty{
						InstanceCount:  jsii.Number(1),
						InstanceType:   jsii.String(monitorInstanceType),
						VolumeSizeInGb: jsii.Number(monitorVolumeGB),
					},
				},
				RoleArn: jsii.String(config.PipelineRoleARN),
				StoppingCondition: &awssagemaker.CfnMonitoringSchedule_StoppingConditionProperty{
					MaxRuntimeInSeconds: jsii.Number(monitorMaxRuntime),
				},
			},
			ScheduleConfig: &awssagemaker.CfnMonitoringSchedule_ScheduleConfigProperty{
				ScheduleExpression: jsii.String(schedule.ScheduleExpression),
			},
		},
	})
	e.Monitoring.AddDependency(e.Endpoint)

	metric := awscloudwatch.NewMetric(&awscloudwatch.MetricProps{
		MetricName: jsii.String(schedule.MetricName),
		Namespace:  jsii.String(monitorNamespace),
		DimensionsMap: &map[string]*string{
			"Endpoint":           e.Endpoint.AttrEndpointName(),
			"MonitoringSchedule": jsii.String(scheduleName),
		},
		Period:    awscdk.Duration_Seconds(jsii.Number(schedule.Period)),
		Statistic: jsii.String(schedule.Statistic),
	})
	e.Alarm = awscloudwatch.NewAlarm(e.Construct, jsii.String("DriftAlarm"), &awscloudwatch.AlarmProps{
		Metric:             metric,
		EvaluationPeriods:  jsii.Number(schedule.EvaluationPeriods),
		DatapointsToAlarm:  jsii.Number(schedule.DatapointsToAlarm),
		Threshold:          jsii.Number(schedule.MetricThreshold),
		AlarmName:          jsii.String(fmt.Sprintf("%s-%s-threshold", project.Name, e.Name)),
		AlarmDescription:   jsii.String(fmt.Sprintf("Schedule Metric %s Threshold", schedule.ComparisonOperator)),
		ComparisonOperator: awscloudwatch.ComparisonOperator_LESS_THAN_THRESHOLD,
	})
	return nil
}

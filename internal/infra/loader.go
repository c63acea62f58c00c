package infra

import (
	"context"
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsglue"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambdaeventsources"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssqs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsstepfunctions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsstepfunctionstasks"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/loader"
)

// Glue job script location, relative to the serving repository and the project bucket.
const (
	GlueScriptPath = "scripts/glue/load-ddb-table.py"
	GlueScriptKey  = "glue/scripts/load-ddb-table.py"
)

// JobStatusPath is where the poller keeps the Glue run status in the execution state.
const JobStatusPath = "$.body.job.Payload.jobDetails.jobStatus"

// LoaderProps configures the DynamoDB loader of one batch transform pipeline.
type LoaderProps struct {
	Queue     awssqs.IQueue // pipeline callback queue
	ModelName string
	IndexName string
}

// Loader copies batch transform scores into DynamoDB with a Glue job, driven by a
// Step Functions state machine started from the pipeline's callback queue.
type Loader struct {
	constructs.Construct

	Table        awsdynamodb.Table
	Job          awsglue.CfnJob
	StateMachine awsstepfunctions.StateMachine
	ReadScores   awslambda.Function
	Execute      awslambda.Function
}

func NewLoader(ctx context.Context, scope constructs.Construct, id string, env *Environment, props LoaderProps) (*Loader, error) {
	logger := zerolog.Ctx(ctx)
	config := env.Config
	project := ProjectFromConfig(config)

	if env.Uploader == nil {
		return nil, fmt.Errorf("loader %s: no uploader configured for the glue script", props.ModelName)
	}
	script, err := env.Uploader.UploadFile(ctx, config.ProjectBucket, GlueScriptKey, env.path(GlueScriptPath))
	if err != nil {
		return nil, fmt.Errorf("failed to upload glue script: %w", err)
	}
	logger.Info().Str("script", script).Msg("Uploaded glue script")

	construct := constructs.NewConstruct(scope, jsii.String(id))
	l := &Loader{Construct: construct}

	glueRole := importRole(construct, "GlueRole", config.GlueRoleARN, true)
	lambdaRole := importRole(construct, "LambdaRole", config.LambdaRoleARN, true)

	l.Table = awsdynamodb.NewTable(construct, jsii.String("DDBTable"), &awsdynamodb.TableProps{
		TableName: jsii.String(project.Resource(props.ModelName + "-DDB-Table")),
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String("policy_id"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		RemovalPolicy: awscdk.RemovalPolicy_DESTROY,
		ReadCapacity:  jsii.Number(5),
		WriteCapacity: jsii.Number(100),
	})

	glueRole.AddManagedPolicy(awsiam.ManagedPolicy_FromAwsManagedPolicyName(jsii.String("service-role/AWSGlueServiceRole")))
	l.Table.GrantReadWriteData(glueRole)

	l.ReadScores = newGoFunction(construct, "ReadDDBTable", env.LambdaDir, FunctionOptions{
		FunctionName: project.Resource("ReadDDBTable"),
		Asset:        "read-scores",
		Timeout:      15,
		Environment: map[string]string{
			"PROJECT_NAME":     project.Name,
			"target_ddb_table": *l.Table.TableName(),
		},
		Role: lambdaRole,
	})
	l.Table.GrantReadData(l.ReadScores)

	l.Job = awsglue.NewCfnJob(construct, jsii.String(project.Resource("GlueJob")), &awsglue.CfnJobProps{
		Name:        jsii.String(project.Resource("GlueJob")),
		Description: jsii.String("Glue Job to upload the result of Batch Transform to DynamoDB for low-latency serving"),
		Role:        glueRole.RoleArn(),
		Command: &awsglue.CfnJob_JobCommandProperty{
			Name:           jsii.String("glueetl"),
			PythonVersion:  jsii.String("3"),
			ScriptLocation: jsii.String(script),
		},
		DefaultArguments: &map[string]interface{}{
			"--job-bookmark-option":       "job-bookmark-enable",
			"--enable-metrics":            "",
			"--additional-python-modules": "pyarrow==2,awswrangler==2.9.0",
			"--TARGET_DDB_TABLE":          *l.Table.TableName(),
			"--SOURCE_S3_BUCKET":          config.ProjectBucket,
			"--TABLE_HEADER_NAME":         fmt.Sprintf("%s, score", props.IndexName),
		},
		GlueVersion:     jsii.String("3.0"),
		WorkerType:      jsii.String("Standard"),
		NumberOfWorkers: jsii.Number(2),
		Timeout:         jsii.Number(15),
		MaxRetries:      jsii.Number(0),
		ExecutionProperty: &awsglue.CfnJob_ExecutionPropertyProperty{
			MaxConcurrentRuns: jsii.Number(3),
		},
	})

	lambdaRole.AddToPrincipalPolicy(statement(
		[]string{"glue:StartJobRun"},
		[]string{fmt.Sprintf("arn:aws:glue:%s:%s:job/sagemaker-*", *awscdk.Aws_REGION(), *awscdk.Aws_ACCOUNT_ID())},
	))
	lambdaRole.AddToPrincipalPolicy(statement([]string{"glue:GetJobRun", "glue:GetJobRuns", "glue:GetJobs"}, []string{"*"}))

	var definition awsstepfunctions.IChainable
	if env.NativeLoader {
		definition = l.nativeDefinition()
	} else {
		definition = l.pollerDefinition(env, project, lambdaRole)
	}

	l.StateMachine = awsstepfunctions.NewStateMachine(construct, jsii.String("StateMachineMLOps"), &awsstepfunctions.StateMachineProps{
		StateMachineName: jsii.String(project.Resource("DynamoDB_Loader")),
		DefinitionBody:   awsstepfunctions.DefinitionBody_FromChainable(definition),
		Timeout:          awscdk.Duration_Minutes(jsii.Number(15)),
		Role:             importRole(construct, "LambdaRoleImmutable", config.LambdaRoleARN, false),
	})

	l.Execute = newGoFunction(construct, "SFNExecute", env.LambdaDir, FunctionOptions{
		FunctionName: project.Resource("SFNExecute"),
		Asset:        "execute-state-machine",
		Timeout:      100,
		Environment: map[string]string{
			"PROJECT_NAME":      project.Name,
			"state_machine_arn": *l.StateMachine.StateMachineArn(),
			"TARGET_GLUE_JOB":   *l.Job.Name(),
			"TARGET_DDB_TABLE":  *l.Table.TableName(),
		},
		Role: lambdaRole,
	})
	l.Execute.AddEventSource(awslambdaeventsources.NewSqsEventSource(props.Queue, &awslambdaeventsources.SqsEventSourceProps{
		ReportBatchItemFailures: jsii.Bool(true),
	}))

	return l, nil
}

// pollerDefinition submits the Glue run from a Lambda and polls its status every 15
// seconds until it finishes.
func (l *Loader) pollerDefinition(env *Environment, project Project, role awsiam.IRole) awsstepfunctions.IChainable {
	submitter := newGoFunction(l.Construct, "SFNJobExec", env.LambdaDir, FunctionOptions{
		FunctionName: project.Resource("SFNJobExec"),
		Asset:        "job-submit",
		Timeout:      900,
		Environment:  map[string]string{"PROJECT_NAME": project.Name},
		Role:         role,
	})
	checker := newGoFunction(l.Construct, "SFNJobStatusCheck", env.LambdaDir, FunctionOptions{
		FunctionName: project.Resource("SFNJobStatusCheck"),
		Asset:        "job-status-check",
		Timeout:      900,
		Environment:  map[string]string{"PROJECT_NAME": project.Name},
		Role:         role,
	})

	submit := awsstepfunctionstasks.NewLambdaInvoke(l.Construct, jsii.String("Submit Job"), &awsstepfunctionstasks.LambdaInvokeProps{
		LambdaFunction: submitter,
		ResultPath:     jsii.String("$.body.job"),
	})
	wait := awsstepfunctions.NewWait(l.Construct, jsii.String("Wait"), &awsstepfunctions.WaitProps{
		Time: awsstepfunctions.WaitTime_Duration(awscdk.Duration_Seconds(jsii.Number(loader.DefaultInterval.Seconds()))),
	})
	status := awsstepfunctionstasks.NewLambdaInvoke(l.Construct, jsii.String("Get Job Status"), &awsstepfunctionstasks.LambdaInvokeProps{
		LambdaFunction: checker,
		ResultPath:     jsii.String("$.body.job"),
	})
	failed := awsstepfunctions.NewFail(l.Construct, jsii.String("Job Failed"), &awsstepfunctions.FailProps{
		Cause: jsii.String("AWS Job Failed"),
		Error: jsii.String("DescribeJob returned FAILED"),
	})
	final := awsstepfunctionstasks.NewLambdaInvoke(l.Construct, jsii.String("Get Final Job Status"), &awsstepfunctionstasks.LambdaInvokeProps{
		LambdaFunction: checker,
	})

	choice := awsstepfunctions.NewChoice(l.Construct, jsii.String("Job Complete?"), nil).
		When(awsstepfunctions.Condition_StringEquals(jsii.String(JobStatusPath), jsii.String(loader.Failed.String())), failed, nil).
		When(awsstepfunctions.Condition_StringEquals(jsii.String(JobStatusPath), jsii.String(loader.Succeeded.String())), final, nil).
		Otherwise(wait)

	return awsstepfunctions.Chain_Start(submit).Next(wait).Next(status).Next(choice)
}

// nativeDefinition runs the Glue job synchronously and answers the pipeline callback
// directly from the state machine.
func (l *Loader) nativeDefinition() awsstepfunctions.IChainable {
	at := func(path string) string { return *awsstepfunctions.JsonPath_StringAt(jsii.String(path)) }

	run := awsstepfunctionstasks.NewGlueStartJobRun(l.Construct, jsii.String("Run Glue Job"), &awsstepfunctionstasks.GlueStartJobRunProps{
		GlueJobName:        l.Job.Name(),
		IntegrationPattern: awsstepfunctions.IntegrationPattern_RUN_JOB,
		Arguments: awsstepfunctions.TaskInput_FromObject(&map[string]interface{}{
			"--S3_BUCKET":           at("$.body.bucket"),
			"--S3_PREFIX_PROCESSED": at("$.body.keysRawProc[0]"),
			"--TARGET_DDB_TABLE":    at("$.body.targetDDBTable"),
		}),
		ResultPath: jsii.String("$.body.jobRun"),
	})

	success := awsstepfunctionstasks.NewCallAwsService(l.Construct, jsii.String("Send Step Success"), &awsstepfunctionstasks.CallAwsServiceProps{
		Service: jsii.String("sagemaker"),
		Action:  jsii.String("sendPipelineExecutionStepSuccess"),
		Parameters: &map[string]interface{}{
			"CallbackToken": at("$.callbackToken"),
			"OutputParameters": []map[string]interface{}{
				{"Name": loader.FinalStatusName, "Value": loader.FinalStatusMessage},
			},
		},
		IamResources: jsii.Strings("*"),
	})
	failure := awsstepfunctionstasks.NewCallAwsService(l.Construct, jsii.String("Send Step Failure"), &awsstepfunctionstasks.CallAwsServiceProps{
		Service: jsii.String("sagemaker"),
		Action:  jsii.String("sendPipelineExecutionStepFailure"),
		Parameters: &map[string]interface{}{
			"CallbackToken": at("$.callbackToken"),
			"FailureReason": "Glue job failed",
		},
		IamResources: jsii.Strings("*"),
	})
	failed := awsstepfunctions.NewFail(l.Construct, jsii.String("Job Failed"), &awsstepfunctions.FailProps{
		Cause: jsii.String("AWS Glue Job Failed"),
		Error: jsii.String("StartJobRun returned FAILED"),
	})

	run.AddCatch(failure.Next(failed), &awsstepfunctions.CatchProps{
		ResultPath: jsii.String("$.error"),
	})
	return awsstepfunctions.Chain_Start(run).Next(success)
}

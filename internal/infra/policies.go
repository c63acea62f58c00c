package infra

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/jsii-runtime-go"
)

// Grant is one IAM statement in plain strings.
type Grant struct {
	Actions    []string
	Resources  []string
	Conditions map[string]interface{}
}

func (g Grant) statement() awsiam.PolicyStatement {
	props := &awsiam.PolicyStatementProps{
		Actions:   jsii.Strings(g.Actions...),
		Resources: jsii.Strings(g.Resources...),
	}
	if len(g.Conditions) > 0 {
		props.Conditions = &g.Conditions
	}
	return awsiam.NewPolicyStatement(props)
}

// AddGrants attaches every grant to role and returns the results in order.
func AddGrants(role awsiam.IRole, grants []Grant) []*awsiam.AddToPrincipalPolicyResult {
	results := make([]*awsiam.AddToPrincipalPolicyResult, 0, len(grants))
	for _, g := range grants {
		results = append(results, role.AddToPrincipalPolicy(g.statement()))
	}
	return results
}

// Account scopes ARNs built by the grant tables.
type Account struct {
	Region string
	ID     string
}

// PseudoAccount uses the stack's region and account.
func PseudoAccount() Account {
	return Account{Region: *awscdk.Aws_REGION(), ID: *awscdk.Aws_ACCOUNT_ID()}
}

func (a Account) arn(service, resource string) string {
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", service, a.Region, a.ID, resource)
}

// ExecutionGrants are the permissions the products-use role needs to run the
// project's pipelines. The second grant lets the role assume and pass itself.
func ExecutionGrants(project Project, roleARN string, account Account) []Grant {
	return []Grant{
		{
			Actions:   []string{"iam:PassRole"},
			Resources: []string{fmt.Sprintf("arn:aws:iam::%s:role/cdk*", account.ID)},
		},
		{
			Actions:   []string{"sts:AssumeRole", "iam:PassRole"},
			Resources: []string{roleARN},
		},
		{
			Actions: []string{
				"cloudformation:DescribeStackEvents",
				"cloudformation:GetTemplate",
				"cloudformation:CreateChangeSet",
				"cloudformation:DescribeChangeSet",
				"cloudformation:ExecuteChangeSet",
				"cloudformation:DeleteChangeSet",
				"cloudformation:DescribeStacks",
				"cloudformation:DeleteStack",
			},
			Resources: []string{account.arn("cloudformation", fmt.Sprintf("stack/%s*/*", project.Name))},
		},
		{
			Actions: []string{
				"cloudformation:DescribeStackEvents",
				"cloudformation:GetTemplate",
				"cloudformation:DescribeStacks",
			},
			Resources: []string{account.arn("cloudformation", "stack/CDKToolkit/*")},
		},
		{
			Actions: []string{"ssm:GetParameter"},
			Resources: []string{
				account.arn("ssm", "parameter/cdk-bootstrap/*"),
				account.arn("ssm", fmt.Sprintf("parameter/sagemaker-%s*", project.Name)),
			},
		},
		{
			Actions:   []string{"*"},
			Resources: []string{"*"},
			Conditions: map[string]interface{}{
				"ForAnyValue:StringEquals": map[string]interface{}{
					"aws:CalledVia": []string{"cloudformation.amazonaws.com"},
				},
			},
		},
		{
			Actions: []string{"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents"},
			Resources: []string{
				account.arn("logs", fmt.Sprintf("log-group:/aws/codebuild/sagemaker-%s*", project.ID)),
				account.arn("logs", fmt.Sprintf("log-group:/aws/codebuild/sagemaker-%s*:*", project.ID)),
			},
		},
		{
			Actions: []string{
				"codebuild:CreateReportGroup",
				"codebuild:CreateReport",
				"codebuild:UpdateReport",
				"codebuild:BatchPutTestCases",
				"codebuild:BatchPutCodeCoverages",
			},
			Resources: []string{account.arn("codebuild", fmt.Sprintf("report-group/sagemaker-%s*", project.ID))},
		},
		{
			Actions:   []string{"codepipeline:PutApprovalResult"},
			Resources: []string{account.arn("codepipeline", fmt.Sprintf("sagemaker-%s*", project.ID))},
		},
		{
			Actions:   []string{"codebuild:BatchGetBuilds", "codebuild:StartBuild", "codebuild:StopBuild"},
			Resources: []string{account.arn("codebuild", fmt.Sprintf("project/sagemaker-%s*", project.ID))},
		},
		{
			Actions: []string{
				"glue:SearchTables", "glue:BatchCreatePartition", "glue:CreateTable", "glue:GetTables",
				"glue:GetTableVersions", "glue:GetPartitions", "glue:BatchDeletePartition", "glue:UpdateTable",
				"glue:DeleteTableVersion", "glue:BatchGetPartition", "glue:DeleteTable", "glue:GetTable",
				"glue:GetDatabase", "glue:GetPartition", "glue:GetTableVersion", "glue:CreateDatabase",
				"glue:BatchDeleteTableVersion", "glue:BatchDeleteTable", "glue:CreatePartition",
				"glue:DeletePartition", "glue:UpdatePartition",
				"athena:StartQueryExecution", "athena:GetQueryExecution",
				"cloudformation:DescribeStacks",
			},
			Resources: []string{
				"arn:aws:glue:*:*:catalog",
				"arn:aws:glue:*:*:database/default",
				"arn:aws:glue:*:*:database/global_temp",
				"arn:aws:glue:*:*:database/sagemaker*",
				"arn:aws:glue:*:*:table/sagemaker*",
				"arn:aws:glue:*:*:tableVersion/sagemaker*",
				fmt.Sprintf("arn:aws:athena:*:%s:workgroup/*", account.ID),
			},
		},
		{
			Actions:   []string{"glue:StartJobRun"},
			Resources: []string{account.arn("glue", "job/sagemaker-*")},
		},
		{
			Actions:   []string{"glue:GetJobRun", "glue:GetJobRuns", "glue:GetJobs"},
			Resources: []string{"*"},
		},
		{
			Actions: []string{
				"dynamodb:GetItem", "dynamodb:Query", "dynamodb:Scan",
				"dynamodb:BatchGetItem", "dynamodb:DescribeTable",
			},
			Resources: []string{account.arn("dynamodb", fmt.Sprintf("table/sagemaker-%s*", project.ID))},
		},
	}
}

// LaunchGrants are the permissions Service Catalog's launch role needs to provision
// the project stack and edit the use role's inline policy.
func LaunchGrants(useRoleARN string, account Account) []Grant {
	return []Grant{
		{
			Actions: []string{
				"SNS:CreateTopic", "SNS:GetTopicAttributes", "SNS:DeleteTopic", "SNS:ListTagsForResource",
				"SNS:TagResource", "SNS:UnTagResource", "SNS:Subscribe", "SNS:Unsubscribe",
			},
			Resources: []string{account.arn("sns", "sagemaker-*")},
		},
		{
			Actions:   []string{"codebuild:BatchGetProjects"},
			Resources: []string{account.arn("codebuild", "project/sagemaker*")},
		},
		{
			Actions:   []string{"s3:*"},
			Resources: []string{"arn:aws:s3:::cdktoolkit-stagingbucket-*"},
		},
		{
			Actions:   []string{"ssm:GetParameter"},
			Resources: []string{account.arn("ssm", "parameter/cdk-bootstrap/*")},
		},
		{
			Actions: []string{
				"ssm:PutParameter", "ssm:DeleteParameter", "ssm:DeleteParameters", "ssm:AddTagsToResource",
				"ssm:DescribeParameters", "ssm:LabelParameterVersion", "ssm:ListTagsForResource",
				"ssm:RemoveTagsFromResource",
			},
			Resources: []string{account.arn("ssm", "parameter/sagemaker*")},
		},
		{
			Actions:   []string{"iam:PutRolePolicy", "iam:DeleteRolePolicy", "iam:GetRolePolicy"},
			Resources: []string{useRoleARN},
		},
	}
}

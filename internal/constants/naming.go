package constants

import (
	"fmt"
	"strings"
)

// ParameterRoot returns the SSM path under which every project parameter lives.
func ParameterRoot(projectName string) string {
	return fmt.Sprintf("/sagemaker-%s", projectName)
}

// ApprovalFlagName returns the SSM name of a construct's auto-approval flag.
func ApprovalFlagName(projectName, constructID string) string {
	return fmt.Sprintf("%s/%s/%s", ParameterRoot(projectName), constructID, AutoApprovalParam)
}

// PipelineARNName returns the SSM name holding a construct's CodePipeline ARN.
func PipelineARNName(projectName, constructID string) string {
	return fmt.Sprintf("%s/%s/%s", ParameterRoot(projectName), constructID, CodePipelineARNParam)
}

// ResourceParamName returns the SSM name for a per-resource value such as an endpoint URL.
func ResourceParamName(projectName, resource string) string {
	return fmt.Sprintf("%s/%s", ParameterRoot(projectName), resource)
}

// ConstructFromPipeline strips the sagemaker-{projectId}- prefix off a CodePipeline name.
func ConstructFromPipeline(projectID, pipelineName string) string {
	return strings.TrimPrefix(pipelineName, fmt.Sprintf("sagemaker-%s-", projectID))
}

// ProjectScoped prefixes name with the project name.
func ProjectScoped(projectName, name string) string {
	return fmt.Sprintf("%s-%s", projectName, name)
}

// ProductsUseRoleARN returns the ARN of the products-use role in the given account.
func ProductsUseRoleARN(partition, account string) string {
	if partition == "" {
		partition = "aws"
	}
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, account, ProductsUseRoleName)
}

package constants

// ProductsUseRoleName is the service role every project resource runs under.
// Service Catalog creates it when SageMaker project templates are enabled.
const ProductsUseRoleName = "service-role/AmazonSageMakerServiceCatalogProductsUseRole"

// ProductsLaunchRoleName is the role Service Catalog assumes to launch the product.
const ProductsLaunchRoleName = "service-role/AmazonSageMakerServiceCatalogProductsLaunchRole"

// Role keys handed to each CI/CD construct. Every key resolves to the products-use role
// unless overridden.
const (
	EventsRole         = "events_role"
	CodePipelineRole   = "code_pipeline_role"
	CloudFormationRole = "cloudformation_role"
	CodeBuildRole      = "code_build_role"
	GlueRole           = "glue_role"
	APIGatewayRole     = "api_gateway_role"
	SageMakerRole      = "sagemaker_role"
	LambdaRole         = "lambda_role"
)

// RoleKeys lists every role key in a stable order.
var RoleKeys = []string{
	EventsRole,
	CodePipelineRole,
	CloudFormationRole,
	CodeBuildRole,
	GlueRole,
	APIGatewayRole,
	SageMakerRole,
	LambdaRole,
}

// Tag keys recognized by SageMaker Studio.
const (
	TagProjectID         = "sagemaker:project-id"
	TagProjectName       = "sagemaker:project-name"
	TagStudioVisibility  = "sagemaker:studio-visibility"
	DefaultBranch        = "main"
	ApprovalSummary      = "Automatically approved by Lambda."
	CodePipelineARNParam = "CodePipelineARN"
	AutoApprovalParam    = "AutoApprovalFlag"
)

package infra

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambdaeventsources"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/constants"
	"github.com/segmentio/ksuid"
)

// ProjectStackID is the logical id of the stack Service Catalog launches.
const ProjectStackID = "MLOpsCfnStack"

// RoleARNPattern is the allowed pattern of the studio user role parameter.
const RoleARNPattern = `^arn:aws[a-z\-]*:iam::\d{12}:role/?[a-zA-Z_0-9+=,.@\-_/]+$`

// ProjectStackProps are the synth-time inputs of the project stack.
type ProjectStackProps struct {
	CodeAssets        map[string]assets.CodeAsset // keyed by construct id, e.g. BuildPipeline
	DemoAsset         *assets.CodeAsset
	StudioUserRoleARN string
	LambdaDir         string
	Synthesizer       awscdk.IStackSynthesizer
}

// ProjectStack is the template published as the Service Catalog product.
type ProjectStack struct {
	awscdk.Stack

	Project Project
	Bucket  awss3.Bucket
	Topic   awssns.Topic
	CICD    map[string]*CICD
}

// NewProjectStack declares the SageMaker project parameters and the project construct.
func NewProjectStack(scope constructs.Construct, id string, props ProjectStackProps) *ProjectStack {
	stack := awscdk.NewStack(scope, jsii.String(id), &awscdk.StackProps{
		Synthesizer: props.Synthesizer,
	})

	name := awscdk.NewCfnParameter(stack, jsii.String("SageMakerProjectName"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The name of the SageMaker project."),
		MinLength:   jsii.Number(1),
		MaxLength:   jsii.Number(16),
		Default:     jsii.String("MLOpsDemo"),
	})
	projectID := awscdk.NewCfnParameter(stack, jsii.String("SageMakerProjectId"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("Service generated Id of the project."),
		MinLength:   jsii.Number(1),
		MaxLength:   jsii.Number(16),
		Default:     jsii.String("mlopsdemo-id"),
	})
	userRole := &awscdk.CfnParameterProps{
		Type:           jsii.String("String"),
		Description:    jsii.String("Amazon SageMaker User Execution Role to run the Demo walkthrough."),
		AllowedPattern: jsii.String(RoleARNPattern),
	}
	if props.StudioUserRoleARN != "" {
		userRole.Default = jsii.String(props.StudioUserRoleARN)
	}
	studioRole := awscdk.NewCfnParameter(stack, jsii.String("DemoSMSUserRole"), userRole)

	project := Project{Name: *name.ValueAsString(), ID: *projectID.ValueAsString()}
	s := &ProjectStack{
		Stack:   stack,
		Project: project,
		CICD:    map[string]*CICD{},
	}
	s.build(constructs.NewConstruct(stack, jsii.String("MLOpsProject")), *studioRole.ValueAsString(), props)
	return s
}

// BucketName returns sagemaker-{projectId}-{suffix}. The suffix is fresh per synth.
func BucketName(projectID string) string {
	id := strings.ToLower(ksuid.New().String())
	return fmt.Sprintf("sagemaker-%s-%s", projectID, id[len(id)-7:])
}

func (s *ProjectStack) build(scope constructs.Construct, studioRoleARN string, props ProjectStackProps) {
	project := s.Project
	project.Apply(scope)

	useRoleARN := fmt.Sprintf("arn:%s:iam::%s:role/%s", *awscdk.Aws_PARTITION(), *awscdk.Aws_ACCOUNT_ID(), constants.ProductsUseRoleName)
	useRole := awsiam.Role_FromRoleArn(scope, jsii.String("ProductsUseRole"), jsii.String(useRoleARN), nil)
	results := AddGrants(useRole, ExecutionGrants(project, *useRole.RoleArn(), PseudoAccount()))

	s.Bucket = awss3.NewBucket(scope, jsii.String("ProjectBucket"), &awss3.BucketProps{
		BucketName: jsii.String(BucketName(project.ID)),
	})
	if len(results) > 1 && results[1].PolicyDependable != nil {
		s.Bucket.Node().AddDependency(results[1].PolicyDependable)
	}

	s.Topic = awssns.NewTopic(scope, jsii.String("CiCdTopic"), &awssns.TopicProps{
		DisplayName: jsii.String(fmt.Sprintf("%s CI/CD notifications", project.Name)),
		TopicName:   jsii.String(project.Resource("cicd-topic")),
	})
	s.Topic.GrantPublish(useRole)

	approval := newGoFunction(scope, "AutoApprovalLambda", props.LambdaDir, FunctionOptions{
		FunctionName: fmt.Sprintf("sagemaker-%s-auto-approval", project.Name),
		Asset:        "auto-approval",
		Timeout:      3,
		MemorySize:   128,
		Role:         useRole,
		Environment: map[string]string{
			"PROJECT_NAME": project.Name,
			"PROJECT_ID":   project.ID,
		},
	})
	approval.AddEventSource(awslambdaeventsources.NewSnsEventSource(s.Topic, nil))

	roles := UniformRoles(*useRole.RoleArn())
	names := make([]string, 0, len(props.CodeAssets))
	for name := range props.CodeAssets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		asset := props.CodeAssets[name]
		s.CICD[name] = NewCICD(scope, CICDProps{
			ConstructID:       name,
			SeedBucket:        asset.Bucket,
			SeedKey:           asset.Key,
			ProjectBucket:     s.Bucket,
			StudioUserRoleARN: studioRoleARN,
			Project:           project,
			Topic:             s.Topic,
			Roles:             roles,
		})
	}

	if props.DemoAsset != nil {
		NewRepository(scope, "sagemakerMLOpsProjectRepository", RepositoryProps{
			Name:   fmt.Sprintf("sagemaker-%s-Demo", project.Name),
			Bucket: props.DemoAsset.Bucket,
			Key:    props.DemoAsset.Key,
			Tags:   project.Tags(),
		})
	}
}

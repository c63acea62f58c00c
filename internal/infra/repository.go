package infra

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodecommit"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/savaki/sagemaker-mlops/internal/constants"
)

// RepositoryProps seeds a CodeCommit repository from a zip archive in S3.
type RepositoryProps struct {
	Name   string
	Bucket string
	Key    string
	Branch string
	Tags   []*awscdk.CfnTag
}

// Repository is a seeded CodeCommit repository.
type Repository struct {
	constructs.Construct

	Cfn        awscodecommit.CfnRepository
	Repository awscodecommit.IRepository
}

// NewRepository creates the repository. It is destroyed with the stack, including on
// replacement.
func NewRepository(scope constructs.Construct, id string, props RepositoryProps) *Repository {
	construct := constructs.NewConstruct(scope, jsii.String(id))

	branch := props.Branch
	if branch == "" {
		branch = constants.DefaultBranch
	}

	cfn := awscodecommit.NewCfnRepository(construct, jsii.String("Repository"), &awscodecommit.CfnRepositoryProps{
		RepositoryName: jsii.String(props.Name),
		Code: &awscodecommit.CfnRepository_CodeProperty{
			BranchName: jsii.String(branch),
			S3: &awscodecommit.CfnRepository_S3Property{
				Bucket: jsii.String(props.Bucket),
				Key:    jsii.String(props.Key),
			},
		},
		Tags: &props.Tags,
	})
	cfn.ApplyRemovalPolicy(awscdk.RemovalPolicy_DESTROY, &awscdk.RemovalPolicyOptions{
		ApplyToUpdateReplacePolicy: jsii.Bool(true),
	})

	return &Repository{
		Construct:  construct,
		Cfn:        cfn,
		Repository: awscodecommit.Repository_FromRepositoryName(construct, jsii.String("Imported"), cfn.AttrName()),
	}
}

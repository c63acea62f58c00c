package services

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	mlerrors "github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSageMaker struct {
	packages  []types.ModelPackageSummary
	baselines *types.DriftCheckBaselines
	listInput *sagemaker.ListModelPackagesInput
}

func (f *fakeSageMaker) ListModelPackages(_ context.Context, in *sagemaker.ListModelPackagesInput, _ ...func(*sagemaker.Options)) (*sagemaker.ListModelPackagesOutput, error) {
	f.listInput = in
	return &sagemaker.ListModelPackagesOutput{ModelPackageSummaryList: f.packages}, nil
}

func (f *fakeSageMaker) DescribeModelPackage(context.Context, *sagemaker.DescribeModelPackageInput, ...func(*sagemaker.Options)) (*sagemaker.DescribeModelPackageOutput, error) {
	return &sagemaker.DescribeModelPackageOutput{DriftCheckBaselines: f.baselines}, nil
}

func (f *fakeSageMaker) ListDomains(context.Context, *sagemaker.ListDomainsInput, ...func(*sagemaker.Options)) (*sagemaker.ListDomainsOutput, error) {
	return &sagemaker.ListDomainsOutput{Domains: []types.DomainDetails{{DomainId: aws.String("d-1")}}}, nil
}

func (f *fakeSageMaker) DescribeDomain(context.Context, *sagemaker.DescribeDomainInput, ...func(*sagemaker.Options)) (*sagemaker.DescribeDomainOutput, error) {
	return &sagemaker.DescribeDomainOutput{DefaultUserSettings: &types.UserSettings{ExecutionRole: aws.String("arn:aws:iam::1:role/Studio")}}, nil
}

func TestModelRegistry_LatestApproved(t *testing.T) {
	client := &fakeSageMaker{packages: []types.ModelPackageSummary{{ModelPackageArn: aws.String("arn:pkg/2")}}}
	registry := NewModelRegistry(client)

	arn, err := registry.LatestApproved(context.Background(), "demo-claims")
	require.NoError(t, err)
	assert.Equal(t, "arn:pkg/2", arn)
	assert.Equal(t, types.ModelApprovalStatusApproved, client.listInput.ModelApprovalStatus)
	assert.Equal(t, types.SortOrderDescending, client.listInput.SortOrder)

	_, err = NewModelRegistry(&fakeSageMaker{}).LatestApproved(context.Background(), "demo-claims")
	assert.True(t, errors.Is(err, mlerrors.ErrNoApprovedModelPackage))
}

func TestModelRegistry_DataQualityBaselines(t *testing.T) {
	client := &fakeSageMaker{baselines: &types.DriftCheckBaselines{
		ModelDataQuality: &types.DriftCheckModelDataQuality{
			Statistics:  &types.MetricsSource{S3Uri: aws.String("s3://b/statistics.json")},
			Constraints: &types.MetricsSource{S3Uri: aws.String("s3://b/constraints.json")},
		},
	}}

	got, err := NewModelRegistry(client).DataQualityBaselines(context.Background(), "arn:pkg/2")
	require.NoError(t, err)
	assert.Equal(t, "s3://b/statistics.json", got.StatisticsURI)
	assert.Equal(t, "s3://b/constraints.json", got.ConstraintsURI)

	_, err = NewModelRegistry(&fakeSageMaker{}).DataQualityBaselines(context.Background(), "arn:pkg/2")
	assert.True(t, errors.Is(err, mlerrors.ErrNoDriftBaselines))
}

func TestModelRegistry_DefaultExecutionRole(t *testing.T) {
	role, err := NewModelRegistry(&fakeSageMaker{}).DefaultExecutionRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::1:role/Studio", role)
}

package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// SageMakerAPI is the subset of the SageMaker control plane used at synth time.
type SageMakerAPI interface {
	ListModelPackages(ctx context.Context, params *sagemaker.ListModelPackagesInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListModelPackagesOutput, error)
	DescribeModelPackage(ctx context.Context, params *sagemaker.DescribeModelPackageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeModelPackageOutput, error)
	ListDomains(ctx context.Context, params *sagemaker.ListDomainsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListDomainsOutput, error)
	DescribeDomain(ctx context.Context, params *sagemaker.DescribeDomainInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeDomainOutput, error)
}

// Baselines locates the data quality baseline produced by the build pipeline.
type Baselines struct {
	StatisticsURI  string
	ConstraintsURI string
}

// ModelRegistry answers questions about registered model packages and studio domains.
type ModelRegistry struct {
	client SageMakerAPI
}

func NewModelRegistry(client SageMakerAPI) *ModelRegistry {
	return &ModelRegistry{client: client}
}

// LatestApproved returns the ARN of the newest Approved package in group.
func (r *ModelRegistry) LatestApproved(ctx context.Context, group string) (string, error) {
	result, err := r.client.ListModelPackages(ctx, &sagemaker.ListModelPackagesInput{
		ModelPackageGroupName: aws.String(group),
		ModelApprovalStatus:   types.ModelApprovalStatusApproved,
		SortBy:                types.ModelPackageSortByCreationTime,
		SortOrder:             types.SortOrderDescending,
		MaxResults:            aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list model packages for %s: %w", group, err)
	}
	if len(result.ModelPackageSummaryList) == 0 {
		return "", fmt.Errorf("%w: %s", errors.ErrNoApprovedModelPackage, group)
	}
	return aws.ToString(result.ModelPackageSummaryList[0].ModelPackageArn), nil
}

// DataQualityBaselines returns the statistics and constraints attached to a model package.
func (r *ModelRegistry) DataQualityBaselines(ctx context.Context, packageARN string) (Baselines, error) {
	result, err := r.client.DescribeModelPackage(ctx, &sagemaker.DescribeModelPackageInput{
		ModelPackageName: aws.String(packageARN),
	})
	if err != nil {
		return Baselines{}, fmt.Errorf("failed to describe model package %s: %w", packageARN, err)
	}

	dq := result.DriftCheckBaselines
	if dq == nil || dq.ModelDataQuality == nil ||
		dq.ModelDataQuality.Statistics == nil || dq.ModelDataQuality.Constraints == nil {
		return Baselines{}, fmt.Errorf("%w: %s", errors.ErrNoDriftBaselines, packageARN)
	}

	return Baselines{
		StatisticsURI:  aws.ToString(dq.ModelDataQuality.Statistics.S3Uri),
		ConstraintsURI: aws.ToString(dq.ModelDataQuality.Constraints.S3Uri),
	}, nil
}

// DefaultExecutionRole returns the default user execution role of the first studio domain.
func (r *ModelRegistry) DefaultExecutionRole(ctx context.Context) (string, error) {
	domains, err := r.client.ListDomains(ctx, &sagemaker.ListDomainsInput{})
	if err != nil {
		return "", fmt.Errorf("failed to list domains: %w", err)
	}
	if len(domains.Domains) == 0 {
		return "", fmt.Errorf("%w: no SageMaker studio domain", errors.ErrRecordNotFound)
	}

	domain, err := r.client.DescribeDomain(ctx, &sagemaker.DescribeDomainInput{
		DomainId: domains.Domains[0].DomainId,
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe domain: %w", err)
	}
	if domain.DefaultUserSettings == nil || domain.DefaultUserSettings.ExecutionRole == nil {
		return "", fmt.Errorf("%w: domain has no default execution role", errors.ErrRecordNotFound)
	}
	return *domain.DefaultUserSettings.ExecutionRole, nil
}

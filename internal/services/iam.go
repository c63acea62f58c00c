package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSAPI is the subset of STS used for account discovery.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IAMAPI is the subset of IAM used for role lookups.
type IAMAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// Identity describes the caller account.
type Identity struct {
	Account   string
	Partition string
	ARN       string
}

type IAMService struct {
	client    IAMAPI
	stsClient STSAPI
}

func NewIAMService(client IAMAPI, stsClient STSAPI) *IAMService {
	return &IAMService{
		client:    client,
		stsClient: stsClient,
	}
}

// GetIdentity retrieves the AWS account ID and partition of the caller
func (s *IAMService) GetIdentity(ctx context.Context) (Identity, error) {
	result, err := s.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to get caller identity: %w", err)
	}

	if result.Account == nil {
		return Identity{}, fmt.Errorf("account ID is nil")
	}

	arn := aws.ToString(result.Arn)
	partition := "aws"
	if parts := strings.SplitN(arn, ":", 3); len(parts) >= 2 && parts[1] != "" {
		partition = parts[1]
	}

	return Identity{
		Account:   *result.Account,
		Partition: partition,
		ARN:       arn,
	}, nil
}

// RoleNameFromARN returns the last path segment of a role ARN.
//
// Example:
//
//	RoleNameFromARN("arn:aws:iam::123:role/service-role/MyRole") // "MyRole"
func RoleNameFromARN(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

// DescribeRole returns the role id for the role named in arn.
func (s *IAMService) DescribeRole(ctx context.Context, arn string) (name, id string, err error) {
	name = RoleNameFromARN(arn)
	result, err := s.client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return name, "", fmt.Errorf("failed to get role %s: %w", name, err)
	}
	if result.Role != nil {
		id = aws.ToString(result.Role.RoleId)
	}
	return name, id, nil
}

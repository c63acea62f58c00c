package featurestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// DescribeAPI is the subset of the SageMaker client used to resolve offline stores.
type DescribeAPI interface {
	DescribeFeatureGroup(ctx context.Context, params *sagemaker.DescribeFeatureGroupInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeFeatureGroupOutput, error)
}

// CatalogInfo locates a feature group's offline store table in the Glue catalog.
type CatalogInfo struct {
	Catalog   string
	Database  string
	TableName string
}

// Resolver looks up feature group offline store catalog information.
type Resolver struct {
	client DescribeAPI
}

func NewResolver(client DescribeAPI) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the catalog information for the named feature group.
func (r *Resolver) Resolve(ctx context.Context, name string) (CatalogInfo, error) {
	out, err := r.client.DescribeFeatureGroup(ctx, &sagemaker.DescribeFeatureGroupInput{
		FeatureGroupName: aws.String(name),
	})
	if err != nil {
		return CatalogInfo{}, fmt.Errorf("failed to describe feature group %s: %w", name, err)
	}
	if out.OfflineStoreConfig == nil || out.OfflineStoreConfig.DataCatalogConfig == nil {
		return CatalogInfo{}, fmt.Errorf("%w: feature group %s has no offline store catalog", errors.ErrRecordNotFound, name)
	}
	dc := out.OfflineStoreConfig.DataCatalogConfig
	return CatalogInfo{
		Catalog:   aws.ToString(dc.Catalog),
		Database:  aws.ToString(dc.Database),
		TableName: aws.ToString(dc.TableName),
	}, nil
}

// Query is an Athena dataset definition over the offline store.
type Query struct {
	Catalog     string
	Database    string
	QueryString string
}

// Columns returns label followed by features, dropping duplicates and keeping the
// first occurrence.
func Columns(label string, features []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range append([]string{label}, features...) {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func quoted(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = `"` + c + `"`
	}
	return strings.Join(parts, ", ")
}

func joinClause(claims, customers CatalogInfo) string {
	return fmt.Sprintf(`FROM "%s" claims LEFT JOIN "%s" customers ON claims.policy_id = customers.policy_id`,
		claims.TableName, customers.TableName)
}

// TrainingQuery selects the label and features from the claims and customers groups.
// Identical inputs always yield byte-identical output.
func TrainingQuery(claims, customers CatalogInfo, label string, features []string) Query {
	return Query{
		Catalog:     claims.Catalog,
		Database:    claims.Database,
		QueryString: fmt.Sprintf("SELECT DISTINCT %s %s", quoted(Columns(label, features)), joinClause(claims, customers)),
	}
}

// TransformQuery selects the policy id and features for batch scoring.
func TransformQuery(claims, customers CatalogInfo, features []string) Query {
	return Query{
		Catalog:     claims.Catalog,
		Database:    claims.Database,
		QueryString: fmt.Sprintf("SELECT DISTINCT claims.policy_id, %s %s", quoted(Columns("", features)), joinClause(claims, customers)),
	}
}

// BuildTrainingQuery resolves both groups and assembles the training query.
func (r *Resolver) BuildTrainingQuery(ctx context.Context, claimsGroup, customersGroup, label string, features []string) (Query, error) {
	claims, customers, err := r.resolvePair(ctx, claimsGroup, customersGroup)
	if err != nil {
		return Query{}, err
	}
	return TrainingQuery(claims, customers, label, features), nil
}

// BuildTransformQuery resolves both groups and assembles the batch transform query.
func (r *Resolver) BuildTransformQuery(ctx context.Context, claimsGroup, customersGroup string, features []string) (Query, error) {
	claims, customers, err := r.resolvePair(ctx, claimsGroup, customersGroup)
	if err != nil {
		return Query{}, err
	}
	return TransformQuery(claims, customers, features), nil
}

func (r *Resolver) resolvePair(ctx context.Context, claimsGroup, customersGroup string) (CatalogInfo, CatalogInfo, error) {
	claims, err := r.Resolve(ctx, claimsGroup)
	if err != nil {
		return CatalogInfo{}, CatalogInfo{}, err
	}
	customers, err := r.Resolve(ctx, customersGroup)
	if err != nil {
		return CatalogInfo{}, CatalogInfo{}, err
	}
	return claims, customers, nil
}

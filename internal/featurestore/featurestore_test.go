package featurestore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		column string
		want   FeatureType
	}{
		{column: "float", want: Fractional},
		{column: "long", want: Integral},
		{column: "string", want: String},
		{column: "double", want: String},
		{column: "", want: String},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.column))
		})
	}
}

func TestFeatureDefinitions(t *testing.T) {
	defs := FeatureDefinitions([]models.ColumnSchema{
		{Name: "policy_id", Type: "long"},
		{Name: "total_claim_amount", Type: "float"},
		{Name: "event_time", Type: "string"},
	})
	assert.Equal(t, []Definition{
		{FeatureName: "policy_id", FeatureType: Integral},
		{FeatureName: "total_claim_amount", FeatureType: Fractional},
		{FeatureName: "event_time", FeatureType: String},
	}, defs)
}

func TestColumns(t *testing.T) {
	assert.Equal(t, []string{"fraud", "a", "b"}, Columns("fraud", []string{"a", "fraud", "b", "a"}))
	assert.Equal(t, []string{"a"}, Columns("", []string{"a"}))
}

var (
	claims    = CatalogInfo{Catalog: "AwsDataCatalog", Database: "sagemaker_featurestore", TableName: "claims_123"}
	customers = CatalogInfo{Catalog: "AwsDataCatalog", Database: "sagemaker_featurestore", TableName: "customers_456"}
)

func TestTrainingQuery(t *testing.T) {
	q := TrainingQuery(claims, customers, "fraud", []string{"incident_severity", "customer_age"})

	assert.Equal(t, "AwsDataCatalog", q.Catalog)
	assert.Equal(t, "sagemaker_featurestore", q.Database)
	assert.Equal(t,
		`SELECT DISTINCT "fraud", "incident_severity", "customer_age" FROM "claims_123" claims LEFT JOIN "customers_456" customers ON claims.policy_id = customers.policy_id`,
		q.QueryString)

	again := TrainingQuery(claims, customers, "fraud", []string{"incident_severity", "customer_age"})
	assert.Equal(t, q, again)
}

func TestTransformQuery(t *testing.T) {
	q := TransformQuery(claims, customers, []string{"incident_severity"})
	assert.True(t, strings.HasPrefix(q.QueryString, `SELECT DISTINCT claims.policy_id, "incident_severity" FROM "claims_123"`))
}

type fakeDescribe struct {
	tables map[string]string
}

func (f fakeDescribe) DescribeFeatureGroup(_ context.Context, in *sagemaker.DescribeFeatureGroupInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeFeatureGroupOutput, error) {
	table, ok := f.tables[aws.ToString(in.FeatureGroupName)]
	if !ok {
		return nil, errors.New("ResourceNotFound")
	}
	return &sagemaker.DescribeFeatureGroupOutput{
		OfflineStoreConfig: &types.OfflineStoreConfig{
			DataCatalogConfig: &types.DataCatalogConfig{
				Catalog:   aws.String("AwsDataCatalog"),
				Database:  aws.String("sagemaker_featurestore"),
				TableName: aws.String(table),
			},
		},
	}, nil
}

func TestResolver_BuildTrainingQuery(t *testing.T) {
	r := NewResolver(fakeDescribe{tables: map[string]string{
		"demo-claims":    "claims_123",
		"demo-customers": "customers_456",
	}})

	q, err := r.BuildTrainingQuery(context.Background(), "demo-claims", "demo-customers", "fraud", []string{"customer_age"})
	require.NoError(t, err)
	assert.Contains(t, q.QueryString, `FROM "claims_123" claims LEFT JOIN "customers_456" customers`)

	_, err = r.BuildTransformQuery(context.Background(), "demo-claims", "missing", nil)
	assert.Error(t, err)
}

func TestVector(t *testing.T) {
	claims := Record{"a": "1", "b": "2"}
	customers := Record{"b": "20", "c": "3"}

	got, err := Vector([]string{"c", "a", "b"}, claims, customers)
	require.NoError(t, err)
	assert.Equal(t, "3,1,2", got)

	_, err = Vector([]string{"missing"}, claims)
	assert.Error(t, err)
}

func TestInferenceColumns(t *testing.T) {
	assert.Len(t, InferenceColumns, 45)
	assert.Equal(t, "incident_severity", InferenceColumns[0])
	assert.Equal(t, "policy_state_id", InferenceColumns[44])
}

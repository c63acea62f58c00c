package scoredao

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// DefaultLimit caps both the page size and the number of items returned by Lookup.
const DefaultLimit = 10

// Record is one batch transform score keyed by policy.
type Record struct {
	PolicyID string  `ddb:"hash" dynamodbav:"policy_id" json:"policy_id"`
	Score    float64 `dynamodbav:"score" json:"score"`
}

// DAO provides access to a batch scores table
type DAO struct {
	client    dynamodb.QueryAPIClient
	table     *ddb.Table
	tableName string
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	return &DAO{
		client:    client,
		table:     db.MustTable(tableName, &Record{}),
		tableName: tableName,
	}
}

// TableName returns the underlying table name
func (d *DAO) TableName() string {
	return d.tableName
}

// Put writes a score record
func (d *DAO) Put(ctx context.Context, record Record) error {
	if record.PolicyID == "" {
		return fmt.Errorf("policy_id is required")
	}
	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to put score %s: %w", record.PolicyID, err)
	}
	return nil
}

// Get returns the score for policyID or errors.ErrRecordNotFound
func (d *DAO) Get(ctx context.Context, policyID string) (Record, error) {
	var record Record
	err := d.table.Get(policyID).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("%w: %s", errors.ErrRecordNotFound, policyID)
		}
		return Record{}, fmt.Errorf("failed to get score %s: %w", policyID, err)
	}
	if record.PolicyID == "" {
		return Record{}, fmt.Errorf("%w: %s", errors.ErrRecordNotFound, policyID)
	}
	return record, nil
}

// Lookup returns up to limit raw items for policyID with all attributes. Items are
// decoded generically so extra columns written by the loader are preserved.
func (d *DAO) Lookup(ctx context.Context, policyID string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("policy_id = :policy_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":policy_id": &types.AttributeValueMemberS{Value: policyID},
		},
		Select: types.SelectAllAttributes,
		Limit:  aws.Int32(int32(limit)),
	})

	items := make([]map[string]any, 0, limit)
	for paginator.HasMorePages() && len(items) < limit {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var decoded []map[string]any
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode scores: %w", err)
		}
		items = append(items, decoded...)
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/sagemaker-mlops/internal/dao/scoredao"
)

// ScoresService reads and writes batch transform scores.
type ScoresService struct {
	client    *dynamodb.Client
	tableName string
	dao       *scoredao.DAO
}

func NewScoresService(ctx context.Context, tableName string) (*ScoresService, error) {
	if tableName == "" {
		return nil, fmt.Errorf("scores table name is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewScoresServiceWithClient(dynamodb.NewFromConfig(cfg), tableName), nil
}

// NewScoresServiceWithClient creates a ScoresService with a custom client and table name.
// This is useful for testing with local DynamoDB.
func NewScoresServiceWithClient(client *dynamodb.Client, tableName string) *ScoresService {
	return &ScoresService{
		client:    client,
		tableName: tableName,
		dao:       scoredao.New(client, tableName),
	}
}

// GetTableName returns the table name.
func (s *ScoresService) GetTableName() string {
	return s.tableName
}

// PutScore writes one score
func (s *ScoresService) PutScore(ctx context.Context, policyID string, score float64) error {
	return s.dao.Put(ctx, scoredao.Record{PolicyID: policyID, Score: score})
}

// GetScore returns the typed score for a policy
func (s *ScoresService) GetScore(ctx context.Context, policyID string) (scoredao.Record, error) {
	return s.dao.Get(ctx, policyID)
}

// Lookup returns up to limit raw items for a policy
func (s *ScoresService) Lookup(ctx context.Context, policyID string, limit int) ([]map[string]any, error) {
	return s.dao.Lookup(ctx, policyID, limit)
}

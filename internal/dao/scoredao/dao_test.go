package scoredao

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/ddb/v2/ddbtest"
	"github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
)

type Data struct {
	DAO *DAO
}

func setup(t *testing.T) (ctx context.Context, data Data, cleanup func()) {
	ctx = context.Background()

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-west-2"),
		config.WithBaseEndpoint("http://localhost:8000"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("blah", "blah", ""),
		),
	)
	assert.NoError(t, err)

	var (
		client    = dynamodb.NewFromConfig(cfg)
		db        = ddb.New(client)
		tableName = fmt.Sprintf("scores-test-%v", ksuid.New().String())
		table     = db.MustTable(tableName, Record{})
		dao       = New(client, tableName)
	)

	err = table.CreateTableIfNotExists(ctx)
	assert.NoError(t, err)

	return ctx, Data{DAO: dao}, func() {
		_ = table.DeleteTableIfExists(ctx)
	}
}

func TestDAO(t *testing.T) {
	ddbtest.WithTable[Data](t, setup, func(t *testing.T, ctx context.Context, data Data) {
		dao := data.DAO

		t.Run("Put_Get", func(t *testing.T) {
			err := dao.Put(ctx, Record{PolicyID: "p-1", Score: 0.25})
			assert.NoError(t, err)

			got, err := dao.Get(ctx, "p-1")
			assert.NoError(t, err)
			assert.Equal(t, "p-1", got.PolicyID)
			assert.InDelta(t, 0.25, got.Score, 1e-9)
		})

		t.Run("Get_NotFound", func(t *testing.T) {
			_, err := dao.Get(ctx, "missing")
			assert.ErrorIs(t, err, errors.ErrRecordNotFound)
		})

		t.Run("Put_RequiresPolicyID", func(t *testing.T) {
			err := dao.Put(ctx, Record{Score: 1})
			assert.Error(t, err)
		})

		t.Run("Lookup", func(t *testing.T) {
			err := dao.Put(ctx, Record{PolicyID: "p-2", Score: 0.75})
			assert.NoError(t, err)

			items, err := dao.Lookup(ctx, "p-2", 0)
			assert.NoError(t, err)
			assert.Len(t, items, 1)
			assert.Equal(t, "p-2", items[0]["policy_id"])
			assert.Equal(t, 0.75, items[0]["score"])
		})

		t.Run("Lookup_Empty", func(t *testing.T) {
			items, err := dao.Lookup(ctx, "nobody", DefaultLimit)
			assert.NoError(t, err)
			assert.Empty(t, items)
		})
	})
}

package main

import (
	"testing"

	"github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferenceConfig(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		got, err := InferenceConfig(&services.Config{
			EndpointName:          "demo-endpoint",
			ContentType:           "text/csv",
			ClaimsFeatureGroup:    "demo-claims",
			CustomersFeatureGroup: "demo-customers",
		})
		require.NoError(t, err)
		assert.Equal(t, "demo-endpoint", got.EndpointName)
		assert.Equal(t, "demo-claims", got.ClaimsFeatureGroup)
		assert.Equal(t, "demo-customers", got.CustomersFeatureGroup)
	})

	t.Run("missing feature group", func(t *testing.T) {
		_, err := InferenceConfig(&services.Config{EndpointName: "demo-endpoint", ClaimsFeatureGroup: "demo-claims"})
		assert.ErrorIs(t, err, errors.ErrMissingConfiguration)
	})
}

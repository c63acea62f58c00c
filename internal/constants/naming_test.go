package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructFromPipeline(t *testing.T) {
	tests := []struct {
		name      string
		projectID string
		pipeline  string
		want      string
	}{
		{
			name:      "strips prefix",
			projectID: "p-abc123",
			pipeline:  "sagemaker-p-abc123-BuildPipeline",
			want:      "BuildPipeline",
		},
		{
			name:      "other project left alone",
			projectID: "p-abc123",
			pipeline:  "sagemaker-p-zzz-BuildPipeline",
			want:      "sagemaker-p-zzz-BuildPipeline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstructFromPipeline(tt.projectID, tt.pipeline))
		})
	}
}

func TestParameterNames(t *testing.T) {
	assert.Equal(t, "/sagemaker-demo/BuildPipeline/AutoApprovalFlag", ApprovalFlagName("demo", "BuildPipeline"))
	assert.Equal(t, "/sagemaker-demo/BuildPipeline/CodePipelineARN", PipelineARNName("demo", "BuildPipeline"))
	assert.Equal(t, "/sagemaker-demo/fg-claims", ResourceParamName("demo", "fg-claims"))
	assert.Equal(t,
		"arn:aws:iam::123456789012:role/service-role/AmazonSageMakerServiceCatalogProductsUseRole",
		ProductsUseRoleARN("", "123456789012"))
}

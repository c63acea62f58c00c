package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/approval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	calls []*codepipeline.PutApprovalResultInput
}

func (f *fakePipeline) PutApprovalResult(ctx context.Context, params *codepipeline.PutApprovalResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutApprovalResultOutput, error) {
	f.calls = append(f.calls, params)
	return &codepipeline.PutApprovalResultOutput{}, nil
}

type fakeFlags map[string]string

func (f fakeFlags) GetParameterFresh(ctx context.Context, name string) (string, error) {
	return f[name], nil
}

func message(t *testing.T, pipeline string) string {
	data, err := json.Marshal(approval.Notification{
		Approval: approval.Request{
			Token:        "token",
			PipelineName: pipeline,
			StageName:    "Synth",
			ActionName:   "Approval",
		},
	})
	require.NoError(t, err)
	return string(data)
}

func TestHandleSNSEvent(t *testing.T) {
	pipeline := &fakePipeline{}
	flags := fakeFlags{
		"/sagemaker-demo/BuildPipeline/AutoApprovalFlag":   "1",
		"/sagemaker-demo/ServingPipeline/AutoApprovalFlag": "0",
	}
	handler := &Handler{gate: approval.New(pipeline, flags, "demo", "p-123")}

	event := events.SNSEvent{
		Records: []events.SNSEventRecord{
			{SNS: events.SNSEntity{MessageID: "1", Message: message(t, "sagemaker-p-123-BuildPipeline")}},
			{SNS: events.SNSEntity{MessageID: "2", Message: message(t, "sagemaker-p-123-ServingPipeline")}},
			{SNS: events.SNSEntity{MessageID: "3", Message: "not json"}},
		},
	}

	ctx := zerolog.Nop().WithContext(context.Background())
	outcomes, err := handler.HandleSNSEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, []approval.Outcome{
		approval.OutcomeApproved,
		approval.OutcomeDisabled,
		approval.OutcomeMalformed,
	}, outcomes)
	require.Len(t, pipeline.calls, 1)
	assert.Equal(t, "sagemaker-p-123-BuildPipeline", *pipeline.calls[0].PipelineName)
}

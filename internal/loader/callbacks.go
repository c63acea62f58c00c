package loader

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
)

const (
	FinalStatusName    = "final_status"
	FinalStatusMessage = "Glue Job finished."
)

// CallbackAPI is the subset of SageMaker used to complete a pipeline callback step.
type CallbackAPI interface {
	SendPipelineExecutionStepSuccess(ctx context.Context, params *sagemaker.SendPipelineExecutionStepSuccessInput, optFns ...func(*sagemaker.Options)) (*sagemaker.SendPipelineExecutionStepSuccessOutput, error)
	SendPipelineExecutionStepFailure(ctx context.Context, params *sagemaker.SendPipelineExecutionStepFailureInput, optFns ...func(*sagemaker.Options)) (*sagemaker.SendPipelineExecutionStepFailureOutput, error)
}

// Callbacks reports loader outcomes to the waiting pipeline step.
type Callbacks struct {
	client CallbackAPI
}

func NewCallbacks(client CallbackAPI) *Callbacks {
	return &Callbacks{client: client}
}

// Succeed marks the callback step successful with final_status output.
func (c *Callbacks) Succeed(ctx context.Context, token string) error {
	_, err := c.client.SendPipelineExecutionStepSuccess(ctx, &sagemaker.SendPipelineExecutionStepSuccessInput{
		CallbackToken: aws.String(token),
		OutputParameters: []types.OutputParameter{
			{Name: aws.String(FinalStatusName), Value: aws.String(FinalStatusMessage)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send step success: %w", err)
	}
	return nil
}

// Fail marks the callback step failed with reason.
func (c *Callbacks) Fail(ctx context.Context, token, reason string) error {
	_, err := c.client.SendPipelineExecutionStepFailure(ctx, &sagemaker.SendPipelineExecutionStepFailureInput{
		CallbackToken: aws.String(token),
		FailureReason: aws.String(reason),
	})
	if err != nil {
		return fmt.Errorf("failed to send step failure: %w", err)
	}
	return nil
}

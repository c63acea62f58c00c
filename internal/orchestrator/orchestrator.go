package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/segmentio/ksuid"
)

// SFNAPI is the subset of Step Functions used by the orchestrator.
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	sfn.ListExecutionsAPIClient
}

// Execution summarizes one state machine execution.
type Execution struct {
	Name      string
	ARN       string
	Status    string
	StartDate string
	StopDate  string
}

// Orchestrator manages loader state machine executions
type Orchestrator struct {
	sfnClient       SFNAPI
	stateMachineArn string
}

// New creates a new Orchestrator instance
func New(sfnClient SFNAPI, stateMachineArn string) *Orchestrator {
	return &Orchestrator{
		sfnClient:       sfnClient,
		stateMachineArn: stateMachineArn,
	}
}

// ExecutionName returns a unique execution name for the given callback token.
func ExecutionName(prefix string) string {
	id := ksuid.New().String()
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s-%s", prefix, id)
}

// StartExecution starts a loader execution and returns its ARN
func (o *Orchestrator) StartExecution(ctx context.Context, input models.LoaderInput) (string, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal step function input: %w", err)
	}

	result, err := o.sfnClient.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(o.stateMachineArn),
		Name:            aws.String(ExecutionName("load")),
		Input:           aws.String(string(inputJSON)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start step function execution: %w", err)
	}

	return aws.ToString(result.ExecutionArn), nil
}

// ListExecutions returns up to limit of the most recent executions.
func (o *Orchestrator) ListExecutions(ctx context.Context, limit int) ([]Execution, error) {
	var executions []Execution
	paginator := sfn.NewListExecutionsPaginator(o.sfnClient, &sfn.ListExecutionsInput{
		StateMachineArn: aws.String(o.stateMachineArn),
	})
	for paginator.HasMorePages() && len(executions) < limit {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list executions: %w", err)
		}
		for _, item := range page.Executions {
			e := Execution{
				Name:   aws.ToString(item.Name),
				ARN:    aws.ToString(item.ExecutionArn),
				Status: string(item.Status),
			}
			if item.StartDate != nil {
				e.StartDate = item.StartDate.Format("2006-01-02 15:04:05")
			}
			if item.StopDate != nil {
				e.StopDate = item.StopDate.Format("2006-01-02 15:04:05")
			}
			executions = append(executions, e)
			if len(executions) == limit {
				break
			}
		}
	}
	return executions, nil
}

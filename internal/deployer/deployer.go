// Package deployer creates or updates CloudFormation stacks and reports their status.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	mlerrors "github.com/savaki/sagemaker-mlops/internal/errors"
)

const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
	OperationNone   = "NONE"
)

// maxFailureEvents bounds the events attached to a failed status.
const maxFailureEvents = 10

// CloudFormationAPI is the subset of CloudFormation used to deploy stacks.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// Request describes one stack deployment. Exactly one of TemplateURL and TemplateBody
// should be set.
type Request struct {
	StackName    string
	TemplateURL  string
	TemplateBody string
	Parameters   []types.Parameter
	Tags         map[string]string
}

type Result struct {
	StackName string
	StackID   string
	Operation string
}

// Status is the current state of a stack. Events holds the most recent resource
// failures when the stack is in a failed state.
type Status struct {
	StackName string
	Status    string
	Reason    string
	Failed    bool
	Events    []Event
}

type Event struct {
	LogicalID string
	Status    string
	Reason    string
}

type Deployer struct {
	client CloudFormationAPI
}

func New(client CloudFormationAPI) *Deployer {
	return &Deployer{client: client}
}

// Deploy creates the stack when it does not exist and updates it otherwise. An
// update with no changes succeeds with OperationNone.
func (d *Deployer) Deploy(ctx context.Context, req Request) (Result, error) {
	logger := zerolog.Ctx(ctx).With().Str("stack_name", req.StackName).Logger()

	exists, err := d.exists(ctx, req.StackName)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check stack %s: %w", req.StackName, err)
	}

	var result Result
	if exists {
		result, err = d.update(ctx, req)
	} else {
		result, err = d.create(ctx, req)
	}
	if err != nil {
		return Result{}, err
	}

	logger.Info().
		Str("operation", result.Operation).
		Str("stack_id", result.StackID).
		Msg("Stack deployment submitted")
	return result, nil
}

func (d *Deployer) exists(ctx context.Context, stackName string) (bool, error) {
	_, err := d.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Deployer) create(ctx context.Context, req Request) (Result, error) {
	out, err := d.client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(req.StackName),
		TemplateURL:  optional(req.TemplateURL),
		TemplateBody: optional(req.TemplateBody),
		Parameters:   req.Parameters,
		Capabilities: capabilities,
		Tags:         tags(req.Tags),
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stack %s: %w", req.StackName, err)
	}
	return Result{StackName: req.StackName, StackID: aws.ToString(out.StackId), Operation: OperationCreate}, nil
}

func (d *Deployer) update(ctx context.Context, req Request) (Result, error) {
	out, err := d.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(req.StackName),
		TemplateURL:  optional(req.TemplateURL),
		TemplateBody: optional(req.TemplateBody),
		Parameters:   req.Parameters,
		Capabilities: capabilities,
		Tags:         tags(req.Tags),
	})
	if err != nil {
		if isNoUpdates(err) {
			zerolog.Ctx(ctx).Info().Str("stack_name", req.StackName).Msg("No updates needed for stack")
			return Result{StackName: req.StackName, StackID: req.StackName, Operation: OperationNone}, nil
		}
		return Result{}, fmt.Errorf("failed to update stack %s: %w", req.StackName, err)
	}
	return Result{StackName: req.StackName, StackID: aws.ToString(out.StackId), Operation: OperationUpdate}, nil
}

// Wait blocks until the operation in result completes or maxWait elapses.
func (d *Deployer) Wait(ctx context.Context, result Result, maxWait time.Duration) error {
	in := &cloudformation.DescribeStacksInput{StackName: aws.String(result.StackName)}
	switch result.Operation {
	case OperationCreate:
		return cloudformation.NewStackCreateCompleteWaiter(d.client).Wait(ctx, in, maxWait)
	case OperationUpdate:
		return cloudformation.NewStackUpdateCompleteWaiter(d.client).Wait(ctx, in, maxWait)
	}
	return nil
}

// Status describes the stack. Failure events are looked up only for failed stacks
// and a lookup error there is logged, not returned.
func (d *Deployer) Status(ctx context.Context, stackName string) (Status, error) {
	logger := zerolog.Ctx(ctx)

	out, err := d.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isNotFound(err) {
			return Status{}, fmt.Errorf("%w: %s", mlerrors.ErrStackNotFound, stackName)
		}
		return Status{}, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return Status{}, fmt.Errorf("%w: %s", mlerrors.ErrStackNotFound, stackName)
	}

	stack := out.Stacks[0]
	status := Status{
		StackName: stackName,
		Status:    string(stack.StackStatus),
		Reason:    aws.ToString(stack.StackStatusReason),
		Failed:    IsFailed(stack.StackStatus),
	}
	if status.Failed {
		events, err := d.failureEvents(ctx, stackName)
		if err != nil {
			logger.Error().Err(err).Str("stack_name", stackName).Msg("Failed to get stack events")
		}
		status.Events = events
	}
	return status, nil
}

func (d *Deployer) failureEvents(ctx context.Context, stackName string) ([]Event, error) {
	out, err := d.client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, e := range out.StackEvents {
		if len(events) == maxFailureEvents {
			break
		}
		switch e.ResourceStatus {
		case types.ResourceStatusCreateFailed, types.ResourceStatusUpdateFailed, types.ResourceStatusDeleteFailed:
			events = append(events, Event{
				LogicalID: aws.ToString(e.LogicalResourceId),
				Status:    string(e.ResourceStatus),
				Reason:    aws.ToString(e.ResourceStatusReason),
			})
		}
	}
	return events, nil
}

var failedStatuses = []types.StackStatus{
	types.StackStatusCreateFailed,
	types.StackStatusUpdateFailed,
	types.StackStatusDeleteFailed,
	types.StackStatusRollbackFailed,
	types.StackStatusUpdateRollbackFailed,
	types.StackStatusRollbackComplete,
	types.StackStatusUpdateRollbackComplete,
}

// IsFailed reports whether the stack ended in a failed or rolled back state.
func IsFailed(status types.StackStatus) bool {
	return slices.Contains(failedStatuses, status)
}

var capabilities = []types.Capability{
	types.CapabilityCapabilityIam,
	types.CapabilityCapabilityNamedIam,
	types.CapabilityCapabilityAutoExpand,
}

func tags(m map[string]string) []types.Tag {
	var tt []types.Tag
	for k, v := range m {
		tt = append(tt, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	slices.SortFunc(tt, func(a, b types.Tag) int { return strings.Compare(*a.Key, *b.Key) })
	return tt
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "No updates")
	}
	return false
}

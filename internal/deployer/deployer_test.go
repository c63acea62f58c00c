package deployer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	mlerrors "github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCFN struct {
	stacks    map[string]types.StackStatus
	events    []types.StackEvent
	updateErr error
	eventsErr error

	created []*cloudformation.CreateStackInput
	updated []*cloudformation.UpdateStackInput
}

func notFound(name string) error {
	return &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id " + name + " does not exist"}
}

func (f *fakeCFN) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	status, ok := f.stacks[*in.StackName]
	if !ok {
		return nil, notFound(*in.StackName)
	}
	return &cloudformation.DescribeStacksOutput{
		Stacks: []types.Stack{{
			StackName:         in.StackName,
			StackStatus:       status,
			StackStatusReason: aws.String("reason"),
		}},
	}, nil
}

func (f *fakeCFN) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.created = append(f.created, in)
	return &cloudformation.CreateStackOutput{StackId: aws.String("arn:stack/" + *in.StackName)}, nil
}

func (f *fakeCFN) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updated = append(f.updated, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cloudformation.UpdateStackOutput{StackId: aws.String("arn:stack/" + *in.StackName)}, nil
}

func (f *fakeCFN) DescribeStackEvents(context.Context, *cloudformation.DescribeStackEventsInput, ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return &cloudformation.DescribeStackEventsOutput{StackEvents: f.events}, nil
}

func TestDeployer_Deploy(t *testing.T) {
	ctx := context.Background()
	params := []types.Parameter{{ParameterKey: aws.String("PortfolioOwner"), ParameterValue: aws.String("ops")}}

	t.Run("create", func(t *testing.T) {
		client := &fakeCFN{}
		result, err := New(client).Deploy(ctx, Request{
			StackName:   "catalog",
			TemplateURL: "https://bucket.s3.amazonaws.com/catalog.json",
			Parameters:  params,
			Tags:        map[string]string{"b": "2", "a": "1"},
		})
		require.NoError(t, err)
		assert.Equal(t, OperationCreate, result.Operation)
		assert.Equal(t, "arn:stack/catalog", result.StackID)

		require.Len(t, client.created, 1)
		in := client.created[0]
		assert.Equal(t, "https://bucket.s3.amazonaws.com/catalog.json", aws.ToString(in.TemplateURL))
		assert.Nil(t, in.TemplateBody)
		assert.Equal(t, params, in.Parameters)
		assert.Contains(t, in.Capabilities, types.CapabilityCapabilityNamedIam)
		require.Len(t, in.Tags, 2)
		assert.Equal(t, "a", *in.Tags[0].Key)
	})

	t.Run("update", func(t *testing.T) {
		client := &fakeCFN{stacks: map[string]types.StackStatus{"catalog": types.StackStatusCreateComplete}}
		result, err := New(client).Deploy(ctx, Request{StackName: "catalog", TemplateBody: "{}"})
		require.NoError(t, err)
		assert.Equal(t, OperationUpdate, result.Operation)
		assert.Empty(t, client.created)
		require.Len(t, client.updated, 1)
		assert.Equal(t, "{}", aws.ToString(client.updated[0].TemplateBody))
	})

	t.Run("no updates", func(t *testing.T) {
		client := &fakeCFN{
			stacks:    map[string]types.StackStatus{"catalog": types.StackStatusUpdateComplete},
			updateErr: &smithy.GenericAPIError{Code: "ValidationError", Message: "No updates are to be performed."},
		}
		result, err := New(client).Deploy(ctx, Request{StackName: "catalog", TemplateBody: "{}"})
		require.NoError(t, err)
		assert.Equal(t, OperationNone, result.Operation)
	})

	t.Run("update error", func(t *testing.T) {
		client := &fakeCFN{
			stacks:    map[string]types.StackStatus{"catalog": types.StackStatusUpdateComplete},
			updateErr: errors.New("boom"),
		}
		_, err := New(client).Deploy(ctx, Request{StackName: "catalog", TemplateBody: "{}"})
		assert.ErrorContains(t, err, "boom")
	})
}

func TestDeployer_Status(t *testing.T) {
	ctx := context.Background()
	failed := func(id string) types.StackEvent {
		return types.StackEvent{
			LogicalResourceId:    aws.String(id),
			ResourceStatus:       types.ResourceStatusCreateFailed,
			ResourceStatusReason: aws.String(id + " failed"),
		}
	}

	t.Run("healthy", func(t *testing.T) {
		client := &fakeCFN{
			stacks: map[string]types.StackStatus{"demo": types.StackStatusUpdateComplete},
			events: []types.StackEvent{failed("Old")},
		}
		status, err := New(client).Status(ctx, "demo")
		require.NoError(t, err)
		assert.Equal(t, "UPDATE_COMPLETE", status.Status)
		assert.False(t, status.Failed)
		assert.Empty(t, status.Events)
	})

	t.Run("rolled back", func(t *testing.T) {
		events := []types.StackEvent{
			{LogicalResourceId: aws.String("Ok"), ResourceStatus: types.ResourceStatusCreateComplete},
		}
		for i := 0; i < 12; i++ {
			events = append(events, failed("Bucket"))
		}
		client := &fakeCFN{
			stacks: map[string]types.StackStatus{"demo": types.StackStatusRollbackComplete},
			events: events,
		}
		status, err := New(client).Status(ctx, "demo")
		require.NoError(t, err)
		assert.True(t, status.Failed)
		assert.Equal(t, "reason", status.Reason)
		require.Len(t, status.Events, maxFailureEvents)
		assert.Equal(t, Event{LogicalID: "Bucket", Status: "CREATE_FAILED", Reason: "Bucket failed"}, status.Events[0])
	})

	t.Run("events error is not fatal", func(t *testing.T) {
		client := &fakeCFN{
			stacks:    map[string]types.StackStatus{"demo": types.StackStatusCreateFailed},
			eventsErr: errors.New("throttled"),
		}
		status, err := New(client).Status(ctx, "demo")
		require.NoError(t, err)
		assert.True(t, status.Failed)
		assert.Empty(t, status.Events)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := New(&fakeCFN{}).Status(ctx, "demo")
		assert.ErrorIs(t, err, mlerrors.ErrStackNotFound)
	})
}

func TestIsFailed(t *testing.T) {
	tests := map[types.StackStatus]bool{
		types.StackStatusCreateComplete:         false,
		types.StackStatusUpdateInProgress:       false,
		types.StackStatusCreateFailed:           true,
		types.StackStatusUpdateRollbackComplete: true,
		types.StackStatusRollbackComplete:       true,
	}
	for status, want := range tests {
		assert.Equal(t, want, IsFailed(status), string(status))
	}
}

func TestDeployer_Wait(t *testing.T) {
	client := &fakeCFN{stacks: map[string]types.StackStatus{"catalog": types.StackStatusCreateComplete}}
	d := New(client)

	assert.NoError(t, d.Wait(context.Background(), Result{StackName: "catalog", Operation: OperationCreate}, time.Minute))
	assert.NoError(t, d.Wait(context.Background(), Result{StackName: "catalog", Operation: OperationNone}, time.Minute))
}

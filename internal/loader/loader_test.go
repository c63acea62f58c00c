package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGlue struct {
	mu       sync.Mutex
	states   []string
	calls    int
	getErr   error
	startErr error
	started  *glue.StartJobRunInput
}

func (f *fakeGlue) StartJobRun(_ context.Context, params *glue.StartJobRunInput, _ ...func(*glue.Options)) (*glue.StartJobRunOutput, error) {
	f.started = params
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &glue.StartJobRunOutput{JobRunId: aws.String("jr_123")}, nil
}

func (f *fakeGlue) GetJobRun(_ context.Context, _ *glue.GetJobRunInput, _ ...func(*glue.Options)) (*glue.GetJobRunOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	i := f.calls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.calls++
	return &glue.GetJobRunOutput{JobRun: &gluetypes.JobRun{JobRunState: gluetypes.JobRunState(f.states[i])}}, nil
}

type fakeCallbacks struct {
	successes []string
	failures  []string
	reasons   []string
	err       error
}

func (f *fakeCallbacks) SendPipelineExecutionStepSuccess(_ context.Context, params *sagemaker.SendPipelineExecutionStepSuccessInput, _ ...func(*sagemaker.Options)) (*sagemaker.SendPipelineExecutionStepSuccessOutput, error) {
	f.successes = append(f.successes, aws.ToString(params.CallbackToken))
	return &sagemaker.SendPipelineExecutionStepSuccessOutput{}, f.err
}

func (f *fakeCallbacks) SendPipelineExecutionStepFailure(_ context.Context, params *sagemaker.SendPipelineExecutionStepFailureInput, _ ...func(*sagemaker.Options)) (*sagemaker.SendPipelineExecutionStepFailureOutput, error) {
	f.failures = append(f.failures, aws.ToString(params.CallbackToken))
	f.reasons = append(f.reasons, aws.ToString(params.FailureReason))
	return &sagemaker.SendPipelineExecutionStepFailureOutput{}, f.err
}

type fakeStarter struct {
	inputs []models.LoaderInput
	err    error
}

func (f *fakeStarter) StartExecution(_ context.Context, input models.LoaderInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inputs = append(f.inputs, input)
	return "arn:aws:states:us-east-1:123456789012:execution:loader:x", nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestFromGlue(t *testing.T) {
	tests := map[string]State{
		"STARTING":  Running,
		"RUNNING":   Running,
		"STOPPING":  Running,
		"WAITING":   Running,
		"SUCCEEDED": Succeeded,
		"FAILED":    Failed,
		"ERROR":     Failed,
		"TIMEOUT":   Failed,
		"STOPPED":   Failed,
		"EXPIRED":   Failed,
		"":          Submitted,
	}
	for glueState, want := range tests {
		t.Run(glueState, func(t *testing.T) {
			assert.Equal(t, want, FromGlue(glueState))
		})
	}
}

func TestJob_Observe(t *testing.T) {
	job := NewJob("load", "jr_1", "tok")
	assert.Equal(t, Submitted, job.State())

	assert.True(t, job.Observe("RUNNING"))
	assert.False(t, job.Observe("RUNNING"), "same state is idempotent")
	assert.True(t, job.Observe("SUCCEEDED"))
	assert.False(t, job.Observe("FAILED"), "terminal states absorb")
	assert.Equal(t, Succeeded, job.State())
	assert.False(t, job.Fail())
}

func TestJob_Once(t *testing.T) {
	job := NewJob("load", "jr_1", "tok")
	var n int
	for i := 0; i < 3; i++ {
		job.Once(func() { n++ })
	}
	assert.Equal(t, 1, n)
}

func TestPoller_Run(t *testing.T) {
	tests := []struct {
		name        string
		states      []string
		maxAttempts int
		wantState   State
		wantErr     bool
		wantSuccess int
		wantReason  string
	}{
		{name: "succeeds", states: []string{"STARTING", "RUNNING", "SUCCEEDED"}, maxAttempts: 10, wantState: Succeeded, wantSuccess: 1},
		{name: "fails", states: []string{"RUNNING", "FAILED"}, maxAttempts: 10, wantState: Failed, wantReason: "unknown reason"},
		{name: "stopped", states: []string{"RUNNING", "STOPPING", "STOPPED"}, maxAttempts: 10, wantState: Failed, wantReason: "glue job run ended in STOPPED"},
		{name: "times out", states: []string{"RUNNING"}, maxAttempts: 3, wantState: Failed, wantErr: true, wantReason: "timeout"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGlue{states: tc.states}
			cb := &fakeCallbacks{}
			p := NewPoller(g, NewCallbacks(cb))
			p.MaxAttempts = tc.maxAttempts
			p.Sleep = noSleep

			job, err := p.Run(context.Background(), models.JobDetails{JobName: "load", JobRunID: "jr_1", Token: "tok"})
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantState, job.State())
			assert.Len(t, cb.successes, tc.wantSuccess)
			if tc.wantReason != "" {
				assert.Equal(t, []string{tc.wantReason}, cb.reasons)
			} else {
				assert.Empty(t, cb.failures)
			}
		})
	}
}

func TestPoller_LookupError(t *testing.T) {
	g := &fakeGlue{getErr: errors.New("boom")}
	cb := &fakeCallbacks{}
	p := NewPoller(g, NewCallbacks(cb))
	p.Sleep = noSleep

	job, err := p.Run(context.Background(), models.JobDetails{JobName: "load", JobRunID: "jr_1", Token: "tok"})
	assert.Error(t, err)
	assert.Equal(t, Failed, job.State())
	assert.Len(t, cb.failures, 1)
}

func loaderInput() models.LoaderInput {
	return models.LoaderInput{
		StatusCode: 200,
		Body: models.LoaderBody{
			Bucket:         "bucket",
			KeysRawProc:    []string{"transform/out/part-0.csv.out"},
			TargetDDBTable: "scores",
			TargetJob:      "glue-loader",
			Token:          "tok",
		},
		CallbackToken: "tok",
	}
}

func TestSubmitter_Submit(t *testing.T) {
	g := &fakeGlue{}
	cb := &fakeCallbacks{}
	s := NewSubmitter(g, NewCallbacks(cb))

	reply, err := s.Submit(context.Background(), loaderInput())
	require.NoError(t, err)
	assert.Equal(t, models.JobDetails{JobName: "glue-loader", JobRunID: "jr_123", JobStatus: "STARTED", Token: "tok"}, reply.JobDetails)

	require.NotNil(t, g.started)
	assert.Equal(t, "glue-loader", aws.ToString(g.started.JobName))
	assert.Equal(t, 2.0, aws.ToFloat64(g.started.MaxCapacity))
	assert.Equal(t, "scores", g.started.Arguments["--TARGET_DDB_TABLE"])
	assert.Equal(t, "bucket", g.started.Arguments["--S3_BUCKET"])
	assert.Equal(t, "transform/out/part-0.csv.out", g.started.Arguments["--S3_PREFIX_PROCESSED"])
	assert.Equal(t, "job-bookmark-enable", g.started.Arguments["--job-bookmark-option"])
	assert.Empty(t, cb.failures)
}

func TestSubmitter_StartError(t *testing.T) {
	g := &fakeGlue{startErr: errors.New("throttled")}
	cb := &fakeCallbacks{}
	s := NewSubmitter(g, NewCallbacks(cb))

	_, err := s.Submit(context.Background(), loaderInput())
	assert.Error(t, err)
	assert.Equal(t, []string{"error"}, cb.reasons)
}

func TestStatusChecker_Check(t *testing.T) {
	tests := []struct {
		name        string
		state       string
		wantStatus  string
		wantSuccess int
		wantReasons []string
	}{
		{name: "starting", state: "STARTING", wantStatus: "RUNNING"},
		{name: "running", state: "RUNNING", wantStatus: "RUNNING"},
		{name: "waiting", state: "WAITING", wantStatus: "RUNNING"},
		{name: "succeeded", state: "SUCCEEDED", wantStatus: "SUCCEEDED", wantSuccess: 1},
		{name: "failed", state: "FAILED", wantStatus: "FAILED", wantReasons: []string{"unknown reason"}},
		{name: "stopped", state: "STOPPED", wantStatus: "FAILED", wantReasons: []string{"glue job run ended in STOPPED"}},
		{name: "timeout", state: "TIMEOUT", wantStatus: "FAILED", wantReasons: []string{"glue job run ended in TIMEOUT"}},
		{name: "error", state: "ERROR", wantStatus: "FAILED", wantReasons: []string{"glue job run ended in ERROR"}},
		{name: "expired", state: "EXPIRED", wantStatus: "FAILED", wantReasons: []string{"glue job run ended in EXPIRED"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGlue{states: []string{tc.state}}
			cb := &fakeCallbacks{}
			c := NewStatusChecker(g, NewCallbacks(cb))

			input := loaderInput()
			input.Body.Job = &models.InvokeReply{Payload: models.JobReply{JobDetails: models.JobDetails{
				JobName: "glue-loader", JobRunID: "jr_123", JobStatus: "STARTED", Token: "tok",
			}}}

			reply, err := c.Check(context.Background(), input)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, reply.JobDetails.JobStatus)
			assert.Equal(t, tc.state, reply.JobDetails.GlueStatus)
			assert.Len(t, cb.successes, tc.wantSuccess)
			assert.Equal(t, tc.wantReasons, cb.reasons)
		})
	}
}

// The poll loop in the state machine only exits on these two values.
func TestStatusChecker_TerminalStatesMatchChoice(t *testing.T) {
	for _, glueState := range []string{"SUCCEEDED", "FAILED", "ERROR", "TIMEOUT", "STOPPED", "EXPIRED"} {
		t.Run(glueState, func(t *testing.T) {
			c := NewStatusChecker(&fakeGlue{states: []string{glueState}}, NewCallbacks(&fakeCallbacks{}))

			input := loaderInput()
			input.Body.Job = &models.InvokeReply{Payload: models.JobReply{JobDetails: models.JobDetails{JobName: "glue-loader", JobRunID: "jr_123", Token: "tok"}}}

			reply, err := c.Check(context.Background(), input)
			require.NoError(t, err)
			assert.Contains(t, []string{Succeeded.String(), Failed.String()}, reply.JobDetails.JobStatus)
		})
	}
}

func TestStatusChecker_SuccessCallbackErrorIsLogged(t *testing.T) {
	g := &fakeGlue{states: []string{"SUCCEEDED"}}
	cb := &fakeCallbacks{err: errors.New("step already completed")}
	c := NewStatusChecker(g, NewCallbacks(cb))

	input := loaderInput()
	input.Body.Job = &models.InvokeReply{Payload: models.JobReply{JobDetails: models.JobDetails{JobName: "glue-loader", JobRunID: "jr_123", Token: "tok"}}}

	reply, err := c.Check(context.Background(), input)
	assert.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", reply.JobDetails.JobStatus)
}

func TestStatusChecker_LookupError(t *testing.T) {
	g := &fakeGlue{getErr: errors.New("no such run")}
	cb := &fakeCallbacks{}
	c := NewStatusChecker(g, NewCallbacks(cb))

	input := loaderInput()
	input.Body.Job = &models.InvokeReply{Payload: models.JobReply{JobDetails: models.JobDetails{JobName: "glue-loader", JobRunID: "jr_123", Token: "tok"}}}

	_, err := c.Check(context.Background(), input)
	assert.Error(t, err)
	require.Len(t, cb.reasons, 1)
	assert.Contains(t, cb.reasons[0], "no such run")
}

func TestExecutor_HandleSQS(t *testing.T) {
	starter := &fakeStarter{}
	cb := &fakeCallbacks{}
	e := NewExecutor(starter, NewCallbacks(cb), "scores", "glue-loader")

	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "1", Body: `{"token":"tok-1","arguments":{"bucket":"b","key_to_process":"k/1"}}`},
		{MessageId: "2", Body: `not json`},
	}}

	response, arns := e.HandleSQS(context.Background(), event)
	assert.Equal(t, []events.SQSBatchItemFailure{{ItemIdentifier: "2"}}, response.BatchItemFailures)
	assert.Len(t, arns, 1)
	require.Len(t, starter.inputs, 1)

	got := starter.inputs[0]
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, "tok-1", got.CallbackToken)
	assert.Equal(t, "tok-1", got.Body.Token)
	assert.Equal(t, []string{"k/1"}, got.Body.KeysRawProc)
	assert.Equal(t, "scores", got.Body.TargetDDBTable)
	assert.Equal(t, "glue-loader", got.Body.TargetJob)
}

func TestExecutor_StartFailureFailsCallback(t *testing.T) {
	starter := &fakeStarter{err: errors.New("state machine missing")}
	cb := &fakeCallbacks{}
	e := NewExecutor(starter, NewCallbacks(cb), "scores", "glue-loader")

	response, arns := e.HandleSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "1", Body: `{"token":"tok-1","arguments":{"bucket":"b","key_to_process":"k"}}`},
	}})
	assert.Empty(t, arns)
	assert.Equal(t, []events.SQSBatchItemFailure{{ItemIdentifier: "1"}}, response.BatchItemFailures)
	assert.Equal(t, []string{"tok-1"}, cb.failures)
	assert.Equal(t, []string{"Fatal error"}, cb.reasons)
}

func TestExecutor_HandleSQS_OnlyFailedRecordsReturn(t *testing.T) {
	starter := &fakeStarter{}
	e := NewExecutor(starter, NewCallbacks(&fakeCallbacks{}), "scores", "glue-loader")

	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "a", Body: `{"token":"tok-a","arguments":{"bucket":"b","key_to_process":"k/a"}}`},
		{MessageId: "b", Body: `{"token":`},
		{MessageId: "c", Body: `{"token":"tok-c","arguments":{"bucket":"b","key_to_process":"k/c"}}`},
		{MessageId: "d", Body: ``},
	}}

	response, arns := e.HandleSQS(context.Background(), event)
	assert.Len(t, arns, 2)
	assert.Len(t, starter.inputs, 2)
	assert.Equal(t, []events.SQSBatchItemFailure{{ItemIdentifier: "b"}, {ItemIdentifier: "d"}}, response.BatchItemFailures)

	response, _ = e.HandleSQS(context.Background(), events.SQSEvent{Records: event.Records[:1]})
	assert.Empty(t, response.BatchItemFailures)
}

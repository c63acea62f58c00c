package loader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/models"
)

// StatusChecker refreshes a job's status and completes the callback on terminal states.
type StatusChecker struct {
	glue      GlueAPI
	callbacks *Callbacks
}

func NewStatusChecker(glueClient GlueAPI, callbacks *Callbacks) *StatusChecker {
	return &StatusChecker{glue: glueClient, callbacks: callbacks}
}

// Check reads body.job.Payload.jobDetails, refreshes the run and reports terminal states.
// jobStatus carries the loader state (RUNNING, SUCCEEDED or FAILED) so every Glue
// failure state ends the poll loop. glueStatus keeps the raw Glue state.
func (c *StatusChecker) Check(ctx context.Context, input models.LoaderInput) (models.JobReply, error) {
	logger := zerolog.Ctx(ctx)

	if input.Body.Job == nil {
		return models.JobReply{}, fmt.Errorf("no job details in input")
	}
	details := input.Body.Job.Payload.JobDetails
	job := NewJob(details.JobName, details.JobRunID, details.Token)

	state, err := getJobRunState(ctx, c.glue, details.JobName, details.JobRunID)
	if err != nil {
		logger.Error().Err(err).Str("job", details.JobName).Msg("Failed to check job status")
		job.Fail()
		report(ctx, c.callbacks, job, err.Error())
		return models.JobReply{}, err
	}

	job.Observe(state)
	details.JobStatus = job.State().String()
	details.GlueStatus = state
	if job.State().Terminal() {
		report(ctx, c.callbacks, job, failureReason(state))
	}

	logger.Info().
		Str("job", details.JobName).
		Str("status", details.JobStatus).
		Str("glue_status", state).
		Msg("Checked job status")
	return models.JobReply{JobDetails: details}, nil
}

func failureReason(glueState string) string {
	if glueState == "FAILED" {
		return "unknown reason"
	}
	return fmt.Sprintf("glue job run ended in %s", glueState)
}

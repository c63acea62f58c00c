package loader

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/models"
)

// Submitter starts the Glue job for a loader execution.
type Submitter struct {
	glue      GlueAPI
	callbacks *Callbacks
}

func NewSubmitter(glueClient GlueAPI, callbacks *Callbacks) *Submitter {
	return &Submitter{glue: glueClient, callbacks: callbacks}
}

// Submit starts the job. On failure the pipeline step is failed with reason "error".
func (s *Submitter) Submit(ctx context.Context, input models.LoaderInput) (models.JobReply, error) {
	logger := zerolog.Ctx(ctx)
	body := input.Body

	reply, err := s.submit(ctx, body)
	if err != nil {
		logger.Error().Err(err).Str("job", body.TargetJob).Msg("Failed to submit Glue job")
		if cbErr := s.callbacks.Fail(ctx, body.Token, "error"); cbErr != nil {
			logger.Error().Err(cbErr).Msg("Failed to report submit failure")
		}
		return models.JobReply{}, err
	}

	logger.Info().
		Str("job", reply.JobDetails.JobName).
		Str("run_id", reply.JobDetails.JobRunID).
		Msg("Submitted Glue job")
	return reply, nil
}

func (s *Submitter) submit(ctx context.Context, body models.LoaderBody) (models.JobReply, error) {
	if len(body.KeysRawProc) == 0 {
		return models.JobReply{}, fmt.Errorf("no processed keys to load")
	}
	if body.TargetJob == "" {
		return models.JobReply{}, fmt.Errorf("no target job")
	}

	out, err := s.glue.StartJobRun(ctx, &glue.StartJobRunInput{
		JobName:     aws.String(body.TargetJob),
		Arguments:   JobArguments(body.Bucket, body.KeysRawProc[0], body.TargetDDBTable),
		MaxCapacity: aws.Float64(MaxCapacity),
	})
	if err != nil {
		return models.JobReply{}, fmt.Errorf("failed to start job run %s: %w", body.TargetJob, err)
	}

	return models.JobReply{
		JobDetails: models.JobDetails{
			JobName:   body.TargetJob,
			JobRunID:  aws.ToString(out.JobRunId),
			JobStatus: "STARTED",
			Token:     body.Token,
		},
	}, nil
}

package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/models"
)

const (
	DefaultInterval    = 15 * time.Second
	DefaultMaxAttempts = 60
)

// Poller drives a submitted job to a terminal state in bounded steps.
type Poller struct {
	Glue        GlueAPI
	Callbacks   *Callbacks
	Interval    time.Duration
	MaxAttempts int
	Sleep       func(ctx context.Context, d time.Duration) error
}

func NewPoller(glueClient GlueAPI, callbacks *Callbacks) *Poller {
	return &Poller{
		Glue:        glueClient,
		Callbacks:   callbacks,
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run polls details until the run is terminal, reporting the outcome exactly once.
func (p *Poller) Run(ctx context.Context, details models.JobDetails) (*Job, error) {
	logger := zerolog.Ctx(ctx).With().Str("job", details.JobName).Str("run_id", details.JobRunID).Logger()
	job := NewJob(details.JobName, details.JobRunID, details.Token)

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		state, err := getJobRunState(ctx, p.Glue, job.Name, job.RunID)
		if err != nil {
			job.Fail()
			report(ctx, p.Callbacks, job, err.Error())
			return job, err
		}

		if job.Observe(state) {
			logger.Info().Str("state", job.State().String()).Str("glue_state", state).Msg("Job state changed")
		}
		if job.State().Terminal() {
			report(ctx, p.Callbacks, job, failureReason(state))
			return job, nil
		}

		if attempt == p.MaxAttempts {
			break
		}
		if err := p.Sleep(ctx, p.Interval); err != nil {
			job.Fail()
			report(ctx, p.Callbacks, job, err.Error())
			return job, err
		}
	}

	job.Fail()
	err := fmt.Errorf("job %s did not finish after %d attempts", job.Name, p.MaxAttempts)
	report(ctx, p.Callbacks, job, "timeout")
	return job, err
}

// report answers the pipeline callback for a terminal job, at most once per job.
func report(ctx context.Context, callbacks *Callbacks, job *Job, reason string) {
	logger := zerolog.Ctx(ctx)
	job.Once(func() {
		if job.State() == Succeeded {
			if err := callbacks.Succeed(ctx, job.Token); err != nil {
				// the callback step may already be terminal
				logger.Info().Err(err).Str("job", job.Name).Msg("Callback step already completed")
			}
			return
		}
		if err := callbacks.Fail(ctx, job.Token, reason); err != nil {
			logger.Error().Err(err).Str("job", job.Name).Msg("Failed to report job failure")
		}
	})
}

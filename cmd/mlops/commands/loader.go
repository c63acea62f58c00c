package commands

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/loader"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/savaki/sagemaker-mlops/internal/orchestrator"
	"github.com/urfave/cli/v2"
)

var stateMachineFlag = &cli.StringFlag{
	Name:     "state-machine-arn",
	Usage:    "DynamoDB loader state machine ARN",
	Required: true,
	EnvVars:  []string{"state_machine_arn"},
}

func newOrchestrator(c *cli.Context) (*orchestrator.Orchestrator, *loader.Callbacks, error) {
	container, err := newContainer(c, "")
	if err != nil {
		return nil, nil, err
	}
	var (
		client    *sfn.Client
		callbacks *loader.Callbacks
	)
	if err := container.Invoke(func(s *sfn.Client, cb *loader.Callbacks) {
		client, callbacks = s, cb
	}); err != nil {
		return nil, nil, err
	}
	return orchestrator.New(client, c.String("state-machine-arn")), callbacks, nil
}

// LoaderCommand inspects and drives the batch score loader state machine.
func LoaderCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "loader",
		Usage: "Inspect or start DynamoDB loader executions",
		Subcommands: []*cli.Command{
			{
				Name:    "executions",
				Aliases: []string{"ls"},
				Usage:   "List recent executions",
				Flags: []cli.Flag{
					stateMachineFlag,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum executions to show",
						Value: 20,
					},
				},
				Action: func(c *cli.Context) error {
					o, _, err := newOrchestrator(c)
					if err != nil {
						return err
					}
					executions, err := o.ListExecutions(c.Context, c.Int("limit"))
					if err != nil {
						return err
					}
					rows := make([][]string, 0, len(executions))
					for _, e := range executions {
						rows = append(rows, []string{e.Name, e.Status, e.StartDate, e.StopDate})
					}
					renderTable([]string{"Name", "Status", "Started", "Stopped"}, rows)
					return nil
				},
			},
			{
				Name:  "start",
				Usage: "Start an execution for one batch transform output",
				Description: `Examples:
  mlops loader start --state-machine-arn arn:aws:states:... \
    --bucket sagemaker-p-1234-abc --key scoring/output/part-0.csv.out \
    --table mlopsdemo-batch-scoring --job sagemaker-p-1234-GlueJob --token $TOKEN`,
				Flags: []cli.Flag{
					stateMachineFlag,
					&cli.StringFlag{Name: "bucket", Usage: "Bucket of the scored output", Required: true},
					&cli.StringFlag{Name: "key", Usage: "Key of the scored output", Required: true},
					&cli.StringFlag{Name: "table", Usage: "Target DynamoDB table", Required: true, EnvVars: []string{"TARGET_DDB_TABLE"}},
					&cli.StringFlag{Name: "job", Usage: "Glue job name", Required: true, EnvVars: []string{"TARGET_GLUE_JOB"}},
					&cli.StringFlag{Name: "token", Usage: "Pipeline callback token", Required: true},
				},
				Action: func(c *cli.Context) error {
					o, callbacks, err := newOrchestrator(c)
					if err != nil {
						return err
					}
					executor := loader.NewExecutor(o, callbacks, c.String("table"), c.String("job"))
					input := executor.Input(models.CallbackMessage{
						Token: c.String("token"),
						Arguments: models.CallbackArguments{
							Bucket:       c.String("bucket"),
							KeyToProcess: c.String("key"),
						},
					})
					arn, err := o.StartExecution(c.Context, input)
					if err != nil {
						return err
					}
					logger.Info().Str("execution_arn", arn).Msg("Started loader execution")
					fmt.Println(arn)
					return nil
				},
			},
			{
				Name:  "watch",
				Usage: "Poll a Glue loader run until it finishes and answer its pipeline callback",
				Description: `Use when a loader execution was aborted before the Glue run finished.

Examples:
  mlops loader watch --job sagemaker-p-1234-GlueJob --run-id jr_0123 --token $TOKEN`,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "job", Usage: "Glue job name", Required: true, EnvVars: []string{"TARGET_GLUE_JOB"}},
					&cli.StringFlag{Name: "run-id", Usage: "Glue job run id", Required: true},
					&cli.StringFlag{Name: "token", Usage: "Pipeline callback token", Required: true},
					&cli.DurationFlag{Name: "interval", Usage: "Time between status checks", Value: loader.DefaultInterval},
					&cli.IntFlag{Name: "max-attempts", Usage: "Status checks before giving up", Value: loader.DefaultMaxAttempts},
				},
				Action: func(c *cli.Context) error {
					container, err := newContainer(c, "")
					if err != nil {
						return err
					}
					poller, err := resolve[*loader.Poller](container)
					if err != nil {
						return err
					}
					poller.Interval = c.Duration("interval")
					poller.MaxAttempts = c.Int("max-attempts")

					started := time.Now()
					job, err := poller.Run(c.Context, models.JobDetails{
						JobName:  c.String("job"),
						JobRunID: c.String("run-id"),
						Token:    c.String("token"),
					})
					if job != nil {
						logger.Info().
							Str("job", job.Name).
							Str("state", job.State().String()).
							Dur("elapsed", time.Since(started)).
							Msg("Loader run finished")
						fmt.Println(job.State())
					}
					return err
				},
			},
		},
	}
}

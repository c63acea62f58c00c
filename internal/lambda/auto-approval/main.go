package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/approval"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/urfave/cli/v2"
)

type Handler struct {
	gate *approval.Gate
}

func NewHandler(container di.Container) *Handler {
	return &Handler{
		gate: di.MustGet[*approval.Gate](container),
	}
}

// HandleSNSEvent processes every approval notification in the event. Failures are
// logged per record and never returned, leaving the action for manual approval.
func (h *Handler) HandleSNSEvent(ctx context.Context, event events.SNSEvent) ([]approval.Outcome, error) {
	logger := zerolog.Ctx(ctx)

	outcomes := make([]approval.Outcome, 0, len(event.Records))
	for _, record := range event.Records {
		outcome := h.gate.HandleMessage(ctx, record.SNS.Message)
		logger.Info().
			Str("message_id", record.SNS.MessageID).
			Str("outcome", string(outcome)).
			Msg("Processed approval notification")
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "auto-approval").Logger()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		container, err := di.New(os.Getenv("PROJECT_NAME"))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to setup DI container")
			os.Exit(1)
		}

		handler := NewHandler(container)
		lambda.Start(func(ctx context.Context, event events.SNSEvent) error {
			ctx = logger.WithContext(ctx)
			_, err := handler.HandleSNSEvent(ctx, event)
			return err
		})
		return
	}

	app := &cli.App{
		Name:  "auto-approval",
		Usage: "Answer a pending CodePipeline manual approval from the construct's flag",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "project",
				Usage:    "SageMaker project name",
				EnvVars:  []string{"PROJECT_NAME"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "pipeline",
				Usage:    "CodePipeline name",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "stage",
				Usage: "Stage holding the approval action",
				Value: "Synth",
			},
			&cli.StringFlag{
				Name:  "action",
				Usage: "Approval action name",
				Value: "Approval",
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Approval token",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			container, err := di.New(c.String("project"))
			if err != nil {
				return err
			}

			handler := NewHandler(container)
			outcome := handler.gate.Process(logger.WithContext(c.Context), approval.Request{
				Token:        c.String("token"),
				PipelineName: c.String("pipeline"),
				StageName:    c.String("stage"),
				ActionName:   c.String("action"),
			})

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]string{"outcome": string(outcome)})
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

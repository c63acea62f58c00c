package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/loader"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/urfave/cli/v2"
)

type Handler struct {
	executor *loader.Executor
}

func NewHandler(container di.Container) *Handler {
	return &Handler{
		executor: di.MustGet[*loader.Executor](container),
	}
}

// HandleSQSEvent reports failed records as batch item failures so the queue
// redelivers only those messages.
func (h *Handler) HandleSQSEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	response, _ := h.executor.HandleSQS(ctx, event)
	return response, nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "execute-state-machine").Logger()

	container, err := di.New(os.Getenv("PROJECT_NAME"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to setup DI container")
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		handler := NewHandler(container)
		lambda.Start(func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
			return handler.HandleSQSEvent(logger.WithContext(ctx), event)
		})
		return
	}

	app := &cli.App{
		Name:  "execute-state-machine",
		Usage: "Start a loader execution for a pipeline callback message",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Pipeline callback token",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "Bucket holding the transform output",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Transform output key",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			handler := NewHandler(container)

			body, err := json.Marshal(models.CallbackMessage{
				Token: c.String("token"),
				Arguments: models.CallbackArguments{
					Bucket:       c.String("bucket"),
					KeyToProcess: c.String("key"),
				},
			})
			if err != nil {
				return err
			}

			response, arns := handler.executor.HandleSQS(logger.WithContext(c.Context), events.SQSEvent{
				Records: []events.SQSMessage{{MessageId: "cli", Body: string(body)}},
			})
			if len(response.BatchItemFailures) > 0 {
				return fmt.Errorf("failed to start loader execution")
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string][]string{"executions": arns})
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

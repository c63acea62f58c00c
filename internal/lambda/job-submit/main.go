package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/loader"
	"github.com/savaki/sagemaker-mlops/internal/models"
	"github.com/urfave/cli/v2"
)

type Handler struct {
	submitter *loader.Submitter
}

func NewHandler(container di.Container) *Handler {
	return &Handler{
		submitter: di.MustGet[*loader.Submitter](container),
	}
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "job-submit").Logger()

	container, err := di.New(os.Getenv("PROJECT_NAME"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to setup DI container")
		os.Exit(1)
	}
	handler := NewHandler(container)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(func(ctx context.Context, input models.LoaderInput) (models.JobReply, error) {
			return handler.submitter.Submit(logger.WithContext(ctx), input)
		})
		return
	}

	app := &cli.App{
		Name:  "job-submit",
		Usage: "Start the Glue loader job for a loader execution",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     "input",
				Usage:    "File holding the loader execution input JSON",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			data, err := os.ReadFile(c.Path("input"))
			if err != nil {
				return err
			}
			var input models.LoaderInput
			if err := json.Unmarshal(data, &input); err != nil {
				return err
			}

			reply, err := handler.submitter.Submit(logger.WithContext(c.Context), input)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(reply)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

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
	checker *loader.StatusChecker
}

func NewHandler(container di.Container) *Handler {
	return &Handler{
		checker: di.MustGet[*loader.StatusChecker](container),
	}
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "job-status-check").Logger()

	container, err := di.New(os.Getenv("PROJECT_NAME"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to setup DI container")
		os.Exit(1)
	}
	handler := NewHandler(container)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(func(ctx context.Context, input models.LoaderInput) (models.JobReply, error) {
			return handler.checker.Check(logger.WithContext(ctx), input)
		})
		return
	}

	app := &cli.App{
		Name:  "job-status-check",
		Usage: "Check the Glue loader job and report the pipeline step result",
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

			reply, err := handler.checker.Check(logger.WithContext(c.Context), input)
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

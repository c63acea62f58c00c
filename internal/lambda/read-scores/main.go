package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/dao/scoredao"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/serving"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

func NewHandler(container di.Container) http.Handler {
	logger := di.MustGet[zerolog.Logger](container).With().Str("lambda", "read-scores").Logger()
	scores := di.MustGet[*services.ScoresService](container)

	return serving.LoggingMiddleware(logger)(serving.NewScoresHandler(scores, scoredao.DefaultLimit))
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "read-scores").Logger()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		container, err := di.New(os.Getenv("PROJECT_NAME"))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to setup DI container")
			os.Exit(1)
		}

		lambda.Start(httpadapter.New(NewHandler(container)).ProxyWithContext)
		return
	}

	app := &cli.App{
		Name:  "read-scores",
		Usage: "Serve batch transform scores from DynamoDB",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start local HTTP server for testing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "port",
						Usage: "Port to listen on",
						Value: "8080",
					},
					&cli.StringFlag{
						Name:     "table",
						Usage:    "Scores table name",
						EnvVars:  []string{"TARGET_DDB_TABLE"},
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					os.Setenv("TARGET_DDB_TABLE", c.String("table"))

					container, err := di.New("")
					if err != nil {
						return fmt.Errorf("failed to setup DI container: %w", err)
					}

					addr := ":" + c.String("port")
					logger.Info().Str("addr", addr).Msg("Starting HTTP server")

					server := &http.Server{
						Addr:    addr,
						Handler: NewHandler(container),
					}
					return server.ListenAndServe()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

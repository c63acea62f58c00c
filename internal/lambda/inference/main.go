package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerfeaturestoreruntime"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/savaki/sagemaker-mlops/internal/serving"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

// InferenceConfig maps the function environment onto the handler configuration.
func InferenceConfig(config *services.Config) (serving.InferenceConfig, error) {
	if config.EndpointName == "" || config.ClaimsFeatureGroup == "" || config.CustomersFeatureGroup == "" {
		return serving.InferenceConfig{}, fmt.Errorf("%w: endpoint_name, claims_fg_name and customers_fg_name", errors.ErrMissingConfiguration)
	}
	return serving.InferenceConfig{
		EndpointName:          config.EndpointName,
		ContentType:           config.ContentType,
		ClaimsFeatureGroup:    config.ClaimsFeatureGroup,
		CustomersFeatureGroup: config.CustomersFeatureGroup,
	}, nil
}

func NewHandler(container di.Container) (http.Handler, error) {
	logger := di.MustGet[zerolog.Logger](container).With().Str("lambda", "inference").Logger()

	config, err := InferenceConfig(di.MustGet[*services.Config](container))
	if err != nil {
		return nil, err
	}

	handler := serving.NewInferenceHandler(
		di.MustGet[*sagemakerfeaturestoreruntime.Client](container),
		di.MustGet[*sagemakerruntime.Client](container),
		config,
	)
	return serving.LoggingMiddleware(logger)(handler), nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "inference").Logger()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		container, err := di.New(os.Getenv("PROJECT_NAME"), di.WithRegion(os.Getenv("region")))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to setup DI container")
			os.Exit(1)
		}

		handler, err := NewHandler(container)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create handler")
			os.Exit(1)
		}

		lambda.Start(httpadapter.New(handler).ProxyWithContext)
		return
	}

	app := &cli.App{
		Name:  "inference",
		Usage: "Score a policy against a hosted endpoint using online features",
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
						Name:    "region",
						Usage:   "AWS region",
						EnvVars: []string{"region", "AWS_REGION"},
					},
				},
				Action: func(c *cli.Context) error {
					container, err := di.New(os.Getenv("PROJECT_NAME"), di.WithRegion(c.String("region")))
					if err != nil {
						return fmt.Errorf("failed to setup DI container: %w", err)
					}

					handler, err := NewHandler(container)
					if err != nil {
						return err
					}

					addr := ":" + c.String("port")
					logger.Info().Str("addr", addr).Msg("Starting HTTP server")

					server := &http.Server{
						Addr:    addr,
						Handler: handler,
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

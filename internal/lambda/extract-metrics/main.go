package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/urfave/cli/v2"
)

// S3API reads the model quality report.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Handler struct {
	s3Client S3API
}

func NewHandler(container di.Container) *Handler {
	return &Handler{
		s3Client: di.MustGet[*s3.Client](container),
	}
}

type Input struct {
	ModelQualityReportURI string `json:"model_quality_report_uri"`
	MetricName            string `json:"metric_name"`
}

type Output struct {
	StatusCode  int     `json:"statusCode"`
	Body        string  `json:"body"`
	MetricValue float64 `json:"metric_value"`
}

type report struct {
	BinaryClassificationMetrics map[string]struct {
		Value float64 `json:"value"`
	} `json:"binary_classification_metrics"`
}

// HandleExtract reads the report and returns the named binary classification metric.
func (h *Handler) HandleExtract(ctx context.Context, input Input) (*Output, error) {
	logger := zerolog.Ctx(ctx)

	location, err := assets.ParseS3URI(input.ModelQualityReportURI)
	if err != nil {
		return nil, err
	}

	out, err := h.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(location.Bucket),
		Key:    aws.String(location.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", input.ModelQualityReportURI, err)
	}
	defer out.Body.Close()

	var r report
	if err := json.NewDecoder(out.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode model quality report: %w", err)
	}

	metric, ok := r.BinaryClassificationMetrics[input.MetricName]
	if !ok {
		return nil, fmt.Errorf("metric %s not found in %s", input.MetricName, input.ModelQualityReportURI)
	}

	logger.Info().
		Str("metric", input.MetricName).
		Float64("value", metric.Value).
		Msg("Extracted metric")

	body, err := json.Marshal(fmt.Sprintf("Extracted %s", input.MetricName))
	if err != nil {
		return nil, err
	}
	return &Output{
		StatusCode:  200,
		Body:        string(body),
		MetricValue: metric.Value,
	}, nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "extract-metrics").Logger()

	container, err := di.New("")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to setup DI container")
		os.Exit(1)
	}
	handler := NewHandler(container)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(func(ctx context.Context, input Input) (*Output, error) {
			return handler.HandleExtract(logger.WithContext(ctx), input)
		})
		return
	}

	app := &cli.App{
		Name:  "extract-metrics",
		Usage: "Extract a metric from a model quality report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "report",
				Usage:    "S3 URI of the model quality report",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "metric",
				Usage: "Binary classification metric name",
				Value: "auc",
			},
		},
		Action: func(c *cli.Context) error {
			result, err := handler.HandleExtract(logger.WithContext(c.Context), Input{
				ModelQualityReportURI: c.String("report"),
				MetricName:            c.String("metric"),
			})
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

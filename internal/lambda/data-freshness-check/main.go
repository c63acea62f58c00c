package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Handler struct {
	s3Client  S3API
	snsClient SNSAPI
	topicARN  string
}

func NewHandler(container di.Container) *Handler {
	config := di.MustGet[*services.Config](container)
	return &Handler{
		s3Client:  di.MustGet[*s3.Client](container),
		snsClient: di.MustGet[*sns.Client](container),
		topicARN:  config.TopicARN,
	}
}

type Input struct {
	BucketName string `json:"bucket_name"`
	KeyName    string `json:"key_name"`
}

// Output is read by the pipeline's DataFreshCond step, which compares body to "1".
type Output struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// HandleCheck reports whether the dataset object exists and notifies the topic.
func (h *Handler) HandleCheck(ctx context.Context, input Input) (*Output, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("bucket", input.BucketName).
		Str("key", input.KeyName).
		Logger()

	fresh := 1
	_, err := h.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(input.BucketName),
		Key:    aws.String(input.KeyName),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Dataset not available")
		fresh = 0
	}

	h.notify(ctx, fresh)

	logger.Info().Int("fresh", fresh).Msg("Checked data freshness")
	return &Output{StatusCode: 200, Body: fmt.Sprint(fresh)}, nil
}

func (h *Handler) notify(ctx context.Context, fresh int) {
	if h.topicARN == "" {
		return
	}

	message, _ := json.Marshal(fmt.Sprintf("MLOps is starting to run..., data is %d", fresh))
	structured, _ := json.Marshal(map[string]string{"default": string(message)})

	_, err := h.snsClient.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(h.topicARN),
		Message:          aws.String(string(structured)),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("topic_arn", h.topicARN).Msg("Failed to publish freshness notification")
	}
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "data-freshness-check").Logger()

	container, err := di.New(os.Getenv("PROJECT_NAME"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to setup DI container")
		os.Exit(1)
	}
	handler := NewHandler(container)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(func(ctx context.Context, input Input) (*Output, error) {
			return handler.HandleCheck(logger.WithContext(ctx), input)
		})
		return
	}

	app := &cli.App{
		Name:  "data-freshness-check",
		Usage: "Check that a dataset object is present",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "Dataset bucket",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Dataset key",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			result, err := handler.HandleCheck(logger.WithContext(c.Context), Input{
				BucketName: c.String("bucket"),
				KeyName:    c.String("key"),
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

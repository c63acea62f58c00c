package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

// RoleDescriber resolves a role's name and unique id.
type RoleDescriber interface {
	DescribeRole(ctx context.Context, arn string) (name, id string, err error)
}

type Handler struct {
	roles RoleDescriber
}

func NewHandler(container di.Container) *Handler {
	return &Handler{
		roles: di.MustGet[*services.IAMService](container),
	}
}

// Resolve returns the role name for arn and, when IAM answers, its id.
func (h *Handler) Resolve(ctx context.Context, arn string) map[string]any {
	data := map[string]any{
		"RoleName": services.RoleNameFromARN(arn),
	}
	if h.roles == nil {
		return data
	}

	_, id, err := h.roles.DescribeRole(ctx, arn)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("role_arn", arn).Msg("Failed to describe role")
		return data
	}
	data["RoleId"] = id
	return data
}

func (h *Handler) HandleEvent(ctx context.Context, event cfn.Event) (string, map[string]any, error) {
	physicalID := event.PhysicalResourceID
	if physicalID == "" {
		physicalID = event.LogicalResourceID
	}
	if event.RequestType == cfn.RequestDelete {
		return physicalID, nil, nil
	}

	arn, _ := event.ResourceProperties["RoleArn"].(string)
	if arn == "" {
		return physicalID, nil, fmt.Errorf("RoleArn is required")
	}
	return physicalID, h.Resolve(ctx, arn), nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "role-name").Logger()

	container, err := di.New("")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to setup DI container")
		os.Exit(1)
	}
	handler := NewHandler(container)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(cfn.LambdaWrap(func(ctx context.Context, event cfn.Event) (string, map[string]any, error) {
			return handler.HandleEvent(logger.WithContext(ctx), event)
		}))
		return
	}

	app := &cli.App{
		Name:  "role-name",
		Usage: "Resolve an IAM role name from its ARN",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "role-arn",
				Usage:    "IAM role ARN",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			data := handler.Resolve(logger.WithContext(c.Context), c.String("role-arn"))

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(data)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os"

	"github.com/savaki/sagemaker-mlops/cmd/mlops/commands"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "mlops",
		Usage: "SageMaker MLOps project toolkit",
		Description: `Publishes and operates the SageMaker MLOps project template.

This tool provides commands for:
  - Publishing the project template to Service Catalog
  - Deploying a project directly without Service Catalog
  - Synthesizing the build, ingestion and serving stacks of a project
  - Managing pipeline auto-approval flags and loader executions`,
		Flags: commands.GlobalFlags(),
		Commands: []*cli.Command{
			commands.AppCommand(&logger),
			commands.CatalogCommand(&logger),
			commands.DirectDeployCommand(&logger),
			commands.PackageCommand(&logger),
			commands.ApprovalCommand(&logger),
			commands.LoaderCommand(&logger),
			commands.StackStatusCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

package commands

import (
	"fmt"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/featurestore"
	"github.com/savaki/sagemaker-mlops/internal/infra"
	"github.com/savaki/sagemaker-mlops/internal/pipelinedef"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

// Stack kinds deployed from the seed repositories.
const (
	StackBuild     = "build"
	StackIngestion = "ingestion"
	StackServing   = "serving"
)

// StackTarget returns the stack id and asset prefix of a seed repository stack.
func StackTarget(kind, project string) (id, prefix string, err error) {
	switch kind {
	case StackBuild:
		return project + "-BuildModelStack", "build_model/", nil
	case StackIngestion:
		return project + "-FeatureStore", "feature_ingestion/", nil
	case StackServing:
		return project + "-ServingStack", "serving/", nil
	}
	return "", "", fmt.Errorf("unknown stack %q: want %s", kind, strings.Join([]string{StackBuild, StackIngestion, StackServing}, ", "))
}

// AppCommand is the CDK app every seed repository's cdk.json runs.
func AppCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "app",
		Usage: "Synthesize a project stack from a seed repository",
		Description: `Builds the CDK app for one seed repository using the CodeBuild environment
(PROJECT_BUCKET, SAGEMAKER_PROJECT_NAME, SAGEMAKER_PROJECT_ID, ...) and the
project parameters in SSM.

Examples:
  # cdk.json of the build repository
  { "app": "mlops app --stack build" }

  # synthesize the serving stack locally
  mlops app --stack serving --repo-dir repos/serving`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "stack",
				Aliases:  []string{"s"},
				Usage:    "Stack to synthesize: build, ingestion or serving",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "repo-dir",
				Usage: "Root of the seed repository",
				Value: ".",
			},
			&cli.StringFlag{
				Name:  "lambda-dir",
				Usage: "Directory holding {function}/bootstrap builds",
				Value: infra.DefaultLambdaDir,
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Cloud assembly output directory; defaults to the one chosen by the CDK CLI",
			},
			&cli.BoolFlag{
				Name:  "native-loader",
				Usage: "Run the Glue loader job from Step Functions instead of polling from Lambda",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context

			container, err := newContainer(c, "")
			if err != nil {
				return err
			}
			config, err := resolve[*services.Config](container)
			if err != nil {
				return err
			}
			if err := config.RequireProject(); err != nil {
				return err
			}
			id, prefix, err := StackTarget(c.String("stack"), config.ProjectName)
			if err != nil {
				return err
			}

			cfg, err := resolve[aws.Config](container)
			if err != nil {
				return err
			}
			if config.Region == "" {
				config.Region = cfg.Region
			}
			t, err := lookupTarget(ctx, container)
			if err != nil {
				return err
			}

			var (
				registry *services.ModelRegistry
				uploader *assets.Uploader
				resolver *featurestore.Resolver
			)
			if err := container.Invoke(func(r *services.ModelRegistry, u *assets.Uploader, fr *featurestore.Resolver) {
				registry, uploader, resolver = r, u, fr
			}); err != nil {
				return err
			}

			env := &infra.Environment{
				Config: config,
				Session: &pipelinedef.Session{
					Region:        config.Region,
					DefaultBucket: config.ProjectBucket,
					Catalog:       resolver,
					Registry:      registry,
					Code:          uploader,
					Flows:         pipelinedef.FileFlowReader{},
				},
				Registry:     registry,
				Uploader:     uploader,
				Account:      t.Account,
				LambdaDir:    c.String("lambda-dir"),
				RepoDir:      c.String("repo-dir"),
				NativeLoader: c.Bool("native-loader"),
			}

			var appProps *awscdk.AppProps
			if dir := c.String("out-dir"); dir != "" {
				appProps = &awscdk.AppProps{Outdir: jsii.String(dir)}
			}
			app := awscdk.NewApp(appProps)
			props := &awscdk.StackProps{
				Env: &awscdk.Environment{
					Account: jsii.String(t.Account),
					Region:  jsii.String(config.Region),
				},
				Synthesizer: awscdk.NewDefaultStackSynthesizer(&awscdk.DefaultStackSynthesizerProps{
					FileAssetsBucketName: jsii.String(config.ProjectBucket),
					BucketPrefix:         jsii.String(prefix),
				}),
			}

			var stack awscdk.Stack
			switch c.String("stack") {
			case StackBuild:
				s, err := infra.NewBuildStack(ctx, app, id, env, props)
				if err != nil {
					return err
				}
				stack = s.Stack
			case StackIngestion:
				s, err := infra.NewFeatureIngestionStack(ctx, app, id, env, props)
				if err != nil {
					return err
				}
				stack = s.Stack
			case StackServing:
				s, err := infra.NewServingStack(ctx, app, id, env, props)
				if err != nil {
					return err
				}
				stack = s.Stack
			}
			infra.ProjectFromConfig(config).Apply(stack)

			assembly := app.Synth(nil)
			logger.Info().
				Str("stack", id).
				Str("assembly", *assembly.Directory()).
				Msg("Synthesized stack")
			return nil
		},
	}
}

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/infra"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

// DirectDeployCommand launches the project stack without Service Catalog.
func DirectDeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "direct-deploy",
		Usage: "Deploy a project stack directly, bypassing Service Catalog",
		Description: `Packages the seed repositories, uploads them to the assets bucket and deploys the
project stack as a plain CloudFormation stack. When no studio user role is set the
default execution role of the first SageMaker Studio domain is used.

Examples:
  mlops direct-deploy --project-name mlopsdemo --project-id p-demo0001`,
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:  "project-name",
				Usage: "SageMaker project name",
				Value: "MLOpsDemo",
			},
			&cli.StringFlag{
				Name:  "project-id",
				Usage: "SageMaker project id",
				Value: "mlopsdemo-id",
			},
		}, settingsFlags...), deployFlags...),
		Action: func(c *cli.Context) error {
			ctx := c.Context
			settings, err := settingsFromContext(c)
			if err != nil {
				return err
			}
			container, err := newContainer(c, c.String("project-name"))
			if err != nil {
				return err
			}
			t, err := lookupTarget(ctx, container)
			if err != nil {
				return err
			}

			var (
				s3Client *s3.Client
				uploader *assets.Uploader
				registry *services.ModelRegistry
			)
			if err := container.Invoke(func(sc *s3.Client, u *assets.Uploader, r *services.ModelRegistry) {
				s3Client, uploader, registry = sc, u, r
			}); err != nil {
				return err
			}

			studioRole := settings.StudioUserRoleARN
			if studioRole == "" {
				studioRole, err = registry.DefaultExecutionRole(ctx)
				if err != nil {
					return fmt.Errorf("no studio user role configured: %w", err)
				}
			}

			packages, demo, err := assets.PackageRepos(settings.ReposDir, settings.DemoDir, filepath.Join(settings.OutDir, "seeds"))
			if err != nil {
				return err
			}
			if demo != nil {
				packages = append(packages, *demo)
			}
			bucket := t.placeholders().Replace(settings.AssetsBucket)
			if err := ensureBucket(ctx, s3Client, bucket, t.Region); err != nil {
				return err
			}
			codeAssets, err := uploader.UploadPackages(ctx, bucket, "seeds", packages...)
			if err != nil {
				return err
			}
			var demoAsset *assets.CodeAsset
			if demo != nil {
				a := codeAssets[demo.Name]
				demoAsset = &a
				delete(codeAssets, demo.Name)
			}

			stackName := c.String("project-name") + "-" + infra.ProjectStackID
			if c.IsSet("stack-name") {
				stackName = settings.StackName
			}

			app := newCatalogApp(settings)
			stack := infra.NewProjectStack(app, stackName, infra.ProjectStackProps{
				CodeAssets:        codeAssets,
				DemoAsset:         demoAsset,
				StudioUserRoleARN: studioRole,
				LambdaDir:         settings.LambdaDir,
				Synthesizer:       assetSynthesizer(settings),
			})
			awscdk.Tags_Of(stack).Add(jsii.String("ManagedBy"), jsii.String("mlops"), nil)
			s := synthesize(app, stack.Stack)

			logger.Info().
				Str("stack", stackName).
				Int("repositories", len(codeAssets)).
				Bool("demo", demoAsset != nil).
				Msg("Synthesized project stack")

			return publishAndDeploy(ctx, c, container, settings, t, s, map[string]string{
				"SageMakerProjectName": c.String("project-name"),
				"SageMakerProjectId":   c.String("project-id"),
				"DemoSMSUserRole":      studioRole,
			})
		},
	}
}

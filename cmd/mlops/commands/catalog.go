package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/jsii-runtime-go"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/deployer"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/infra"
	"github.com/savaki/sagemaker-mlops/internal/policy"
	"github.com/savaki/sagemaker-mlops/internal/utils"
	"github.com/urfave/cli/v2"
)

// synthesized locates one stack inside a cloud assembly.
type synthesized struct {
	StackName    string
	TemplateFile string // relative to the assembly
	TemplatePath string
	Manifest     string // asset manifest path
}

func synthesize(app awscdk.App, stack awscdk.Stack) synthesized {
	assembly := app.Synth(nil)
	artifact := assembly.GetStackArtifact(stack.ArtifactId())
	return synthesized{
		StackName:    *stack.StackName(),
		TemplateFile: *artifact.TemplateFile(),
		TemplatePath: *artifact.TemplateFullPath(),
		Manifest:     filepath.Join(*assembly.Directory(), *stack.ArtifactId()+".assets.json"),
	}
}

func newCatalogApp(settings Settings) awscdk.App {
	return awscdk.NewApp(&awscdk.AppProps{Outdir: jsii.String(settings.OutDir)})
}

func assetSynthesizer(settings Settings) awscdk.IStackSynthesizer {
	return awscdk.NewDefaultStackSynthesizer(&awscdk.DefaultStackSynthesizerProps{
		FileAssetsBucketName:         jsii.String(settings.AssetsBucket),
		GenerateBootstrapVersionRule: jsii.Bool(false),
	})
}

func synthCatalog(settings Settings, t target) (synthesized, error) {
	app := newCatalogApp(settings)
	props := settings.CatalogProps()
	props.TemplateDir = filepath.Join(settings.OutDir, "product")
	props.Env = &awscdk.Environment{
		Account: jsii.String(t.Account),
		Region:  jsii.String(t.Region),
	}
	props.Synthesizer = assetSynthesizer(settings)

	stack, err := infra.NewCatalogStack(app, settings.StackName, props)
	if err != nil {
		return synthesized{}, err
	}
	return synthesize(app, stack.Stack), nil
}

// publishAndDeploy uploads the assets of s and creates or updates its stack.
func publishAndDeploy(ctx context.Context, c *cli.Context, container di.Container, settings Settings, t target, s synthesized, params map[string]string) error {
	logger := zerolog.Ctx(ctx)

	var (
		s3Client *s3.Client
		cfClient *cloudformation.Client
		uploader *assets.Uploader
	)
	if err := container.Invoke(func(sc *s3.Client, cf *cloudformation.Client, u *assets.Uploader) {
		s3Client, cfClient, uploader = sc, cf, u
	}); err != nil {
		return err
	}

	if c.Bool("skip-policy") {
		logger.Warn().Str("stack_name", s.StackName).Msg("Skipping template policy check")
	} else if err := checkPolicy(ctx, s); err != nil {
		return err
	}

	if err := ensureBucket(ctx, s3Client, t.placeholders().Replace(settings.AssetsBucket), t.Region); err != nil {
		return err
	}
	published, err := uploader.Publish(ctx, s.Manifest, t.placeholders())
	if err != nil {
		return err
	}
	template, ok := assets.Find(published, s.TemplateFile)
	if !ok {
		return fmt.Errorf("template %s was not published", s.TemplateFile)
	}

	overrides, err := utils.ParseParameters(c.StringSlice("parameter"))
	if err != nil {
		return err
	}

	d := deployer.New(cfClient)
	result, err := d.Deploy(ctx, deployer.Request{
		StackName:   s.StackName,
		TemplateURL: template.HTTPURL(t.Region),
		Parameters:  utils.MergeParameters(params, overrides),
		Tags:        map[string]string{"ManagedBy": "mlops"},
	})
	if err != nil {
		return err
	}

	if c.Bool("wait") {
		logger.Info().Str("stack_name", s.StackName).Msg("Waiting for stack")
		if err := d.Wait(ctx, result, c.Duration("timeout")); err != nil {
			if status, serr := d.Status(ctx, s.StackName); serr == nil {
				printStatus(status)
			}
			return err
		}
	}

	fmt.Printf("%s %s (%s)\n", result.Operation, result.StackName, result.StackID)
	return nil
}

func checkPolicy(ctx context.Context, s synthesized) error {
	validator, err := policy.NewValidator(ctx)
	if err != nil {
		return err
	}
	result, err := validator.ValidateFile(ctx, s.TemplatePath)
	if err != nil {
		return err
	}
	return result.Err()
}

var deployFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "parameter",
		Usage: "Stack parameter override as Key=Value; may be repeated",
	},
	&cli.BoolFlag{
		Name:  "wait",
		Usage: "Wait for the stack operation to complete",
		Value: true,
	},
	&cli.BoolFlag{
		Name:  "skip-policy",
		Usage: "Deploy without checking the template against the guardrail policy",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Usage: "Maximum time to wait",
		Value: 30 * time.Minute,
	},
}

// CatalogCommand synthesizes and deploys the Service Catalog stack.
func CatalogCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Publish the SageMaker project template to Service Catalog",
		Description: `Synthesizes the Service Catalog portfolio and product, uploads its assets and
deploys it with CloudFormation. Settings come from mlops.yaml and may be
overridden by flags.`,
		Subcommands: []*cli.Command{
			{
				Name:  "synth",
				Usage: "Write the catalog cloud assembly",
				Flags: settingsFlags,
				Action: func(c *cli.Context) error {
					ctx := c.Context
					settings, err := settingsFromContext(c)
					if err != nil {
						return err
					}
					container, err := newContainer(c, "")
					if err != nil {
						return err
					}
					t, err := lookupTarget(ctx, container)
					if err != nil {
						return err
					}

					s, err := synthCatalog(settings, t)
					if err != nil {
						return err
					}
					logger.Info().
						Str("stack", s.StackName).
						Str("template", s.TemplateFile).
						Str("assets", s.Manifest).
						Msg("Synthesized catalog")
					return nil
				},
			},
			{
				Name:  "deploy",
				Usage: "Synthesize, publish assets and create or update the catalog stack",
				Description: `Examples:
  mlops catalog deploy
  mlops catalog deploy --portfolio-owner ml-platform --parameter ProductVersion=1.1`,
				Flags: append(append([]cli.Flag{}, settingsFlags...), deployFlags...),
				Action: func(c *cli.Context) error {
					ctx := c.Context
					settings, err := settingsFromContext(c)
					if err != nil {
						return err
					}
					container, err := newContainer(c, "")
					if err != nil {
						return err
					}
					t, err := lookupTarget(ctx, container)
					if err != nil {
						return err
					}

					s, err := synthCatalog(settings, t)
					if err != nil {
						return err
					}
					return publishAndDeploy(ctx, c, container, settings, t, s, settings.Parameters())
				},
			},
		},
	}
}

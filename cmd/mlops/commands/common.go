package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/olekukonko/tablewriter"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

// GlobalFlags select the AWS account, region and settings file for every command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Settings file",
			Value:   DefaultSettingsFile,
			EnvVars: []string{"MLOPS_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "AWS region",
			EnvVars: []string{"AWS_REGION", "AWS_DEFAULT_REGION"},
		},
		&cli.StringFlag{
			Name:    "access-key-id",
			Usage:   "Static AWS access key, overrides the default credential chain",
			EnvVars: []string{"MLOPS_ACCESS_KEY_ID"},
		},
		&cli.StringFlag{
			Name:    "secret-access-key",
			Usage:   "Static AWS secret key",
			EnvVars: []string{"MLOPS_SECRET_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "session-token",
			Usage:   "Static AWS session token",
			EnvVars: []string{"MLOPS_SESSION_TOKEN"},
		},
	}
}

var projectFlag = &cli.StringFlag{
	Name:    "project",
	Aliases: []string{"p"},
	Usage:   "SageMaker project name",
	EnvVars: []string{"SAGEMAKER_PROJECT_NAME"},
}

func newContainer(c *cli.Context, project string) (di.Container, error) {
	return di.New(project,
		di.WithRegion(c.String("region")),
		di.WithCredentials(di.Credentials{
			AccessKeyID:     c.String("access-key-id"),
			SecretAccessKey: c.String("secret-access-key"),
			SessionToken:    c.String("session-token"),
		}),
	)
}

// resolve is MustGet that returns construction errors instead of panicking.
func resolve[T any](container di.Container) (T, error) {
	var v T
	err := container.Invoke(func(got T) { v = got })
	return v, err
}

// target is the account and region the command operates on.
type target struct {
	services.Identity
	Region string
}

func lookupTarget(ctx context.Context, container di.Container) (target, error) {
	cfg, err := resolve[aws.Config](container)
	if err != nil {
		return target{}, err
	}
	if cfg.Region == "" {
		return target{}, fmt.Errorf("no AWS region configured; set --region or AWS_REGION")
	}
	iamService, err := resolve[*services.IAMService](container)
	if err != nil {
		return target{}, err
	}
	identity, err := iamService.GetIdentity(ctx)
	if err != nil {
		return target{}, err
	}
	return target{Identity: identity, Region: cfg.Region}, nil
}

func (t target) placeholders() assets.Placeholders {
	return assets.Placeholders{Account: t.Account, Region: t.Region, Partition: t.Partition}
}

// ensureBucket creates bucket in the target region unless it already exists.
func ensureBucket(ctx context.Context, client *s3.Client, bucket, region string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func renderTable(header []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}

package commands

import (
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/urfave/cli/v2"
)

// PackageCommand archives the seed repositories and uploads them to a seed bucket.
func PackageCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "package",
		Usage: "Archive the seed repositories and upload them to S3",
		Description: `Zips every directory under the repos dir plus the demo workspace and uploads the
archives to {bucket}/{prefix}. The printed keys are what the project template
expects for each CodeCommit repository.

Examples:
  mlops package --bucket my-seed-bucket
  mlops package --bucket my-seed-bucket --prefix seeds/v2 --repos-dir repos`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "bucket",
				Usage: "Seed bucket; defaults to the assets bucket",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Key prefix",
				Value: "seeds",
			},
		}, settingsFlags...),
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

			var (
				s3Client *s3.Client
				uploader *assets.Uploader
			)
			if err := container.Invoke(func(sc *s3.Client, u *assets.Uploader) {
				s3Client, uploader = sc, u
			}); err != nil {
				return err
			}

			bucket := c.String("bucket")
			if bucket == "" {
				bucket = settings.AssetsBucket
			}
			bucket = t.placeholders().Replace(bucket)

			packages, demo, err := assets.PackageRepos(settings.ReposDir, settings.DemoDir, filepath.Join(settings.OutDir, "seeds"))
			if err != nil {
				return err
			}
			if demo != nil {
				packages = append(packages, *demo)
			}
			if err := ensureBucket(ctx, s3Client, bucket, t.Region); err != nil {
				return err
			}
			uploaded, err := uploader.UploadPackages(ctx, bucket, c.String("prefix"), packages...)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(packages))
			for _, p := range packages {
				rows = append(rows, []string{p.Name, p.Dir, uploaded[p.Name].URI()})
			}
			renderTable([]string{"Repository", "Source", "URI"}, rows)

			logger.Info().Int("packages", len(packages)).Str("bucket", bucket).Msg("Packaged seed repositories")
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/di"
	"github.com/urfave/cli/v2"
)

// Uploader stages a local file in S3.
type Uploader interface {
	UploadFile(ctx context.Context, bucket, key, path string) (string, error)
}

// CloneFunc checks out url into dir.
type CloneFunc func(ctx context.Context, url, dir, branch string) error

type Handler struct {
	uploader Uploader
	bucket   string
	clone    CloneFunc
}

func NewHandler(uploader Uploader, bucket string) *Handler {
	return &Handler{
		uploader: uploader,
		bucket:   bucket,
		clone:    gitClone,
	}
}

// Properties are the custom resource properties.
type Properties struct {
	GitRepository string
	Branch        string
	SeedPaths     []string
	TemplatePath  string
}

func propertiesOf(raw map[string]any) (Properties, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Properties{}, fmt.Errorf("failed to encode resource properties: %w", err)
	}
	var props Properties
	if err := json.Unmarshal(data, &props); err != nil {
		return Properties{}, fmt.Errorf("failed to decode resource properties: %w", err)
	}
	if props.GitRepository == "" {
		return Properties{}, fmt.Errorf("GitRepository is required")
	}
	return props, nil
}

func gitClone(ctx context.Context, url, dir, branch string) error {
	args := []string{"clone", "--depth=1"}
	if branch != "" {
		args = append(args, "-b", branch)
	}
	args = append(args, url, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return nil
}

// HandleEvent clones the repository and uploads the seed archives and the template.
func (h *Handler) HandleEvent(ctx context.Context, event cfn.Event) (string, map[string]any, error) {
	logger := zerolog.Ctx(ctx)

	physicalID := event.PhysicalResourceID
	if physicalID == "" {
		physicalID = event.LogicalResourceID
	}

	if event.RequestType == cfn.RequestDelete {
		logger.Info().Msg("Processing DELETE event")
		return physicalID, nil, nil
	}

	logger.Info().Str("request_type", string(event.RequestType)).Msg("Processing event")

	props, err := propertiesOf(event.ResourceProperties)
	if err != nil {
		return physicalID, nil, err
	}
	data, err := h.seed(ctx, props)
	if err != nil {
		return physicalID, nil, err
	}
	return physicalID, data, nil
}

func (h *Handler) seed(ctx context.Context, props Properties) (map[string]any, error) {
	logger := zerolog.Ctx(ctx)

	tmp, err := os.MkdirTemp("", "clone-seeds")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	src := filepath.Join(tmp, "src")
	if err := h.clone(ctx, props.GitRepository, src, props.Branch); err != nil {
		return nil, err
	}

	seedKeys := make([]string, 0, len(props.SeedPaths))
	for _, p := range props.SeedPaths {
		name := filepath.Base(p)
		archive, err := assets.Archive(filepath.Join(src, p), filepath.Join(tmp, "out", name+".zip"))
		if err != nil {
			return nil, err
		}
		key := name + ".zip"
		if _, err := h.uploader.UploadFile(ctx, h.bucket, key, archive); err != nil {
			return nil, err
		}
		logger.Info().Str("path", p).Str("key", key).Msg("Uploaded seed code")
		seedKeys = append(seedKeys, key)
	}

	var templateKey string
	if props.TemplatePath != "" {
		templateKey = filepath.Base(props.TemplatePath)
		if _, err := h.uploader.UploadFile(ctx, h.bucket, templateKey, filepath.Join(src, props.TemplatePath)); err != nil {
			return nil, err
		}
		logger.Info().Str("key", templateKey).Msg("Uploaded template")
	}

	return map[string]any{
		"seed_keys":    seedKeys,
		"template_key": templateKey,
	}, nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "clone-seeds").Logger()

	newHandler := func(ctx context.Context, bucket string) (*Handler, error) {
		container, err := di.New("")
		if err != nil {
			return nil, err
		}
		return NewHandler(di.MustGet[*assets.Uploader](container), bucket), nil
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		handler, err := newHandler(context.Background(), os.Getenv("SeedBucket"))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create handler")
			os.Exit(1)
		}
		lambda.Start(cfn.LambdaWrap(func(ctx context.Context, event cfn.Event) (string, map[string]any, error) {
			return handler.HandleEvent(logger.WithContext(ctx), event)
		}))
		return
	}

	app := &cli.App{
		Name:  "clone-seeds",
		Usage: "Clone a git repository and stage its seed code in S3",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "Seed bucket",
				EnvVars:  []string{"SeedBucket"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "repository",
				Usage:    "Git repository URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "branch",
				Usage: "Branch to clone",
			},
			&cli.StringSliceFlag{
				Name:  "seed-path",
				Usage: "Directory to archive (repeatable)",
			},
			&cli.StringFlag{
				Name:  "template-path",
				Usage: "Template file to upload",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := logger.WithContext(c.Context)
			handler, err := newHandler(ctx, c.String("bucket"))
			if err != nil {
				return err
			}

			data, err := handler.seed(ctx, Properties{
				GitRepository: c.String("repository"),
				Branch:        c.String("branch"),
				SeedPaths:     c.StringSlice("seed-path"),
				TemplatePath:  c.String("template-path"),
			})
			if err != nil {
				return err
			}

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

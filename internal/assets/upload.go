package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// S3API is the subset of S3 used to stage assets.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// CodeAsset locates an uploaded archive.
type CodeAsset struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
}

// URI returns s3://bucket/key.
func (a CodeAsset) URI() string {
	return fmt.Sprintf("s3://%s/%s", a.Bucket, a.Key)
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (CodeAsset, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return CodeAsset{}, fmt.Errorf("%w: %s", errors.ErrInvalidS3URI, uri)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return CodeAsset{}, fmt.Errorf("%w: %s", errors.ErrInvalidS3URI, uri)
	}
	return CodeAsset{Bucket: bucket, Key: key}, nil
}

// Uploader puts local files into S3.
type Uploader struct {
	client S3API
}

func NewUploader(client S3API) *Uploader {
	return &Uploader{client: client}
}

// Upload puts the file at path to bucket/key.
func (u *Uploader) Upload(ctx context.Context, bucket, key, path string) (CodeAsset, error) {
	f, err := os.Open(path)
	if err != nil {
		return CodeAsset{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return CodeAsset{}, fmt.Errorf("failed to upload %s to s3://%s/%s: %w", path, bucket, key, err)
	}

	zerolog.Ctx(ctx).Info().Str("bucket", bucket).Str("key", key).Msg("Uploaded asset")
	return CodeAsset{Bucket: bucket, Key: key}, nil
}

// UploadFile uploads path and returns its S3 URI.
func (u *Uploader) UploadFile(ctx context.Context, bucket, key, path string) (string, error) {
	asset, err := u.Upload(ctx, bucket, key, path)
	if err != nil {
		return "", err
	}
	return asset.URI(), nil
}

// UploadPackages uploads each package under prefix and returns assets keyed by name.
func (u *Uploader) UploadPackages(ctx context.Context, bucket, prefix string, packages ...Package) (map[string]CodeAsset, error) {
	out := make(map[string]CodeAsset, len(packages))
	for _, p := range packages {
		key := filepath.ToSlash(filepath.Join(prefix, filepath.Base(p.Path)))
		asset, err := u.Upload(ctx, bucket, key, p.Path)
		if err != nil {
			return nil, err
		}
		out[p.Name] = asset
	}
	return out, nil
}

// UploadDir uploads every regular file under dir to bucket/{prefix}/{relative path}.
func (u *Uploader) UploadDir(ctx context.Context, bucket, prefix, dir string) ([]CodeAsset, error) {
	var assets []CodeAsset
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		asset, err := u.Upload(ctx, bucket, filepath.ToSlash(filepath.Join(prefix, rel)), path)
		if err != nil {
			return err
		}
		assets = append(assets, asset)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", dir, err)
	}
	return assets, nil
}

// Exists reports whether bucket/key is present.
func (u *Uploader) Exists(ctx context.Context, bucket, key string) bool {
	_, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

package assets

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	mlopserrors "github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestArchive(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"app.go":            "package main",
		"pipelines/a.json":  "{}",
		".git/HEAD":         "ref",
		"cdk.out/manifest":  "{}",
		"scripts/glue/x.py": "print()",
	})

	out := t.TempDir()
	first, err := Archive(src, filepath.Join(out, "one.zip"))
	require.NoError(t, err)
	assert.Equal(t, []string{"app.go", "pipelines/a.json", "scripts/glue/x.py"}, zipNames(t, first))

	second, err := Archive(src, filepath.Join(out, "two.zip"))
	require.NoError(t, err)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "archives should be deterministic")
}

func TestSnakeToPascal(t *testing.T) {
	tests := map[string]string{
		"build_pipeline":              "BuildPipeline",
		"features_ingestion_pipeline": "FeaturesIngestionPipeline",
		"serving":                     "Serving",
		"a__b":                        "AB",
		"":                            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeToPascal(in), in)
	}
}

func TestPackageRepos(t *testing.T) {
	root := t.TempDir()
	repos := filepath.Join(root, "repos")
	demo := filepath.Join(root, "demo-workspace")
	writeTree(t, repos, map[string]string{
		"serving/app.py":        "",
		"build_pipeline/app.py": "",
	})
	writeTree(t, demo, map[string]string{"readme.md": "demo"})

	packages, demoPkg, err := PackageRepos(repos, demo, filepath.Join(root, "out"))
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, "BuildPipeline", packages[0].Name)
	assert.Equal(t, "Serving", packages[1].Name)
	require.NotNil(t, demoPkg)
	assert.Equal(t, "Demo", demoPkg.Name)
	assert.FileExists(t, demoPkg.Path)

	_, noDemo, err := PackageRepos(repos, filepath.Join(root, "missing"), filepath.Join(root, "out2"))
	require.NoError(t, err)
	assert.Nil(t, noDemo)
}

type fakeS3 struct {
	objects map[string]string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestUploader(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"load-ddb-table.py": "print('load')", "sub/b.py": "b"})

	client := &fakeS3{}
	u := NewUploader(client)
	ctx := context.Background()

	uri, err := u.UploadFile(ctx, "bucket", "glue/scripts/load-ddb-table.py", filepath.Join(dir, "load-ddb-table.py"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/glue/scripts/load-ddb-table.py", uri)
	assert.Equal(t, "print('load')", client.objects["bucket/glue/scripts/load-ddb-table.py"])
	assert.True(t, u.Exists(ctx, "bucket", "glue/scripts/load-ddb-table.py"))
	assert.False(t, u.Exists(ctx, "bucket", "nope"))

	assets, err := u.UploadDir(ctx, "bucket", "glue/scripts", dir)
	require.NoError(t, err)
	keys := make([]string, 0, len(assets))
	for _, a := range assets {
		keys = append(keys, a.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"glue/scripts/load-ddb-table.py", "glue/scripts/sub/b.py"}, keys)
}

func TestUploader_Error(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))

	_, err := NewUploader(&fakeS3{err: errors.New("denied")}).Upload(context.Background(), "b", "k", path)
	assert.Error(t, err)
}

func TestParseS3URI(t *testing.T) {
	asset, err := ParseS3URI("s3://bucket/path/to/key.zip")
	require.NoError(t, err)
	assert.Equal(t, CodeAsset{Bucket: "bucket", Key: "path/to/key.zip"}, asset)
	assert.Equal(t, "s3://bucket/path/to/key.zip", asset.URI())

	for _, bad := range []string{"bucket/key", "s3://bucket", "s3:///key"} {
		_, err := ParseS3URI(bad)
		assert.ErrorIs(t, err, mlopserrors.ErrInvalidS3URI, bad)
	}
}

func TestUploader_Publish(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"catalog.template.json":      `{"Resources":{}}`,
		"asset.abc123/buildspec.yml": "version: 0.2",
		"asset.abc123/Makefile":      "build:",
		"catalog.assets.json": `{
			"version": "48.0.0",
			"files": {
				"abc123": {
					"source": {"path": "asset.abc123", "packaging": "zip"},
					"destinations": {
						"current_account-current_region": {
							"bucketName": "mlops-assets-${AWS::AccountId}-${AWS::Region}",
							"objectKey": "catalog/abc123.zip"
						}
					}
				},
				"tmpl": {
					"source": {"path": "catalog.template.json", "packaging": "file"},
					"destinations": {
						"current_account-current_region": {
							"bucketName": "mlops-assets-${AWS::AccountId}-${AWS::Region}",
							"objectKey": "catalog/tmpl.json"
						}
					}
				}
			}
		}`,
	})

	client := &fakeS3{objects: map[string]string{"mlops-assets-123456789012-us-east-1/catalog/tmpl.json": "old"}}
	published, err := NewUploader(client).Publish(context.Background(), filepath.Join(root, "catalog.assets.json"), Placeholders{
		Account: "123456789012",
		Region:  "us-east-1",
	})
	require.NoError(t, err)
	require.Len(t, published, 2)

	zipped, ok := client.objects["mlops-assets-123456789012-us-east-1/catalog/abc123.zip"]
	require.True(t, ok)
	assert.NotEmpty(t, zipped)
	assert.Equal(t, "old", client.objects["mlops-assets-123456789012-us-east-1/catalog/tmpl.json"], "existing objects are not overwritten")

	tmpl, ok := Find(published, "catalog.template.json")
	require.True(t, ok)
	assert.Equal(t, "https://mlops-assets-123456789012-us-east-1.s3.us-east-1.amazonaws.com/catalog/tmpl.json", tmpl.HTTPURL("us-east-1"))

	_, ok = Find(published, "missing.json")
	assert.False(t, ok)
}

func TestLoadManifest_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.assets.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

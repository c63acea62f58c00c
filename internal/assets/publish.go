package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Manifest is the subset of a cloud assembly asset manifest ({stack}.assets.json)
// needed to publish file assets.
type Manifest struct {
	Version string               `json:"version"`
	Files   map[string]FileAsset `json:"files"`
}

type FileAsset struct {
	Source struct {
		Path      string `json:"path"`
		Packaging string `json:"packaging"` // file or zip
	} `json:"source"`
	Destinations map[string]struct {
		BucketName string `json:"bucketName"`
		ObjectKey  string `json:"objectKey"`
	} `json:"destinations"`
}

// Placeholders are substituted into destination bucket names and keys.
type Placeholders struct {
	Account   string
	Region    string
	Partition string
}

func (p Placeholders) Replace(s string) string {
	partition := p.Partition
	if partition == "" {
		partition = "aws"
	}
	return strings.NewReplacer(
		"${AWS::AccountId}", p.Account,
		"${AWS::Region}", p.Region,
		"${AWS::Partition}", partition,
	).Replace(s)
}

// Published is one asset staged in S3.
type Published struct {
	ID     string
	Source string // path relative to the assembly
	CodeAsset
}

// HTTPURL returns the regional virtual-hosted URL CloudFormation accepts as TemplateURL.
func (p Published) HTTPURL(region string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.Bucket, region, p.Key)
}

func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read asset manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse asset manifest %s: %w", path, err)
	}
	return m, nil
}

// Publish uploads every file asset listed in the manifest at manifestPath. Directory
// assets are zipped first. Objects already present are not uploaded again since keys
// are content hashes.
func (u *Uploader) Publish(ctx context.Context, manifestPath string, vars Placeholders) ([]Published, error) {
	logger := zerolog.Ctx(ctx)

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(manifestPath)

	ids := make([]string, 0, len(manifest.Files))
	for id := range manifest.Files {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var published []Published
	for _, id := range ids {
		asset := manifest.Files[id]
		path := filepath.Join(root, asset.Source.Path)
		if asset.Source.Packaging == "zip" {
			path, err = Archive(path, filepath.Join(root, ".publish", id+".zip"))
			if err != nil {
				return nil, err
			}
		}

		for _, dest := range asset.Destinations {
			bucket, key := vars.Replace(dest.BucketName), vars.Replace(dest.ObjectKey)
			p := Published{ID: id, Source: asset.Source.Path, CodeAsset: CodeAsset{Bucket: bucket, Key: key}}
			if u.Exists(ctx, bucket, key) {
				logger.Debug().Str("asset", id).Str("key", key).Msg("Asset already published")
				published = append(published, p)
				continue
			}
			if _, err := u.Upload(ctx, bucket, key, path); err != nil {
				return nil, err
			}
			published = append(published, p)
		}
	}
	return published, nil
}

// Find returns the published asset whose source is name.
func Find(published []Published, name string) (Published, bool) {
	for _, p := range published {
		if p.Source == name {
			return p, true
		}
	}
	return Published{}, false
}

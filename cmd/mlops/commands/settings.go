package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/savaki/sagemaker-mlops/internal/infra"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// DefaultSettingsFile is read from the working directory unless --config says otherwise.
const DefaultSettingsFile = "mlops.yaml"

// Settings are the catalog level options of mlops.yaml. Flags override them.
type Settings struct {
	StackName              string `yaml:"stack_name"`
	PortfolioName          string `yaml:"portfolio_name"`
	PortfolioOwner         string `yaml:"portfolio_owner"`
	ProductVersion         string `yaml:"product_version"`
	LaunchRoleARN          string `yaml:"launch_role_arn"`
	UseRoleARN             string `yaml:"use_role_arn"`
	StudioUserRoleARN      string `yaml:"studio_user_role_arn"`
	PortfolioAccessRoleARN string `yaml:"portfolio_access_role_arn"`
	LocalLaunchRole        bool   `yaml:"local_launch_role"`
	ReposDir               string `yaml:"repos_dir"`
	DemoDir                string `yaml:"demo_dir"`
	LambdaDir              string `yaml:"lambda_dir"`
	AssetsBucket           string `yaml:"assets_bucket"`
	OutDir                 string `yaml:"out_dir"`

	GitSeeds *GitSeedSettings `yaml:"git_seeds,omitempty"`
}

// GitSeedSettings switches the catalog to cloning seed code at deploy time.
type GitSeedSettings struct {
	Repository string   `yaml:"repository"`
	Branch     string   `yaml:"branch"`
	SeedPaths  []string `yaml:"seed_paths"`
	DemoPath   string   `yaml:"demo_path"`
}

// DefaultAssetsBucket holds catalog assets. The placeholders are resolved at publish time.
const DefaultAssetsBucket = "mlops-assets-${AWS::AccountId}-${AWS::Region}"

func DefaultSettings() Settings {
	return Settings{
		StackName:    infra.CatalogStackID,
		ReposDir:     "repos",
		DemoDir:      "demo-workspace",
		LambdaDir:    infra.DefaultLambdaDir,
		AssetsBucket: DefaultAssetsBucket,
		OutDir:       "cdk.out",
	}
}

// LoadSettings reads path over the defaults. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return settings, nil
}

// Parameters are the catalog stack parameters. Empty values keep the template defaults.
func (s Settings) Parameters() map[string]string {
	return map[string]string{
		"PortfolioName":  s.PortfolioName,
		"PortfolioOwner": s.PortfolioOwner,
		"ProductVersion": s.ProductVersion,
	}
}

// CatalogProps converts the settings into stack inputs.
func (s Settings) CatalogProps() infra.CatalogProps {
	props := infra.CatalogProps{
		ReposDir:               s.ReposDir,
		DemoDir:                s.DemoDir,
		LaunchRoleARN:          s.LaunchRoleARN,
		UseRoleARN:             s.UseRoleARN,
		StudioUserRoleARN:      s.StudioUserRoleARN,
		PortfolioAccessRoleARN: s.PortfolioAccessRoleARN,
		LambdaDir:              s.LambdaDir,
		LocalLaunchRole:        s.LocalLaunchRole,
	}
	if g := s.GitSeeds; g != nil && g.Repository != "" {
		branch := g.Branch
		if branch == "" {
			branch = "main"
		}
		props.GitSeeds = &infra.GitSeeds{
			Repository: g.Repository,
			Branch:     branch,
			SeedPaths:  g.SeedPaths,
			DemoPath:   g.DemoPath,
		}
	}
	return props
}

var settingsFlags = []cli.Flag{
	&cli.StringFlag{Name: "stack-name", Usage: "CloudFormation stack name"},
	&cli.StringFlag{Name: "portfolio-name", Usage: "Service Catalog portfolio name"},
	&cli.StringFlag{Name: "portfolio-owner", Usage: "Service Catalog portfolio owner"},
	&cli.StringFlag{Name: "product-version", Usage: "Product version name"},
	&cli.StringFlag{Name: "launch-role-arn", Usage: "Service Catalog launch role ARN"},
	&cli.StringFlag{Name: "use-role-arn", Usage: "Service Catalog products use role ARN"},
	&cli.StringFlag{Name: "studio-user-role-arn", Usage: "Default SageMaker Studio user role", EnvVars: []string{"SAGEMAKER_STUDIO_USER_ROLE_ARN"}},
	&cli.StringFlag{Name: "portfolio-access-role-arn", Usage: "Role granted access to the portfolio"},
	&cli.BoolFlag{Name: "local-launch-role", Usage: "Constrain the launch role by name"},
	&cli.StringFlag{Name: "repos-dir", Usage: "Directory holding the seed repositories"},
	&cli.StringFlag{Name: "demo-dir", Usage: "Directory holding the demo workspace"},
	&cli.StringFlag{Name: "lambda-dir", Usage: "Directory holding {function}/bootstrap builds"},
	&cli.StringFlag{Name: "assets-bucket", Usage: "Bucket receiving the synthesized assets"},
	&cli.StringFlag{Name: "out-dir", Usage: "Cloud assembly output directory"},
}

// settingsFromContext loads --config and applies any flag that was set.
func settingsFromContext(c *cli.Context) (Settings, error) {
	settings, err := LoadSettings(c.String("config"))
	if err != nil {
		return Settings{}, err
	}

	strs := map[string]*string{
		"stack-name":                &settings.StackName,
		"portfolio-name":            &settings.PortfolioName,
		"portfolio-owner":           &settings.PortfolioOwner,
		"product-version":           &settings.ProductVersion,
		"launch-role-arn":           &settings.LaunchRoleARN,
		"use-role-arn":              &settings.UseRoleARN,
		"studio-user-role-arn":      &settings.StudioUserRoleARN,
		"portfolio-access-role-arn": &settings.PortfolioAccessRoleARN,
		"repos-dir":                 &settings.ReposDir,
		"demo-dir":                  &settings.DemoDir,
		"lambda-dir":                &settings.LambdaDir,
		"assets-bucket":             &settings.AssetsBucket,
		"out-dir":                   &settings.OutDir,
	}
	for name, field := range strs {
		if c.IsSet(name) {
			*field = c.String(name)
		}
	}
	if c.IsSet("local-launch-role") {
		settings.LocalLaunchRole = c.Bool("local-launch-role")
	}
	return settings, nil
}

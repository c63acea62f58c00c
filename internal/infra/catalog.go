package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3assets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsservicecatalog"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/constants"
)

// CatalogStackID is the logical id of the outer stack.
const CatalogStackID = "ServiceCatalogProjectStack"

// ProductName is the Service Catalog product name shown in SageMaker Studio.
const ProductName = "Amazon SageMaker MLOps Demo"

// GitSeeds stages seed code from a git repository at deploy time instead of
// packaging local directories.
type GitSeeds struct {
	Repository string
	Branch     string
	SeedPaths  []string // e.g. repos/build_pipeline
	DemoPath   string
}

// CatalogProps are the synth-time inputs of the Service Catalog stack.
type CatalogProps struct {
	ReposDir               string
	DemoDir                string
	LaunchRoleARN          string
	UseRoleARN             string
	StudioUserRoleARN      string
	PortfolioAccessRoleARN string
	LambdaDir              string
	TemplateDir            string
	GitSeeds               *GitSeeds
	LocalLaunchRole        bool // constrain by role name so the product is portable across accounts
	Env                    *awscdk.Environment
	Synthesizer            awscdk.IStackSynthesizer
}

// CatalogStack publishes the project stack as a Service Catalog product.
type CatalogStack struct {
	awscdk.Stack

	TemplatePath string
	Portfolio    awsservicecatalog.Portfolio
	Product      awsservicecatalog.CloudFormationProduct
}

// SeedBucketName is the bucket the clone-seeds function writes to. It only uses
// pseudo parameters so the product template can reference it too.
func SeedBucketName() string {
	return fmt.Sprintf("mlops-seeds-%s-%s", *awscdk.Aws_ACCOUNT_ID(), *awscdk.Aws_REGION())
}

// SeedKey is the object key clone-seeds uses for a seed path.
func SeedKey(seedPath string) string {
	return filepath.Base(seedPath) + ".zip"
}

func NewCatalogStack(scope constructs.Construct, id string, props CatalogProps) (*CatalogStack, error) {
	stack := awscdk.NewStack(scope, jsii.String(id), &awscdk.StackProps{
		Env:         props.Env,
		Synthesizer: props.Synthesizer,
		Description: jsii.String("Service Catalog portfolio for the SageMaker MLOps project template"),
	})

	roleARN := func(override, name string) string {
		if override != "" {
			return override
		}
		return *stack.FormatArn(&awscdk.ArnComponents{
			Service:      jsii.String("iam"),
			Region:       jsii.String(""),
			Resource:     jsii.String("role"),
			ResourceName: jsii.String(name),
		})
	}
	launchRoleARN := roleARN(props.LaunchRoleARN, constants.ProductsLaunchRoleName)
	useRoleARN := roleARN(props.UseRoleARN, constants.ProductsUseRoleName)

	portfolioName := awscdk.NewCfnParameter(stack, jsii.String("PortfolioName"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The name of the portfolio"),
		Default:     jsii.String("SageMaker Organization Templates"),
		MinLength:   jsii.Number(1),
	})
	portfolioOwner := awscdk.NewCfnParameter(stack, jsii.String("PortfolioOwner"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The owner of the portfolio"),
		Default:     jsii.String("Administrator"),
		MinLength:   jsii.Number(1),
		MaxLength:   jsii.Number(50),
	})
	productVersion := awscdk.NewCfnParameter(stack, jsii.String("ProductVersion"), &awscdk.CfnParameterProps{
		Type:        jsii.String("String"),
		Description: jsii.String("The product version to deploy"),
		Default:     jsii.String("1.0"),
		MinLength:   jsii.Number(1),
	})

	launchRole := awsiam.Role_FromRoleArn(stack, jsii.String("LaunchRole"), jsii.String(launchRoleARN), nil)

	var (
		codeAssets map[string]assets.CodeAsset
		demo       *assets.CodeAsset
		err        error
	)
	if props.GitSeeds != nil {
		codeAssets, demo = gitSeedAssets(stack, launchRole, props)
	} else {
		codeAssets, demo, err = localSeedAssets(stack, launchRole, props.ReposDir, props.DemoDir)
		if err != nil {
			return nil, err
		}
	}

	templatePath, err := GenerateTemplate(func(scope constructs.Construct, id string, synthesizer awscdk.IStackSynthesizer) awscdk.Stack {
		return NewProjectStack(scope, id, ProjectStackProps{
			CodeAssets:        codeAssets,
			DemoAsset:         demo,
			StudioUserRoleARN: props.StudioUserRoleARN,
			LambdaDir:         props.LambdaDir,
			Synthesizer:       synthesizer,
		}).Stack
	}, ProjectStackID, props.TemplateDir)
	if err != nil {
		return nil, err
	}

	portfolio := awsservicecatalog.NewPortfolio(stack, jsii.String("Portfolio"), &awsservicecatalog.PortfolioProps{
		DisplayName:  portfolioName.ValueAsString(),
		ProviderName: portfolioOwner.ValueAsString(),
		Description:  jsii.String("Organization templates for MLOps Demo"),
	})
	product := awsservicecatalog.NewCloudFormationProduct(stack, jsii.String("Product"), &awsservicecatalog.CloudFormationProductProps{
		Owner:       portfolioOwner.ValueAsString(),
		ProductName: jsii.String(ProductName),
		Description: jsii.String("Amazon SageMaker MLOps demo project with Feature Ingestion, Model Build, and Deployment pipelines"),
		ProductVersions: &[]*awsservicecatalog.CloudFormationProductVersion{
			{
				CloudFormationTemplate: awsservicecatalog.CloudFormationTemplate_FromAsset(jsii.String(templatePath), nil),
				ProductVersionName:     productVersion.ValueAsString(),
			},
		},
	})
	awscdk.Tags_Of(product).Add(jsii.String(constants.TagStudioVisibility), jsii.String("true"), nil)
	portfolio.AddProduct(product)

	if props.PortfolioAccessRoleARN != "" {
		portfolio.GiveAccessToRole(awsiam.Role_FromRoleArn(stack, jsii.String("execution_role_arn"), jsii.String(props.PortfolioAccessRoleARN), nil))
	}

	if props.LocalLaunchRole {
		roleName := newRoleNameResource(stack, props.LambdaDir, launchRoleARN)
		awsservicecatalog.NewCfnLaunchRoleConstraint(stack, jsii.String("LaunchRoleConstraint"), &awsservicecatalog.CfnLaunchRoleConstraintProps{
			PortfolioId:   portfolio.PortfolioId(),
			ProductId:     product.ProductId(),
			LocalRoleName: roleName,
		})
	} else {
		portfolio.SetLaunchRole(product, launchRole, nil)
	}

	AddGrants(launchRole, LaunchGrants(useRoleARN, Account{
		Region: *awscdk.Aws_REGION(),
		ID:     *awscdk.Aws_ACCOUNT_ID(),
	}))

	return &CatalogStack{
		Stack:        stack,
		TemplatePath: templatePath,
		Portfolio:    portfolio,
		Product:      product,
	}, nil
}

// SeedDirs lists the seed repository directories under reposDir, sorted.
func SeedDirs(reposDir string) ([]string, error) {
	entries, err := os.ReadDir(reposDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", reposDir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(reposDir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func localSeedAssets(scope constructs.Construct, reader awsiam.IGrantable, reposDir, demoDir string) (map[string]assets.CodeAsset, *assets.CodeAsset, error) {
	dirs, err := SeedDirs(reposDir)
	if err != nil {
		return nil, nil, err
	}

	upload := func(dir string) assets.CodeAsset {
		asset := awss3assets.NewAsset(scope, jsii.String(filepath.Base(dir)), &awss3assets.AssetProps{
			Path:    jsii.String(dir),
			Readers: &[]awsiam.IGrantable{reader},
		})
		return assets.CodeAsset{Bucket: *asset.S3BucketName(), Key: *asset.S3ObjectKey()}
	}

	codeAssets := make(map[string]assets.CodeAsset, len(dirs))
	for _, dir := range dirs {
		codeAssets[assets.SnakeToPascal(filepath.Base(dir))] = upload(dir)
	}

	if demoDir == "" {
		return codeAssets, nil, nil
	}
	if _, err := os.Stat(demoDir); err != nil {
		return codeAssets, nil, nil
	}
	demo := upload(demoDir)
	return codeAssets, &demo, nil
}

func gitSeedAssets(stack awscdk.Stack, reader awsiam.IGrantable, props CatalogProps) (map[string]assets.CodeAsset, *assets.CodeAsset) {
	seeds := props.GitSeeds
	bucketName := SeedBucketName()

	bucket := awss3.NewBucket(stack, jsii.String("SeedBucket"), &awss3.BucketProps{
		BucketName:        jsii.String(bucketName),
		RemovalPolicy:     awscdk.RemovalPolicy_DESTROY,
		AutoDeleteObjects: jsii.Bool(true),
	})
	bucket.GrantRead(reader, nil)

	fn := newGoFunction(stack, "CloneSeeds", props.LambdaDir, FunctionOptions{
		Asset:       "clone-seeds",
		Timeout:     300,
		MemorySize:  1024,
		Environment: map[string]string{"SeedBucket": bucketName},
	})
	bucket.GrantWrite(fn, nil, nil)

	paths := append([]string{}, seeds.SeedPaths...)
	if seeds.DemoPath != "" {
		paths = append(paths, seeds.DemoPath)
	}
	resource := awscdk.NewCustomResource(stack, jsii.String("SeedCode"), &awscdk.CustomResourceProps{
		ServiceToken: fn.FunctionArn(),
		Properties: &map[string]interface{}{
			"GitRepository": seeds.Repository,
			"Branch":        seeds.Branch,
			"SeedPaths":     paths,
		},
	})
	resource.Node().AddDependency(bucket)

	codeAssets := make(map[string]assets.CodeAsset, len(seeds.SeedPaths))
	for _, p := range seeds.SeedPaths {
		codeAssets[assets.SnakeToPascal(filepath.Base(p))] = assets.CodeAsset{Bucket: bucketName, Key: SeedKey(p)}
	}
	if seeds.DemoPath == "" {
		return codeAssets, nil
	}
	return codeAssets, &assets.CodeAsset{Bucket: bucketName, Key: SeedKey(seeds.DemoPath)}
}

func newRoleNameResource(stack awscdk.Stack, lambdaDir, roleARN string) *string {
	fn := newGoFunction(stack, "RoleNameFunction", lambdaDir, FunctionOptions{
		Asset:   "role-name",
		Timeout: 30,
	})
	fn.AddToRolePolicy(statement([]string{"iam:GetRole"}, []string{roleARN}))

	resource := awscdk.NewCustomResource(stack, jsii.String("LaunchRoleName"), &awscdk.CustomResourceProps{
		ServiceToken: fn.FunctionArn(),
		Properties: &map[string]interface{}{
			"RoleArn": roleARN,
		},
	})
	return resource.GetAttString(jsii.String("RoleName"))
}

package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/savaki/sagemaker-mlops/internal/constants"
	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// Config holds the project environment shared by the CDK app, the CLI and the Lambdas.
// Build-time fields come from the CodeBuild environment; runtime fields from the
// function environment.
type Config struct {
	ProjectBucket     string
	PipelineRoleARN   string
	StudioUserRoleARN string
	ProjectName       string
	ProjectID         string
	ConstructID       string
	EventsRoleARN     string
	LambdaRoleARN     string
	APIGatewayRoleARN string
	GlueRoleARN       string
	Region            string
	CodePipelineARN   string

	StateMachineARN       string
	TargetGlueJob         string
	TargetTable           string
	EndpointName          string
	ContentType           string
	ClaimsFeatureGroup    string
	CustomersFeatureGroup string
	TopicARN              string
}

// RequireProject returns ErrMissingConfiguration unless project name and id are set.
func (c *Config) RequireProject() error {
	if c.ProjectName == "" || c.ProjectID == "" {
		return fmt.Errorf("%w: SAGEMAKER_PROJECT_NAME and SAGEMAKER_PROJECT_ID", errors.ErrMissingConfiguration)
	}
	return nil
}

// SSMAPI is the subset of the SSM client used by the parameter store.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetParameterFresh retrieves a parameter, bypassing any cache
	GetParameterFresh(ctx context.Context, name string) (string, error)

	// PutParameter overwrites a string parameter
	PutParameter(ctx context.Context, name, value string) error

	// GetParametersByPath returns every parameter below path keyed by full name
	GetParametersByPath(ctx context.Context, path string) (map[string]string, error)

	// GetConfig loads the project configuration
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client      SSMAPI
	projectName string
	mu          sync.RWMutex
	cache       map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMAPI, projectName string) *SSMParameterStore {
	return &SSMParameterStore{
		client:      client,
		projectName: projectName,
		cache:       make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	return s.GetParameterFresh(ctx, name)
}

// GetParameterFresh always reads name from SSM and refreshes the cache entry.
// Operator-controlled switches such as the approval flag are read this way.
func (s *SSMParameterStore) GetParameterFresh(ctx context.Context, name string) (string, error) {
	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("%w: parameter %s", errors.ErrRecordNotFound, name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// PutParameter writes name and refreshes the cache entry.
func (s *SSMParameterStore) PutParameter(ctx context.Context, name, value string) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", name, err)
	}

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()
	return nil
}

// GetParametersByPath walks every page below path.
func (s *SSMParameterStore) GetParametersByPath(ctx context.Context, path string) (map[string]string, error) {
	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
		}
		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				params[*param.Name] = *param.Value
			}
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	return params, nil
}

// GetConfig reads the environment and overlays the construct's CodePipeline ARN from SSM.
// Without a construct id nothing is read from SSM.
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := configFromEnv()
	if config.ProjectName == "" {
		config.ProjectName = s.projectName
	}
	if config.ProjectName == "" || config.ConstructID == "" {
		return config, nil
	}

	v, err := s.GetParameter(ctx, constants.PipelineARNName(config.ProjectName, config.ConstructID))
	switch {
	case err == nil:
		config.CodePipelineARN = v
	case !isParameterNotFound(err):
		return nil, err
	}

	return config, nil
}

func isParameterNotFound(err error) bool {
	var notFound *types.ParameterNotFound
	return stderrors.Is(err, errors.ErrRecordNotFound) || stderrors.As(err, &notFound)
}

// EnvParameterStore implements ParameterStore using environment variables
// This is a NoOp implementation for local development without AWS connection
type EnvParameterStore struct {
	projectName string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(projectName string) *EnvParameterStore {
	return &EnvParameterStore{
		projectName: projectName,
	}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetParameterFresh is GetParameter; the environment has no cache.
func (e *EnvParameterStore) GetParameterFresh(ctx context.Context, name string) (string, error) {
	return e.GetParameter(ctx, name)
}

// PutParameter sets the environment variable for the remainder of the process.
func (e *EnvParameterStore) PutParameter(ctx context.Context, name, value string) error {
	return os.Setenv(name, value)
}

// GetParametersByPath is not supported without SSM and returns nothing.
func (e *EnvParameterStore) GetParametersByPath(ctx context.Context, path string) (map[string]string, error) {
	return map[string]string{}, nil
}

// GetConfig loads all application configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := configFromEnv()
	if config.ProjectName == "" {
		config.ProjectName = e.projectName
	}
	return config, nil
}

func configFromEnv() *Config {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("region")
	}
	return &Config{
		ProjectBucket:     os.Getenv("PROJECT_BUCKET"),
		PipelineRoleARN:   os.Getenv("SAGEMAKER_PIPELINE_ROLE_ARN"),
		StudioUserRoleARN: os.Getenv("SAGEMAKER_STUDIO_USER_ROLE_ARN"),
		ProjectName:       firstNonEmpty(os.Getenv("SAGEMAKER_PROJECT_NAME"), os.Getenv("PROJECT_NAME")),
		ProjectID:         firstNonEmpty(os.Getenv("SAGEMAKER_PROJECT_ID"), os.Getenv("PROJECT_ID")),
		ConstructID:       os.Getenv("CODEPIPELINE_CONSTRUCT_ID"),
		EventsRoleARN:     os.Getenv("EVENTS_ROLE_ARN"),
		LambdaRoleARN:     os.Getenv("LAMBDA_ROLE_ARN"),
		APIGatewayRoleARN: os.Getenv("API_GATEWAY_ROLE_ARN"),
		GlueRoleARN:       os.Getenv("GLUE_ROLE_ARN"),
		Region:            region,
		CodePipelineARN:   os.Getenv("CODEPIPELINE_ARN"),

		StateMachineARN:       os.Getenv("state_machine_arn"),
		TargetGlueJob:         os.Getenv("TARGET_GLUE_JOB"),
		TargetTable:           firstNonEmpty(os.Getenv("TARGET_DDB_TABLE"), os.Getenv("target_ddb_table")),
		EndpointName:          os.Getenv("endpoint_name"),
		ContentType:           os.Getenv("content_type"),
		ClaimsFeatureGroup:    os.Getenv("claims_fg_name"),
		CustomersFeatureGroup: os.Getenv("customers_fg_name"),
		TopicARN:              os.Getenv("TOPIC_ARN"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

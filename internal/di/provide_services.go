package di

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/savaki/sagemaker-mlops/internal/approval"
	"github.com/savaki/sagemaker-mlops/internal/assets"
	"github.com/savaki/sagemaker-mlops/internal/errors"
	"github.com/savaki/sagemaker-mlops/internal/featurestore"
	"github.com/savaki/sagemaker-mlops/internal/loader"
	"github.com/savaki/sagemaker-mlops/internal/orchestrator"
	"github.com/savaki/sagemaker-mlops/internal/services"
)

func ProvideOrchestrator(sfnClient *sfn.Client, config *services.Config) (*orchestrator.Orchestrator, error) {
	if config.StateMachineARN == "" {
		return nil, fmt.Errorf("%w: state_machine_arn", errors.ErrMissingConfiguration)
	}
	return orchestrator.New(sfnClient, config.StateMachineARN), nil
}

func ProvideModelRegistry(client *sagemaker.Client) *services.ModelRegistry {
	return services.NewModelRegistry(client)
}

func ProvideCatalogResolver(client *sagemaker.Client) *featurestore.Resolver {
	return featurestore.NewResolver(client)
}

func ProvideIAMService(client *iam.Client, stsClient *sts.Client) *services.IAMService {
	return services.NewIAMService(client, stsClient)
}

func ProvideUploader(client *s3.Client) *assets.Uploader {
	return assets.NewUploader(client)
}

func ProvideScoresService(client *dynamodb.Client, config *services.Config) (*services.ScoresService, error) {
	if config.TargetTable == "" {
		return nil, fmt.Errorf("%w: target_ddb_table", errors.ErrMissingConfiguration)
	}
	return services.NewScoresServiceWithClient(client, config.TargetTable), nil
}

func ProvideCallbacks(client *sagemaker.Client) *loader.Callbacks {
	return loader.NewCallbacks(client)
}

func ProvideSubmitter(client *glue.Client, callbacks *loader.Callbacks) *loader.Submitter {
	return loader.NewSubmitter(client, callbacks)
}

func ProvideStatusChecker(client *glue.Client, callbacks *loader.Callbacks) *loader.StatusChecker {
	return loader.NewStatusChecker(client, callbacks)
}

func ProvidePoller(client *glue.Client, callbacks *loader.Callbacks) *loader.Poller {
	return loader.NewPoller(client, callbacks)
}

func ProvideExecutor(o *orchestrator.Orchestrator, callbacks *loader.Callbacks, config *services.Config) *loader.Executor {
	return loader.NewExecutor(o, callbacks, config.TargetTable, config.TargetGlueJob)
}

func ProvideApprovalGate(client *codepipeline.Client, store services.ParameterStore, config *services.Config) (*approval.Gate, error) {
	if err := config.RequireProject(); err != nil {
		return nil, err
	}
	return approval.New(client, store, config.ProjectName, config.ProjectID), nil
}

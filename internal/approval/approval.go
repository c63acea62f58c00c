// Package approval implements the auto-approval gate that answers CodePipeline manual
// approval notifications based on a per-construct SSM flag.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/constants"
)

// CodePipelineAPI is the subset of CodePipeline used to approve an action.
type CodePipelineAPI interface {
	PutApprovalResult(ctx context.Context, params *codepipeline.PutApprovalResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutApprovalResultOutput, error)
}

// FlagReader reads a single SSM parameter without caching, so a flag changed by an
// operator applies to the next notification.
type FlagReader interface {
	GetParameterFresh(ctx context.Context, name string) (string, error)
}

// Request is the approval block CodePipeline publishes to SNS.
type Request struct {
	Token        string `json:"token"`
	PipelineName string `json:"pipelineName"`
	StageName    string `json:"stageName"`
	ActionName   string `json:"actionName"`
}

// Notification is the SNS message body.
type Notification struct {
	Approval Request `json:"approval"`
}

// Outcome records what the gate did with one notification.
type Outcome string

const (
	OutcomeApproved        Outcome = "approved"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeFlagUnavailable Outcome = "flag-unavailable"
	OutcomeApprovalFailed  Outcome = "approval-failed"
	OutcomeMalformed       Outcome = "malformed"
)

// ParseFlag interprets a flag value. Only "1" and "true" enable approval.
func ParseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true":
		return true
	default:
		return false
	}
}

// Gate approves pending manual approvals when the construct's flag is set.
type Gate struct {
	pipeline    CodePipelineAPI
	flags       FlagReader
	projectName string
	projectID   string
}

func New(pipeline CodePipelineAPI, flags FlagReader, projectName, projectID string) *Gate {
	return &Gate{
		pipeline:    pipeline,
		flags:       flags,
		projectName: projectName,
		projectID:   projectID,
	}
}

// HandleMessage decodes one SNS message and processes it. Errors are logged, never returned.
func (g *Gate) HandleMessage(ctx context.Context, message string) Outcome {
	logger := zerolog.Ctx(ctx)

	var n Notification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		logger.Error().Err(err).Msg("Failed to decode approval notification")
		return OutcomeMalformed
	}
	if n.Approval.Token == "" || n.Approval.PipelineName == "" {
		logger.Error().Msg("Approval notification missing token or pipeline name")
		return OutcomeMalformed
	}
	return g.Process(ctx, n.Approval)
}

// Process reads the flag for the request's construct and approves when it is set.
func (g *Gate) Process(ctx context.Context, req Request) Outcome {
	logger := zerolog.Ctx(ctx).With().Str("pipeline", req.PipelineName).Logger()
	logger.Info().Msg("Processing approval")

	construct := constants.ConstructFromPipeline(g.projectID, req.PipelineName)
	name := constants.ApprovalFlagName(g.projectName, construct)

	value, err := g.flags.GetParameterFresh(ctx, name)
	if err != nil {
		logger.Error().Err(err).Str("parameter", name).Msg("Failed to read approval flag, leaving for manual approval")
		return OutcomeFlagUnavailable
	}

	if !ParseFlag(value) {
		logger.Info().Str("flag", value).Msg("Automatic approval disabled")
		return OutcomeDisabled
	}

	if err := g.approve(ctx, req); err != nil {
		logger.Error().Err(err).Msg("Failed to automatically approve the pipeline")
		return OutcomeApprovalFailed
	}

	logger.Info().Msg("Automatic approval successful")
	return OutcomeApproved
}

func (g *Gate) approve(ctx context.Context, req Request) error {
	_, err := g.pipeline.PutApprovalResult(ctx, &codepipeline.PutApprovalResultInput{
		PipelineName: aws.String(req.PipelineName),
		StageName:    aws.String(req.StageName),
		ActionName:   aws.String(req.ActionName),
		Token:        aws.String(req.Token),
		Result: &types.ApprovalResult{
			Status:  types.ApprovalStatusApproved,
			Summary: aws.String(constants.ApprovalSummary),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put approval result: %w", err)
	}
	return nil
}

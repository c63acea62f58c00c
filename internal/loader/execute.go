package loader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/models"
)

// Starter starts a loader state machine execution.
type Starter interface {
	StartExecution(ctx context.Context, input models.LoaderInput) (string, error)
}

// Executor turns pipeline callback messages into loader executions.
type Executor struct {
	starter   Starter
	callbacks *Callbacks
	table     string
	job       string
}

func NewExecutor(starter Starter, callbacks *Callbacks, table, job string) *Executor {
	return &Executor{starter: starter, callbacks: callbacks, table: table, job: job}
}

// Input builds the execution input for a callback message.
func (e *Executor) Input(msg models.CallbackMessage) models.LoaderInput {
	return models.LoaderInput{
		StatusCode: 200,
		Body: models.LoaderBody{
			Bucket:         msg.Arguments.Bucket,
			KeysRawProc:    []string{msg.Arguments.KeyToProcess},
			TargetDDBTable: e.table,
			TargetJob:      e.job,
			Token:          msg.Token,
		},
		CallbackToken: msg.Token,
	}
}

// HandleSQS starts one execution per record. A failed record fails its callback step,
// is listed in the response's batch item failures and processing continues with the
// next record, so only failed messages return to the queue.
func (e *Executor) HandleSQS(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, []string) {
	logger := zerolog.Ctx(ctx)

	var (
		response events.SQSEventResponse
		arns     []string
	)
	for _, record := range event.Records {
		arn, err := e.handleRecord(ctx, record)
		if err != nil {
			logger.Error().Err(err).Str("message_id", record.MessageId).Msg("Failed to start loader execution")
			response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}
		arns = append(arns, arn)
	}

	if n := len(response.BatchItemFailures); n > 0 {
		logger.Warn().Int("failed", n).Int("records", len(event.Records)).Msg("Some records were returned to the queue")
	}
	return response, arns
}

func (e *Executor) handleRecord(ctx context.Context, record events.SQSMessage) (string, error) {
	var msg models.CallbackMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		return "", fmt.Errorf("failed to parse callback message: %w", err)
	}

	arn, err := e.starter.StartExecution(ctx, e.Input(msg))
	if err != nil {
		if cbErr := e.callbacks.Fail(ctx, msg.Token, "Fatal error"); cbErr != nil {
			zerolog.Ctx(ctx).Error().Err(cbErr).Msg("Failed to report execution failure")
		}
		return "", err
	}

	zerolog.Ctx(ctx).Info().Str("execution_arn", arn).Msg("Started loader execution")
	return arn, nil
}

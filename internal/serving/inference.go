package serving

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerfeaturestoreruntime"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/featurestore"
)

// FeatureStoreAPI is the subset of the feature store runtime used for online lookups.
type FeatureStoreAPI interface {
	GetRecord(ctx context.Context, params *sagemakerfeaturestoreruntime.GetRecordInput, optFns ...func(*sagemakerfeaturestoreruntime.Options)) (*sagemakerfeaturestoreruntime.GetRecordOutput, error)
}

// RuntimeAPI invokes a hosted model.
type RuntimeAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// InferenceConfig names the endpoint and the online feature groups it reads.
type InferenceConfig struct {
	EndpointName          string
	ContentType           string
	ClaimsFeatureGroup    string
	CustomersFeatureGroup string
	Columns               []string
}

// Prediction is the successful inference reply.
type Prediction struct {
	PolicyID string          `json:"policy_id"`
	Score    json.RawMessage `json:"score"`
}

// InferenceHandler serves GET /get-{endpoint}?policy_id=
type InferenceHandler struct {
	features FeatureStoreAPI
	runtime  RuntimeAPI
	config   InferenceConfig
}

func NewInferenceHandler(features FeatureStoreAPI, runtime RuntimeAPI, config InferenceConfig) *InferenceHandler {
	if len(config.Columns) == 0 {
		config.Columns = featurestore.InferenceColumns
	}
	if config.ContentType == "" {
		config.ContentType = "text/csv"
	}
	return &InferenceHandler{features: features, runtime: runtime, config: config}
}

func (h *InferenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	logger := zerolog.Ctx(ctx).With().Str("policy_id", id).Logger()

	claims, found, err := h.record(ctx, h.config.ClaimsFeatureGroup, id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read claims record")
		errorResponse(w, http.StatusInternalServerError, InternalErrorMessage)
		return
	}
	if !found {
		logger.Info().Msg("No record in claims feature group")
		errorResponse(w, http.StatusNotFound, "Record not found in CLAIMS feature group")
		return
	}

	customers, found, err := h.record(ctx, h.config.CustomersFeatureGroup, id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read customers record")
		errorResponse(w, http.StatusInternalServerError, InternalErrorMessage)
		return
	}
	if !found {
		logger.Info().Msg("No record in customers feature group")
		errorResponse(w, http.StatusNotFound, "Record not found in CUSTOMERS feature group")
		return
	}

	score, err := h.score(ctx, claims, customers)
	if err != nil {
		logger.Error().Err(err).Msg("Inference failed")
		errorResponse(w, http.StatusInternalServerError, InternalErrorMessage)
		return
	}

	logger.Info().RawJSON("score", score).Msg("Scored policy")
	jsonResponse(w, http.StatusOK, Prediction{PolicyID: id, Score: score})
}

func (h *InferenceHandler) record(ctx context.Context, group, id string) (featurestore.Record, bool, error) {
	out, err := h.features.GetRecord(ctx, &sagemakerfeaturestoreruntime.GetRecordInput{
		FeatureGroupName:              aws.String(group),
		RecordIdentifierValueAsString: aws.String(id),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get record from %s: %w", group, err)
	}
	if len(out.Record) == 0 {
		return nil, false, nil
	}

	record := make(featurestore.Record, len(out.Record))
	for _, v := range out.Record {
		record[aws.ToString(v.FeatureName)] = aws.ToString(v.ValueAsString)
	}
	return record, true, nil
}

func (h *InferenceHandler) score(ctx context.Context, claims, customers featurestore.Record) (json.RawMessage, error) {
	vector, err := featurestore.Vector(h.config.Columns, claims, customers)
	if err != nil {
		return nil, err
	}

	out, err := h.runtime.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(h.config.EndpointName),
		ContentType:  aws.String(h.config.ContentType),
		Body:         []byte(vector),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke endpoint %s: %w", h.config.EndpointName, err)
	}

	if !json.Valid(out.Body) {
		return nil, fmt.Errorf("endpoint %s returned a non-JSON body", h.config.EndpointName)
	}
	return json.RawMessage(out.Body), nil
}

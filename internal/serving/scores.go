package serving

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// ScoreLookup reads raw score items for a policy.
type ScoreLookup interface {
	Lookup(ctx context.Context, policyID string, limit int) ([]map[string]any, error)
}

// ScoresHandler serves GET /get-{pipeline}?policy_id=
type ScoresHandler struct {
	scores ScoreLookup
	limit  int
}

func NewScoresHandler(scores ScoreLookup, limit int) *ScoresHandler {
	return &ScoresHandler{scores: scores, limit: limit}
}

func (h *ScoresHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	logger := zerolog.Ctx(r.Context())
	items, err := h.scores.Lookup(r.Context(), id, h.limit)
	if err != nil {
		if isAccessDenied(err) {
			logger.Error().Err(err).Msg("Access denied reading scores")
			jsonResponse(w, http.StatusUnauthorized, AccessDeniedMessage)
			return
		}
		logger.Error().Err(err).Str("policy_id", id).Msg("Failed to read scores")
		errorResponse(w, http.StatusInternalServerError, InternalErrorMessage)
		return
	}

	logger.Info().Str("policy_id", id).Int("items", len(items)).Msg("Read scores")
	jsonResponse(w, http.StatusOK, items)
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "AccessDeniedException"
	}
	return false
}

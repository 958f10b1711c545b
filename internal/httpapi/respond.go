package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/service"
)

const genericFailure = "Generation failed, please try again"

type errorBody struct {
	Error     string            `json:"error"`
	Details   map[string]string `json:"details,omitempty"`
	Balance   *int              `json:"balance,omitempty"`
	Required  int               `json:"required,omitempty"`
	FaceCount *int              `json:"faceCount,omitempty"`
	AttemptID string            `json:"attemptId,omitempty"`
}

// errorResponse maps a service error onto a status and a body safe to show
// to the user. Infrastructure details never leave the server.
func errorResponse(err error) (int, errorBody) {
	var (
		validation   *models.ValidationError
		insufficient *models.InsufficientCreditsError
		face         *models.FaceDetectionError
		generation   *models.GenerationError
	)
	switch {
	case errors.As(err, &validation):
		body := errorBody{Error: validation.Kind.Error()}
		if validation.Field != "" {
			body.Details = map[string]string{validation.Field: validation.Value}
		}
		return http.StatusBadRequest, body
	case errors.As(err, &insufficient):
		balance := insufficient.Balance
		return http.StatusPaymentRequired, errorBody{Error: "insufficient credits", Balance: &balance, Required: insufficient.Required}
	case errors.As(err, &face):
		count := face.FaceCount
		return http.StatusUnprocessableEntity, errorBody{Error: face.Message, FaceCount: &count}
	case errors.As(err, &generation):
		return http.StatusInternalServerError, errorBody{Error: genericFailure, AttemptID: generation.AttemptID}
	case errors.Is(err, models.ErrJobNotFound), errors.Is(err, models.ErrUserNotFound), errors.Is(err, service.ErrPlanNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error()}
	case errors.Is(err, service.ErrPromoInvalid):
		return http.StatusNotFound, errorBody{Error: err.Error()}
	case errors.Is(err, service.ErrPromoExhausted), errors.Is(err, service.ErrPromoAlreadyRedeemed):
		return http.StatusConflict, errorBody{Error: err.Error()}
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, errorBody{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

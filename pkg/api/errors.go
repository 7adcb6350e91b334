package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/parity/pkg/engine"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string                 `json:"code"`
	Class     string                 `json:"class,omitempty"`
	Message   string                 `json:"message"`
	Resource  string                 `json:"resource,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch engine.CodeOf(err) {
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	case engine.ErrCodeNoCombinations:
		return http.StatusUnprocessableEntity
	case engine.ErrCodeValidation:
		return http.StatusBadRequest
	case engine.ErrCodeAlreadyRunning:
		return http.StatusConflict
	case engine.ErrCodeQueueFull:
		return http.StatusServiceUnavailable
	}
	if engine.IsConfiguration(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	requestID, _ := RequestIDFromContext(r.Context())

	detail := errorDetail{
		Code:      engine.CodeOf(err),
		Class:     string(engine.ClassOf(err)),
		Message:   err.Error(),
		RequestID: requestID,
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		detail.Message = ee.Message
		detail.Resource = ee.Resource
		detail.Details = ee.Details
	}
	if detail.Code == "" {
		detail.Code = engine.ErrCodeInternal
	}
	if status == http.StatusInternalServerError {
		// internal causes stay in the log
		detail.Message = "internal server error"
		s.logger.Error().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).Msg("Request failed")
	}

	writeJSON(w, status, errorBody{Error: detail})
}

func validationError(err error) error {
	e := engine.NewConfigurationError("invalid request", err).WithCode(engine.ErrCodeValidation)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]interface{}, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		e = e.WithDetail("fields", fields)
	}
	return e
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"perfassess/internal/knowledge"
	"perfassess/internal/model"
	"perfassess/internal/scenario"
	"perfassess/internal/service"
	"perfassess/internal/session"
	"perfassess/internal/trigger"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// errorStatus maps service and domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, session.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrAlreadyStarted),
		errors.Is(err, session.ErrEnded):
		return http.StatusConflict
	case errors.Is(err, scenario.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, scenario.ErrInvalidDefinition),
		errors.Is(err, scenario.ErrDuplicateNodeID),
		errors.Is(err, scenario.ErrDuplicateTask),
		errors.Is(err, scenario.ErrUnknownTask),
		errors.Is(err, scenario.ErrUnknownConcept),
		errors.Is(err, scenario.ErrUnknownMember),
		errors.Is(err, knowledge.ErrDuplicateScenarioStart),
		errors.Is(err, trigger.ErrConditionCannotComplete),
		errors.Is(err, trigger.ErrInvalidDelay),
		errors.Is(err, trigger.ErrInvalidRadius),
		errors.Is(err, trigger.ErrMissingTarget),
		errors.Is(err, model.ErrOutOfRange),
		errors.Is(err, model.ErrInvalidPriority),
		errors.Is(err, model.ErrInvalidNode):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrServiceClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

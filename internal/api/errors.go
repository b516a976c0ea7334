package api

import (
	"errors"
	"net/http"

	"github.com/zhao-mingming/moonbox/internal/domain"
	"github.com/zhao-mingming/moonbox/internal/runner"
)

// httpStatusFromError maps domain errors to HTTP status codes.
func httpStatusFromError(err error) int {
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError

	switch {
	case errors.Is(err, runner.ErrRunnerUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

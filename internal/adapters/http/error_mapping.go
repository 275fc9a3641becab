package httpadapter

import (
	"net/http"

	"github.com/visaforge/engine/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrStateTransition):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrCollaborator):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

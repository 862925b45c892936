package httpadapter

import (
	"net/http"

	"insure-rag/internal/core/domain"
)

// mapErrorToHTTPStatus translates the domain error taxonomy to status codes.
// Unavailable collaborators are 503 so load balancers retry elsewhere; only
// bad requests are the caller's fault.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrGenerationUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

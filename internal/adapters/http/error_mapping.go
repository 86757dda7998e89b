package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrEpisodeNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrSynthesisFailure):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrAllPathsExhausted), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTemporary    = errors.New("temporary failure")

	// Retrieval and episode failure kinds. Only ErrSynthesisFailure and
	// ErrConfiguration leave the control loop.
	ErrPathFailure       = errors.New("retrieval path failure")
	ErrAllPathsExhausted = errors.New("all retrieval paths exhausted")
	ErrReviewFailure     = errors.New("review failure")
	ErrSynthesisFailure  = errors.New("synthesis failure")
	ErrConfiguration     = errors.New("configuration error")

	ErrCacheMiss       = errors.New("cache miss")
	ErrEpisodeNotFound = errors.New("episode not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

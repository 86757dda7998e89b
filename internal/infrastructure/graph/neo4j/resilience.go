package neo4j

import (
	"context"
	"errors"
	"net"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
	"github.com/kirillkom/self-correcting-rag/internal/infrastructure/resilience"
)

func classifyNeo4jError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{}
	}
	if isTransientNeo4jError(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{}
}

func isTransientNeo4jError(err error) bool {
	if errors.Is(err, domain.ErrTemporary) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil || errors.Is(err, domain.ErrTemporary) {
		return err
	}
	if isTransientNeo4jError(err) {
		return domain.WrapError(domain.ErrTemporary, "neo4j", err)
	}
	return err
}

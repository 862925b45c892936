package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRetrievalUnavailable means the vector index could not be reached.
	// Fatal for the request: no answer is generated without evidence.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrRerankUnavailable means the remote reranker could not score this
	// request. Recoverable: the funnel falls back to the recall ordering.
	ErrRerankUnavailable = errors.New("rerank unavailable")

	// ErrGenerationUnavailable means the generation endpoint failed after
	// bounded retry. Fatal: no partial answer is ever returned.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrSessionStoreUnavailable means the session cache could not be
	// reached. Recoverable: the turn is answered with empty history and not
	// persisted.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")

	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")
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

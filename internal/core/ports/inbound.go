package ports

import (
	"context"

	"insure-rag/internal/core/domain"
)

// ChatService is the inbound contract for one question/answer turn.
type ChatService interface {
	Chat(ctx context.Context, sessionID, query string, applicantAge *int) (*domain.ChatResult, error)
}

// CorpusAdmin is the inbound contract for corpus lifecycle operations.
// Reload reports how many chunks the new snapshot carries.
type CorpusAdmin interface {
	Reload(ctx context.Context) (int, error)
}

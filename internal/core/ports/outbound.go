package ports

import (
	"context"

	"insure-rag/internal/core/domain"
)

// Embedder turns query text into vectors. Deterministic for identical input.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkIndex wraps the external vector index. Recall returns candidates
// ordered by ascending distance with chunk-id tie-breaks; an unreachable
// index yields domain.ErrRetrievalUnavailable. DropVersion removes a
// snapshot no request can reach anymore.
type ChunkIndex interface {
	Recall(ctx context.Context, queryVector []float32, k int) ([]domain.RetrievalCandidate, error)
	IndexSnapshot(ctx context.Context, version string, chunks []domain.Chunk) error
	Swap(version string)
	DropVersion(ctx context.Context, version string) error
}

// Reranker is the optional remote cross-encoder. Absence of a reachable
// endpoint is a normal, handled condition reported through the outcome tag,
// never an error.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topN int) domain.RerankOutcome
}

// SessionStore keeps bounded per-conversation history with TTL expiry.
// Append is serialized per session id and trims the oldest turns above the
// configured maximum before storing.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) ([]domain.SessionTurn, error)
	Append(ctx context.Context, sessionID string, turn domain.SessionTurn) error
}

// AnswerGenerator wraps the remote generation capability. It builds the full
// prompt itself and has no storage side effects.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, query string, chunks []domain.Chunk, summaries []domain.ProductSummary, history []domain.SessionTurn) (string, error)
}

// QueryRewriter condenses conversation history into a standalone search
// query for anaphoric follow-ups. Failures are absorbed by the expander.
type QueryRewriter interface {
	RewriteQuery(ctx context.Context, query string, history []domain.SessionTurn) (string, error)
}

// CorpusSource loads one complete snapshot produced by the offline
// extraction job.
type CorpusSource interface {
	LoadSnapshot(ctx context.Context) (*domain.CorpusSnapshot, error)
}

// ReloadEvents delivers corpus reload notifications published by the
// extraction job. The revision string identifies the announced corpus for
// log correlation.
type ReloadEvents interface {
	SubscribeCorpusReload(ctx context.Context, handler func(ctx context.Context, revision string) error) error
}

// Telemetry receives funnel-level events the operational dashboards track.
// Implementations must be safe for concurrent use.
type Telemetry interface {
	RecordDegradation(cause string)
}

// NopTelemetry discards every event. It stands in when metrics are disabled
// and in tests.
type NopTelemetry struct{}

func (NopTelemetry) RecordDegradation(string) {}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"insure-rag/internal/core/domain"
	"insure-rag/internal/core/ports"
)

const noContextAnswer = "抱歉，資料庫中找不到相關資訊，請嘗試其他關鍵字。"

// ChatUseCase orchestrates one conversational turn: session read, query
// expansion, the retrieval funnel, grounded generation and the serialized
// session append. Session-store failures degrade the turn instead of
// failing it; retrieval and generation failures abort it.
type ChatUseCase struct {
	expander  *QueryExpander
	funnel    *RetrievalFunnel
	generator ports.AnswerGenerator
	sessions  ports.SessionStore
	corpus    *CorpusState

	answerMaxBytes int
	telemetry      ports.Telemetry
	logger         *slog.Logger
}

func NewChatUseCase(
	expander *QueryExpander,
	funnel *RetrievalFunnel,
	generator ports.AnswerGenerator,
	sessions ports.SessionStore,
	corpus *CorpusState,
	answerMaxBytes int,
	telemetry ports.Telemetry,
	logger *slog.Logger,
) *ChatUseCase {
	if answerMaxBytes <= 0 {
		answerMaxBytes = 4096
	}
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatUseCase{
		expander:       expander,
		funnel:         funnel,
		generator:      generator,
		sessions:       sessions,
		corpus:         corpus,
		answerMaxBytes: answerMaxBytes,
		telemetry:      telemetry,
		logger:         logger,
	}
}

func (uc *ChatUseCase) Chat(ctx context.Context, sessionID, query string, applicantAge *int) (*domain.ChatResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("query is required"))
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	degraded := false
	sessionDown := false
	history, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		uc.logger.Warn("session_store_unavailable",
			"session_id", sessionID,
			"stage", "read",
			"error", err,
		)
		history = nil
		degraded = true
		sessionDown = true
		uc.telemetry.RecordDegradation("session_read")
	}

	plan := uc.expander.Expand(ctx, query, history)

	candidates, rerankDegraded, err := uc.funnel.Retrieve(ctx, plan, applicantAge)
	if err != nil {
		return nil, err
	}
	if rerankDegraded {
		degraded = true
		uc.telemetry.RecordDegradation("rerank")
	}

	// Empty recall means there is no evidence to answer from; the model is
	// never asked to answer unguided.
	if len(candidates) == 0 {
		return &domain.ChatResult{
			SessionID: sessionID,
			Answer:    noContextAnswer,
			Degraded:  degraded,
		}, nil
	}

	chunks, summaries, sources := uc.assembleContext(candidates)
	answer, err := uc.generator.GenerateAnswer(ctx, query, chunks, summaries, history)
	if err != nil {
		return nil, err
	}

	if !sessionDown {
		turn := domain.SessionTurn{
			Query:  query,
			Answer: truncateBytes(answer, uc.answerMaxBytes),
			At:     time.Now().UTC(),
		}
		if err := uc.sessions.Append(ctx, sessionID, turn); err != nil {
			uc.logger.Warn("session_store_unavailable",
				"session_id", sessionID,
				"stage", "append",
				"error", err,
			)
			degraded = true
			uc.telemetry.RecordDegradation("session_append")
		}
	}

	return &domain.ChatResult{
		SessionID:  sessionID,
		Answer:     answer,
		Sources:    sources,
		Degraded:   degraded,
		ChunkCount: len(chunks),
	}, nil
}

// assembleContext turns ranked candidates into the generation inputs: chunks
// in funnel order, one summary per contributing product, and the sorted
// source list returned to the caller.
func (uc *ChatUseCase) assembleContext(candidates []domain.RetrievalCandidate) ([]domain.Chunk, []domain.ProductSummary, []string) {
	chunks := make([]domain.Chunk, 0, len(candidates))
	summaries := make([]domain.ProductSummary, 0, len(candidates))
	seenProducts := make(map[string]struct{}, len(candidates))
	sources := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		chunks = append(chunks, candidate.Chunk)

		productID := candidate.Chunk.ProductID
		if productID == "" {
			continue
		}
		if _, ok := seenProducts[productID]; ok {
			continue
		}
		seenProducts[productID] = struct{}{}

		source := productID
		if summary, ok := uc.corpus.Summary(productID); ok {
			summaries = append(summaries, summary)
			if summary.Name != "" {
				source = summary.Name
			}
		}
		sources = append(sources, source)
	}

	sort.Strings(sources)
	return chunks, summaries, sources
}

// truncateBytes caps stored answers so session values stay bounded, backing
// off to a rune boundary.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !isRuneStart(s, max) {
		max--
	}
	return s[:max]
}

func isRuneStart(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return true
	}
	b := s[i]
	return b < 0x80 || b >= 0xC0
}

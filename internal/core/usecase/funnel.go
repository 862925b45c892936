package usecase

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"insure-rag/internal/core/domain"
	"insure-rag/internal/core/ports"
)

// RetrievalFunnel narrows many candidates to few: broad vector recall per
// plan query, deterministic eligibility filtering, then semantic reranking
// with a defined fallback to the recall ordering when the reranker is down.
type RetrievalFunnel struct {
	embedder ports.Embedder
	index    ports.ChunkIndex
	reranker ports.Reranker
	recallK  int
	topN     int
	logger   *slog.Logger
}

func NewRetrievalFunnel(
	embedder ports.Embedder,
	index ports.ChunkIndex,
	reranker ports.Reranker,
	recallK, topN int,
	logger *slog.Logger,
) *RetrievalFunnel {
	if recallK <= 0 {
		recallK = 50
	}
	if topN <= 0 {
		topN = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalFunnel{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		recallK:  recallK,
		topN:     topN,
		logger:   logger,
	}
}

// Retrieve runs the full funnel for one plan. The returned candidates are
// ordered most relevant first and bounded by topN. degraded reports that the
// reranker fallback path was taken; it never causes a request failure.
func (f *RetrievalFunnel) Retrieve(
	ctx context.Context,
	plan domain.QueryPlan,
	applicantAge *int,
) (candidates []domain.RetrievalCandidate, degraded bool, err error) {
	queries := plan.Queries()
	perQuery := make([][]domain.RetrievalCandidate, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		i, query := i, query
		g.Go(func() error {
			vector, err := f.embedder.EmbedQuery(gctx, query)
			if err != nil {
				return domain.WrapError(domain.ErrRetrievalUnavailable, "embed query", err)
			}
			recalled, err := f.index.Recall(gctx, vector, f.recallK)
			if err != nil {
				return err
			}
			perQuery[i] = recalled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	merged := mergeByBestScore(perQuery)
	merged = FilterByEligibility(merged, applicantAge)
	if len(merged) == 0 {
		return nil, false, nil
	}

	outcome := f.reranker.Rerank(ctx, plan.RerankQuery(), merged, f.topN)
	if !outcome.Available {
		f.logger.Warn("rerank_unavailable",
			"fallback", "recall_order",
			"candidates", len(merged),
		)
		return trimCandidates(merged, f.topN), true, nil
	}
	return outcome.Ranked, false, nil
}

// mergeByBestScore deduplicates recall results across plan queries by chunk
// id, keeping the lowest distance seen for each chunk. The merged list is
// ordered by ascending distance with chunk-id tie-breaks and re-numbered
// with its final recall rank.
func mergeByBestScore(perQuery [][]domain.RetrievalCandidate) []domain.RetrievalCandidate {
	best := make(map[string]domain.RetrievalCandidate)
	for _, recalled := range perQuery {
		for _, candidate := range recalled {
			current, seen := best[candidate.Chunk.ID]
			if !seen || candidate.Score < current.Score {
				best[candidate.Chunk.ID] = candidate
			}
		}
	}

	out := make([]domain.RetrievalCandidate, 0, len(best))
	for _, candidate := range best {
		out = append(out, candidate)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	for i := range out {
		out[i].RecallRank = i
	}
	return out
}

func trimCandidates(candidates []domain.RetrievalCandidate, limit int) []domain.RetrievalCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

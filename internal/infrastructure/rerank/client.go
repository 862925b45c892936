package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"insure-rag/internal/core/domain"
)

// SummaryLookup resolves the product summary injected ahead of each
// candidate text so the cross-encoder can judge a product chunk in context.
type SummaryLookup func(productID string) (domain.ProductSummary, bool)

// Client talks to the remote cross-encoder scorer. Availability is decided
// per call: a connection failure, timeout or non-success response marks this
// request's outcome unavailable and nothing more. The short client timeout
// bounds the wait; there is no circuit latching.
type Client struct {
	url        string
	httpClient *http.Client

	scoreFloor    float64
	maxPerProduct int
	summaries     SummaryLookup
	logger        *slog.Logger
}

func New(url string, timeout time.Duration, scoreFloor float64, maxPerProduct int, summaries SummaryLookup, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if maxPerProduct <= 0 {
		maxPerProduct = 3
	}
	if summaries == nil {
		summaries = func(string) (domain.ProductSummary, bool) { return domain.ProductSummary{}, false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:           url,
		httpClient:    &http.Client{Timeout: timeout},
		scoreFloor:    scoreFloor,
		maxPerProduct: maxPerProduct,
		summaries:     summaries,
		logger:        logger,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores  []float64 `json:"scores"`
	Indices []int     `json:"indices"`
}

// Rerank scores candidates against the query and returns the top N by
// descending score, capped per product for diversity. Any transport or
// protocol failure yields the unavailable outcome.
func (c *Client) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topN int) domain.RerankOutcome {
	if len(candidates) == 0 {
		return domain.RerankOutcome{Available: true}
	}
	if topN <= 0 {
		topN = 10
	}

	resp, err := c.score(ctx, query, candidates)
	if err != nil {
		c.logger.Warn("rerank_request_failed", "error", err, "candidates", len(candidates))
		return domain.RerankOutcome{}
	}
	if len(resp.Scores) != len(resp.Indices) {
		c.logger.Warn("rerank_response_malformed",
			"scores", len(resp.Scores),
			"indices", len(resp.Indices),
		)
		return domain.RerankOutcome{}
	}

	scored := scoreCandidates(candidates, resp)
	ranked := c.selectTop(scored, topN, true)
	if len(ranked) == 0 {
		// Every candidate scored below the floor. Dropping everything would
		// turn a recoverable ranking step into an empty answer, so the floor
		// is waived instead.
		ranked = c.selectTop(scored, topN, false)
	}
	return domain.RerankOutcome{Available: true, Ranked: ranked}
}

// scoreCandidates pairs each returned score with its candidate and sorts by
// descending score, breaking ties by original recall rank. The ordering is
// established locally instead of trusting the server's index order.
func scoreCandidates(candidates []domain.RetrievalCandidate, resp *rerankResponse) []domain.RetrievalCandidate {
	scored := make([]domain.RetrievalCandidate, 0, len(resp.Indices))
	for i, originalIdx := range resp.Indices {
		if originalIdx < 0 || originalIdx >= len(candidates) {
			continue
		}
		candidate := candidates[originalIdx]
		candidate.Score = resp.Scores[i]
		scored = append(scored, candidate)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].RecallRank < scored[j].RecallRank
	})
	return scored
}

func (c *Client) selectTop(scored []domain.RetrievalCandidate, topN int, applyFloor bool) []domain.RetrievalCandidate {
	ranked := make([]domain.RetrievalCandidate, 0, topN)
	perProduct := make(map[string]int)

	for _, candidate := range scored {
		if len(ranked) >= topN {
			break
		}
		if applyFloor && candidate.Score < c.scoreFloor {
			continue
		}
		if candidate.Chunk.ProductID != "" {
			if perProduct[candidate.Chunk.ProductID] >= c.maxPerProduct {
				continue
			}
			perProduct[candidate.Chunk.ProductID]++
		}
		ranked = append(ranked, candidate)
	}
	return ranked
}

func (c *Client) score(ctx context.Context, query string, candidates []domain.RetrievalCandidate) (*rerankResponse, error) {
	documents := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		documents = append(documents, c.documentForJudge(candidate.Chunk))
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank status: %s", resp.Status)
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return &out, nil
}

// documentForJudge prefixes the chunk with its product introduction so the
// scorer knows what kind of product the text belongs to.
func (c *Client) documentForJudge(chunk domain.Chunk) string {
	summary, ok := c.summaries(chunk.ProductID)
	if !ok || strings.TrimSpace(summary.Intro) == "" {
		return chunk.Text
	}
	return summary.Intro + "\n文件內容: " + chunk.Text
}

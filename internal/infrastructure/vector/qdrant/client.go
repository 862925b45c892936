package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"insure-rag/internal/core/domain"
)

const upsertBatchSize = 200

// Client is a REST adapter over the external Qdrant index. Corpus snapshots
// are written into versioned collections ("<base>_<version>"); Swap repoints
// the active collection atomically so recalls never observe a partially
// loaded index.
type Client struct {
	baseURL        string
	baseCollection string
	httpClient     *http.Client

	active atomic.Value // string, the collection currently served
}

func New(baseURL, baseCollection string) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		baseCollection: baseCollection,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
	c.active.Store(baseCollection)
	return c
}

// Recall performs a nearest-neighbour search against the active collection.
// Candidates come back ordered by ascending distance with chunk-id
// tie-breaks. An unreachable index is fatal for the request.
func (c *Client) Recall(ctx context.Context, queryVector []float32, k int) ([]domain.RetrievalCandidate, error) {
	if k <= 0 {
		k = 50
	}

	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        k,
		"with_payload": true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.activeCollection())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "qdrant search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "qdrant search", statusError(resp))
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "decode search response", err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		// Qdrant reports cosine similarity; the funnel works in distances
		// where lower is better.
		out = append(out, domain.RetrievalCandidate{
			Chunk: chunkFromPayload(r.Payload),
			Score: 1 - r.Score,
		})
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
	return out, nil
}

// IndexSnapshot writes a complete corpus snapshot into the versioned
// collection. The collection is created fresh; existing versions are left
// untouched until Swap.
func (c *Client) IndexSnapshot(ctx context.Context, version string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("refusing to index empty snapshot")
	}

	collection := c.versionedCollection(version)
	if err := c.createCollection(ctx, collection, len(chunks[0].Embedding)); err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		if err := c.upsertBatch(ctx, collection, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Swap repoints recalls at the named snapshot version.
func (c *Client) Swap(version string) {
	c.active.Store(c.versionedCollection(version))
}

// DropVersion deletes a retired snapshot collection so reloads do not
// accumulate versions indefinitely. The unversioned base collection is never
// dropped.
func (c *Client) DropVersion(ctx context.Context, version string) error {
	if version == "" {
		return nil
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.versionedCollection(version))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete collection request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant delete collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant delete collection: %w", statusError(resp))
	}
	return nil
}

func (c *Client) activeCollection() string {
	return c.active.Load().(string)
}

func (c *Client) versionedCollection(version string) string {
	if version == "" {
		return c.baseCollection
	}
	return c.baseCollection + "_" + version
}

func (c *Client) createCollection(ctx context.Context, collection string, vectorSize int) error {
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	defer resp.Body.Close()

	// 409 means a same-named version already exists; upsert into it.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("qdrant create collection: %w", statusError(resp))
	}
	return nil
}

func (c *Client) upsertBatch(ctx context.Context, collection string, chunks []domain.Chunk) error {
	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		payload := map[string]any{
			"chunk_id":   chunk.ID,
			"text":       chunk.Text,
			"product_id": chunk.ProductID,
			"tags":       chunk.Tags,
		}
		if chunk.MinAge != nil {
			payload["min_age"] = *chunk.MinAge
		}
		if chunk.MaxAge != nil {
			payload["max_age"] = *chunk.MaxAge
		}
		points = append(points, point{
			// Qdrant point ids must be UUIDs; derive one deterministically
			// from the stable chunk id.
			ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunk.ID)).String(),
			Vector:  chunk.Embedding,
			Payload: payload,
		})
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant upsert: %w", statusError(resp))
	}
	return nil
}

func chunkFromPayload(payload map[string]any) domain.Chunk {
	chunk := domain.Chunk{
		ID:        payloadString(payload, "chunk_id"),
		Text:      payloadString(payload, "text"),
		ProductID: payloadString(payload, "product_id"),
	}
	if v, ok := payloadInt(payload, "min_age"); ok {
		chunk.MinAge = &v
	}
	if v, ok := payloadInt(payload, "max_age"); ok {
		chunk.MaxAge = &v
	}
	if raw, ok := payload["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				chunk.Tags = append(chunk.Tags, s)
			}
		}
	}
	return chunk
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("status %s", resp.Status)
	}
	return fmt.Errorf("status %s: %s", resp.Status, msg)
}

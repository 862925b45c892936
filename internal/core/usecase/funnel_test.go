package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"insure-rag/internal/core/domain"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

type fakeIndex struct {
	recalled []domain.RetrievalCandidate
	err      error

	indexedVersion  string
	indexedChunks   int
	swappedVersion  string
	droppedVersions []string
	dropErr         error
}

func (f *fakeIndex) Recall(_ context.Context, _ []float32, _ int) ([]domain.RetrievalCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.RetrievalCandidate, len(f.recalled))
	copy(out, f.recalled)
	return out, nil
}

func (f *fakeIndex) IndexSnapshot(_ context.Context, version string, chunks []domain.Chunk) error {
	f.indexedVersion = version
	f.indexedChunks = len(chunks)
	return nil
}

func (f *fakeIndex) Swap(version string) { f.swappedVersion = version }

func (f *fakeIndex) DropVersion(_ context.Context, version string) error {
	if f.dropErr != nil {
		return f.dropErr
	}
	f.droppedVersions = append(f.droppedVersions, version)
	return nil
}

type fakeReranker struct {
	available bool
	reverse   bool
	gotQuery  string
}

func (f *fakeReranker) Rerank(_ context.Context, query string, candidates []domain.RetrievalCandidate, topN int) domain.RerankOutcome {
	f.gotQuery = query
	if !f.available {
		return domain.RerankOutcome{}
	}
	ranked := make([]domain.RetrievalCandidate, len(candidates))
	copy(ranked, candidates)
	if f.reverse {
		for i, j := 0, len(ranked)-1; i < j; i, j = i+1, j-1 {
			ranked[i], ranked[j] = ranked[j], ranked[i]
		}
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return domain.RerankOutcome{Available: true, Ranked: ranked}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scored(id string, score float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{Chunk: domain.Chunk{ID: id}, Score: score}
}

func TestRetrieveRanksWithAvailableReranker(t *testing.T) {
	index := &fakeIndex{recalled: []domain.RetrievalCandidate{
		scored("a", 0.1), scored("b", 0.2), scored("c", 0.3),
	}}
	reranker := &fakeReranker{available: true, reverse: true}
	funnel := NewRetrievalFunnel(&fakeEmbedder{}, index, reranker, 50, 2, quietLogger())

	plan := domain.QueryPlan{Primary: "壽險", Auxiliary: []string{"30歲男性 壽險"}}
	got, degraded, err := funnel.Retrieve(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if degraded {
		t.Error("degraded with a healthy reranker")
	}
	if reranker.gotQuery != "30歲男性 壽險" {
		t.Errorf("reranker judged %q, want the contextualized variant", reranker.gotQuery)
	}
	if len(got) != 2 || got[0].Chunk.ID != "c" || got[1].Chunk.ID != "b" {
		t.Fatalf("rerank ordering not honored: %v", got)
	}
}

func TestRetrieveFallsBackWhenRerankerUnavailable(t *testing.T) {
	index := &fakeIndex{recalled: []domain.RetrievalCandidate{
		scored("b", 0.2), scored("a", 0.1), scored("c", 0.3),
	}}
	funnel := NewRetrievalFunnel(&fakeEmbedder{}, index, &fakeReranker{available: false}, 50, 2, quietLogger())

	got, degraded, err := funnel.Retrieve(context.Background(), domain.QueryPlan{Primary: "壽險"}, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !degraded {
		t.Fatal("expected degraded result when reranker is down")
	}
	if len(got) != 2 || got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" {
		t.Fatalf("fallback must keep recall ordering trimmed to topN: %v", got)
	}
}

func TestRetrieveMergesDuplicatesAcrossQueries(t *testing.T) {
	// The same chunk recalled by both plan queries keeps its best distance.
	index := &fakeIndex{recalled: []domain.RetrievalCandidate{
		scored("dup", 0.4), scored("only", 0.5),
	}}
	funnel := NewRetrievalFunnel(&fakeEmbedder{}, index, &fakeReranker{available: false}, 50, 10, quietLogger())

	plan := domain.QueryPlan{Primary: "q1", Auxiliary: []string{"q2"}}
	got, _, err := funnel.Retrieve(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("duplicates not merged: %v", got)
	}
	for i, c := range got {
		if c.RecallRank != i {
			t.Errorf("recall rank not renumbered: %v", got)
		}
	}
}

func TestRetrieveEmbedFailureIsRetrievalUnavailable(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("connection refused")}
	funnel := NewRetrievalFunnel(embedder, &fakeIndex{}, &fakeReranker{}, 50, 10, quietLogger())

	_, _, err := funnel.Retrieve(context.Background(), domain.QueryPlan{Primary: "壽險"}, nil)
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestRetrieveIndexErrorPropagates(t *testing.T) {
	index := &fakeIndex{err: domain.WrapError(domain.ErrRetrievalUnavailable, "search", errors.New("dial tcp: refused"))}
	funnel := NewRetrievalFunnel(&fakeEmbedder{}, index, &fakeReranker{}, 50, 10, quietLogger())

	_, _, err := funnel.Retrieve(context.Background(), domain.QueryPlan{Primary: "壽險"}, nil)
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestRetrieveEmptyAfterEligibilityFilter(t *testing.T) {
	index := &fakeIndex{recalled: []domain.RetrievalCandidate{
		candidate("capped", age(0), age(65)),
	}}
	reranker := &fakeReranker{available: true}
	funnel := NewRetrievalFunnel(&fakeEmbedder{}, index, reranker, 50, 10, quietLogger())

	got, degraded, err := funnel.Retrieve(context.Background(), domain.QueryPlan{Primary: "壽險"}, age(70))
	if err != nil || degraded {
		t.Fatalf("empty funnel result must be a clean success, got degraded=%v err=%v", degraded, err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
	if reranker.gotQuery != "" {
		t.Error("reranker consulted for an empty candidate set")
	}
}

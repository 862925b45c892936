package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"insure-rag/internal/core/domain"
)

type fakeGenerator struct {
	answer     string
	err        error
	calls      int
	gotHistory []domain.SessionTurn
	gotChunks  []domain.Chunk
}

func (f *fakeGenerator) GenerateAnswer(_ context.Context, _ string, chunks []domain.Chunk, _ []domain.ProductSummary, history []domain.SessionTurn) (string, error) {
	f.calls++
	f.gotChunks = chunks
	f.gotHistory = history
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeSessionStore struct {
	turns     map[string][]domain.SessionTurn
	getErr    error
	appendErr error
	appended  []domain.SessionTurn
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{turns: map[string][]domain.SessionTurn{}}
}

func (f *fakeSessionStore) Get(_ context.Context, sessionID string) ([]domain.SessionTurn, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.turns[sessionID], nil
}

func (f *fakeSessionStore) Append(_ context.Context, sessionID string, turn domain.SessionTurn) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, turn)
	f.turns[sessionID] = append(f.turns[sessionID], turn)
	return nil
}

type chatFixture struct {
	uc        *ChatUseCase
	index     *fakeIndex
	reranker  *fakeReranker
	generator *fakeGenerator
	sessions  *fakeSessionStore
	state     *CorpusState
}

func newChatFixture() *chatFixture {
	state := NewCorpusState()
	state.swap("test", nil, map[string]domain.ProductSummary{
		"prod-a": {ProductID: "prod-a", Name: "安心人壽A型", Intro: "終身壽險"},
	})

	index := &fakeIndex{recalled: []domain.RetrievalCandidate{
		{Chunk: domain.Chunk{ID: "c1", Text: "投保年齡0-65歲", ProductID: "prod-a"}, Score: 0.1},
		{Chunk: domain.Chunk{ID: "c2", Text: "繳費20年", ProductID: "prod-a"}, Score: 0.2},
	}}
	reranker := &fakeReranker{available: true}
	generator := &fakeGenerator{answer: "建議投保安心人壽A型。"}
	sessions := newFakeSessionStore()

	expander := NewQueryExpander(FollowupPolicy{MaxRunes: 20}, state, nil, quietLogger())
	funnel := NewRetrievalFunnel(&fakeEmbedder{}, index, reranker, 50, 10, quietLogger())
	uc := NewChatUseCase(expander, funnel, generator, sessions, state, 4096, nil, quietLogger())

	return &chatFixture{uc: uc, index: index, reranker: reranker, generator: generator, sessions: sessions, state: state}
}

func TestChatHappyPath(t *testing.T) {
	fx := newChatFixture()

	result, err := fx.uc.Chat(context.Background(), "", "什麼壽險適合新生兒", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.SessionID == "" {
		t.Error("missing generated session id")
	}
	if result.Degraded {
		t.Error("degraded on the healthy path")
	}
	if result.Answer != "建議投保安心人壽A型。" {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Sources) != 1 || result.Sources[0] != "安心人壽A型" {
		t.Errorf("sources = %v, want product display name", result.Sources)
	}
	if result.ChunkCount != 2 {
		t.Errorf("chunk count = %d", result.ChunkCount)
	}
	if len(fx.sessions.appended) != 1 {
		t.Fatalf("expected one session append, got %d", len(fx.sessions.appended))
	}
	if fx.sessions.appended[0].Query != "什麼壽險適合新生兒" {
		t.Errorf("appended turn query = %q", fx.sessions.appended[0].Query)
	}
}

func TestChatRejectsBlankQuery(t *testing.T) {
	fx := newChatFixture()

	_, err := fx.uc.Chat(context.Background(), "s1", "   ", nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if fx.generator.calls != 0 {
		t.Error("generator called for invalid input")
	}
}

func TestChatNoEvidenceSkipsGeneration(t *testing.T) {
	fx := newChatFixture()
	fx.index.recalled = nil

	result, err := fx.uc.Chat(context.Background(), "s1", "冷門問題", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Answer != noContextAnswer {
		t.Errorf("answer = %q, want the canned no-evidence reply", result.Answer)
	}
	if fx.generator.calls != 0 {
		t.Error("generator must not run without evidence")
	}
	if len(fx.sessions.appended) != 0 {
		t.Error("canned replies must not enter session history")
	}
	if result.ChunkCount != 0 {
		t.Errorf("chunk count = %d", result.ChunkCount)
	}
}

func TestChatRerankerDownDegradesButAnswers(t *testing.T) {
	fx := newChatFixture()
	fx.reranker.available = false

	result, err := fx.uc.Chat(context.Background(), "s1", "什麼壽險適合新生兒", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded=true with the reranker down")
	}
	if fx.generator.calls != 1 {
		t.Errorf("generator calls = %d", fx.generator.calls)
	}
}

func TestChatRetrievalFailureAbortsBeforeGeneration(t *testing.T) {
	fx := newChatFixture()
	fx.index.err = domain.WrapError(domain.ErrRetrievalUnavailable, "search", errors.New("dial tcp: refused"))

	_, err := fx.uc.Chat(context.Background(), "s1", "什麼壽險適合新生兒", nil)
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
	if fx.generator.calls != 0 {
		t.Error("generator must not run when retrieval is unavailable")
	}
}

func TestChatSessionReadFailureDegrades(t *testing.T) {
	fx := newChatFixture()
	fx.sessions.getErr = domain.WrapError(domain.ErrSessionStoreUnavailable, "get", errors.New("redis down"))

	result, err := fx.uc.Chat(context.Background(), "s1", "什麼壽險適合新生兒", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded=true when session history is unavailable")
	}
	if len(fx.generator.gotHistory) != 0 {
		t.Error("history must be empty when the store read fails")
	}
	if len(fx.sessions.appended) != 0 {
		t.Error("append must be skipped after a failed read")
	}
}

func TestChatAppendFailureDegradesAfterAnswering(t *testing.T) {
	fx := newChatFixture()
	fx.sessions.appendErr = domain.WrapError(domain.ErrSessionStoreUnavailable, "append", errors.New("redis down"))

	result, err := fx.uc.Chat(context.Background(), "s1", "什麼壽險適合新生兒", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded=true when the append fails")
	}
	if result.Answer == "" {
		t.Error("answer must still be returned")
	}
}

func TestChatGenerationFailurePropagates(t *testing.T) {
	fx := newChatFixture()
	fx.generator.err = domain.WrapError(domain.ErrGenerationUnavailable, "generate", errors.New("model offline"))

	_, err := fx.uc.Chat(context.Background(), "s1", "什麼壽險適合新生兒", nil)
	if !domain.IsKind(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if len(fx.sessions.appended) != 0 {
		t.Error("failed turns must not enter session history")
	}
}

func TestChatPassesHistoryToGenerator(t *testing.T) {
	fx := newChatFixture()
	fx.sessions.turns["s1"] = []domain.SessionTurn{{Query: "前一題", Answer: "前一答"}}

	if _, err := fx.uc.Chat(context.Background(), "s1", "那它的繳費年期呢這是一個比較長的追問句", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(fx.generator.gotHistory) != 1 || fx.generator.gotHistory[0].Query != "前一題" {
		t.Errorf("history not forwarded: %v", fx.generator.gotHistory)
	}
}

func TestTruncateBytesBacksOffToRuneBoundary(t *testing.T) {
	s := "保險abc"
	got := truncateBytes(s, 4)
	if got != "保" {
		t.Errorf("truncateBytes = %q", got)
	}
	if !strings.HasPrefix(s, got) {
		t.Errorf("truncation must be a prefix")
	}
	if truncateBytes("abc", 10) != "abc" {
		t.Error("short strings must pass through")
	}
}

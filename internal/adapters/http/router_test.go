package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"insure-rag/internal/core/domain"
)

type fakeChatService struct {
	result *domain.ChatResult
	err    error
	gotAge *int
}

func (f *fakeChatService) Chat(_ context.Context, sessionID, query string, applicantAge *int) (*domain.ChatResult, error) {
	f.gotAge = applicantAge
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	if result.SessionID == "" {
		result.SessionID = sessionID
	}
	return &result, nil
}

type fakeCorpusAdmin struct {
	chunks int
	err    error
}

func (f *fakeCorpusAdmin) Reload(context.Context) (int, error) {
	return f.chunks, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(chat *fakeChatService, admin *fakeCorpusAdmin, limiter *rate.Limiter) http.Handler {
	return NewRouter(chat, admin, nil, limiter, quietLogger()).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	chat := &fakeChatService{result: &domain.ChatResult{
		SessionID:  "s1",
		Answer:     "建議投保安心人壽A型。",
		Sources:    []string{"安心人壽A型"},
		Degraded:   true,
		ChunkCount: 3,
	}}
	handler := newTestRouter(chat, &fakeCorpusAdmin{}, nil)

	rec := postJSON(t, handler, "/v1/chat", `{"session_id":"s1","query":"什麼壽險適合新生兒","applicant_age":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if chat.gotAge == nil || *chat.gotAge != 30 {
		t.Errorf("applicant age not forwarded: %v", chat.gotAge)
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "s1" || !resp.Degraded || len(resp.Sources) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestChatRejectsInvalidRequests(t *testing.T) {
	handler := newTestRouter(&fakeChatService{result: &domain.ChatResult{}}, &fakeCorpusAdmin{}, nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"blank query", `{"query":"   "}`},
		{"negative age", `{"query":"q","applicant_age":-1}`},
		{"absurd age", `{"query":"q","applicant_age":200}`},
	}
	for _, tc := range cases {
		if rec := postJSON(t, handler, "/v1/chat", tc.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", tc.name, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}
}

func TestChatMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("bad")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrRetrievalUnavailable, "chat", errors.New("down")), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrGenerationUnavailable, "chat", errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		handler := newTestRouter(&fakeChatService{err: tc.err}, &fakeCorpusAdmin{}, nil)
		rec := postJSON(t, handler, "/v1/chat", `{"query":"壽險"}`)
		if rec.Code != tc.want {
			t.Errorf("error %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestChatRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	handler := newTestRouter(&fakeChatService{result: &domain.ChatResult{Answer: "ok"}}, &fakeCorpusAdmin{}, limiter)

	if rec := postJSON(t, handler, "/v1/chat", `{"query":"壽險"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := postJSON(t, handler, "/v1/chat", `{"query":"壽險"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Other endpoints are not throttled.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	healthRec := httptest.NewRecorder()
	handler.ServeHTTP(healthRec, req)
	if healthRec.Code != http.StatusOK {
		t.Errorf("healthz throttled: %d", healthRec.Code)
	}
}

func TestReloadEndpoint(t *testing.T) {
	handler := newTestRouter(&fakeChatService{result: &domain.ChatResult{}}, &fakeCorpusAdmin{chunks: 42}, nil)

	rec := postJSON(t, handler, "/v1/corpus/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp reloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "reloaded" || resp.Chunks != 42 {
		t.Errorf("response = %+v", resp)
	}
}

func TestReloadFailureIsServerError(t *testing.T) {
	admin := &fakeCorpusAdmin{err: errors.New("corpus dir missing")}
	handler := newTestRouter(&fakeChatService{result: &domain.ChatResult{}}, admin, nil)

	if rec := postJSON(t, handler, "/v1/corpus/reload", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&fakeChatService{result: &domain.ChatResult{}}, &fakeCorpusAdmin{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestIDIsPropagatedWhenProvided(t *testing.T) {
	handler := newTestRouter(&fakeChatService{result: &domain.ChatResult{}}, &fakeCorpusAdmin{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "req-123" {
		t.Errorf("request id = %q", got)
	}
}

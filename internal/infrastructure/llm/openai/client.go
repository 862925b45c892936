package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"insure-rag/internal/core/domain"
	"insure-rag/internal/infrastructure/resilience"
)

// Client speaks the OpenAI-compatible chat and embeddings API. It is
// provider-agnostic: a cloud endpoint and a local vLLM/Ollama endpoint only
// differ in base URL, model name and token.
type Client struct {
	baseURL    string
	apiKey     string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, apiKey, genModel, embedModel string, executor *resilience.Executor) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.Contains(base, "/v1") {
		base += "/v1"
	}
	return &Client{
		baseURL:    base,
		apiKey:     apiKey,
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) chatComplete(ctx context.Context, operation string, messages []chatMessage, maxTokens int) (string, error) {
	reqBody := map[string]any{
		"model":       c.genModel,
		"messages":    messages,
		"temperature": 0.1,
		"stream":      false,
	}
	if maxTokens > 0 {
		reqBody["max_tokens"] = maxTokens
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/chat/completions", reqBody, &response, operation)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyTransportError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices in response", operation)
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Embedder builds query vectors through the embeddings endpoint.
type Embedder struct {
	client  *Client
	timeout time.Duration
}

func NewEmbedder(client *Client, timeout time.Duration) *Embedder {
	return &Embedder{client: client, timeout: timeout}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	reqBody := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	call := func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/embeddings", reqBody, &response, "embed")
	}
	var err error
	if e.client.executor != nil {
		err = e.client.executor.Execute(ctx, "embed", call, classifyTransportError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("embed: empty embedding result")
	}
	return response.Data[0].Embedding, nil
}

// Generator produces the final grounded answer. It has no storage side
// effects; the chat orchestrator owns the session append.
type Generator struct {
	client       *Client
	systemPrompt string
	timeout      time.Duration
}

func NewGenerator(client *Client, systemPrompt string, timeout time.Duration) *Generator {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Generator{client: client, systemPrompt: systemPrompt, timeout: timeout}
}

func (g *Generator) GenerateAnswer(
	ctx context.Context,
	query string,
	chunks []domain.Chunk,
	summaries []domain.ProductSummary,
	history []domain.SessionTurn,
) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := buildAnswerMessages(g.systemPrompt, query, chunks, summaries, history)
	answer, err := g.client.chatComplete(ctx, "generate", messages, 0)
	if err != nil {
		return "", domain.WrapError(domain.ErrGenerationUnavailable, "generate answer", err)
	}
	if answer == "" {
		return "", domain.WrapError(domain.ErrGenerationUnavailable, "generate answer", fmt.Errorf("empty completion"))
	}
	return answer, nil
}

// Rewriter condenses conversation history into a standalone search query for
// follow-up turns. Errors propagate untyped; the query expander absorbs them.
type Rewriter struct {
	client *Client
}

func NewRewriter(client *Client) *Rewriter {
	return &Rewriter{client: client}
}

func (r *Rewriter) RewriteQuery(ctx context.Context, query string, history []domain.SessionTurn) (string, error) {
	messages := buildRewriteMessages(query, history)
	return r.client.chatComplete(ctx, "rewrite", messages, 1024)
}

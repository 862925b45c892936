package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIPort   string
	LogLevel  string
	LogFormat string

	QdrantURL        string
	QdrantCollection string

	LLMBaseURL    string
	LLMAPIKey     string
	LLMGenModel   string
	LLMEmbedModel string

	RerankURL     string
	RerankTimeout time.Duration

	RedisURL string

	NATSURL           string
	NATSReloadSubject string

	CorpusDir        string
	SystemPromptPath string
	PolicyPath       string

	RecallK             int
	FunnelTopN          int
	RerankScoreFloor    float64
	MaxChunksPerProduct int

	SessionMaxTurns       int
	SessionTTL            time.Duration
	SessionAnswerMaxBytes int

	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration

	APIRateLimitRPS   float64
	APIRateLimitBurst int
}

func Load() Config {
	return Config{
		APIPort:   mustEnv("API_PORT", "8080"),
		LogLevel:  mustEnv("LOG_LEVEL", "info"),
		LogFormat: mustEnv("LOG_FORMAT", "json"),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "insurance_docs"),

		LLMBaseURL:    mustEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:     mustEnv("LLM_API_KEY", ""),
		LLMGenModel:   mustEnv("LLM_GEN_MODEL", "gemma2:27b"),
		LLMEmbedModel: mustEnv("LLM_EMBED_MODEL", "bge-base-zh-v1.5"),

		RerankURL:     mustEnv("RERANK_API_URL", "http://localhost:8009/rerank"),
		RerankTimeout: mustEnvSeconds("RERANK_TIMEOUT_SECONDS", 4),

		RedisURL: mustEnv("REDIS_URL", ""),

		NATSURL:           mustEnv("NATS_URL", ""),
		NATSReloadSubject: mustEnv("NATS_RELOAD_SUBJECT", "corpus.reloaded"),

		CorpusDir:        mustEnv("CORPUS_DIR", "./data/processed_json"),
		SystemPromptPath: mustEnv("SYSTEM_PROMPT_PATH", "./data/system_prompt.txt"),
		PolicyPath:       mustEnv("RETRIEVAL_POLICY_PATH", "./data/retrieval_policy.yaml"),

		RecallK:             mustEnvInt("RAG_RECALL_LIMIT", 50),
		FunnelTopN:          mustEnvInt("RAG_TOP_N", 10),
		RerankScoreFloor:    mustEnvFloat("RERANK_SCORE_FLOOR", -5.0),
		MaxChunksPerProduct: mustEnvInt("MAX_CHUNKS_PER_DOC", 3),

		SessionMaxTurns:       mustEnvInt("SESSION_MAX_TURNS", 10),
		SessionTTL:            mustEnvSeconds("SESSION_TTL_SECONDS", 1800),
		SessionAnswerMaxBytes: mustEnvInt("SESSION_ANSWER_MAX_BYTES", 4096),

		EmbedTimeout:    mustEnvSeconds("EMBED_TIMEOUT_SECONDS", 10),
		GenerateTimeout: mustEnvSeconds("GENERATE_TIMEOUT_SECONDS", 60),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 10),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(mustEnvInt(key, fallback)) * time.Second
}

package domain

import "time"

// SessionTurn is one completed question/answer exchange.
type SessionTurn struct {
	Query  string    `json:"query"`
	Answer string    `json:"answer"`
	At     time.Time `json:"at"`
}

// ChatResult is the public response shape for one turn. Degraded is true when
// the answer was produced without the reranker or without session history.
// ChunkCount reports how many evidence chunks grounded the answer; zero marks
// the canned no-evidence reply.
type ChatResult struct {
	SessionID  string   `json:"session_id"`
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources,omitempty"`
	Degraded   bool     `json:"degraded"`
	ChunkCount int      `json:"-"`
}

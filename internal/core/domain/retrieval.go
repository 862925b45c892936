package domain

// Chunk is the immutable unit of retrievable policy text. Chunks are produced
// by the offline extraction job with metadata tags already prepended to the
// text and embeddings computed at ingestion time; this service never mutates
// them.
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	ProductID string    `json:"product_id"`
	MinAge    *int      `json:"min_age,omitempty"`
	MaxAge    *int      `json:"max_age,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

// EligibleAt reports whether an applicant of the given age falls inside the
// chunk's issue-age range. A missing bound never excludes.
func (c Chunk) EligibleAt(age int) bool {
	if c.MinAge != nil && age < *c.MinAge {
		return false
	}
	if c.MaxAge != nil && age > *c.MaxAge {
		return false
	}
	return true
}

// RetrievalCandidate pairs a chunk with a stage-dependent relevance score.
// During recall the score is the vector distance (lower is better); after
// reranking it is the cross-encoder score (higher is better). RecallRank is
// the position in the merged recall ordering and breaks rerank ties.
type RetrievalCandidate struct {
	Chunk      Chunk
	Score      float64
	RecallRank int
}

// QueryPlan is the expanded set of retrieval queries for one user turn.
type QueryPlan struct {
	Primary   string
	Auxiliary []string
}

func (p QueryPlan) Queries() []string {
	out := make([]string, 0, 1+len(p.Auxiliary))
	out = append(out, p.Primary)
	out = append(out, p.Auxiliary...)
	return out
}

// RerankQuery is the most context-complete query in the plan: the last
// auxiliary (history-contextualized) variant when present, otherwise the
// primary. Cross-encoders score pronoun-free queries far better.
func (p QueryPlan) RerankQuery() string {
	if n := len(p.Auxiliary); n > 0 {
		return p.Auxiliary[n-1]
	}
	return p.Primary
}

// RerankOutcome is the tagged result of a rerank attempt. Available=false
// means the remote scorer could not be reached for this request and callers
// must fall back to the recall ordering.
type RerankOutcome struct {
	Available bool
	Ranked    []RetrievalCandidate
}

// ProductSummary is the short per-product introduction injected into the
// generation context alongside retrieved chunks.
type ProductSummary struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Intro     string `json:"intro"`
}

// CorpusSnapshot is one complete output of the offline extraction job.
type CorpusSnapshot struct {
	Chunks    []Chunk
	Summaries map[string]ProductSummary
	Synonyms  map[string]string
}

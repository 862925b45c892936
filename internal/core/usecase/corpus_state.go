package usecase

import (
	"sync/atomic"

	"insure-rag/internal/core/domain"
)

// CorpusState holds the lookup tables of the active corpus snapshot behind a
// swappable reference. Views are immutable once published; Reload builds a
// fresh view and swaps it in atomically, so in-flight requests keep reading
// the snapshot they started with.
type CorpusState struct {
	view atomic.Pointer[corpusView]
}

type corpusView struct {
	version   string
	synonyms  map[string]string
	summaries map[string]domain.ProductSummary
}

func NewCorpusState() *CorpusState {
	s := &CorpusState{}
	s.view.Store(&corpusView{
		synonyms:  map[string]string{},
		summaries: map[string]domain.ProductSummary{},
	})
	return s
}

func (s *CorpusState) swap(version string, synonyms map[string]string, summaries map[string]domain.ProductSummary) {
	if synonyms == nil {
		synonyms = map[string]string{}
	}
	if summaries == nil {
		summaries = map[string]domain.ProductSummary{}
	}
	s.view.Store(&corpusView{version: version, synonyms: synonyms, summaries: summaries})
}

func (s *CorpusState) Version() string {
	return s.view.Load().version
}

// Synonyms returns the active colloquial-to-formal table. Callers must treat
// the map as read-only.
func (s *CorpusState) Synonyms() map[string]string {
	return s.view.Load().synonyms
}

func (s *CorpusState) Summary(productID string) (domain.ProductSummary, bool) {
	summary, ok := s.view.Load().summaries[productID]
	return summary, ok
}

package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"insure-rag/internal/core/domain"
	"insure-rag/internal/core/ports"
)

// FollowupPolicy decides when a query is an anaphoric follow-up that needs
// the previous turn to disambiguate. The heuristic is deliberately
// replaceable configuration, not hard-coded logic.
type FollowupPolicy struct {
	MaxRunes       int
	Markers        []string
	RewriteEnabled bool
}

// QueryExpander derives the retrieval queries for one user turn. Expand
// never fails: every degraded path falls back to the raw query.
type QueryExpander struct {
	policy   FollowupPolicy
	corpus   *CorpusState
	rewriter ports.QueryRewriter
	logger   *slog.Logger
}

func NewQueryExpander(policy FollowupPolicy, corpus *CorpusState, rewriter ports.QueryRewriter, logger *slog.Logger) *QueryExpander {
	if policy.MaxRunes <= 0 {
		policy.MaxRunes = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryExpander{policy: policy, corpus: corpus, rewriter: rewriter, logger: logger}
}

func (e *QueryExpander) Expand(ctx context.Context, rawQuery string, history []domain.SessionTurn) domain.QueryPlan {
	raw := strings.TrimSpace(rawQuery)
	normalized := normalizeQuery(raw)

	primary := e.appendSynonyms(raw, normalized)

	plan := domain.QueryPlan{Primary: primary}
	if !e.isFollowup(raw, history) {
		return plan
	}

	contextualized := e.contextualize(ctx, raw, normalized, history)
	if contextualized != "" && contextualized != primary {
		plan.Auxiliary = append(plan.Auxiliary, contextualized)
	}
	return plan
}

func (e *QueryExpander) isFollowup(raw string, history []domain.SessionTurn) bool {
	if len(history) == 0 || raw == "" {
		return false
	}
	if utf8.RuneCountInString(raw) < e.policy.MaxRunes {
		return true
	}
	for _, marker := range e.policy.Markers {
		if marker != "" && strings.Contains(raw, marker) {
			return true
		}
	}
	return false
}

// appendSynonyms adds the formal term for every colloquial term present in
// the query. Matching is case-insensitive; the query keeps its original
// casing. Keys are walked in sorted order so the plan is deterministic.
func (e *QueryExpander) appendSynonyms(raw, normalized string) string {
	synonyms := e.corpus.Synonyms()
	if len(synonyms) == 0 {
		return normalized
	}

	haystack := strings.ToLower(normalized) + " " + strings.ToLower(raw)
	slangs := make([]string, 0, len(synonyms))
	for slang := range synonyms {
		slangs = append(slangs, slang)
	}
	sort.Strings(slangs)

	var b strings.Builder
	b.WriteString(normalized)
	for _, slang := range slangs {
		if slang == "" {
			continue
		}
		formal := synonyms[slang]
		if formal == "" || !strings.Contains(haystack, strings.ToLower(slang)) {
			continue
		}
		if strings.Contains(b.String(), formal) {
			continue
		}
		b.WriteString(" ")
		b.WriteString(formal)
	}
	return b.String()
}

// contextualize resolves an anaphoric follow-up against recent history,
// preferring an LLM rewrite and falling back to concatenating a condensed
// previous turn.
func (e *QueryExpander) contextualize(ctx context.Context, raw, normalized string, history []domain.SessionTurn) string {
	if e.policy.RewriteEnabled && e.rewriter != nil {
		rewritten, err := e.rewriter.RewriteQuery(ctx, raw, history)
		if err == nil {
			rewritten = strings.TrimSpace(strings.ReplaceAll(rewritten, "\n", " "))
			if rewritten != "" {
				// The rewrite occasionally drops the user's actual intent
				// and keeps only the profile from history. When the query is
				// substantial and missing from the rewrite, force it back in:
				// keyword completeness beats fluency for vector search.
				if utf8.RuneCountInString(raw) > 2 && !strings.Contains(rewritten, raw) {
					rewritten = rewritten + " " + raw
				}
				return rewritten
			}
		} else {
			e.logger.Warn("query_rewrite_failed", "error", err)
		}
	}

	prev := history[len(history)-1]
	condensed := condenseTurn(prev)
	if condensed == "" {
		return ""
	}
	return condensed + " " + normalized
}

// condenseTurn reduces a previous turn to a short disambiguation prefix.
func condenseTurn(turn domain.SessionTurn) string {
	q := strings.TrimSpace(turn.Query)
	const maxRunes = 60
	if utf8.RuneCountInString(q) <= maxRunes {
		return q
	}
	runes := []rune(q)
	return string(runes[:maxRunes])
}

// normalizeQuery trims the query and inserts a space at every boundary
// between a digit run and a CJK run, so "30歲" and "100萬" tokenize the same
// way the corpus text does.
func normalizeQuery(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw) + 8)
	var prev rune
	for i, r := range raw {
		if i > 0 && (isDigit(prev) && isHan(r) || isHan(prev) && isDigit(r)) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isHan(r rune) bool { return unicode.Is(unicode.Han, r) }

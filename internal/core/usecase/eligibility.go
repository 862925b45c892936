package usecase

import "insure-rag/internal/core/domain"

// FilterByEligibility removes candidates whose issue-age range excludes the
// applicant. Candidates without an age range are always kept; a nil age
// disables filtering entirely. This runs before reranking so the remote
// scorer never sees ineligible products.
func FilterByEligibility(candidates []domain.RetrievalCandidate, applicantAge *int) []domain.RetrievalCandidate {
	if applicantAge == nil || len(candidates) == 0 {
		return candidates
	}

	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Chunk.EligibleAt(*applicantAge) {
			out = append(out, candidate)
		}
	}
	return out
}

package feedback

import (
	"context"
	"sort"
	"strings"

	"github.com/kbchat/backend/pkg/apperrors"
)

// SimilarQuestion is a previously corrected question lexically close to the
// one being asked. Matches are surfaced as suggestions only; they never
// replace the resolved answer.
type SimilarQuestion struct {
	Question       string  `json:"question"`
	Similarity     float64 `json:"similarity"`
	ImprovedAnswer string  `json:"improved_answer"`
	Confidence     float64 `json:"confidence"`
}

// Jaccard computes token-set similarity over lower-cased,
// whitespace-tokenized words. It is symmetric and insensitive to token
// order and repetition.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range strings.Fields(strings.ToLower(text)) {
		set[token] = struct{}{}
	}
	return set
}

// FindSimilar scans every question with an improved answer and returns the
// ones whose Jaccard similarity to the given question meets the threshold,
// sorted by similarity descending. A deliberately cheap lexical heuristic,
// not semantic matching.
func (s *Store) FindSimilar(ctx context.Context, question string, threshold float64) ([]SimilarQuestion, error) {
	improved, questions, err := s.db.ListImprovedAnswers(ctx)
	if err != nil {
		return nil, apperrors.Storage("list improved answers", err)
	}

	var matches []SimilarQuestion
	for i, candidate := range questions {
		similarity := Jaccard(question, candidate)
		if similarity < threshold {
			continue
		}
		matches = append(matches, SimilarQuestion{
			Question:       candidate,
			Similarity:     similarity,
			ImprovedAnswer: improved[i].Answer,
			Confidence:     improved[i].Confidence,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	return matches, nil
}

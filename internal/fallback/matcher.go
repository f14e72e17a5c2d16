package fallback

import (
	"leon/internal/classifier"
	"leon/internal/domain"
)

// Match runs the deterministic keyword rules used when the main classifier
// emits no intent. A fallback matches when every one of its words appears in
// the utterance token set; ties break by declaration order. Pure: same
// utterance and table always yield the same result.
func Match(utterance string, fallbacks []domain.Fallback) (*domain.NLUResult, bool) {
	tokens := map[string]struct{}{}
	for _, token := range classifier.Tokenize(utterance) {
		tokens[token] = struct{}{}
	}

	for _, fb := range fallbacks {
		if len(fb.Words) == 0 {
			continue
		}
		all := true
		for _, word := range fb.Words {
			if _, ok := tokens[word]; !ok {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		return &domain.NLUResult{
			Utterance:       utterance,
			Entities:        []domain.Entity{},
			CurrentEntities: []domain.Entity{},
			Classification: domain.Classification{
				Domain:     fb.Domain,
				Skill:      fb.Skill,
				Action:     fb.Action,
				Confidence: 1,
			},
		}, true
	}
	return nil, false
}

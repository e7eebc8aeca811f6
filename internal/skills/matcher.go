package skills

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agentcore/engine/pkg/models"
)

const (
	embeddingMatchThreshold   = 0.45
	tokenOverlapThreshold     = 0.15
	alwaysTriggerConfidence   = 0.1
	defaultIntentConfidence   = 0.5
)

// EmbedFunc embeds text for the skill matcher's fallback path, the same
// seam internal/store uses for memory ranking.
type EmbedFunc func(texts []string) ([][]float32, error)

// Match ranks enabled skills against input using a two-phase algorithm:
// trigger-based scoring first, then an embedding or token-overlap
// fallback for skills no trigger matched.
func Match(input string, skills []*models.Skill, vectors map[string][]float32, inputEmbedding []float32) []models.SkillMatch {
	var results []models.SkillMatch
	matched := make(map[string]bool)

	for _, skill := range skills {
		if !skill.Enabled || len(skill.Triggers) == 0 {
			continue
		}
		best, ok := bestTrigger(input, skill.Triggers)
		if !ok {
			continue
		}
		results = append(results, models.SkillMatch{Skill: *skill, Confidence: best.confidence, MatchedTrigger: best.trigger})
		matched[skill.ID] = true
	}

	for _, skill := range skills {
		if !skill.Enabled || matched[skill.ID] {
			continue
		}
		if len(inputEmbedding) > 0 && vectors != nil {
			if vec, ok := vectors[skill.ID]; ok {
				score := cosineSimilarity(inputEmbedding, vec)
				if score > embeddingMatchThreshold {
					results = append(results, models.SkillMatch{Skill: *skill, Confidence: score})
				}
				continue
			}
		}
		score := tokenOverlapScore(input, skill.Name+" "+skill.Description)
		if score > tokenOverlapThreshold {
			results = append(results, models.SkillMatch{Skill: *skill, Confidence: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	return results
}

type triggerScore struct {
	trigger    *models.SkillTrigger
	confidence float64
}

func bestTrigger(input string, triggers []models.SkillTrigger) (triggerScore, bool) {
	lowered := strings.ToLower(input)
	var best triggerScore
	found := false

	for i := range triggers {
		t := &triggers[i]
		var confidence float64
		ok := false

		switch t.Type {
		case models.TriggerAlways:
			confidence = alwaysTriggerConfidence
			ok = true
		case models.TriggerKeyword:
			matched := 0
			for _, p := range t.Patterns {
				if p == "" {
					continue
				}
				if strings.Contains(lowered, strings.ToLower(p)) {
					matched++
				}
			}
			if matched > 0 && len(t.Patterns) > 0 {
				confidence = max64(0.5, float64(matched)/float64(len(t.Patterns))*0.8+0.2)
				ok = true
			}
		case models.TriggerIntent:
			for _, p := range t.Patterns {
				if p == "" {
					continue
				}
				if strings.Contains(lowered, strings.ToLower(p)) {
					ok = true
					break
				}
			}
			if ok {
				if t.Confidence != nil {
					confidence = *t.Confidence
				} else {
					confidence = defaultIntentConfidence
				}
			}
		}

		if ok && (!found || confidence > best.confidence) {
			best = triggerScore{trigger: t, confidence: confidence}
			found = true
		}
	}
	return best, found
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// cosineSimilarity is duplicated from internal/store rather than shared,
// to keep the skill matcher free of a dependency on the memory store.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenOverlapScore counts shared Latin words (>=2 chars) and CJK
// character bigrams between input and corpus text, normalized by the
// smaller of the two token sets.
func tokenOverlapScore(input, corpus string) float64 {
	inputTokens := tokenize(input)
	corpusTokens := tokenize(corpus)
	if len(inputTokens) == 0 || len(corpusTokens) == 0 {
		return 0
	}

	corpusSet := make(map[string]bool, len(corpusTokens))
	for _, t := range corpusTokens {
		corpusSet[t] = true
	}

	shared := 0
	seen := make(map[string]bool)
	for _, t := range inputTokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		if corpusSet[t] {
			shared++
		}
	}

	denom := len(inputTokens)
	if len(corpusTokens) < denom {
		denom = len(corpusTokens)
	}
	if denom == 0 {
		return 0
	}
	return float64(shared) / float64(denom)
}

// tokenize extracts Latin words of at least 2 characters and CJK
// character bigrams.
func tokenize(text string) []string {
	var tokens []string
	var word []rune
	var cjk []rune

	flushWord := func() {
		if len(word) >= 2 {
			tokens = append(tokens, strings.ToLower(string(word)))
		}
		word = word[:0]
	}
	flushCJK := func() {
		for i := 0; i+1 < len(cjk); i++ {
			tokens = append(tokens, string(cjk[i:i+2]))
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

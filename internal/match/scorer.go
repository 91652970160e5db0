package match

import (
	"sort"
)

// Scorer combines per-field scores into one normalized score per candidate
type Scorer struct {
	fields *FieldScorer
	tiers  Tiers
}

// NewScorer creates a scorer with default weights and tiers
func NewScorer() *Scorer {
	return NewScorerWithConfig(DefaultWeights(), DefaultTiers())
}

// NewScorerWithConfig creates a scorer with custom weights and tiers
func NewScorerWithConfig(weights *Weights, tiers Tiers) *Scorer {
	return &Scorer{
		fields: NewFieldScorer(weights),
		tiers:  tiers,
	}
}

// ScoreCandidate computes Σ score·weight / Σ weight over the fields both
// records carry. No comparable field yields 0.
func (s *Scorer) ScoreCandidate(src SourceRecord, ref ReferenceRecord) MatchResult {
	contributions := s.fields.ScoreAll(src.PropertyFields, ref.PropertyFields)

	var weighted, totalWeight float64
	criteria := make([]MatchCriterion, 0, len(contributions))
	for _, c := range contributions {
		weighted += c.Score * c.Weight
		totalWeight += c.Weight
		if c.Visible {
			criteria = append(criteria, c.Criterion())
		}
	}

	score := 0.0
	if totalWeight > 0 {
		score = clamp01(weighted / totalWeight)
	}

	return MatchResult{
		ReferenceID:   ref.ID,
		Score:         score,
		Tier:          s.tiers.Classify(score),
		Criteria:      criteria,
		Reference:     ref,
		contributions: contributions,
	}
}

// ScoreCandidates scores candidates in retrieval order, drops anything below
// the low-confidence floor and sorts hi→lo. Ties keep retrieval order.
func (s *Scorer) ScoreCandidates(src SourceRecord, candidates []ReferenceRecord) []MatchResult {
	results := make([]MatchResult, 0, len(candidates))
	for _, ref := range candidates {
		r := s.ScoreCandidate(src, ref)
		if r.Score < s.tiers.Low {
			continue
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// Contribution is one field's share of the final score
type Contribution struct {
	Field   FieldName `json:"field"`
	Score   float64   `json:"score"`
	Weight  float64   `json:"weight"`
	Share   float64   `json:"share"` // score·weight / Σ weight
	Visible bool      `json:"visible"`
	Reason  string    `json:"reason"`
}

// Explanation breaks a result down per field for review screens
type Explanation struct {
	ReferenceID   string         `json:"reference_id"`
	Score         float64        `json:"score"`
	Tier          Tier           `json:"tier"`
	AutoApplyable bool           `json:"auto_apply_eligible"`
	TotalWeight   float64        `json:"total_weight"`
	Contributions []Contribution `json:"contributions"`
}

// GetExplanation returns the per-field arithmetic behind a result
func (s *Scorer) GetExplanation(result MatchResult) Explanation {
	var totalWeight float64
	for _, c := range result.contributions {
		totalWeight += c.Weight
	}

	exp := Explanation{
		ReferenceID:   result.ReferenceID,
		Score:         result.Score,
		Tier:          s.tiers.Classify(result.Score),
		AutoApplyable: s.tiers.AutoApplyEligible(result.Score),
		TotalWeight:   totalWeight,
		Contributions: make([]Contribution, 0, len(result.contributions)),
	}
	for _, c := range result.contributions {
		share := 0.0
		if totalWeight > 0 {
			share = c.Score * c.Weight / totalWeight
		}
		exp.Contributions = append(exp.Contributions, Contribution{
			Field:   c.Field,
			Score:   c.Score,
			Weight:  c.Weight,
			Share:   share,
			Visible: c.Visible,
			Reason:  c.Detail,
		})
	}
	return exp
}

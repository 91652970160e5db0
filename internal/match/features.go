package match

import (
	"fmt"
	"strings"
)

// ComparedFields lists the fields the scorer compares, in criterion order.
// Floor count carries a weight in the configuration but has no comparator.
var ComparedFields = []FieldName{
	FieldRegistrationCode,
	FieldOwnerDocument,
	FieldLocation,
	FieldAddress,
	FieldOwnerName,
	FieldLotArea,
	FieldBuiltArea,
	FieldUseCode,
}

// fieldScore is one comparable field's contribution to the aggregate
type fieldScore struct {
	Field   FieldName
	Kind    CriterionKind
	Score   float64
	Weight  float64
	Visible bool
	Detail  string
}

// FieldScorer applies the similarity primitives per field
type FieldScorer struct {
	weights    *Weights
	similarity SimilarityFunc
}

// NewFieldScorer creates a field scorer; nil weights means DefaultWeights
func NewFieldScorer(weights *Weights) *FieldScorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &FieldScorer{
		weights:    weights,
		similarity: SimilarityFor(weights.StringSimilarity),
	}
}

// ScoreField compares one field. ok is false when either record lacks the
// value, in which case the field contributes to neither side of the average.
func (fs *FieldScorer) ScoreField(field FieldName, src, ref PropertyFields) (fieldScore, bool) {
	rule, configured := fs.weights.Rule(field)
	if !configured {
		return fieldScore{}, false
	}

	var (
		kind   CriterionKind
		score  float64
		detail string
	)

	switch field {
	case FieldRegistrationCode:
		if !present(src.RegistrationCode) || !present(ref.RegistrationCode) {
			return fieldScore{}, false
		}
		kind = KindExact
		score = exactScore(strings.TrimSpace(src.RegistrationCode) == strings.TrimSpace(ref.RegistrationCode))
		detail = "Registration code matches"

	case FieldOwnerDocument:
		if DigitsOnly(src.OwnerDocument) == "" || DigitsOnly(ref.OwnerDocument) == "" {
			return fieldScore{}, false
		}
		kind = KindExact
		score = exactScore(DocumentsEqual(src.OwnerDocument, ref.OwnerDocument))
		detail = "Owner tax document matches"

	case FieldLocation:
		if !src.HasLocation() || !ref.HasLocation() {
			return fieldScore{}, false
		}
		kind = KindProximity
		dist := DistanceKm(src.Location(), ref.Location())
		score = ProximityScore(dist, fs.weights.ProximityRadiusKm)
		detail = fmt.Sprintf("Located %.0f m away", dist*1000)

	case FieldAddress:
		if !present(src.StreetName) || !present(ref.StreetName) {
			return fieldScore{}, false
		}
		kind = KindSimilarity
		street := fs.similarity(src.StreetName, ref.StreetName)
		number := 0.0
		if present(src.StreetNumber) && NormalizeText(src.StreetNumber) == NormalizeText(ref.StreetNumber) {
			number = 1
		}
		share := fs.weights.AddressStreetShare
		score = clamp01(share*street + (1-share)*number)
		detail = fmt.Sprintf("Address %.0f%% similar", score*100)

	case FieldOwnerName:
		if !present(src.OwnerName) || !present(ref.OwnerName) {
			return fieldScore{}, false
		}
		kind = KindSimilarity
		score = fs.similarity(src.OwnerName, ref.OwnerName)
		detail = fmt.Sprintf("Owner name %.0f%% similar", score*100)

	case FieldLotArea, FieldBuiltArea:
		a, b := src.LotArea, ref.LotArea
		label := "Lot area"
		if field == FieldBuiltArea {
			a, b = src.BuiltArea, ref.BuiltArea
			label = "Built area"
		}
		if a == nil || b == nil {
			return fieldScore{}, false
		}
		s, ok := NumericProximity(*a, *b)
		if !ok {
			return fieldScore{}, false
		}
		kind = KindSimilarity
		score = s
		detail = fmt.Sprintf("%s %.0f%% similar (%.0f m² vs %.0f m²)", label, s*100, *a, *b)

	case FieldUseCode:
		if !present(src.UseCode) || !present(ref.UseCode) {
			return fieldScore{}, false
		}
		kind = KindExact
		score = exactScore(strings.EqualFold(strings.TrimSpace(src.UseCode), strings.TrimSpace(ref.UseCode)))
		detail = "Predominant use matches"

	default:
		return fieldScore{}, false
	}

	return fieldScore{
		Field:   field,
		Kind:    kind,
		Score:   score,
		Weight:  rule.Weight,
		Visible: score > rule.Visibility,
		Detail:  detail,
	}, true
}

// ScoreAll compares every field and returns the applicable contributions
func (fs *FieldScorer) ScoreAll(src, ref PropertyFields) []fieldScore {
	scores := make([]fieldScore, 0, len(ComparedFields))
	for _, field := range ComparedFields {
		if s, ok := fs.ScoreField(field, src, ref); ok {
			scores = append(scores, s)
		}
	}
	return scores
}

// Criterion converts a visible field score into a display reason
func (s fieldScore) Criterion() MatchCriterion {
	return MatchCriterion{
		Kind:        s.Kind,
		Field:       s.Field,
		Score:       s.Score,
		Weight:      s.Weight,
		Description: s.Detail,
	}
}

func exactScore(equal bool) float64 {
	if equal {
		return 1
	}
	return 0
}

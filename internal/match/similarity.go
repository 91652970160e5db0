package match

import (
	"math"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

const earthRadiusKm = 6371.0

// SimilarityFunc scores two strings in [0,1]
type SimilarityFunc func(a, b string) float64

// DistanceKm returns the great-circle (haversine) distance between two points
func DistanceKm(p1, p2 Point) float64 {
	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	dLat := (p2.Lat - p1.Lat) * math.Pi / 180
	dLon := (p2.Lon - p1.Lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// ProximityScore decays linearly from 1 at distance 0 to 0 at radiusKm
func ProximityScore(distanceKm, radiusKm float64) float64 {
	if radiusKm <= 0 || math.IsNaN(distanceKm) {
		return 0
	}
	return clamp01(1 - distanceKm/radiusKm)
}

// NumericProximity returns 1 - |a-b|/max(a,b). ok is false unless both
// values are finite and positive; a malformed measure is not comparable.
func NumericProximity(a, b float64) (score float64, ok bool) {
	if !positiveFinite(a) || !positiveFinite(b) {
		return 0, false
	}
	m := math.Max(a, b)
	if a == b {
		return 1, true
	}
	return clamp01(1 - math.Abs(a-b)/m), true
}

// NormalizeText lowercases, trims and collapses internal whitespace
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// StringSimilarity is the cheap character-overlap heuristic: the share of
// runes of the shorter string that occur anywhere in the longer one, over the
// longer length. Order-insensitive, so anagrams score 1.
func StringSimilarity(s1, s2 string) float64 {
	a, b := NormalizeText(s1), NormalizeText(s2)
	if a == b {
		return 1
	}

	shorter, longer := []rune(a), []rune(b)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(longer) == 0 {
		return 0
	}

	haystack := string(longer)
	found := 0
	for _, r := range shorter {
		if strings.ContainsRune(haystack, r) {
			found++
		}
	}
	return clamp01(float64(found) / float64(len(longer)))
}

// TokenJaccard compares the normalized word sets of two strings
func TokenJaccard(s1, s2 string) float64 {
	a, b := NormalizeText(s1), NormalizeText(s2)
	if a == b {
		return 1
	}

	setA := make(map[string]bool)
	for _, tok := range strings.Fields(a) {
		setA[tok] = true
	}
	setB := make(map[string]bool)
	for _, tok := range strings.Fields(b) {
		setB[tok] = true
	}

	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// EditSimilarity is 1 - levenshtein distance / longer length
func EditSimilarity(s1, s2 string) float64 {
	a, b := NormalizeText(s1), NormalizeText(s2)
	if a == b {
		return 1
	}
	den := max(len([]rune(a)), len([]rune(b)))
	if den == 0 {
		return 0
	}
	return clamp01(1 - float64(levenshtein.ComputeDistance(a, b))/float64(den))
}

// SimilarityFor resolves a strategy; unknown values fall back to char overlap
func SimilarityFor(strategy SimilarityStrategy) SimilarityFunc {
	switch strategy {
	case SimilarityTokenJaccard:
		return TokenJaccard
	case SimilarityLevenshtein:
		return EditSimilarity
	default:
		return StringSimilarity
	}
}

// DigitsOnly strips every non-digit rune
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DocumentsEqual compares tax documents ignoring punctuation
func DocumentsEqual(d1, d2 string) bool {
	a, b := DigitsOnly(d1), DigitsOnly(d2)
	return a != "" && a == b
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

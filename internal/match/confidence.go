package match

// Tier is a discrete confidence label
type Tier string

const (
	TierVeryHigh Tier = "Very High"
	TierHigh     Tier = "High"
	TierMedium   Tier = "Medium"
	TierLow      Tier = "Low"
	TierVeryLow  Tier = "Very Low"
)

// Classify maps a score to a tier using inclusive lower bounds
func (t Tiers) Classify(score float64) Tier {
	switch {
	case score >= t.VeryHigh:
		return TierVeryHigh
	case score >= t.High:
		return TierHigh
	case score >= t.Medium:
		return TierMedium
	case score >= t.Low:
		return TierLow
	default:
		return TierVeryLow
	}
}

// AutoApplyEligible reports whether the score clears the auto-apply bar.
// Eligibility alone never commits anything; the caller must opt in.
func (t Tiers) AutoApplyEligible(score float64) bool {
	return score >= t.VeryHigh
}

// Classify maps a score to a tier using the default thresholds
func Classify(score float64) Tier {
	return DefaultTiers().Classify(score)
}

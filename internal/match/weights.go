package match

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SimilarityStrategy selects the string similarity used by the field scorer
type SimilarityStrategy string

const (
	SimilarityCharOverlap  SimilarityStrategy = "char_overlap"
	SimilarityTokenJaccard SimilarityStrategy = "token_jaccard"
	SimilarityLevenshtein  SimilarityStrategy = "levenshtein"
)

// FieldRule is the static prior for one field
type FieldRule struct {
	Weight     float64 `yaml:"weight" json:"weight" validate:"gt=0"`
	Visibility float64 `yaml:"visibility" json:"visibility" validate:"gte=0,lt=1"` // criterion shown when score > visibility
}

// Weights is the versioned scoring configuration
type Weights struct {
	Version            string                  `yaml:"version" json:"version" validate:"required"`
	StringSimilarity   SimilarityStrategy      `yaml:"string_similarity" json:"string_similarity" validate:"oneof=char_overlap token_jaccard levenshtein"`
	ProximityRadiusKm  float64                 `yaml:"proximity_radius_km" json:"proximity_radius_km" validate:"gt=0"`
	AddressStreetShare float64                 `yaml:"address_street_share" json:"address_street_share" validate:"gte=0,lte=1"`
	Fields             map[FieldName]FieldRule `yaml:"fields" json:"fields" validate:"required,dive"`
}

// DefaultWeights returns the 2024-01 weight set
func DefaultWeights() *Weights {
	return &Weights{
		Version:            "2024-01",
		StringSimilarity:   SimilarityCharOverlap,
		ProximityRadiusKm:  0.1,
		AddressStreetShare: 0.7,
		Fields: map[FieldName]FieldRule{
			FieldRegistrationCode: {Weight: 1.0, Visibility: 0},
			FieldOwnerDocument:    {Weight: 0.9, Visibility: 0},
			FieldLocation:         {Weight: 0.8, Visibility: 0.3},
			FieldAddress:          {Weight: 0.7, Visibility: 0.5},
			FieldOwnerName:        {Weight: 0.6, Visibility: 0.6},
			FieldLotArea:          {Weight: 0.5, Visibility: 0.7},
			FieldBuiltArea:        {Weight: 0.5, Visibility: 0.7},
			FieldUseCode:          {Weight: 0.4, Visibility: 0},
			FieldFloorCount:       {Weight: 0.3, Visibility: 0},
		},
	}
}

// Rule returns the rule for a field and whether it is configured
func (w *Weights) Rule(field FieldName) (FieldRule, bool) {
	r, ok := w.Fields[field]
	return r, ok
}

// Validate checks the configuration
func (w *Weights) Validate() error {
	if err := validator.New().Struct(w); err != nil {
		return fmt.Errorf("invalid weights %q: %w", w.Version, err)
	}
	return nil
}

// LoadWeights reads a YAML weight file on top of the defaults
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	return ParseWeights(data)
}

// ParseWeights decodes YAML weights; fields not mentioned keep their default
func ParseWeights(data []byte) (*Weights, error) {
	w := DefaultWeights()
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("failed to parse weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Tiers defines the inclusive lower bounds of each confidence tier
type Tiers struct {
	VeryHigh float64 // >= 0.95, auto-apply eligible
	High     float64 // >= 0.85
	Medium   float64 // >= 0.65
	Low      float64 // >= 0.40, results below are never surfaced
}

// DefaultTiers returns the standard confidence tiers
func DefaultTiers() Tiers {
	return Tiers{
		VeryHigh: 0.95,
		High:     0.85,
		Medium:   0.65,
		Low:      0.40,
	}
}

package match

import (
	"math"
	"strings"
	"time"
)

// FieldName identifies a comparable property field
type FieldName string

const (
	FieldRegistrationCode FieldName = "registration_code"
	FieldOwnerDocument    FieldName = "owner_document"
	FieldLocation         FieldName = "location"
	FieldAddress          FieldName = "address"
	FieldOwnerName        FieldName = "owner_name"
	FieldLotArea          FieldName = "lot_area"
	FieldBuiltArea        FieldName = "built_area"
	FieldUseCode          FieldName = "use_code"
	FieldFloorCount       FieldName = "floor_count"

	// copied on apply but never compared
	FieldStreetName   FieldName = "street_name"
	FieldStreetNumber FieldName = "street_number"
	FieldComplement   FieldName = "complement"
	FieldNeighborhood FieldName = "neighborhood"
)

// PropertyFields holds the semantic fields shared by collected and reference records.
// Empty strings and nil pointers mean the value is unknown.
type PropertyFields struct {
	RegistrationCode string   `json:"registration_code,omitempty" db:"registration_code"`
	StreetNumber     string   `json:"street_number,omitempty" db:"street_number"`
	Complement       string   `json:"complement,omitempty" db:"complement"`
	StreetName       string   `json:"street_name,omitempty" db:"street_name"`
	Neighborhood     string   `json:"neighborhood,omitempty" db:"neighborhood"`
	UseCode          string   `json:"use_code,omitempty" db:"use_code"`
	LotArea          *float64 `json:"lot_area,omitempty" db:"lot_area"`     // m²
	BuiltArea        *float64 `json:"built_area,omitempty" db:"built_area"` // m²
	FloorCount       *int     `json:"floor_count,omitempty" db:"floor_count"`
	OwnerName        string   `json:"owner_name,omitempty" db:"owner_name"`
	OwnerDocument    string   `json:"owner_document,omitempty" db:"owner_document"`
	Latitude         *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude        *float64 `json:"longitude,omitempty" db:"longitude"`
}

// HasLocation reports whether both coordinates are known and form a valid
// WGS84 position
func (f PropertyFields) HasLocation() bool {
	if f.Latitude == nil || f.Longitude == nil {
		return false
	}
	lat, lon := *f.Latitude, *f.Longitude
	return !math.IsNaN(lat) && !math.IsNaN(lon) &&
		lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Location returns the record coordinates; callers check HasLocation first
func (f PropertyFields) Location() Point {
	return Point{Lat: *f.Latitude, Lon: *f.Longitude}
}

// Clone returns a deep copy so pointer fields are not shared
func (f PropertyFields) Clone() PropertyFields {
	out := f
	out.LotArea = cloneFloat(f.LotArea)
	out.BuiltArea = cloneFloat(f.BuiltArea)
	out.Latitude = cloneFloat(f.Latitude)
	out.Longitude = cloneFloat(f.Longitude)
	if f.FloorCount != nil {
		v := *f.FloorCount
		out.FloorCount = &v
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

// SourceRecord is a field-collected property record awaiting reconciliation
type SourceRecord struct {
	PropertyFields
}

// ReferenceRecord is an authoritative municipal dataset record
type ReferenceRecord struct {
	ID           string `json:"id" db:"id"`
	Municipality string `json:"municipality" db:"municipality"`
	Active       bool   `json:"active" db:"active"`
	PropertyFields
}

// Point is a WGS84 coordinate
type Point struct {
	Lat float64
	Lon float64
}

// CriterionKind classifies how a field was compared
type CriterionKind string

const (
	KindExact      CriterionKind = "exact"
	KindProximity  CriterionKind = "proximity"
	KindSimilarity CriterionKind = "similarity"
)

// MatchCriterion is a human-readable reason attached to a match
type MatchCriterion struct {
	Kind        CriterionKind `json:"kind"`
	Field       FieldName     `json:"field"`
	Score       float64       `json:"score"`
	Weight      float64       `json:"weight"`
	Description string        `json:"description"`
}

// MatchResult is a scored candidate, sorted hi→lo in engine output
type MatchResult struct {
	ReferenceID string           `json:"reference_id"`
	Score       float64          `json:"score"`
	Tier        Tier             `json:"tier"`
	Criteria    []MatchCriterion `json:"criteria"`
	Reference   ReferenceRecord  `json:"reference"`

	contributions []fieldScore
}

// ProposalStatus is the lifecycle state of a persisted match proposal
type ProposalStatus string

const (
	StatusPending     ProposalStatus = "pending"
	StatusAutoApplied ProposalStatus = "auto_applied"
	StatusConfirmed   ProposalStatus = "confirmed"
	StatusRejected    ProposalStatus = "rejected"
)

// Finalized reports whether no further transition is allowed
func (s ProposalStatus) Finalized() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Proposal is a persisted proposed match between a collection record and a reference record
type Proposal struct {
	ID             string           `json:"id" db:"id"`
	SourceRecordID string           `json:"source_record_id" db:"source_record_id"`
	ReferenceID    string           `json:"reference_id" db:"reference_id"`
	Score          float64          `json:"score" db:"score"`
	Criteria       []MatchCriterion `json:"criteria" db:"-"`
	Status         ProposalStatus   `json:"status" db:"status"`
	AutoApplied    bool             `json:"auto_applied" db:"auto_applied"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy     *string          `json:"resolved_by,omitempty" db:"resolved_by"`
}

// CollectionRecord is the user-visible collected record that apply writes into
type CollectionRecord struct {
	ID                 string         `json:"id"`
	Municipality       string         `json:"municipality,omitempty"`
	Fields             PropertyFields `json:"fields"`
	MatchedFields      []FieldName    `json:"matched_fields"`
	MatchedReferenceID string         `json:"matched_reference_id,omitempty"`
}

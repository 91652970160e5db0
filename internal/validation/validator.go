package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cadastre-match/internal/match"
)

// Issue describes one field that was dropped or rejected
type Issue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Reason)
}

var validate = validator.New()

// Struct validates a request struct by its `validate` tags
func Struct(v any) []Issue {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Field: "request", Reason: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		issues = append(issues, Issue{Field: fe.Namespace(), Reason: reason})
	}
	return issues
}

// Sanitizer drops malformed field values before a record is scored, so bad
// data reads as "unknown" instead of skewing a comparison
type Sanitizer struct{}

// NewSanitizer creates a sanitizer
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize returns a cleaned copy of the fields and what was dropped
func (s *Sanitizer) Sanitize(in match.PropertyFields) (match.PropertyFields, []Issue) {
	f := in.Clone()
	var issues []Issue

	f.RegistrationCode = strings.TrimSpace(f.RegistrationCode)
	f.StreetName = strings.TrimSpace(f.StreetName)
	f.StreetNumber = strings.TrimSpace(f.StreetNumber)
	f.Complement = strings.TrimSpace(f.Complement)
	f.Neighborhood = strings.TrimSpace(f.Neighborhood)
	f.UseCode = strings.TrimSpace(f.UseCode)
	f.OwnerName = strings.TrimSpace(f.OwnerName)
	f.OwnerDocument = strings.TrimSpace(f.OwnerDocument)

	if f.OwnerDocument != "" && match.DigitsOnly(f.OwnerDocument) == "" {
		issues = append(issues, Issue{Field: string(match.FieldOwnerDocument), Reason: "no digits"})
		f.OwnerDocument = ""
	}

	f.LotArea = s.area(f.LotArea, match.FieldLotArea, &issues)
	f.BuiltArea = s.area(f.BuiltArea, match.FieldBuiltArea, &issues)

	if f.FloorCount != nil && validate.Var(*f.FloorCount, "gte=0") != nil {
		issues = append(issues, Issue{Field: string(match.FieldFloorCount), Reason: "negative"})
		f.FloorCount = nil
	}

	switch {
	case f.Latitude == nil && f.Longitude == nil:
	case f.Latitude == nil || f.Longitude == nil:
		issues = append(issues, Issue{Field: string(match.FieldLocation), Reason: "incomplete coordinates"})
		f.Latitude, f.Longitude = nil, nil
	case !finite(*f.Latitude) || validate.Var(*f.Latitude, "latitude") != nil:
		issues = append(issues, Issue{Field: string(match.FieldLocation), Reason: "latitude out of range"})
		f.Latitude, f.Longitude = nil, nil
	case !finite(*f.Longitude) || validate.Var(*f.Longitude, "longitude") != nil:
		issues = append(issues, Issue{Field: string(match.FieldLocation), Reason: "longitude out of range"})
		f.Latitude, f.Longitude = nil, nil
	}

	return f, issues
}

func (s *Sanitizer) area(v *float64, field match.FieldName, issues *[]Issue) *float64 {
	if v == nil {
		return nil
	}
	if !finite(*v) || validate.Var(*v, "gt=0") != nil {
		*issues = append(*issues, Issue{Field: string(field), Reason: "not a positive area"})
		return nil
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

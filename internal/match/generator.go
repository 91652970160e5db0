package match

import (
	"context"
	"strings"
	"unicode/utf8"
)

// ReferenceReader is the read side of the reference dataset
type ReferenceReader interface {
	// QueryCandidates returns at most limit active records of the municipality
	// matching any clause of the filter, in a stable order.
	QueryCandidates(ctx context.Context, filter CandidateFilter, municipality string, limit int) ([]ReferenceRecord, error)
	// GetReference returns ErrNotFound when the record does not exist.
	GetReference(ctx context.Context, id string) (ReferenceRecord, error)
}

// CandidateFilter is a disjunction of cheap retrieval clauses.
// Empty members are not part of the disjunction.
type CandidateFilter struct {
	RegistrationCode string
	DocumentDigits   string
	StreetName       string // substring, only together with StreetNumber
	StreetNumber     string
	OwnerName        string // substring
	Near             *Point
	RadiusKm         float64
}

// Clauses counts the clauses that will be ORed together
func (f CandidateFilter) Clauses() int {
	n := 0
	if f.RegistrationCode != "" {
		n++
	}
	if f.DocumentDigits != "" {
		n++
	}
	if f.StreetName != "" && f.StreetNumber != "" {
		n++
	}
	if f.OwnerName != "" {
		n++
	}
	if f.Near != nil && f.RadiusKm > 0 {
		n++
	}
	return n
}

// Matches evaluates the disjunction against a record in memory. Scope
// (municipality, active) is the reader's responsibility.
func (f CandidateFilter) Matches(ref ReferenceRecord) bool {
	if f.RegistrationCode != "" && strings.TrimSpace(ref.RegistrationCode) == f.RegistrationCode {
		return true
	}
	if f.DocumentDigits != "" && DigitsOnly(ref.OwnerDocument) == f.DocumentDigits {
		return true
	}
	if f.StreetName != "" && f.StreetNumber != "" &&
		strings.Contains(NormalizeText(ref.StreetName), NormalizeText(f.StreetName)) &&
		NormalizeText(ref.StreetNumber) == NormalizeText(f.StreetNumber) {
		return true
	}
	if f.OwnerName != "" && strings.Contains(NormalizeText(ref.OwnerName), NormalizeText(f.OwnerName)) {
		return true
	}
	if f.Near != nil && f.RadiusKm > 0 && ref.HasLocation() &&
		DistanceKm(*f.Near, ref.Location()) <= f.RadiusKm {
		return true
	}
	return false
}

// RetrieverConfig bounds candidate retrieval
type RetrieverConfig struct {
	Limit         int     // hard cap on candidates (10)
	RadiusKm      float64 // geographic clause radius (0.1)
	MinNameLength int     // owner name clause needs more runes than this (3)
}

// DefaultRetrieverConfig returns the standard retrieval bounds
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Limit:         10,
		RadiusKm:      0.1,
		MinNameLength: 3,
	}
}

// Retriever fetches a bounded set of plausible candidates
type Retriever struct {
	reader ReferenceReader
	config RetrieverConfig
}

// NewRetriever creates a candidate retriever
func NewRetriever(reader ReferenceReader, config RetrieverConfig) *Retriever {
	return &Retriever{reader: reader, config: config}
}

// BuildFilter turns a source record into a candidate filter. It returns a
// ValidationError when no clause can be built.
func (r *Retriever) BuildFilter(src SourceRecord) (CandidateFilter, error) {
	f := CandidateFilter{}

	if present(src.RegistrationCode) {
		f.RegistrationCode = strings.TrimSpace(src.RegistrationCode)
	}
	f.DocumentDigits = DigitsOnly(src.OwnerDocument)
	if present(src.StreetName) && present(src.StreetNumber) {
		f.StreetName = NormalizeText(src.StreetName)
		f.StreetNumber = NormalizeText(src.StreetNumber)
	}
	if name := NormalizeText(src.OwnerName); utf8.RuneCountInString(name) > r.config.MinNameLength {
		f.OwnerName = name
	}
	if src.HasLocation() {
		p := src.Location()
		f.Near = &p
		f.RadiusKm = r.config.RadiusKm
	}

	if f.Clauses() == 0 {
		return f, &ValidationError{Reason: "record has no identifier, document, address with number, owner name or location"}
	}
	return f, nil
}

// Retrieve returns candidates for the source record within the municipality.
// The reader is not called when no filter clause can be built.
func (r *Retriever) Retrieve(ctx context.Context, src SourceRecord, municipality string) ([]ReferenceRecord, error) {
	filter, err := r.BuildFilter(src)
	if err != nil {
		return nil, err
	}

	candidates, err := r.reader.QueryCandidates(ctx, filter, municipality, r.config.Limit)
	if err != nil {
		return nil, persistence("query candidates", err)
	}
	if len(candidates) > r.config.Limit {
		candidates = candidates[:r.config.Limit]
	}
	return candidates, nil
}

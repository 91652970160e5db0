//go:build !libpostal

package normalize

// NewParser returns the rule-based parser. Build with -tags libpostal to
// parse with libpostal instead.
func NewParser() Parser {
	return RuleParser{}
}

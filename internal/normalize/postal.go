//go:build libpostal

package normalize

import (
	"strings"

	postal "github.com/openvenues/gopostal/parser"
)

// PostalParser parses addresses with libpostal and falls back to the rule
// parser when libpostal finds no road
type PostalParser struct {
	fallback RuleParser
}

// NewParser returns the libpostal-backed parser
func NewParser() Parser {
	return PostalParser{}
}

// Parse maps libpostal labels onto address components
func (p PostalParser) Parse(raw string) Components {
	if strings.TrimSpace(raw) == "" {
		return Components{}
	}

	var c Components
	for _, comp := range postal.ParseAddress(raw) {
		value := strings.ToUpper(strings.TrimSpace(comp.Value))
		switch comp.Label {
		case "road":
			c.StreetName = CanonicalStreet(value)
		case "house_number":
			c.StreetNumber = value
		case "unit", "level", "entrance", "staircase":
			c.Complement = strings.TrimSpace(c.Complement + " " + value)
		case "suburb", "city_district":
			if c.Neighborhood == "" {
				c.Neighborhood = value
			}
		case "city":
			c.City = value
		case "postcode":
			if m := rePostcode.FindStringSubmatch(value); m != nil {
				c.Postcode = m[1] + "-" + m[2]
			}
		}
	}

	if c.StreetName == "" {
		return p.fallback.Parse(raw)
	}
	return c
}

package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// Components are the parts of a free-text property address
type Components struct {
	StreetName   string `json:"street_name,omitempty"`
	StreetNumber string `json:"street_number,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	Postcode     string `json:"postcode,omitempty"`
}

// Parser splits a free-text address into components
type Parser interface {
	Parse(raw string) Components
}

// streetAbbreviations expands common street type and title abbreviations
var streetAbbreviations = map[string]string{
	"R":    "RUA",
	"AV":   "AVENIDA",
	"AVE":  "AVENIDA",
	"TV":   "TRAVESSA",
	"TRAV": "TRAVESSA",
	"AL":   "ALAMEDA",
	"PCA":  "PRACA",
	"PC":   "PRACA",
	"ROD":  "RODOVIA",
	"EST":  "ESTRADA",
	"ESTR": "ESTRADA",
	"LGO":  "LARGO",
	"VL":   "VILA",
	"DR":   "DOUTOR",
	"PROF": "PROFESSOR",
	"CEL":  "CORONEL",
	"GAL":  "GENERAL",
	"GEN":  "GENERAL",
	"MAL":  "MARECHAL",
	"STA":  "SANTA",
	"STO":  "SANTO",
	"SEN":  "SENADOR",
	"DEP":  "DEPUTADO",
	"PRES": "PRESIDENTE",
}

// CEP postcode, with or without the dash
var rePostcode = regexp.MustCompile(`\b(\d{5})-?(\d{3})\b`)

// A standalone number part: "120", "Nº 120", "N. 12A"
var reNumber = regexp.MustCompile(`^(?:N[º°O]?\.?\s*)?(\d+[A-Z]?)$`)

// Number at the end of the street part: "RUA DAS FLORES 120"
var reTrailingNumber = regexp.MustCompile(`^(.+?)\s+(?:N[º°O]?\s*)?(\d+[A-Z]?)$`)

// "sem número"
var reNoNumber = regexp.MustCompile(`^S\s*/?\s*N[º°O]?$`)

var reComplement = regexp.MustCompile(`^(APTO|APT|AP|APARTAMENTO|SALA|SL|BLOCO|BL|CASA|LOJA|LJ|FUNDOS|LOTE|LT|QUADRA|QD|CONJUNTO|CONJ|ANDAR)\b`)

// "SAO PAULO/SP" or "SAO PAULO - SP"
var reCityState = regexp.MustCompile(`^(.+?)\s*/\s*[A-Z]{2}$`)

// RuleParser is the regex-based parser used when libpostal is not compiled in
type RuleParser struct{}

// Parse splits comma or dash separated addresses:
// street [number], [number], [complement], [neighborhood], [city/UF], [CEP]
func (RuleParser) Parse(raw string) Components {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Components{}
	}

	var c Components
	if m := rePostcode.FindStringSubmatch(s); m != nil {
		c.Postcode = m[1] + "-" + m[2]
		s = rePostcode.ReplaceAllString(s, " ")
	}

	s = strings.ReplaceAll(s, " - ", ",")
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return c
	}

	street := cleanPunctuation(parts[0])
	if m := reTrailingNumber.FindStringSubmatch(street); m != nil && len(strings.Fields(m[1])) >= 2 {
		street, c.StreetNumber = m[1], m[2]
	}
	c.StreetName = CanonicalStreet(street)

	numberSeen := c.StreetNumber != ""
	for _, part := range parts[1:] {
		switch {
		case !numberSeen && reNoNumber.MatchString(part):
			numberSeen = true
		case !numberSeen && reNumber.MatchString(part):
			c.StreetNumber = reNumber.FindStringSubmatch(part)[1]
			numberSeen = true
		case reComplement.MatchString(part):
			c.Complement = strings.TrimSpace(c.Complement + " " + cleanPunctuation(part))
		case c.Neighborhood == "":
			c.Neighborhood = cleanPunctuation(part)
		case c.City == "":
			if m := reCityState.FindStringSubmatch(part); m != nil {
				part = m[1]
			}
			c.City = cleanPunctuation(part)
		}
	}
	return c
}

// CanonicalStreet uppercases, strips punctuation and expands abbreviations
func CanonicalStreet(raw string) string {
	tokens := strings.Fields(cleanPunctuation(strings.ToUpper(raw)))
	for i, tok := range tokens {
		if full, ok := streetAbbreviations[tok]; ok {
			tokens[i] = full
		}
	}
	return strings.Join(tokens, " ")
}

// cleanPunctuation replaces anything but letters, digits and spaces with a space
func cleanPunctuation(s string) string {
	b := strings.Builder{}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// IsBlank reports whether an address has no street after parsing
func IsBlank(p Parser, raw string) bool {
	return p.Parse(raw).StreetName == ""
}

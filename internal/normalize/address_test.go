package normalize

import (
	"testing"
)

func TestRuleParserParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Components
	}{
		{
			name:  "street with number and neighborhood",
			input: "Rua das Flores, 120 - Centro",
			want:  Components{StreetName: "RUA DAS FLORES", StreetNumber: "120", Neighborhood: "CENTRO"},
		},
		{
			name:  "abbreviated street with embedded number",
			input: "Av. Paulista 1578, Apto 52, Bela Vista, São Paulo/SP, 01310-200",
			want: Components{
				StreetName:   "AVENIDA PAULISTA",
				StreetNumber: "1578",
				Complement:   "APTO 52",
				Neighborhood: "BELA VISTA",
				City:         "SÃO PAULO",
				Postcode:     "01310-200",
			},
		},
		{
			name:  "number with ordinal marker",
			input: "R. Dr. Arnaldo, Nº 455, Cerqueira César",
			want:  Components{StreetName: "RUA DOUTOR ARNALDO", StreetNumber: "455", Neighborhood: "CERQUEIRA CÉSAR"},
		},
		{
			name:  "sem numero",
			input: "Estrada Velha, S/N, Zona Rural",
			want:  Components{StreetName: "ESTRADA VELHA", Neighborhood: "ZONA RURAL"},
		},
		{
			name:  "postcode without dash",
			input: "Travessa Um 10 04567890",
			want:  Components{StreetName: "TRAVESSA UM", StreetNumber: "10", Postcode: "04567-890"},
		},
		{
			name:  "single word street keeps its number",
			input: "Rua 7",
			want:  Components{StreetName: "RUA 7"},
		},
		{
			name:  "blank",
			input: "   ",
			want:  Components{},
		},
	}

	parser := RuleParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.Parse(tt.input)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicalStreet(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"R. das Flores", "RUA DAS FLORES"},
		{"av  brasil", "AVENIDA BRASIL"},
		{"Pça. da Sé", "PÇA DA SÉ"},
		{"Rod. Pres. Dutra", "RODOVIA PRESIDENTE DUTRA"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := CanonicalStreet(tt.input); got != tt.want {
				t.Errorf("CanonicalStreet(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsBlank(t *testing.T) {
	if !IsBlank(RuleParser{}, " , , ") {
		t.Errorf("expected blank address")
	}
	if IsBlank(NewParser(), "Rua A, 1") {
		t.Errorf("expected non-blank address")
	}
}

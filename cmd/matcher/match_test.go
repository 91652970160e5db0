package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadastre-match/internal/match"
)

func TestReadSource(t *testing.T) {
	src, err := readSource(strings.NewReader(`{"registration_code":"123","owner_name":"Ana Souza"}`))
	require.NoError(t, err)
	assert.Equal(t, "123", src.RegistrationCode)
	assert.Equal(t, "Ana Souza", src.OwnerName)

	_, err = readSource(strings.NewReader(`{"parcel":"x"}`))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestPrintOutput(t *testing.T) {
	out := []matchOutput{{MatchResult: match.MatchResult{ReferenceID: "ref-1", Score: 0.9, Tier: match.TierVeryHigh}}}

	tests := []struct {
		format string
		want   string
	}{
		{format: "json", want: `"reference_id": "ref-1"`},
		{format: "yaml", want: "referenceid: ref-1"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, printOutput(&buf, tt.format, out))
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	assert.Error(t, printOutput(&bytes.Buffer{}, "xml", out))
}

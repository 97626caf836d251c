package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhoneExtractorPatterns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{name: "international with spaces", text: "+1 415-555-1234", want: "415-555-1234", found: true},
		{name: "international compact", text: "call from +14155551234 today", want: "415-555-1234", found: true},
		{name: "parenthesized area", text: "New voicemail from (212) 555-0100", want: "212-555-0100", found: true},
		{name: "plain separated", text: "from 646 555 0199.", want: "646-555-0199", found: true},
		{name: "contiguous ten", text: "4155551234", want: "415-555-1234", found: true},
		{name: "too short", text: "12345", found: false},
		{name: "empty", text: "", found: false},
		{name: "no digits", text: "Missed call from a private number", found: false},
	}

	p := NewPhoneExtractor()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := p.Extract(tt.text)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhoneExtractorFirstPatternWins(t *testing.T) {
	t.Parallel()
	// The international pattern must win even though a bare ten digit run
	// appears earlier in the text.
	got, ok := NewPhoneExtractor().Extract("ref 9998887777 from +1 415 555 1234")
	assert.True(t, ok)
	assert.Equal(t, "415-555-1234", got)
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "415-555-1234", NormalizePhone("1-415-555-1234"))
	assert.Equal(t, "415-555-1234", NormalizePhone("(415) 555-1234"))
	// 11 digits without the country code and 12 digits are left untouched.
	assert.Equal(t, "24155551234", NormalizePhone("24155551234"))
	assert.Equal(t, "123-456-789012", NormalizePhone("123-456-789012"))
}
